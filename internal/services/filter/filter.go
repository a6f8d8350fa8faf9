package filter

import (
	"sort"
	"strings"

	"cavas/internal/models"
)

// Allowlist is the set of labels that may raise events.
type Allowlist map[string]struct{}

// NewAllowlist builds an allowlist from labels, ignoring blanks.
func NewAllowlist(labels ...string) Allowlist {
	a := make(Allowlist, len(labels))
	for _, label := range labels {
		if label = strings.TrimSpace(label); label != "" {
			a[label] = struct{}{}
		}
	}
	return a
}

// Contains reports whether label is allowed.
func (a Allowlist) Contains(label string) bool {
	_, ok := a[label]
	return ok
}

// Labels returns the allowed labels in sorted order.
func (a Allowlist) Labels() []string {
	labels := make([]string, 0, len(a))
	for label := range a {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Apply returns the detections with confidence >= threshold and an allowed
// label, in the order the detector emitted them.
func Apply(raw []models.Detection, threshold float64, allowed Allowlist) []models.Detection {
	var kept []models.Detection
	for _, det := range raw {
		if det.Confidence < threshold {
			continue
		}
		if !allowed.Contains(det.Label) {
			continue
		}
		kept = append(kept, det)
	}
	return kept
}
