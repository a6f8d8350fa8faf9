package models

import (
	"strconv"
	"time"
)

// ConfirmationSource tells where a confirmation outcome came from.
type ConfirmationSource string

const (
	SourceSensor    ConfirmationSource = "sensor"
	SourceSimulated ConfirmationSource = "simulated"
)

// Confirmation is the corroboration outcome for a single detection.
type Confirmation struct {
	Confirmed bool               `json:"confirmed"`
	Source    ConfirmationSource `json:"source"`
}

// EventRecord is one evaluated detection together with its confirmation outcome.
type EventRecord struct {
	Timestamp  time.Time          `json:"timestamp"`
	Label      string             `json:"detected_object"`
	Confidence float64            `json:"confidence"`
	Confirmed  bool               `json:"sensor_confirmed"`
	Source     ConfirmationSource `json:"confirmation_source"`
	Box        Box                `json:"box"`
}

// NewEventRecord builds the record for a detection evaluated at the given time.
func NewEventRecord(at time.Time, det Detection, c Confirmation) EventRecord {
	return EventRecord{
		Timestamp:  at,
		Label:      det.Label,
		Confidence: det.Confidence,
		Confirmed:  c.Confirmed,
		Source:     c.Source,
		Box:        det.Box,
	}
}

// EpochSeconds renders the timestamp as float seconds since the Unix epoch.
func (r EventRecord) EpochSeconds() string {
	return strconv.FormatFloat(float64(r.Timestamp.UnixMicro())/1e6, 'f', 6, 64)
}

// ConfidenceText renders the confidence with exactly two decimals.
func (r EventRecord) ConfidenceText() string {
	return strconv.FormatFloat(r.Confidence, 'f', 2, 64)
}

// ConfirmedText renders the confirmation flag as a literal boolean token.
func (r EventRecord) ConfirmedText() string {
	if r.Confirmed {
		return "True"
	}
	return "False"
}

// EventStats contains aggregate counts over stored events.
type EventStats struct {
	TotalEvents     int            `json:"total_events"`
	ConfirmedEvents int            `json:"confirmed_events"`
	SimulatedEvents int            `json:"simulated_events"`
	ObjectCounts    map[string]int `json:"object_counts"`
}

// Summarize aggregates records. Records without a source (read back from the
// CSV log) are not counted as simulated.
func Summarize(records []EventRecord) *EventStats {
	stats := &EventStats{ObjectCounts: make(map[string]int)}
	for _, rec := range records {
		stats.TotalEvents++
		if rec.Confirmed {
			stats.ConfirmedEvents++
		}
		if rec.Source == SourceSimulated {
			stats.SimulatedEvents++
		}
		stats.ObjectCounts[rec.Label]++
	}
	return stats
}
