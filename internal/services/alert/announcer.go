package alert

import (
	"sync"
	"time"

	"cavas/internal/logger"
)

// Cue is one way of announcing an alert (sound, light, ...).
// Play may block; it always runs on its own goroutine.
type Cue interface {
	Name() string
	Play() error
}

// Option configures an Announcer.
type Option func(*Announcer)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Announcer) { a.now = now }
}

// WithLogger sets the logger used for cue failures.
func WithLogger(l *logger.Logger) Option {
	return func(a *Announcer) { a.logger = l }
}

// Announcer fires alert cues without blocking the caller, at most once per
// cooldown window. The window is global across all labels.
type Announcer struct {
	cooldown time.Duration
	cues     []Cue
	logger   *logger.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastPlay time.Time // zero until the first alert
}

// NewAnnouncer creates an Announcer. With no cues every trigger is a silent no-op
// that still consumes the cooldown window.
func NewAnnouncer(cooldown time.Duration, cues []Cue, opts ...Option) *Announcer {
	a := &Announcer{
		cooldown: cooldown,
		cues:     cues,
		logger:   logger.Discard(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Trigger starts the cues unless the previous alert started within the
// cooldown interval. It reports whether an alert was started. The cooldown
// timestamp is updated before any cue goroutine is spawned; cue errors and
// panics are logged and discarded, and cue goroutines are never awaited.
func (a *Announcer) Trigger() bool {
	a.mu.Lock()
	now := a.now()
	if !a.lastPlay.IsZero() && now.Sub(a.lastPlay) <= a.cooldown {
		a.mu.Unlock()
		return false
	}
	a.lastPlay = now
	a.mu.Unlock()

	for _, cue := range a.cues {
		go a.play(cue)
	}
	return true
}

// LastPlay returns when the last alert started, zero if none has.
func (a *Announcer) LastPlay() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastPlay
}

// Cues returns the names of the configured cues.
func (a *Announcer) Cues() []string {
	names := make([]string, 0, len(a.cues))
	for _, cue := range a.cues {
		names = append(names, cue.Name())
	}
	return names
}

func (a *Announcer) play(cue Cue) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("Alert cue %s panicked: %v", cue.Name(), r)
		}
	}()
	if err := cue.Play(); err != nil {
		a.logger.Warning("Alert cue %s failed: %v", cue.Name(), err)
	}
}
