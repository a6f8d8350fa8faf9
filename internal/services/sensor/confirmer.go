package sensor

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"

	"cavas/internal/logger"
	"cavas/internal/models"
)

const (
	DefaultPollCommand         = "R\n"
	DefaultPollTimeout         = 100 * time.Millisecond
	DefaultFallbackProbability = 0.7
)

// errPollTimeout means the sensor sent nothing before the poll deadline.
var errPollTimeout = errors.New("sensor poll timed out")

var truthy = map[string]bool{"1": true, "true": true, "t": true, "y": true, "yes": true}

// Random is the source used for simulated confirmations.
type Random interface {
	Float64() float64
}

// Option configures a Confirmer.
type Option func(*Confirmer)

// WithPollCommand sets the bytes written to request a reading.
func WithPollCommand(cmd string) Option {
	return func(c *Confirmer) { c.command = []byte(cmd) }
}

// WithPollTimeout bounds how long one poll may wait for the response line.
func WithPollTimeout(d time.Duration) Option {
	return func(c *Confirmer) { c.timeout = d }
}

// WithFallbackProbability sets the success probability of simulated confirmations.
func WithFallbackProbability(p float64) Option {
	return func(c *Confirmer) { c.probability = p }
}

// WithRandom replaces the random source, mainly for tests.
func WithRandom(r Random) Option {
	return func(c *Confirmer) { c.rng = r }
}

// WithLogger sets the logger used for sensor I/O faults.
func WithLogger(l *logger.Logger) Option {
	return func(c *Confirmer) { c.logger = l }
}

// Confirmer corroborates detections with an external sensor and falls back to
// a Bernoulli draw when the sensor is absent or misbehaves. It keeps no state
// between calls.
type Confirmer struct {
	command     []byte
	timeout     time.Duration
	probability float64
	rng         Random
	logger      *logger.Logger
	now         func() time.Time
}

// NewConfirmer creates a Confirmer with the default protocol settings.
func NewConfirmer(opts ...Option) *Confirmer {
	c := &Confirmer{
		command:     []byte(DefaultPollCommand),
		timeout:     DefaultPollTimeout,
		probability: DefaultFallbackProbability,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:      logger.Discard(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Confirm polls ch for a single reading. ch may be nil. I/O errors and
// timeouts never surface; they produce a simulated confirmation instead.
// The channel must enforce its own read timeout so a single Read returns
// within roughly the poll timeout.
func (c *Confirmer) Confirm(ch io.ReadWriter) models.Confirmation {
	if ch == nil {
		return c.simulate()
	}

	line, err := c.poll(ch)
	if err != nil {
		if !errors.Is(err, errPollTimeout) {
			c.logger.Warning("Sensor poll failed, using simulated confirmation: %v", err)
		}
		return c.simulate()
	}

	return models.Confirmation{
		Confirmed: truthy[strings.ToLower(strings.TrimSpace(line))],
		Source:    models.SourceSensor,
	}
}

func (c *Confirmer) simulate() models.Confirmation {
	return models.Confirmation{
		Confirmed: c.rng.Float64() < c.probability,
		Source:    models.SourceSimulated,
	}
}

// inputResetter is implemented by serial.Port.
type inputResetter interface {
	ResetInputBuffer() error
}

func (c *Confirmer) poll(ch io.ReadWriter) (string, error) {
	// A reply that arrived after the previous poll timed out must not be
	// taken as the answer to this one.
	if r, ok := ch.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return "", fmt.Errorf("reset input: %w", err)
		}
	}
	if _, err := ch.Write(c.command); err != nil {
		return "", fmt.Errorf("write poll command: %w", err)
	}
	return c.readLine(ch)
}

// readLine reads byte by byte so nothing past the newline is consumed.
// A partial line is returned when the deadline passes after some bytes arrived.
func (c *Confirmer) readLine(r io.Reader) (string, error) {
	deadline := c.now().Add(c.timeout)
	var line []byte
	var buf [1]byte

	for {
		n, err := r.Read(buf[:])
		if n > 0 {
			if buf[0] == '\n' {
				return string(line), nil
			}
			line = append(line, buf[0])
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 {
				return string(line), nil
			}
			return "", fmt.Errorf("read response: %w", err)
		}
		if !c.now().Before(deadline) {
			if len(line) > 0 {
				return string(line), nil
			}
			return "", errPollTimeout
		}
	}
}
