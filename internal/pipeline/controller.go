package pipeline

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"cavas/internal/logger"
	"cavas/internal/models"
	"cavas/internal/services/filter"
)

var (
	// ErrFrameSource is returned by Run when the frame source stops delivering frames.
	ErrFrameSource = errors.New("frame source failed")
	// ErrAlreadyRun is returned when Run is called on a controller that has stopped.
	ErrAlreadyRun = errors.New("pipeline already stopped")
)

// Frame is an opaque frame handle passed between the source, the detector and the renderer.
type Frame = any

// FrameSource delivers frames. Read reports false when the device is closed or fails.
type FrameSource interface {
	Read() (Frame, bool)
	Release() error
}

// Detector turns a frame into raw detections with human-readable labels.
type Detector interface {
	Detect(frame Frame) ([]models.Detection, error)
}

// Renderer draws on frames, shows them and reports the user's quit request.
type Renderer interface {
	Annotate(frame Frame, det models.Detection)
	MarkIdle(frame Frame)
	Show(frame Frame) error
	QuitRequested() bool
}

// Confirmer corroborates one detection using the (possibly nil) sensor channel.
type Confirmer interface {
	Confirm(ch io.ReadWriter) models.Confirmation
}

// Announcer starts an alert unless it is cooling down, and reports whether it did.
type Announcer interface {
	Trigger() bool
}

// EventLog is the durable, append-only record of evaluated detections.
type EventLog interface {
	Append(rec models.EventRecord) error
}

// EventSink receives a copy of every record after it was logged.
type EventSink interface {
	Name() string
	Append(rec models.EventRecord) error
}

// Snapshotter keeps the annotated frame of an alert.
type Snapshotter interface {
	Snapshot(frame Frame, rec models.EventRecord)
}

// Settings are the static filtering parameters.
type Settings struct {
	Threshold float64
	Allowed   filter.Allowlist
}

// Deps are the collaborators the controller drives. Renderer, Sinks,
// Snapshotter, Sensor, Logger and Clock are optional.
type Deps struct {
	Source      FrameSource
	Detector    Detector
	Renderer    Renderer
	Confirmer   Confirmer
	Announcer   Announcer
	Log         EventLog
	Sinks       []EventSink
	Snapshotter Snapshotter
	Sensor      io.ReadWriteCloser
	Logger      *logger.Logger
	Clock       func() time.Time
}

// Stats counts what the loop has done so far.
type Stats struct {
	Frames          uint64 `json:"frames"`
	Evaluated       uint64 `json:"evaluated"`
	Confirmed       uint64 `json:"confirmed"`
	Simulated       uint64 `json:"simulated"`
	Alerts          uint64 `json:"alerts"`
	DetectorErrors  uint64 `json:"detector_errors"`
	LogFailures     uint64 `json:"log_failures"`
	SensorAttached  bool   `json:"sensor_attached"`
	LastEventUnixMs int64  `json:"last_event_unix_ms"`
}

// Controller runs the capture → detect → filter → confirm → log → alert loop
// on a single goroutine. Only alert cues run elsewhere.
type Controller struct {
	source      FrameSource
	detector    Detector
	renderer    Renderer
	confirmer   Confirmer
	announcer   Announcer
	log         EventLog
	sinks       []EventSink
	snapshotter Snapshotter
	sensor      io.ReadWriteCloser
	logger      *logger.Logger
	now         func() time.Time
	settings    Settings

	state atomic.Int32

	statsMu sync.Mutex
	stats   Stats
}

// New creates a controller in the Running state.
func New(deps Deps, settings Settings) *Controller {
	c := &Controller{
		source:      deps.Source,
		detector:    deps.Detector,
		renderer:    deps.Renderer,
		confirmer:   deps.Confirmer,
		announcer:   deps.Announcer,
		log:         deps.Log,
		sinks:       deps.Sinks,
		snapshotter: deps.Snapshotter,
		sensor:      deps.Sensor,
		logger:      deps.Logger,
		now:         deps.Clock,
		settings:    settings,
	}
	if c.renderer == nil {
		c.renderer = nopRenderer{}
	}
	if c.logger == nil {
		c.logger = logger.Discard()
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.stats.SensorAttached = c.sensor != nil
	c.state.Store(int32(Running))
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stats returns a copy of the loop counters.
func (c *Controller) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Run processes frames until the user quits, ctx is cancelled or the frame
// source fails. Stop requests are observed once per iteration; in-flight
// detector and sensor calls finish first. The frame source and the sensor
// channel are always released before Run returns. Run returns ErrFrameSource
// for a source failure and nil otherwise.
func (c *Controller) Run(ctx context.Context) error {
	if c.State() != Running {
		return ErrAlreadyRun
	}
	c.logger.Info("🎬 Pipeline running (threshold %.2f, classes %v, sensor attached: %v)",
		c.settings.Threshold, c.settings.Allowed.Labels(), c.sensor != nil)

	var runErr error
	for c.State() == Running {
		if ctx.Err() != nil {
			c.logger.Info("Stop requested")
			c.transition(Stopping)
			break
		}

		frame, ok := c.source.Read()
		if !ok {
			c.logger.Error("Frame source failed, stopping")
			runErr = ErrFrameSource
			c.transition(Stopping)
			break
		}

		c.processFrame(frame)

		if c.renderer.QuitRequested() {
			c.logger.Info("Quit key pressed")
			c.transition(Stopping)
		}
	}

	c.shutdown()
	return runErr
}

func (c *Controller) processFrame(frame Frame) {
	c.bump(func(s *Stats) { s.Frames++ })

	raw, err := c.detector.Detect(frame)
	if err != nil {
		c.logger.Warning("Detection failed: %v", err)
		c.bump(func(s *Stats) { s.DetectorErrors++ })
		raw = nil
	}

	detections := filter.Apply(raw, c.settings.Threshold, c.settings.Allowed)
	for _, det := range detections {
		c.handleDetection(frame, det)
	}

	if len(detections) == 0 {
		c.renderer.MarkIdle(frame)
	}
	if err := c.renderer.Show(frame); err != nil {
		c.logger.Warning("Render failed: %v", err)
	}
}

func (c *Controller) handleDetection(frame Frame, det models.Detection) {
	c.renderer.Annotate(frame, det)

	confirmation := c.confirmer.Confirm(c.sensorChannel())
	rec := models.NewEventRecord(c.now(), det, confirmation)

	logFailed := false
	if err := c.log.Append(rec); err != nil {
		c.logger.Error("Failed to log %s event: %v", rec.Label, err)
		logFailed = true
	}
	for _, sink := range c.sinks {
		if err := sink.Append(rec); err != nil {
			c.logger.Warning("Event sink %s failed: %v", sink.Name(), err)
		}
	}

	alerted := false
	if confirmation.Confirmed {
		alerted = c.announcer.Trigger()
		if alerted && c.snapshotter != nil {
			c.snapshotter.Snapshot(frame, rec)
		}
	}

	c.bump(func(s *Stats) {
		s.Evaluated++
		if confirmation.Confirmed {
			s.Confirmed++
		}
		if confirmation.Source == models.SourceSimulated {
			s.Simulated++
		}
		if alerted {
			s.Alerts++
		}
		if logFailed {
			s.LogFailures++
		}
		s.LastEventUnixMs = rec.Timestamp.UnixMilli()
	})
}

// sensorChannel keeps a nil channel a nil interface.
func (c *Controller) sensorChannel() io.ReadWriter {
	if c.sensor == nil {
		return nil
	}
	return c.sensor
}

func (c *Controller) shutdown() {
	c.transition(Stopping)

	if err := c.source.Release(); err != nil {
		c.logger.Warning("Failed to release frame source: %v", err)
	}
	if c.sensor != nil {
		if err := c.sensor.Close(); err != nil {
			c.logger.Warning("Failed to close sensor channel: %v", err)
		}
		c.sensor = nil
		c.bump(func(s *Stats) { s.SensorAttached = false })
	}

	c.transition(Stopped)
	s := c.Stats()
	c.logger.Info("🛑 Pipeline stopped: %d frames, %d events, %d confirmed (%d simulated), %d alerts",
		s.Frames, s.Evaluated, s.Confirmed, s.Simulated, s.Alerts)
}

func (c *Controller) transition(to State) {
	c.state.Store(int32(to))
}

func (c *Controller) bump(update func(*Stats)) {
	c.statsMu.Lock()
	update(&c.stats)
	c.statsMu.Unlock()
}

type nopRenderer struct{}

func (nopRenderer) Annotate(Frame, models.Detection) {}
func (nopRenderer) MarkIdle(Frame)                   {}
func (nopRenderer) Show(Frame) error                 { return nil }
func (nopRenderer) QuitRequested() bool              { return false }
