package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"cavas/internal/config"
	"cavas/internal/logger"
	"cavas/internal/pipeline"
	"cavas/internal/repository"
	"cavas/internal/repository/sqlite"
	"cavas/internal/routes"
	"cavas/internal/services/ai"
	"cavas/internal/services/alert"
	"cavas/internal/services/capture"
	"cavas/internal/services/eventlog"
	"cavas/internal/services/filter"
	"cavas/internal/services/notify"
	"cavas/internal/services/sensor"
	"cavas/internal/services/storage"
	"cavas/internal/services/websocket"

	"github.com/google/uuid"
)

const mqttConnectTimeout = 5 * time.Second

type App struct {
	config    *config.Config
	logger    *logger.Logger
	sessionID string
	started   time.Time

	events     *eventlog.Log
	db         *sqlite.DB
	repo       *sqlite.EventRepository
	publisher  *notify.MQTTPublisher
	buffer     *storage.BufferService
	hub        *websocket.HubService
	detector   *ai.DetectorService
	camera     *capture.Camera
	renderer   *capture.Renderer
	controller *pipeline.Controller
}

// NewApp initializes every component. Only the configuration, the event log
// and the video source are required; everything else degrades with a warning.
func NewApp() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:    cfg,
		logger:    log,
		sessionID: uuid.NewString(),
		started:   time.Now(),
	}

	if err := a.setup(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) setup() error {
	cfg := a.config

	a.events = eventlog.New(cfg.EventLogPath)
	if err := a.events.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize event log: %w", err)
	}

	var sinks []pipeline.EventSink
	if cfg.EventDBPath != "" {
		db, err := sqlite.New(cfg.EventDBPath)
		if err != nil {
			a.logger.Warning("Event database disabled: %v", err)
		} else {
			a.db = db
			a.repo = sqlite.NewEventRepository(db, a.sessionID)
			sinks = append(sinks, a.repo)
		}
	}

	if cfg.MQTTBroker != "" {
		publisher := notify.NewMQTTPublisher(cfg.MQTTBroker, cfg.MQTTTopic, a.sessionID, a.logger)
		if err := publisher.Connect(mqttConnectTimeout); err != nil {
			// auto-reconnect keeps trying in the background
			a.logger.Warning("MQTT broker not reachable yet: %v", err)
		}
		a.publisher = publisher
		sinks = append(sinks, publisher)
	}

	var snapshots capture.SnapshotStore
	if cfg.SnapshotDirectory != "" {
		a.buffer = storage.NewBufferService(cfg.SnapshotDirectory, cfg.SnapshotLimit, a.logger)
		snapshots = a.buffer
	}

	var broadcaster capture.Broadcaster
	if cfg.Port > 0 {
		a.hub = websocket.NewHubService(a.logger)
		broadcaster = a.hub
	}

	a.detector = ai.NewDetectorService(cfg, a.logger)

	camera, err := capture.OpenCamera(cfg.VideoSource)
	if err != nil {
		return err
	}
	a.camera = camera
	a.renderer = capture.NewRenderer(cfg.Headless, broadcaster, snapshots, a.logger)

	deps := pipeline.Deps{
		Source:    a.camera,
		Detector:  a.detector,
		Renderer:  a.renderer,
		Confirmer: a.newConfirmer(),
		Announcer: a.newAnnouncer(),
		Log:       a.events,
		Sinks:     sinks,
		Logger:    a.logger,
	}
	if a.buffer != nil {
		deps.Snapshotter = a.renderer
	}
	deps.Sensor = a.openSensor()

	a.controller = pipeline.New(deps, pipeline.Settings{
		Threshold: cfg.ConfidenceThreshold,
		Allowed:   filter.NewAllowlist(cfg.AlertClasses...),
	})
	return nil
}

func (a *App) openSensor() io.ReadWriteCloser {
	cfg := a.config
	res := sensor.Discover(cfg.SensorPorts, sensor.SerialOpener(cfg.SensorBaud, cfg.SensorTimeout, cfg.SensorSettle))
	for _, attempt := range res.Attempts {
		if attempt.Err != nil {
			a.logger.Info("Sensor not available on %s: %v", attempt.Address, attempt.Err)
		}
	}
	if !res.Found() {
		a.logger.Warning("No sensor found, confirmations will be simulated (p=%.2f)", cfg.SensorFallbackProbability)
		return nil
	}
	a.logger.Info("🔌 Sensor connected on %s", res.Address)
	return res.Channel
}

func (a *App) newConfirmer() *sensor.Confirmer {
	return sensor.NewConfirmer(
		sensor.WithPollTimeout(a.config.SensorTimeout),
		sensor.WithFallbackProbability(a.config.SensorFallbackProbability),
		sensor.WithLogger(a.logger),
	)
}

func (a *App) newAnnouncer() *alert.Announcer {
	var cues []alert.Cue

	sound, err := alert.NewSoundCue(a.config.SoundPath)
	switch {
	case err == nil:
		cues = append(cues, sound)
	case errors.Is(err, alert.ErrAssetMissing), errors.Is(err, alert.ErrNoPlayer):
		a.logger.Warning("Sound alerts disabled: %v", err)
	default:
		a.logger.Error("Sound alerts disabled: %v", err)
	}

	if a.config.AlertGPIOPin != "" {
		light, err := alert.NewGPIOCue(a.config.AlertGPIOPin, a.config.AlertGPIOPulse)
		if err != nil {
			a.logger.Warning("GPIO alerts disabled: %v", err)
		} else {
			cues = append(cues, light)
		}
	}

	announcer := alert.NewAnnouncer(a.config.AlertCooldown, cues, alert.WithLogger(a.logger))
	a.logger.Info("🔔 Alert cues: %v (cooldown %v)", announcer.Cues(), a.config.AlertCooldown)
	return announcer
}

// Run starts the background services and drives the pipeline until ctx is
// cancelled, the user quits or the video source fails. Everything is
// released before it returns.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.buffer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.buffer.Run(ctx, time.Duration(a.config.SnapshotFlushInterval)*time.Second)
		}()
	}

	var server *http.Server
	if a.config.Port > 0 {
		go a.hub.Run(ctx)
		server = a.startServer()
	}

	a.logger.Info("🚀 cavas session %s", a.sessionID)
	a.logger.Info("📷 Video source: %s", a.config.VideoSource)
	a.logger.Info("🤖 AI model: %s (ready: %v)", a.config.ModelPath, a.detector.Ready())
	a.logger.Info("📝 Event log: %s", a.events.Path())

	runErr := a.controller.Run(ctx)

	cancel()
	if server != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warning("HTTP server shutdown: %v", err)
		}
		done()
	}
	wg.Wait()
	a.Close()
	return runErr
}

func (a *App) startServer() *http.Server {
	var repo repository.EventRepository
	if a.repo != nil {
		repo = a.repo
	}

	server := &http.Server{
		Addr: fmt.Sprintf(":%d", a.config.Port),
		Handler: routes.SetupRoutes(routes.Services{
			Status:  a.controller,
			Repo:    repo,
			Log:     a.events,
			Hub:     a.hub,
			Logger:  a.logger,
			Started: a.started,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("HTTP server failed: %v", err)
		}
	}()
	return server
}

// Close releases what Run has not already released. Safe to call twice.
func (a *App) Close() {
	if a.renderer != nil {
		a.renderer.Close()
		a.renderer = nil
	}
	if a.camera != nil {
		a.camera.Release()
	}
	if a.detector != nil {
		a.detector.Close()
	}
	if a.publisher != nil {
		a.publisher.Disconnect()
		a.publisher = nil
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warning("Failed to close event database: %v", err)
		}
		a.db = nil
	}
	if a.logger != nil {
		a.logger.Close()
	}
}
