// Package app wires the stationeye detection pipeline together: the frame
// source, the detection stream, the capture scheduler, the overlay renderer
// and the statistics poller, plus the local store, alert hooks and the
// operator server around them.
package app

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ayusman/stationeye/internal/capture"
	"github.com/ayusman/stationeye/internal/config"
	"github.com/ayusman/stationeye/internal/detector"
	"github.com/ayusman/stationeye/internal/hook"
	"github.com/ayusman/stationeye/internal/metrics"
	"github.com/ayusman/stationeye/internal/overlay"
	"github.com/ayusman/stationeye/internal/pipeline"
	"github.com/ayusman/stationeye/internal/server"
	"github.com/ayusman/stationeye/internal/session"
	"github.com/ayusman/stationeye/internal/settings"
	"github.com/ayusman/stationeye/internal/stats"
	"github.com/ayusman/stationeye/internal/store"
)

// DatabaseFile is the sqlite file created under the data directory.
const DatabaseFile = "stationeye.db"

// Deps holds the collaborators App does not build from the configuration.
// Every field is optional.
type Deps struct {
	// Opener opens the live camera. Without it the webcam input reports
	// unavailable.
	Opener capture.CameraOpener
	// Detector replaces the client selected by the configuration.
	Detector detector.Client
	// Fetcher replaces the statistics fetcher selected by the configuration.
	Fetcher stats.Fetcher
	Clock   clock.Clock
	Logger  *zap.SugaredLogger
	// WebDir is served as static files by the operator server.
	WebDir string
}

// App is the running pipeline for one detection session.
type App struct {
	config  config.Config
	session session.ID
	clock   clock.Clock
	logger  *zap.SugaredLogger
	metrics *metrics.Metrics

	store     *store.Store
	settings  *settings.Store
	source    *capture.Source
	client    detector.Client
	stream    *detector.Stream
	renderer  *overlay.Renderer
	scheduler *pipeline.Scheduler
	poller    *stats.Poller
	hooks     *hook.Manager
	notifier  *hook.Notifier
	hub       *server.Hub
	server    *server.Server

	closeOnce sync.Once
	closeErr  error
}

// New builds the pipeline for cfg. Nothing runs until Run is called.
func New(cfg config.Config, deps Deps) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	a := &App{
		config:  cfg,
		session: session.New(),
		clock:   deps.Clock,
		logger:  deps.Logger,
		metrics: metrics.New(),
	}
	if a.clock == nil {
		a.clock = clock.New()
	}
	if a.logger == nil {
		a.logger = zap.NewNop().Sugar()
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}
	db, err := store.New(filepath.Join(cfg.DataDir, DatabaseFile))
	if err != nil {
		return nil, err
	}
	a.store = db

	initial, ok, err := db.Settings().LoadDetectionSettings()
	if err != nil {
		a.logger.Warnw("stored detection settings unreadable, using defaults", "error", err)
	}
	if !ok {
		initial = settings.Default()
	}
	a.settings = settings.NewStore(initial, db.Settings())

	a.client = deps.Detector
	if a.client == nil {
		if a.client, err = newClient(cfg); err != nil {
			db.Close()
			return nil, err
		}
	}

	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = newFetcher(cfg, db)
	}

	a.source = capture.NewSource(deps.Opener,
		capture.WithClock(a.clock),
		capture.WithLogger(a.logger.Named("capture")),
	)
	a.stream = detector.NewStream(a.client, a.session,
		detector.WithConfidenceThreshold(cfg.ConfThreshold),
		detector.WithClock(a.clock),
		detector.WithMetrics(a.metrics),
		detector.WithLogger(a.logger.Named("detector")),
	)
	a.renderer = overlay.NewRenderer(a.source, a.settings,
		overlay.WithMetrics(a.metrics),
		overlay.WithLogger(a.logger.Named("overlay")),
	)
	a.scheduler = pipeline.New(a.source, a.stream, a.settings,
		pipeline.WithInterval(cfg.CaptureEvery),
		pipeline.WithClock(a.clock),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.logger.Named("scheduler")),
	)
	a.poller = stats.NewPoller(fetcher, a.session,
		stats.WithInterval(cfg.StatsEvery),
		stats.WithClock(a.clock),
		stats.WithMetrics(a.metrics),
		stats.WithLogger(a.logger.Named("stats")),
	)

	a.hooks = hook.NewManager(cfg.HookDir)
	if err := a.hooks.Discover(); err != nil {
		a.logger.Warnw("hook discovery failed", "dir", cfg.HookDir, "error", err)
	}
	a.notifier = hook.NewNotifier(a.hooks, hook.NewExecutor(hook.DefaultTimeout), a.session, a.logger.Named("hook"))

	a.hub = server.NewHub(a.logger.Named("events"))
	a.server = server.New(server.Config{
		StaticDir: deps.WebDir,
		Source:    a.source,
		Frames:    a.source,
		Overlay:   a.renderer,
		Pauser:    a.scheduler,
		Settings:  a.settings,
		Stats:     a.poller,
		Session:   a.session,
		Store:     a.store,
		Hub:       a.hub,
		Metrics:   a.metrics,
		Logger:    a.logger.Named("server"),
	})

	a.connect()
	return a, nil
}

func newClient(cfg config.Config) (detector.Client, error) {
	switch cfg.Detector {
	case config.DetectorScript:
		c, err := detector.NewScriptClient(cfg.PythonPath, cfg.ScriptPath)
		if err != nil {
			return nil, errors.Wrap(err, "script detector")
		}
		return c, nil
	default:
		return detector.NewHTTPClient(cfg.ServiceURL, cfg.RequestTimeout), nil
	}
}

// newFetcher reads statistics from the remote service, or from the local
// detection log when inference runs in-process.
func newFetcher(cfg config.Config, db *store.Store) stats.Fetcher {
	if cfg.Detector == config.DetectorScript {
		return stats.FetcherFunc(db.Detections().Stats)
	}
	return stats.NewHTTPFetcher(cfg.ServiceURL, cfg.RequestTimeout)
}

// Run opens the session, acquires the configured input and runs the
// scheduler, the poller and the operator server until ctx is done or one of
// them fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Detections().StartSession(a.session, a.clock.Now()); err != nil {
		return errors.Wrap(err, "start session")
	}
	a.logger.Infow("detection session started", "session", a.session, "detector", a.config.Detector)

	if a.config.InputMode == string(capture.ModeLiveCamera) {
		if st := a.source.AcquireCamera(ctx); st.State != capture.StateReady {
			a.logger.Warnw("camera unavailable, waiting for another input", "error", st.Err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.scheduler.Run(ctx) })
	g.Go(func() error { return a.poller.Run(ctx) })
	if a.config.ListenAddr != "" {
		g.Go(func() error { return a.server.Serve(ctx, a.config.ListenAddr) })
	}
	return g.Wait()
}

// Close releases the input, waits for background work and ends the
// session. It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.scheduler.Wait()
		a.hub.Close()

		var err error
		err = multierr.Append(err, errors.Wrap(a.source.Close(), "release source"))
		err = multierr.Append(err, errors.Wrap(a.client.Close(), "close detector"))
		a.renderer.Wait()
		a.notifier.Wait()

		if endErr := a.store.Detections().EndSession(a.session, a.clock.Now()); endErr != nil && !errors.Is(endErr, store.ErrNotFound) {
			err = multierr.Append(err, errors.Wrap(endErr, "end session"))
		}
		err = multierr.Append(err, errors.Wrap(a.store.Close(), "close store"))
		a.closeErr = err
	})
	return a.closeErr
}

// Session returns the session identifier.
func (a *App) Session() session.ID {
	return a.session
}

// Source returns the frame source.
func (a *App) Source() *capture.Source {
	return a.source
}

// Scheduler returns the capture scheduler.
func (a *App) Scheduler() *pipeline.Scheduler {
	return a.scheduler
}

// Stream returns the detection stream.
func (a *App) Stream() *detector.Stream {
	return a.stream
}

// Renderer returns the overlay renderer.
func (a *App) Renderer() *overlay.Renderer {
	return a.renderer
}

// Poller returns the statistics poller.
func (a *App) Poller() *stats.Poller {
	return a.poller
}

// Settings returns the detection settings store.
func (a *App) Settings() *settings.Store {
	return a.settings
}

// Store returns the local store.
func (a *App) Store() *store.Store {
	return a.store
}

// Metrics returns the pipeline metrics.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Hooks returns the alert hook manager.
func (a *App) Hooks() *hook.Manager {
	return a.hooks
}

// Server returns the operator server handler.
func (a *App) Server() *server.Server {
	return a.server
}
