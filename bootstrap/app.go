package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vigilanteye/api"
	"vigilanteye/config"
	"vigilanteye/detect"
	"vigilanteye/ml"
	"vigilanteye/soar"
	"vigilanteye/storage"
	"vigilanteye/threat"
)

// App represents the VigilantEye application with all its components.
type App struct {
	// Configuration
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	// Storage
	Store *storage.SQLite

	// Detection
	Oracle     threat.Oracle
	Detector   *ml.Detector
	Rules      *detect.RuleEngine
	Dispatcher *soar.Dispatcher
	Correlator *detect.Correlator

	// Services
	APIServer *api.API

	// Lifecycle
	closers      []io.Closer
	serviceWg    sync.WaitGroup
	shutdownOnce sync.Once
}

// NewApp creates a new application instance and initializes all components.
func NewApp(ctx context.Context) (*App, error) {
	// Config comes first so the logger honors log.level; bootstrap logs go
	// to an info-level logger until then.
	_, bootSugar, err := InitLogger("info")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	cfg, err := InitConfig(bootSugar)
	if err != nil {
		return nil, err
	}
	return NewAppWithConfig(ctx, cfg)
}

// NewAppWithConfig wires every component from an already loaded config.
func NewAppWithConfig(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, sugar, err := InitLogger(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app := &App{Config: cfg, Logger: logger, Sugar: sugar}

	sugar.Info("VigilantEye starting...")

	dirs := DataDirectoriesFromConfig(cfg)
	if err := EnsureDataDirectories(dirs, sugar); err != nil {
		return nil, fmt.Errorf("pre-flight check failed: %w", err)
	}

	store, err := InitSQLite(dirs, sugar)
	if err != nil {
		return nil, err
	}
	app.Store = store
	app.closers = append(app.closers, store)

	oracle, cacheCloser, err := InitReputation(ctx, cfg, sugar)
	if err != nil {
		app.closeAll()
		return nil, err
	}
	app.Oracle = oracle
	if cacheCloser != nil {
		app.closers = append(app.closers, cacheCloser)
	}

	detector, err := InitDetector(ctx, cfg, store, sugar)
	if err != nil {
		app.closeAll()
		return nil, err
	}
	app.Detector = detector

	rules, err := LoadRules(cfg, sugar)
	if err != nil {
		app.closeAll()
		return nil, err
	}
	app.Rules = rules

	dispatcher, err := InitDispatcher(cfg, sugar)
	if err != nil {
		app.closeAll()
		return nil, err
	}
	app.Dispatcher = dispatcher

	var opts []detect.CorrelatorOption
	if forwarder := InitForwarder(cfg, sugar); forwarder != nil {
		opts = append(opts, detect.WithForwarder(forwarder))
	}
	app.Correlator = detect.NewCorrelator(store, rules, oracle, detector, dispatcher, sugar, opts...)

	app.APIServer = api.NewAPI(app.Correlator, detector, store, cfg, sugar)
	return app, nil
}

// Start starts the API server in the background.
func (a *App) Start(ctx context.Context) error {
	errCh := make(chan error, 1)

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		a.Sugar.Infof("API server started on %s", a.Config.Server.Addr)
		if err := a.APIServer.Start(a.Config.Server.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Sugar.Errorf("API server error: %v", err)
			errCh <- err
		}
	}()

	// Surface bind failures to the caller
	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start API server: %w", err)
	case <-time.After(200 * time.Millisecond):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components. It is safe to call more
// than once.
func (a *App) Shutdown() {
	a.shutdownOnce.Do(func() {
		a.Sugar.Info("Shutting down...")

		timeout := a.Config.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if a.APIServer != nil {
			if err := a.APIServer.Stop(ctx); err != nil {
				a.Sugar.Warnw("API server did not stop cleanly", "error", err)
			}
		}
		a.serviceWg.Wait()

		a.closeAll()
		a.Sugar.Info("Shutdown complete")
		_ = a.Logger.Sync()
	})
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Sugar.Warnw("Failed to close component", "error", err)
		}
	}
	a.closers = nil
}
