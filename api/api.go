// Package api exposes the ingestion and administrative HTTP boundary.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"vigilanteye/config"
	"vigilanteye/core"
	"vigilanteye/detect"
	"vigilanteye/ml"
)

// Pipeline runs one normalized event through detection.
type Pipeline interface {
	Process(ctx context.Context, ev core.NewEvent) (detect.Outcome, error)
}

// Trainer refits the anomaly baseline from stored history.
type Trainer interface {
	Retrain(ctx context.Context, src ml.HistorySource) (ml.TrainResult, error)
}

// Store is the read side of the event store used by the API.
type Store interface {
	ml.HistorySource
	ListRecentEvents(ctx context.Context, limit int) ([]core.Event, error)
	ListAlerts(ctx context.Context) ([]core.Alert, error)
	AlertsForEvent(ctx context.Context, eventID int64) ([]core.Alert, error)
	HealthCheck(ctx context.Context) error
}

// rateLimiterEntry holds a rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API serves the HTTP boundary.
type API struct {
	router   *mux.Router
	serverMu sync.Mutex
	server   *http.Server
	pipeline Pipeline
	trainer  Trainer
	store    Store
	config   *config.Config
	logger   *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
	stopOnce       sync.Once
}

// NewAPI wires the handlers. Call Stop to release the limiter sweeper.
func NewAPI(pipeline Pipeline, trainer Trainer, store Store, cfg *config.Config, logger *zap.SugaredLogger) *API {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	a := &API{
		router:       mux.NewRouter(),
		pipeline:     pipeline,
		trainer:      trainer,
		store:        store,
		config:       cfg,
		logger:       logger,
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	go a.cleanupRateLimiters()
	return a
}

func (a *API) setupRoutes() {
	a.router.Use(a.requestIDMiddleware)
	a.router.Use(a.metricsMiddleware)
	a.router.Use(a.corsMiddleware)

	ingest := a.router.NewRoute().Subrouter()
	ingest.Use(a.rateLimitMiddleware)
	ingest.HandleFunc("/collect", a.collect).Methods(http.MethodPost)
	ingest.HandleFunc("/wazuh_alert", a.wazuhAlert).Methods(http.MethodPost)

	a.router.HandleFunc("/collect", a.collectStatus).Methods(http.MethodGet)
	a.router.HandleFunc("/wazuh_alert", a.wazuhStatus).Methods(http.MethodGet)
	a.router.HandleFunc("/train_ueba", a.trainBaseline).Methods(http.MethodPost, http.MethodGet)
	a.router.HandleFunc("/api/events", a.getEvents).Methods(http.MethodGet)
	a.router.HandleFunc("/api/events/{id}/alerts", a.getEventAlerts).Methods(http.MethodGet)
	a.router.HandleFunc("/api/alerts", a.getAlerts).Methods(http.MethodGet)
	a.router.HandleFunc("/health", a.healthCheck).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler())
}

// Handler exposes the router, mainly for tests.
func (a *API) Handler() http.Handler {
	return a.router
}

// Start starts the API server
func (a *API) Start(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           a.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       a.config.Server.ReadTimeout,
		WriteTimeout:      a.config.Server.WriteTimeout,
	}
	a.serverMu.Lock()
	a.server = srv
	a.serverMu.Unlock()
	return srv.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() { close(a.stopCh) })
	a.serverMu.Lock()
	srv := a.server
	a.serverMu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}
