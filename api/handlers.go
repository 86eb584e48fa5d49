package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"vigilanteye/core"
	"vigilanteye/detect"
	"vigilanteye/ingest"
	"vigilanteye/metrics"
	"vigilanteye/ml"
)

const (
	defaultEventLimit = 15
	maxEventLimit     = 1000
)

// CollectResponse answers a flat sensor submission.
type CollectResponse struct {
	Status         string  `json:"status"`
	EventID        int64   `json:"event_id"`
	AlertTriggered *string `json:"alert_triggered"`
}

// WazuhResponse answers a Wazuh webhook.
type WazuhResponse struct {
	Status      string  `json:"status"`
	EventID     int64   `json:"event_id"`
	ActionTaken *string `json:"action_taken"`
}

// TrainResponse answers an administrative retrain.
type TrainResponse struct {
	Status  string `json:"status"`
	Trained bool   `json:"trained"`
	Samples int    `json:"samples"`
}

type statusResponse struct {
	Status string `json:"status"`
}

func (a *API) collectStatus(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, statusResponse{Status: "Endpoint is running. Send POST request with log data."}, http.StatusOK)
}

func (a *API) wazuhStatus(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, statusResponse{Status: "Wazuh endpoint is running. Send POST request with alert JSON."}, http.StatusOK)
}

func (a *API) collect(w http.ResponseWriter, r *http.Request) {
	ev, ok := a.decode(w, r, ingest.ParseEventPayload)
	if !ok {
		return
	}
	out, ok := a.process(w, r, ev)
	if !ok {
		return
	}
	a.respondJSON(w, CollectResponse{
		Status:         "received & processed",
		EventID:        out.EventID,
		AlertTriggered: out.AlertTriggered(),
	}, http.StatusOK)
}

func (a *API) wazuhAlert(w http.ResponseWriter, r *http.Request) {
	ev, ok := a.decode(w, r, ingest.ParseWazuhAlert)
	if !ok {
		return
	}
	out, ok := a.process(w, r, ev)
	if !ok {
		return
	}
	a.respondJSON(w, WazuhResponse{
		Status:      "Wazuh alert processed",
		EventID:     out.EventID,
		ActionTaken: out.AlertTriggered(),
	}, http.StatusOK)
}

// decode reads a bounded body and normalizes it with parse. It writes the
// error response itself and reports whether the caller should continue.
func (a *API) decode(w http.ResponseWriter, r *http.Request, parse func([]byte) (core.NewEvent, error)) (core.NewEvent, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, ingest.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.EventsRejected.WithLabelValues(r.URL.Path, "too_large").Inc()
			a.writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large", err)
			return core.NewEvent{}, false
		}
		metrics.EventsRejected.WithLabelValues(r.URL.Path, "read").Inc()
		a.writeError(w, r, http.StatusBadRequest, "failed to read request body", err)
		return core.NewEvent{}, false
	}

	ev, err := parse(body)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(r.URL.Path, "malformed").Inc()
		a.writeError(w, r, http.StatusBadRequest, "malformed payload", err)
		return core.NewEvent{}, false
	}
	return ev, true
}

// process runs the pipeline detached from client cancellation and bounded by
// the engine timeout.
func (a *API) process(w http.ResponseWriter, r *http.Request, ev core.NewEvent) (detect.Outcome, bool) {
	ctx := context.WithoutCancel(r.Context())
	if timeout := a.config.Engine.ProcessTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := a.pipeline.Process(ctx, ev)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, "failed to process event", err)
		return detect.Outcome{}, false
	}
	a.logger.Debugw("Event processed",
		"request_id", requestIDFrom(r.Context()),
		"event_id", out.EventID,
		"fired", out.Fired)
	return out, true
}

func (a *API) trainBaseline(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	res, err := a.trainer.Retrain(ctx, a.store)
	switch {
	case errors.Is(err, ml.ErrInsufficientData):
		a.respondJSON(w, TrainResponse{
			Status:  "UEBA training skipped: insufficient data",
			Trained: false,
			Samples: res.Samples,
		}, http.StatusOK)
	case err != nil:
		a.writeError(w, r, http.StatusInternalServerError, "failed to train baseline", err)
	default:
		a.respondJSON(w, TrainResponse{
			Status:  "UEBA model trained",
			Trained: res.Trained,
			Samples: res.Samples,
		}, http.StatusOK)
	}
}

func (a *API) getEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			a.writeError(w, r, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = min(n, maxEventLimit)
	}

	events, err := a.store.ListRecentEvents(r.Context(), limit)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	if events == nil {
		events = []core.Event{}
	}
	a.respondJSON(w, events, http.StatusOK)
}

func (a *API) getAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := a.store.ListAlerts(r.Context())
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, "failed to list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []core.Alert{}
	}
	a.respondJSON(w, alerts, http.StatusOK)
}

// getEventAlerts lists the alerts raised for one stored event.
func (a *API) getEventAlerts(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id < 1 {
		a.writeError(w, r, http.StatusBadRequest, "event id must be a positive integer", err)
		return
	}

	alerts, err := a.store.AlertsForEvent(r.Context(), id)
	if err != nil {
		a.writeError(w, r, http.StatusInternalServerError, "failed to list alerts", err)
		return
	}
	if alerts == nil {
		alerts = []core.Alert{}
	}
	a.respondJSON(w, alerts, http.StatusOK)
}

func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.store.HealthCheck(ctx); err != nil {
		a.writeError(w, r, http.StatusServiceUnavailable, "event store unavailable", err)
		return
	}
	a.respondJSON(w, statusResponse{Status: "healthy"}, http.StatusOK)
}
