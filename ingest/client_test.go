package ingest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorClientSubmit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p EventPayload
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		assert.Equal(t, "SNORT_IDS", p.Source)
		_, _ = w.Write([]byte(`{"status":"received & processed","event_id":9,"alert_triggered":"Intelligent Alert"}`))
	}))
	defer srv.Close()

	resp, err := NewCollectorClient(srv.URL, time.Second).Submit(context.Background(), EventPayload{Source: "SNORT_IDS", Event: "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(9), resp.EventID)
	require.NotNil(t, resp.AlertTriggered)
	assert.Equal(t, "Intelligent Alert", *resp.AlertTriggered)
}

func TestCollectorClientErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := NewCollectorClient(srv.URL, time.Second).Submit(context.Background(), EventPayload{Event: "x"})
	assert.ErrorContains(t, err, "status 400")
}

func TestAgentSimulatorRun(t *testing.T) {
	sink := &recordingSubmitter{}
	sim := NewAgentSimulator(nil, sink, 1, nil)

	var results []AgentResult
	err := sim.Run(context.Background(), time.Millisecond, 3, func(r AgentResult) { results = append(results, r) })
	require.NoError(t, err)
	assert.Len(t, results, 3)
	assert.Len(t, sink.payloads, 3)
	for _, p := range sink.payloads {
		assert.NotEmpty(t, p.Source)
		assert.NotEmpty(t, p.Event)
	}
}

func TestAgentSimulatorCancel(t *testing.T) {
	sim := NewAgentSimulator(nil, &recordingSubmitter{}, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sim.Run(ctx, time.Hour, 0, nil), context.Canceled)
}
