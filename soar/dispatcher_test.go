package soar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigilanteye/core"
	"vigilanteye/threat"
)

func sampleRequest() Request {
	return Request{
		AlertID:    17,
		AlertName:  "High Severity: USB Activity",
		IPAddress:  "172.16.0.25",
		Reputation: threat.Verdict{Status: threat.StatusMalicious, Score: 88},
		Anomalous:  true,
	}
}

func newTestDispatcher(t *testing.T, baseURL string, mutate func(*Config)) *Dispatcher {
	t.Helper()
	cfg := Config{BaseURL: baseURL, WorkflowID: "wf-123", APIKey: "secret", Timeout: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	d, err := NewDispatcher(cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	return d
}

func TestDispatchSendsExecutionArgument(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/workflows/wf-123/execute", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body executeBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NoError(t, json.Unmarshal([]byte(body.ExecutionArgument), &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL+"/api/v1/workflows/", nil)
	res := d.Dispatch(context.Background(), sampleRequest())

	assert.True(t, res.OK)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, KindNone, res.Kind)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.NotEmpty(t, res.DispatchID)

	assert.Equal(t, float64(17), got["alert_id"])
	assert.Equal(t, "High Severity: USB Activity", got["threat_name"])
	assert.Equal(t, "172.16.0.25", got["target_ip"])
	assert.Equal(t, "MALICIOUS", got["cti_status"])
	assert.Equal(t, true, got["ueba_anomaly"])
	assert.Equal(t, float64(10), got["priority"])
	assert.Equal(t, "VigilantEye_Intelligent_Processor", got["trigger_source"])
	assert.Equal(t, res.DispatchID, got["dispatch_id"])
}

func TestDispatchWithoutAddressSendsNull(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body executeBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.NoError(t, json.Unmarshal([]byte(body.ExecutionArgument), &got))
	}))
	defer srv.Close()

	req := sampleRequest()
	req.IPAddress = ""
	res := newTestDispatcher(t, srv.URL, nil).Dispatch(context.Background(), req)
	require.True(t, res.OK)

	v, present := got["target_ip"]
	assert.True(t, present)
	assert.Nil(t, v)
}

func TestDispatchSkippedWhenNotConfigured(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	for name, mutate := range map[string]func(*Config){
		"no workflow": func(c *Config) { c.WorkflowID = "" },
		"no api key":  func(c *Config) { c.APIKey = "" },
	} {
		t.Run(name, func(t *testing.T) {
			d := newTestDispatcher(t, srv.URL, mutate)
			assert.False(t, d.Configured())

			res := d.Dispatch(context.Background(), sampleRequest())
			assert.False(t, res.OK)
			assert.Equal(t, StatusSkipped, res.Status)
			assert.Equal(t, KindNotConfigured, res.Kind)
		})
	}
	assert.Equal(t, int32(0), hits.Load())
}

func TestDispatchStatusMapping(t *testing.T) {
	tests := []struct {
		code int
		ok   bool
		kind ErrorKind
	}{
		{http.StatusOK, true, KindNone},
		{http.StatusAccepted, true, KindNone},
		{http.StatusUnauthorized, false, KindAuthFailure},
		{http.StatusForbidden, false, KindAuthFailure},
		{http.StatusNotFound, false, KindBadStatus},
		{http.StatusInternalServerError, false, KindBadStatus},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))
			defer srv.Close()

			res := newTestDispatcher(t, srv.URL, nil).Dispatch(context.Background(), sampleRequest())
			assert.Equal(t, tt.ok, res.OK)
			assert.Equal(t, tt.kind, res.Kind)
			assert.Equal(t, tt.code, res.StatusCode)
		})
	}
}

func TestDispatchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL, func(c *Config) { c.Timeout = 50 * time.Millisecond })
	res := d.Dispatch(context.Background(), sampleRequest())

	assert.False(t, res.OK)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, KindTimeout, res.Kind)
	assert.Less(t, res.Duration, time.Second)
}

func TestDispatchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	res := newTestDispatcher(t, base, nil).Dispatch(context.Background(), sampleRequest())
	assert.False(t, res.OK)
	assert.Equal(t, KindTransport, res.Kind)
}

func TestDispatchNoRetryAndCircuitOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := newTestDispatcher(t, srv.URL, func(c *Config) {
		c.Breaker = core.BreakerConfig{MaxFailures: 1, CoolDown: time.Hour, MaxTrials: 1}
	})

	first := d.Dispatch(context.Background(), sampleRequest())
	assert.Equal(t, KindBadStatus, first.Kind)
	assert.Equal(t, int32(1), hits.Load(), "a failed dispatch is attempted once")
	assert.Equal(t, core.BreakerOpen, d.breaker.State())

	second := d.Dispatch(context.Background(), sampleRequest())
	assert.Equal(t, KindCircuitOpen, second.Kind)
	assert.Equal(t, int32(1), hits.Load())
}
