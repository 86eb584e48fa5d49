package detect

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"vigilanteye/core"
	"vigilanteye/ml"
	"vigilanteye/soar"
	"vigilanteye/storage"
	"vigilanteye/threat"
	"vigilanteye/util/testutil"
)

type stubOracle struct {
	verdict threat.Verdict
	calls   atomic.Int32
	lastIP  atomic.Value
}

func (o *stubOracle) Check(ctx context.Context, ip string) threat.Verdict {
	o.calls.Add(1)
	o.lastIP.Store(ip)
	if ip == "" {
		return threat.Inconclusive(threat.KindNoAddress, "")
	}
	return o.verdict
}

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []soar.Request
	result   soar.DispatchResult
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req soar.Request) soar.DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return d.result
}

type failingStore struct {
	EventStore
	eventErr error
	alertErr error
}

func (s failingStore) AppendEvent(ctx context.Context, ev core.NewEvent) (core.Event, error) {
	if s.eventErr != nil {
		return core.Event{}, s.eventErr
	}
	return core.Event{ID: 1, Source: ev.Source, Message: ev.Message, ReceivedAt: time.Now().UTC()}, nil
}

func (s failingStore) AppendAlert(ctx context.Context, a core.NewAlert) (int64, error) {
	return 0, s.alertErr
}

type pipeline struct {
	store      *storage.SQLite
	oracle     *stubOracle
	detector   *ml.Detector
	dispatcher *recordingDispatcher
	correlator *Correlator
}

func newPipeline(t *testing.T, verdict threat.Verdict) *pipeline {
	t.Helper()
	logger := zap.NewNop().Sugar()
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "pipeline.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	p := &pipeline{
		store:      store,
		oracle:     &stubOracle{verdict: verdict},
		detector:   ml.NewDetector(ml.DefaultDetectorConfig(), ml.NewBaselineHandle(), store, logger),
		dispatcher: &recordingDispatcher{result: soar.DispatchResult{OK: true, Status: soar.StatusCompleted, Kind: soar.KindNone}},
	}
	p.correlator = NewCorrelator(store, NewRuleEngine(DefaultRules()), p.oracle, p.detector, p.dispatcher, logger)
	return p
}

func inconclusive() threat.Verdict {
	return threat.Inconclusive(threat.KindNotConfigured, "")
}

func TestScenarioRuleHit(t *testing.T) {
	p := newPipeline(t, inconclusive())
	ctx := context.Background()

	out, err := p.correlator.Process(ctx, core.NewEvent{
		Source:    "H1",
		Message:   "CRITICAL: USB device inserted into port 3.",
		IPAddress: "172.16.0.25",
	})
	require.NoError(t, err)
	assert.True(t, out.Fired)
	assert.Equal(t, "High Severity: USB Activity", out.AlertName)
	require.NotNil(t, out.AlertTriggered())
	assert.Equal(t, "High Severity: USB Activity", *out.AlertTriggered())

	alerts, err := p.store.AlertsForEvent(ctx, out.EventID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, out.AlertID, alerts[0].ID)
	assert.Equal(t, "High Severity: USB Activity", alerts[0].RuleName)
	assert.Equal(t, 10, alerts[0].Priority)
	assert.Equal(t, "Rule: High Severity: USB Activity. CTI: INCONCLUSIVE (0%). UEBA: false. IP: 172.16.0.25.", alerts[0].Message)

	require.Len(t, p.dispatcher.requests, 1)
	req := p.dispatcher.requests[0]
	assert.Equal(t, out.AlertID, req.AlertID)
	assert.Equal(t, "High Severity: USB Activity", req.AlertName)
	assert.Equal(t, "172.16.0.25", req.IPAddress)
	require.NotNil(t, out.Dispatch)
	assert.True(t, out.Dispatch.OK)
}

func TestScenarioReputationDriven(t *testing.T) {
	p := newPipeline(t, threat.Verdict{Status: threat.StatusMalicious, Score: 85, Kind: threat.KindNone})
	ctx := context.Background()

	out, err := p.correlator.Process(ctx, core.NewEvent{
		Source:  "SNORT_IDS",
		Message: "[**] ET SCAN Nmap [**] {TCP} 45.33.32.156:4444 -> 10.0.0.5:22",
	})
	require.NoError(t, err)
	assert.True(t, out.Fired)
	assert.Equal(t, "45.33.32.156", out.IPAddress)
	assert.Equal(t, "45.33.32.156", p.oracle.lastIP.Load())
	assert.Equal(t, "Intelligent Alert", out.AlertName)

	alerts, err := p.store.AlertsForEvent(ctx, out.EventID)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, "Intelligent Alert", alerts[0].RuleName)
	assert.Contains(t, alerts[0].Message, "CTI: MALICIOUS")
	assert.Equal(t, "Rule: N/A. CTI: MALICIOUS (85%). UEBA: false. IP: 45.33.32.156.", alerts[0].Message)
}

func TestSuspiciousReputationDoesNotFire(t *testing.T) {
	p := newPipeline(t, threat.Verdict{Status: threat.StatusSuspicious, Score: 45, Kind: threat.KindNone})

	out, err := p.correlator.Process(context.Background(), core.NewEvent{Source: "fw", Message: "conn from 8.8.4.4"})
	require.NoError(t, err)
	assert.False(t, out.Fired)
	assert.Nil(t, out.AlertTriggered())
}

func TestScenarioNoSignal(t *testing.T) {
	p := newPipeline(t, inconclusive())
	ctx := context.Background()

	out, err := p.correlator.Process(ctx, core.NewEvent{Source: "H2", Message: "User logged in successfully"})
	require.NoError(t, err)
	assert.False(t, out.Fired)
	assert.Nil(t, out.AlertTriggered())
	assert.Nil(t, out.Dispatch)
	assert.Empty(t, out.IPAddress)
	assert.Equal(t, threat.StatusInconclusive, out.Reputation.Status)

	events, err := p.store.ListRecentEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, out.EventID, events[0].ID)

	alerts, err := p.store.ListAlerts(ctx)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, p.dispatcher.requests)
}

func TestScenarioAnomalyProducesTwoAlerts(t *testing.T) {
	p := newPipeline(t, inconclusive())
	ctx := context.Background()

	for i := 0; i < 11; i++ {
		_, err := p.store.AppendEvent(ctx, core.NewEvent{Source: "agent", Message: strings.Repeat("a", 20)})
		require.NoError(t, err)
	}
	_, err := p.store.AppendEvent(ctx, core.NewEvent{Source: "agent", Message: strings.Repeat("b", 22)})
	require.NoError(t, err)

	res, err := p.detector.Retrain(ctx, p.store)
	require.NoError(t, err)
	require.True(t, res.Trained)
	assert.Equal(t, 12, res.Samples)

	out, err := p.correlator.Process(ctx, core.NewEvent{Source: "agent", Message: strings.Repeat("x", 400)})
	require.NoError(t, err)
	assert.True(t, out.Anomaly.Anomalous)
	assert.NotZero(t, out.Anomaly.AlertID)
	assert.True(t, out.Fired)

	// The detector's own alert and the correlator's alert are both kept.
	alerts, err := p.store.AlertsForEvent(ctx, out.EventID)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	byName := map[string]core.Alert{}
	for _, a := range alerts {
		byName[a.RuleName] = a
	}
	assert.Equal(t, 7, byName["UEBA Anomaly"].Priority)
	assert.Contains(t, byName["UEBA Anomaly"].Message, "Length: 400 chars.")
	assert.Equal(t, 10, byName["Intelligent Alert"].Priority)
	assert.Contains(t, byName["Intelligent Alert"].Message, "UEBA: true")
	assert.Contains(t, byName["Intelligent Alert"].Message, "IP: None.")

	require.Len(t, p.dispatcher.requests, 1)
	assert.True(t, p.dispatcher.requests[0].Anomalous)
}

func TestReingestCreatesDistinctEvents(t *testing.T) {
	p := newPipeline(t, inconclusive())
	ev := core.NewEvent{Source: "H1", Message: "CRITICAL: USB device inserted into port 3.", IPAddress: "172.16.0.25"}

	first, err := p.correlator.Process(context.Background(), ev)
	require.NoError(t, err)
	second, err := p.correlator.Process(context.Background(), ev)
	require.NoError(t, err)

	assert.NotEqual(t, first.EventID, second.EventID)
	assert.NotEqual(t, first.AlertID, second.AlertID)
}

func TestDispatchFailureKeepsAlert(t *testing.T) {
	p := newPipeline(t, inconclusive())
	p.dispatcher.result = soar.DispatchResult{OK: false, Status: soar.StatusFailed, Kind: soar.KindTimeout}

	out, err := p.correlator.Process(context.Background(), core.NewEvent{Source: "H1", Message: "malware detected"})
	require.NoError(t, err)
	require.NotNil(t, out.Dispatch)
	assert.False(t, out.Dispatch.OK)
	assert.Equal(t, soar.KindTimeout, out.Dispatch.Kind)

	alerts, err := p.store.ListAlerts(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestEventPersistFailureAborts(t *testing.T) {
	oracle := &stubOracle{verdict: inconclusive()}
	d := &recordingDispatcher{}
	c := NewCorrelator(failingStore{eventErr: errors.New("disk I/O error")}, NewRuleEngine(DefaultRules()),
		oracle, ml.NewDetector(ml.DefaultDetectorConfig(), nil, nil, nil), d, nil)

	out, err := c.Process(context.Background(), core.NewEvent{Source: "H1", Message: "malware detected"})
	assert.ErrorContains(t, err, "disk I/O error")
	assert.Zero(t, out.EventID)
	assert.Equal(t, int32(0), oracle.calls.Load())
	assert.Empty(t, d.requests)
}

func TestAlertPersistFailureSkipsDispatch(t *testing.T) {
	d := &recordingDispatcher{}
	c := NewCorrelator(failingStore{alertErr: errors.New("database is locked")}, NewRuleEngine(DefaultRules()),
		&stubOracle{verdict: inconclusive()}, ml.NewDetector(ml.DefaultDetectorConfig(), nil, nil, nil), d, nil)

	out, err := c.Process(context.Background(), core.NewEvent{Source: "H1", Message: "malware detected"})
	assert.Error(t, err)
	assert.Equal(t, int64(1), out.EventID)
	assert.Empty(t, d.requests)
}

type rendezvousOracle struct {
	oracleStarted  chan struct{}
	anomalyStarted chan struct{}
	overlapped     atomic.Bool
}

func (r *rendezvousOracle) Check(ctx context.Context, ip string) threat.Verdict {
	close(r.oracleStarted)
	select {
	case <-r.anomalyStarted:
		r.overlapped.Store(true)
	case <-time.After(2 * time.Second):
	}
	return threat.Verdict{Status: threat.StatusClean, Kind: threat.KindNone}
}

func (r *rendezvousOracle) Evaluate(ctx context.Context, eventID int64, message string) ml.Assessment {
	close(r.anomalyStarted)
	select {
	case <-r.oracleStarted:
	case <-time.After(2 * time.Second):
	}
	return ml.Assessment{}
}

func TestEnrichmentRunsConcurrently(t *testing.T) {
	r := &rendezvousOracle{oracleStarted: make(chan struct{}), anomalyStarted: make(chan struct{})}
	store, err := storage.NewSQLite(filepath.Join(t.TempDir(), "c.db"), nil)
	require.NoError(t, err)
	defer store.Close()

	c := NewCorrelator(store, NewRuleEngine(DefaultRules()), r, r, &recordingDispatcher{}, nil)
	_, err = c.Process(context.Background(), core.NewEvent{Source: "H", Message: "hello 1.1.1.1"})
	require.NoError(t, err)
	assert.True(t, r.overlapped.Load())
}

type chanForwarder struct {
	events chan core.Event
}

func (f chanForwarder) Forward(ctx context.Context, ev core.Event) error {
	f.events <- ev
	return nil
}

func TestForwarderReceivesPersistedEvent(t *testing.T) {
	p := newPipeline(t, inconclusive())
	fwd := chanForwarder{events: make(chan core.Event, 1)}
	c := NewCorrelator(p.store, NewRuleEngine(DefaultRules()), p.oracle, p.detector, p.dispatcher, nil, WithForwarder(fwd))

	out, err := c.Process(context.Background(), core.NewEvent{Source: "H9", Message: "hello"})
	require.NoError(t, err)

	select {
	case ev := <-fwd.events:
		assert.Equal(t, out.EventID, ev.ID)
		assert.Equal(t, "H9", ev.Source)

		recent, err := p.store.ListRecentEvents(context.Background(), 1)
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.True(t, recent[0].ReceivedAt.Equal(ev.ReceivedAt),
			"forwarded time %s must match stored received_at %s", ev.ReceivedAt, recent[0].ReceivedAt)
	case <-time.After(time.Second):
		t.Fatal("event was not forwarded")
	}
}

func TestConcurrentPipelineRuns(t *testing.T) {
	p := newPipeline(t, inconclusive())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.correlator.Process(context.Background(), core.NewEvent{Source: "load", Message: "failed login for root"})
			assert.NoError(t, err)
		}()
	}
	require.NoError(t, testutil.WaitForGoroutines(&wg, 10*time.Second))

	alerts, err := p.store.ListAlerts(context.Background())
	require.NoError(t, err)
	assert.Len(t, alerts, 16)
}
