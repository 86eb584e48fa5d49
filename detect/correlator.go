package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"vigilanteye/core"
	"vigilanteye/metrics"
	"vigilanteye/ml"
	"vigilanteye/soar"
	"vigilanteye/threat"
	"vigilanteye/util/goroutine"
)

// EventStore is the persistence the correlator writes through.
type EventStore interface {
	AppendEvent(ctx context.Context, ev core.NewEvent) (core.Event, error)
	AppendAlert(ctx context.Context, a core.NewAlert) (int64, error)
}

// AnomalyEvaluator scores an already persisted event. Implementations may
// write their own alert as a side effect.
type AnomalyEvaluator interface {
	Evaluate(ctx context.Context, eventID int64, message string) ml.Assessment
}

// Dispatcher triggers the response workflow for a fired alert.
type Dispatcher interface {
	Dispatch(ctx context.Context, req soar.Request) soar.DispatchResult
}

// Forwarder mirrors persisted events to an external collector.
type Forwarder interface {
	Forward(ctx context.Context, ev core.Event) error
}

// Outcome records every stage of one correlator run.
type Outcome struct {
	EventID    int64
	IPAddress  string
	Reputation threat.Verdict
	Anomaly    ml.Assessment
	RuleHit    string
	Fired      bool
	AlertID    int64
	AlertName  string
	Dispatch   *soar.DispatchResult
}

// AlertTriggered returns the fired alert name, or nil when nothing fired.
func (o Outcome) AlertTriggered() *string {
	if !o.Fired {
		return nil
	}
	name := o.AlertName
	return &name
}

// Correlator runs the per-event detection pipeline.
type Correlator struct {
	store      EventStore
	rules      *RuleEngine
	oracle     threat.Oracle
	anomaly    AnomalyEvaluator
	dispatcher Dispatcher
	forwarder  Forwarder
	logger     *zap.SugaredLogger
}

// CorrelatorOption customizes a Correlator.
type CorrelatorOption func(*Correlator)

// WithForwarder mirrors every persisted event through f.
func WithForwarder(f Forwarder) CorrelatorOption {
	return func(c *Correlator) { c.forwarder = f }
}

// NewCorrelator wires the pipeline stages. All collaborators are required.
func NewCorrelator(store EventStore, rules *RuleEngine, oracle threat.Oracle, anomaly AnomalyEvaluator,
	dispatcher Dispatcher, logger *zap.SugaredLogger, opts ...CorrelatorOption) *Correlator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	c := &Correlator{
		store:      store,
		rules:      rules,
		oracle:     oracle,
		anomaly:    anomaly,
		dispatcher: dispatcher,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Process runs one event through persist, enrich, detect, decide, alert and
// respond. Only storage failures are returned as errors; when the event was
// persisted before the failure the returned Outcome carries its id.
func (c *Correlator) Process(ctx context.Context, ev core.NewEvent) (Outcome, error) {
	start := time.Now()
	defer func() { metrics.PipelineDuration.Observe(time.Since(start).Seconds()) }()

	var out Outcome

	stored, err := c.store.AppendEvent(ctx, ev)
	if err != nil {
		return out, fmt.Errorf("failed to persist event: %w", err)
	}
	id := stored.ID
	out.EventID = id
	metrics.EventsIngested.WithLabelValues(ev.Source).Inc()
	c.forward(stored)

	out.IPAddress = core.ResolveIP(ev.IPAddress, ev.Message)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		out.Reputation = c.oracle.Check(ctx, out.IPAddress)
	}()
	go func() {
		defer wg.Done()
		out.Anomaly = c.anomaly.Evaluate(ctx, id, ev.Message)
	}()

	if rule, ok := c.rules.Evaluate(ev.Message); ok {
		out.RuleHit = rule.Name
	}
	wg.Wait()

	out.Fired = out.RuleHit != "" || out.Reputation.Status == threat.StatusMalicious || out.Anomaly.Anomalous
	if !out.Fired {
		c.logger.Debugw("Event processed without alert", "event_id", id, "reputation", out.Reputation.Status)
		return out, nil
	}

	out.AlertName = out.RuleHit
	if out.AlertName == "" {
		out.AlertName = core.IntelligentAlertName
	}
	alertID, err := c.store.AppendAlert(ctx, core.NewAlert{
		LogID:    id,
		RuleName: out.AlertName,
		Message:  renderAlertMessage(out),
		Priority: core.CorrelatorAlertPriority,
	})
	if err != nil {
		return out, fmt.Errorf("failed to persist alert for event %d: %w", id, err)
	}
	out.AlertID = alertID
	metrics.AlertsCreated.WithLabelValues("correlator").Inc()
	c.logger.Infow("Alert created",
		"event_id", id, "alert_id", alertID, "rule", out.AlertName,
		"reputation", out.Reputation.Status, "score", out.Reputation.Score, "anomalous", out.Anomaly.Anomalous)

	res := c.dispatcher.Dispatch(ctx, soar.Request{
		AlertID:    alertID,
		AlertName:  out.AlertName,
		IPAddress:  out.IPAddress,
		Reputation: out.Reputation,
		Anomalous:  out.Anomaly.Anomalous,
	})
	out.Dispatch = &res
	return out, nil
}

func (c *Correlator) forward(stored core.Event) {
	if c.forwarder == nil {
		return
	}
	goroutine.Go("siem-forwarder", c.logger, func() {
		_ = c.forwarder.Forward(context.Background(), stored)
	})
}

func renderAlertMessage(o Outcome) string {
	rule := o.RuleHit
	if rule == "" {
		rule = "N/A"
	}
	ip := o.IPAddress
	if ip == "" {
		ip = "None"
	}
	return fmt.Sprintf("Rule: %s. CTI: %s (%d%%). UEBA: %v. IP: %s.",
		rule, o.Reputation.Status, o.Reputation.Score, o.Anomaly.Anomalous, ip)
}
