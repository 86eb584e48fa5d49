package soar

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"vigilanteye/core"
	"vigilanteye/metrics"
)

const (
	// DefaultBaseURL is the Shuffle workflows API root.
	DefaultBaseURL = "https://shuffler.io/api/v1/workflows/"
	// DefaultTriggerSource tags every execution argument.
	DefaultTriggerSource = "VigilantEye_Intelligent_Processor"
)

// Config identifies the workflow to execute. Dispatch is skipped when
// WorkflowID or APIKey is empty.
type Config struct {
	BaseURL       string
	WorkflowID    string
	APIKey        string
	Timeout       time.Duration
	TriggerSource string
	Breaker       core.BreakerConfig
}

// Dispatcher executes the configured workflow once per fired alert. It
// never retries.
type Dispatcher struct {
	cfg     Config
	client  *http.Client
	breaker *core.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewDispatcher fills defaults for zero fields.
func NewDispatcher(cfg Config, logger *zap.SugaredLogger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.TriggerSource == "" {
		cfg.TriggerSource = DefaultTriggerSource
	}
	if cfg.Breaker == (core.BreakerConfig{}) {
		cfg.Breaker = core.DefaultBreakerConfig()
	}
	breaker, err := core.NewCircuitBreaker(cfg.Breaker)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:        core.HTTPClientMaxIdleConns,
				MaxIdleConnsPerHost: core.HTTPClientMaxIdleConnsPerHost,
				IdleConnTimeout:     core.HTTPClientIdleConnTimeout,
			},
		},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Configured reports whether dispatches will reach the network.
func (d *Dispatcher) Configured() bool {
	return d.cfg.WorkflowID != "" && d.cfg.APIKey != ""
}

func (d *Dispatcher) executeURL() string {
	return strings.TrimRight(d.cfg.BaseURL, "/") + "/" + d.cfg.WorkflowID + "/execute"
}

// Dispatch submits req to the workflow engine. Failures are reported in the
// result and never returned as errors.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) DispatchResult {
	res := d.dispatch(ctx, req)
	res.CompletedAt = time.Now()
	res.Duration = res.CompletedAt.Sub(res.StartedAt)
	metrics.DispatchOutcomes.WithLabelValues(string(res.Kind)).Inc()

	switch res.Status {
	case StatusCompleted:
		d.logger.Infow("Response workflow triggered",
			"alert_id", req.AlertID, "dispatch_id", res.DispatchID, "status_code", res.StatusCode)
	case StatusSkipped:
		d.logger.Debugw("Response workflow not configured, dispatch skipped", "alert_id", req.AlertID)
	default:
		d.logger.Warnw("Response workflow dispatch failed",
			"alert_id", req.AlertID, "kind", res.Kind, "detail", res.Detail, "status_code", res.StatusCode)
	}
	return res
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) DispatchResult {
	res := DispatchResult{StartedAt: time.Now()}
	if !d.Configured() {
		res.Status = StatusSkipped
		res.Kind = KindNotConfigured
		res.Detail = "skipped: workflow not configured"
		return res
	}

	res.DispatchID = uuid.New().String()
	body, err := d.encode(req, res.DispatchID)
	if err != nil {
		return failed(res, KindEncode, err.Error())
	}

	if err := d.breaker.Allow(); err != nil {
		return failed(res, KindCircuitOpen, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.executeURL(), bytes.NewReader(body))
	if err != nil {
		d.recordFailure()
		return failed(res, KindTransport, fmt.Sprintf("failed to create request: %v", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+d.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", res.DispatchID)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		d.recordFailure()
		if isTimeout(ctx, err) {
			return failed(res, KindTimeout, "workflow request timed out")
		}
		return failed(res, KindTransport, err.Error())
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	res.StatusCode = resp.StatusCode
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		d.breaker.RecordSuccess()
		res.OK = true
		res.Status = StatusCompleted
		res.Kind = KindNone
		return res
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		d.breaker.RecordSuccess()
		return failed(res, KindAuthFailure, fmt.Sprintf("workflow rejected credentials: status %d", resp.StatusCode))
	default:
		if resp.StatusCode >= 500 {
			d.recordFailure()
		} else {
			d.breaker.RecordSuccess()
		}
		return failed(res, KindBadStatus, fmt.Sprintf("workflow returned status %d", resp.StatusCode))
	}
}

func (d *Dispatcher) encode(req Request, dispatchID string) ([]byte, error) {
	var target *string
	if req.IPAddress != "" {
		ip := req.IPAddress
		target = &ip
	}
	arg, err := json.Marshal(executionArgument{
		AlertID:       req.AlertID,
		ThreatName:    req.AlertName,
		TargetIP:      target,
		CTIStatus:     string(req.Reputation.Status),
		UEBAAnomaly:   req.Anomalous,
		Priority:      core.CorrelatorAlertPriority,
		TriggerSource: d.cfg.TriggerSource,
		DispatchID:    dispatchID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution argument: %w", err)
	}
	return json.Marshal(executeBody{ExecutionArgument: string(arg)})
}

func (d *Dispatcher) recordFailure() {
	d.breaker.RecordFailure()
	if d.breaker.State() == core.BreakerOpen {
		d.logger.Warnw("Workflow circuit opened", "failures", d.breaker.Failures(), "cool_down", d.cfg.Breaker.CoolDown)
	}
}

func failed(res DispatchResult, kind ErrorKind, detail string) DispatchResult {
	res.OK = false
	res.Status = StatusFailed
	res.Kind = kind
	res.Detail = detail
	return res
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
