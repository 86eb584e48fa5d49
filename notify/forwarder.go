// Package notify forwards persisted events to an external SIEM collector.
package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"vigilanteye/core"
	"vigilanteye/metrics"
)

// ForwarderConfig configures a Splunk HTTP Event Collector endpoint. The
// forwarder is disabled when URL or Token is empty.
type ForwarderConfig struct {
	URL      string
	Token    string
	Timeout  time.Duration
	Insecure bool
}

// Forwarder posts events to a HEC endpoint on a best-effort basis.
type Forwarder struct {
	cfg    ForwarderConfig
	client *http.Client
	logger *zap.SugaredLogger
}

type hecEnvelope struct {
	Time  float64    `json:"time"`
	Host  string     `json:"host,omitempty"`
	Event core.Event `json:"event"`
}

// NewForwarder applies a 2s default timeout.
func NewForwarder(cfg ForwarderConfig, logger *zap.SugaredLogger) *Forwarder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Forwarder{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				// Insecure disables verification for self-signed collectors.
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: cfg.Insecure}, //nolint:gosec
			},
		},
		logger: logger,
	}
}

// Enabled reports whether Forward will send anything.
func (f *Forwarder) Enabled() bool {
	return f.cfg.URL != "" && f.cfg.Token != ""
}

// Forward sends ev. A disabled forwarder returns nil without I/O.
func (f *Forwarder) Forward(ctx context.Context, ev core.Event) error {
	if !f.Enabled() {
		return nil
	}
	err := f.send(ctx, ev)
	if err != nil {
		metrics.ForwarderFailures.Inc()
		f.logger.Warnw("Failed to forward event to SIEM", "event_id", ev.ID, "error", err)
	}
	return err
}

func (f *Forwarder) send(ctx context.Context, ev core.Event) error {
	body, err := json.Marshal(hecEnvelope{
		Time:  float64(ev.ReceivedAt.UnixNano()) / float64(time.Second),
		Host:  ev.Source,
		Event: ev,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Splunk "+f.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach collector: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}
