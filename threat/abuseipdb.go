package threat

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vigilanteye/core"
	"vigilanteye/metrics"
)

// DefaultAbuseIPDBEndpoint is the public check endpoint.
const DefaultAbuseIPDBEndpoint = "https://api.abuseipdb.com/api/v2/check"

// maxResponseBytes bounds how much of a response body is decoded.
const maxResponseBytes = 1 << 20

// AbuseIPDBConfig configures AbuseIPDBClient.
type AbuseIPDBConfig struct {
	APIKey     string
	Endpoint   string
	MaxAgeDays int
	Timeout    time.Duration
	Bands      Bands
	Breaker    core.BreakerConfig
}

// AbuseIPDBClient is an Oracle backed by an AbuseIPDB-compatible API.
type AbuseIPDBClient struct {
	cfg     AbuseIPDBConfig
	client  *http.Client
	breaker *core.CircuitBreaker
	logger  *zap.SugaredLogger
}

// NewAbuseIPDBClient fills defaults for zero fields. An empty APIKey is
// allowed: Check then reports not_configured without network I/O.
func NewAbuseIPDBClient(cfg AbuseIPDBConfig, logger *zap.SugaredLogger) (*AbuseIPDBClient, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultAbuseIPDBEndpoint
	}
	if cfg.MaxAgeDays <= 0 {
		cfg.MaxAgeDays = 90
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.Bands == (Bands{}) {
		cfg.Bands = DefaultBands()
	}
	if cfg.Bands.SuspiciousAbove > cfg.Bands.MaliciousAbove {
		return nil, fmt.Errorf("suspicious band (%d) must not exceed malicious band (%d)",
			cfg.Bands.SuspiciousAbove, cfg.Bands.MaliciousAbove)
	}
	if cfg.Breaker == (core.BreakerConfig{}) {
		cfg.Breaker = core.DefaultBreakerConfig()
	}
	breaker, err := core.NewCircuitBreaker(cfg.Breaker)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        core.HTTPClientMaxIdleConns,
		MaxIdleConnsPerHost: core.HTTPClientMaxIdleConnsPerHost,
		IdleConnTimeout:     core.HTTPClientIdleConnTimeout,
	}

	return &AbuseIPDBClient{
		cfg:     cfg,
		client:  &http.Client{Transport: transport},
		breaker: breaker,
		logger:  logger,
	}, nil
}

// Check queries the service for ip. It never blocks longer than the
// configured timeout and never returns an error.
func (c *AbuseIPDBClient) Check(ctx context.Context, ip string) Verdict {
	v := c.check(ctx, strings.TrimSpace(ip))
	metrics.ReputationVerdicts.WithLabelValues(string(v.Status)).Inc()
	if v.Kind != KindNone {
		metrics.ReputationErrors.WithLabelValues(string(v.Kind)).Inc()
		c.logger.Debugw("Reputation lookup degraded", "ip", ip, "kind", v.Kind, "detail", v.Detail)
	}
	return v
}

func (c *AbuseIPDBClient) check(ctx context.Context, ip string) Verdict {
	if ip == "" {
		return Inconclusive(KindNoAddress, "no address to check")
	}
	if c.cfg.APIKey == "" {
		return Inconclusive(KindNotConfigured, "reputation API key not configured")
	}
	if err := c.breaker.Allow(); err != nil {
		return Inconclusive(KindCircuitOpen, err.Error())
	}

	v, countsAsFailure := c.query(ctx, ip)
	if countsAsFailure {
		c.breaker.RecordFailure()
		if c.breaker.State() == core.BreakerOpen {
			c.logger.Warnw("Reputation circuit opened", "failures", c.breaker.Failures(), "cool_down", c.cfg.Breaker.CoolDown)
		}
	} else {
		c.breaker.RecordSuccess()
	}
	return v
}

// query performs the HTTP call. The bool reports whether the outcome should
// count against the circuit breaker.
func (c *AbuseIPDBClient) query(ctx context.Context, ip string) (Verdict, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	params := url.Values{}
	params.Set("ipAddress", ip)
	params.Set("maxAgeInDays", strconv.Itoa(c.cfg.MaxAgeDays))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return Inconclusive(KindTransport, fmt.Sprintf("failed to create request: %v", err)), false
	}
	req.Header.Set("Key", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			return Inconclusive(KindTimeout, "reputation lookup timed out"), true
		}
		return Inconclusive(KindTransport, err.Error()), true
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return Inconclusive(KindRateLimited, "rate limited"), false
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Inconclusive(KindAuthFailure, fmt.Sprintf("status %d", resp.StatusCode)), false
	case resp.StatusCode != http.StatusOK:
		return Inconclusive(KindBadStatus, fmt.Sprintf("status %d", resp.StatusCode)), resp.StatusCode >= 500
	}

	var body struct {
		Data *struct {
			AbuseConfidenceScore *int `json:"abuseConfidenceScore"`
		} `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		if isTimeout(ctx, err) {
			return Inconclusive(KindTimeout, "reputation lookup timed out"), true
		}
		return Inconclusive(KindDecode, fmt.Sprintf("failed to decode response: %v", err)), false
	}
	if body.Data == nil || body.Data.AbuseConfidenceScore == nil {
		return Inconclusive(KindDecode, "response missing abuseConfidenceScore"), false
	}

	score := clampScore(*body.Data.AbuseConfidenceScore)
	return Verdict{Status: c.cfg.Bands.Classify(score), Score: score, Kind: KindNone}, false
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
