// Package soar triggers automated response workflows for fired alerts.
package soar

import (
	"time"

	"vigilanteye/threat"
)

// ErrorKind classifies a dispatch outcome.
type ErrorKind string

const (
	KindNone          ErrorKind = "none"
	KindNotConfigured ErrorKind = "not_configured"
	KindTimeout       ErrorKind = "timeout"
	KindAuthFailure   ErrorKind = "auth_failure"
	KindTransport     ErrorKind = "transport"
	KindBadStatus     ErrorKind = "bad_status"
	KindEncode        ErrorKind = "encode"
	KindCircuitOpen   ErrorKind = "circuit_open"
)

// Status is the lifecycle state of a dispatch.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Request carries the decision context of a fired alert.
type Request struct {
	AlertID    int64
	AlertName  string
	IPAddress  string
	Reputation threat.Verdict
	Anomalous  bool
}

// DispatchResult is the inert outcome of one dispatch attempt. OK is true
// only for a 2xx response.
type DispatchResult struct {
	OK          bool          `json:"ok"`
	Status      Status        `json:"status"`
	Kind        ErrorKind     `json:"kind"`
	Detail      string        `json:"detail,omitempty"`
	StatusCode  int           `json:"status_code,omitempty"`
	DispatchID  string        `json:"dispatch_id,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
}

// executionArgument is the document the workflow receives.
type executionArgument struct {
	AlertID       int64   `json:"alert_id"`
	ThreatName    string  `json:"threat_name"`
	TargetIP      *string `json:"target_ip"`
	CTIStatus     string  `json:"cti_status"`
	UEBAAnomaly   bool    `json:"ueba_anomaly"`
	Priority      int     `json:"priority"`
	TriggerSource string  `json:"trigger_source"`
	DispatchID    string  `json:"dispatch_id"`
}

type executeBody struct {
	ExecutionArgument string `json:"execution_argument"`
}
