// Package threat maps IP addresses to reputation verdicts using an external
// abuse-confidence service.
package threat

import "context"

// Status is the local reputation verdict for an address.
type Status string

const (
	StatusClean        Status = "CLEAN"
	StatusSuspicious   Status = "SUSPICIOUS"
	StatusMalicious    Status = "MALICIOUS"
	StatusInconclusive Status = "INCONCLUSIVE"
)

// ErrorKind classifies why a lookup degraded to INCONCLUSIVE.
type ErrorKind string

const (
	KindNone          ErrorKind = "none"
	KindNotConfigured ErrorKind = "not_configured"
	KindNoAddress     ErrorKind = "no_address"
	KindTimeout       ErrorKind = "timeout"
	KindAuthFailure   ErrorKind = "auth_failure"
	KindRateLimited   ErrorKind = "rate_limited"
	KindTransport     ErrorKind = "transport"
	KindBadStatus     ErrorKind = "bad_status"
	KindDecode        ErrorKind = "decode"
	KindCircuitOpen   ErrorKind = "circuit_open"
)

// Verdict is the inert result of a reputation check. Score is always within
// 0..100; it is 0 whenever Status is INCONCLUSIVE.
type Verdict struct {
	Status Status    `json:"status"`
	Score  int       `json:"score"`
	Kind   ErrorKind `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// Inconclusive builds a degraded verdict.
func Inconclusive(kind ErrorKind, detail string) Verdict {
	return Verdict{Status: StatusInconclusive, Kind: kind, Detail: detail}
}

// Oracle checks the reputation of an address. Implementations never return
// errors: every failure is folded into an INCONCLUSIVE verdict.
type Oracle interface {
	Check(ctx context.Context, ip string) Verdict
}

// Bands maps a 0..100 score to a status. A score strictly above
// MaliciousAbove is MALICIOUS, strictly above SuspiciousAbove is SUSPICIOUS,
// anything else is CLEAN.
type Bands struct {
	MaliciousAbove  int `mapstructure:"malicious_above"`
	SuspiciousAbove int `mapstructure:"suspicious_above"`
}

// DefaultBands returns the 60/20 split.
func DefaultBands() Bands {
	return Bands{MaliciousAbove: 60, SuspiciousAbove: 20}
}

// Classify maps score to a status.
func (b Bands) Classify(score int) Status {
	switch {
	case score > b.MaliciousAbove:
		return StatusMalicious
	case score > b.SuspiciousAbove:
		return StatusSuspicious
	default:
		return StatusClean
	}
}
