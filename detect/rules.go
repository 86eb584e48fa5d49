// Package detect holds the signature rule engine and the correlator that
// combines rule, reputation and anomaly signals per event.
package detect

import (
	"strings"

	"vigilanteye/core"
)

// DefaultRules returns the built-in signatures, in evaluation order.
func DefaultRules() []core.Rule {
	return []core.Rule{
		{Name: "High Severity: USB Activity", Keyword: "usb device inserted", Message: "Unauthorized USB device detected", Priority: 8},
		{Name: "Suspicious: Failed Login Attempts", Keyword: "failed login", Message: "Multiple failed login attempts", Priority: 5},
		{Name: "Critical: Malware Confirmation", Keyword: "malware detected", Message: "Malware confirmed on host", Priority: 10},
	}
}

// RuleEngine matches messages against an ordered rule list. It is immutable
// and safe for concurrent use.
type RuleEngine struct {
	rules    []core.Rule
	keywords []string
}

// NewRuleEngine copies rules. Rules with a blank keyword are dropped since
// they would match every message.
func NewRuleEngine(rules []core.Rule) *RuleEngine {
	e := &RuleEngine{
		rules:    make([]core.Rule, 0, len(rules)),
		keywords: make([]string, 0, len(rules)),
	}
	for _, r := range rules {
		kw := strings.ToLower(strings.TrimSpace(r.Keyword))
		if kw == "" {
			continue
		}
		e.rules = append(e.rules, r)
		e.keywords = append(e.keywords, kw)
	}
	return e
}

// Evaluate returns the first rule whose keyword occurs in message, ignoring
// case.
func (e *RuleEngine) Evaluate(message string) (core.Rule, bool) {
	lowered := strings.ToLower(message)
	for i, kw := range e.keywords {
		if strings.Contains(lowered, kw) {
			return e.rules[i], true
		}
	}
	return core.Rule{}, false
}

// Rules returns a copy of the active rule list.
func (e *RuleEngine) Rules() []core.Rule {
	out := make([]core.Rule, len(e.rules))
	copy(out, e.rules)
	return out
}
