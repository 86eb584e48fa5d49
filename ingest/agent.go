package ingest

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// AgentTemplate is one canned endpoint event.
type AgentTemplate struct {
	Source    string
	Message   string
	IPAddress string
	Username  string
}

// DefaultAgentTemplates mix benign activity with events that trip the
// built-in rules.
func DefaultAgentTemplates() []AgentTemplate {
	return []AgentTemplate{
		{Source: "Maaz-Workstation", Message: "CRITICAL: USB device inserted into port 3.", IPAddress: "172.16.0.25", Username: "maaz"},
		{Source: "Maaz-Workstation", Message: "User maaz logged in successfully.", IPAddress: "172.16.0.25", Username: "maaz"},
		{Source: "FIN-Laptop-07", Message: "Failed login attempt for user administrator.", IPAddress: "172.16.0.41", Username: "administrator"},
		{Source: "FIN-Laptop-07", Message: "Scheduled backup completed.", IPAddress: "172.16.0.41", Username: "svc_backup"},
		{Source: "DEV-Server-02", Message: "Malware detected: trojan.gen quarantined by endpoint protection.", IPAddress: "10.10.10.5", Username: "subhan"},
		{Source: "DEV-Server-02", Message: "Outbound connection to 185.220.101.1 on port 443 established.", IPAddress: "10.10.10.5", Username: "subhan"},
		{Source: "HR-Desktop-11", Message: "Windows Update installed KB5034441.", IPAddress: "172.16.0.77", Username: "ayesha"},
	}
}

// AgentResult is the outcome of one simulated submission.
type AgentResult struct {
	Template AgentTemplate
	Response CollectResponse
	Err      error
}

// AgentSimulator posts randomly chosen templates to the collector.
type AgentSimulator struct {
	templates []AgentTemplate
	sink      Submitter
	rng       *rand.Rand
	logger    *zap.SugaredLogger
}

// NewAgentSimulator uses DefaultAgentTemplates when templates is empty.
func NewAgentSimulator(templates []AgentTemplate, sink Submitter, seed int64, logger *zap.SugaredLogger) *AgentSimulator {
	if len(templates) == 0 {
		templates = DefaultAgentTemplates()
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &AgentSimulator{
		templates: templates,
		sink:      sink,
		rng:       rand.New(rand.NewSource(seed)),
		logger:    logger,
	}
}

// SendOne submits a single random template.
func (a *AgentSimulator) SendOne(ctx context.Context) AgentResult {
	t := a.templates[a.rng.Intn(len(a.templates))]
	resp, err := a.sink.Submit(ctx, EventPayload{
		Source:    t.Source,
		Event:     t.Message,
		IPAddress: t.IPAddress,
		Username:  t.Username,
	})
	return AgentResult{Template: t, Response: resp, Err: err}
}

// Run sends count events, or runs until ctx ends when count is zero,
// invoking report after each submission.
func (a *AgentSimulator) Run(ctx context.Context, interval time.Duration, count int, report func(AgentResult)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for sent := 0; count == 0 || sent < count; sent++ {
		res := a.SendOne(ctx)
		if res.Err != nil {
			a.logger.Warnw("Agent submission failed", "source", res.Template.Source, "error", res.Err)
		}
		if report != nil {
			report(res)
		}
		if count != 0 && sent+1 == count {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
