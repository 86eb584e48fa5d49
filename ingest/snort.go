package ingest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// SnortSource names events read from Snort alert files.
	SnortSource = "SNORT_IDS"
	// SnortUsername is the actor recorded for Snort events.
	SnortUsername = "system_alert"
)

// snortFlowPattern captures the source address of "a.b.c.d[:port] -> ...".
var snortFlowPattern = regexp.MustCompile(`(\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3})(?::\d+)?\s+->`)

// Submitter sends a payload to the collector.
type Submitter interface {
	Submit(ctx context.Context, p EventPayload) (CollectResponse, error)
}

// ParseSnortLine maps one alert.fast line to a payload. The source address
// of the flow is used when present.
func ParseSnortLine(line string) EventPayload {
	p := EventPayload{Source: SnortSource, Event: line, Username: SnortUsername}
	if m := snortFlowPattern.FindStringSubmatch(line); m != nil {
		p.IPAddress = m[1]
	}
	return p
}

// SnortPollerConfig configures SnortPoller.
type SnortPollerConfig struct {
	AlertFile      string
	CheckpointFile string
	Interval       time.Duration
}

// SnortPoller tails a Snort alert file and submits new lines.
type SnortPoller struct {
	cfg    SnortPollerConfig
	sink   Submitter
	logger *zap.SugaredLogger
}

// NewSnortPoller defaults Interval to 30s.
func NewSnortPoller(cfg SnortPollerConfig, sink Submitter, logger *zap.SugaredLogger) *SnortPoller {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &SnortPoller{cfg: cfg, sink: sink, logger: logger}
}

// PollOnce submits every line after the checkpoint. The checkpoint advances
// past each line as it is sent, so a failed submission is retried on the
// next poll. It returns the number of lines submitted.
func (p *SnortPoller) PollOnce(ctx context.Context) (int, error) {
	lines, err := readLines(p.cfg.AlertFile)
	if errors.Is(err, fs.ErrNotExist) {
		p.logger.Warnw("Snort alert file not found", "file", p.cfg.AlertFile)
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	offset := p.readCheckpoint()
	if offset > len(lines) {
		p.logger.Infow("Snort alert file shrank, restarting from the top", "checkpoint", offset, "lines", len(lines))
		offset = 0
	}

	sent := 0
	pos := offset
	for ; pos < len(lines); pos++ {
		line := strings.TrimSpace(lines[pos])
		if line == "" {
			continue
		}
		resp, err := p.sink.Submit(ctx, ParseSnortLine(line))
		if err != nil {
			if cpErr := p.writeCheckpoint(pos); cpErr != nil {
				p.logger.Errorw("Failed to write Snort checkpoint", "error", cpErr)
			}
			return sent, fmt.Errorf("failed to submit Snort line %d: %w", pos+1, err)
		}
		sent++
		if resp.AlertTriggered != nil {
			p.logger.Infow("Snort line raised alert", "line", pos+1, "alert", *resp.AlertTriggered)
		}
	}

	if pos != offset {
		if err := p.writeCheckpoint(pos); err != nil {
			return sent, err
		}
	}
	return sent, nil
}

// Run polls until ctx is done.
func (p *SnortPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		if n, err := p.PollOnce(ctx); err != nil {
			p.logger.Warnw("Snort poll failed", "error", err)
		} else if n > 0 {
			p.logger.Infow("Snort alerts forwarded", "count", n)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *SnortPoller) readCheckpoint() int {
	data, err := os.ReadFile(p.cfg.CheckpointFile)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || n < 0 {
		p.logger.Warnw("Ignoring unreadable Snort checkpoint", "file", p.cfg.CheckpointFile)
		return 0
	}
	return n
}

func (p *SnortPoller) writeCheckpoint(n int) error {
	if err := os.WriteFile(p.cfg.CheckpointFile, []byte(strconv.Itoa(n)), 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), MaxBodySize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return lines, nil
}
