package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vigilanteye/bootstrap"
	"vigilanteye/ingest"
)

// newSnortCmd creates the 'snort' subcommand
func newSnortCmd() *cobra.Command {
	var (
		alertFile      string
		checkpointFile string
		collectorURL   string
		interval       time.Duration
		once           bool
	)

	cmd := &cobra.Command{
		Use:   "snort",
		Short: "Forward Snort fast alerts to the collector",
		Long: `Tail a Snort fast-alert file and submit every new line to the collector.

Progress is stored in a checkpoint file so restarts resume where they left off.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, sugar, err := bootstrap.InitLogger(logLevel())
			if err != nil {
				return err
			}
			defer sugar.Sync()

			poller := ingest.NewSnortPoller(ingest.SnortPollerConfig{
				AlertFile:      alertFile,
				CheckpointFile: checkpointFile,
				Interval:       interval,
			}, ingest.NewCollectorClient(collectorURL, 5*time.Second), sugar)

			if once {
				ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
				defer cancel()
				n, err := poller.PollOnce(ctx)
				if err != nil {
					return err
				}
				if !quiet {
					successColor.Fprintf(cmd.OutOrStdout(), "✓ Forwarded %d Snort alert(s)\n", n)
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sugar.Infow("Watching Snort alert file", "file", alertFile, "collector", collectorURL, "interval", interval)
			return ignoreCanceled(poller.Run(ctx))
		},
	}

	cmd.Flags().StringVar(&alertFile, "file", "snort_alerts.log", "Snort fast-alert file")
	cmd.Flags().StringVar(&checkpointFile, "checkpoint", "snort_checkpoint.txt", "Checkpoint file recording lines already sent")
	cmd.Flags().StringVar(&collectorURL, "url", defaultServerURL+"/collect", "Collector URL")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Polling interval")
	cmd.Flags().BoolVar(&once, "once", false, "Poll a single time and exit")

	return cmd
}

// newAgentCmd creates the 'agent' subcommand
func newAgentCmd() *cobra.Command {
	var (
		collectorURL string
		interval     time.Duration
		count        int
		seed         int64
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Simulate an endpoint agent",
		Long:  "Post randomly chosen endpoint events to the collector and print each result.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 0 {
				return fmt.Errorf("--count must not be negative, got %d", count)
			}
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			_, sugar, err := bootstrap.InitLogger(logLevel())
			if err != nil {
				return err
			}
			defer sugar.Sync()

			if !cmd.Flags().Changed("seed") {
				seed = time.Now().UnixNano()
			}
			agent := ingest.NewAgentSimulator(nil, ingest.NewCollectorClient(collectorURL, 5*time.Second), seed, sugar)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return ignoreCanceled(agent.Run(ctx, interval, count, func(res ingest.AgentResult) {
				reportAgentResult(out, res)
			}))
		},
	}

	cmd.Flags().StringVar(&collectorURL, "url", defaultServerURL+"/collect", "Collector URL")
	cmd.Flags().DurationVar(&interval, "interval", 3*time.Second, "Delay between events")
	cmd.Flags().IntVar(&count, "count", 0, "Number of events to send (0 runs until interrupted)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Random seed for template selection")

	return cmd
}

func reportAgentResult(w io.Writer, res ingest.AgentResult) {
	if outputJSON {
		_ = outputAsJSON(w, agentResultJSON(res))
		return
	}
	if res.Err != nil {
		errorColor.Fprintf(w, "✗ %s: %v\n", res.Template.Source, res.Err)
		return
	}
	if res.Response.AlertTriggered != nil {
		warningColor.Fprintf(w, "! %-18s %-60s -> %s\n", res.Template.Source, truncate(res.Template.Message, 60), *res.Response.AlertTriggered)
		return
	}
	if !quiet {
		fmt.Fprintf(w, "  %-18s %-60s -> no alert\n", res.Template.Source, truncate(res.Template.Message, 60))
	}
}

type agentResultOutput struct {
	Source         string  `json:"source"`
	Message        string  `json:"message"`
	EventID        int64   `json:"event_id,omitempty"`
	AlertTriggered *string `json:"alert_triggered"`
	Error          string  `json:"error,omitempty"`
}

func agentResultJSON(res ingest.AgentResult) agentResultOutput {
	out := agentResultOutput{
		Source:         res.Template.Source,
		Message:        res.Template.Message,
		EventID:        res.Response.EventID,
		AlertTriggered: res.Response.AlertTriggered,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func logLevel() string {
	if quiet {
		return "warn"
	}
	return "info"
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
