package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// trainResult mirrors the server's /train_ueba response.
type trainResult struct {
	Status  string `json:"status"`
	Trained bool   `json:"trained"`
	Samples int    `json:"samples"`
}

// newTrainCmd creates the 'train' subcommand. The baseline lives in the
// server's memory, so training is requested over HTTP.
func newTrainCmd() *cobra.Command {
	var serverURL string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Retrain the anomaly baseline on a running server",
		Long:  "Ask a running VigilantEye server to refit its message-length baseline from stored event history.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			var s *spinner.Spinner
			if !quiet && !outputJSON {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Training baseline..."
				s.Start()
			}

			result, err := requestTraining(ctx, http.DefaultClient, serverURL)
			if s != nil {
				s.Stop()
			}
			if err != nil {
				return err
			}

			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), result)
			}
			renderTrainResult(cmd.OutOrStdout(), result)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", defaultServerURL, "Base URL of the VigilantEye server")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultTimeout, "Request timeout")

	return cmd
}

func requestTraining(ctx context.Context, client *http.Client, serverURL string) (trainResult, error) {
	var out trainResult

	endpoint := strings.TrimRight(serverURL, "/") + "/train_ueba"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return out, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to reach server at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return out, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("training failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
