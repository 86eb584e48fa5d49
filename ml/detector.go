// Package ml holds the behavioral anomaly baseline: an isolation forest fitted
// over historical event message lengths.
package ml

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"vigilanteye/core"
	"vigilanteye/metrics"
)

// ErrInsufficientData is returned by Train when the history is shorter than
// the configured minimum. The current model is left untouched.
var ErrInsufficientData = errors.New("insufficient data to train baseline")

// DetectorConfig tunes the anomaly detector.
type DetectorConfig struct {
	// Threshold is the decision score below which a message is anomalous.
	Threshold  float64
	MinSamples int
	Forest     ForestConfig
}

// DefaultDetectorConfig returns threshold -0.1 with a ten-sample minimum.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{Threshold: -0.1, MinSamples: 10, Forest: DefaultForestConfig()}
}

// AlertWriter persists the detector's own alerts.
type AlertWriter interface {
	AppendAlert(ctx context.Context, a core.NewAlert) (int64, error)
}

// HistorySource supplies training history.
type HistorySource interface {
	EventMessageLengths(ctx context.Context) ([]int, error)
}

// TrainResult reports the outcome of a training request.
type TrainResult struct {
	Trained bool `json:"trained"`
	Samples int  `json:"samples"`

	// Subsample is the per-tree sample size of the fitted forest.
	Subsample int `json:"subsample,omitempty"`
}

// Assessment is the detector's verdict on one message.
type Assessment struct {
	Score     float64
	Scored    bool
	Anomalous bool
	// AlertID is the detector's own alert, zero when none was written.
	AlertID int64
}

// Detector scores messages against the baseline held by its handle.
type Detector struct {
	cfg    DetectorConfig
	handle *BaselineHandle
	alerts AlertWriter
	logger *zap.SugaredLogger
}

// NewDetector builds a detector. alerts may be nil, in which case anomalies
// are reported but not persisted.
func NewDetector(cfg DetectorConfig, handle *BaselineHandle, alerts AlertWriter, logger *zap.SugaredLogger) *Detector {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if handle == nil {
		handle = NewBaselineHandle()
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 10
	}
	if cfg.Forest.NumTrees <= 0 {
		cfg.Forest.NumTrees = 100
	}
	if cfg.Forest.SubsampleSize <= 0 {
		cfg.Forest.SubsampleSize = 256
	}
	return &Detector{cfg: cfg, handle: handle, alerts: alerts, logger: logger}
}

// Handle exposes the baseline handle shared with other components.
func (d *Detector) Handle() *BaselineHandle {
	return d.handle
}

// Trained reports whether a baseline is present.
func (d *Detector) Trained() bool {
	return d.handle.Load() != nil
}

// Train replaces the baseline with one fitted on lengths.
func (d *Detector) Train(lengths []int) (TrainResult, error) {
	res := TrainResult{Samples: len(lengths)}
	if len(lengths) < d.cfg.MinSamples {
		metrics.ModelTrainings.WithLabelValues("skipped").Inc()
		return res, fmt.Errorf("%w: have %d samples, need %d", ErrInsufficientData, len(lengths), d.cfg.MinSamples)
	}

	samples := make([]float64, len(lengths))
	for i, n := range lengths {
		samples[i] = float64(n)
	}

	start := time.Now()
	forest, err := Fit(samples, d.cfg.Forest)
	if err != nil {
		metrics.ModelTrainings.WithLabelValues("failed").Inc()
		return res, fmt.Errorf("failed to fit baseline: %w", err)
	}

	version := d.handle.Swap(&Baseline{Forest: forest, Samples: len(lengths), TrainedAt: time.Now()})
	metrics.ModelTrainings.WithLabelValues("trained").Inc()
	d.logger.Infow("Anomaly baseline trained",
		"samples", len(lengths), "trees", forest.NumTrees(), "subsample", forest.SampleSize(),
		"version", version, "duration", time.Since(start))

	res.Trained = true
	res.Subsample = forest.SampleSize()
	return res, nil
}

// Retrain reads the full history from src and trains on it.
func (d *Detector) Retrain(ctx context.Context, src HistorySource) (TrainResult, error) {
	lengths, err := src.EventMessageLengths(ctx)
	if err != nil {
		return TrainResult{}, fmt.Errorf("failed to load training history: %w", err)
	}
	return d.Train(lengths)
}

// Score returns the decision score for message and false when no baseline
// is trained.
func (d *Detector) Score(message string) (float64, bool) {
	b := d.handle.Load()
	if b == nil {
		return 0, false
	}
	return b.Forest.DecisionFunction(float64(utf8.RuneCountInString(message))), true
}

// IsAnomalous reports whether message falls below the threshold. It is
// always false without a baseline.
func (d *Detector) IsAnomalous(message string) bool {
	score, ok := d.Score(message)
	return ok && score < d.cfg.Threshold
}

// Evaluate scores message for eventID and, when anomalous, writes the
// detector's own alert. A failed write is logged and does not change the
// returned anomaly flag.
func (d *Detector) Evaluate(ctx context.Context, eventID int64, message string) Assessment {
	score, ok := d.Score(message)
	if !ok {
		return Assessment{}
	}
	metrics.AnomalyScores.Observe(score)

	a := Assessment{Score: score, Scored: true, Anomalous: score < d.cfg.Threshold}
	if !a.Anomalous || d.alerts == nil {
		return a
	}

	length := utf8.RuneCountInString(message)
	id, err := d.alerts.AppendAlert(ctx, core.NewAlert{
		LogID:    eventID,
		RuleName: core.AnomalyAlertName,
		Message:  fmt.Sprintf("[UEBA ANOMALY] Score: %.2f. Length: %d chars.", score, length),
		Priority: core.AnomalyAlertPriority,
	})
	if err != nil {
		d.logger.Errorw("Failed to persist anomaly alert", "event_id", eventID, "error", err)
		return a
	}
	metrics.AlertsCreated.WithLabelValues("anomaly").Inc()
	d.logger.Warnw("Anomaly detected", "event_id", eventID, "alert_id", id, "score", score, "length", length)
	a.AlertID = id
	return a
}
