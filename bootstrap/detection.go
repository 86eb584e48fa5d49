package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"vigilanteye/config"
	"vigilanteye/core"
	"vigilanteye/detect"
	"vigilanteye/ml"
	"vigilanteye/notify"
	"vigilanteye/soar"
	"vigilanteye/storage"
	"vigilanteye/threat"
)

func breakerConfig(c config.BreakerConfig) core.BreakerConfig {
	return core.BreakerConfig{MaxFailures: c.MaxFailures, CoolDown: c.CoolDown, MaxTrials: c.MaxTrials}
}

// InitReputation builds the oracle client and wraps it in the configured
// cache. The returned closer releases the cache connection, if any.
func InitReputation(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (threat.Oracle, io.Closer, error) {
	client, err := threat.NewAbuseIPDBClient(threat.AbuseIPDBConfig{
		APIKey:     cfg.Reputation.APIKey,
		Endpoint:   cfg.Reputation.Endpoint,
		MaxAgeDays: cfg.Reputation.MaxAgeDays,
		Timeout:    cfg.Reputation.Timeout,
		Bands: threat.Bands{
			MaliciousAbove:  cfg.Reputation.MaliciousAbove,
			SuspiciousAbove: cfg.Reputation.SuspiciousAbove,
		},
		Breaker: breakerConfig(cfg.Reputation.Breaker),
	}, sugar)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize reputation client: %w", err)
	}
	if cfg.Reputation.APIKey == "" {
		sugar.Warn("Reputation API key not configured, lookups will be INCONCLUSIVE")
	}

	switch cfg.Cache.Backend {
	case "lru":
		sugar.Infow("Reputation cache enabled", "backend", "lru", "size", cfg.Cache.Size, "ttl", cfg.Cache.TTL)
		return threat.NewLRUCache(client, cfg.Cache.Size, cfg.Cache.TTL), nil, nil
	case "redis":
		cache := threat.NewRedisCache(client, threat.RedisOptions{
			Addr:     cfg.Cache.Redis.Addr,
			Password: cfg.Cache.Redis.Password,
			DB:       cfg.Cache.Redis.DB,
			PoolSize: cfg.Cache.Redis.PoolSize,
			TTL:      cfg.Cache.TTL,
		}, sugar)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := cache.Ping(pingCtx); err != nil {
			// Lookups still fall through to the oracle while Redis is down
			sugar.Warnf("Reputation cache degraded:\n%s", ClassifyConnectionError(err, "Redis", cfg.Cache.Redis.Addr))
		} else {
			sugar.Infow("Reputation cache enabled", "backend", "redis", "addr", cfg.Cache.Redis.Addr, "ttl", cfg.Cache.TTL)
		}
		return cache, cache, nil
	default:
		return client, nil, nil
	}
}

// InitDetector builds the anomaly detector and, when configured, fits the
// first baseline from stored history. Insufficient history is not an error.
func InitDetector(ctx context.Context, cfg *config.Config, store *storage.SQLite, sugar *zap.SugaredLogger) (*ml.Detector, error) {
	detector := ml.NewDetector(ml.DetectorConfig{
		Threshold:  cfg.Anomaly.Threshold,
		MinSamples: cfg.Anomaly.MinSamples,
		Forest: ml.ForestConfig{
			NumTrees:      cfg.Anomaly.NumTrees,
			SubsampleSize: cfg.Anomaly.SubsampleSize,
			Seed:          cfg.Anomaly.Seed,
		},
	}, ml.NewBaselineHandle(), store, sugar)

	if !cfg.Engine.TrainOnStartup {
		return detector, nil
	}
	res, err := detector.Retrain(ctx, store)
	switch {
	case err == nil:
		sugar.Infow("Anomaly baseline trained from history", "samples", res.Samples)
	case errors.Is(err, ml.ErrInsufficientData):
		sugar.Infow("Anomaly baseline not trained yet", "samples", res.Samples, "min_samples", cfg.Anomaly.MinSamples)
	default:
		return nil, fmt.Errorf("failed to train anomaly baseline: %w", err)
	}
	return detector, nil
}

// LoadRules reads the rule file, or the built-in rules when none is set.
func LoadRules(cfg *config.Config, sugar *zap.SugaredLogger) (*detect.RuleEngine, error) {
	rules, err := detect.LoadRulesOrDefault(cfg.Rules.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	source := cfg.Rules.File
	if source == "" {
		source = "built-in"
	}
	sugar.Infow("Detection rules loaded", "count", len(rules), "source", source)
	return detect.NewRuleEngine(rules), nil
}

// InitDispatcher builds the response workflow dispatcher.
func InitDispatcher(cfg *config.Config, sugar *zap.SugaredLogger) (*soar.Dispatcher, error) {
	dispatcher, err := soar.NewDispatcher(soar.Config{
		BaseURL:       cfg.SOAR.BaseURL,
		WorkflowID:    cfg.SOAR.WorkflowID,
		APIKey:        cfg.SOAR.APIKey,
		Timeout:       cfg.SOAR.Timeout,
		TriggerSource: cfg.SOAR.TriggerSource,
		Breaker:       breakerConfig(cfg.SOAR.Breaker),
	}, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize response dispatcher: %w", err)
	}
	if !dispatcher.Configured() {
		sugar.Warn("Response workflow not configured, dispatches will be skipped")
	}
	return dispatcher, nil
}

// InitForwarder builds the external SIEM forwarder, or nil when disabled.
func InitForwarder(cfg *config.Config, sugar *zap.SugaredLogger) *notify.Forwarder {
	f := notify.NewForwarder(notify.ForwarderConfig{
		URL:      cfg.Forwarder.URL,
		Token:    cfg.Forwarder.Token,
		Timeout:  cfg.Forwarder.Timeout,
		Insecure: cfg.Forwarder.Insecure,
	}, sugar)
	if !f.Enabled() {
		return nil
	}
	sugar.Infow("SIEM forwarder enabled", "url", cfg.Forwarder.URL)
	return f
}
