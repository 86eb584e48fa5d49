package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"vigilanteye/config"
	"vigilanteye/core"
	"vigilanteye/threat"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	breaker := config.BreakerConfig{MaxFailures: 5, CoolDown: time.Minute, MaxTrials: 1}

	cfg := &config.Config{}
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Server.RateLimit = config.RateLimit{RequestsPerSecond: 100, Burst: 100}
	cfg.Server.ShutdownTimeout = time.Second
	cfg.Log.Level = "error"
	cfg.DataPaths = config.DataPaths{DataDir: dir, SQLitePath: filepath.Join(dir, "vigilanteye.db")}
	cfg.Engine = config.EngineConfig{ProcessTimeout: 5 * time.Second}
	cfg.Reputation = config.ReputationConfig{
		Endpoint: threat.DefaultAbuseIPDBEndpoint, MaxAgeDays: 90, Timeout: time.Second,
		MaliciousAbove: 60, SuspiciousAbove: 20, Breaker: breaker,
	}
	cfg.Cache = config.CacheConfig{Backend: "none", Size: 16, TTL: time.Minute}
	cfg.Anomaly = config.AnomalyConfig{Threshold: -0.1, MinSamples: 10, NumTrees: 100, SubsampleSize: 256, Seed: 42}
	cfg.SOAR = config.SOARConfig{BaseURL: "https://shuffler.io/api/v1/workflows/", Timeout: time.Second, Breaker: breaker}
	cfg.Forwarder.Timeout = time.Second
	return cfg
}

func TestNewAppWithConfigServesPipeline(t *testing.T) {
	app, err := NewAppWithConfig(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer app.Shutdown()

	assert.False(t, app.Detector.Trained())
	assert.Len(t, app.Rules.Rules(), 3)

	req := httptest.NewRequest(http.MethodPost, "/collect",
		strings.NewReader(`{"source":"H1","event":"CRITICAL: USB device inserted into port 3.","ip_address":"172.16.0.25"}`))
	rr := httptest.NewRecorder()
	app.APIServer.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"alert_triggered":"High Severity: USB Activity"`)

	alerts, err := app.Store.ListAlerts(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, core.CorrelatorAlertPriority, alerts[0].Priority)
}

// seedHistory stores n events through a throwaway app built from cfg.
func seedHistory(t *testing.T, cfg *config.Config, n int) {
	t.Helper()
	app, err := NewAppWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err := app.Store.AppendEvent(context.Background(), core.NewEvent{Source: "H", Message: fmt.Sprintf("event %d", i)})
		require.NoError(t, err)
	}
	app.Shutdown()
}

func TestNewAppDefaultConfigStartsUntrained(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := config.LoadConfig()
	require.NoError(t, err)
	require.False(t, cfg.Engine.TrainOnStartup)
	cfg.Log.Level = "error"

	seedHistory(t, cfg, 12)

	app, err := NewAppWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Shutdown()
	assert.False(t, app.Detector.Trained(), "stored history must not train the baseline without an admin request")

	req := httptest.NewRequest(http.MethodPost, "/train_ueba", nil)
	rr := httptest.NewRecorder()
	app.APIServer.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, app.Detector.Trained())
}

func TestNewAppTrainsOnStartupWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Engine.TrainOnStartup = true
	seedHistory(t, cfg, 12)

	app, err := NewAppWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	defer app.Shutdown()
	assert.True(t, app.Detector.Trained())
}

func TestInitSQLiteLogsStoredEventCount(t *testing.T) {
	cfg := testConfig(t)
	seedHistory(t, cfg, 3)

	obsCore, logs := observer.New(zap.InfoLevel)
	store, err := InitSQLite(DataDirectoriesFromConfig(cfg), zap.New(obsCore).Sugar())
	require.NoError(t, err)
	defer store.Close()

	entries := logs.FilterMessage("SQLite initialized successfully").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(3), entries[0].ContextMap()["stored_events"])
}

func TestNewAppRejectsBadRulesFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Rules.File = filepath.Join(t.TempDir(), "missing.yaml")

	_, err := NewAppWithConfig(context.Background(), cfg)
	assert.ErrorContains(t, err, "failed to load rules")
}

func TestAppStartAndShutdown(t *testing.T) {
	app, err := NewAppWithConfig(context.Background(), testConfig(t))
	require.NoError(t, err)

	require.NoError(t, app.Start(context.Background()))
	app.Shutdown()
	app.Shutdown()
}

func TestInitReputationBackends(t *testing.T) {
	sugar := zap.NewNop().Sugar()

	cfg := testConfig(t)
	oracle, closer, err := InitReputation(context.Background(), cfg, sugar)
	require.NoError(t, err)
	assert.IsType(t, &threat.AbuseIPDBClient{}, oracle)
	assert.Nil(t, closer)

	cfg.Cache.Backend = "lru"
	oracle, closer, err = InitReputation(context.Background(), cfg, sugar)
	require.NoError(t, err)
	assert.IsType(t, &threat.LRUCache{}, oracle)
	assert.Nil(t, closer)

	mr := miniredis.RunT(t)
	cfg.Cache.Backend = "redis"
	cfg.Cache.Redis.Addr = mr.Addr()
	oracle, closer, err = InitReputation(context.Background(), cfg, sugar)
	require.NoError(t, err)
	assert.IsType(t, &threat.RedisCache{}, oracle)
	require.NotNil(t, closer)

	// No key configured: lookups degrade without network I/O
	v := oracle.Check(context.Background(), "45.33.32.156")
	assert.Equal(t, threat.StatusInconclusive, v.Status)
	assert.NoError(t, closer.Close())
}

func TestInitLoggerLevels(t *testing.T) {
	logger, sugar, err := InitLogger("warn")
	require.NoError(t, err)
	assert.NotNil(t, sugar)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.WarnLevel))

	logger, _, err = InitLogger("bogus")
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.InfoLevel))
}
