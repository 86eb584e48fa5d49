package bootstrap

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"vigilanteye/config"
)

// InitLogger initializes the zap logger with colored console output at the
// given level. An unknown level falls back to info.
func InitLogger(level string) (*zap.Logger, *zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // Colored levels
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder        // Readable timestamps
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder      // Short file paths

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zap.NewAtomicLevelAt(lvl),
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration and resolves credentials
// through the configured secret provider.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}

	manager, err := config.NewSecretManager(cfg)
	if err != nil {
		// Credentials stay as configured; affected components run degraded
		sugar.Warnw("Secret provider unavailable", "provider", cfg.Secrets.Provider, "error", err)
	} else if missing := config.LoadSecrets(cfg, manager); len(missing) > 0 {
		sugar.Infow("Some credentials are not configured", "provider", cfg.Secrets.Provider, "missing", missing)
	}

	sugar.Infow("Config loaded",
		"addr", cfg.Server.Addr,
		"sqlite_path", cfg.GetSQLitePath(),
		"cache_backend", cfg.Cache.Backend,
		"reputation_configured", cfg.Reputation.APIKey != "",
		"soar_configured", cfg.SOAR.APIKey != "" && cfg.SOAR.WorkflowID != "",
		"forwarder_enabled", cfg.Forwarder.URL != "" && cfg.Forwarder.Token != "")

	return cfg, nil
}
