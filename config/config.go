package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration.
type DataPaths struct {
	// DataDir is the base data directory (VIGILANTEYE_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the event store file (VIGILANTEYE_SQLITE_PATH, default: ${DataDir}/vigilanteye.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// RateLimit bounds ingestion per client address.
type RateLimit struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gt=0"`
}

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	RateLimit       RateLimit     `mapstructure:"rate_limit"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// EngineConfig tunes the correlator pipeline.
type EngineConfig struct {
	// TrainOnStartup fits the anomaly baseline from stored history at boot.
	TrainOnStartup bool `mapstructure:"train_on_startup"`
	// ProcessTimeout bounds one pipeline run.
	ProcessTimeout time.Duration `mapstructure:"process_timeout" validate:"gt=0"`
}

// BreakerConfig mirrors core.BreakerConfig for the external clients.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures" validate:"gt=0"`
	CoolDown    time.Duration `mapstructure:"cool_down" validate:"gt=0"`
	MaxTrials   uint32        `mapstructure:"max_trials" validate:"gt=0"`
}

// ReputationConfig configures the IP reputation oracle.
type ReputationConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	Endpoint        string        `mapstructure:"endpoint" validate:"required,url"`
	MaxAgeDays      int           `mapstructure:"max_age_days" validate:"gte=1,lte=365"`
	Timeout         time.Duration `mapstructure:"timeout" validate:"gt=0"`
	MaliciousAbove  int           `mapstructure:"malicious_above" validate:"gte=0,lte=100"`
	SuspiciousAbove int           `mapstructure:"suspicious_above" validate:"gte=0,lte=100"`
	Breaker         BreakerConfig `mapstructure:"breaker"`
}

// RedisConfig configures the shared reputation cache.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
	PoolSize int    `mapstructure:"pool_size" validate:"gte=0"`
}

// CacheConfig selects the reputation cache decorator.
type CacheConfig struct {
	Backend string        `mapstructure:"backend" validate:"oneof=none lru redis"`
	Size    int           `mapstructure:"size" validate:"gte=0"`
	TTL     time.Duration `mapstructure:"ttl" validate:"gte=0"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// AnomalyConfig configures the message-length baseline.
type AnomalyConfig struct {
	Threshold     float64 `mapstructure:"threshold" validate:"gte=-0.5,lte=0.5"`
	MinSamples    int     `mapstructure:"min_samples" validate:"gte=2"`
	NumTrees      int     `mapstructure:"num_trees" validate:"gte=1,lte=10000"`
	SubsampleSize int     `mapstructure:"subsample_size" validate:"gte=2"`
	Seed          int64   `mapstructure:"seed"`
}

// RulesConfig points at an optional YAML or JSON rule file.
type RulesConfig struct {
	File string `mapstructure:"file"`
}

// SOARConfig configures the response workflow dispatcher.
type SOARConfig struct {
	BaseURL       string        `mapstructure:"base_url" validate:"required,url"`
	WorkflowID    string        `mapstructure:"workflow_id"`
	APIKey        string        `mapstructure:"api_key"`
	Timeout       time.Duration `mapstructure:"timeout" validate:"gt=0"`
	TriggerSource string        `mapstructure:"trigger_source"`
	Breaker       BreakerConfig `mapstructure:"breaker"`
}

// ForwarderConfig configures the optional external SIEM forwarder.
type ForwarderConfig struct {
	URL      string        `mapstructure:"url" validate:"omitempty,url"`
	Token    string        `mapstructure:"token"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gt=0"`
	Insecure bool          `mapstructure:"insecure"`
}

// SecretsConfig selects where credentials are resolved from.
type SecretsConfig struct {
	Provider string `mapstructure:"provider" validate:"oneof=env vault aws"`
	Vault    struct {
		Address string `mapstructure:"address"`
		Token   string `mapstructure:"token"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"vault"`
	AWS struct {
		Region    string `mapstructure:"region"`
		AccessKey string `mapstructure:"access_key"`
		SecretKey string `mapstructure:"secret_key"`
		SecretID  string `mapstructure:"secret_id"`
	} `mapstructure:"aws"`
}

// Config holds all configuration for the VigilantEye service
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	DataPaths  DataPaths        `mapstructure:"data_paths"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Reputation ReputationConfig `mapstructure:"reputation"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Anomaly    AnomalyConfig    `mapstructure:"anomaly"`
	Rules      RulesConfig      `mapstructure:"rules"`
	SOAR       SOARConfig       `mapstructure:"soar"`
	Forwarder  ForwarderConfig  `mapstructure:"forwarder"`
	Secrets    SecretsConfig    `mapstructure:"secrets"`
}

var configValidator = validator.New()

func setDefaults() {
	viper.SetDefault("server.addr", ":8000")
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.trust_proxy", false)
	viper.SetDefault("server.allowed_origins", []string{})
	viper.SetDefault("server.rate_limit.requests_per_second", 50.0)
	viper.SetDefault("server.rate_limit.burst", 100)

	viper.SetDefault("log.level", "info")

	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("engine.train_on_startup", false)
	viper.SetDefault("engine.process_timeout", 15*time.Second)

	viper.SetDefault("reputation.api_key", "")
	viper.SetDefault("reputation.endpoint", "https://api.abuseipdb.com/api/v2/check")
	viper.SetDefault("reputation.max_age_days", 90)
	viper.SetDefault("reputation.timeout", 3*time.Second)
	viper.SetDefault("reputation.malicious_above", 60)
	viper.SetDefault("reputation.suspicious_above", 20)
	viper.SetDefault("reputation.breaker.max_failures", 5)
	viper.SetDefault("reputation.breaker.cool_down", 60*time.Second)
	viper.SetDefault("reputation.breaker.max_trials", 1)

	viper.SetDefault("cache.backend", "none")
	viper.SetDefault("cache.size", 1024)
	viper.SetDefault("cache.ttl", time.Hour)
	viper.SetDefault("cache.redis.addr", "localhost:6379")
	viper.SetDefault("cache.redis.db", 0)
	viper.SetDefault("cache.redis.pool_size", 10)

	viper.SetDefault("anomaly.threshold", -0.1)
	viper.SetDefault("anomaly.min_samples", 10)
	viper.SetDefault("anomaly.num_trees", 100)
	viper.SetDefault("anomaly.subsample_size", 256)
	viper.SetDefault("anomaly.seed", 42)

	viper.SetDefault("rules.file", "")

	viper.SetDefault("soar.base_url", "https://shuffler.io/api/v1/workflows/")
	viper.SetDefault("soar.workflow_id", "")
	viper.SetDefault("soar.api_key", "")
	viper.SetDefault("soar.timeout", 5*time.Second)
	viper.SetDefault("soar.trigger_source", "VigilantEye_Intelligent_Processor")
	viper.SetDefault("soar.breaker.max_failures", 5)
	viper.SetDefault("soar.breaker.cool_down", 60*time.Second)
	viper.SetDefault("soar.breaker.max_trials", 1)

	viper.SetDefault("forwarder.url", "")
	viper.SetDefault("forwarder.token", "")
	viper.SetDefault("forwarder.timeout", 2*time.Second)
	viper.SetDefault("forwarder.insecure", false)

	viper.SetDefault("secrets.provider", "env")
	viper.SetDefault("secrets.vault.path", "secret/vigilanteye")
	viper.SetDefault("secrets.aws.region", "us-east-1")
	viper.SetDefault("secrets.aws.secret_id", "vigilanteye/secrets")
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("VIGILANTEYE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Shorter names for the settings operators touch most
	_ = viper.BindEnv("data_paths.data_dir", "VIGILANTEYE_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "VIGILANTEYE_SQLITE_PATH")
	_ = viper.BindEnv("reputation.api_key", "VIGILANTEYE_ABUSEIPDB_KEY")
	_ = viper.BindEnv("soar.api_key", "VIGILANTEYE_SHUFFLE_API_KEY")
	_ = viper.BindEnv("soar.workflow_id", "VIGILANTEYE_SHUFFLE_WORKFLOW_ID")
	_ = viper.BindEnv("forwarder.token", "VIGILANTEYE_SPLUNK_HEC_TOKEN")
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No file: defaults and env vars only
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir.
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}
	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "vigilanteye.db")
	} else if c.DataPaths.SQLitePath != ":memory:" && !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}
	c.DataPaths.DataDir = dataDir
}

// GetSQLitePath returns the resolved SQLite database path
func (c *Config) GetSQLitePath() string {
	if c.DataPaths.SQLitePath == "" {
		dataDir := c.DataPaths.DataDir
		if dataDir == "" {
			dataDir = "./data"
		}
		return filepath.Join(dataDir, "vigilanteye.db")
	}
	return c.DataPaths.SQLitePath
}

// validateConfig validates the configuration for correctness
func validateConfig(config *Config) error {
	if err := configValidator.Struct(config); err != nil {
		return err
	}

	if config.Reputation.SuspiciousAbove >= config.Reputation.MaliciousAbove {
		return fmt.Errorf("reputation.suspicious_above (%d) must be below reputation.malicious_above (%d)",
			config.Reputation.SuspiciousAbove, config.Reputation.MaliciousAbove)
	}

	if config.Cache.Backend == "redis" && config.Cache.Redis.Addr == "" {
		return fmt.Errorf("cache.redis.addr is required when cache.backend is redis")
	}

	if config.Forwarder.URL != "" {
		parsed, err := url.Parse(config.Forwarder.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("invalid forwarder.url: must be an http or https URL")
		}
	}

	switch config.Secrets.Provider {
	case "vault":
		if config.Secrets.Vault.Address == "" {
			return fmt.Errorf("secrets.vault.address is required when secrets.provider is vault")
		}
	case "aws":
		if config.Secrets.AWS.Region == "" {
			return fmt.Errorf("secrets.aws.region is required when secrets.provider is aws")
		}
	}

	return nil
}
