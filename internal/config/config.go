package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Services ServicesConfig `yaml:"services" mapstructure:"services"`
	Matching MatchingConfig `yaml:"matching" mapstructure:"matching"`
	Poller   PollerConfig   `yaml:"poller" mapstructure:"poller"`
	Tasks    TasksConfig    `yaml:"tasks" mapstructure:"tasks"`
	Notify   NotifyConfig   `yaml:"notify" mapstructure:"notify"`
	Breaker  BreakerConfig  `yaml:"breaker" mapstructure:"breaker"`
	Retry    RetryConfig    `yaml:"retry" mapstructure:"retry"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// ServicesConfig holds the base URLs of the backend services and the dashboard.
type ServicesConfig struct {
	Extraction  ServiceEndpoint `yaml:"extraction" mapstructure:"extraction"`
	Matching    ServiceEndpoint `yaml:"matching" mapstructure:"matching"`
	Calling     ServiceEndpoint `yaml:"calling" mapstructure:"calling"`
	Dashboard   ServiceEndpoint `yaml:"dashboard" mapstructure:"dashboard"`
	TimeoutSecs int             `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ServiceEndpoint is one service's address.
type ServiceEndpoint struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MatchingConfig configures the matching fan-out.
type MatchingConfig struct {
	// Mode is "local" (orchestrator fans out per batch) or "remote" (the
	// service runs the batched search).
	Mode       string  `yaml:"mode" mapstructure:"mode"`
	BatchSize  int     `yaml:"batch_size" mapstructure:"batch_size"`
	SearchRate float64 `yaml:"search_rate" mapstructure:"search_rate"`
}

// PollerConfig configures calling status polling.
type PollerConfig struct {
	IntervalMs  int `yaml:"interval_ms" mapstructure:"interval_ms"`
	MaxFailures int `yaml:"max_failures" mapstructure:"max_failures"`
}

// Interval returns the poll interval as a duration.
func (p PollerConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMs) * time.Millisecond
}

// TasksConfig configures the dispatcher's task table.
type TasksConfig struct {
	RetentionSecs int `yaml:"retention_secs" mapstructure:"retention_secs"`
}

// Retention returns how long finished tasks are kept.
func (t TasksConfig) Retention() time.Duration {
	return time.Duration(t.RetentionSecs) * time.Second
}

// NotifyConfig configures the best-effort observer sink.
type NotifyConfig struct {
	QueueSize     int `yaml:"queue_size" mapstructure:"queue_size"`
	TimeoutMs     int `yaml:"timeout_ms" mapstructure:"timeout_ms"`
	RetryAttempts int `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// BreakerConfig configures per-service circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetSecs        int `yaml:"reset_secs" mapstructure:"reset_secs"`
}

// RetryConfig configures retries of component service calls. The default of
// one attempt means failures surface immediately.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ORCHESTRATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("services.extraction.base_url", "http://127.0.0.1:8080")
	v.SetDefault("services.matching.base_url", "http://127.0.0.1:8001")
	v.SetDefault("services.calling.base_url", "http://127.0.0.1:8002")
	v.SetDefault("services.dashboard.base_url", "http://localhost:8765")
	v.SetDefault("services.timeout_secs", 120)
	v.SetDefault("matching.mode", "local")
	v.SetDefault("matching.batch_size", 5)
	v.SetDefault("matching.search_rate", 0)
	v.SetDefault("poller.interval_ms", 3000)
	v.SetDefault("poller.max_failures", 3)
	v.SetDefault("tasks.retention_secs", 900)
	v.SetDefault("notify.queue_size", 256)
	v.SetDefault("notify.timeout_ms", 1000)
	v.SetDefault("notify.retry_attempts", 2)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_secs", 30)
	v.SetDefault("retry.max_attempts", 1)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("server.port", 7999)
	v.SetDefault("server.cors_origins", []string{"http://localhost:8501"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the values the orchestrator cannot run without.
func (c *Config) Validate() error {
	var problems []string
	for name, ep := range map[string]ServiceEndpoint{
		"extraction": c.Services.Extraction,
		"matching":   c.Services.Matching,
		"calling":    c.Services.Calling,
		"dashboard":  c.Services.Dashboard,
	} {
		if strings.TrimSpace(ep.BaseURL) == "" {
			problems = append(problems, "services."+name+".base_url is required")
		}
	}
	switch c.Matching.Mode {
	case "local", "remote":
	default:
		problems = append(problems, "matching.mode must be local or remote")
	}
	if c.Matching.BatchSize <= 0 {
		problems = append(problems, "matching.batch_size must be positive")
	}
	if c.Poller.IntervalMs <= 0 {
		problems = append(problems, "poller.interval_ms must be positive")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
