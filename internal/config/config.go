package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config is the top-level application configuration.
type Config struct {
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Stats      StatsConfig      `yaml:"stats" mapstructure:"stats"`
	SampleSize SampleSizeConfig `yaml:"samplesize" mapstructure:"samplesize"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	MaxIterations  int      `yaml:"max_iterations" mapstructure:"max_iterations"`
}

// SearchConfig configures seed searches.
type SearchConfig struct {
	Iterations  int `yaml:"iterations" mapstructure:"iterations"`
	Workers     int `yaml:"workers" mapstructure:"workers"`
	TimeoutSecs int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	TopN        int `yaml:"top_n" mapstructure:"top_n"`
}

// StatsConfig holds hypothesis test defaults.
type StatsConfig struct {
	Alpha        float64 `yaml:"alpha" mapstructure:"alpha"`
	Sidedness    string  `yaml:"sidedness" mapstructure:"sidedness"`
	BHCorrection bool    `yaml:"bh_correction" mapstructure:"bh_correction"`
}

// SampleSizeConfig holds sample-size planner defaults.
type SampleSizeConfig struct {
	Power float64 `yaml:"power" mapstructure:"power"`
}

// MonitoringConfig configures background alerting on search health.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ABTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit_rps", 5)
	v.SetDefault("server.rate_limit_burst", 10)
	v.SetDefault("server.max_iterations", 100)
	v.SetDefault("search.iterations", 1000)
	v.SetDefault("search.workers", 0)
	v.SetDefault("search.timeout_secs", 0)
	v.SetDefault("search.top_n", 3)
	v.SetDefault("stats.alpha", 0.05)
	v.SetDefault("stats.sidedness", "two-sided")
	v.SetDefault("stats.bh_correction", false)
	v.SetDefault("samplesize.power", 0.8)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)

	// Read config file (optional)
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

// Validate checks the settings a command mode depends on. Mode is one of
// "search", "analyze", "samplesize", or "serve".
func (c *Config) Validate(mode string) error {
	var errs []string

	checkStats := func() {
		if !(c.Stats.Alpha > 0 && c.Stats.Alpha < 1) {
			errs = append(errs, "stats.alpha must be in (0,1)")
		}
		switch c.Stats.Sidedness {
		case "two-sided", "less", "greater":
		default:
			errs = append(errs, "stats.sidedness must be two-sided, less, or greater")
		}
	}
	checkSearch := func() {
		if c.Search.Iterations < 1 {
			errs = append(errs, "search.iterations must be >= 1")
		}
		if c.Search.Workers < 0 {
			errs = append(errs, "search.workers must be >= 0")
		}
		if c.Search.TimeoutSecs < 0 {
			errs = append(errs, "search.timeout_secs must be >= 0")
		}
		if c.Search.TopN < 1 {
			errs = append(errs, "search.top_n must be >= 1")
		}
	}
	checkPower := func() {
		if !(c.SampleSize.Power > 0 && c.SampleSize.Power < 1) {
			errs = append(errs, "samplesize.power must be in (0,1)")
		}
	}

	switch mode {
	case "search":
		checkStats()
		checkSearch()
	case "analyze":
		checkStats()
	case "samplesize":
		checkStats()
		checkPower()
	case "serve":
		checkStats()
		checkSearch()
		checkPower()
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.MaxIterations < 1 {
			errs = append(errs, "server.max_iterations must be >= 1")
		}
		if c.Server.RateLimitRPS <= 0 || c.Server.RateLimitBurst < 1 {
			errs = append(errs, "server.rate_limit_rps and server.rate_limit_burst must be positive")
		}
		if c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1 {
			errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
