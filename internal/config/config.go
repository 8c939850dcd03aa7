package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Log           LogConfig           `yaml:"log" mapstructure:"log"`
	OpenFoodFacts OpenFoodFactsConfig `yaml:"openfoodfacts" mapstructure:"openfoodfacts"`
	FDC           FDCConfig           `yaml:"fdc" mapstructure:"fdc"`
	Resilience    ResilienceConfig    `yaml:"resilience" mapstructure:"resilience"`
	Sweep         SweepConfig         `yaml:"sweep" mapstructure:"sweep"`
	Report        ReportConfig        `yaml:"report" mapstructure:"report"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Monitoring    MonitoringConfig    `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the catalog database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// OpenFoodFactsConfig configures the barcode database client.
type OpenFoodFactsConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// FDCConfig configures the FoodData Central client.
type FDCConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	APIKey      string  `yaml:"api_key" mapstructure:"api_key"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	PageSize    int     `yaml:"page_size" mapstructure:"page_size"`
}

// ResilienceConfig configures retries and circuit breakers for upstream calls.
type ResilienceConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// SweepConfig configures the resolution sweep.
type SweepConfig struct {
	OrganizationID    string `yaml:"organization_id" mapstructure:"organization_id"`
	Concurrency       int    `yaml:"concurrency" mapstructure:"concurrency"`
	SourceConcurrency int    `yaml:"source_concurrency" mapstructure:"source_concurrency"`
	MaxProducts       int    `yaml:"max_products" mapstructure:"max_products"`
	MaxDurationMins   int    `yaml:"max_duration_mins" mapstructure:"max_duration_mins"`
	DryRun            bool   `yaml:"dry_run" mapstructure:"dry_run"`
	CreatedBy         string `yaml:"created_by" mapstructure:"created_by"`
}

// ReportConfig configures where sweep summaries are published.
type ReportConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	XLSX       bool   `yaml:"xlsx" mapstructure:"xlsx"`
	S3Bucket   string `yaml:"s3_bucket" mapstructure:"s3_bucket"`
	S3Prefix   string `yaml:"s3_prefix" mapstructure:"s3_prefix"`
	S3Region   string `yaml:"s3_region" mapstructure:"s3_region"`
	S3Endpoint string `yaml:"s3_endpoint" mapstructure:"s3_endpoint"`
}

// ServerConfig configures the HTTP surface used by the external scheduler.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures sweep health alerts. A zero threshold disables
// the corresponding check.
type MonitoringConfig struct {
	WebhookURL              string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold    float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	UnresolvedRateThreshold float64 `yaml:"unresolved_rate_threshold" mapstructure:"unresolved_rate_threshold"`
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
	v.SetEnvPrefix("AUTOPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 5)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("openfoodfacts.base_url", "https://world.openfoodfacts.org")
	v.SetDefault("openfoodfacts.timeout_secs", 8)
	v.SetDefault("openfoodfacts.rate_per_sec", 2.0)
	v.SetDefault("openfoodfacts.user_agent", "nutrient-autopilot/1.0")
	v.SetDefault("fdc.base_url", "https://api.nal.usda.gov/fdc/v1")
	v.SetDefault("fdc.api_key", "DEMO_KEY")
	v.SetDefault("fdc.timeout_secs", 8)
	v.SetDefault("fdc.rate_per_sec", 1.0)
	v.SetDefault("fdc.page_size", 12)
	v.SetDefault("resilience.max_attempts", 3)
	v.SetDefault("resilience.initial_backoff_ms", 250)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 60)
	v.SetDefault("store.database_url", "")
	v.SetDefault("sweep.organization_id", "")
	v.SetDefault("sweep.max_products", 0)
	v.SetDefault("sweep.dry_run", false)
	v.SetDefault("sweep.concurrency", 1)
	v.SetDefault("sweep.source_concurrency", 3)
	v.SetDefault("sweep.max_duration_mins", 0)
	v.SetDefault("sweep.created_by", "agent")
	v.SetDefault("report.dir", "reports")
	v.SetDefault("report.s3_prefix", "nutrient-sweeps")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.failure_rate_threshold", 0.2)
	v.SetDefault("monitoring.unresolved_rate_threshold", 0.5)

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

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "sweep":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateSweep()...)
		problems = append(problems, c.validateOrganization()...)
	case "resolve":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateSweep()...)
	case "serve":
		problems = append(problems, c.validateStore()...)
		problems = append(problems, c.validateSweep()...)
		problems = append(problems, c.validateOrganization()...)
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
	case "migrate":
		problems = append(problems, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var problems []string
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "sqlite":
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	return problems
}

func (c *Config) validateOrganization() []string {
	if strings.TrimSpace(c.Sweep.OrganizationID) == "" {
		return []string{"sweep.organization_id is required"}
	}
	return nil
}

func (c *Config) validateSweep() []string {
	var problems []string
	if c.Sweep.Concurrency < 1 || c.Sweep.Concurrency > 32 {
		problems = append(problems, "sweep.concurrency must be between 1 and 32")
	}
	if c.Sweep.SourceConcurrency < 1 {
		problems = append(problems, "sweep.source_concurrency must be >= 1")
	}
	if c.Sweep.MaxProducts < 0 {
		problems = append(problems, "sweep.max_products must be >= 0")
	}
	if c.OpenFoodFacts.TimeoutSecs <= 0 {
		problems = append(problems, "openfoodfacts.timeout_secs must be > 0")
	}
	return problems
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
