package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/prospect-outreach/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Outreach   OutreachConfig   `yaml:"outreach" mapstructure:"outreach"`
	SES        SESConfig        `yaml:"ses" mapstructure:"ses"`
	Gmail      GmailConfig      `yaml:"gmail" mapstructure:"gmail"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Learner    LearnerConfig    `yaml:"learner" mapstructure:"learner"`
	Runner     RunnerConfig     `yaml:"runner" mapstructure:"runner"`
	Webhook    WebhookConfig    `yaml:"webhook" mapstructure:"webhook"`
	Signal     SignalConfig     `yaml:"signal" mapstructure:"signal"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres candidate store.
type StoreConfig struct {
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// RedisConfig configures the optional Redis used for trigger dedupe.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// OutreachConfig configures queueing and sending.
type OutreachConfig struct {
	DailyLimit       int     `yaml:"daily_limit" mapstructure:"daily_limit"`
	CooldownDays     int     `yaml:"cooldown_days" mapstructure:"cooldown_days"`
	SenderEmail      string  `yaml:"sender_email" mapstructure:"sender_email"`
	SenderName       string  `yaml:"sender_name" mapstructure:"sender_name"`
	ReplyTo          string  `yaml:"reply_to" mapstructure:"reply_to"`
	Provider         string  `yaml:"provider" mapstructure:"provider"`
	TemplatesPath    string  `yaml:"templates_path" mapstructure:"templates_path"`
	SendRatePerSec   float64 `yaml:"send_rate_per_sec" mapstructure:"send_rate_per_sec"`
	SendTimeoutSecs  int     `yaml:"send_timeout_secs" mapstructure:"send_timeout_secs"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// Cooldown returns the re-contact exclusion window.
func (c OutreachConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownDays) * 24 * time.Hour
}

// SendTimeout bounds a single provider call.
func (c OutreachConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSecs) * time.Second
}

// SESConfig holds AWS SES v2 settings.
type SESConfig struct {
	Region           string `yaml:"region" mapstructure:"region"`
	AccessKeyID      string `yaml:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key" mapstructure:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set" mapstructure:"configuration_set"`
}

// GmailConfig holds Gmail API OAuth settings.
type GmailConfig struct {
	ClientID     string `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string `yaml:"client_secret" mapstructure:"client_secret"`
	RefreshToken string `yaml:"refresh_token" mapstructure:"refresh_token"`
	User         string `yaml:"user" mapstructure:"user"`
}

// ScoringConfig seeds the first scoring model and bounds adaptive weights.
type ScoringConfig struct {
	Weights   map[string]float64 `yaml:"weights" mapstructure:"weights"`
	WeightMin float64            `yaml:"weight_min" mapstructure:"weight_min"`
	WeightMax float64            `yaml:"weight_max" mapstructure:"weight_max"`
}

// LearnerConfig tunes the feedback learner.
type LearnerConfig struct {
	LearningRate          float64 `yaml:"learning_rate" mapstructure:"learning_rate"`
	MaxWeightStep         float64 `yaml:"max_weight_step" mapstructure:"max_weight_step"`
	MinEvidenceSampleSize int     `yaml:"min_evidence_sample_size" mapstructure:"min_evidence_sample_size"`
	DriftThreshold        float64 `yaml:"drift_threshold" mapstructure:"drift_threshold"`
	DaysBack              int     `yaml:"days_back" mapstructure:"days_back"`
	LeaseTTLMins          int     `yaml:"lease_ttl_mins" mapstructure:"lease_ttl_mins"`
}

// RunnerConfig tunes the job runner.
type RunnerConfig struct {
	Workers            int `yaml:"workers" mapstructure:"workers"`
	MaxRetries         int `yaml:"max_retries" mapstructure:"max_retries"`
	PollIntervalSecs   int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	StaleTimeoutMins   int `yaml:"stale_timeout_mins" mapstructure:"stale_timeout_mins"`
	SweepIntervalSecs  int `yaml:"sweep_interval_secs" mapstructure:"sweep_interval_secs"`
	RetentionDays      int `yaml:"retention_days" mapstructure:"retention_days"`
	BackoffInitialSecs int `yaml:"backoff_initial_secs" mapstructure:"backoff_initial_secs"`
	BackoffMaxSecs     int `yaml:"backoff_max_secs" mapstructure:"backoff_max_secs"`
}

// WebhookConfig holds shared secrets for inbound HTTP calls.
type WebhookConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	CronSecret string `yaml:"cron_secret" mapstructure:"cron_secret"`
}

// SignalConfig selects the candidate source used by ingest.
type SignalConfig struct {
	Driver     string   `yaml:"driver" mapstructure:"driver"`
	Path       string   `yaml:"path" mapstructure:"path"`
	Sheet      string   `yaml:"sheet" mapstructure:"sheet"`
	Industries []string `yaml:"industries" mapstructure:"industries"`
	Regions    []string `yaml:"regions" mapstructure:"regions"`
	MaxResults int      `yaml:"max_results" mapstructure:"max_results"`
}

// MonitoringConfig configures health alerts.
type MonitoringConfig struct {
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailedJobsThreshold   int     `yaml:"failed_jobs_threshold" mapstructure:"failed_jobs_threshold"`
	StaleJobsThreshold    int     `yaml:"stale_jobs_threshold" mapstructure:"stale_jobs_threshold"`
	MissingEmailThreshold int     `yaml:"missing_email_threshold" mapstructure:"missing_email_threshold"`
	BounceRateThreshold   float64 `yaml:"bounce_rate_threshold" mapstructure:"bounce_rate_threshold"`
	CheckIntervalSecs     int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours   int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultWeights is the seed weight vector for the first scoring model.
func DefaultWeights() map[string]float64 {
	return map[string]float64{
		"no_autoresponder":   0.30,
		"slow_response":      0.25,
		"has_contact_form":   0.15,
		"weak_site_presence": 0.15,
		"industry_fit":       0.15,
	}
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("outreach.daily_limit", 50)
	v.SetDefault("outreach.cooldown_days", 90)
	v.SetDefault("outreach.provider", "gmail")
	v.SetDefault("outreach.sender_name", "Outreach Team")
	v.SetDefault("outreach.send_rate_per_sec", 1.0)
	v.SetDefault("outreach.send_timeout_secs", 30)
	v.SetDefault("outreach.breaker_threshold", 5)
	v.SetDefault("outreach.breaker_reset_secs", 60)
	v.SetDefault("ses.region", "us-east-1")
	v.SetDefault("gmail.user", "me")
	v.SetDefault("scoring.weights", DefaultWeights())
	v.SetDefault("scoring.weight_min", 0.01)
	v.SetDefault("scoring.weight_max", 1.0)
	v.SetDefault("learner.learning_rate", 0.1)
	v.SetDefault("learner.max_weight_step", 0.05)
	v.SetDefault("learner.min_evidence_sample_size", 20)
	v.SetDefault("learner.drift_threshold", 0.1)
	v.SetDefault("learner.days_back", 90)
	v.SetDefault("learner.lease_ttl_mins", 30)
	v.SetDefault("runner.workers", 4)
	v.SetDefault("runner.max_retries", 3)
	v.SetDefault("runner.poll_interval_secs", 5)
	v.SetDefault("runner.stale_timeout_mins", 15)
	v.SetDefault("runner.sweep_interval_secs", 60)
	v.SetDefault("runner.retention_days", 7)
	v.SetDefault("runner.backoff_initial_secs", 30)
	v.SetDefault("runner.backoff_max_secs", 900)
	v.SetDefault("signal.driver", "sqlite")
	v.SetDefault("signal.max_results", 500)
	v.SetDefault("monitoring.failed_jobs_threshold", 5)
	v.SetDefault("monitoring.stale_jobs_threshold", 1)
	v.SetDefault("monitoring.missing_email_threshold", 25)
	v.SetDefault("monitoring.bounce_rate_threshold", 0.1)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("server.port", 8080)
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

// Validate checks the configuration for the given command mode and reports
// every problem at once. Modes: store, serve, worker, ingest, learn.
func (c *Config) Validate(mode string) error {
	var errs []string

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Outreach.DailyLimit < 0 {
		errs = append(errs, "outreach.daily_limit must be >= 0")
	}
	if c.Outreach.CooldownDays < 0 {
		errs = append(errs, "outreach.cooldown_days must be >= 0")
	}
	if c.Scoring.WeightMin > c.Scoring.WeightMax {
		errs = append(errs, "scoring.weight_min must be <= scoring.weight_max")
	}

	switch mode {
	case "store":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
	case "worker":
		errs = append(errs, c.validateProvider()...)
		errs = append(errs, c.validateLearner()...)
		if c.Runner.Workers < 1 {
			errs = append(errs, "runner.workers must be >= 1")
		}
		if c.Runner.MaxRetries < 1 {
			errs = append(errs, "runner.max_retries must be >= 1")
		}
	case "ingest":
		if c.Signal.Path == "" {
			errs = append(errs, "signal.path is required")
		}
		if c.Signal.Driver != "sqlite" && c.Signal.Driver != "xlsx" {
			errs = append(errs, "signal.driver must be sqlite or xlsx")
		}
	case "learn":
		errs = append(errs, c.validateLearner()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateProvider() []string {
	var errs []string
	if c.Outreach.SenderEmail == "" {
		errs = append(errs, "outreach.sender_email is required")
	}
	switch c.Outreach.Provider {
	case "gmail":
		if c.Gmail.RefreshToken == "" || c.Gmail.ClientID == "" {
			errs = append(errs, "gmail.client_id and gmail.refresh_token are required")
		}
	case "ses":
		if c.SES.Region == "" {
			errs = append(errs, "ses.region is required")
		}
	default:
		errs = append(errs, "outreach.provider must be gmail or ses")
	}
	return errs
}

func (c *Config) validateLearner() []string {
	var errs []string
	if c.Learner.LearningRate <= 0 || c.Learner.LearningRate > 1 {
		errs = append(errs, "learner.learning_rate must be in (0, 1]")
	}
	if c.Learner.MaxWeightStep <= 0 {
		errs = append(errs, "learner.max_weight_step must be > 0")
	}
	if c.Learner.MinEvidenceSampleSize < 1 {
		errs = append(errs, "learner.min_evidence_sample_size must be >= 1")
	}
	return errs
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
