// Package config loads and validates tender-watch configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Keywords   KeywordsConfig   `mapstructure:"keywords"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Headless   HeadlessConfig   `mapstructure:"headless"`
	Store      StoreConfig      `mapstructure:"store"`
	Email      EmailConfig      `mapstructure:"email"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Events     EventsConfig     `mapstructure:"events"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Server     ServerConfig     `mapstructure:"server"`
}

// GeneralConfig locates purpose files and databases.
type GeneralConfig struct {
	ConfigDir string `mapstructure:"config_dir"`
	DataDir   string `mapstructure:"data_dir"`
	// Timezone is the zone digests are stamped in.
	Timezone string `mapstructure:"timezone"`
	DryRun   bool   `mapstructure:"dry_run"`
}

// LoggingConfig toggles zap development features and file rotation.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
}

// KeywordsConfig tunes the matcher.
type KeywordsConfig struct {
	MatchFields   []string `mapstructure:"match_fields"`
	Exclusions    []string `mapstructure:"exclusions"`
	CaseSensitive bool     `mapstructure:"case_sensitive"`
}

// SourceOverride replaces a registered source's URL or renderer.
type SourceOverride struct {
	URL      string `mapstructure:"url"`
	Renderer string `mapstructure:"renderer"`
}

// SourcesConfig selects which registered sources run.
type SourcesConfig struct {
	// Enabled lists sources to run; empty means every registered source.
	Enabled   []string                  `mapstructure:"enabled"`
	Disabled  []string                  `mapstructure:"disabled"`
	Overrides map[string]SourceOverride `mapstructure:"overrides"`
}

// SupervisorConfig controls unit execution.
type SupervisorConfig struct {
	UnitTimeout    time.Duration `mapstructure:"unit_timeout"`
	PacingMin      time.Duration `mapstructure:"pacing_min"`
	PacingMax      time.Duration `mapstructure:"pacing_max"`
	Concurrency    int           `mapstructure:"concurrency"`
	TerminateGrace time.Duration `mapstructure:"terminate_grace"`
}

// HTTPConfig configures the colly transport.
type HTTPConfig struct {
	Timeout           time.Duration `mapstructure:"timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
}

// HeadlessConfig configures the chromedp transport.
type HeadlessConfig struct {
	Enabled           bool          `mapstructure:"enabled"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	AcceptLanguage    string        `mapstructure:"accept_language"`
	ExecPath          string        `mapstructure:"exec_path"`
	Settle            time.Duration `mapstructure:"settle"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Driver   string         `mapstructure:"driver"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig controls the pgx pool.
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

// EmailConfig selects the delivery provider and digest policy.
type EmailConfig struct {
	Provider        string      `mapstructure:"provider"`
	From            string      `mapstructure:"from"`
	FromName        string      `mapstructure:"from_name"`
	SubjectTemplate string      `mapstructure:"subject_template"`
	SendEmptyReport bool        `mapstructure:"send_empty_report"`
	Footer          string      `mapstructure:"footer"`
	SMTP            SMTPConfig  `mapstructure:"smtp"`
	Brevo           BrevoConfig `mapstructure:"brevo"`
	Gmail           GmailConfig `mapstructure:"gmail"`
}

// SMTPConfig configures the SMTP relay.
type SMTPConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	Attempts   uint          `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// BrevoConfig configures the Brevo API.
type BrevoConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Endpoint   string        `mapstructure:"endpoint"`
	Attempts   uint          `mapstructure:"attempts"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// GmailConfig configures the Gmail API.
type GmailConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	Endpoint        string `mapstructure:"endpoint"`
}

// ArchiveConfig selects where sent digests are kept.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// EventsConfig selects the run event publisher.
type EventsConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
}

// MetricsConfig controls the Pushgateway push at run end.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// TelemetryConfig toggles tracing.
type TelemetryConfig struct {
	Tracing bool `mapstructure:"tracing"`
	Stdout  bool `mapstructure:"stdout"`
}

// ServerConfig controls the status API.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// APIKey, when set, is required on every /api request via X-API-Key.
	APIKey string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TENDERWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.config_dir", "config")
	v.SetDefault("general.data_dir", "data")
	v.SetDefault("general.dry_run", false)
	v.SetDefault("general.timezone", "Europe/Berlin")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("keywords.match_fields", []string{"title", "organization", "category"})
	v.SetDefault("keywords.case_sensitive", false)
	v.SetDefault("supervisor.unit_timeout", 300*time.Second)
	v.SetDefault("supervisor.pacing_min", 6*time.Second)
	v.SetDefault("supervisor.pacing_max", 10*time.Second)
	v.SetDefault("supervisor.concurrency", 1)
	v.SetDefault("supervisor.terminate_grace", 5*time.Second)
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; tender-watch/1.0)")
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.retry_delay", time.Second)
	v.SetDefault("http.requests_per_second", 1.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("headless.enabled", true)
	v.SetDefault("headless.navigation_timeout", 45*time.Second)
	v.SetDefault("headless.accept_language", "de-DE,de;q=0.9")
	v.SetDefault("headless.settle", 2*time.Second)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.postgres.max_conns", 4)
	v.SetDefault("store.postgres.migrate", true)
	v.SetDefault("store.postgres.lock_ttl", 2*time.Hour)
	v.SetDefault("email.provider", "log")
	v.SetDefault("email.subject_template", "Ausschreibungen {purpose} - {date}")
	v.SetDefault("email.send_empty_report", true)
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.attempts", 3)
	v.SetDefault("email.smtp.retry_delay", 2*time.Second)
	v.SetDefault("email.brevo.attempts", 3)
	v.SetDefault("email.brevo.retry_delay", 2*time.Second)
	v.SetDefault("archive.provider", "noop")
	v.SetDefault("archive.prefix", "digests")
	v.SetDefault("events.provider", "noop")
	v.SetDefault("events.topic_id", "tender-runs")
	v.SetDefault("metrics.job", "tenderwatch")
	v.SetDefault("telemetry.tracing", false)
	v.SetDefault("telemetry.stdout", false)
	v.SetDefault("server.port", 8080)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.General.ConfigDir) == "" {
		errs = append(errs, errors.New("general.config_dir is required"))
	}
	if strings.TrimSpace(c.General.DataDir) == "" {
		errs = append(errs, errors.New("general.data_dir is required"))
	}
	if c.Supervisor.UnitTimeout <= 0 {
		errs = append(errs, errors.New("supervisor.unit_timeout must be > 0"))
	}
	if c.Supervisor.PacingMin < 0 || c.Supervisor.PacingMax < c.Supervisor.PacingMin {
		errs = append(errs, errors.New("supervisor.pacing_min must be >= 0 and <= supervisor.pacing_max"))
	}
	if c.Supervisor.Concurrency <= 0 {
		errs = append(errs, errors.New("supervisor.concurrency must be > 0"))
	}
	if c.HTTP.Timeout <= 0 {
		errs = append(errs, errors.New("http.timeout must be > 0"))
	}
	if c.HTTP.MaxRetries < 0 {
		errs = append(errs, errors.New("http.max_retries must be >= 0"))
	}
	if c.Headless.Enabled && c.Headless.NavigationTimeout <= 0 {
		errs = append(errs, errors.New("headless.navigation_timeout must be > 0 when headless is enabled"))
	}
	for name, o := range c.Sources.Overrides {
		switch strings.ToLower(o.Renderer) {
		case "", "http", "headless":
		default:
			errs = append(errs, fmt.Errorf("sources.overrides.%s.renderer must be http or headless", name))
		}
	}

	switch strings.ToLower(c.Store.Driver) {
	case "sqlite":
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			errs = append(errs, errors.New("store.postgres.dsn must be set when store.driver is postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q must be sqlite or postgres", c.Store.Driver))
	}

	switch strings.ToLower(c.Email.Provider) {
	case "log":
	case "smtp":
		if c.Email.SMTP.Host == "" {
			errs = append(errs, errors.New("email.smtp.host must be set when email.provider is smtp"))
		}
	case "brevo":
		if c.Email.Brevo.APIKey == "" {
			errs = append(errs, errors.New("email.brevo.api_key must be set when email.provider is brevo"))
		}
	case "gmail":
	default:
		errs = append(errs, fmt.Errorf("email.provider %q must be smtp, brevo, gmail or log", c.Email.Provider))
	}

	switch strings.ToLower(c.Archive.Provider) {
	case "noop":
	case "local":
		if c.Archive.BaseDir == "" {
			errs = append(errs, errors.New("archive.base_dir must be set when archive.provider is local"))
		}
	case "gcs":
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket must be set when archive.provider is gcs"))
		}
	default:
		errs = append(errs, fmt.Errorf("archive.provider %q must be noop, local or gcs", c.Archive.Provider))
	}

	switch strings.ToLower(c.Events.Provider) {
	case "noop", "memory":
	case "pubsub":
		if c.Events.ProjectID == "" || c.Events.TopicID == "" {
			errs = append(errs, errors.New("events.project_id and events.topic_id must be set when events.provider is pubsub"))
		}
	default:
		errs = append(errs, fmt.Errorf("events.provider %q must be noop, memory or pubsub", c.Events.Provider))
	}

	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be > 0"))
	}
	return errors.Join(errs...)
}
