// Package config resolves the runtime configuration for all
// components. The file format and environment handling live here; the
// rest of the system only ever sees the resolved Config struct.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

var validate = validator.New()

// RemoteConfig configures the note service client.
type RemoteConfig struct {
	// BaseURL is the service root, e.g. "https://notes.example.com".
	BaseURL string `mapstructure:"base_url" validate:"required,url"`

	// SessionCookie is the opaque connect.sid value for private
	// projects. Empty for public projects.
	SessionCookie string `mapstructure:"session_cookie"`

	// UserAgent identifies this tool to the service.
	UserAgent string `mapstructure:"user_agent"`

	// RequestInterval is the minimum spacing between requests.
	RequestInterval time.Duration `mapstructure:"request_interval" validate:"min=0"`

	// MaxAttempts bounds retries per request.
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1"`

	// Timeout bounds each individual HTTP attempt.
	Timeout time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// SyncConfig configures the diff/build policy.
type SyncConfig struct {
	// MaxInFlight bounds concurrent page fetches.
	MaxInFlight int `mapstructure:"max_in_flight" validate:"min=1"`

	// FailureThreshold is the fraction of the listing allowed to fail
	// before a run is abandoned. 0 means any failure is fatal.
	FailureThreshold float64 `mapstructure:"failure_threshold" validate:"gte=0,lte=1"`
}

// DaemonConfig configures the interval scheduler.
type DaemonConfig struct {
	// Interval is how often every project is synced.
	Interval time.Duration `mapstructure:"interval" validate:"min=1s"`

	// LogFile is the rotated daemon log. Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`

	// LogMaxSizeMB caps the log file size before rotation.
	LogMaxSizeMB int `mapstructure:"log_max_size_mb" validate:"min=1"`

	// LogMaxBackups caps how many rotated logs are kept.
	LogMaxBackups int `mapstructure:"log_max_backups" validate:"min=0"`

	// OpLog is the JSONL operation log path. Empty disables it.
	OpLog string `mapstructure:"oplog"`
}

// DashboardConfig configures the live status server.
type DashboardConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:7878".
	Addr string `mapstructure:"addr"`
}

// LinkcheckConfig configures the external link auditor.
type LinkcheckConfig struct {
	Concurrency int           `mapstructure:"concurrency" validate:"min=1"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"min=0"`
}

// Config is the resolved runtime configuration.
type Config struct {
	// Projects are the remote project names to back up.
	Projects []string `mapstructure:"projects" validate:"required,min=1,dive,required"`

	// StoreRoot is the history store directory.
	StoreRoot string `mapstructure:"store_root" validate:"required"`

	// JournalPath is the run journal: a local file path or a
	// libsql:// URL.
	JournalPath string `mapstructure:"journal_path"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Linkcheck LinkcheckConfig `mapstructure:"linkcheck"`
}

// setDefaults registers every default on a viper instance. The polite
// 3 second request spacing matches what the note service tolerates
// without rate limiting.
func setDefaults(v *viper.Viper) {
	v.SetDefault("store_root", ".notevault/store")
	v.SetDefault("journal_path", ".notevault/journal.db")
	// The empty default registers the key so the NV_REMOTE_SESSION_COOKIE
	// env override is seen by Unmarshal.
	v.SetDefault("remote.session_cookie", "")
	v.SetDefault("remote.user_agent", "notevault")
	v.SetDefault("remote.request_interval", 3*time.Second)
	v.SetDefault("remote.max_attempts", 4)
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("sync.max_in_flight", 4)
	v.SetDefault("sync.failure_threshold", 0.25)
	v.SetDefault("daemon.interval", time.Hour)
	v.SetDefault("daemon.log_max_size_mb", 10)
	v.SetDefault("daemon.log_max_backups", 3)
	v.SetDefault("dashboard.addr", "127.0.0.1:7878")
	v.SetDefault("linkcheck.concurrency", 5)
	v.SetDefault("linkcheck.timeout", 30*time.Second)
}

// Load reads the configuration from path (or the default search
// locations when path is empty), applies NV_* environment overrides,
// and validates the result.
//
// Search order when path is empty: ./nv.yaml, then
// $HOME/.config/notevault/nv.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nv")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/notevault")
	}

	v.SetEnvPrefix("NV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// No config file is fine when everything comes from env.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration and reports every violated
// constraint in one error.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid config: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFailure(fe))
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

func describeFailure(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Config.")
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", field, fe.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
