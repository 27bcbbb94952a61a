package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/auth"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/envconfig"
)

// DataStore selects the persistence backend.
type DataStore string

const (
	DataStoreMemory    DataStore = "memory"
	DataStoreFirestore DataStore = "firestore"
	DataStoreSQLite    DataStore = "sqlite"
)

// MailMode selects how application emails leave the service.
type MailMode string

const (
	MailModeLog  MailMode = "log"
	MailModeSMTP MailMode = "smtp"
)

// Config encapsulates the runtime configuration for the progression service.
type Config struct {
	Port         string    `validate:"required,numeric"`
	DataStore    DataStore `validate:"required,oneof=memory firestore sqlite"`
	SQLitePath   string
	GCPProjectID string
	LogLevel     string
	Location     *time.Location
	Auth         AuthConfig
	Tasks        TaskConfig
	Mail         MailConfig
}

// AuthConfig stores authentication middleware setup.
type AuthConfig struct {
	Mode     auth.Mode
	JWKSURL  string
	Audience string
	Issuer   string
}

// TaskConfig sizes the deferred job queue.
type TaskConfig struct {
	Workers     int `validate:"min=1,max=64"`
	Buffer      int `validate:"min=0"`
	MaxRetries  int `validate:"min=0,max=10"`
	BaseBackoff time.Duration
}

// MailConfig configures reviewer notifications for applications.
type MailConfig struct {
	Mode      MailMode
	SMTPHost  string
	SMTPPort  int
	Username  string
	Password  string
	TLS       string
	From      string
	Reviewers []string
}

// Load reads .env (when present) and environment variables into Config with validation.
func Load() (Config, error) {
	if err := envconfig.LoadDotEnv(); err != nil {
		return Config{}, err
	}

	loc, err := time.LoadLocation(envconfig.Get("PROGRESS_TIMEZONE", "UTC"))
	if err != nil {
		return Config{}, fmt.Errorf("PROGRESS_TIMEZONE: %w", err)
	}

	var errs []error
	workers, err := envconfig.GetInt("TASK_WORKERS", 4)
	errs = append(errs, err)
	buffer, err := envconfig.GetInt("TASK_BUFFER", 256)
	errs = append(errs, err)
	retries, err := envconfig.GetInt("TASK_MAX_RETRIES", 3)
	errs = append(errs, err)
	backoff, err := envconfig.GetDuration("TASK_BACKOFF", 100*time.Millisecond)
	errs = append(errs, err)
	smtpPort, err := envconfig.GetInt("SMTP_PORT", 587)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:         envconfig.Get("PORT", "8080"),
		DataStore:    DataStore(strings.ToLower(envconfig.Get("DATASTORE", string(DataStoreMemory)))),
		SQLitePath:   envconfig.Get("SQLITE_PATH", "budgetteen.db"),
		GCPProjectID: envconfig.Get("GCP_PROJECT_ID", ""),
		LogLevel:     envconfig.Get("LOG_LEVEL", "info"),
		Location:     loc,
		Auth: AuthConfig{
			Mode:     auth.Mode(strings.ToLower(envconfig.Get("AUTH_MODE", string(auth.ModeClerk)))),
			JWKSURL:  envconfig.Get("CLERK_JWKS_URL", ""),
			Audience: envconfig.Get("CLERK_AUDIENCE", ""),
			Issuer:   envconfig.Get("CLERK_ISSUER", ""),
		},
		Tasks: TaskConfig{
			Workers:     workers,
			Buffer:      buffer,
			MaxRetries:  retries,
			BaseBackoff: backoff,
		},
		Mail: MailConfig{
			Mode:      MailMode(strings.ToLower(envconfig.Get("MAIL_MODE", string(MailModeLog)))),
			SMTPHost:  envconfig.Get("SMTP_HOST", ""),
			SMTPPort:  smtpPort,
			Username:  envconfig.Get("SMTP_USERNAME", ""),
			Password:  envconfig.Get("SMTP_PASSWORD", ""),
			TLS:       strings.ToLower(envconfig.Get("SMTP_TLS", "mandatory")),
			From:      envconfig.Get("MAIL_FROM", "BudgetTeen <noreply@budgetteen.app>"),
			Reviewers: splitList(envconfig.Get("APPLICATION_REVIEWERS", "")),
		},
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AuthSettings converts the auth section into the middleware configuration.
func (c Config) AuthSettings() auth.Config {
	return auth.Config{Mode: c.Auth.Mode, JWKSURL: c.Auth.JWKSURL, Audience: c.Auth.Audience, Issuer: c.Auth.Issuer}
}

func validate(cfg Config) error {
	if err := envconfig.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.DataStore {
	case DataStoreFirestore:
		if cfg.GCPProjectID == "" {
			return fmt.Errorf("GCP_PROJECT_ID is required when DATASTORE=firestore")
		}
	case DataStoreSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is required when DATASTORE=sqlite")
		}
	}

	switch cfg.Auth.Mode {
	case auth.ModeClerk:
		if cfg.Auth.JWKSURL == "" {
			return fmt.Errorf("CLERK_JWKS_URL is required when AUTH_MODE=clerk")
		}
	case auth.ModeNoop:
	default:
		return fmt.Errorf("unsupported auth mode: %s", cfg.Auth.Mode)
	}

	switch cfg.Mail.Mode {
	case MailModeSMTP:
		if cfg.Mail.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when MAIL_MODE=smtp")
		}
		if cfg.Mail.SMTPPort <= 0 || cfg.Mail.SMTPPort > 65535 {
			return fmt.Errorf("SMTP_PORT must be between 1 and 65535")
		}
		switch cfg.Mail.TLS {
		case "mandatory", "opportunistic", "implicit", "none":
		default:
			return fmt.Errorf("unsupported SMTP_TLS mode: %s", cfg.Mail.TLS)
		}
	case MailModeLog:
	default:
		return fmt.Errorf("unsupported mail mode: %s", cfg.Mail.Mode)
	}

	if cfg.Tasks.BaseBackoff <= 0 {
		return fmt.Errorf("TASK_BACKOFF must be > 0")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
