package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/auth"
)

// chdirEmpty isolates Load from any .env in the package directory and opts
// into noop auth, which is what local development runs with.
func chdirEmpty(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("AUTH_MODE", string(auth.ModeNoop))
}

func TestLoadDefaults(t *testing.T) {
	chdirEmpty(t)
	for _, key := range []string{"PORT", "DATASTORE", "AUTH_MODE", "MAIL_MODE", "SMTP_TLS", "PROGRESS_TIMEZONE", "TASK_WORKERS", "APPLICATION_REVIEWERS"} {
		t.Setenv(key, "")
	}
	t.Setenv("CLERK_JWKS_URL", "https://clerk.example.com/.well-known/jwks.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.DataStore != DataStoreMemory || cfg.Auth.Mode != auth.ModeClerk || cfg.Mail.Mode != MailModeLog {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Mail.TLS != "mandatory" {
		t.Fatalf("expected mandatory SMTP TLS by default, got %q", cfg.Mail.TLS)
	}
	if cfg.Location != time.UTC || cfg.Tasks.Workers != 4 || cfg.Tasks.BaseBackoff != 100*time.Millisecond {
		t.Fatalf("unexpected task defaults %+v", cfg.Tasks)
	}
}

func TestLoadRefusesUnconfiguredAuth(t *testing.T) {
	chdirEmpty(t)
	t.Setenv("AUTH_MODE", "")
	t.Setenv("CLERK_JWKS_URL", "")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "CLERK_JWKS_URL") {
		t.Fatalf("expected clerk to be required unless noop is chosen, got %v", err)
	}
}

func TestLoadParsesLists(t *testing.T) {
	chdirEmpty(t)
	t.Setenv("APPLICATION_REVIEWERS", " a@example.com, ,b@example.com ")
	t.Setenv("PROGRESS_TIMEZONE", "America/New_York")
	t.Setenv("TASK_BACKOFF", "250ms")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Mail.Reviewers) != 2 || cfg.Mail.Reviewers[1] != "b@example.com" {
		t.Fatalf("unexpected reviewers %v", cfg.Mail.Reviewers)
	}
	if cfg.Location.String() != "America/New_York" || cfg.Tasks.BaseBackoff != 250*time.Millisecond {
		t.Fatalf("unexpected parsed values %+v", cfg)
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	chdirEmpty(t)
	if err := writeFile(".env", "DATASTORE=sqlite\nSQLITE_PATH=from-dotenv.db\n"); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	unsetEnv(t, "DATASTORE")
	unsetEnv(t, "SQLITE_PATH")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataStore != DataStoreSQLite || cfg.SQLitePath != "from-dotenv.db" {
		t.Fatalf("expected values from .env, got %+v", cfg)
	}
}

func TestLoadRejectsInvalidCombinations(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"unknown datastore", map[string]string{"DATASTORE": "postgres"}, "DataStore"},
		{"firestore without project", map[string]string{"DATASTORE": "firestore", "GCP_PROJECT_ID": ""}, "GCP_PROJECT_ID"},
		{"clerk without jwks", map[string]string{"AUTH_MODE": "clerk", "CLERK_JWKS_URL": ""}, "CLERK_JWKS_URL"},
		{"unknown auth mode", map[string]string{"AUTH_MODE": "basic"}, "unsupported auth mode"},
		{"smtp without host", map[string]string{"MAIL_MODE": "smtp", "SMTP_HOST": ""}, "SMTP_HOST"},
		{"unknown smtp tls", map[string]string{"MAIL_MODE": "smtp", "SMTP_HOST": "smtp.example.com", "SMTP_TLS": "sometimes"}, "SMTP_TLS"},
		{"bad worker count", map[string]string{"TASK_WORKERS": "lots"}, "TASK_WORKERS"},
		{"zero workers", map[string]string{"TASK_WORKERS": "0"}, "Workers"},
		{"bad timezone", map[string]string{"PROGRESS_TIMEZONE": "Mars/Olympus"}, "PROGRESS_TIMEZONE"},
		{"non numeric port", map[string]string{"PORT": "http"}, "Port"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chdirEmpty(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

// unsetEnv removes key for the test; godotenv never overrides a key that is set, even to "".
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("unset %s: %v", key, err)
	}
}

func writeFile(name, content string) error {
	return os.WriteFile(name, []byte(content), 0o600)
}
