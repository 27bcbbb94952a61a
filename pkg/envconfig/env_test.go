package envconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDotEnvKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("BT_TEST_A=from-file\nBT_TEST_B=file-only\n"), 0o644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("BT_TEST_A", "from-env")
	t.Setenv("BT_TEST_B", "")
	os.Unsetenv("BT_TEST_B")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := Get("BT_TEST_A", ""); got != "from-env" {
		t.Fatalf("expected env to win, got %q", got)
	}
	if got := Get("BT_TEST_B", ""); got != "file-only" {
		t.Fatalf("expected file value, got %q", got)
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("expected missing file to be ignored, got %v", err)
	}
}

func TestTypedGetters(t *testing.T) {
	t.Setenv("BT_TEST_INT", "4")
	t.Setenv("BT_TEST_DUR", "250ms")
	t.Setenv("BT_TEST_BAD", "four")

	if v, err := GetInt("BT_TEST_INT", 1); err != nil || v != 4 {
		t.Fatalf("GetInt = %d, %v", v, err)
	}
	if v, err := GetInt("BT_TEST_UNSET", 7); err != nil || v != 7 {
		t.Fatalf("GetInt fallback = %d, %v", v, err)
	}
	if _, err := GetInt("BT_TEST_BAD", 1); err == nil {
		t.Fatalf("expected parse error")
	}
	if v, err := GetDuration("BT_TEST_DUR", time.Second); err != nil || v != 250*time.Millisecond {
		t.Fatalf("GetDuration = %v, %v", v, err)
	}
}

func TestValidate(t *testing.T) {
	type sample struct {
		Port string `validate:"required"`
	}
	if err := Validate(sample{}); err == nil {
		t.Fatalf("expected validation error")
	}
	if err := Validate(sample{Port: "8080"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
