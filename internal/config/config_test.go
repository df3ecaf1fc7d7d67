package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/dalbodeule/weaprous-gate/internal/proxy"
)

func TestParseRoutesAcceptsAllShapes(t *testing.T) {
	data := []byte(`
default_backend: 127.0.0.1:9999
routes:
  app1.local: 10.0.0.1:9001
  app2.local: [10.0.0.2:9002, " 10.0.0.3:9002 "]
  app3.local:
    backends: [10.0.0.4:9003, 10.0.0.5:9003]
    policy: round-robin
  empty.local: []
`)
	routes, def, err := ParseRoutes(data)
	if err != nil {
		t.Fatalf("ParseRoutes: %v", err)
	}
	if def != "127.0.0.1:9999" {
		t.Errorf("default backend = %q", def)
	}

	want := map[string]proxy.Route{
		"app1.local":  {Backends: []string{"10.0.0.1:9001"}},
		"app2.local":  {Backends: []string{"10.0.0.2:9002", "10.0.0.3:9002"}},
		"app3.local":  {Backends: []string{"10.0.0.4:9003", "10.0.0.5:9003"}, Policy: proxy.PolicyRoundRobin},
		"empty.local": {Backends: []string{}},
	}
	if diff := cmp.Diff(want, routes); diff != "" {
		t.Errorf("routes mismatch (-want +got):\n%s", diff)
	}
}

func TestParseRoutesRejectsInvalidYAML(t *testing.T) {
	if _, _, err := ParseRoutes([]byte("routes: [unterminated")); err == nil {
		t.Fatal("expected error for invalid yaml")
	}
}

func TestLoadDotEnvFileDoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nexport HOP_TEST_FROM_FILE=\"file\"\nHOP_TEST_PRESET=file\ninvalid line\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOP_TEST_PRESET", "env")
	t.Setenv("HOP_TEST_FROM_FILE", "")
	os.Unsetenv("HOP_TEST_FROM_FILE")

	if err := loadDotEnvFile(path); err != nil {
		t.Fatalf("loadDotEnvFile: %v", err)
	}
	if got := os.Getenv("HOP_TEST_FROM_FILE"); got != "file" {
		t.Errorf("HOP_TEST_FROM_FILE = %q, want file", got)
	}
	if got := os.Getenv("HOP_TEST_PRESET"); got != "env" {
		t.Errorf("HOP_TEST_PRESET = %q, want env", got)
	}
}

func TestLoadProxyConfigFromEnv(t *testing.T) {
	t.Setenv("HOP_PROXY_LISTEN", "8088")
	t.Setenv("HOP_PROXY_BACKEND_TIMEOUT", "2s")
	t.Setenv("HOP_PROXY_DEFAULT_BACKEND", "")
	t.Setenv("HOP_PROXY_REQUEST_TIMEOUT", "")

	cfg, err := LoadProxyConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadProxyConfigFromEnv: %v", err)
	}
	if cfg.Listen != ":8088" {
		t.Errorf("Listen = %q, want :8088", cfg.Listen)
	}
	if cfg.BackendTimeout != 2*time.Second {
		t.Errorf("BackendTimeout = %v", cfg.BackendTimeout)
	}
	if cfg.RequestTimeout != time.Minute {
		t.Errorf("RequestTimeout = %v, want 1m default", cfg.RequestTimeout)
	}
	if cfg.DefaultBackend != "127.0.0.1:9000" {
		t.Errorf("DefaultBackend = %q", cfg.DefaultBackend)
	}
}

func TestLoadServerConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("HOP_SERVER_READ_TIMEOUT", "soon")
	if _, err := LoadServerConfigFromEnv(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadServerConfigAuthToggle(t *testing.T) {
	t.Setenv("HOP_SERVER_AUTH_ENABLED", "")
	cfg, err := LoadServerConfigFromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.AuthEnabled {
		t.Error("auth should be enabled by default")
	}

	t.Setenv("HOP_SERVER_AUTH_ENABLED", "false")
	if cfg, err = LoadServerConfigFromEnv(); err != nil || cfg.AuthEnabled {
		t.Errorf("AuthEnabled = %v, err = %v; want false", cfg != nil && cfg.AuthEnabled, err)
	}

	t.Setenv("HOP_SERVER_AUTH_ENABLED", "maybe")
	if _, err := LoadServerConfigFromEnv(); err == nil {
		t.Error("expected error for invalid boolean")
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", " b ", "c"); got != "b" {
		t.Errorf("FirstNonEmpty = %q, want b", got)
	}
}
