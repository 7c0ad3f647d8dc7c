package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("UXFLOW_TEST_DSN", "postgres://u:p@db/uxflow")
	configPath := writeConfig(t, t.TempDir(), "uxflow.yaml", `
flows:
  - flows/
includeTags:
  - smoke
excludeTags:
  - wip
output: out
stepDelayMs: 0
timeoutMs: 2500
parallelism: 4
driver: static
browser:
  headless: false
  userAgent: uxflow-test
  viewport:
    width: 390
    height: 844
  disableCache: true
sinks:
  postgresDSN: ${UXFLOW_TEST_DSN}
  xlsxPath: results.xlsx
  queue: true
amqp:
  url: amqp://guest:guest@mq:5672/
  prefetch: 2
http:
  addr: ":9090"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Flows) != 1 || cfg.Flows[0] != "flows/" {
		t.Errorf("expected flows [flows/], got %v", cfg.Flows)
	}
	if len(cfg.IncludeTags) != 1 || cfg.IncludeTags[0] != "smoke" {
		t.Errorf("expected includeTags [smoke], got %v", cfg.IncludeTags)
	}
	if len(cfg.ExcludeTags) != 1 || cfg.ExcludeTags[0] != "wip" {
		t.Errorf("expected excludeTags [wip], got %v", cfg.ExcludeTags)
	}
	if cfg.OutputDir() != "out" {
		t.Errorf("OutputDir() = %q", cfg.OutputDir())
	}
	if cfg.StepDelay() != 0 {
		t.Errorf("explicit stepDelayMs 0 should disable the pause, got %v", cfg.StepDelay())
	}
	if cfg.Timeout() != 2500*time.Millisecond || cfg.Parallelism != 4 {
		t.Errorf("timeout/parallelism = %v/%d", cfg.Timeout(), cfg.Parallelism)
	}
	if cfg.DriverName() != DriverStatic {
		t.Errorf("DriverName() = %q", cfg.DriverName())
	}
	if cfg.Browser.IsHeadless() || cfg.Browser.UserAgent != "uxflow-test" || !cfg.Browser.DisableCache {
		t.Errorf("browser = %+v", cfg.Browser)
	}
	if cfg.Browser.Viewport.Width != 390 || cfg.Browser.Viewport.Height != 844 {
		t.Errorf("viewport = %+v", cfg.Browser.Viewport)
	}
	if cfg.Sinks.PostgresDSN != "postgres://u:p@db/uxflow" {
		t.Errorf("env not expanded: %q", cfg.Sinks.PostgresDSN)
	}
	if cfg.Sinks.XLSXPath != "results.xlsx" || !cfg.Sinks.Queue {
		t.Errorf("sinks = %+v", cfg.Sinks)
	}
	if cfg.AMQP.Prefetch != 2 || cfg.HTTPAddr() != ":9090" {
		t.Errorf("amqp/http = %+v / %q", cfg.AMQP, cfg.HTTPAddr())
	}
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}
	if cfg.StepDelay() != time.Second {
		t.Errorf("StepDelay() = %v", cfg.StepDelay())
	}
	if cfg.Timeout() != 10*time.Second {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
	if cfg.DriverName() != DriverBrowser {
		t.Errorf("DriverName() = %q", cfg.DriverName())
	}
	if !cfg.Browser.IsHeadless() {
		t.Error("browser should default to headless")
	}
	if cfg.HTTPAddr() != DefaultHTTPAddr {
		t.Errorf("HTTPAddr() = %q", cfg.HTTPAddr())
	}

	ResetHome()
	t.Setenv(HomeEnv, "/h")
	t.Cleanup(ResetHome)
	if cfg.OutputDir() != filepath.Join("/h", "output") {
		t.Errorf("OutputDir() = %q", cfg.OutputDir())
	}
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", `flows: [invalid yaml`, "uxflow.yaml"},
		{"unknown driver", `driver: appium`, `unknown driver "appium"`},
		{"negative delay", `stepDelayMs: -1`, "stepDelayMs"},
		{"negative parallelism", `parallelism: -2`, "parallelism"},
		{"negative viewport", "browser:\n  viewport:\n    width: -1\n", "viewport"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, dir, "uxflow.yaml", tt.content)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/uxflow.yaml")
	if err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestLoad_EmptyConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "uxflow.yaml", ``)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Flows) != 0 {
		t.Errorf("expected empty flows, got %v", cfg.Flows)
	}
}

func TestLoadFromDir(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "uxflow.yaml", `driver: static`)
		cfg, err := LoadFromDir(dir)
		if err != nil || cfg.Driver != DriverStatic {
			t.Errorf("got %+v, %v", cfg, err)
		}
	})

	t.Run("yml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "uxflow.yml", `driver: browser`)
		cfg, err := LoadFromDir(dir)
		if err != nil || cfg.Driver != DriverBrowser {
			t.Errorf("got %+v, %v", cfg, err)
		}
	})

	t.Run("prefers yaml over yml", func(t *testing.T) {
		dir := t.TempDir()
		writeConfig(t, dir, "uxflow.yaml", `driver: static`)
		writeConfig(t, dir, "uxflow.yml", `driver: browser`)
		cfg, err := LoadFromDir(dir)
		if err != nil || cfg.Driver != DriverStatic {
			t.Errorf("got %+v, %v", cfg, err)
		}
	})

	t.Run("none", func(t *testing.T) {
		cfg, err := LoadFromDir(t.TempDir())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Driver != "" || len(cfg.Flows) != 0 {
			t.Errorf("expected empty config, got %+v", cfg)
		}
	})
}
