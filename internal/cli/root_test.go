package cmd_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rohmanhakim/storefront-ssr/internal/build"
	cmd "github.com/rohmanhakim/storefront-ssr/internal/cli"
	"github.com/rohmanhakim/storefront-ssr/internal/config"
)

// initConfig parses args with a fresh serve command and builds the config.
func initConfig(t *testing.T, args ...string) (config.Config, error) {
	t.Helper()
	serveCmd := cmd.NewServeCommand()
	if err := serveCmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags(%v) returned error: %v", args, err)
	}
	v, err := cmd.NewViper(serveCmd)
	if err != nil {
		t.Fatalf("NewViper returned error: %v", err)
	}
	return cmd.InitConfigWithError(v)
}

// clearEnv isolates tests from variables set on the host.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		key, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(key, cmd.EnvPrefix+"_") || key == "PORT" || key == "BASE" || key == "NODE_ENV" {
			t.Setenv(key, "")
			os.Unsetenv(key)
		}
	}
}

// TestInitConfigNoFlags tests that defaults are used when nothing is provided
func TestInitConfigNoFlags(t *testing.T) {
	clearEnv(t)

	cfg, err := initConfig(t)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	defaultCfg, err := config.WithDefault().Build()
	if err != nil {
		t.Fatalf("should not have any error, got %v", err)
	}
	if cfg.Production() {
		t.Error("Expected development mode by default")
	}
	if cfg.Port() != defaultCfg.Port() {
		t.Errorf("Expected Port %d, got %d", defaultCfg.Port(), cfg.Port())
	}
	if cfg.Base() != defaultCfg.Base() {
		t.Errorf("Expected Base %q, got %q", defaultCfg.Base(), cfg.Base())
	}
	if cfg.RenderTimeout() != defaultCfg.RenderTimeout() {
		t.Errorf("Expected RenderTimeout %v, got %v", defaultCfg.RenderTimeout(), cfg.RenderTimeout())
	}
	if cfg.TemplatePath() != defaultCfg.TemplatePath() {
		t.Errorf("Expected TemplatePath %q, got %q", defaultCfg.TemplatePath(), cfg.TemplatePath())
	}
	if cfg.Engine() != config.EngineBundle {
		t.Errorf("Expected Engine %q, got %q", config.EngineBundle, cfg.Engine())
	}
}

func TestInitConfigWithFlags(t *testing.T) {
	clearEnv(t)

	cfg, err := initConfig(t,
		"--production",
		"--port", "8080",
		"--base", "/store/",
		"--render-timeout", "3s",
		"--cache-max-entries", "50",
		"--cache-max-age", "1m",
		"--redis-addr", "localhost:6379",
		"--redis-db", "2",
		"--dev-script", "/@vite/client",
		"--dev-script", "/src/main.ts",
		"--log-format", "console",
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !cfg.Production() {
		t.Error("Expected production mode")
	}
	if cfg.Port() != 8080 {
		t.Errorf("Expected Port 8080, got %d", cfg.Port())
	}
	if cfg.Base() != "/store/" {
		t.Errorf("Expected Base /store/, got %q", cfg.Base())
	}
	if cfg.RenderTimeout() != 3*time.Second {
		t.Errorf("Expected RenderTimeout 3s, got %v", cfg.RenderTimeout())
	}
	if cfg.CacheMaxEntries() != 50 {
		t.Errorf("Expected CacheMaxEntries 50, got %d", cfg.CacheMaxEntries())
	}
	if cfg.CacheMaxAge() != time.Minute {
		t.Errorf("Expected CacheMaxAge 1m, got %v", cfg.CacheMaxAge())
	}
	if cfg.RedisAddr() != "localhost:6379" || cfg.RedisDB() != 2 {
		t.Errorf("Expected Redis localhost:6379/2, got %s/%d", cfg.RedisAddr(), cfg.RedisDB())
	}
	scripts := cfg.DevScripts()
	if len(scripts) != 2 || scripts[0] != "/@vite/client" || scripts[1] != "/src/main.ts" {
		t.Errorf("Expected two dev scripts, got %v", scripts)
	}
	if cfg.LogFormat() != "console" {
		t.Errorf("Expected LogFormat console, got %q", cfg.LogFormat())
	}
	if cfg.TemplatePath() != "dist/client/index.html" {
		t.Errorf("Expected production TemplatePath, got %q", cfg.TemplatePath())
	}
}

func TestInitConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SSR_RENDER_TIMEOUT", "250ms")
	t.Setenv("SSR_CACHE_MAX_AGE", "5m")
	t.Setenv("SSR_LOG_LEVEL", "debug")
	t.Setenv("PORT", "9000")
	t.Setenv("BASE", "/shop/")
	t.Setenv("NODE_ENV", "production")

	cfg, err := initConfig(t)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !cfg.Production() {
		t.Error("Expected NODE_ENV=production to enable production mode")
	}
	if cfg.RenderTimeout() != 250*time.Millisecond {
		t.Errorf("Expected RenderTimeout 250ms, got %v", cfg.RenderTimeout())
	}
	if cfg.CacheMaxAge() != 5*time.Minute {
		t.Errorf("Expected CacheMaxAge 5m, got %v", cfg.CacheMaxAge())
	}
	if cfg.LogLevel() != "debug" {
		t.Errorf("Expected LogLevel debug, got %q", cfg.LogLevel())
	}
	if cfg.Port() != 9000 {
		t.Errorf("Expected Port 9000, got %d", cfg.Port())
	}
	if cfg.Base() != "/shop/" {
		t.Errorf("Expected Base /shop/, got %q", cfg.Base())
	}
}

func TestInitConfigPrefixedEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("SSR_PORT", "9100")

	cfg, err := initConfig(t)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Port() != 9100 {
		t.Errorf("Expected Port 9100, got %d", cfg.Port())
	}
}

func TestInitConfigFlagOverridesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("SSR_RENDER_TIMEOUT", "250ms")

	cfg, err := initConfig(t, "--render-timeout", "2s")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.RenderTimeout() != 2*time.Second {
		t.Errorf("Expected RenderTimeout 2s, got %v", cfg.RenderTimeout())
	}
}

func TestInitConfigNodeEnvOtherThanProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("NODE_ENV", "development")

	cfg, err := initConfig(t)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if cfg.Production() {
		t.Error("Expected development mode")
	}
}

func TestInitConfigInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "port out of range", args: []string{"--port", "70000"}},
		{name: "base without slashes", args: []string{"--base", "store"}},
		{name: "zero render timeout", args: []string{"--render-timeout", "0s"}},
		{name: "unknown engine", args: []string{"--engine", "wasm"}},
		{name: "remote engine without endpoint", args: []string{"--engine", "remote"}},
		{name: "unknown log format", args: []string{"--log-format", "xml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := initConfig(t, tt.args...)
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !errors.Is(err, config.ErrInvalidConfig) {
				t.Errorf("Expected ErrInvalidConfig, got: %v", err)
			}
		})
	}
}

// TestInitConfigWithConfigFile tests that a config file takes precedence over flags
func TestInitConfigWithConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"production": true, "port": 7000, "renderTimeout": 2000000000}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := initConfig(t, "--config-file", path, "--port", "8080")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !cfg.Production() {
		t.Error("Expected production mode from config file")
	}
	if cfg.Port() != 7000 {
		t.Errorf("Expected Port 7000 from config file, got %d", cfg.Port())
	}
	if cfg.RenderTimeout() != 2*time.Second {
		t.Errorf("Expected RenderTimeout 2s, got %v", cfg.RenderTimeout())
	}
}

func TestInitConfigWithMissingConfigFile(t *testing.T) {
	clearEnv(t)

	_, err := initConfig(t, "--config-file", filepath.Join(t.TempDir(), "missing.json"))
	if err == nil {
		t.Fatal("Expected error for missing config file, got nil")
	}
	if !errors.Is(err, config.ErrFileDoesNotExist) {
		t.Errorf("Expected ErrFileDoesNotExist, got: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	build.Version = "1.0.0"
	build.Commit = "abc123"
	build.BuildTime = "unknown"

	root := cmd.NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := strings.TrimSpace(out.String()); got != "storefront-ssr 1.0.0+abc123 (built unknown)" {
		t.Errorf("Unexpected version output %q", got)
	}
}

func TestServeRejectsArguments(t *testing.T) {
	root := cmd.NewRootCommand()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"serve", "extra"})

	if err := root.Execute(); err == nil {
		t.Fatal("Expected error for unexpected argument, got nil")
	}
}
