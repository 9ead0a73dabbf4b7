package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
)

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	missing := filepath.Join(t.TempDir(), "absent.toml")

	cfg, resolved, exists, err := config.Load(missing)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if exists {
		t.Fatal("expected config file to be reported absent")
	}
	if resolved != missing {
		t.Fatalf("unexpected resolved path: %q", resolved)
	}
	if cfg.Paths.WatchDir != "/data/web/nginx" {
		t.Fatalf("unexpected watch dir: %q", cfg.Paths.WatchDir)
	}
	if cfg.Paths.CustomConfigDir != "/etc/nginx/app" || cfg.Paths.BackupConfigDir != "/etc/nginx/app_bak" {
		t.Fatalf("unexpected install dirs: %q %q", cfg.Paths.CustomConfigDir, cfg.Paths.BackupConfigDir)
	}
	if cfg.Reload.Mode != config.ReloadModeSignal {
		t.Fatalf("expected signal reload mode, got %q", cfg.Reload.Mode)
	}
	if cfg.Permissions.UID != 1000 || cfg.Permissions.GID != 1000 {
		t.Fatalf("unexpected unprivileged identity: %d:%d", cfg.Permissions.UID, cfg.Permissions.GID)
	}
	if cfg.PollInterval() != 5*time.Second {
		t.Fatalf("unexpected poll interval: %s", cfg.PollInterval())
	}
	if cfg.CoalesceInterval() != time.Second {
		t.Fatalf("unexpected coalesce interval: %s", cfg.CoalesceInterval())
	}
	if cfg.ErrorFilePath() != "/data/web/nginx/nginx_error_output" {
		t.Fatalf("unexpected error file path: %q", cfg.ErrorFilePath())
	}
	if cfg.Magento2FlagPath() != "/data/web/nginx/magento2.flag" {
		t.Fatalf("unexpected magento2 flag: %q", cfg.Magento2FlagPath())
	}
	if !contains(cfg.Watch.SyncIgnorePatterns, "*.flag") {
		t.Fatalf("expected *.flag in sync ignore patterns: %v", cfg.Watch.SyncIgnorePatterns)
	}
	if contains(cfg.Watch.IgnorePatterns, "*.flag") {
		t.Fatalf("flag files must still mark the tree dirty: %v", cfg.Watch.IgnorePatterns)
	}
}

func TestLoadParsesFileAndExpandsPaths(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := `
[paths]
watch_dir = "~/nginx"
custom_config_dir = "` + filepath.Join(dir, "app") + `"
backup_config_dir = "` + filepath.Join(dir, "app_bak") + `"
error_file = "errors/last_error"

[reload]
mode = "SYSTEMD"

[watch]
recursive = true
coalesce_interval_ms = 250
ignore_patterns = ["*.swp", " "]

[nats]
server = "nats://127.0.0.1:4222"
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("expected %q to be loaded, got %q (exists=%v)", path, resolved, exists)
	}
	if cfg.Paths.WatchDir != filepath.Join(home, "nginx") {
		t.Fatalf("expected tilde expansion, got %q", cfg.Paths.WatchDir)
	}
	if cfg.Paths.ErrorFile != "last_error" {
		t.Fatalf("expected error file reduced to a base name, got %q", cfg.Paths.ErrorFile)
	}
	if !cfg.UseSystemd() {
		t.Fatal("expected systemd mode after normalization")
	}
	if !cfg.Watch.Recursive || cfg.CoalesceInterval() != 250*time.Millisecond {
		t.Fatalf("unexpected watch settings: %+v", cfg.Watch)
	}
	want := []string{"*.swp", "last_error"}
	if strings.Join(cfg.Watch.IgnorePatterns, ",") != strings.Join(want, ",") {
		t.Fatalf("unexpected ignore patterns: %v", cfg.Watch.IgnorePatterns)
	}
	if cfg.NATS.Subject == "" || cfg.NATS.Payload == "" {
		t.Fatalf("expected NATS defaults to be filled, got %+v", cfg.NATS)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[paths]\nwatchdir = \"/tmp\"\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected unknown key to be rejected")
	}
}

func TestValidateRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"reload mode", func(c *config.Config) { c.Reload.Mode = "kill" }, "reload.mode"},
		{"poll interval", func(c *config.Config) { c.Watch.PollInterval = 0 }, "watch.poll_interval"},
		{"coalesce interval", func(c *config.Config) { c.Watch.CoalesceIntervalMS = -1 }, "watch.coalesce_interval_ms"},
		{"same install dirs", func(c *config.Config) { c.Paths.BackupConfigDir = c.Paths.CustomConfigDir }, "backup_config_dir"},
		{"watch inside install", func(c *config.Config) { c.Paths.WatchDir = "/etc/nginx/app/src" }, "watch_dir"},
		{"install inside watch", func(c *config.Config) { c.Paths.CustomConfigDir = "/data/web/nginx/app" }, "custom_config_dir"},
		{"partial tls", func(c *config.Config) {
			c.NATS.Server = "nats://localhost:4222"
			c.NATS.Cert = "/etc/ssl/cert.pem"
		}, "nats.cert"},
		{"wildcard subject", func(c *config.Config) {
			c.NATS.Server = "nats://localhost:4222"
			c.NATS.Subject = "nginx.>"
		}, "nats.subject"},
		{"log format", func(c *config.Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"history keep", func(c *config.Config) { c.History.Keep = -2 }, "history.keep"},
		{"bad pattern", func(c *config.Config) { c.Watch.IgnorePatterns = []string{"[a-"} }, "ignore pattern"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			err := cfg.Finalize()
			if err == nil {
				t.Fatalf("expected validation error containing %q", tc.want)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error to mention %q, got %v", tc.want, err)
			}
		})
	}
}

func TestFinalizeAfterOverrideRederivesMagentoFlag(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	cfg.Paths.WatchDir = "/srv/nginx"
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize after override: %v", err)
	}
	if got := cfg.Magento2FlagPath(); got != "/srv/nginx/magento2.flag" {
		t.Fatalf("unexpected magento2 flag path: %q", got)
	}
}

func TestEnsureDirectoriesCreatesRuntimeDirs(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Daemon.StateDir = filepath.Join(base, "run")
	cfg.History.Path = filepath.Join(base, "lib", "history.db")
	cfg.Logging.File = filepath.Join(base, "log", "reloader.log")
	if err := cfg.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{"run", "lib", "log"} {
		if info, err := os.Stat(filepath.Join(base, dir)); err != nil || !info.IsDir() {
			t.Fatalf("expected %s directory, err=%v", dir, err)
		}
	}
	if cfg.SocketPath() != filepath.Join(base, "run", "reloader.sock") {
		t.Fatalf("unexpected socket path: %q", cfg.SocketPath())
	}
}

func TestCreateSampleRoundTripsThroughLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal(data, &raw); err != nil {
		t.Fatalf("sample is not valid TOML: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample to exist")
	}
	defaults := config.Default()
	if cfg.Paths.WatchDir != defaults.Paths.WatchDir || cfg.Reload.Mode != defaults.Reload.Mode {
		t.Fatalf("sample diverges from defaults: %+v", cfg.Paths)
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
