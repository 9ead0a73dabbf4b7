package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
)

// Env is a reloader configuration rooted in a per-test temp directory.
type Env struct {
	Base   string
	Config *config.Config
}

// EnvOption customizes the generated configuration.
type EnvOption func(*Env)

// NewEnv produces a config whose watched, main, state and history locations
// live under t.TempDir(). The watched and main directories exist; installed
// files keep the test user's ownership and chmod runs unprivileged-off.
func NewEnv(t testing.TB, opts ...EnvOption) *Env {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.WatchDir = filepath.Join(base, "data", "web", "nginx")
	cfg.Paths.MainConfigDir = filepath.Join(base, "etc", "nginx")
	cfg.Paths.CustomConfigDir = filepath.Join(cfg.Paths.MainConfigDir, "app")
	cfg.Paths.BackupConfigDir = filepath.Join(cfg.Paths.MainConfigDir, "app_bak")
	cfg.Paths.PIDFile = filepath.Join(base, "run", "nginx.pid")
	cfg.Nginx.MagentoConf = filepath.Join(cfg.Paths.MainConfigDir, "magento.conf")
	cfg.Nginx.Magento1Conf = filepath.Join(cfg.Paths.MainConfigDir, "magento1.conf")
	cfg.Nginx.Magento2Conf = filepath.Join(cfg.Paths.MainConfigDir, "magento2.conf")
	cfg.Permissions.Unprivileged = false
	cfg.Permissions.OwnerUID = -1
	cfg.Permissions.OwnerGID = -1
	cfg.Features.MagentoConfig = false
	cfg.Features.MountCheck = false
	cfg.Daemon.StateDir = filepath.Join(base, "state")
	cfg.History.Path = filepath.Join(base, "state", "history.db")
	cfg.NATS.DefaultsFile = filepath.Join(base, "default", "nginx_config_reloader")

	env := &Env{Base: base, Config: &cfg}
	for _, opt := range opts {
		opt(env)
	}

	for _, dir := range []string{cfg.Paths.WatchDir, cfg.Paths.MainConfigDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return env
}

// WithStubNginx points nginx.binary at a stub that runs script.
func WithStubNginx(t testing.TB, script string) EnvOption {
	return func(e *Env) {
		e.Config.Nginx.Binary = StubBinary(t, filepath.Join(e.Base, "bin"), "nginx", script)
	}
}

// WithMagento enables Magento linking and creates both fragments.
func WithMagento(t testing.TB) EnvOption {
	return func(e *Env) {
		e.Config.Features.MagentoConfig = true
		for _, path := range []string{e.Config.Nginx.Magento1Conf, e.Config.Nginx.Magento2Conf} {
			WriteFile(t, path, "# "+filepath.Base(path)+"\n")
		}
	}
}

// WatchPath joins rel onto the watched directory.
func (e *Env) WatchPath(rel string) string {
	return filepath.Join(e.Config.Paths.WatchDir, rel)
}
