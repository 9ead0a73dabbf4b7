package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains the directories and files the reconciler reads and writes.
type Paths struct {
	WatchDir        string `toml:"watch_dir"`
	MainConfigDir   string `toml:"main_config_dir"`
	CustomConfigDir string `toml:"custom_config_dir"`
	BackupConfigDir string `toml:"backup_config_dir"`
	ErrorFile       string `toml:"error_file"`
	PIDFile         string `toml:"pid_file"`
}

// Nginx contains the validator binary and the Magento config fragments.
type Nginx struct {
	Binary       string `toml:"binary"`
	MagentoConf  string `toml:"magento_conf"`
	Magento1Conf string `toml:"magento1_conf"`
	Magento2Conf string `toml:"magento2_conf"`
	// Magento2Flag defaults to <watch_dir>/magento2.flag when empty.
	Magento2Flag string `toml:"magento2_flag"`
}

// Reload selects how nginx is told to pick up the new configuration.
type Reload struct {
	Mode            string `toml:"mode"` // "signal" or "systemd"
	SystemctlBinary string `toml:"systemctl_binary"`
	Unit            string `toml:"unit"`
}

// Permissions controls the identities used while fixing and installing files.
type Permissions struct {
	Unprivileged bool `toml:"unprivileged"`
	UID          int  `toml:"uid"`
	GID          int  `toml:"gid"`
	OwnerUID     int  `toml:"owner_uid"`
	OwnerGID     int  `toml:"owner_gid"`
}

// Watch contains the file watching cadence and ignore lists.
type Watch struct {
	Recursive          bool     `toml:"recursive"`
	PollInterval       int      `toml:"poll_interval"`
	CoalesceIntervalMS int      `toml:"coalesce_interval_ms"`
	IgnorePatterns     []string `toml:"ignore_patterns"`
	SyncIgnorePatterns []string `toml:"sync_ignore_patterns"`
}

// Features toggles optional reconciliation steps.
type Features struct {
	MagentoConfig bool `toml:"magento_config"`
	CustomConfig  bool `toml:"custom_config"`
	MountCheck    bool `toml:"mount_check"`
}

// Policy adjusts the forbidden directive rules.
type Policy struct {
	AllowIncludes bool `toml:"allow_includes"`
}

// NATS configures the remote reload channel. An empty Server disables it.
type NATS struct {
	Server       string `toml:"server"`
	Subject      string `toml:"subject"`
	Payload      string `toml:"payload"`
	Cert         string `toml:"cert"`
	Key          string `toml:"key"`
	CA           string `toml:"ca"`
	DefaultsFile string `toml:"defaults_file"`
}

// Daemon contains runtime state locations.
type Daemon struct {
	StateDir string `toml:"state_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	File   string `toml:"file"`
}

// Metrics configures the Prometheus endpoint. An empty Listen disables it.
type Metrics struct {
	Listen string `toml:"listen"`
}

// History configures the apply attempt log.
type History struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Keep    int    `toml:"keep"`
}

// Config encapsulates all configuration values for the reloader.
//
// Configuration sections by subsystem:
//   - Paths: watched, installed and backup directories, error marker and pid file
//   - Nginx: validator binary and Magento config fragments
//   - Reload: signal or systemd reload
//   - Permissions: unprivileged identity for chmod and owner of installed files
//   - Watch: recursion, polling and coalescing intervals, ignore globs
//   - Features: Magento linking, custom config staging, mount check
//   - Policy: forbidden directive adjustments
//   - NATS: remote reload channel
//   - Daemon, Logging, Metrics, History: runtime plumbing
type Config struct {
	Paths       Paths       `toml:"paths"`
	Nginx       Nginx       `toml:"nginx"`
	Reload      Reload      `toml:"reload"`
	Permissions Permissions `toml:"permissions"`
	Watch       Watch       `toml:"watch"`
	Features    Features    `toml:"features"`
	Policy      Policy      `toml:"policy"`
	NATS        NATS        `toml:"nats"`
	Daemon      Daemon      `toml:"daemon"`
	Logging     Logging     `toml:"logging"`
	Metrics     Metrics     `toml:"metrics"`
	History     History     `toml:"history"`
}

// DefaultConfigPath returns the system-wide configuration file location.
func DefaultConfigPath() string {
	return defaultConfigPath
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.Finalize(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Finalize normalizes and validates the configuration. Callers that adjust a loaded
// config (for example from command line flags) run it again afterwards.
func (c *Config) Finalize() error {
	if err := c.normalize(); err != nil {
		return err
	}
	return c.Validate()
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs("nginx-config-reloader.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultConfigPath); err == nil && !info.IsDir() {
		return defaultConfigPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultConfigPath, false, nil
}

// EnsureDirectories creates the runtime directories owned by the daemon. The watched
// and installed directories are deliberately left alone: the watch loop waits for the
// former and the installer creates the latter.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Daemon.StateDir}
	if c.History.Enabled {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// SocketPath returns the administrative socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Daemon.StateDir, "reloader.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Daemon.StateDir, "reloader.lock")
}

// DaemonPIDPath returns the pid file written by the daemon itself.
func (c *Config) DaemonPIDPath() string {
	return filepath.Join(c.Daemon.StateDir, "reloader.pid")
}

// ErrorFilePath returns the absolute error marker location inside the watched tree.
func (c *Config) ErrorFilePath() string {
	return filepath.Join(c.Paths.WatchDir, c.Paths.ErrorFile)
}

// Magento2FlagPath returns the file whose presence selects the Magento 2 fragment.
func (c *Config) Magento2FlagPath() string {
	if c.Nginx.Magento2Flag != "" {
		return c.Nginx.Magento2Flag
	}
	return filepath.Join(c.Paths.WatchDir, "magento2.flag")
}

// PollInterval returns how long the watch loop sleeps while the watched directory is absent.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Watch.PollInterval) * time.Second
}

// CoalesceInterval returns the dirty-flag tick period.
func (c *Config) CoalesceInterval() time.Duration {
	return time.Duration(c.Watch.CoalesceIntervalMS) * time.Millisecond
}

// UseSystemd reports whether reloads go through the service manager.
func (c *Config) UseSystemd() bool {
	return c.Reload.Mode == ReloadModeSystemd
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
