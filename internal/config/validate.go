package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateReload(); err != nil {
		return err
	}
	if err := c.validateWatch(); err != nil {
		return err
	}
	if err := c.validateNATS(); err != nil {
		return err
	}
	if err := c.validateRuntime(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	required := map[string]string{
		"paths.watch_dir":         c.Paths.WatchDir,
		"paths.main_config_dir":   c.Paths.MainConfigDir,
		"paths.custom_config_dir": c.Paths.CustomConfigDir,
		"paths.backup_config_dir": c.Paths.BackupConfigDir,
		"paths.pid_file":          c.Paths.PIDFile,
	}
	for key, value := range required {
		if value == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	if c.Paths.CustomConfigDir == c.Paths.BackupConfigDir {
		return errors.New("paths.backup_config_dir must differ from paths.custom_config_dir")
	}
	if within(c.Paths.WatchDir, c.Paths.CustomConfigDir) || within(c.Paths.WatchDir, c.Paths.BackupConfigDir) {
		return errors.New("paths.watch_dir must not be inside the installed or backup directory")
	}
	if within(c.Paths.CustomConfigDir, c.Paths.WatchDir) || within(c.Paths.BackupConfigDir, c.Paths.WatchDir) {
		return errors.New("paths.custom_config_dir and paths.backup_config_dir must not be inside paths.watch_dir")
	}
	return nil
}

func (c *Config) validateReload() error {
	switch c.Reload.Mode {
	case ReloadModeSignal, ReloadModeSystemd:
		return nil
	default:
		return fmt.Errorf("reload.mode: unsupported value %q (want %q or %q)", c.Reload.Mode, ReloadModeSignal, ReloadModeSystemd)
	}
}

func (c *Config) validateWatch() error {
	if c.Watch.PollInterval <= 0 {
		return errors.New("watch.poll_interval must be positive")
	}
	if c.Watch.CoalesceIntervalMS <= 0 {
		return errors.New("watch.coalesce_interval_ms must be positive")
	}
	for _, pattern := range append(append([]string{}, c.Watch.IgnorePatterns...), c.Watch.SyncIgnorePatterns...) {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return fmt.Errorf("watch: invalid ignore pattern %q: %w", pattern, err)
		}
	}
	return nil
}

func (c *Config) validateNATS() error {
	if c.NATS.Server == "" {
		return nil
	}
	if strings.ContainsAny(c.NATS.Subject, " \t*>") {
		return fmt.Errorf("nats.subject: %q is not a literal subject", c.NATS.Subject)
	}
	set := 0
	for _, value := range []string{c.NATS.Cert, c.NATS.Key, c.NATS.CA} {
		if value != "" {
			set++
		}
	}
	if set != 0 && set != 3 {
		return errors.New("nats.cert, nats.key and nats.ca must be set together")
	}
	return nil
}

func (c *Config) validateRuntime() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	if c.History.Keep < 0 {
		return errors.New("history.keep must not be negative")
	}
	return nil
}

func within(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
