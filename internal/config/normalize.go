package config

import (
	"fmt"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeNginx(); err != nil {
		return err
	}
	c.normalizeReload()
	c.normalizeWatch()
	if err := c.normalizeNATS(); err != nil {
		return err
	}
	if err := c.normalizeRuntime(); err != nil {
		return err
	}
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		name  string
		value *string
	}{
		{"paths.watch_dir", &c.Paths.WatchDir},
		{"paths.main_config_dir", &c.Paths.MainConfigDir},
		{"paths.custom_config_dir", &c.Paths.CustomConfigDir},
		{"paths.backup_config_dir", &c.Paths.BackupConfigDir},
		{"paths.pid_file", &c.Paths.PIDFile},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	c.Paths.ErrorFile = filepath.Base(strings.TrimSpace(c.Paths.ErrorFile))
	if c.Paths.ErrorFile == "." || c.Paths.ErrorFile == string(filepath.Separator) {
		c.Paths.ErrorFile = defaultErrorFile
	}
	return nil
}

func (c *Config) normalizeNginx() error {
	c.Nginx.Binary = strings.TrimSpace(c.Nginx.Binary)
	if c.Nginx.Binary == "" {
		c.Nginx.Binary = defaultNginxBinary
	}
	fields := []struct {
		name  string
		value *string
	}{
		{"nginx.magento_conf", &c.Nginx.MagentoConf},
		{"nginx.magento1_conf", &c.Nginx.Magento1Conf},
		{"nginx.magento2_conf", &c.Nginx.Magento2Conf},
		{"nginx.magento2_flag", &c.Nginx.Magento2Flag},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeReload() {
	c.Reload.Mode = strings.ToLower(strings.TrimSpace(c.Reload.Mode))
	if c.Reload.Mode == "" {
		c.Reload.Mode = ReloadModeSignal
	}
	c.Reload.SystemctlBinary = strings.TrimSpace(c.Reload.SystemctlBinary)
	if c.Reload.SystemctlBinary == "" {
		c.Reload.SystemctlBinary = defaultSystemctlBinary
	}
	c.Reload.Unit = strings.TrimSpace(c.Reload.Unit)
	if c.Reload.Unit == "" {
		c.Reload.Unit = defaultReloadUnit
	}
}

func (c *Config) normalizeWatch() {
	c.Watch.IgnorePatterns = cleanPatterns(c.Watch.IgnorePatterns)
	if len(c.Watch.IgnorePatterns) == 0 {
		c.Watch.IgnorePatterns = DefaultIgnorePatterns()
	}
	c.Watch.SyncIgnorePatterns = cleanPatterns(c.Watch.SyncIgnorePatterns)
	if len(c.Watch.SyncIgnorePatterns) == 0 {
		c.Watch.SyncIgnorePatterns = DefaultSyncIgnorePatterns()
	}
	// The marker must never be watched or installed, whatever it is called.
	c.Watch.IgnorePatterns = appendUnique(c.Watch.IgnorePatterns, c.Paths.ErrorFile)
	c.Watch.SyncIgnorePatterns = appendUnique(c.Watch.SyncIgnorePatterns, c.Paths.ErrorFile)
}

func (c *Config) normalizeNATS() error {
	c.NATS.Server = strings.TrimSpace(c.NATS.Server)
	c.NATS.Subject = strings.TrimSpace(c.NATS.Subject)
	if c.NATS.Subject == "" {
		c.NATS.Subject = defaultNATSSubject
	}
	if c.NATS.Payload == "" {
		c.NATS.Payload = defaultNATSPayload
	}
	fields := []struct {
		name  string
		value *string
	}{
		{"nats.cert", &c.NATS.Cert},
		{"nats.key", &c.NATS.Key},
		{"nats.ca", &c.NATS.CA},
		{"nats.defaults_file", &c.NATS.DefaultsFile},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.name, err)
		}
		*field.value = expanded
	}
	return nil
}

func (c *Config) normalizeRuntime() error {
	var err error
	if c.Daemon.StateDir, err = expandPath(strings.TrimSpace(c.Daemon.StateDir)); err != nil {
		return fmt.Errorf("daemon.state_dir: %w", err)
	}
	if c.Daemon.StateDir == "" {
		c.Daemon.StateDir = defaultStateDir
	}
	if c.Logging.File, err = expandPath(strings.TrimSpace(c.Logging.File)); err != nil {
		return fmt.Errorf("logging.file: %w", err)
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Metrics.Listen = strings.TrimSpace(c.Metrics.Listen)
	if c.History.Path, err = expandPath(strings.TrimSpace(c.History.Path)); err != nil {
		return fmt.Errorf("history.path: %w", err)
	}
	if c.History.Path == "" {
		c.History.Path = defaultHistoryPath
	}
	return nil
}

func cleanPatterns(patterns []string) []string {
	out := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if trimmed := strings.TrimSpace(pattern); trimmed != "" {
			out = appendUnique(out, trimmed)
		}
	}
	return out
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
