package config

const (
	defaultConfigPath = "/etc/nginx-config-reloader/config.toml"

	defaultWatchDir        = "/data/web/nginx"
	defaultMainConfigDir   = "/etc/nginx"
	defaultCustomConfigDir = "/etc/nginx/app"
	defaultBackupConfigDir = "/etc/nginx/app_bak"
	defaultErrorFile       = "nginx_error_output"
	defaultNginxPIDFile    = "/var/run/nginx.pid"

	defaultNginxBinary  = "/usr/sbin/nginx"
	defaultMagentoConf  = "/etc/nginx/magento.conf"
	defaultMagento1Conf = "/etc/nginx/magento1.conf"
	defaultMagento2Conf = "/etc/nginx/magento2.conf"

	defaultSystemctlBinary = "systemctl"
	defaultReloadUnit      = "nginx"

	defaultUnprivilegedUID = 1000
	defaultUnprivilegedGID = 1000

	defaultPollInterval       = 5
	defaultCoalesceIntervalMS = 1000

	defaultNATSSubject      = "nginx_config_reloader.reload"
	defaultNATSPayload      = "reload"
	defaultNATSDefaultsFile = "/etc/default/nginx_config_reloader"

	defaultStateDir    = "/run/nginx-config-reloader"
	defaultLogLevel    = "info"
	defaultLogFormat   = "console"
	defaultHistoryPath = "/var/lib/nginx-config-reloader/history.db"
	defaultHistoryKeep = 500
)

// Reload modes.
const (
	ReloadModeSignal  = "signal"
	ReloadModeSystemd = "systemd"
)

// DefaultIgnorePatterns lists the basename globs whose changes never mark the tree dirty.
func DefaultIgnorePatterns() []string {
	return []string{".*", "*~", "*.save", defaultErrorFile}
}

// DefaultSyncIgnorePatterns lists the basename globs never copied into the installed tree.
func DefaultSyncIgnorePatterns() []string {
	return append(DefaultIgnorePatterns(), "*.flag")
}

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WatchDir:        defaultWatchDir,
			MainConfigDir:   defaultMainConfigDir,
			CustomConfigDir: defaultCustomConfigDir,
			BackupConfigDir: defaultBackupConfigDir,
			ErrorFile:       defaultErrorFile,
			PIDFile:         defaultNginxPIDFile,
		},
		Nginx: Nginx{
			Binary:       defaultNginxBinary,
			MagentoConf:  defaultMagentoConf,
			Magento1Conf: defaultMagento1Conf,
			Magento2Conf: defaultMagento2Conf,
		},
		Reload: Reload{
			Mode:            ReloadModeSignal,
			SystemctlBinary: defaultSystemctlBinary,
			Unit:            defaultReloadUnit,
		},
		Permissions: Permissions{
			Unprivileged: true,
			UID:          defaultUnprivilegedUID,
			GID:          defaultUnprivilegedGID,
			OwnerUID:     0,
			OwnerGID:     0,
		},
		Watch: Watch{
			Recursive:          false,
			PollInterval:       defaultPollInterval,
			CoalesceIntervalMS: defaultCoalesceIntervalMS,
			IgnorePatterns:     DefaultIgnorePatterns(),
			SyncIgnorePatterns: DefaultSyncIgnorePatterns(),
		},
		Features: Features{
			MagentoConfig: true,
			CustomConfig:  true,
			MountCheck:    true,
		},
		NATS: NATS{
			Subject:      defaultNATSSubject,
			Payload:      defaultNATSPayload,
			DefaultsFile: defaultNATSDefaultsFile,
		},
		Daemon: Daemon{
			StateDir: defaultStateDir,
		},
		Logging: Logging{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
		History: History{
			Enabled: true,
			Path:    defaultHistoryPath,
			Keep:    defaultHistoryKeep,
		},
	}
}
