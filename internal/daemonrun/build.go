package daemonrun

import (
	"fmt"
	"log/slog"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
	"github.com/ByteInternet/nginx-config-reloader/internal/installer"
	"github.com/ByteInternet/nginx-config-reloader/internal/mount"
	"github.com/ByteInternet/nginx-config-reloader/internal/nginx"
	"github.com/ByteInternet/nginx-config-reloader/internal/policy"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
	"github.com/ByteInternet/nginx-config-reloader/internal/remote"
)

// Extras are the optional reconciler collaborators supplied by the caller.
type Extras struct {
	Publisher reconciler.Publisher
	Events    reconciler.EventSink
	Observers []reconciler.Observer
}

// RuleOptions derives the directive screening options from cfg.
func RuleOptions(cfg *config.Config) policy.RuleOptions {
	return policy.RuleOptions{
		MainConfigDir:   cfg.Paths.MainConfigDir,
		BackupConfigDir: cfg.Paths.BackupConfigDir,
		AllowIncludes:   cfg.Policy.AllowIncludes,
	}
}

// BuildReconciler wires the policy scanner, installer, nginx validator and
// reload trigger described by cfg. The daemon and the one-shot apply command
// share it.
func BuildReconciler(cfg *config.Config, logger *slog.Logger, extras Extras) (*reconciler.Reconciler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	scanner, err := policy.NewScanner(RuleOptions(cfg), cfg.Paths.ErrorFile, logger)
	if err != nil {
		return nil, fmt.Errorf("compile policy rules: %w", err)
	}

	deps := reconciler.Dependencies{
		Scanner: scanner,
		Installer: installer.New(installer.Options{
			SourceDir:       cfg.Paths.WatchDir,
			InstalledDir:    cfg.Paths.CustomConfigDir,
			BackupDir:       cfg.Paths.BackupConfigDir,
			MarkerName:      cfg.Paths.ErrorFile,
			ExcludePatterns: cfg.Watch.SyncIgnorePatterns,
			OwnerUID:        cfg.Permissions.OwnerUID,
			OwnerGID:        cfg.Permissions.OwnerGID,
			Unprivileged:    cfg.Permissions.Unprivileged,
			UID:             cfg.Permissions.UID,
			GID:             cfg.Permissions.GID,
		}, logger),
		Validator: nginx.Validator{Binary: cfg.Nginx.Binary},
		Reloader: nginx.NewTrigger(nginx.TriggerOptions{
			UseSystemd:      cfg.UseSystemd(),
			SystemctlBinary: cfg.Reload.SystemctlBinary,
			Unit:            cfg.Reload.Unit,
			PIDFile:         cfg.Paths.PIDFile,
		}, logger),
		Magento: nginx.MagentoLinker{
			Conf:     cfg.Nginx.MagentoConf,
			Conf1:    cfg.Nginx.Magento1Conf,
			Conf2:    cfg.Nginx.Magento2Conf,
			FlagPath: cfg.Magento2FlagPath(),
		},
		Mounts:    mount.Checker{SystemctlBinary: cfg.Reload.SystemctlBinary},
		Publisher: extras.Publisher,
		Events:    extras.Events,
		Observers: extras.Observers,
	}

	return reconciler.New(reconciler.Options{
		WatchDir:      cfg.Paths.WatchDir,
		MainConfigDir: cfg.Paths.MainConfigDir,
		MarkerName:    cfg.Paths.ErrorFile,
		MagentoConfig: cfg.Features.MagentoConfig,
		CustomConfig:  cfg.Features.CustomConfig,
		MountCheck:    cfg.Features.MountCheck,
	}, deps, logger), nil
}

// ConnectRemote opens the remote reload channel when a server is configured.
// It returns nil without error when the channel is disabled.
func ConnectRemote(cfg *config.Config, logger *slog.Logger) (*remote.Channel, error) {
	if cfg == nil || cfg.NATS.Server == "" {
		return nil, nil
	}
	files, err := remote.ResolveTLS(remote.TLSFiles{
		Cert: cfg.NATS.Cert,
		Key:  cfg.NATS.Key,
		CA:   cfg.NATS.CA,
	}, cfg.NATS.DefaultsFile, logger)
	if err != nil {
		return nil, fmt.Errorf("resolve NATS TLS settings: %w", err)
	}
	ch, err := remote.Connect(remote.Options{
		Server:  cfg.NATS.Server,
		Subject: cfg.NATS.Subject,
		Payload: cfg.NATS.Payload,
		TLS:     files,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.NATS.Server, err)
	}
	return ch, nil
}
