package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
	"github.com/ByteInternet/nginx-config-reloader/internal/daemon"
	"github.com/ByteInternet/nginx-config-reloader/internal/deps"
	"github.com/ByteInternet/nginx-config-reloader/internal/events"
	"github.com/ByteInternet/nginx-config-reloader/internal/history"
	"github.com/ByteInternet/nginx-config-reloader/internal/ipc"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/metrics"
	"github.com/ByteInternet/nginx-config-reloader/internal/preflight"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
	"github.com/ByteInternet/nginx-config-reloader/internal/watch"
)

const eventBuffer = 256

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
	// SocketPath overrides the administrative socket location.
	SocketPath string
}

// Run starts the watch daemon and blocks until a signal, a Stop request or a
// fatal watch failure.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if opts.LogLevel != "" {
		cfg.Logging.Level = opts.LogLevel
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logDependencySnapshot(logger, cfg)
	for _, failed := range preflight.Failed(preflight.RunAll(signalCtx, cfg, logger)) {
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", failed.Name),
			logging.String("detail", failed.Detail),
			logging.String(logging.FieldImpact, "applies may fail until this is fixed"),
		)
	}

	pidPath := cfg.DaemonPIDPath()
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	collector := metrics.NewCollector(nil)
	observers := []reconciler.Observer{collector}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History.Path, cfg.History.Keep, logger)
		if err != nil {
			logger.Error("open attempt history", logging.Error(err))
			return err
		}
		defer store.Close()
		observers = append(observers, store)
	}

	channel, err := ConnectRemote(cfg, logger)
	if err != nil {
		logger.Error("connect remote channel", logging.Error(err))
		return err
	}

	hub := events.NewHub(eventBuffer)
	extras := Extras{Events: hub, Observers: observers}
	parts := daemon.Components{Events: hub, Metrics: collector}
	if channel != nil {
		extras.Publisher = channel
		parts.Remote = channel
		collector.TrackRemote(channel.Connected)
	}
	if store != nil {
		parts.History = store
	}

	rec, err := BuildReconciler(cfg, logger, extras)
	if err != nil {
		if channel != nil {
			_ = channel.Close()
		}
		return err
	}
	collector.TrackApplying(rec.Applying)
	parts.Reconciler = rec
	parts.Watch = watch.New(watch.Options{
		Dir:              cfg.Paths.WatchDir,
		Recursive:        cfg.Watch.Recursive,
		PollInterval:     cfg.PollInterval(),
		CoalesceInterval: cfg.CoalesceInterval(),
		IgnorePatterns:   cfg.Watch.IgnorePatterns,
	}, rec, logger)

	d, err := daemon.New(cfg, parts, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	if err := d.Start(signalCtx); err != nil {
		if channel != nil {
			_ = channel.Close()
		}
		return err
	}
	defer d.Stop()

	socketPath := opts.SocketPath
	if socketPath == "" {
		socketPath = cfg.SocketPath()
	}
	ipcServer, err := ipc.NewServer(signalCtx, socketPath, d, logger)
	if err != nil {
		return fmt.Errorf("start IPC server: %w", err)
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	select {
	case <-signalCtx.Done():
	case <-d.Done():
	}
	logger.Info("nginx-config-reloader daemon shutting down")
	return d.Err()
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.Bool("nginx_available", deps.Available(cfg.Nginx.Binary)),
		logging.String("nginx_binary", cfg.Nginx.Binary),
		logging.Bool("systemctl_available", deps.Available(cfg.Reload.SystemctlBinary)),
		logging.String("reload_mode", cfg.Reload.Mode),
		logging.Bool("remote_enabled", cfg.NATS.Server != ""),
		logging.Bool("history_enabled", cfg.History.Enabled),
		logging.String("metrics_listen", cfg.Metrics.Listen),
	)
}
