package nginx

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
)

// TriggerOptions selects how nginx is told to reload.
type TriggerOptions struct {
	UseSystemd      bool
	SystemctlBinary string
	Unit            string
	PIDFile         string
}

// Trigger reloads a running nginx.
type Trigger struct {
	opts   TriggerOptions
	logger *slog.Logger
	kill   func(pid int, sig unix.Signal) error
}

// NewTrigger constructs a Trigger.
func NewTrigger(opts TriggerOptions, logger *slog.Logger) *Trigger {
	if opts.SystemctlBinary == "" {
		opts.SystemctlBinary = "systemctl"
	}
	if opts.Unit == "" {
		opts.Unit = "nginx"
	}
	return &Trigger{
		opts:   opts,
		logger: logging.NewComponentLogger(logger, "nginx"),
		kill:   unix.Kill,
	}
}

// Reload asks nginx to re-read its configuration. In signal mode a missing or
// unreadable PID file means nginx is not running; that is logged, not returned.
func (t *Trigger) Reload(ctx context.Context) error {
	if t.opts.UseSystemd {
		cmd := commandContext(ctx, t.opts.SystemctlBinary, "reload", t.opts.Unit) //nolint:gosec
		output, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("systemctl reload %s: %w: %s", t.opts.Unit, err, strings.TrimSpace(string(output)))
		}
		t.logger.Info("Reloading nginx config", logging.String("unit", t.opts.Unit))
		return nil
	}

	pid, err := readPID(t.opts.PIDFile)
	if err != nil {
		logging.WarnWithContext(t.logger, "Not reloading, nginx not running", "nginx_not_running",
			logging.Path(t.opts.PIDFile),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "start nginx; the installed configuration is picked up on start"),
			logging.String(logging.FieldImpact, "configuration installed but not active"),
		)
		return nil
	}
	t.logger.Info("Reloading nginx config", logging.Int("pid", pid))
	if err := t.kill(pid, unix.SIGHUP); err != nil {
		return fmt.Errorf("signal nginx pid %d: %w", pid, err)
	}
	return nil
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("pid file %s missing", path)
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d in %s", pid, path)
	}
	return pid, nil
}
