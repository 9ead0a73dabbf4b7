// Package reconciler turns the watched configuration tree into the running
// nginx configuration: screen, link, stage, validate, reload, and roll back on
// failure. At most one apply runs at a time.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/ByteInternet/nginx-config-reloader/internal/events"
	"github.com/ByteInternet/nginx-config-reloader/internal/installer"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/nginx"
)

// Options holds the paths and feature switches an apply works with.
type Options struct {
	WatchDir      string
	MainConfigDir string
	MarkerName    string
	MagentoConfig bool
	CustomConfig  bool
	MountCheck    bool
}

// ReloadOptions selects the behaviour of Reload.
type ReloadOptions struct {
	// ReloadOnly skips the apply and only reloads nginx. Used for reload
	// requests received over the remote channel.
	ReloadOnly bool
	// Announce publishes a reload event after a successful apply.
	Announce bool
	Trigger  Trigger
}

// Reconciler runs guarded apply attempts.
type Reconciler struct {
	opts   Options
	deps   Dependencies
	logger *slog.Logger

	applying atomic.Bool

	mu   sync.Mutex
	last *Result

	access func(path string, mode uint32) error
	now    func() time.Time
	newID  func() string
}

// New constructs a Reconciler.
func New(opts Options, deps Dependencies, logger *slog.Logger) *Reconciler {
	if opts.MarkerName == "" {
		opts.MarkerName = "nginx_error_output"
	}
	return &Reconciler{
		opts:   opts,
		deps:   deps,
		logger: logging.NewComponentLogger(logger, "reconciler"),
		access: unix.Access,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Applying reports whether an apply currently holds the guard.
func (r *Reconciler) Applying() bool {
	return r.applying.Load()
}

// Last returns the most recent non-skipped result.
func (r *Reconciler) Last() (Result, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return Result{}, false
	}
	return *r.last, true
}

// MarkerPath is the absolute path of the error marker.
func (r *Reconciler) MarkerPath() string {
	return filepath.Join(r.opts.WatchDir, r.opts.MarkerName)
}

// Apply screens, installs, validates and reloads the watched tree. When
// another apply is running the call returns immediately with OutcomeSkipped.
// A successful apply publishes a reload event.
func (r *Reconciler) Apply(ctx context.Context, trigger Trigger) Result {
	return r.apply(ctx, trigger, true)
}

// Reload serves admin and remote reload requests. With ReloadOnly only nginx is
// reloaded, and the request is skipped while an apply holds the guard.
// Otherwise the watched directory is checked for a stale mount and then
// applied; a reload event is published only when Announce is set.
func (r *Reconciler) Reload(ctx context.Context, opts ReloadOptions) Result {
	trigger := opts.Trigger
	if opts.ReloadOnly {
		if trigger == "" {
			trigger = TriggerRemote
		}
		res := r.begin(trigger)
		log := logging.WithContext(logging.WithAttempt(ctx, res.AttemptID, string(trigger)), r.logger)
		// A running apply rewrites the installed directory and reloads when done.
		if !r.applying.CompareAndSwap(false, true) {
			res.Outcome = OutcomeSkipped
			res.Message = "apply in progress, its reload covers this request"
			log.Info("apply in progress, dropping reload request")
			return r.finish(log, res, false)
		}
		func() {
			defer r.applying.Store(false)
			if err := r.deps.Reloader.Reload(ctx); err != nil {
				res = r.fail(log, res, FailureReload, err)
				return
			}
			res.Outcome = OutcomeApplied
		}()
		return r.finish(log, res, false)
	}

	if trigger == "" {
		trigger = TriggerAdmin
	}
	if r.opts.MountCheck && r.deps.Mounts != nil {
		unmounted, err := r.deps.Mounts.Unmounted(ctx, r.opts.WatchDir)
		if err != nil {
			logging.WarnWithContext(r.logger, "mount state unknown, applying anyway", "mount_check_failed",
				logging.Path(r.opts.WatchDir),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that systemctl is available"),
				logging.String(logging.FieldImpact, "an unmounted tree may be installed as empty"),
			)
		} else if unmounted {
			res := r.begin(trigger)
			res.Outcome = OutcomeUnmounted
			res.Message = r.opts.WatchDir + " is not mounted"
			log := logging.WithContext(logging.WithAttempt(ctx, res.AttemptID, string(trigger)), r.logger)
			logging.WarnWithContext(log, "Not reloading, configuration dir is not mounted", "watch_dir_unmounted",
				logging.Path(r.opts.WatchDir),
				logging.String(logging.FieldErrorHint, "mount the directory and retry"),
				logging.String(logging.FieldImpact, "nginx keeps running the previous configuration"),
			)
			return r.finish(log, res, false)
		}
	}
	return r.apply(ctx, trigger, opts.Announce)
}

func (r *Reconciler) apply(ctx context.Context, trigger Trigger, announce bool) Result {
	res := r.begin(trigger)
	log := logging.WithContext(logging.WithAttempt(ctx, res.AttemptID, string(trigger)), r.logger)

	if !r.applying.CompareAndSwap(false, true) {
		res.Outcome = OutcomeSkipped
		res.Message = "another apply is in progress"
		log.Info("apply already in progress, dropping request")
		return r.finish(log, res, false)
	}

	func() {
		defer r.applying.Store(false)
		defer func() {
			if p := recover(); p != nil {
				log.Error("apply panicked",
					logging.String("panic", fmt.Sprint(p)),
					logging.String("stack", string(debug.Stack())),
				)
				res = r.fail(log, res, FailureInternal, fmt.Errorf("panic: %v", p))
			}
		}()
		res = r.run(ctx, log, res)
	}()

	return r.finish(log, res, announce)
}

func (r *Reconciler) run(ctx context.Context, log *slog.Logger, res Result) Result {
	violation, err := r.deps.Scanner.Scan(ctx, r.opts.WatchDir)
	if err != nil {
		return r.fail(log, res, FailureInternal, fmt.Errorf("scan %s: %w", r.opts.WatchDir, err))
	}
	if violation != nil {
		text := violation.MarkerText()
		log.Error(strings.TrimSpace(text),
			logging.Path(violation.File),
			logging.Int("line", violation.Line),
			logging.String("rule", violation.Rule),
		)
		r.writeMarker(log, text)
		res.Outcome = OutcomeFailed
		res.Kind = FailurePolicy
		res.Message = strings.TrimSpace(text)
		return res
	}

	if err := r.access(r.opts.MainConfigDir, unix.W_OK); err != nil {
		log.Error("No write permissions to main nginx config directory, please check your permissions",
			logging.Path(r.opts.MainConfigDir),
			logging.Error(err),
		)
		res.Outcome = OutcomeFailed
		res.Kind = FailurePermission
		res.Message = fmt.Sprintf("no write permission on %s: %v", r.opts.MainConfigDir, err)
		return res
	}

	if r.opts.MagentoConfig && r.deps.Magento != nil {
		target, err := r.deps.Magento.Link()
		if err != nil {
			log.Error("Installation of magento config failed", logging.Error(err))
			res.Outcome = OutcomeFailed
			res.Kind = FailureMagento
			res.Message = err.Error()
			return res
		}
		log.Debug("magento config linked", logging.Path(target))
	}

	if r.opts.CustomConfig {
		if err := r.deps.Installer.FixPermissions(ctx); err != nil {
			log.Debug("permission fix incomplete", logging.Error(err))
		}
		if err := r.deps.Installer.Stage(ctx); err != nil {
			log.Error("Installation of custom config failed", logging.Error(err))
			r.restore(log)
			text := err.Error()
			var stagingErr *installer.StagingError
			if errors.As(err, &stagingErr) && stagingErr.Output != "" {
				text += "\n\n" + stagingErr.Output
			}
			r.writeMarker(log, text)
			res.Outcome = OutcomeFailed
			res.Kind = FailureStaging
			res.Message = err.Error()
			return res
		}
	}

	if err := r.deps.Validator.Validate(ctx); err != nil {
		log.Info("Config check failed", logging.Error(err))
		if r.opts.CustomConfig {
			r.restore(log)
		}
		text := err.Error()
		var validationErr *nginx.ValidationError
		if errors.As(err, &validationErr) {
			text = validationErr.Output
		}
		r.writeMarker(log, text)
		res.Outcome = OutcomeFailed
		res.Kind = FailureValidation
		res.Message = strings.TrimSpace(text)
		return res
	}
	r.removeMarker(log)

	if r.deps.Publisher != nil {
		log.Debug("publishing reload to remote peers")
		if err := r.deps.Publisher.PublishReload(ctx); err != nil {
			return r.fail(log, res, FailureReload, fmt.Errorf("publish reload: %w", err))
		}
		res.Published = true
	} else if err := r.deps.Reloader.Reload(ctx); err != nil {
		return r.fail(log, res, FailureReload, err)
	}

	res.Outcome = OutcomeApplied
	return res
}

func (r *Reconciler) begin(trigger Trigger) Result {
	return Result{
		AttemptID: r.newID(),
		Trigger:   trigger,
		StartedAt: r.now(),
	}
}

func (r *Reconciler) fail(log *slog.Logger, res Result, kind FailureKind, err error) Result {
	logging.ErrorWithContext(log, "apply failed", "apply_failed",
		logging.String(logging.FieldFailureKind, string(kind)),
		logging.Error(err),
	)
	res.Outcome = OutcomeFailed
	res.Kind = kind
	res.Message = err.Error()
	return res
}

func (r *Reconciler) finish(log *slog.Logger, res Result, announce bool) Result {
	res.FinishedAt = r.now()

	if res.Outcome != OutcomeSkipped {
		r.mu.Lock()
		stored := res
		r.last = &stored
		r.mu.Unlock()
	}

	if res.OK() {
		log.Info("configuration applied",
			logging.String(logging.FieldOutcome, string(res.Outcome)),
			logging.Bool("published", res.Published),
			logging.Duration("elapsed", res.Duration()),
		)
		if announce && r.deps.Events != nil {
			r.deps.Events.Publish(events.Event{
				Timestamp: res.FinishedAt.UTC(),
				AttemptID: res.AttemptID,
				Trigger:   string(res.Trigger),
				Published: res.Published,
			})
		}
	}

	for _, observer := range r.deps.Observers {
		if observer != nil {
			observer.Observe(res)
		}
	}
	return res
}

func (r *Reconciler) restore(log *slog.Logger) {
	if err := r.deps.Installer.Restore(); err != nil {
		logging.ErrorWithContext(log, "rollback failed", "rollback_failed",
			logging.Alert("installed configuration may be partial"),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the installed and backup directories by hand"),
		)
	}
}

func (r *Reconciler) writeMarker(log *slog.Logger, text string) {
	if err := os.WriteFile(r.MarkerPath(), []byte(text), 0o644); err != nil {
		logging.WarnWithContext(log, "error marker not written", "marker_write_failed",
			logging.Path(r.MarkerPath()),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the failure is only visible in the daemon log"),
		)
	}
}

func (r *Reconciler) removeMarker(log *slog.Logger) {
	if err := os.Remove(r.MarkerPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Debug("error marker not removed", logging.Error(err))
	}
}
