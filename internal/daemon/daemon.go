package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
	"github.com/ByteInternet/nginx-config-reloader/internal/events"
	"github.com/ByteInternet/nginx-config-reloader/internal/history"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
	"github.com/ByteInternet/nginx-config-reloader/internal/remote"
)

// ErrAlreadyRunning is returned by Start when another process holds the lock.
var ErrAlreadyRunning = errors.New("another nginx-config-reloader daemon is already running")

// Runner is a blocking background task.
type Runner interface {
	Run(ctx context.Context) error
}

// RemoteChannel is the connected remote reload subscription.
type RemoteChannel interface {
	Subscribe(ctx context.Context, reloader remote.Reloader) error
	Connected() bool
	Close() error
}

// HistoryReader lists stored attempts.
type HistoryReader interface {
	List(ctx context.Context, limit int, outcome reconciler.Outcome) ([]history.Entry, error)
	Counts(ctx context.Context) (map[reconciler.Outcome]int, error)
}

// MetricsServer serves the metrics endpoint until ctx ends.
type MetricsServer interface {
	Serve(ctx context.Context, addr string, logger *slog.Logger) error
}

// Components are the pieces the daemon coordinates. Remote, History and
// Metrics are optional.
type Components struct {
	Reconciler *reconciler.Reconciler
	Watch      Runner
	Events     *events.Hub
	Remote     RemoteChannel
	History    HistoryReader
	Metrics    MetricsServer
}

// Daemon runs the reloader's background services.
type Daemon struct {
	cfg    *config.Config
	parts  Components
	logger *slog.Logger

	lockPath string
	lock     *flock.Flock

	running   atomic.Bool
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	done      chan struct{}
	doneOnce  sync.Once

	mu      sync.Mutex
	failure error
}

// Status is a snapshot of the daemon for admin clients.
type Status struct {
	Running         bool
	PID             int
	StartedAt       time.Time
	Applying        bool
	Last            *reconciler.Result
	LatestEvent     uint64
	WatchDir        string
	InstalledDir    string
	MarkerPath      string
	MarkerText      string
	LockPath        string
	HistoryPath     string
	RemoteEnabled   bool
	RemoteConnected bool
	MetricsListen   string
}

// New constructs a daemon. The reconciler, watch loop and event hub are required.
func New(cfg *config.Config, parts Components, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || parts.Reconciler == nil || parts.Watch == nil || parts.Events == nil {
		return nil, errors.New("daemon requires config, reconciler, watch loop and event hub")
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:      cfg,
		parts:    parts,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lockPath: lockPath,
		lock:     flock.New(lockPath),
		done:     make(chan struct{}),
	}, nil
}

// Start acquires the lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.startedAt = time.Now()

	if d.parts.Remote != nil {
		if err := d.parts.Remote.Subscribe(runCtx, d.parts.Reconciler); err != nil {
			cancel()
			_ = d.lock.Unlock()
			return fmt.Errorf("subscribe remote channel: %w", err)
		}
	}

	d.running.Store(true)
	d.spawn(func() {
		if err := d.parts.Watch.Run(runCtx); err != nil {
			logging.ErrorWithContext(d.logger, "watch loop stopped", "watch_loop_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check inotify limits and the watched directory"),
			)
			d.shutdown(fmt.Errorf("watch loop: %w", err))
		}
	})
	if d.parts.Metrics != nil && d.cfg.Metrics.Listen != "" {
		d.spawn(func() {
			if err := d.parts.Metrics.Serve(runCtx, d.cfg.Metrics.Listen, d.logger); err != nil {
				logging.WarnWithContext(d.logger, "metrics endpoint stopped", "metrics_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "metrics are not exported"),
				)
			}
		})
	}

	d.logger.Info("nginx-config-reloader daemon started",
		logging.String("lock", d.lockPath),
		logging.Path(d.cfg.Paths.WatchDir),
		logging.Bool("remote", d.parts.Remote != nil),
	)
	return nil
}

func (d *Daemon) spawn(fn func()) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		fn()
	}()
}

// shutdown cancels the background services and closes Done. It does not wait.
func (d *Daemon) shutdown(err error) {
	if err != nil {
		d.mu.Lock()
		if d.failure == nil {
			d.failure = err
		}
		d.mu.Unlock()
	}
	if d.cancel != nil {
		d.cancel()
	}
	d.doneOnce.Do(func() { close(d.done) })
}

// Done is closed once the daemon has been asked to stop.
func (d *Daemon) Done() <-chan struct{} {
	return d.done
}

// Err reports why the daemon stopped on its own, if it did.
func (d *Daemon) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failure
}

// Stop cancels the background services, waits for them and releases the lock.
func (d *Daemon) Stop() {
	d.shutdown(nil)
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	d.wg.Wait()
	if d.parts.Remote != nil {
		if err := d.parts.Remote.Close(); err != nil {
			d.logger.Debug("remote channel close incomplete", logging.Error(err))
		}
	}
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("nginx-config-reloader daemon stopped")
}

// Reload serves an admin reload. Without announce no reload event is emitted.
func (d *Daemon) Reload(ctx context.Context, announce bool) reconciler.Result {
	return d.parts.Reconciler.Reload(ctx, reconciler.ReloadOptions{Announce: announce, Trigger: reconciler.TriggerAdmin})
}

// Apply runs a full apply and announces success.
func (d *Daemon) Apply(ctx context.Context) reconciler.Result {
	return d.parts.Reconciler.Apply(ctx, reconciler.TriggerAdmin)
}

// Events returns reload events after since.
func (d *Daemon) Events(ctx context.Context, since uint64, limit int, wait bool) ([]events.Event, uint64, error) {
	return d.parts.Events.Fetch(ctx, since, limit, wait)
}

// History lists stored attempts, newest first.
func (d *Daemon) History(ctx context.Context, limit int, outcome reconciler.Outcome) ([]history.Entry, error) {
	if d.parts.History == nil {
		return nil, errors.New("attempt history is disabled")
	}
	return d.parts.History.List(ctx, limit, outcome)
}

// HistoryCounts totals stored attempts by outcome.
func (d *Daemon) HistoryCounts(ctx context.Context) (map[reconciler.Outcome]int, error) {
	if d.parts.History == nil {
		return nil, errors.New("attempt history is disabled")
	}
	return d.parts.History.Counts(ctx)
}

// Status returns the current daemon state.
func (d *Daemon) Status() Status {
	status := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		StartedAt:     d.startedAt,
		Applying:      d.parts.Reconciler.Applying(),
		LatestEvent:   d.parts.Events.Latest(),
		WatchDir:      d.cfg.Paths.WatchDir,
		InstalledDir:  d.cfg.Paths.CustomConfigDir,
		MarkerPath:    d.parts.Reconciler.MarkerPath(),
		LockPath:      d.lockPath,
		RemoteEnabled: d.parts.Remote != nil,
		MetricsListen: d.cfg.Metrics.Listen,
	}
	if last, ok := d.parts.Reconciler.Last(); ok {
		status.Last = &last
	}
	if data, err := os.ReadFile(status.MarkerPath); err == nil {
		status.MarkerText = strings.TrimSpace(string(data))
	}
	if d.parts.History != nil {
		status.HistoryPath = d.cfg.History.Path
	}
	if d.parts.Remote != nil {
		status.RemoteConnected = d.parts.Remote.Connected()
	}
	return status
}
