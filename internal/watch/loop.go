package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ByteInternet/nginx-config-reloader/internal/fileutil"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
)

// errWatchLost ends one watch session; Run goes back to polling for the directory.
var errWatchLost = errors.New("watch lost")

// Applier runs one apply attempt.
type Applier interface {
	Apply(ctx context.Context, trigger reconciler.Trigger) reconciler.Result
}

// Options configures a Loop.
type Options struct {
	Dir              string
	Recursive        bool
	PollInterval     time.Duration
	CoalesceInterval time.Duration
	IgnorePatterns   []string
}

// Loop watches Options.Dir and applies it whenever it changes.
type Loop struct {
	opts    Options
	applier Applier
	logger  *slog.Logger

	newWatcher func() (*fsnotify.Watcher, error)
}

// New constructs a Loop.
func New(opts Options, applier Applier, logger *slog.Logger) *Loop {
	opts.Dir = filepath.Clean(opts.Dir)
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.CoalesceInterval <= 0 {
		opts.CoalesceInterval = time.Second
	}
	return &Loop{
		opts:       opts,
		applier:    applier,
		logger:     logging.NewComponentLogger(logger, "watch"),
		newWatcher: fsnotify.NewWatcher,
	}
}

// Run blocks until ctx is cancelled. It returns an error only when the
// watcher itself cannot be created. After a lost watch it waits one poll
// interval before watching again.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if !l.waitForDir(ctx) {
			return nil
		}
		err := l.session(ctx)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, errWatchLost):
			logging.WarnWithContext(l.logger, "Configuration dir lost, waiting for it to reappear", "watch_lost",
				logging.Path(l.opts.Dir),
				logging.Error(err),
				logging.String(logging.FieldImpact, "changes are not applied until the directory is back"),
			)
			if !l.sleep(ctx) {
				return nil
			}
		default:
			return err
		}
	}
}

// waitForDir polls until the watched directory exists. It returns false when
// ctx ends first.
func (l *Loop) waitForDir(ctx context.Context) bool {
	logged := false
	for {
		if info, err := os.Stat(l.opts.Dir); err == nil && info.IsDir() {
			return true
		}
		if !logged {
			l.logger.Info("waiting for configuration dir to appear",
				logging.Path(l.opts.Dir),
				logging.Duration("poll_interval", l.opts.PollInterval),
			)
			logged = true
		}
		if !l.sleep(ctx) {
			return false
		}
	}
}

// sleep waits one poll interval and reports false when ctx ends first.
func (l *Loop) sleep(ctx context.Context) bool {
	timer := time.NewTimer(l.opts.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// session watches the directory until ctx ends (nil) or the watch is lost.
func (l *Loop) session(ctx context.Context) error {
	watcher, err := l.newWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := l.addTree(watcher, l.opts.Dir); err != nil {
		return fmt.Errorf("%w: %v", errWatchLost, err)
	}
	if err := watcher.Add(filepath.Dir(l.opts.Dir)); err != nil {
		return fmt.Errorf("%w: watch parent: %v", errWatchLost, err)
	}
	l.logger.Info("watching configuration dir",
		logging.Path(l.opts.Dir),
		logging.Bool("recursive", l.opts.Recursive),
	)

	l.apply(ctx, reconciler.TriggerInitial)

	ticker := time.NewTicker(l.opts.CoalesceInterval)
	defer ticker.Stop()
	dirty := false
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("%w: event channel closed", errWatchLost)
			}
			evt, relevant := normalize(l.opts.Dir, raw)
			if !relevant {
				continue
			}
			if evt.Kind == KindRootRemoved {
				return fmt.Errorf("%w: %s %s", errWatchLost, l.opts.Dir, raw.Op)
			}
			if l.ignored(evt.Path) {
				continue
			}
			l.logger.Debug("change detected", logging.Path(evt.Path), logging.String("kind", evt.Kind.String()))
			if evt.Kind == KindCreated && l.opts.Recursive {
				l.addCreated(watcher, evt.Path)
			}
			dirty = true
		case werr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("%w: error channel closed", errWatchLost)
			}
			return fmt.Errorf("%w: %v", errWatchLost, werr)
		case <-ticker.C:
			if !dirty {
				continue
			}
			dirty = false
			l.apply(ctx, reconciler.TriggerWatch)
		}
	}
}

func (l *Loop) apply(ctx context.Context, trigger reconciler.Trigger) {
	res := l.applier.Apply(ctx, trigger)
	if res.Outcome == reconciler.OutcomeFailed {
		l.logger.Debug("apply did not succeed",
			logging.String(logging.FieldOutcome, string(res.Outcome)),
			logging.String(logging.FieldFailureKind, string(res.Kind)),
		)
	}
}

func (l *Loop) ignored(path string) bool {
	return fileutil.MatchesAny(path, l.opts.IgnorePatterns)
}

// addTree watches dir, and every subdirectory below it in recursive mode.
// Symlinked directories are not followed.
func (l *Loop) addTree(watcher *fsnotify.Watcher, dir string) error {
	if !l.opts.Recursive {
		return watcher.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			l.logger.Debug("skipping unreadable path", logging.Path(path), logging.Error(err))
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := watcher.Add(path); err != nil {
			if path == dir {
				return err
			}
			l.logger.Debug("watch not added", logging.Path(path), logging.Error(err))
		}
		return nil
	})
}

func (l *Loop) addCreated(watcher *fsnotify.Watcher, path string) {
	info, err := os.Lstat(path)
	if err != nil || !info.IsDir() {
		return
	}
	if err := l.addTree(watcher, path); err != nil {
		l.logger.Debug("watch not added", logging.Path(path), logging.Error(err))
	}
}
