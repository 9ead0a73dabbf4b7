// Package installer moves a screened source tree into nginx's configuration
// directory, keeping exactly one previous generation for rollback.
package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
)

// Options configures an Installer.
type Options struct {
	SourceDir    string
	InstalledDir string
	BackupDir    string
	// MarkerName is the error marker basename removed from SourceDir before staging.
	MarkerName      string
	ExcludePatterns []string
	// OwnerUID and OwnerGID own installed entries; -1 keeps the current owner.
	OwnerUID int
	OwnerGID int
	// Unprivileged runs the source chmod as UID/GID instead of the daemon identity.
	Unprivileged bool
	UID          int
	GID          int
	ChmodBinary  string
}

// Installer stages and restores the installed configuration directory.
type Installer struct {
	opts   Options
	logger *slog.Logger
}

// StagingError reports a failed staging step. Output carries per-entry copy
// failures or subprocess output when there is any.
type StagingError struct {
	Op     string
	Path   string
	Err    error
	Output string
}

func (e *StagingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }

// New constructs an Installer.
func New(opts Options, logger *slog.Logger) *Installer {
	if opts.ChmodBinary == "" {
		opts.ChmodBinary = "chmod"
	}
	return &Installer{opts: opts, logger: logging.NewComponentLogger(logger, "installer")}
}

// Stage replaces the installed directory with a fresh copy of the source tree.
// The previous installed directory becomes the backup. On error the tree is
// left half staged; callers roll back with Restore.
func (i *Installer) Stage(ctx context.Context) error {
	if i.opts.MarkerName != "" {
		if err := os.Remove(filepath.Join(i.opts.SourceDir, i.opts.MarkerName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			i.logger.Debug("error marker not removed", logging.Error(err))
		}
	}
	if err := os.RemoveAll(i.opts.BackupDir); err != nil {
		i.logger.Debug("stale backup not removed", logging.Path(i.opts.BackupDir), logging.Error(err))
	}
	if _, err := os.Lstat(i.opts.InstalledDir); err == nil {
		if err := os.Rename(i.opts.InstalledDir, i.opts.BackupDir); err != nil {
			return &StagingError{Op: "backup", Path: i.opts.InstalledDir, Err: err}
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return &StagingError{Op: "stat", Path: i.opts.InstalledDir, Err: err}
	}
	if err := os.Mkdir(i.opts.InstalledDir, 0o755); err != nil {
		return &StagingError{Op: "mkdir", Path: i.opts.InstalledDir, Err: err}
	}
	if err := os.Chmod(i.opts.InstalledDir, 0o755); err != nil {
		return &StagingError{Op: "chmod", Path: i.opts.InstalledDir, Err: err}
	}
	if err := i.chown(i.opts.InstalledDir); err != nil {
		return &StagingError{Op: "chown", Path: i.opts.InstalledDir, Err: err}
	}

	c := &copier{
		exclude:  i.opts.ExcludePatterns,
		ownerUID: i.opts.OwnerUID,
		ownerGID: i.opts.OwnerGID,
		logger:   i.logger,
	}
	c.copyDir(ctx, i.opts.SourceDir, i.opts.InstalledDir)
	if err := ctx.Err(); err != nil {
		return &StagingError{Op: "copy", Path: i.opts.SourceDir, Err: err}
	}
	if len(c.failures) > 0 {
		return &StagingError{
			Op:     "copy",
			Path:   i.opts.SourceDir,
			Err:    fmt.Errorf("%d entries could not be installed", len(c.failures)),
			Output: strings.Join(c.failures, "\n"),
		}
	}
	i.logger.Debug("configuration staged",
		logging.Path(i.opts.InstalledDir),
		logging.Int("entries", c.copied),
	)
	return nil
}

// Restore discards the installed directory and moves the backup back in place.
// Calling it twice is harmless.
func (i *Installer) Restore() error {
	if err := os.RemoveAll(i.opts.InstalledDir); err != nil {
		return fmt.Errorf("remove %s: %w", i.opts.InstalledDir, err)
	}
	if _, err := os.Lstat(i.opts.BackupDir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", i.opts.BackupDir, err)
	}
	if err := os.Rename(i.opts.BackupDir, i.opts.InstalledDir); err != nil {
		return fmt.Errorf("restore %s: %w", i.opts.BackupDir, err)
	}
	return nil
}

func (i *Installer) chown(path string) error {
	return chownEntry(path, i.opts.OwnerUID, i.opts.OwnerGID)
}

func chownEntry(path string, uid, gid int) error {
	if uid < 0 && gid < 0 {
		return nil
	}
	return os.Lchown(path, uid, gid)
}
