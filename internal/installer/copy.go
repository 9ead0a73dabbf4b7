package installer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ByteInternet/nginx-config-reloader/internal/fileutil"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
)

// copier mirrors a tree with symlinks dereferenced. Entry failures are
// collected and the walk continues.
type copier struct {
	exclude  []string
	ownerUID int
	ownerGID int
	logger   *slog.Logger
	copied   int
	failures []string
}

func (c *copier) fail(path string, err error) {
	c.failures = append(c.failures, fmt.Sprintf("%s: %v", path, err))
}

func (c *copier) copyDir(ctx context.Context, src, dst string) {
	entries, err := os.ReadDir(src)
	if err != nil {
		if isLoop(err) {
			c.logger.Debug("symlink loop depth reached", logging.Path(src))
			return
		}
		c.fail(src, err)
		return
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if fileutil.MatchesAny(entry.Name(), c.exclude) {
			continue
		}
		c.copyEntry(ctx, filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name()))
	}
}

func (c *copier) copyEntry(ctx context.Context, src, dst string) {
	info, err := os.Stat(src)
	if err != nil {
		if isLoop(err) {
			c.logger.Debug("symlink loop depth reached", logging.Path(src))
			return
		}
		c.fail(src, err)
		return
	}

	switch {
	case info.IsDir():
		if err := os.Mkdir(dst, 0o755); err != nil {
			if isLoop(err) {
				c.logger.Debug("symlink loop depth reached", logging.Path(dst))
				return
			}
			c.fail(dst, err)
			return
		}
		if err := os.Chmod(dst, 0o755); err != nil {
			c.fail(dst, err)
			return
		}
		if err := chownEntry(dst, c.ownerUID, c.ownerGID); err != nil {
			c.fail(dst, err)
			return
		}
		c.copied++
		c.copyDir(ctx, src, dst)
	case info.Mode().IsRegular():
		if err := fileutil.CopyFileMode(src, dst, fileutil.InstallMode(info.Mode())); err != nil {
			if isLoop(err) {
				c.logger.Debug("symlink loop depth reached", logging.Path(dst))
				return
			}
			c.fail(src, err)
			return
		}
		if err := os.Chtimes(dst, time.Now(), info.ModTime()); err != nil {
			c.fail(dst, err)
			return
		}
		if err := chownEntry(dst, c.ownerUID, c.ownerGID); err != nil {
			c.fail(dst, err)
			return
		}
		c.copied++
	default:
		c.logger.Debug("skipping special file", logging.Path(src), logging.String("mode", info.Mode().String()))
	}
}

func isLoop(err error) bool {
	return errors.Is(err, unix.ELOOP) || errors.Is(err, unix.ENAMETOOLONG)
}
