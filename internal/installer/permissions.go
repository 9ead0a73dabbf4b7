package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
)

var commandContext = exec.CommandContext

// FixPermissions makes the source root and every real subdirectory 0755 so the
// daemon can read what the user wrote. Failures are logged; the first one is
// returned for callers that care.
func (i *Installer) FixPermissions(ctx context.Context) error {
	dirs := []string{i.opts.SourceDir}
	walkErr := filepath.WalkDir(i.opts.SourceDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if path == i.opts.SourceDir || !d.IsDir() {
			return nil
		}
		dirs = append(dirs, path)
		return nil
	})
	if walkErr != nil {
		i.logger.Debug("permission walk incomplete", logging.Error(walkErr))
	}

	var first error
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := i.chmodDir(ctx, dir); err != nil {
			if first == nil {
				first = err
			}
			i.logger.Info("Failed fixing permissions on watched directory",
				logging.Path(dir),
				logging.Error(err),
			)
		}
	}
	return first
}

func (i *Installer) chmodDir(ctx context.Context, dir string) error {
	if !i.opts.Unprivileged {
		return os.Chmod(dir, 0o755)
	}
	cmd := commandContext(ctx, i.opts.ChmodBinary, "755", dir) //nolint:gosec
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid:         uint32(i.opts.UID), //nolint:gosec
			Gid:         uint32(i.opts.GID), //nolint:gosec
			NoSetGroups: true,
		},
	}
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return fmt.Errorf("chmod 755 %s: %w: %s", dir, err, strings.TrimSpace(string(output)))
		}
		return fmt.Errorf("chmod 755 %s: %w", dir, err)
	}
	return nil
}
