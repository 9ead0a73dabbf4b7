package preflight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
	"github.com/ByteInternet/nginx-config-reloader/internal/deps"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/remote"
)

const natsCheckTimeout = 3 * time.Second

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if res, ok := statDir(name, path); !ok {
		return res
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDirectoryReadable verifies that the directory exists and can be listed.
func CheckDirectoryReadable(name, path string) Result {
	if res, ok := statDir(name, path); !ok {
		return res
	}
	if err := unix.Access(path, unix.R_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read ok)", path)}
}

// CheckParentWritable passes when path is a writable directory, or when it is
// missing but its parent is writable so it can be created on first install.
func CheckParentWritable(name, path string) Result {
	if _, err := os.Stat(path); err == nil {
		return CheckDirectoryAccess(name, path)
	}
	parent := filepath.Dir(path)
	if err := unix.Access(parent, unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: cannot create in %s: %v)", path, parent, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (created on first install)", path)}
}

func statDir(name, path string) (Result, bool) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}, false
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}, false
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}, false
	}
	return Result{}, true
}

// CheckSystemDeps evaluates the external binaries for the given config. Both
// the daemon and the CLI status command use this list.
func CheckSystemDeps(cfg *config.Config) []deps.Status {
	requirements := []deps.Requirement{
		{
			Name:        "nginx",
			Command:     cfg.Nginx.Binary,
			Description: "Required to validate the configuration",
		},
		{
			Name:        "chmod",
			Command:     "chmod",
			Description: "Used to fix permissions as the unprivileged user",
			Optional:    !cfg.Permissions.Unprivileged,
		},
	}
	if cfg.UseSystemd() || cfg.Features.MountCheck {
		requirements = append(requirements, deps.Requirement{
			Name:        "systemctl",
			Command:     cfg.Reload.SystemctlBinary,
			Description: "Required for systemd reloads and mount checks",
			Optional:    !cfg.UseSystemd(),
		})
	}
	return deps.CheckBinaries(requirements)
}

// CheckNATSTLS resolves the TLS files for the remote channel and verifies
// they are readable. A plain connection passes.
func CheckNATSTLS(cfg *config.Config, logger *slog.Logger) (Result, remote.TLSFiles) {
	const name = "NATS TLS"

	files, err := remote.ResolveTLS(remote.TLSFiles{
		Cert: cfg.NATS.Cert,
		Key:  cfg.NATS.Key,
		CA:   cfg.NATS.CA,
	}, cfg.NATS.DefaultsFile, logger)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}, remote.TLSFiles{}
	}
	if !files.Complete() {
		return Result{Name: name, Passed: true, Detail: "Disabled"}, files
	}
	for _, path := range []string{files.Cert, files.Key, files.CA} {
		if err := unix.Access(path, unix.R_OK); err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}, files
		}
	}
	return Result{Name: name, Passed: true, Detail: files.Cert}, files
}

// CheckNATS connects to the configured server once and disconnects.
func CheckNATS(ctx context.Context, cfg *config.Config, files remote.TLSFiles, logger *slog.Logger) Result {
	const name = "NATS"

	if ctx.Err() != nil {
		return Result{Name: name, Detail: ctx.Err().Error()}
	}
	done := make(chan Result, 1)
	go func() {
		ch, err := remote.Connect(remote.Options{
			Server:  cfg.NATS.Server,
			Subject: cfg.NATS.Subject,
			Payload: cfg.NATS.Payload,
			TLS:     files,
		}, logging.NewComponentLogger(logger, "preflight"))
		if err != nil {
			done <- Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", cfg.NATS.Server, err)}
			return
		}
		_ = ch.Close()
		done <- Result{Name: name, Passed: true, Detail: cfg.NATS.Server}
	}()

	select {
	case res := <-done:
		return res
	case <-ctx.Done():
		return Result{Name: name, Detail: summarizeTimeout(ctx.Err())}
	case <-time.After(natsCheckTimeout):
		return Result{Name: name, Detail: summarizeTimeout(context.DeadlineExceeded)}
	}
}

func summarizeTimeout(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "connection check timed out (server unresponsive)"
	}
	return err.Error()
}
