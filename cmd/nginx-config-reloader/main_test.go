package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
	"github.com/ByteInternet/nginx-config-reloader/internal/daemon"
	"github.com/ByteInternet/nginx-config-reloader/internal/daemonrun"
	"github.com/ByteInternet/nginx-config-reloader/internal/events"
	"github.com/ByteInternet/nginx-config-reloader/internal/ipc"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
	"github.com/ByteInternet/nginx-config-reloader/internal/testsupport"
)

type idleWatch struct{}

func (idleWatch) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

type cliTestEnv struct {
	env        *testsupport.Env
	cfg        *config.Config
	socketPath string
	configPath string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()
	env := testsupport.NewEnv(t, testsupport.WithStubNginx(t, `grep -rq bad_directive "$INSTALLED" && { echo "nginx: [emerg] unknown directive" >&2; exit 1; }; exit 0`))
	t.Setenv("INSTALLED", env.Config.Paths.CustomConfigDir)

	configPath := filepath.Join(env.Base, "config.toml")
	writeTestConfig(t, configPath, env.Config)

	return &cliTestEnv{
		env:        env,
		cfg:        env.Config,
		socketPath: filepath.Join(env.Base, "cli.sock"),
		configPath: configPath,
	}
}

// startDaemon runs the daemon and IPC server in-process on the env socket.
func (e *cliTestEnv) startDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	logger := logging.NewNop()
	hub := events.NewHub(16)
	store := testsupport.MustOpenHistory(t, e.cfg)

	rec, err := daemonrun.BuildReconciler(e.cfg, logger, daemonrun.Extras{
		Events:    hub,
		Observers: []reconciler.Observer{store},
	})
	if err != nil {
		t.Fatalf("BuildReconciler: %v", err)
	}
	d, err := daemon.New(e.cfg, daemon.Components{
		Reconciler: rec,
		Watch:      idleWatch{},
		Events:     hub,
		History:    store,
	}, logger)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.Start(ctx); err != nil {
		cancel()
		t.Fatalf("daemon start: %v", err)
	}
	srv, err := ipc.NewServer(ctx, e.socketPath, d, logger)
	if err != nil {
		cancel()
		d.Stop()
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping IPC test: %v", err)
		}
		t.Fatalf("ipc.NewServer: %v", err)
	}
	srv.Serve()

	t.Cleanup(func() {
		cancel()
		srv.Close()
		d.Stop()
	})
	return d
}

func runCLI(t *testing.T, args []string, socket, configPath string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	flags := []string{"--socket", socket}
	if configPath != "" {
		flags = append(flags, "--config", configPath)
	}
	cmd.SetArgs(append(flags, args...))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func writeTestConfig(t *testing.T, path string, cfg *config.Config) {
	t.Helper()
	data, err := toml.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}
