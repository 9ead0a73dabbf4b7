package daemonctl

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ByteInternet/nginx-config-reloader/internal/testsupport"
)

func TestProcessInfoWithoutSocket(t *testing.T) {
	alive, pid, err := ProcessInfo(filepath.Join(t.TempDir(), "missing.sock"))
	if err != nil || alive || pid != 0 {
		t.Fatalf("ProcessInfo = %v, %d, %v", alive, pid, err)
	}
}

func TestWaitForShutdownWithoutSocket(t *testing.T) {
	if err := WaitForShutdown(filepath.Join(t.TempDir(), "missing.sock"), time.Second); err != nil {
		t.Fatalf("WaitForShutdown: %v", err)
	}
}

func TestStopAndTerminateNotRunning(t *testing.T) {
	env := testsupport.NewEnv(t)
	if _, err := StopAndTerminate(env.Config.SocketPath(), env.Config, time.Second); !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestForceKillProcessRefusesSelf(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "reloader.pid")
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected refusal to kill the current process")
	}
}

func TestForceKillProcessWithoutPID(t *testing.T) {
	if _, err := ForceKillProcess(filepath.Join(t.TempDir(), "missing.pid"), "", 0); err == nil {
		t.Fatal("expected error without pid")
	}
}

func TestLaunchRequiresExecutable(t *testing.T) {
	if err := Launch(" ", LaunchOptions{}); err == nil {
		t.Fatal("expected error for empty executable")
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	env := testsupport.NewEnv(t, testsupport.WithStubNginx(t, "exit 0"))

	snap, err := BuildStatusSnapshot(context.Background(), env.Config.SocketPath(), env.Config)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if snap.Daemon != nil {
		t.Fatalf("expected no daemon status, got %+v", snap.Daemon)
	}
	for _, check := range snap.Checks {
		if !check.Passed {
			t.Errorf("check %q failed: %s", check.Name, check.Detail)
		}
	}
	if len(snap.Dependencies) == 0 || !snap.Dependencies[0].Available {
		t.Fatalf("expected the nginx stub to be found: %+v", snap.Dependencies)
	}
	if len(snap.Runtime) == 0 || snap.Runtime[0].Severity != "warn" {
		t.Fatalf("expected a not-running daemon line, got %+v", snap.Runtime)
	}
}
