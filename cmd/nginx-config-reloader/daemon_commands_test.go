package main

import (
	"path/filepath"
	"testing"

	"github.com/ByteInternet/nginx-config-reloader/internal/testsupport"
)

func TestReloadEventsHistoryStatus(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)
	testsupport.WriteFile(t, env.env.WatchPath("site.conf"), "location / {}\n")

	out, _, err := runCLI(t, []string{"reload", "--announce"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	requireContains(t, out, "Applied via admin")

	out, _, err = runCLI(t, []string{"events"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	requireContains(t, out, "#1 ")
	requireContains(t, out, "trigger admin")

	out, _, err = runCLI(t, []string{"history"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "Applied")
	requireContains(t, out, "admin")
	requireContains(t, out, "Stored attempts: 1 (1 applied, 0 failed, 0 unmounted)")

	out, _, err = runCLI(t, []string{"status"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "== Daemon ==")
	requireContains(t, out, "Last attempt:")
	requireContains(t, out, env.cfg.Paths.WatchDir)
}

func TestReloadWithoutAnnounceEmitsNoEvent(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)

	if _, _, err := runCLI(t, []string{"reload"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("reload: %v", err)
	}
	out, _, err := runCLI(t, []string{"events"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	requireContains(t, out, "No reload events yet")
}

func TestReloadReportsFailure(t *testing.T) {
	env := setupCLITestEnv(t)
	env.startDaemon(t)
	testsupport.WriteFile(t, env.env.WatchPath("site.conf"), "bad_directive;\n")

	out, _, err := runCLI(t, []string{"reload", "--apply"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatalf("expected failure, output %q", out)
	}
	requireContains(t, out, "Failed (validation)")

	out, _, err = runCLI(t, []string{"history", "--outcome", "failed"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "validation")
	requireContains(t, out, "1 failed")
}

func TestCommandsWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	socket := filepath.Join(t.TempDir(), "absent.sock")

	_, _, err := runCLI(t, []string{"reload"}, socket, env.configPath)
	if err == nil {
		t.Fatal("expected reload to fail without a daemon")
	}
	requireContains(t, err.Error(), "start the daemon")

	out, _, err := runCLI(t, []string{"stop"}, socket, env.configPath)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	requireContains(t, out, "Daemon is not running")

	out, _, err = runCLI(t, []string{"status"}, socket, env.configPath)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	requireContains(t, out, "Not running")
}

func TestHistoryRejectsUnknownOutcome(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, _, err := runCLI(t, []string{"history", "--outcome", "exploded"}, env.socketPath, env.configPath); err == nil {
		t.Fatal("expected error for unknown outcome")
	}
}
