package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
	"github.com/ByteInternet/nginx-config-reloader/internal/testsupport"
)

func TestApplyInstallsTree(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, env.env.WatchPath("site.conf"), "location /health { return 200; }\n")

	out, _, err := runCLI(t, []string{"apply"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	requireContains(t, out, "Applied")

	installed := testsupport.ReadFile(t, filepath.Join(env.cfg.Paths.CustomConfigDir, "site.conf"))
	if !strings.Contains(installed, "/health") {
		t.Fatalf("installed config = %q", installed)
	}
}

func TestApplyFailsOnValidationError(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, env.env.WatchPath("site.conf"), "bad_directive on;\n")

	out, _, err := runCLI(t, []string{"apply"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatalf("expected apply to fail, output %q", out)
	}
	requireContains(t, out, "Failed (validation)")

	marker, readErr := os.ReadFile(env.cfg.ErrorFilePath())
	if readErr != nil {
		t.Fatalf("expected error marker: %v", readErr)
	}
	requireContains(t, string(marker), "unknown directive")
}

func TestApplyPolicyViolationJSON(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, env.env.WatchPath("site.conf"), "init_by_lua 'x';\n")

	out, _, err := runCLI(t, []string{"apply", "--json"}, env.socketPath, env.configPath)
	if err == nil {
		t.Fatal("expected apply to fail")
	}
	requireContains(t, out, `"failure_kind": "policy"`)
}

func TestApplyWithoutCustomConfigSkipsInstall(t *testing.T) {
	env := setupCLITestEnv(t)
	testsupport.WriteFile(t, env.env.WatchPath("site.conf"), "location / {}\n")

	if _, _, err := runCLI(t, []string{"--nocustomconfig", "apply"}, env.socketPath, env.configPath); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := os.Stat(env.cfg.Paths.CustomConfigDir); !os.IsNotExist(err) {
		t.Fatalf("installed dir should not exist, stat err = %v", err)
	}
}

func TestApplyReloadsLocallyWhenNATSConfigured(t *testing.T) {
	env := setupCLITestEnv(t)
	reloadLog := filepath.Join(env.env.Base, "systemctl.log")
	t.Setenv("RELOAD_LOG", reloadLog)
	env.cfg.Reload.Mode = config.ReloadModeSystemd
	env.cfg.Reload.SystemctlBinary = testsupport.StubBinary(t, filepath.Join(env.env.Base, "bin"), "systemctl", `echo "$@" >> "$RELOAD_LOG"`+"\n")
	// Nothing listens here; the one-shot path must not depend on it.
	env.cfg.NATS.Server = "nats://127.0.0.1:1"
	writeTestConfig(t, env.configPath, env.cfg)
	testsupport.WriteFile(t, env.env.WatchPath("site.conf"), "location / {}\n")

	out, _, err := runCLI(t, []string{"apply"}, env.socketPath, env.configPath)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	requireContains(t, out, "Applied")
	if strings.Contains(out, "published") {
		t.Fatalf("one-shot apply must not publish, output %q", out)
	}
	requireContains(t, testsupport.ReadFile(t, reloadLog), "reload nginx")
}
