package installer_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/ByteInternet/nginx-config-reloader/internal/installer"
)

func TestFixPermissionsInProcess(t *testing.T) {
	inst, l := newInstaller(t)
	for _, dir := range []string{l.source, filepath.Join(l.source, "a"), filepath.Join(l.source, "a", "b")} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			t.Fatal(err)
		}
		if err := os.Chmod(dir, 0o700); err != nil {
			t.Fatal(err)
		}
	}

	if err := inst.FixPermissions(context.Background()); err != nil {
		t.Fatalf("FixPermissions: %v", err)
	}
	for _, dir := range []string{l.source, filepath.Join(l.source, "a"), filepath.Join(l.source, "a", "b")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatal(err)
		}
		if info.Mode().Perm() != 0o755 {
			t.Errorf("%s mode = %o, want 755", dir, info.Mode().Perm())
		}
	}
}

func TestFixPermissionsRunsChmodAsUnprivilegedUser(t *testing.T) {
	binDir := t.TempDir()
	logFile := filepath.Join(binDir, "calls.log")
	stub := filepath.Join(binDir, "chmod")
	script := "#!/bin/sh\necho \"$(id -u) $1 $2\" >> " + logFile + "\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	inst, l := newInstaller(t, func(o *installer.Options) {
		o.Unprivileged = true
		o.UID = os.Getuid()
		o.GID = os.Getgid()
		o.ChmodBinary = stub
	})
	if err := os.MkdirAll(filepath.Join(l.source, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	outside := t.TempDir()
	if err := os.Symlink(outside, filepath.Join(l.source, "linked")); err != nil {
		t.Fatal(err)
	}

	if err := inst.FixPermissions(context.Background()); err != nil {
		t.Fatalf("FixPermissions: %v", err)
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read calls: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	sort.Strings(lines)
	uid := strconv.Itoa(os.Getuid())
	want := []string{
		uid + " 755 " + l.source,
		uid + " 755 " + filepath.Join(l.source, "sub"),
	}
	sort.Strings(want)
	if strings.Join(lines, "|") != strings.Join(want, "|") {
		t.Fatalf("unexpected chmod calls:\n%v\nwant:\n%v", lines, want)
	}
}

func TestFixPermissionsReportsFailures(t *testing.T) {
	binDir := t.TempDir()
	stub := filepath.Join(binDir, "chmod")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\necho 'operation not permitted' >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	inst, _ := newInstaller(t, func(o *installer.Options) {
		o.Unprivileged = true
		o.UID = os.Getuid()
		o.GID = os.Getgid()
		o.ChmodBinary = stub
	})
	err := inst.FixPermissions(context.Background())
	if err == nil || !strings.Contains(err.Error(), "operation not permitted") {
		t.Fatalf("expected chmod failure with output, got %v", err)
	}
}

