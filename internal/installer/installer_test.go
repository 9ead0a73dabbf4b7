package installer_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ByteInternet/nginx-config-reloader/internal/config"
	"github.com/ByteInternet/nginx-config-reloader/internal/installer"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
)

type layout struct {
	source    string
	installed string
	backup    string
}

func newInstaller(t *testing.T, mutate ...func(*installer.Options)) (*installer.Installer, layout) {
	t.Helper()
	base := t.TempDir()
	l := layout{
		source:    filepath.Join(base, "data", "web", "nginx"),
		installed: filepath.Join(base, "etc", "nginx", "app"),
		backup:    filepath.Join(base, "etc", "nginx", "app_bak"),
	}
	for _, dir := range []string{l.source, filepath.Dir(l.installed)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
	}
	opts := installer.Options{
		SourceDir:       l.source,
		InstalledDir:    l.installed,
		BackupDir:       l.backup,
		MarkerName:      "nginx_error_output",
		ExcludePatterns: config.DefaultSyncIgnorePatterns(),
		OwnerUID:        -1,
		OwnerGID:        -1,
	}
	for _, fn := range mutate {
		fn(&opts)
	}
	return installer.New(opts, logging.NewNop()), l
}

func write(t *testing.T, path, contents string, mode os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), mode); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		t.Fatalf("chmod %s: %v", path, err)
	}
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func isDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}

func TestStageEmptySource(t *testing.T) {
	inst, l := newInstaller(t)
	if err := inst.Stage(context.Background()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if !isDir(l.installed) {
		t.Fatal("expected installed dir to exist")
	}
}

func TestStageCopiesTreeAndRotatesBackup(t *testing.T) {
	inst, l := newInstaller(t)
	write(t, filepath.Join(l.installed, "old.conf"), "old", 0o644)
	write(t, filepath.Join(l.backup, "ancient.conf"), "ancient", 0o644)
	write(t, filepath.Join(l.source, "server.conf"), "listen 80;", 0o644)
	write(t, filepath.Join(l.source, "new_dir", "nested.conf"), "gzip on;", 0o644)

	if err := inst.Stage(context.Background()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if got := read(t, filepath.Join(l.installed, "server.conf")); got != "listen 80;" {
		t.Fatalf("unexpected installed content %q", got)
	}
	if got := read(t, filepath.Join(l.installed, "new_dir", "nested.conf")); got != "gzip on;" {
		t.Fatalf("unexpected nested content %q", got)
	}
	if got := read(t, filepath.Join(l.backup, "old.conf")); got != "old" {
		t.Fatalf("expected previous generation in backup, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(l.backup, "ancient.conf")); !os.IsNotExist(err) {
		t.Fatalf("expected older backup to be discarded, err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(l.installed, "old.conf")); !os.IsNotExist(err) {
		t.Fatalf("stale installed file survived, err=%v", err)
	}
}

func TestStageExcludesIgnoredNames(t *testing.T) {
	inst, l := newInstaller(t)
	write(t, filepath.Join(l.source, ".hidden.conf"), "x", 0o644)
	write(t, filepath.Join(l.source, "server.conf~"), "x", 0o644)
	write(t, filepath.Join(l.source, "server.conf.save"), "x", 0o644)
	write(t, filepath.Join(l.source, "magento2.flag"), "", 0o644)
	write(t, filepath.Join(l.source, ".git", "config"), "x", 0o644)
	write(t, filepath.Join(l.source, "keep.conf"), "x", 0o644)

	if err := inst.Stage(context.Background()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	entries, err := os.ReadDir(l.installed)
	if err != nil {
		t.Fatalf("read installed: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "keep.conf" {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Fatalf("unexpected installed entries: %v", names)
	}
}

func TestStageRemovesErrorMarkerFromSource(t *testing.T) {
	inst, l := newInstaller(t)
	marker := filepath.Join(l.source, "nginx_error_output")
	write(t, marker, "Unable to load config", 0o644)

	if err := inst.Stage(context.Background()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Fatalf("expected marker removal, err=%v", err)
	}
}

func TestStageSanitizesModes(t *testing.T) {
	inst, l := newInstaller(t)
	write(t, filepath.Join(l.source, "open.conf"), "x", 0o777)
	write(t, filepath.Join(l.source, "private.conf"), "x", 0o600)
	if err := os.MkdirAll(filepath.Join(l.source, "locked"), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := inst.Stage(context.Background()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	checks := map[string]os.FileMode{
		"open.conf":    0o774,
		"private.conf": 0o600,
		"locked":       0o755,
		"":             0o755,
	}
	for name, want := range checks {
		info, err := os.Stat(filepath.Join(l.installed, name))
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if got := info.Mode().Perm(); got != want {
			t.Errorf("%q mode = %o, want %o", name, got, want)
		}
	}
}

func TestStageDereferencesSymlinks(t *testing.T) {
	inst, l := newInstaller(t)
	outside := t.TempDir()
	write(t, filepath.Join(outside, "target.conf"), "target", 0o644)
	write(t, filepath.Join(outside, "dir", "inner.conf"), "inner", 0o644)
	if err := os.Symlink(filepath.Join(outside, "target.conf"), filepath.Join(l.source, "symlink")); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(filepath.Join(outside, "dir"), filepath.Join(l.source, "dirlink")); err != nil {
		t.Fatal(err)
	}

	if err := inst.Stage(context.Background()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	info, err := os.Lstat(filepath.Join(l.installed, "symlink"))
	if err != nil || !info.Mode().IsRegular() {
		t.Fatalf("expected regular file for file symlink, info=%v err=%v", info, err)
	}
	if !isDir(filepath.Join(l.installed, "dirlink")) {
		t.Fatal("expected real directory for directory symlink")
	}
	if got := read(t, filepath.Join(l.installed, "dirlink", "inner.conf")); got != "inner" {
		t.Fatalf("unexpected content %q", got)
	}
}

func TestStageCopiesRecursiveSymlinkUntilLoopLimit(t *testing.T) {
	inst, l := newInstaller(t)
	if err := os.MkdirAll(filepath.Join(l.source, "new_dir"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(l.source, filepath.Join(l.source, "new_dir", "recursive_symlink")); err != nil {
		t.Fatal(err)
	}

	if err := inst.Stage(context.Background()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	for _, rel := range []string{
		"new_dir/recursive_symlink",
		"new_dir/recursive_symlink/new_dir",
		"new_dir/recursive_symlink/new_dir/recursive_symlink",
	} {
		if !isDir(filepath.Join(l.installed, rel)) {
			t.Fatalf("expected directory %s", rel)
		}
	}
}

func TestStageReportsDanglingSymlink(t *testing.T) {
	inst, l := newInstaller(t)
	write(t, filepath.Join(l.source, "ok.conf"), "x", 0o644)
	if err := os.Symlink(filepath.Join(l.source, "missing.conf"), filepath.Join(l.source, "broken.conf")); err != nil {
		t.Fatal(err)
	}

	err := inst.Stage(context.Background())
	var stagingErr *installer.StagingError
	if !errors.As(err, &stagingErr) {
		t.Fatalf("expected StagingError, got %v", err)
	}
	if stagingErr.Op != "copy" || !strings.Contains(stagingErr.Output, "broken.conf") {
		t.Fatalf("unexpected staging error: %+v", stagingErr)
	}
	if got := read(t, filepath.Join(l.installed, "ok.conf")); got != "x" {
		t.Fatalf("healthy entries must still be copied, got %q", got)
	}
}

func TestRestoreBringsBackupBack(t *testing.T) {
	inst, l := newInstaller(t)
	write(t, filepath.Join(l.installed, "good.conf"), "good", 0o644)
	write(t, filepath.Join(l.source, "bad.conf"), "bad", 0o644)

	if err := inst.Stage(context.Background()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	if err := inst.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := read(t, filepath.Join(l.installed, "good.conf")); got != "good" {
		t.Fatalf("expected previous generation restored, got %q", got)
	}
	if _, err := os.Stat(filepath.Join(l.installed, "bad.conf")); !os.IsNotExist(err) {
		t.Fatalf("rejected file survived restore, err=%v", err)
	}
	if _, err := os.Stat(l.backup); !os.IsNotExist(err) {
		t.Fatalf("expected backup consumed, err=%v", err)
	}
}

func TestRestoreIsIdempotent(t *testing.T) {
	inst, l := newInstaller(t)
	write(t, filepath.Join(l.source, "first.conf"), "x", 0o644)
	if err := inst.Stage(context.Background()); err != nil {
		t.Fatalf("Stage: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := inst.Restore(); err != nil {
			t.Fatalf("Restore #%d: %v", i+1, err)
		}
	}
	if _, err := os.Stat(l.installed); !os.IsNotExist(err) {
		t.Fatalf("expected no installed dir without backup, err=%v", err)
	}
}
