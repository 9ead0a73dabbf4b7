package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/policy"
)

func newScanner(t *testing.T, opts policy.RuleOptions) *policy.Scanner {
	t.Helper()
	scanner, err := policy.NewScanner(opts, "nginx_error_output", logging.NewNop())
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}
	return scanner
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestScanMissingRootIsClean(t *testing.T) {
	v, err := newScanner(t, policy.RuleOptions{}).Scan(context.Background(), filepath.Join(t.TempDir(), "absent"))
	if err != nil || v != nil {
		t.Fatalf("expected clean result, got %v, %v", v, err)
	}
}

func TestScanCleanTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "server.rewrites.conf"), "rewrite ^/old$ /new permanent;\ninclude /etc/nginx/fastcgi_params;\n")
	writeFile(t, filepath.Join(root, "sub", "log.conf"), "access_log /data/var/log/shop.log;\n")

	v, err := newScanner(t, policy.RuleOptions{}).Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v != nil {
		t.Fatalf("expected no violation, got %+v", v)
	}
}

func TestScanReportsViolationLocation(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "server.lua.conf")
	writeFile(t, path, "location / {\n}\ninit_by_lua_block {\n}\n")

	v, err := newScanner(t, policy.RuleOptions{}).Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v == nil {
		t.Fatal("expected violation")
	}
	if v.File != path || v.Line != 3 || v.Rule != "lua_init" {
		t.Fatalf("unexpected violation: %+v", v)
	}
	if v.MarkerText() != "Unable to load config: "+policy.MessageLuaInit {
		t.Fatalf("unexpected marker text: %q", v.MarkerText())
	}
}

func TestScanEvaluatesRulesInOrder(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.conf"), "include /data/web/evil.conf;\n")
	writeFile(t, filepath.Join(root, "z.conf"), "client_body_temp_path /tmp;\n")

	v, err := newScanner(t, policy.RuleOptions{}).Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v == nil || v.Message != policy.MessageClientBodyTempPath {
		t.Fatalf("expected client_body_temp_path to win, got %+v", v)
	}
}

func TestScanSkipsErrorMarker(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "nginx_error_output"), "Unable to load config:\ninclude /data/web/evil.conf\n")

	v, err := newScanner(t, policy.RuleOptions{}).Scan(context.Background(), root)
	if err != nil || v != nil {
		t.Fatalf("expected marker to be ignored, got %+v, %v", v, err)
	}
}

func TestScanAllowIncludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "inc.conf"), "include /data/web/nginx/extra.conf;\n")

	if v, _ := newScanner(t, policy.RuleOptions{}).Scan(context.Background(), root); v == nil {
		t.Fatal("expected include violation by default")
	}
	v, err := newScanner(t, policy.RuleOptions{AllowIncludes: true}).Scan(context.Background(), root)
	if err != nil || v != nil {
		t.Fatalf("expected includes to be allowed, got %+v, %v", v, err)
	}
}

func TestScanFollowsSymlinks(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	writeFile(t, filepath.Join(outside, "evil.conf"), "init_by_lua 'x';\n")
	writeFile(t, filepath.Join(outside, "dir", "nested", "evil.conf"), "init_by_lua 'x';\n")

	scanner := newScanner(t, policy.RuleOptions{})
	linkedDir := filepath.Join(root, "linked_dir")
	if err := os.Symlink(filepath.Join(outside, "dir"), linkedDir); err != nil {
		t.Fatalf("symlink dir: %v", err)
	}
	v, err := scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if want := filepath.Join(linkedDir, "nested", "evil.conf"); v == nil || v.File != want {
		t.Fatalf("expected violation through directory symlink at %s, got %+v", want, v)
	}

	if err := os.Remove(linkedDir); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(root, "linked.conf")
	if err := os.Symlink(filepath.Join(outside, "evil.conf"), link); err != nil {
		t.Fatalf("symlink file: %v", err)
	}
	v, err = scanner.Scan(context.Background(), root)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if v == nil || v.File != link {
		t.Fatalf("expected violation through file symlink, got %+v", v)
	}
}

func TestScanStopsAtSymlinkLoops(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "server.conf"), "gzip on;\n")
	if err := os.Symlink(root, filepath.Join(root, "loop")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "missing"), filepath.Join(root, "dangling.conf")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	scanner := newScanner(t, policy.RuleOptions{})
	done := make(chan struct{})
	var v *policy.Violation
	var err error
	go func() {
		defer close(done)
		v, err = scanner.Scan(context.Background(), root)
	}()
	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("scan did not terminate on a symlink loop")
	}
	if err != nil || v != nil {
		t.Fatalf("expected clean scan, got %+v, %v", v, err)
	}
}

func TestScanHonoursCancellation(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.conf"), "gzip on;\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := newScanner(t, policy.RuleOptions{}).Scan(ctx, root); err == nil {
		t.Fatal("expected context error")
	}
}

func TestScanIgnoresCommentedDirectives(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "notes.conf"), "# client_body_temp_path /tmp;\n\t# init_by_lua 'x';\n#include /data/web/x.conf;\n")

	v, err := newScanner(t, policy.RuleOptions{}).Scan(context.Background(), root)
	if err != nil || v != nil {
		t.Fatalf("expected comments to be ignored, got %+v, %v", v, err)
	}
}
