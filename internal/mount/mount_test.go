package mount

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const sampleUnits = `[
  {"unit":"-.mount","load":"loaded","active":"active","sub":"mounted","description":"Root Mount"},
  {"unit":"data-web-nginx.mount","load":"loaded","active":"inactive","sub":"dead","description":"/data/web/nginx"},
  {"unit":"data-web-public.mount","load":"loaded","active":"active","sub":"mounted","description":"/data/web/public"},
  {"unit":"data-web-media.mount","load":"loaded","active":"active","sub":"unmounting","description":"/data/web/media"}
]`

func TestUnmountedFromJSON(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/data/web/nginx", true},
		{"/data/web/nginx/", true},
		{"/data/web/public", false},
		{"/data/web/media", true},
		{"/data/web/other", false},
	}
	for _, tc := range tests {
		got, err := unmountedFromJSON([]byte(sampleUnits), tc.path)
		if err != nil {
			t.Fatalf("unmountedFromJSON(%q): %v", tc.path, err)
		}
		if got != tc.want {
			t.Errorf("unmountedFromJSON(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestUnmountedFromJSONRejectsGarbage(t *testing.T) {
	if _, err := unmountedFromJSON([]byte("not json"), "/data"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestCheckerRunsSystemctl(t *testing.T) {
	dir := t.TempDir()
	unitsFile := filepath.Join(dir, "units.json")
	if err := os.WriteFile(unitsFile, []byte(sampleUnits), 0o644); err != nil {
		t.Fatal(err)
	}
	stub := filepath.Join(dir, "systemctl")
	script := "#!/bin/sh\n[ \"$*\" = \"list-units -t mount --all -o json\" ] || exit 3\ncat " + unitsFile + "\n"
	if err := os.WriteFile(stub, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	unmounted, err := Checker{SystemctlBinary: stub}.Unmounted(context.Background(), "/data/web/nginx")
	if err != nil {
		t.Fatalf("Unmounted: %v", err)
	}
	if !unmounted {
		t.Fatal("expected inactive mount to be reported")
	}
}

func TestCheckerPropagatesFailure(t *testing.T) {
	stub := filepath.Join(t.TempDir(), "systemctl")
	if err := os.WriteFile(stub, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := (Checker{SystemctlBinary: stub}).Unmounted(context.Background(), "/data/web/nginx"); err == nil {
		t.Fatal("expected error")
	}
}
