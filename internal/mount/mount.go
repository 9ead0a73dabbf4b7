// Package mount asks systemd whether a directory is an inactive mount point.
package mount

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
)

var commandContext = exec.CommandContext

type unit struct {
	Unit        string `json:"unit"`
	Description string `json:"description"`
	Active      string `json:"active"`
	Sub         string `json:"sub"`
}

// Checker queries systemd mount units.
type Checker struct {
	SystemctlBinary string
}

// Unmounted reports whether path is described by a mount unit that is not
// active and mounted. Paths without a mount unit are treated as mounted.
func (c Checker) Unmounted(ctx context.Context, path string) (bool, error) {
	binary := c.SystemctlBinary
	if binary == "" {
		binary = "systemctl"
	}
	cmd := commandContext(ctx, binary, "list-units", "-t", "mount", "--all", "-o", "json") //nolint:gosec
	output, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("list mount units: %w", err)
	}
	return unmountedFromJSON(output, path)
}

func unmountedFromJSON(data []byte, path string) (bool, error) {
	var units []unit
	if err := json.Unmarshal(data, &units); err != nil {
		return false, fmt.Errorf("decode mount units: %w", err)
	}
	path = filepath.Clean(path)
	for _, u := range units {
		if u.Description == path {
			return u.Active != "active" || u.Sub != "mounted", nil
		}
	}
	return false, nil
}
