// Package fileutil holds small filesystem helpers shared by the installer,
// the directive scanner and the watch loop.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// InstallMode strips setuid, setgid and sticky bits plus other-write and
// other-execute from a source file mode.
func InstallMode(mode os.FileMode) os.FileMode {
	return mode.Perm() &^ 0o003
}

// CopyFileMode streams src to dst and sets mode on dst regardless of umask.
// src is opened through symlinks.
func CopyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := out.Chmod(mode); err != nil {
		return err
	}
	return out.Close()
}

// MatchesAny reports whether the base name of path matches one of the shell globs.
// Malformed patterns never match.
func MatchesAny(path string, patterns []string) bool {
	name := filepath.Base(path)
	for _, pattern := range patterns {
		if ok, err := filepath.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}
