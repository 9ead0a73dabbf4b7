package policy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
)

// Violation describes the first forbidden directive found.
type Violation struct {
	Rule    string
	Message string
	File    string
	Line    int
	Text    string
}

// MarkerText is the error marker contents for the violation.
func (v *Violation) MarkerText() string {
	return MarkerPrefix + v.Message
}

func (v *Violation) Error() string {
	return fmt.Sprintf("%s:%d: %s", v.File, v.Line, strings.TrimSpace(v.Message))
}

// Scanner screens a directory tree against the forbidden-directive rules.
type Scanner struct {
	rules   []Rule
	exclude string
	logger  *slog.Logger
}

// NewScanner builds a scanner; files named excludeName (the error marker) are never read.
func NewScanner(opts RuleOptions, excludeName string, logger *slog.Logger) (*Scanner, error) {
	rules, err := Rules(opts)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		rules:   rules,
		exclude: excludeName,
		logger:  logging.NewComponentLogger(logger, "policy"),
	}, nil
}

// Scan reports the first violation under root, rule by rule. A missing root is clean.
func (s *Scanner) Scan(ctx context.Context, root string) (*Violation, error) {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, nil
	}

	files, err := s.collect(ctx, root)
	if err != nil {
		return nil, err
	}

	for _, rule := range s.rules {
		for _, file := range files {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			for idx, line := range file.lines {
				if isComment(line) {
					continue
				}
				matched, err := rule.Match(line)
				if err != nil {
					// Treat a runaway match as a hit; the line is hostile or broken.
					s.logger.Warn("directive rule evaluation failed",
						logging.String("rule", rule.Name),
						logging.Path(file.path),
						logging.Int("line", idx+1),
						logging.Error(err),
					)
					matched = true
				}
				if matched {
					return &Violation{
						Rule:    rule.Name,
						Message: rule.Message,
						File:    file.path,
						Line:    idx + 1,
						Text:    line,
					}, nil
				}
			}
		}
	}
	return nil, nil
}

func isComment(line string) bool {
	return strings.HasPrefix(strings.TrimLeft(line, " \t"), "#")
}

type scannedFile struct {
	path  string
	lines []string
}

// collect gathers the files the installer would copy: symlinks are followed,
// directories included, until the kernel reports a loop or an overlong path.
func (s *Scanner) collect(ctx context.Context, root string) ([]scannedFile, error) {
	var files []scannedFile
	if err := s.collectDir(ctx, root, true, &files); err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func (s *Scanner) collectDir(ctx context.Context, dir string, isRoot bool, files *[]scannedFile) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if isRoot {
			return err
		}
		if isLoop(err) {
			s.logger.Debug("symlink loop depth reached", logging.Path(dir))
			return nil
		}
		s.logger.Warn("skipping unreadable path", logging.Path(dir), logging.Error(err))
		return nil
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if entry.Name() == s.exclude {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := os.Stat(path)
		if err != nil {
			if !isLoop(err) && !errors.Is(err, fs.ErrNotExist) {
				s.logger.Warn("skipping unreadable path", logging.Path(path), logging.Error(err))
			}
			continue
		}
		switch {
		case info.IsDir():
			if err := s.collectDir(ctx, path, false, files); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			lines, err := readLines(path)
			if err != nil {
				if !isLoop(err) {
					s.logger.Warn("skipping unreadable file", logging.Path(path), logging.Error(err))
				}
				continue
			}
			*files = append(*files, scannedFile{path: path, lines: lines})
		}
	}
	return nil
}

func isLoop(err error) bool {
	return errors.Is(err, unix.ELOOP) || errors.Is(err, unix.ENAMETOOLONG)
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	reader := bufio.NewReader(f)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
