package remote

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
)

// TLSFiles locates the client certificate, key and CA bundle.
type TLSFiles struct {
	Cert string
	Key  string
	CA   string
}

// Complete reports whether all three files are set.
func (t TLSFiles) Complete() bool {
	return t.Cert != "" && t.Key != "" && t.CA != ""
}

// ResolveTLS returns explicit when it is complete, otherwise the NATS_CERT,
// NATS_KEY and NATS_CA entries of defaultsFile. A missing defaults file means
// a plain connection.
func ResolveTLS(explicit TLSFiles, defaultsFile string, logger *slog.Logger) (TLSFiles, error) {
	if explicit.Complete() {
		return explicit, nil
	}
	if defaultsFile == "" {
		return TLSFiles{}, nil
	}
	files, err := readDefaultsFile(defaultsFile)
	if errors.Is(err, fs.ErrNotExist) {
		logging.WarnWithContext(logger, "Couldn't find NATS TLS settings, assuming no TLS", "nats_tls_missing",
			logging.Path(defaultsFile),
			logging.String(logging.FieldImpact, "the remote channel connects without TLS"),
		)
		return TLSFiles{}, nil
	}
	if err != nil {
		return TLSFiles{}, err
	}
	return files, nil
}

// readDefaultsFile parses KEY=value lines in the style of /etc/default files.
func readDefaultsFile(path string) (TLSFiles, error) {
	f, err := os.Open(path)
	if err != nil {
		return TLSFiles{}, err
	}
	defer f.Close()

	var files TLSFiles
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		switch strings.TrimSpace(key) {
		case "NATS_CERT":
			files.Cert = value
		case "NATS_KEY":
			files.Key = value
		case "NATS_CA":
			files.CA = value
		}
	}
	if err := scanner.Err(); err != nil {
		return TLSFiles{}, fmt.Errorf("read %s: %w", path, err)
	}
	return files, nil
}
