package preflight

import "github.com/ByteInternet/nginx-config-reloader/internal/config"

// Line is one row of the status display.
type Line struct {
	Label    string
	Severity string
	Detail   string
}

// RuntimeLines summarises the configured reload behaviour for status output.
func RuntimeLines(cfg *config.Config, daemonRunning, remoteConnected bool) []Line {
	if cfg == nil {
		return nil
	}
	lines := make([]Line, 0, 5)
	if daemonRunning {
		lines = append(lines, Line{Label: "Daemon", Severity: "ok", Detail: "Running"})
	} else {
		lines = append(lines, Line{Label: "Daemon", Severity: "warn", Detail: "Not running (run `nginx-config-reloader start`)"})
	}

	if cfg.UseSystemd() {
		lines = append(lines, Line{Label: "Reload", Severity: "info", Detail: "systemctl reload " + cfg.Reload.Unit})
	} else {
		lines = append(lines, Line{Label: "Reload", Severity: "info", Detail: "SIGHUP to " + cfg.Paths.PIDFile})
	}

	switch {
	case cfg.NATS.Server == "":
		lines = append(lines, Line{Label: "Remote", Severity: "info", Detail: "Disabled"})
	case !daemonRunning:
		lines = append(lines, Line{Label: "Remote", Severity: "info", Detail: cfg.NATS.Server})
	case remoteConnected:
		lines = append(lines, Line{Label: "Remote", Severity: "ok", Detail: "Connected to " + cfg.NATS.Server})
	default:
		lines = append(lines, Line{Label: "Remote", Severity: "warn", Detail: "Reconnecting to " + cfg.NATS.Server})
	}

	feature := func(label string, on bool) Line {
		if on {
			return Line{Label: label, Severity: "ok", Detail: "Enabled"}
		}
		return Line{Label: label, Severity: "info", Detail: "Disabled"}
	}
	lines = append(lines,
		feature("Custom config", cfg.Features.CustomConfig),
		feature("Magento config", cfg.Features.MagentoConfig),
	)
	return lines
}
