package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ByteInternet/nginx-config-reloader/internal/daemonctl"
	"github.com/ByteInternet/nginx-config-reloader/internal/deps"
	"github.com/ByteInternet/nginx-config-reloader/internal/ipc"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var startLogLevel string
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the watch daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			exe, err := daemonExecutable()
			if err != nil {
				return err
			}

			result, err := daemonctl.EnsureStarted(
				ctx.socketPath(),
				exe,
				daemonLaunchOptions(ctx, startLogLevel),
				10*time.Second,
			)
			if err != nil {
				return err
			}

			switch result.State {
			case daemonctl.StartStateStarted:
				fmt.Fprintf(stdout, "Daemon started (pid %d)\n", result.PID)
			case daemonctl.StartStateAlreadyRunning:
				fmt.Fprintln(stdout, "Daemon already running")
			}
			return nil
		},
	}
	startCmd.Flags().StringVar(&startLogLevel, "log-level", "", "Override logging.level for the daemon")

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the watch daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			result, err := daemonctl.StopAndTerminate(ctx.socketPath(), ctx.configValue(), 5*time.Second)
			if errors.Is(err, daemonctl.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			if !result.StopAcknowledged {
				fmt.Fprintln(stdout, "Stop request sent")
			}
			if result.ForcedKill && result.PID > 0 {
				fmt.Fprintf(stdout, "Stopping daemon process (pid %d)...\n", result.PID)
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon state, host checks and the last attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			snap, err := daemonctl.BuildStatusSnapshot(cmd.Context(), ctx.socketPath(), cfg)
			if err != nil {
				return err
			}
			if statusJSON {
				return writeJSON(cmd, snap)
			}

			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range snap.Runtime {
				fmt.Fprintln(stdout, renderStatusLine(line.Label, statusKindFromSeverity(line.Severity), line.Detail, colorize))
			}
			for _, check := range snap.Checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				fmt.Fprintln(stdout, renderStatusLine(check.Name, kind, check.Detail, colorize))
			}
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range dependencyLines(snap.Dependencies, colorize) {
				fmt.Fprintln(stdout, line)
			}

			if snap.Daemon == nil {
				return nil
			}
			fmt.Fprintln(stdout)
			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(stdout, line)
			}
			for _, line := range daemonLines(snap.Daemon, colorize) {
				fmt.Fprintln(stdout, line)
			}
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print the status snapshot as JSON")

	return []*cobra.Command{startCmd, stopCmd, statusCmd}
}

func newReloadCommand(ctx *commandContext) *cobra.Command {
	var announce bool
	var applyOnly bool
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to apply and reload now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				var attempt ipc.Attempt
				if applyOnly {
					resp, err := client.Apply()
					if err != nil {
						return err
					}
					attempt = resp.Attempt
				} else {
					resp, err := client.Reload(announce)
					if err != nil {
						return err
					}
					attempt = resp.Attempt
				}
				fmt.Fprintln(cmd.OutOrStdout(), describeAttempt(attempt))
				if !attempt.OK() {
					return fmt.Errorf("reload %s", attempt.Outcome)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&announce, "announce", false, "Emit a reload event on success")
	cmd.Flags().BoolVar(&applyOnly, "apply", false, "Run a full apply as the watcher would, skipping the mount check")
	return cmd
}

func dependencyLines(statuses []deps.Status, colorize bool) []string {
	lines := make([]string, 0, len(statuses)+1)
	missing := make([]string, 0)
	for _, dep := range statuses {
		if dep.Available {
			message := "Ready"
			if dep.Resolved != "" {
				message = fmt.Sprintf("Ready (command: %s)", dep.Resolved)
			}
			lines = append(lines, renderStatusLine(dep.Name, statusOK, message, colorize))
			continue
		}

		detail := strings.TrimSpace(dep.Detail)
		if detail == "" {
			detail = "not available"
		}
		lines = append(lines, renderStatusLine(dep.Name, statusKindFromSeverity(dep.Severity()), detail, colorize))
		if !dep.Optional {
			missing = append(missing, dep.Name)
		}
	}
	if len(missing) > 0 {
		lines = append(lines, renderStatusLine("Missing dependencies", statusWarn, strings.Join(missing, ", "), colorize))
	}
	return lines
}

func daemonLines(status *ipc.StatusResponse, colorize bool) []string {
	lines := []string{
		renderStatusLine("PID", statusInfo, fmt.Sprintf("%d", status.PID), colorize),
		renderStatusLine("Started", statusInfo, formatTime(status.StartedAt), colorize),
		renderStatusLine("Watching", statusInfo, status.WatchDir, colorize),
		renderStatusLine("Installed to", statusInfo, status.InstalledDir, colorize),
		renderStatusLine("Applying", statusInfo, yesNo(status.Applying), colorize),
	}
	if status.HistoryPath != "" {
		lines = append(lines, renderStatusLine("History", statusInfo, status.HistoryPath, colorize))
	}
	if status.MetricsListen != "" {
		lines = append(lines, renderStatusLine("Metrics", statusInfo, status.MetricsListen, colorize))
	}
	if status.Last != nil {
		kind := statusOK
		if !status.Last.OK() {
			kind = statusError
		}
		lines = append(lines, renderStatusLine("Last attempt", kind, describeAttempt(*status.Last), colorize))
	} else {
		lines = append(lines, renderStatusLine("Last attempt", statusInfo, "none yet", colorize))
	}
	if status.MarkerText != "" {
		lines = append(lines, renderStatusLine("Error marker", statusError, firstLine(status.MarkerText), colorize))
	}
	return lines
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return exe, nil
}

func daemonLaunchOptions(ctx *commandContext, logLevel string) daemonctl.LaunchOptions {
	opts := daemonctl.LaunchOptions{LogLevel: logLevel}
	if ctx.socketFlag != nil {
		if socket := strings.TrimSpace(*ctx.socketFlag); socket != "" {
			opts.SocketPath = socket
		}
	}
	if ctx.configFlag != nil {
		if cfg := strings.TrimSpace(*ctx.configFlag); cfg != "" {
			opts.ConfigPath = cfg
		}
	}
	return opts
}
