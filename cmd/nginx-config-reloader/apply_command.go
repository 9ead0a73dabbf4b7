package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ByteInternet/nginx-config-reloader/internal/daemonrun"
	"github.com/ByteInternet/nginx-config-reloader/internal/logging"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
)

func newApplyCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Install and reload the configuration once, then exit",
		Long: "Screen, install, validate and reload the watched directory once.\n" +
			"nginx is reloaded locally; the reload is not published to remote peers.\n" +
			"Exits nonzero when the attempt fails; the reason is also written to the error marker.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := logging.NewFromConfig(cfg)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}

			// No publisher: nothing in this process subscribes, so nginx is
			// reloaded locally even when a NATS server is configured.
			rec, err := daemonrun.BuildReconciler(cfg, logger, daemonrun.Extras{})
			if err != nil {
				return err
			}
			res := rec.Apply(cmd.Context(), reconciler.TriggerOneShot)
			if jsonOut {
				if err := writeJSON(cmd, res); err != nil {
					return err
				}
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), describeResult(res))
			}
			if !res.OK() {
				return fmt.Errorf("apply %s: %s", res.Kind, res.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the attempt as JSON")
	return cmd
}

// describeResult renders a one-line summary of an attempt.
func describeResult(res reconciler.Result) string {
	line := outcomeLabel(string(res.Outcome))
	if res.Kind != "" {
		line += fmt.Sprintf(" (%s)", res.Kind)
	}
	if res.Message != "" && !res.OK() {
		line += ": " + firstLine(res.Message)
	}
	return line
}

