package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ByteInternet/nginx-config-reloader/internal/ipc"
	"github.com/ByteInternet/nginx-config-reloader/internal/reconciler"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var outcome string
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent apply attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome = strings.ToLower(strings.TrimSpace(outcome))
			switch reconciler.Outcome(outcome) {
			case "", reconciler.OutcomeApplied, reconciler.OutcomeFailed, reconciler.OutcomeUnmounted:
			default:
				return fmt.Errorf("unknown outcome %q (want applied, failed or unmounted)", outcome)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.History(ipc.HistoryRequest{Limit: limit, Outcome: outcome})
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, resp)
				}
				out := cmd.OutOrStdout()
				if len(resp.Attempts) == 0 {
					fmt.Fprintln(out, "No attempts recorded")
					return nil
				}
				fmt.Fprint(out, renderTable(
					[]string{"Finished", "Trigger", "Outcome", "Duration", "Message"},
					historyRows(resp.Attempts),
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				))
				fmt.Fprintln(out)
				fmt.Fprintln(out, historyTotals(resp.Counts))
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of attempts to show")
	cmd.Flags().StringVar(&outcome, "outcome", "", "Only show attempts with this outcome")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print attempts as JSON")
	return cmd
}

// historyTotals summarises every stored attempt, not just the listed page.
func historyTotals(counts map[string]int) string {
	outcomes := []reconciler.Outcome{reconciler.OutcomeApplied, reconciler.OutcomeFailed, reconciler.OutcomeUnmounted}
	parts := make([]string, 0, len(outcomes))
	total := 0
	for _, outcome := range outcomes {
		n := counts[string(outcome)]
		total += n
		parts = append(parts, fmt.Sprintf("%d %s", n, outcome))
	}
	return fmt.Sprintf("Stored attempts: %d (%s)", total, strings.Join(parts, ", "))
}

func historyRows(attempts []ipc.Attempt) [][]string {
	rows := make([][]string, 0, len(attempts))
	for _, a := range attempts {
		label := outcomeLabel(a.Outcome)
		if a.Kind != "" {
			label += " (" + a.Kind + ")"
		}
		rows = append(rows, []string{
			formatTime(a.FinishedAt),
			a.Trigger,
			label,
			formatDuration(a.Duration()),
			truncate(firstLine(a.Message), 60),
		})
	}
	return rows
}
