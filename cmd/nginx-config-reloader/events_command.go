package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ByteInternet/nginx-config-reloader/internal/events"
	"github.com/ByteInternet/nginx-config-reloader/internal/ipc"
)

const followWait = 25_000

func newEventsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var since uint64
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List configuration reload events",
		Long: "List the reload events the daemon has emitted. With --follow the command\n" +
			"keeps waiting for new events until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				return streamEvents(cmd.Context(), client, cmd.OutOrStdout(), since, limit, follow)
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep waiting for new events")
	cmd.Flags().Uint64Var(&since, "since", 0, "Only show events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of events per request")
	return cmd
}

func streamEvents(ctx context.Context, client *ipc.Client, out io.Writer, since uint64, limit int, follow bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	next := since
	for {
		req := ipc.EventsRequest{Since: next, Limit: limit}
		if follow {
			req.WaitMillis = followWait
		}
		resp, err := client.Events(req)
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}
		for _, evt := range resp.Events {
			fmt.Fprintln(out, formatEvent(evt))
		}
		if resp.Next > next {
			next = resp.Next
		}
		if !follow {
			if len(resp.Events) == 0 && since == 0 {
				fmt.Fprintln(out, "No reload events yet")
			}
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func formatEvent(evt events.Event) string {
	line := fmt.Sprintf("#%d %s reloaded (trigger %s, attempt %s)",
		evt.Sequence, formatTime(evt.Timestamp), evt.Trigger, shortID(evt.AttemptID))
	if evt.Published {
		line += " [published]"
	}
	return line
}
