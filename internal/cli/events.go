package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewEventsCommand creates the events command group.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Read the domain event log",
	}

	var (
		after int64
		limit int
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print events after an id, oldest first",
		Long: `Print events after an id, oldest first.

Broadcasters tail the log by passing the last id they delivered as --after.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, appNeeds{},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					events, err := a.store.EventsAfter(ctx, after, limit)
					if err != nil {
						return out.Fail("tail failed", err)
					}
					return out.Success(newEventList(events))
				})
		},
	}
	tail.Flags().Int64Var(&after, "after", 0, "only events with a greater id")
	tail.Flags().IntVar(&limit, "limit", 100, "maximum events to print")
	cmd.AddCommand(tail)

	return cmd
}
