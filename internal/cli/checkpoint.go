package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tally/internal/checkpoint"
	"github.com/roach88/tally/internal/errs"
)

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset poller checkpoints",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [key...]",
		Short: "Show checkpoints (all poller keys by default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := args
			if len(keys) == 0 {
				keys = checkpoint.Keys
			}
			return withApp(cmd, rootOpts, appNeeds{checkpoints: true},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					list := make(checkpointList, 0, len(keys))
					for _, key := range keys {
						c, ok, err := a.checkpoints.Load(ctx, key)
						if err != nil {
							return out.Fail("load failed", err)
						}
						v := checkpointView{Key: key}
						if ok {
							v.Timestamp = c.Timestamp.UTC().Format(time.RFC3339Nano)
						}
						list = append(list, v)
					}
					return out.Success(list)
				})
		},
	})

	var all bool
	reset := &cobra.Command{
		Use:   "reset [key...]",
		Short: "Delete checkpoints so the poller starts over",
		Long: `Delete checkpoints so the poller starts over.

Resetting the main checkpoint replays every upstream record on the next
tick. Replays are idempotent: no ledger row, event or achievement is
duplicated.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys := args
			if all {
				keys = checkpoint.Keys
			}
			return withApp(cmd, rootOpts, appNeeds{checkpoints: true},
				func(ctx context.Context, a *app, out *OutputFormatter) error {
					if len(keys) == 0 {
						return out.Fail("nothing to reset",
							errs.Validation(errs.CodeInvalidInput, "give checkpoint keys or --all"))
					}
					for _, key := range keys {
						if !slices.Contains(checkpoint.Keys, key) {
							return out.Fail("unknown key", errs.Validation(errs.CodeInvalidInput,
								"unknown checkpoint %q (known: %s)", key, strings.Join(checkpoint.Keys, ", ")))
						}
					}
					for _, key := range keys {
						if err := a.checkpoints.Delete(ctx, key); err != nil {
							return out.Fail("reset failed", err)
						}
					}
					return out.Success(resetResult{Reset: keys})
				})
		},
	}
	reset.Flags().BoolVar(&all, "all", false, "reset every poller checkpoint")
	cmd.AddCommand(reset)

	return cmd
}

type checkpointView struct {
	Key       string `json:"key"`
	Timestamp string `json:"timestamp,omitempty"`
}

type checkpointList []checkpointView

func (l checkpointList) Text() string {
	var b strings.Builder
	for _, c := range l {
		ts := c.Timestamp
		if ts == "" {
			ts = "(none)"
		}
		fmt.Fprintf(&b, "%-26s %s\n", c.Key, ts)
	}
	return b.String()
}

type resetResult struct {
	Reset []string `json:"reset"`
}

func (r resetResult) Text() string {
	return fmt.Sprintf("reset %s\n", strings.Join(r.Reset, ", "))
}
