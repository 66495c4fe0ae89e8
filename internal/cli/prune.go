package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/logging"
)

func newPruneCmd(env *environment) *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old change-feed log entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			retention := env.cfg.Feed.Retention
			if olderThan > 0 {
				retention = olderThan
			}

			ctx := cmd.Context()
			database, err := env.store(ctx)
			if err != nil {
				return err
			}
			cutoff := time.Now().Add(-retention)
			removed, err := database.PruneChanges(ctx, cutoff)
			if err != nil {
				return Exitf(ExitCodeFailure, "prune change log: %v", err)
			}
			logging.Logger.Debug().Int64("removed", removed).Time("cutoff", cutoff).Msg("change log pruned")

			if env.flags.json {
				return env.writeJSON(cmd, map[string]any{"removed": removed, "cutoff": cutoff.UTC()})
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Removed %d change log entries older than %s\n", removed, retention)
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "retention override (default: feed.retention)")
	return cmd
}
