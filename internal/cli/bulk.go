package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/bulk"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/store"
)

func bulkActionNames() string {
	names := make([]string, 0, len(bulk.Actions()))
	for _, action := range bulk.Actions() {
		names = append(names, string(action))
	}
	return strings.Join(names, ", ")
}

func newBulkCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bulk <action> [ids...]",
		Short: "Apply an action to several conversations",
		Long: fmt.Sprintf(`Apply one action to several conversations in a single store update.

Actions: %s.
Without ids the saved selection (see "threadline select") is used; the
selection is cleared afterwards whether or not the update succeeds.`, bulkActionNames()),
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := bulk.ParseAction(args[0])
			if err != nil {
				return Exitf(ExitCodeFailure, "%v (want one of %s)", err, bulkActionNames())
			}

			ctx := cmd.Context()
			sessions := env.sessions()
			session, err := sessions.Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}

			ids := args[1:]
			fromSession := len(ids) == 0
			if fromSession {
				ids = session.Selection
			}
			if len(ids) == 0 {
				return Exitf(ExitCodeFailure, "nothing selected; pass ids or use \"threadline select\"")
			}

			database, err := env.store(ctx)
			if err != nil {
				return err
			}
			if !fromSession {
				if ids, err = findThreads(ctx, database, ids); err != nil {
					return Exitf(ExitCodeFailure, "%v", err)
				}
			}
			list := env.newList(database, nil, nil)
			if err := list.Load(ctx, models.Filter{}, models.DefaultSort()); err != nil {
				return Exitf(ExitCodeFailure, "load conversations: %v", err)
			}

			coordinator := bulk.NewCoordinator(database, list, bulk.NewSelection(ids...), bulk.Options{
				OptimisticFastPath: env.cfg.Sync.OptimisticFastPath,
			})
			result, applyErr := coordinator.ApplySelection(ctx, action)

			if fromSession {
				session.ClearSelection()
				if err := sessions.Save(session); err != nil {
					return Exitf(ExitCodeFailure, "%v", err)
				}
			}

			if applyErr != nil {
				var mutErr *store.MutationError
				if errors.As(applyErr, &mutErr) {
					return Exitf(ExitCodeFailure, "%s failed: %v", action, mutErr.Err)
				}
				return Exitf(ExitCodeFailure, "%v", applyErr)
			}

			if env.flags.json {
				return env.writeJSON(cmd, result)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Applied %s to %d conversation(s)\n", action, len(result.IDs))
			return err
		},
	}
	return cmd
}
