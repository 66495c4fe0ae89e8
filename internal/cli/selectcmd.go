package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newSelectCmd(env *environment) *cobra.Command {
	var (
		remove   bool
		clearAll bool
	)
	cmd := &cobra.Command{
		Use:   "select [ids...]",
		Short: "Edit the selection used by bulk actions",
		Long: `Add conversations to the saved selection, remove them with --remove, or
empty it with --clear. With no arguments the selection is printed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			sessions := env.sessions()
			session, err := sessions.Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}

			changed := false
			switch {
			case clearAll:
				session.ClearSelection()
				changed = true
			case remove:
				ids, err := matchSelected(session.Selection, args)
				if err != nil {
					return Exitf(ExitCodeFailure, "%v", err)
				}
				session.Deselect(ids...)
				changed = len(ids) > 0
			case len(args) > 0:
				database, err := env.store(ctx)
				if err != nil {
					return err
				}
				ids, err := findThreads(ctx, database, args)
				if err != nil {
					return Exitf(ExitCodeFailure, "%v", err)
				}
				session.Select(ids...)
				changed = true
			}

			if changed {
				if err := sessions.Save(session); err != nil {
					return Exitf(ExitCodeFailure, "%v", err)
				}
			}

			if env.flags.json {
				selection := session.Selection
				if selection == nil {
					selection = []string{}
				}
				return env.writeJSON(cmd, map[string]any{"selection": selection})
			}
			out := cmd.OutOrStdout()
			if len(session.Selection) == 0 {
				_, err = fmt.Fprintln(out, "Selection is empty")
				return err
			}
			_, err = fmt.Fprintf(out, "Selected (%d): %s\n", len(session.Selection), strings.Join(session.Selection, ", "))
			return err
		},
	}
	cmd.Flags().BoolVar(&remove, "remove", false, "remove the given ids")
	cmd.Flags().BoolVar(&clearAll, "clear", false, "empty the selection")
	return cmd
}
