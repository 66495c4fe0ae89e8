package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/models"
	"github.com/tOgg1/threadline/internal/pagination"
)

type listOutput struct {
	Conversations []models.Conversation `json:"conversations"`
	Pages         int                   `json:"pages"`
	HasMore       bool                  `json:"has_more"`
	Total         int                   `json:"total"`
}

func newListCmd(env *environment) *cobra.Command {
	var (
		filters filterFlags
		pages   int
		all     bool
	)
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List conversations",
		Long: `List conversations, pinned first, with their latest message.

Urgency, role and date filters run in the store; search text and read
state narrow the loaded pages.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, sort, err := filters.build()
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}
			if pages < 1 {
				return Exitf(ExitCodeFailure, "--pages must be at least 1")
			}

			ctx := cmd.Context()
			database, err := env.store(ctx)
			if err != nil {
				return err
			}

			list := env.newList(database, nil, nil)
			if err := list.Load(ctx, filter, sort); err != nil {
				return Exitf(ExitCodeFailure, "load conversations: %v", err)
			}

			// Each extra page is one sentinel reveal.
			pager := pagination.New(list)
			for loaded := 1; (all || loaded < pages) && pager.HasMore(); loaded++ {
				if _, err := pager.OnSentinelVisible(ctx); err != nil {
					return Exitf(ExitCodeFailure, "load more conversations: %v", err)
				}
				pager.OnSentinelHidden()
			}

			snap := list.Snapshot()
			visible := list.View(filter)
			if env.flags.json {
				return env.writeJSON(cmd, listOutput{
					Conversations: visible,
					Pages:         snap.Page,
					HasMore:       snap.HasMore,
					Total:         snap.TotalCount,
				})
			}

			out := cmd.OutOrStdout()
			if err := writeConversations(out, visible); err != nil {
				return err
			}
			footer := fmt.Sprintf("%d shown, %d loaded", len(visible), len(snap.Conversations))
			if snap.TotalCount >= 0 {
				footer += fmt.Sprintf(" of %d", snap.TotalCount)
			}
			if snap.HasMore {
				footer += fmt.Sprintf("; more with --pages %d", snap.Page+1)
			}
			_, err = fmt.Fprintln(out, mutedStyle.Render(footer))
			return err
		},
	}
	filters.register(cmd)
	cmd.Flags().IntVar(&pages, "pages", 1, "number of pages to load")
	cmd.Flags().BoolVar(&all, "all", false, "load every page")
	return cmd
}
