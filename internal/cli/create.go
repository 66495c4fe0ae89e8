package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/models"
)

func newCreateCmd(env *environment) *cobra.Command {
	var (
		partner  string
		role     string
		priority string
		status   string
		pinned   bool
	)
	cmd := &cobra.Command{
		Use:   "create <subject>",
		Short: "Create a thread",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsedPriority, err := models.ParsePriority(priority)
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}
			role = strings.ToLower(strings.TrimSpace(role))
			if role != models.RoleClient && role != models.RolePartner {
				return Exitf(ExitCodeFailure, "invalid role %q (want %s or %s)", role, models.RoleClient, models.RolePartner)
			}

			ctx := cmd.Context()
			database, err := env.store(ctx)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			thread := &models.Thread{
				Subject:       strings.Join(args, " "),
				Partner:       models.Partner{Name: partner, Role: role},
				Priority:      parsedPriority,
				Status:        status,
				Pinned:        pinned,
				IsRead:        true,
				CreatedAt:     now,
				LastMessageAt: now,
			}
			if err := database.CreateThread(ctx, thread); err != nil {
				return Exitf(ExitCodeFailure, "create thread: %v", err)
			}

			if env.flags.json {
				return env.writeJSON(cmd, thread)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), thread.ID)
			return err
		},
	}
	cmd.Flags().StringVar(&partner, "partner", "", "partner or client name (required)")
	cmd.Flags().StringVar(&role, "role", models.RoleClient, "partner role: client or partner")
	cmd.Flags().StringVar(&priority, "priority", string(models.PriorityMedium), "priority: low, medium, high, urgent")
	cmd.Flags().StringVar(&status, "status", "", "pipeline stage label")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "pin the thread")
	_ = cmd.MarkFlagRequired("partner")
	return cmd
}
