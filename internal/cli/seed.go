package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/models"
)

type seedMessage struct {
	fromPartner bool
	content     string
	ago         time.Duration
	read        bool
}

type seedThread struct {
	subject  string
	partner  string
	role     string
	priority models.Priority
	status   string
	pinned   bool
	messages []seedMessage
}

var demoThreads = []seedThread{
	{
		subject: "Sophia's Ring", partner: "Sophia Martinez", role: models.RoleClient,
		priority: models.PriorityUrgent, status: "CAD", pinned: true,
		messages: []seedMessage{
			{true, "Hi! Any update on the engagement ring sketches?", 26 * time.Hour, true},
			{false, "The CAD renders are almost ready, sending them tomorrow.", 25 * time.Hour, true},
			{true, "Could we try a thinner band? The proposal is in two weeks!", 40 * time.Minute, false},
		},
	},
	{
		subject: "Wedding Bands", partner: "James & Olivia Chen", role: models.RoleClient,
		priority: models.PriorityHigh, status: "Design",
		messages: []seedMessage{
			{true, "We loved the brushed finish samples.", 50 * time.Hour, true},
			{false, "Great, I'll prepare the final quote.", 49 * time.Hour, true},
		},
	},
	{
		subject: "Sapphire Supply", partner: "Ravi Gemstones", role: models.RolePartner,
		priority: models.PriorityMedium, status: "Sourcing",
		messages: []seedMessage{
			{true, "New batch of Ceylon sapphires arrives Friday.", 3 * time.Hour, false},
		},
	},
	{
		subject: "Casting Schedule", partner: "Atelier Fonte", role: models.RolePartner,
		priority: models.PriorityHigh, status: "Casting",
		messages: []seedMessage{
			{false, "Can you fit two pieces into Thursday's pour?", 8 * time.Hour, true},
			{true, "Yes, send the wax models by Wednesday noon.", 7 * time.Hour, true},
		},
	},
	{
		subject: "Anniversary Pendant", partner: "Élodie Durand", role: models.RoleClient,
		priority: models.PriorityLow, status: "Consultation",
	},
	{
		subject: "Vintage Brooch Repair", partner: "Margaret Hill", role: models.RoleClient,
		priority: models.PriorityMedium, status: "Repair", pinned: true,
		messages: []seedMessage{
			{true, "The clasp came loose again, sorry!", 5 * 24 * time.Hour, true},
			{false, "No problem, bring it by any afternoon.", 5*24*time.Hour - time.Hour, true},
		},
	},
	{
		subject: "Gold Price Lock", partner: "Northern Bullion", role: models.RolePartner,
		priority: models.PriorityUrgent, status: "Negotiation",
		messages: []seedMessage{
			{true, "Spot price lock expires at 5pm today.", 90 * time.Minute, false},
		},
	},
	{
		subject: "Signet Ring Engraving", partner: "Tomás Alvarez", role: models.RoleClient,
		priority: models.PriorityMedium, status: "Engraving",
		messages: []seedMessage{
			{true, "Attaching the crest: https://example.com/crest.png", 12 * 24 * time.Hour, true},
		},
	},
}

type seedOutput struct {
	Threads  int      `json:"threads"`
	Messages int      `json:"messages"`
	IDs      []string `json:"ids"`
}

func newSeedCmd(env *environment) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert demo conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			database, err := env.store(ctx)
			if err != nil {
				return err
			}

			now := time.Now().UTC().Truncate(time.Second)
			me := env.identity().CurrentUserID()
			result := seedOutput{}

			for _, spec := range demoThreads {
				thread := &models.Thread{
					Subject:       spec.subject,
					Partner:       models.Partner{Name: spec.partner, Role: spec.role},
					Priority:      spec.priority,
					Status:        spec.status,
					Pinned:        spec.pinned,
					IsRead:        true,
					CreatedAt:     now.Add(-30 * 24 * time.Hour),
					LastMessageAt: now.Add(-30 * 24 * time.Hour),
				}
				if err := database.CreateThread(ctx, thread); err != nil {
					return Exitf(ExitCodeFailure, "seed thread %q: %v", spec.subject, err)
				}
				result.Threads++
				result.IDs = append(result.IDs, thread.ID)

				for _, m := range spec.messages {
					sender := me
					if m.fromPartner {
						sender = spec.partner
					}
					msg := &models.Message{
						ThreadID:  thread.ID,
						SenderID:  sender,
						Content:   m.content,
						CreatedAt: now.Add(-m.ago),
						IsRead:    m.read,
					}
					if err := database.InsertMessage(ctx, msg); err != nil {
						return Exitf(ExitCodeFailure, "seed message for %q: %v", spec.subject, err)
					}
					result.Messages++
				}
			}

			if env.flags.json {
				return env.writeJSON(cmd, result)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d threads and %d messages\n", result.Threads, result.Messages)
			return err
		},
	}
}
