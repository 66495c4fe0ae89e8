package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/detail"
	"github.com/tOgg1/threadline/internal/store"
)

func newSendCmd(env *environment) *cobra.Command {
	var (
		threadID string
		sender   string
	)
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to a thread",
		Long: `Send a message to a thread. Without --thread the thread opened last
(see "threadline thread") receives it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")

			session, err := env.sessions().Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}
			target := []string{threadID}
			if threadID == "" {
				target = nil
			}
			id, err := resolveThread(target, session)
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}

			identity := env.identity()
			if sender != "" {
				identity = store.StaticIdentity(sender)
			}

			ctx := cmd.Context()
			database, err := env.store(ctx)
			if err != nil {
				return err
			}
			thread, err := findThread(ctx, database, id)
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}
			id = thread.ID

			stream := detail.New(database, detail.Options{Identity: identity})
			if err := stream.Open(ctx, id); err != nil {
				return Exitf(ExitCodeFailure, "open thread: %v", err)
			}
			defer stream.Close()

			entry, err := stream.Send(ctx, content)
			if err != nil {
				return Exitf(ExitCodeFailure, "send message: %v", err)
			}

			if env.flags.json {
				return env.writeJSON(cmd, entry)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), entry.ID)
			return err
		},
	}
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "thread id (default: the thread opened last)")
	cmd.Flags().StringVar(&sender, "as", "", "sender id (default: identity.user_id)")
	return cmd
}
