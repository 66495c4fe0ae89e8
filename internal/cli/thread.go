package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/changefeed"
	"github.com/tOgg1/threadline/internal/detail"
)

func newThreadCmd(env *environment) *cobra.Command {
	var (
		follow   bool
		markRead bool
	)
	cmd := &cobra.Command{
		Use:   "thread [id]",
		Short: "Show a thread's messages",
		Long: `Show the full message history of a thread, oldest first. With --follow,
new messages are printed as they arrive until interrupted.

Without an id the thread opened last is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions := env.sessions()
			session, err := sessions.Load()
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}
			threadID, err := resolveThread(args, session)
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}

			ctx := cmd.Context()
			database, err := env.store(ctx)
			if err != nil {
				return err
			}
			thread, err := findThread(ctx, database, threadID)
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}
			threadID = thread.ID

			out := cmd.OutOrStdout()
			var outMu sync.Mutex
			opts := detail.Options{
				Identity:       env.identity(),
				MarkReadOnOpen: markRead,
			}

			var feed *changefeed.PollFeed
			if follow {
				feed = changefeed.NewPollFeed(database, changefeed.PollOptions{
					PollInterval:      env.cfg.Feed.PollInterval,
					ReconnectInterval: env.cfg.Feed.ReconnectInterval,
					BatchSize:         env.cfg.Feed.BatchSize,
				})
				opts.Feed = feed
				opts.OnAppend = func(event detail.AppendEvent) {
					outMu.Lock()
					defer outMu.Unlock()
					for _, entry := range event.Entries {
						if env.flags.json {
							_ = env.writeJSON(cmd, entry)
							continue
						}
						_ = writeEntry(out, entry)
					}
				}
			}

			if follow {
				var stop context.CancelFunc
				ctx, stop = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
				defer stop()
				feed.Start(ctx)
				defer feed.Close()
			}

			stream := detail.New(database, opts)
			if err := stream.Open(ctx, threadID); err != nil {
				return Exitf(ExitCodeFailure, "open thread: %v", err)
			}
			defer stream.Close()

			session.OpenThread = threadID
			if err := sessions.Save(session); err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}

			outMu.Lock()
			entries := stream.Entries()
			if env.flags.json && !follow {
				outMu.Unlock()
				return env.writeJSON(cmd, map[string]any{"thread": thread, "messages": entries})
			}
			if !env.flags.json {
				fmt.Fprintf(out, "%s  %s (%s)  %s\n", unreadStyle.Render(thread.Subject), thread.Partner.Name, thread.Partner.Role, mutedStyle.Render(thread.Status))
				if len(entries) == 0 {
					fmt.Fprintln(out, mutedStyle.Render("No messages yet"))
				}
			}
			for _, entry := range entries {
				if env.flags.json {
					_ = env.writeJSON(cmd, entry)
					continue
				}
				_ = writeEntry(out, entry)
			}
			outMu.Unlock()

			if !follow {
				return nil
			}

			<-ctx.Done()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new messages")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "mark the thread read when opened")
	return cmd
}
