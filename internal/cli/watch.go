package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/tOgg1/threadline/internal/changefeed"
	"github.com/tOgg1/threadline/internal/conversation"
	"github.com/tOgg1/threadline/internal/db"
	"github.com/tOgg1/threadline/internal/logging"
	"github.com/tOgg1/threadline/internal/metrics"
	"github.com/tOgg1/threadline/internal/scheduler"
)

const pruneJobName = "prune-change-log"

func newWatchCmd(env *environment) *cobra.Command {
	var (
		filters     filterFlags
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the conversation list in sync and print it on every change",
		Long: `Load the conversation list and reconcile it whenever threads or messages
change, including changes made by other threadline processes. If the change
feed fails the list is reconciled every sync.fallback_interval until the
feed recovers. Old change log entries are pruned on feed.prune_schedule.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, sort, err := filters.build()
			if err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}
			if metricsAddr == "" {
				metricsAddr = env.cfg.Metrics.Addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			database, err := env.store(ctx)
			if err != nil {
				return err
			}

			logger := logging.FromContext(ctx)
			registry := prometheus.NewRegistry()
			recorder := metrics.New(registry)

			var outMu sync.Mutex
			render := func(snap conversation.Snapshot, list *conversation.List) {
				outMu.Lock()
				defer outMu.Unlock()
				out := cmd.OutOrStdout()
				if snap.Err != nil {
					fmt.Fprintf(out, "%s\n", urgentStyle.Render("sync error: "+snap.Err.Error()))
					return
				}
				visible := list.View(filter)
				if env.flags.json {
					_ = env.writeJSON(cmd, listOutput{Conversations: visible, Pages: snap.Page, HasMore: snap.HasMore, Total: snap.TotalCount})
					return
				}
				fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("-- %s --", time.Now().Format(time.TimeOnly))))
				_ = writeConversations(out, visible)
			}

			var list *conversation.List
			list = env.newList(database, recorder, func(snap conversation.Snapshot) {
				if snap.State == conversation.StateReady || snap.State == conversation.StateError {
					render(snap, list)
				}
			})

			feed := changefeed.NewPollFeed(database, changefeed.PollOptions{
				PollInterval:      env.cfg.Feed.PollInterval,
				ReconnectInterval: env.cfg.Feed.ReconnectInterval,
				BatchSize:         env.cfg.Feed.BatchSize,
				Metrics:           recorder,
			})
			sched := scheduler.New()
			if err := schedulePrune(sched, database, env.cfg.Feed.PruneSchedule, env.cfg.Feed.Retention, logger); err != nil {
				return Exitf(ExitCodeFailure, "%v", err)
			}

			watcher := conversation.NewWatcher(list, feed, sched, conversation.WatcherOptions{
				ReconcileRate:    env.cfg.Sync.ReconcileRate,
				ReconcileBurst:   env.cfg.Sync.ReconcileBurst,
				FallbackInterval: env.cfg.Sync.FallbackInterval,
				Metrics:          recorder,
			})

			if metricsAddr != "" {
				server := &http.Server{Addr: metricsAddr, Handler: metricsMux(registry), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error().Err(err).Str("addr", metricsAddr).Msg("metrics server failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
				logger.Info().Str("addr", metricsAddr).Msg("serving metrics")
			}

			if err := list.Load(ctx, filter, sort); err != nil {
				return Exitf(ExitCodeFailure, "load conversations: %v", err)
			}

			feed.Start(ctx)
			defer feed.Close()
			sched.Start()
			defer func() {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = sched.Stop(stopCtx)
			}()

			return watcher.Run(ctx)
		},
	}
	filters.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default: metrics.addr)")
	return cmd
}

func schedulePrune(sched *scheduler.Scheduler, database *db.DB, spec string, retention time.Duration, logger zerolog.Logger) error {
	if spec == "" {
		return nil
	}
	return sched.Add(pruneJobName, spec, func(ctx context.Context) error {
		removed, err := database.PruneChanges(ctx, time.Now().Add(-retention))
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info().Int64("removed", removed).Msg("change log pruned")
		}
		return nil
	})
}

func metricsMux(registry *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	return mux
}
