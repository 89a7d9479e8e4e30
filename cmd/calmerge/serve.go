package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "calmerge/internal/log"
	"calmerge/internal/web"
)

func addServe(topLevel *cobra.Command, opts *rootOptions) {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the calendar JSON API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if listen != "" {
				a.cfg.Listen = listen
			}
			appLog.Info("calmerge starting",
				"version", version,
				"listen", a.cfg.Listen,
				"timezone", a.cfg.Timezone,
				"week_start", a.cfg.WeekStart,
				"org_id", a.cfg.OrgID,
				"feed_count", len(a.cfg.Feeds),
			)

			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)
			go func() {
				select {
				case sig := <-sigCh:
					appLog.Info("signal received, shutting down", "signal", sig.String())
					cancel()
				case <-ctx.Done():
				}
			}()

			if a.feeds != nil {
				sched, err := startFeedRefresh(ctx, a)
				if err != nil {
					return err
				}
				defer func() {
					<-sched.Stop().Done()
				}()
			}

			srv := web.NewServer(web.Deps{
				Aggregator:   a.agg,
				Coordinator:  a.coord,
				Exceptions:   a.store,
				OrgID:        a.cfg.OrgID,
				WeekStart:    a.cfg.FirstWeekday(),
				CalendarName: "calmerge " + a.cfg.OrgID,
			})
			err = srv.ListenAndServe(ctx, a.cfg.Listen)
			appLog.Info("calmerge exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set)")
	topLevel.AddCommand(cmd)
}

// startFeedRefresh warms the feed cache once and then on the configured
// cron schedule, so queries rarely wait on a remote feed.
func startFeedRefresh(ctx context.Context, a *app) (*cron.Cron, error) {
	if _, err := cron.ParseStandard(a.cfg.FeedRefresh); err != nil {
		return nil, fmt.Errorf("invalid feed_refresh %q: %w", a.cfg.FeedRefresh, err)
	}

	sched := cron.New(cron.WithLocation(a.loc))
	refresh := func() {
		rctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()
		if failed := a.feeds.Refresh(rctx); failed > 0 {
			appLog.Warn("feed refresh incomplete", "failed", failed)
		}
	}
	if _, err := sched.AddFunc(a.cfg.FeedRefresh, refresh); err != nil {
		return nil, fmt.Errorf("schedule feed refresh: %w", err)
	}

	go refresh()
	sched.Start()
	appLog.Info("feed refresh scheduled", "cron", a.cfg.FeedRefresh)
	return sched, nil
}
