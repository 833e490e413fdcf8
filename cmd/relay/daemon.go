package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/relay/internal/orchestrator"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled cleanup and the progress watcher",
	Long: `Run in the foreground until interrupted:
  - a cleanup pass every cleanup.interval
  - a watcher that reconciles a sub-task as soon as its progress record changes
    (when progress.watch is true)
  - a Prometheus /metrics endpoint (when metrics.addr is set)`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withApp(func(a *app) error {
			return runDaemon(ctx, a)
		})
	},
}

func runDaemon(ctx context.Context, a *app) error {
	log := a.log.WithComponent("daemon")
	g, ctx := errgroup.WithContext(ctx)

	sched := a.svc.NewScheduler(a.cfg.Cleanup.Interval, orchestrator.WithAfterRun(func(r *orchestrator.CleanupReport) {
		if len(r.Errors) > 0 {
			printStatus("⚠", fmt.Sprintf("cleanup finished with %d error(s)", len(r.Errors)), color.FgYellow)
		}
	}))
	g.Go(func() error { return sched.Run(ctx) })

	if a.cfg.Progress.Watch {
		g.Go(func() error { return a.svc.WatchLedger(ctx) })
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

		g.Go(func() error {
			log.Info("serving metrics", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	printStatus("✓", fmt.Sprintf("relay daemon running (cleanup every %v)", a.cfg.Cleanup.Interval), color.FgGreen)
	log.Info("daemon started", "cleanup_interval", a.cfg.Cleanup.Interval, "watch", a.cfg.Progress.Watch)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("daemon stopped", "error", err)
	return err
}
