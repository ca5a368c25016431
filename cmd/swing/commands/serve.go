package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/crajarshi/SwingTrading/internal/api"
	"github.com/crajarshi/SwingTrading/internal/api/handlers"
	"github.com/crajarshi/SwingTrading/internal/pipeline"
	"github.com/crajarshi/SwingTrading/internal/scheduler"
	"github.com/crajarshi/SwingTrading/internal/scheduler/jobs"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status API and the session scheduler",
	Long: `Starts the HTTP status API and, unless disabled, the cron scheduler
that drives the pipeline through the trading day (exchange time):

  scan       after the close
  reconcile  before the open
  place      before the open, after reconcile
  exits      before the close
  report     after the close
  cache      weekly bar-cache refresh

Endpoints:
  GET    /health
  GET    /metrics
  GET    /api/runs
  GET    /api/runs/active
  DELETE /api/runs/active
  GET    /api/runs/{runID}
  GET    /api/intents/{runID}
  GET    /api/placements/{runID}
  GET    /api/orderlog/{runID}
  POST   /api/scan
  GET    /api/positions
  GET    /api/account
  GET    /api/jobs
  POST   /api/jobs/{name}/run

Example:
  go run ./cmd/swing serve
  go run ./cmd/swing serve --port 8090 --no-schedule`,
	RunE: runServe,
}

var (
	servePort       string
	serveNoSchedule bool
)

const shutdownTimeout = 30 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API server port (default: PORT env)")
	serveCmd.Flags().BoolVar(&serveNoSchedule, "no-schedule", false, "serve the API without the scheduler")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return withPipeline(ctx, func(ctx context.Context, d *deps, o *pipeline.Orchestrator) error {
		if servePort != "" {
			d.cfg.Server.Port = servePort
		}
		log := d.log.WithField("module", "serve")

		var sched *scheduler.Scheduler
		if d.strategy.Schedule.Enabled && !serveNoSchedule {
			var err error
			sched, err = buildScheduler(d, o)
			if err != nil {
				return err
			}
		}

		router := api.NewRouter(api.Handlers{
			Runs:    handlers.NewRunHandler(o, d.log),
			Trading: handlers.NewTradingHandler(o, d.log),
			Jobs:    handlers.NewJobHandler(sched, d.log),
		}, d.metrics, d.log)
		server := api.New(d.cfg, d.log, router)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			log.Info("Shutting down...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			o.Registry().CancelActive()
			if sched != nil {
				sched.Stop()
			}
			return server.Shutdown(shutdownCtx)
		})

		if sched != nil {
			sched.Start()
			for _, name := range sched.GetAllJobs() {
				if next, ok := sched.NextRun(name); ok {
					log.WithFields(map[string]interface{}{
						"job":  name,
						"next": next.Format(time.RFC3339),
					}).Info("Job scheduled")
				}
			}
		}

		w := cmd.OutOrStdout()
		PrintSuccess(w, fmt.Sprintf("Server running on http://localhost%s", server.Addr()))
		if sched == nil {
			PrintInfo(w, "scheduler disabled")
		}
		fmt.Fprintln(w, "Press Ctrl+C to stop")

		return g.Wait()
	})
}

// buildScheduler registers the stage jobs and the weekly cache refresh
func buildScheduler(d *deps, o *pipeline.Orchestrator) (*scheduler.Scheduler, error) {
	sched := scheduler.New(d.calendar, d.metrics, d.log)

	stages, err := jobs.StageJobs(o, d.strategy.Schedule, d.log)
	if err != nil {
		return nil, err
	}
	for _, j := range stages {
		if err := sched.AddJob(j); err != nil {
			return nil, err
		}
	}

	cache, err := d.barCache()
	if err != nil {
		return nil, err
	}
	if err := sched.AddJob(jobs.NewCacheRefreshJob(cache, d.log)); err != nil {
		return nil, err
	}
	return sched, nil
}
