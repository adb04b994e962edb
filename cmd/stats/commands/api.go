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

	"github.com/wonny/stratstats/internal/api"
	"github.com/wonny/stratstats/internal/api/handlers"
	"github.com/wonny/stratstats/internal/scheduler"
	"github.com/wonny/stratstats/internal/scheduler/jobs"
	"github.com/wonny/stratstats/pkg/redis"
)

// apiCmd represents the api command
var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "API 서버 시작",
	Long: `REST API 서버를 시작합니다.

이 명령어는:
- HTTP API 서버 시작 (일간 통계 업로드/정정/삭제, 월간 통계 조회/내보내기)
- /metrics 서버 시작 (METRICS_ENABLED)
- 정합성 점검 스케줄러 시작 (SCHEDULER_ENABLED)

Endpoints:
  POST   /api/strategies/{id}/daily-statistics/upload
  PUT    /api/strategies/{id}/daily-statistics/{date}
  DELETE /api/strategies/{id}/daily-statistics/{date}
  POST   /api/strategies/{id}/daily-statistics/delete
  GET    /api/strategies/{id}/daily-statistics?from=&to=
  GET    /api/strategies/{id}/monthly-statistics?page=&pageSize=
  GET    /api/strategies/{id}/monthly-statistics/{month}
  GET    /api/strategies/{id}/monthly-statistics/export?format=xlsx|csv
  DELETE /api/strategies/{id}/statistics[?fromMonth=YYYY-MM]
  POST   /api/strategies/{id}/statistics/rebuild
  GET    /api/strategies/{id}/statistics/verify
  GET    /health
  GET    /ws/statistics?strategyId=

Example:
  go run ./cmd/stats api
  go run ./cmd/stats api --port 8080`,
	RunE: runAPIServer,
}

var (
	apiPort         string
	apiWithSchedule bool
)

func init() {
	rootCmd.AddCommand(apiCmd)

	// Flags
	apiCmd.Flags().StringVar(&apiPort, "port", "", "API 서버 포트 (default PORT)")
	apiCmd.Flags().BoolVar(&apiWithSchedule, "with-scheduler", false, "정합성 점검 스케줄러 함께 실행")
}

func runAPIServer(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	// Override port if flag is set
	if apiPort != "" {
		a.cfg.Port = apiPort
	}

	limiter := api.NewUploadLimiter(a.cfg.Import.RatePerMinute, redis.NewRateLimiter(a.redis, redisPrefix), a.log)
	statsHandler := handlers.NewStatisticsHandler(a.service, a.importer, a.cfg.Import.MaxUploadMB, a.log)
	router := api.NewRouter(statsHandler, a.hub, limiter, a.metrics, a.log)

	servers := []*api.Server{api.New(a.cfg, a.log, router)}
	if a.cfg.MetricsEnabled {
		servers = append(servers, api.NewMetricsServer(a.cfg, a.log, a.metrics.Handler()))
	}

	var sched *scheduler.Scheduler
	if apiWithSchedule || a.cfg.Scheduler.Enabled {
		if sched, err = newScheduler(a); err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		srv := srv
		g.Go(srv.Start)
	}

	// Graceful shutdown on signal or when any server fails
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		a.hub.Close()
		var firstErr error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})

	fmt.Printf("\n✅ Server running on http://localhost:%s\n", a.cfg.Port)
	if a.cfg.MetricsEnabled {
		fmt.Printf("   Metrics on http://localhost:%s/metrics\n", a.cfg.MetricsPort)
	}
	fmt.Println("\nPress Ctrl+C to stop")

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	a.log.Info("Server stopped")
	return nil
}

// newScheduler registers the consistency audit job
func newScheduler(a *app) (*scheduler.Scheduler, error) {
	sched := scheduler.New(a.log)
	job := jobs.NewConsistencyJob(a.service, a.cfg.Scheduler.ConsistencySchedule, a.cfg.Scheduler.AutoRepair, a.log)
	if err := sched.AddJob(job); err != nil {
		return nil, fmt.Errorf("register %s: %w", job.Name(), err)
	}
	return sched, nil
}
