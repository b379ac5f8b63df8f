package main

import (
	"context"
	"fmt"

	"github.com/go-co-op/gocron/v2"

	"crimson-pen/config"
	"crimson-pen/pipeline"
)

// runDaemon publishes once a day at daemon.at until ctx is cancelled.
// Singleton mode keeps a slow run from overlapping the next one.
func runDaemon(ctx context.Context, cfg config.AppConfig, p *pipeline.Pipeline) error {
	hour, minute, err := cfg.Daemon.Clock()
	if err != nil {
		return fmt.Errorf("daemon.at: %w", err)
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(cfg.Location()))
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	job, err := s.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))),
		gocron.NewTask(func() {
			// 실패는 로그와 메트릭으로 남기고 다음 날 다시 시도한다.
			_, _ = p.Run(ctx, pipeline.RunOptions{})
		}),
		gocron.WithName("publish"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create publish job: %w", err)
	}

	s.Start()
	if next, err := job.NextRun(); err == nil {
		config.InfoWithFields("daemon started", config.Fields{
			"at":       cfg.Daemon.At,
			"timezone": cfg.Timezone,
			"next_run": next.Format("2006-01-02T15:04:05Z07:00"),
		})
	}

	<-ctx.Done()
	config.Logger.Info("received shutdown signal, stopping scheduler...")
	if err := s.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown: %w", err)
	}
	config.Logger.Info("daemon stopped")
	return nil
}
