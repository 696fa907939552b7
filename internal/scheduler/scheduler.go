// Package scheduler runs periodic maintenance jobs (historical refresh and
// position recomputation) on top of gocron.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type TaskFn func(ctx context.Context) error

type Scheduler struct {
	scheduler gocron.Scheduler
}

func New(opts ...gocron.SchedulerOption) (*Scheduler, error) {
	s, err := gocron.NewScheduler(opts...)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

func (s *Scheduler) Start() {
	s.scheduler.Start()
}

func (s *Scheduler) Stop() {
	if err := s.scheduler.Shutdown(); err != nil {
		slog.Warn("scheduler shutdown", "err", err)
	}
}

func (s *Scheduler) createJob(def gocron.JobDefinition, name string, fn TaskFn, startImmediately bool) error {
	opts := []gocron.JobOption{
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	}
	if startImmediately {
		opts = append(opts, gocron.WithStartAt(gocron.WithStartImmediately()))
	}

	if _, err := s.scheduler.NewJob(def, gocron.NewTask(s.taskWithRecover(fn, name)), opts...); err != nil {
		return fmt.Errorf("create job %s: %w", name, err)
	}
	return nil
}

// NewIntervalJob runs fn every interval.
func (s *Scheduler) NewIntervalJob(name string, fn TaskFn, interval time.Duration, startImmediately bool) error {
	return s.createJob(gocron.DurationJob(interval), name, fn, startImmediately)
}

// NewCrontabJob runs fn on a five-field crontab schedule.
func (s *Scheduler) NewCrontabJob(name string, fn TaskFn, crontab string, startImmediately bool) error {
	return s.createJob(gocron.CronJob(crontab, false), name, fn, startImmediately)
}

func (s *Scheduler) taskWithRecover(fn TaskFn, jobName string) func(ctx context.Context) {
	return func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic recovered in scheduler job",
					"job", jobName,
					"panic", r,
					"stacktrace", string(debug.Stack()),
				)
			}
		}()

		start := time.Now()
		slog.Info("job start", "job", jobName)
		if err := fn(ctx); err != nil {
			slog.Error("job failed", "job", jobName, "err", err, "took", time.Since(start))
			return
		}
		slog.Info("job completed", "job", jobName, "took", time.Since(start))
	}
}
