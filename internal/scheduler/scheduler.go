// Package scheduler runs the recurring jobs that keep the cache warm and
// the cold store healthy: watchlist refreshes, maintenance passes and
// snapshot backups. Jobs are cron-scheduled, panic-isolated and skipped
// while a previous run is still going.
package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is one schedulable unit of work.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// FuncJob adapts a function to the Job interface.
type FuncJob struct {
	name string
	fn   func(ctx context.Context) error
}

// NewFuncJob wraps fn as a named job.
func NewFuncJob(name string, fn func(ctx context.Context) error) *FuncJob {
	return &FuncJob{name: name, fn: fn}
}

func (j *FuncJob) Name() string { return j.name }

func (j *FuncJob) Run(ctx context.Context) error { return j.fn(ctx) }

// Scheduler wraps robfig/cron with named jobs and per-run IDs.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New creates a stopped scheduler. Standard five-field cron specs plus
// the @every / @daily descriptors are accepted.
func New(log zerolog.Logger) *Scheduler {
	schedLog := log.With().Str("component", "scheduler").Logger()
	cl := cronLogger{log: schedLog}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		)),
		log: schedLog,
	}
}

// Register schedules a job. Invalid specs are rejected up front so a
// typo in configuration fails at startup, not at first trigger.
func (s *Scheduler) Register(spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() { s.RunNow(job) })
	if err != nil {
		return err
	}
	s.log.Info().Str("job", job.Name()).Str("spec", spec).Msg("Job registered")
	return nil
}

// RunNow executes a job immediately on the calling goroutine.
func (s *Scheduler) RunNow(job Job) {
	runID := uuid.NewString()
	log := s.log.With().Str("job", job.Name()).Str("run_id", runID).Logger()

	startTime := time.Now()
	log.Info().Msg("Job started")

	if err := job.Run(context.Background()); err != nil {
		log.Error().Err(err).Dur("duration_ms", time.Since(startTime)).Msg("Job failed")
		return
	}
	log.Info().Dur("duration_ms", time.Since(startTime)).Msg("Job completed")
}

// Start begins triggering jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Scheduler stopped")
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
