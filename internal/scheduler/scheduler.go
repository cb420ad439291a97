// Package scheduler runs the pipeline's recurring jobs on cron schedules
// and broadcasts their lifecycle over the event bus.
package scheduler

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/foresight/internal/events"
)

// Job represents a scheduled job
type Job interface {
	Run() error
	Name() string
}

// Scheduler manages background jobs
type Scheduler struct {
	cron *cron.Cron
	bus  *events.Bus
	jobs map[string]Job
	log  zerolog.Logger
}

// New creates a new scheduler
func New(bus *events.Bus, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		bus:  bus,
		jobs: make(map[string]Job),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs to finish
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a six-field cron schedule
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.execute(job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}

	s.jobs[job.Name()] = job

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a registered job immediately, outside its schedule
func (s *Scheduler) RunNow(name string) error {
	job, ok := s.jobs[name]
	if !ok {
		return fmt.Errorf("unknown job: %s", name)
	}
	return s.execute(job)
}

// JobNames lists the registered jobs
func (s *Scheduler) JobNames() []string {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) execute(job Job) error {
	runID := uuid.New().String()
	start := time.Now()

	s.log.Debug().Str("job", job.Name()).Str("run_id", runID).Msg("Running job")
	s.bus.Publish(events.Event{
		Type:  events.JobStarted,
		RunID: runID,
		Job:   job.Name(),
	})

	if err := job.Run(); err != nil {
		s.log.Error().
			Err(err).
			Str("job", job.Name()).
			Str("run_id", runID).
			Msg("Job failed")
		s.bus.Publish(events.Event{
			Type:  events.JobFailed,
			RunID: runID,
			Job:   job.Name(),
			Data:  map[string]interface{}{"error": err.Error()},
		})
		return err
	}

	s.log.Debug().
		Str("job", job.Name()).
		Str("run_id", runID).
		Dur("elapsed", time.Since(start)).
		Msg("Job completed")
	s.bus.Publish(events.Event{
		Type:  events.JobCompleted,
		RunID: runID,
		Job:   job.Name(),
		Data:  map[string]interface{}{"elapsed_ms": time.Since(start).Milliseconds()},
	})
	return nil
}
