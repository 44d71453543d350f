package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultJobTimeout = 10 * time.Minute

// Scheduler runs registered jobs on cron schedules.
type Scheduler struct {
	logger  *slog.Logger
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration

	mu        sync.Mutex
	isRunning bool
	jobs      []Job
	initial   sync.WaitGroup

	// Guards against overlapping runs of the same job.
	processingMutex sync.Mutex
	processing      map[string]bool
	// Serialises job bodies so maintenance writes never contend.
	runMutex sync.Mutex
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:     logger,
		cron:       cron.New(),
		ctx:        ctx,
		cancel:     cancel,
		timeout:    defaultJobTimeout,
		processing: make(map[string]bool),
	}
}

// Register schedules job using a standard five-field cron spec or a
// descriptor such as "@hourly".
func (s *Scheduler) Register(spec string, job Job) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q for job %s: %w", spec, job.Name(), err)
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunJob(job) }); err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", job.Name(), err)
	}

	s.mu.Lock()
	s.jobs = append(s.jobs, job)
	s.mu.Unlock()

	s.logger.Info("Scheduled job", slog.String("job", job.Name()), slog.String("schedule", spec))
	return nil
}

// RunJob executes job now unless its previous run is still going. Runs of
// different jobs wait for each other.
func (s *Scheduler) RunJob(job Job) {
	s.executeJobSafely(job.Name(), func() error {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		return job.Run(ctx)
	})
}

// executeJobSafely runs a job only if the same job is not already executing
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) {
	s.processingMutex.Lock()
	if s.processing[jobName] {
		s.logger.Debug("Skipping job execution - previous run still in progress", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return
	}
	s.processing[jobName] = true
	s.processingMutex.Unlock()

	s.runMutex.Lock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}
		s.runMutex.Unlock()

		s.processingMutex.Lock()
		delete(s.processing, jobName)
		s.processingMutex.Unlock()
	}()

	start := time.Now()
	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
		return
	}
	s.logger.Debug("Job finished", slog.String("job", jobName), slog.Duration("duration", time.Since(start)))
}

// Start runs every registered job once, then hands them to cron.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		s.logger.Info("Background jobs already running.")
		return nil
	}
	s.isRunning = true
	initial := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	s.logger.Info("Starting background jobs...", slog.Int("jobs", len(initial)))

	s.initial.Add(1)
	go func() {
		defer s.initial.Done()
		for _, job := range initial {
			if s.ctx.Err() != nil {
				return
			}
			s.RunJob(job)
		}
	}()
	s.cron.Start()
	return nil
}

// Stop cancels running jobs and waits for them to return.
// Implements cartridge.BackgroundWorker interface.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}

	s.logger.Info("Stopping background jobs...")
	s.cancel()
	<-s.cron.Stop().Done()
	s.initial.Wait()
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
