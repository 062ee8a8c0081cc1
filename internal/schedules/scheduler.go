package schedules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// entry is one registered processor with its run metadata
type entry struct {
	processor Processor
	schedule  string
	cronID    cron.EntryID
	mu        sync.Mutex // Prevents overlapping runs of the same processor
	lastRun   *time.Time
	lastError string
}

// Scheduler drives the registered processors on their cron schedules
type Scheduler struct {
	cron    *cron.Cron
	logger  arbor.ILogger
	mu      sync.Mutex
	entries map[string]*entry
	running bool
}

// NewScheduler creates an empty scheduler
func NewScheduler(logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// Register adds a processor under the given cron expression. Registration
// after Start is rejected.
func (s *Scheduler) Register(processor Processor, schedule string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	name := processor.Name()
	if _, exists := s.entries[name]; exists {
		return fmt.Errorf("processor %s already registered", name)
	}

	e := &entry{processor: processor, schedule: schedule}
	cronID, err := s.cron.AddFunc(schedule, func() {
		s.runProcessor(e)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", schedule, name, err)
	}
	e.cronID = cronID
	s.entries[name] = e

	s.logger.Info().
		Str("processor", name).
		Str("schedule", schedule).
		Msg("Processor registered")
	return nil
}

// Start begins firing registered processors
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	s.cron.Start()
	s.running = true
	s.logger.Info().Int("processors", len(s.entries)).Msg("Scheduler started")
	return nil
}

// Stop halts the scheduler and waits for in-flight runs to finish
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// RunNow fires a processor outside its schedule, with the same overlap guard
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, exists := s.entries[name]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("no processor registered as %s", name)
	}
	s.runProcessor(e)
	return nil
}

func (s *Scheduler) runProcessor(e *entry) {
	// A slow run simply absorbs the next tick instead of stacking up
	if !e.mu.TryLock() {
		s.logger.Warn().
			Str("processor", e.processor.Name()).
			Msg("Previous run still in progress, skipping tick")
		return
	}
	defer e.mu.Unlock()

	name := e.processor.Name()
	started := time.Now()
	report, err := e.processor.ProcessDue(context.Background())
	duration := time.Since(started)

	now := time.Now().UTC()
	e.lastRun = &now

	if err != nil {
		e.lastError = err.Error()
		s.logger.Error().
			Err(err).
			Str("processor", name).
			Dur("duration", duration).
			Msg("Processor run failed")
		return
	}

	e.lastError = ""
	event := s.logger.Info()
	if report.Failed > 0 {
		event = s.logger.Warn()
	}
	event.
		Str("processor", name).
		Int("processed", report.Processed).
		Int("failed", report.Failed).
		Dur("duration", duration).
		Msg("Processor run complete")
}
