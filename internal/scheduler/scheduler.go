// Package scheduler drives the retraining pipeline on a fixed interval,
// with an on-demand trigger. It runs on its own goroutine, completely off
// the request-serving path: a slow or failing pipeline run never blocks a
// detection request, and in-flight requests never delay a run.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"phishguard/internal/models"
)

// Job is one full pipeline run. Implementations must capture their own
// per-step errors and always return a status.
type Job interface {
	Run(ctx context.Context) models.PipelineStatus
}

// Status is a point-in-time view of the scheduler.
type Status struct {
	State         string                 `json:"state"` // running, paused, stopped
	IntervalHours float64                `json:"intervalHours"`
	LastRun       *time.Time             `json:"lastRun,omitempty"`
	NextRun       *time.Time             `json:"nextRun,omitempty"`
	RunInFlight   bool                   `json:"runInFlight"`
	LastStatus    *models.PipelineStatus `json:"lastStatus,omitempty"`
}

type Scheduler struct {
	job      Job
	interval time.Duration

	mu         sync.Mutex
	paused     bool
	stopped    bool
	inFlight   bool
	lastRun    *time.Time
	nextRun    *time.Time
	lastStatus *models.PipelineStatus

	trigger chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

func New(job Job, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Scheduler{
		job:      job,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Start launches the background loop. The first scheduled run happens one
// full interval after start; use TriggerNow for an immediate run.
func (s *Scheduler) Start() {
	ctx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	s.cancel = cancel
	s.done = make(chan struct{})
	next := time.Now().Add(s.interval)
	s.nextRun = &next
	s.mu.Unlock()

	go s.loop(ctx)
	log.Printf("scheduler: started, retraining every %s", s.interval)
}

// Stop shuts the loop down. Safe to call once after Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.stopped = true
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	log.Println("scheduler: stopped")
}

// TriggerNow requests an immediate run. A trigger while a run is already
// pending collapses into it.
func (s *Scheduler) TriggerNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Pause suspends scheduled runs. Explicit triggers still execute.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.nextRun = nil
	s.mu.Unlock()
	log.Println("scheduler: paused")
}

// Resume re-enables scheduled runs.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	next := time.Now().Add(s.interval)
	s.nextRun = &next
	s.mu.Unlock()
	log.Println("scheduler: resumed")
}

// Status reports the scheduler state and the last pipeline outcome.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := "running"
	switch {
	case s.stopped || s.cancel == nil:
		state = "stopped"
	case s.paused:
		state = "paused"
	}
	return Status{
		State:         state,
		IntervalHours: s.interval.Hours(),
		LastRun:       s.lastRun,
		NextRun:       s.nextRun,
		RunInFlight:   s.inFlight,
		LastStatus:    s.lastStatus,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			paused := s.paused
			if !paused {
				next := time.Now().Add(s.interval)
				s.nextRun = &next
			}
			s.mu.Unlock()
			if paused {
				continue
			}
			s.run(ctx)
		case <-s.trigger:
			s.run(ctx)
		}
	}
}

func (s *Scheduler) run(ctx context.Context) {
	s.mu.Lock()
	if s.inFlight {
		s.mu.Unlock()
		return
	}
	s.inFlight = true
	s.mu.Unlock()

	status := s.job.Run(ctx)

	now := time.Now()
	s.mu.Lock()
	s.inFlight = false
	s.lastRun = &now
	s.lastStatus = &status
	s.mu.Unlock()
}
