package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phishguard/internal/models"
)

type countingJob struct {
	runs atomic.Int32
	ran  chan struct{}
}

func newCountingJob() *countingJob {
	return &countingJob{ran: make(chan struct{}, 16)}
}

func (j *countingJob) Run(ctx context.Context) models.PipelineStatus {
	j.runs.Add(1)
	status := models.PipelineStatus{RunID: "test-run", StartedAt: time.Now()}
	select {
	case j.ran <- struct{}{}:
	default:
	}
	return status
}

func waitForRun(t *testing.T, j *countingJob) {
	t.Helper()
	select {
	case <-j.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a pipeline run")
	}
}

func TestSchedulerTriggerNow(t *testing.T) {
	job := newCountingJob()
	s := New(job, time.Hour)
	s.Start()
	defer s.Stop()

	s.TriggerNow()
	waitForRun(t, job)
	assert.Equal(t, int32(1), job.runs.Load())
}

func TestSchedulerTickerFires(t *testing.T) {
	job := newCountingJob()
	s := New(job, 20*time.Millisecond)
	s.Start()
	defer s.Stop()

	waitForRun(t, job)
	assert.GreaterOrEqual(t, job.runs.Load(), int32(1))
}

func TestSchedulerPauseSkipsTicks(t *testing.T) {
	job := newCountingJob()
	s := New(job, 20*time.Millisecond)
	s.Start()
	defer s.Stop()

	s.Pause()
	// Drain anything that fired before the pause landed.
	time.Sleep(100 * time.Millisecond)
	for len(job.ran) > 0 {
		<-job.ran
	}
	before := job.runs.Load()

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, before, job.runs.Load(), "scheduled runs must not fire while paused")

	// An explicit trigger still runs while paused.
	s.TriggerNow()
	waitForRun(t, job)
	assert.Equal(t, before+1, job.runs.Load())
}

func TestSchedulerResume(t *testing.T) {
	job := newCountingJob()
	s := New(job, 20*time.Millisecond)
	s.Start()
	defer s.Stop()

	s.Pause()
	assert.Equal(t, "paused", s.Status().State)

	s.Resume()
	assert.Equal(t, "running", s.Status().State)
	waitForRun(t, job)
}

func TestSchedulerStatus(t *testing.T) {
	job := newCountingJob()
	s := New(job, time.Hour)

	assert.Equal(t, "stopped", s.Status().State, "not started yet")

	s.Start()
	status := s.Status()
	assert.Equal(t, "running", status.State)
	assert.Equal(t, 1.0, status.IntervalHours)
	require.NotNil(t, status.NextRun)
	assert.Nil(t, status.LastRun)

	s.TriggerNow()
	waitForRun(t, job)
	// Give the scheduler a moment to record the completed run.
	require.Eventually(t, func() bool {
		return s.Status().LastRun != nil
	}, 2*time.Second, 10*time.Millisecond)

	status = s.Status()
	require.NotNil(t, status.LastStatus)
	assert.Equal(t, "test-run", status.LastStatus.RunID)

	s.Stop()
	assert.Equal(t, "stopped", s.Status().State)
}

func TestSchedulerDefaultInterval(t *testing.T) {
	s := New(newCountingJob(), 0)
	assert.Equal(t, 24.0, s.Status().IntervalHours)
}
