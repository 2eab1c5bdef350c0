// Package jobs tracks the single active transcription job and the events it
// produces for UI subscribers.
package jobs

import (
	"errors"
	"fmt"
	"sync"

	"speech-recorder/internal/domain"
)

// ErrJobAlreadyRunning is returned when starting a second active job.
var ErrJobAlreadyRunning = errors.New("job already running")

// ErrNoRunningJob is returned when an update targets an idle manager.
var ErrNoRunningJob = errors.New("no running job")

// Manager tracks the single allowed active job and its transitions.
type Manager struct {
	mu      sync.RWMutex
	current domain.Job
}

// NewManager creates a manager in idle state.
func NewManager() *Manager {
	return &Manager{
		current: domain.Job{
			Status: domain.JobStatusIdle,
		},
	}
}

// Start creates a new job in the created state.
func (m *Manager) Start(jobID, inputPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if isRunning(m.current.Status) {
		return ErrJobAlreadyRunning
	}

	m.current = domain.Job{
		ID:        jobID,
		Status:    domain.JobStatusCreated,
		InputPath: inputPath,
	}
	return nil
}

// Transition validates and applies state transitions for current job.
func (m *Manager) Transition(status domain.JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.ID == "" && status != domain.JobStatusIdle {
		return fmt.Errorf("cannot transition without an active job")
	}
	if status == m.current.Status {
		return nil
	}
	if !isValidTransition(m.current.Status, status) {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, status)
	}

	m.current.Status = status
	if status == domain.JobStatusDone {
		m.current.Percent = 100
	}
	return nil
}

// SetPercent records progress for the running job. Lower values are ignored.
func (m *Manager) SetPercent(pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return ErrNoRunningJob
	}
	m.current.Percent = max(m.current.Percent, min(pct, 100))
	return nil
}

// Complete records the transcript path and moves the job to done. A job
// already marked done only gets its output path recorded.
func (m *Manager) Complete(outputPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Status != domain.JobStatusRunning && m.current.Status != domain.JobStatusDone {
		return fmt.Errorf("invalid transition: %s -> %s", m.current.Status, domain.JobStatusDone)
	}
	m.current.OutputPath = outputPath
	m.current.Status = domain.JobStatusDone
	m.current.Percent = 100
	return nil
}

// Fail moves an active job to the failed state.
func (m *Manager) Fail() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !isRunning(m.current.Status) {
		return ErrNoRunningJob
	}
	m.current.Status = domain.JobStatusFailed
	return nil
}

// Current returns a snapshot of the current job.
func (m *Manager) Current() domain.Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsRunning reports whether the current state is an active stage.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return isRunning(m.current.Status)
}

// isRunning checks if a status represents an unfinished job.
func isRunning(status domain.JobStatus) bool {
	switch status {
	case domain.JobStatusCreated, domain.JobStatusModelReady, domain.JobStatusRunning:
		return true
	default:
		return false
	}
}

// isValidTransition enforces the allowed job state machine edges.
func isValidTransition(from, to domain.JobStatus) bool {
	switch from {
	case domain.JobStatusIdle:
		return to == domain.JobStatusCreated
	case domain.JobStatusCreated:
		return to == domain.JobStatusModelReady || to == domain.JobStatusFailed
	case domain.JobStatusModelReady:
		return to == domain.JobStatusRunning || to == domain.JobStatusFailed
	case domain.JobStatusRunning:
		return to == domain.JobStatusDone || to == domain.JobStatusFailed
	case domain.JobStatusDone, domain.JobStatusFailed:
		return to == domain.JobStatusCreated || to == domain.JobStatusIdle
	default:
		return false
	}
}
