package service

import (
	"sync"
	"time"
)

// Status represents a service lifecycle state
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceStatus tracks the lifecycle state of one service
type ServiceStatus struct {
	Name string

	mu        sync.RWMutex
	status    Status
	err       error
	startedAt time.Time
}

// NewServiceStatus creates a status tracker in the stopped state
func NewServiceStatus(name string) *ServiceStatus {
	return &ServiceStatus{
		Name:   name,
		status: StatusStopped,
	}
}

// SetStatus updates the state. Entering running records the start time
// and clears any previous error.
func (s *ServiceStatus) SetStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
	switch status {
	case StatusRunning:
		s.startedAt = time.Now()
		s.err = nil
	case StatusStopped:
		s.startedAt = time.Time{}
	}
}

// SetError moves the service into the error state
func (s *ServiceStatus) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.err = err
}

// GetStatus returns the current state
func (s *ServiceStatus) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// GetError returns the last recorded error
func (s *ServiceStatus) GetError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// IsRunning reports whether the service is running
func (s *ServiceStatus) IsRunning() bool {
	return s.GetStatus() == StatusRunning
}

// GetUptime returns how long the service has been running, or zero
func (s *ServiceStatus) GetUptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusRunning || s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// StartTime returns when the service last entered running, or the zero
// time once stopped
func (s *ServiceStatus) StartTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}
