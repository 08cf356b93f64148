package engine

import (
	"context"
	"sync"
	"time"
)

// Session states reported by Running.
const (
	SessionQueued  = "queued"
	SessionRunning = "running"
)

// SessionInfo describes a live execution.
type SessionInfo struct {
	ID        string    `json:"id"`
	Language  string    `json:"language"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	QueuedAt  time.Time `json:"queued_at"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// session binds one request to its cancel func and process while it lives.
type session struct {
	cancel context.CancelFunc

	mu   sync.Mutex
	info SessionInfo
}

func (s *session) snapshot() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *session) admitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.State = SessionRunning
	s.info.StartedAt = time.Now().UTC()
}

func (s *session) spawned(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.PID = pid
}
