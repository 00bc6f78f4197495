package app

import "time"

// Session tracks one CLI invocation. Its ID tags every log line the
// invocation writes.
type Session struct {
	ID        string
	Command   string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewSession creates a session for command started at now.
func NewSession(command string, now time.Time) *Session {
	return &Session{
		ID:        now.UTC().Format("20060102T150405Z"),
		Command:   command,
		StartedAt: now,
		Status:    "success",
	}
}

// Fail marks the session as failed.
func (s *Session) Fail() {
	s.Status = "error"
}

// Elapsed returns the time since the session started.
func (s *Session) Elapsed(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
