package app

import (
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	s := NewSession("sync", start)
	if s.ID != "20250310T080000Z" {
		t.Errorf("ID = %q, want %q", s.ID, "20250310T080000Z")
	}
	if s.Command != "sync" {
		t.Errorf("Command = %q, want %q", s.Command, "sync")
	}
	if s.Status != "success" {
		t.Errorf("Status = %q, want %q", s.Status, "success")
	}

	s.Fail()
	if s.Status != "error" {
		t.Errorf("Status after Fail() = %q, want %q", s.Status, "error")
	}
	if got := s.Elapsed(start.Add(1500 * time.Millisecond)); got != 1500*time.Millisecond {
		t.Errorf("Elapsed() = %v, want 1.5s", got)
	}
}
