package session

import (
	"errors"
	"testing"

	"meeting-translation-relay/internal/models"
)

func TestLifecycle_InitialState(t *testing.T) {
	lc := NewLifecycle("s-1")

	if lc.State() != models.StatusInitializing {
		t.Errorf("expected initializing, got %v", lc.State())
	}
	if lc.SessionID() != "s-1" {
		t.Errorf("expected s-1, got %v", lc.SessionID())
	}
	if lc.IsActive() {
		t.Error("expected IsActive to be false")
	}
	if lc.IsTerminal() {
		t.Error("expected IsTerminal to be false")
	}
}

func TestLifecycle_ConnectThenActivate(t *testing.T) {
	lc := NewLifecycle("s-1")

	if prev := lc.Connect(); prev != models.StatusInitializing {
		t.Errorf("expected previous state initializing, got %v", prev)
	}
	if err := lc.Activate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lc.IsActive() {
		t.Errorf("expected active, got %v", lc.State())
	}
}

func TestLifecycle_Activate_RequiresConnecting(t *testing.T) {
	lc := NewLifecycle("s-1")

	if err := lc.Activate(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}

	lc.Connect()
	lc.Activate()
	if err := lc.Activate(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("second activate: expected ErrInvalidTransition, got %v", err)
	}
}

func TestLifecycle_Fail_RecordsMessage(t *testing.T) {
	lc := NewLifecycle("s-1")
	lc.Connect()

	if err := lc.Fail("rate limited"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lc.State() != models.StatusError {
		t.Errorf("expected error, got %v", lc.State())
	}
	if lc.ErrorMessage() != "rate limited" {
		t.Errorf("expected rate limited, got %q", lc.ErrorMessage())
	}
	if err := lc.Fail("again"); err != ErrAlreadyTerminal {
		t.Errorf("expected ErrAlreadyTerminal, got %v", err)
	}
	if err := lc.Activate(); err != ErrAlreadyTerminal {
		t.Errorf("activate after error: expected ErrAlreadyTerminal, got %v", err)
	}
}

func TestLifecycle_Stop_Idempotent(t *testing.T) {
	lc := NewLifecycle("s-1")
	lc.Connect()
	lc.Activate()

	if !lc.Stop() {
		t.Error("expected first Stop() to return true")
	}
	if lc.Stop() {
		t.Error("expected second Stop() to return false")
	}
	if lc.State() != models.StatusDisconnected {
		t.Errorf("expected disconnected, got %v", lc.State())
	}
}

func TestLifecycle_Stop_AfterErrorIsNoop(t *testing.T) {
	lc := NewLifecycle("s-1")
	lc.Connect()
	lc.Fail("boom")

	if lc.Stop() {
		t.Error("expected Stop() to return false after error")
	}
	if lc.State() != models.StatusError {
		t.Errorf("expected error to be kept, got %v", lc.State())
	}
}

func TestLifecycle_RestartAfterError(t *testing.T) {
	lc := NewLifecycle("s-1")
	lc.Connect()
	lc.Fail("rate limited")

	if prev := lc.Connect(); prev != models.StatusError {
		t.Errorf("expected previous state error, got %v", prev)
	}
	if lc.ErrorMessage() != "" {
		t.Errorf("expected error message cleared, got %q", lc.ErrorMessage())
	}
	if err := lc.Activate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lc.IsActive() {
		t.Errorf("expected active after restart, got %v", lc.State())
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status     models.Status
		isTerminal bool
	}{
		{models.StatusInitializing, false},
		{models.StatusConnecting, false},
		{models.StatusActive, false},
		{models.StatusDisconnected, true},
		{models.StatusError, true},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.isTerminal {
			t.Errorf("Status(%s).IsTerminal() = %v, want %v", tt.status, got, tt.isTerminal)
		}
	}
}
