// Package session provides the lifecycle state machine of a relayed
// translation session.
package session

import (
	"errors"
	"fmt"
	"sync"

	"meeting-translation-relay/internal/models"
)

// Errors for invalid state transitions.
var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrAlreadyTerminal   = errors.New("session already terminal")
)

// Lifecycle manages the state machine for a single session instance.
// Thread-safe for concurrent access.
//
// State transitions:
//
//	INITIALIZING → CONNECTING → ACTIVE → DISCONNECTED
//	                   │           │
//	                   └───────────┴──→ ERROR
//
// Rules:
//   - Connect is allowed from any state and starts a fresh connecting phase
//     (initialize and restart). It clears the error message.
//   - Activate is only allowed from CONNECTING.
//   - Fail moves any non-terminal state to ERROR.
//   - Stop moves any non-terminal state to DISCONNECTED. Stopping a terminal
//     session is a no-op, so cleanup runs at most once per instance.
type Lifecycle struct {
	mu        sync.RWMutex
	sessionID string
	state     models.Status
	errMsg    string
}

// NewLifecycle creates a lifecycle in INITIALIZING state.
func NewLifecycle(sessionID string) *Lifecycle {
	return &Lifecycle{
		sessionID: sessionID,
		state:     models.StatusInitializing,
	}
}

// SessionID returns the session id.
func (l *Lifecycle) SessionID() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessionID
}

// State returns the current state.
func (l *Lifecycle) State() models.Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// ErrorMessage returns the message recorded by the last Fail.
func (l *Lifecycle) ErrorMessage() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.errMsg
}

// IsActive returns true while the upstream bridge is live.
func (l *Lifecycle) IsActive() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == models.StatusActive
}

// IsTerminal returns true once the session is disconnected or errored.
func (l *Lifecycle) IsTerminal() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state.IsTerminal()
}

// Connect starts a connecting phase and returns the previous state.
func (l *Lifecycle) Connect() models.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.state
	l.state = models.StatusConnecting
	l.errMsg = ""
	return prev
}

// Activate records the upstream ready signal.
func (l *Lifecycle) Activate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.state {
	case models.StatusConnecting:
		l.state = models.StatusActive
		return nil
	case models.StatusDisconnected, models.StatusError:
		return ErrAlreadyTerminal
	default:
		return fmt.Errorf("%w: activate from %s", ErrInvalidTransition, l.state)
	}
}

// Fail transitions to ERROR with msg.
func (l *Lifecycle) Fail(msg string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return ErrAlreadyTerminal
	}
	l.state = models.StatusError
	l.errMsg = msg
	return nil
}

// Stop transitions to DISCONNECTED. Returns true if the transition happened,
// false if the session was already terminal.
func (l *Lifecycle) Stop() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state.IsTerminal() {
		return false
	}
	l.state = models.StatusDisconnected
	return true
}
