// Package relay runs the per-connection session orchestrator. A Relay owns
// one ingest channel together with the bridge and queue of its session, and
// the Manager enforces one relay per session id and fans events out to
// read-only listeners.
package relay

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"meeting-translation-relay/internal/entitlement"
	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/observability/metrics"
	"meeting-translation-relay/internal/schema"
	"meeting-translation-relay/internal/service/bridge"
	"meeting-translation-relay/internal/service/queue"
	"meeting-translation-relay/internal/service/upstream"
	"meeting-translation-relay/internal/store"
)

var (
	// ErrSessionBusy is returned when another connection already relays the session.
	ErrSessionBusy = errors.New("session already relayed by another connection")
	// ErrNotRelayed is returned by Subscribe for a session no connection is relaying.
	ErrNotRelayed = errors.New("session is not being relayed")
)

// Channel is one bidirectional ingest connection carrying JSON messages.
type Channel interface {
	// Receive blocks for the next client message.
	Receive(ctx context.Context) ([]byte, error)
	// Send writes one event to the client.
	Send(ctx context.Context, data []byte) error
	// Close closes the connection and unblocks Receive. Idempotent.
	Close() error
}

// StatusPublisher announces session status transitions.
type StatusPublisher interface {
	PublishStatus(ctx context.Context, ev models.SessionStatusEvent) error
}

// ChunkRecorder keeps a stored copy of forwarded frames. Record must not block.
type ChunkRecorder interface {
	Record(sessionID string, frame models.AudioFrame, status models.ChunkStatus) bool
}

// Config holds per-relay limits.
type Config struct {
	Queue          queue.Config
	OutboundBuffer int
	ListenerBuffer int
	StoreTimeout   time.Duration
	// ModelLabel is recorded on every utterance.
	ModelLabel string
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		Queue:          queue.DefaultConfig(),
		OutboundBuffer: 256,
		ListenerBuffer: 64,
		StoreTimeout:   5 * time.Second,
	}
}

// Deps are the collaborators shared by every relay.
type Deps struct {
	Store       store.SessionStore
	Provider    upstream.Provider
	Entitlement entitlement.Checker
	Translog    bridge.UtteranceSink
	Chunks      ChunkRecorder
	Status      StatusPublisher
	Validator   *schema.Validator
	Metrics     *metrics.Metrics
	Now         func() time.Time
}

// Manager creates relays and tracks which session each one owns.
type Manager struct {
	cfg     Config
	deps    Deps
	metrics *metrics.Metrics
	now     func() time.Time
	logger  zerolog.Logger

	mu        sync.Mutex
	relays    map[string]*Relay
	listeners map[string]map[*Listener]struct{}
}

// NewManager fills unset dependencies with defaults.
func NewManager(cfg Config, deps Deps) *Manager {
	def := DefaultConfig()
	if cfg.OutboundBuffer <= 0 {
		cfg.OutboundBuffer = def.OutboundBuffer
	}
	if cfg.ListenerBuffer <= 0 {
		cfg.ListenerBuffer = def.ListenerBuffer
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if deps.Entitlement == nil {
		deps.Entitlement = entitlement.AllowAll{}
	}
	if deps.Validator == nil {
		deps.Validator = schema.MustNew()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Manager{
		cfg:       cfg,
		deps:      deps,
		metrics:   deps.Metrics,
		now:       deps.Now,
		logger:    log.With().Str("component", "relay").Logger(),
		relays:    make(map[string]*Relay),
		listeners: make(map[string]map[*Listener]struct{}),
	}
}

// Serve relays ch until the client disconnects or ctx is cancelled. When it
// returns the session has been cleaned up and every upstream connection of
// the relay is closed.
func (m *Manager) Serve(ctx context.Context, ch Channel, transport string) error {
	start := m.now()
	m.metrics.RecordConnectionStart(transport)
	defer func() {
		m.metrics.RecordConnectionEnd(m.now().Sub(start).Seconds())
	}()
	return newRelay(m, ch, transport).Run(ctx)
}

// Relaying reports whether a connection currently owns sessionID.
func (m *Manager) Relaying(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.relays[sessionID]
	return ok
}

// Sessions returns the ids of every session being relayed, sorted.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.relays))
	for id := range m.relays {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	sort.Strings(ids)
	return ids
}

func (m *Manager) claim(sessionID string, r *Relay) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if owner, ok := m.relays[sessionID]; ok && owner != r {
		return ErrSessionBusy
	}
	m.relays[sessionID] = r
	return nil
}

// release drops the claim of r and closes the session's listeners.
func (m *Manager) release(sessionID string, r *Relay) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relays[sessionID] != r {
		return
	}
	delete(m.relays, sessionID)
	for l := range m.listeners[sessionID] {
		m.unsubscribeLocked(l)
	}
}

// Listener receives every event sent to the client of one session.
type Listener struct {
	m         *Manager
	sessionID string
	events    chan []byte
	closed    bool // guarded by m.mu
}

// Subscribe attaches a listener to a session being relayed. The listener's
// channel is closed when the session's connection ends, when the listener
// falls behind, or on Close.
func (m *Manager) Subscribe(sessionID string) (*Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.relays[sessionID]; !ok {
		return nil, ErrNotRelayed
	}
	l := &Listener{m: m, sessionID: sessionID, events: make(chan []byte, m.cfg.ListenerBuffer)}
	set, ok := m.listeners[sessionID]
	if !ok {
		set = make(map[*Listener]struct{})
		m.listeners[sessionID] = set
	}
	set[l] = struct{}{}
	m.metrics.RecordListener(1)
	m.logger.Info().Str("sessionId", sessionID).Int("listeners", len(set)).Msg("Listener attached")
	return l, nil
}

// Events delivers encoded events in the order the client received them.
func (l *Listener) Events() <-chan []byte { return l.events }

// SessionID returns the session the listener is attached to.
func (l *Listener) SessionID() string { return l.sessionID }

// Close detaches the listener. Idempotent.
func (l *Listener) Close() {
	l.m.mu.Lock()
	defer l.m.mu.Unlock()
	l.m.unsubscribeLocked(l)
}

func (m *Manager) unsubscribeLocked(l *Listener) {
	if l.closed {
		return
	}
	l.closed = true
	close(l.events)
	set := m.listeners[l.sessionID]
	delete(set, l)
	if len(set) == 0 {
		delete(m.listeners, l.sessionID)
	}
	m.metrics.RecordListener(-1)
}

// broadcast never blocks. A listener whose buffer is full is dropped.
func (m *Manager) broadcast(sessionID string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for l := range m.listeners[sessionID] {
		select {
		case l.events <- data:
		default:
			m.metrics.RecordListenerEventLost()
			m.logger.Warn().Str("sessionId", sessionID).Msg("Dropping slow listener")
			m.unsubscribeLocked(l)
		}
	}
}
