package relay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"meeting-translation-relay/internal/entitlement"
	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/observability/logging"
	"meeting-translation-relay/internal/service/bridge"
	"meeting-translation-relay/internal/service/queue"
	"meeting-translation-relay/internal/service/session"
	"meeting-translation-relay/internal/service/upstream"
	"meeting-translation-relay/internal/store"
)

var errChannelClosed = errors.New("ingest channel closed")

// Relay orchestrates one ingest connection. Every session transition happens
// under mu and is written to the session store before mu is released.
type Relay struct {
	m         *Manager
	ch        Channel
	transport string
	out       chan []byte
	done      <-chan struct{}
	sessionID atomic.Value // string
	logger    atomic.Pointer[zerolog.Logger]

	mu        sync.Mutex
	lifecycle *session.Lifecycle
	cfg       upstream.SessionConfig
	current   *attempt
	bridges   []*bridge.Bridge
	connectAt time.Time
	wasActive bool
	cleaned   bool
}

// attempt is one connecting phase: the queue and the bridge opened for it.
// Hooks from an attempt that is no longer current are ignored.
type attempt struct {
	r         *Relay
	sessionID string
	queue     *queue.Queue
	bridge    atomic.Pointer[bridge.Bridge]
}

func newRelay(m *Manager, ch Channel, transport string) *Relay {
	r := &Relay{
		m:         m,
		ch:        ch,
		transport: transport,
		out:       make(chan []byte, m.cfg.OutboundBuffer),
	}
	l := m.logger.With().Str("transport", transport).Logger()
	r.logger.Store(&l)
	r.sessionID.Store("")
	return r
}

func (r *Relay) log() *zerolog.Logger { return r.logger.Load() }

func (r *Relay) id() string { return r.sessionID.Load().(string) }

// Run drives the read loop and the write loop in one task scope. It returns
// after the client is gone, cleanup has run and every bridge pump has exited.
func (r *Relay) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	r.done = gctx.Done()

	g.Go(func() error {
		return r.writeLoop(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		if err := r.ch.Close(); err != nil {
			r.log().Debug().Err(err).Msg("Error closing ingest channel")
		}
		return nil
	})
	g.Go(func() error {
		r.emit(models.Connected{Message: "Connected to translation relay"})
		return r.readLoop(gctx)
	})

	err := g.Wait()
	r.cleanup()
	r.waitBridges()

	if err == nil || errors.Is(err, errChannelClosed) || errors.Is(err, context.Canceled) {
		r.log().Info().Msg("Ingest connection closed")
		return nil
	}
	r.log().Error().Err(err).Msg("Ingest connection failed")
	return err
}

func (r *Relay) readLoop(ctx context.Context) error {
	for {
		data, err := r.ch.Receive(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", errChannelClosed, err)
		}
		r.handle(ctx, data)
	}
}

func (r *Relay) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case data := <-r.out:
			if err := r.ch.Send(ctx, data); err != nil {
				return fmt.Errorf("%w: send: %v", errChannelClosed, err)
			}
		}
	}
}

// emit queues ev for the client and fans it out to listeners. It blocks
// while the outbound buffer is full and gives up once the connection is gone.
func (r *Relay) emit(ev models.Event) {
	data, err := models.EncodeEvent(ev)
	if err != nil {
		r.log().Error().Err(err).Str("eventType", ev.EventType()).Msg("Failed to encode event")
		return
	}
	if id := r.id(); id != "" {
		r.m.broadcast(id, data)
	}
	select {
	case r.out <- data:
	case <-r.done:
	}
}

func (r *Relay) reject(code, message string) {
	r.emit(models.Error{Message: message, Code: code})
}

func (r *Relay) handle(ctx context.Context, data []byte) {
	kind, err := r.m.deps.Validator.Validate(data)
	if err != nil {
		r.log().Debug().Err(err).Msg("Rejected client message")
		r.reject(models.CodeInvalidMessage, err.Error())
		return
	}
	cmd, err := models.DecodeCommand(kind, data)
	if err != nil {
		r.reject(models.CodeInvalidMessage, err.Error())
		return
	}

	switch c := cmd.(type) {
	case models.Initialize:
		r.initialize(ctx, c.SessionRef())
	case models.AudioChunk:
		r.submitAudio(c)
	case models.TextMessage:
		r.submitText(ctx, c.Text)
	case models.UpdateLanguages:
		r.updateLanguages(ctx, c)
	case models.UpdateVoice:
		r.updateVoice(ctx, c)
	case models.Restart:
		r.restart(ctx)
	case models.Stop:
		r.stop()
	}
}

func (r *Relay) initialize(ctx context.Context, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lifecycle != nil {
		r.reject(models.CodeAlreadyInitialized, "Session already initialized")
		return
	}

	sctx, cancel := r.storeCtx()
	sess, err := r.m.deps.Store.Get(sctx, id)
	cancel()
	switch {
	case errors.Is(err, store.ErrNotFound):
		r.m.metrics.RecordSessionRejected("not_found")
		r.reject(models.CodeSessionNotFound, "Session not found")
		return
	case err != nil:
		r.log().Error().Err(err).Str("sessionId", id).Msg("Failed to load session")
		r.m.metrics.RecordSessionRejected("store_error")
		r.reject(models.CodeInternal, "Failed to load session")
		return
	}

	if err := entitlement.Check(ctx, r.m.deps.Entitlement, sess); err != nil {
		if errors.Is(err, entitlement.ErrQuotaExceeded) {
			r.m.metrics.RecordSessionRejected("quota")
			r.reject(models.CodeQuotaExceeded, "Usage quota exceeded")
			return
		}
		r.log().Error().Err(err).Str("sessionId", id).Msg("Entitlement check failed")
		r.m.metrics.RecordSessionRejected("entitlement_error")
		r.reject(models.CodeInternal, "Failed to verify usage quota")
		return
	}

	if err := r.m.claim(id, r); err != nil {
		r.m.metrics.RecordSessionRejected("busy")
		r.reject(models.CodeSessionBusy, "Session is already being relayed")
		return
	}

	r.sessionID.Store(id)
	l := logging.WithSession(id, string(sess.Platform)).With().
		Str("component", "relay").
		Str("transport", r.transport).
		Logger()
	r.logger.Store(&l)

	r.lifecycle = session.NewLifecycle(id)
	r.cfg = upstream.SessionConfig{
		SessionID:      id,
		SourceLanguage: sess.SourceLanguage,
		TargetLanguage: sess.TargetLanguage,
		VoiceID:        sess.VoiceID,
	}
	r.log().Info().
		Str("platform", string(sess.Platform)).
		Str("source", sess.SourceLanguage).
		Str("target", sess.TargetLanguage).
		Msg("Session initialized")

	r.connectLocked(ctx)
}

// connectLocked starts a connecting phase and dials the upstream.
func (r *Relay) connectLocked(ctx context.Context) {
	prev := r.lifecycle.Connect()
	r.connectAt = r.m.now()
	r.persistLocked(models.SessionUpdate{
		Status:                models.Ptr(models.StatusConnecting),
		AudioProcessingActive: models.Ptr(false),
		ErrorMessage:          models.Ptr(""),
		ClearEndedAt:          true,
	})
	r.m.metrics.RecordSessionConnecting()
	r.emit(models.Initialized{SessionID: r.cfg.SessionID, Status: models.StatusConnecting})

	a := &attempt{r: r, sessionID: r.cfg.SessionID}
	a.queue = queue.New(r.m.cfg.Queue, a.forward, a.ready)
	r.current = a

	b, err := bridge.Open(ctx, r.m.deps.Provider, r.cfg, bridge.Deps{
		Emit:    r.emit,
		Hooks:   a,
		Sink:    r.m.deps.Translog,
		Model:   r.m.cfg.ModelLabel,
		Metrics: r.m.metrics,
		Now:     r.m.now,
	})
	if err != nil {
		r.log().Error().Err(err).Msg("Failed to open translation bridge")
		r.emit(models.TranslationError{Error: err.Error()})
		r.failLocked(err.Error())
		return
	}
	a.bridge.Store(b)
	r.bridges = append(r.bridges, b)
	r.log().Info().Str("previous", string(prev)).Msg("Translation bridge opened")
}

func (r *Relay) submitAudio(c models.AudioChunk) {
	r.mu.Lock()
	initialized, a := r.lifecycle != nil, r.current
	r.mu.Unlock()

	if !initialized {
		r.m.metrics.RecordFrameRejected("not_initialized")
		r.reject(models.CodeNotInitialized, "Session not initialized")
		return
	}
	if a == nil {
		r.m.metrics.RecordFrameRejected("not_running")
		r.reject(models.CodeSessionNotRunning, "Session is not running")
		return
	}

	payload, err := base64.StdEncoding.DecodeString(c.AudioData)
	if err != nil {
		r.m.metrics.RecordFrameRejected("invalid_audio")
		r.reject(models.CodeInvalidMessage, "audioData is not valid base64")
		return
	}
	r.m.metrics.RecordAudioReceived(len(payload))

	err = a.queue.Enqueue(models.AudioFrame{
		SequenceNumber: c.SequenceNumber,
		Payload:        payload,
		Timestamp:      r.m.now(),
		DurationMs:     c.DurationMs,
		Language:       c.Language,
	})
	switch {
	case err == nil:
		r.m.metrics.RecordQueueDepth(a.queue.Len())
	case errors.Is(err, queue.ErrOverloaded):
		r.m.metrics.RecordFrameRejected("overloaded")
		r.log().Warn().Int64("sequenceNumber", c.SequenceNumber).Msg("Audio queue full, dropping frame")
		r.reject(models.CodeOverloaded, "Audio queue is full, frame dropped")
	case errors.Is(err, queue.ErrOutOfOrder):
		r.m.metrics.RecordFrameRejected("out_of_order")
		r.reject(models.CodeOutOfOrder, err.Error())
	default:
		r.m.metrics.RecordFrameRejected("not_running")
		r.reject(models.CodeSessionNotRunning, "Session is not running")
	}
}

func (r *Relay) submitText(ctx context.Context, text string) {
	r.mu.Lock()
	initialized, a := r.lifecycle != nil, r.current
	r.mu.Unlock()

	if !initialized {
		r.reject(models.CodeNotInitialized, "Session not initialized")
		return
	}
	var b *bridge.Bridge
	if a != nil {
		b = a.bridge.Load()
	}
	if b == nil || !b.Ready() {
		r.reject(models.CodeUpstreamNotConnected, "Translation bridge not connected")
		return
	}
	if err := b.SendText(ctx, text); err != nil {
		if errors.Is(err, bridge.ErrNotOpen) {
			r.reject(models.CodeUpstreamNotConnected, "Translation bridge not connected")
			return
		}
		r.log().Error().Err(err).Msg("Failed to send text turn")
		r.reject(models.CodeInternal, "Failed to send text message")
	}
}

func (r *Relay) updateLanguages(ctx context.Context, c models.UpdateLanguages) {
	source, err := models.CanonicalLanguage(c.SourceLanguage)
	if err != nil {
		r.reject(models.CodeInvalidMessage, err.Error())
		return
	}
	target, err := models.CanonicalLanguage(c.TargetLanguage)
	if err != nil {
		r.reject(models.CodeInvalidMessage, err.Error())
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lifecycle == nil {
		r.reject(models.CodeNotInitialized, "Session not initialized")
		return
	}

	r.cfg.SourceLanguage = source
	r.cfg.TargetLanguage = target
	r.persistLocked(models.SessionUpdate{
		SourceLanguage: models.Ptr(source),
		TargetLanguage: models.Ptr(target),
	})
	if b := r.activeBridgeLocked(); b != nil {
		if err := b.UpdateConfiguration(ctx, source, target); err != nil {
			r.log().Warn().Err(err).Msg("Failed to push language update upstream")
		}
	}
	r.emit(models.LanguagesUpdated{SourceLanguage: source, TargetLanguage: target})
}

func (r *Relay) updateVoice(ctx context.Context, c models.UpdateVoice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lifecycle == nil {
		r.reject(models.CodeNotInitialized, "Session not initialized")
		return
	}

	r.cfg.VoiceID = c.VoiceID
	r.persistLocked(models.SessionUpdate{VoiceID: models.Ptr(c.VoiceID)})
	if b := r.activeBridgeLocked(); b != nil {
		if err := b.UpdateVoice(ctx, c.VoiceID); err != nil {
			r.log().Warn().Err(err).Msg("Failed to push voice update upstream")
		}
	}
	r.emit(models.VoiceUpdated{VoiceID: c.VoiceID})
}

// activeBridgeLocked returns the bridge only while the session is active.
func (r *Relay) activeBridgeLocked() *bridge.Bridge {
	if !r.lifecycle.IsActive() || r.current == nil {
		return nil
	}
	return r.current.bridge.Load()
}

func (r *Relay) restart(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lifecycle == nil {
		r.reject(models.CodeNotInitialized, "Session not initialized")
		return
	}

	r.log().Info().Str("from", string(r.lifecycle.State())).Msg("Restarting session")
	if r.wasActive {
		r.m.metrics.RecordSessionEnded("restarted", true)
		r.wasActive = false
	}
	r.teardownLocked()
	r.connectLocked(ctx)
}

func (r *Relay) stop() {
	r.mu.Lock()
	if r.lifecycle == nil {
		r.mu.Unlock()
		r.reject(models.CodeNotInitialized, "Session not initialized")
		return
	}
	r.stopLocked()
	r.mu.Unlock()

	// Every stop is acknowledged, even when the session was already ended
	// and nothing was written.
	r.emit(models.SessionStopped{Message: "Translation session ended"})
}

// stopLocked tears the session down and records the disconnect once.
func (r *Relay) stopLocked() {
	r.teardownLocked()
	if !r.lifecycle.Stop() {
		return
	}
	now := r.m.now()
	r.persistLocked(models.SessionUpdate{
		Status:                models.Ptr(models.StatusDisconnected),
		AudioProcessingActive: models.Ptr(false),
		EndedAt:               &now,
	})
	r.m.metrics.RecordSessionEnded(string(models.StatusDisconnected), r.wasActive)
	r.wasActive = false
	r.log().Info().Msg("Session stopped")
}

// failLocked moves the session to error. A terminal session is left as is.
func (r *Relay) failLocked(message string) {
	if err := r.lifecycle.Fail(message); err != nil {
		return
	}
	r.teardownLocked()
	now := r.m.now()
	r.persistLocked(models.SessionUpdate{
		Status:                models.Ptr(models.StatusError),
		AudioProcessingActive: models.Ptr(false),
		ErrorMessage:          models.Ptr(message),
		EndedAt:               &now,
	})
	r.m.metrics.RecordSessionEnded(string(models.StatusError), r.wasActive)
	r.wasActive = false
	r.log().Warn().Str("error", message).Msg("Session failed")
}

// teardownLocked closes the current bridge and discards its queue.
func (r *Relay) teardownLocked() {
	a := r.current
	r.current = nil
	if a == nil {
		return
	}
	if b := a.bridge.Load(); b != nil {
		if err := b.Close(); err != nil {
			r.log().Debug().Err(err).Msg("Error closing bridge")
		}
	}
	if n := a.queue.Discard(); n > 0 {
		r.log().Info().Int("dropped", n).Msg("Discarded queued audio")
	}
}

// cleanup runs once when the ingest connection ends.
func (r *Relay) cleanup() {
	r.mu.Lock()
	if r.cleaned {
		r.mu.Unlock()
		return
	}
	r.cleaned = true
	id := ""
	if r.lifecycle != nil {
		r.stopLocked()
		id = r.cfg.SessionID
	}
	r.mu.Unlock()

	if id != "" {
		r.m.release(id, r)
	}
}

func (r *Relay) waitBridges() {
	r.mu.Lock()
	bridges := append([]*bridge.Bridge(nil), r.bridges...)
	r.mu.Unlock()
	for _, b := range bridges {
		<-b.Done()
	}
}

func (r *Relay) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), r.m.cfg.StoreTimeout)
}

// persistLocked writes u to the session store and announces status changes.
// Store failures are logged; the live session carries on.
func (r *Relay) persistLocked(u models.SessionUpdate) {
	ctx, cancel := r.storeCtx()
	defer cancel()

	id := r.cfg.SessionID
	if err := r.m.deps.Store.Update(ctx, id, u); err != nil {
		r.log().Error().Err(err).Msg("Failed to update session")
	}
	if u.Status == nil || r.m.deps.Status == nil {
		return
	}
	ev := models.SessionStatusEvent{
		SessionID: id,
		Status:    *u.Status,
		Timestamp: r.m.now().UnixMilli(),
	}
	if u.ErrorMessage != nil {
		ev.ErrorMessage = *u.ErrorMessage
	}
	if err := r.m.deps.Status.PublishStatus(ctx, ev); err != nil {
		r.log().Warn().Err(err).Msg("Failed to publish session status")
	}
}

func (r *Relay) onReady(a *attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != a {
		r.log().Debug().Msg("Ignoring ready signal from replaced bridge")
		return
	}
	if err := r.lifecycle.Activate(); err != nil {
		r.log().Warn().Err(err).Msg("Ignoring ready signal")
		return
	}

	now := r.m.now()
	r.wasActive = true
	r.persistLocked(models.SessionUpdate{
		Status:                models.Ptr(models.StatusActive),
		AudioProcessingActive: models.Ptr(true),
		StartedAt:             &now,
	})
	r.m.metrics.RecordSessionActive(now.Sub(r.connectAt).Seconds())
	r.log().Info().Dur("connectTime", now.Sub(r.connectAt)).Msg("Session active")

	// Settings changed while connecting are applied now.
	if b := a.bridge.Load(); b != nil {
		ctx, cancel := r.storeCtx()
		applied := b.Config()
		if applied.SourceLanguage != r.cfg.SourceLanguage || applied.TargetLanguage != r.cfg.TargetLanguage {
			if err := b.UpdateConfiguration(ctx, r.cfg.SourceLanguage, r.cfg.TargetLanguage); err != nil {
				r.log().Warn().Err(err).Msg("Failed to apply pending language update")
			}
		}
		if applied.VoiceID != r.cfg.VoiceID {
			if err := b.UpdateVoice(ctx, r.cfg.VoiceID); err != nil {
				r.log().Warn().Err(err).Msg("Failed to apply pending voice update")
			}
		}
		cancel()
	}

	a.queue.Kick()
}

func (r *Relay) onUpstreamError(a *attempt, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != a {
		return
	}
	r.failLocked(message)
}

func (r *Relay) onUpstreamClosed(a *attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != a {
		return
	}
	r.emit(models.TranslationError{Error: "Upstream connection closed"})
	r.failLocked("upstream connection closed")
}

func (a *attempt) OnUpstreamReady(*bridge.Bridge) { a.r.onReady(a) }

func (a *attempt) OnUpstreamError(_ *bridge.Bridge, message string) { a.r.onUpstreamError(a, message) }

func (a *attempt) OnUpstreamClosed(*bridge.Bridge) { a.r.onUpstreamClosed(a) }

// ready is called by the queue with its lock held.
func (a *attempt) ready() bool {
	b := a.bridge.Load()
	return b != nil && b.Ready()
}

func (a *attempt) forward(ctx context.Context, frame models.AudioFrame) error {
	b := a.bridge.Load()
	if b == nil {
		return bridge.ErrNotOpen
	}
	err := b.ForwardFrame(ctx, frame)
	if chunks := a.r.m.deps.Chunks; chunks != nil {
		status := models.ChunkForwarded
		if err != nil {
			status = models.ChunkFailed
		}
		chunks.Record(a.sessionID, frame, status)
	}
	return err
}
