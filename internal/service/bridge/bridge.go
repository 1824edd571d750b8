// Package bridge owns one upstream provider connection for a session. It
// forwards audio, relays upstream events to the client in the order they
// arrive, and hands completed utterances to the translation logger.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/observability/logging"
	"meeting-translation-relay/internal/observability/metrics"
	"meeting-translation-relay/internal/service/upstream"
)

// DefaultConfidence is recorded when the provider does not report one.
const DefaultConfidence = 0.95

const (
	// maxHeldTurns bounds the turns waiting for a late source transcript.
	maxHeldTurns = 8
	// maxLoggedResponses bounds the response ids remembered as already logged.
	maxLoggedResponses = 32
)

var (
	// ErrUpstreamUnavailable wraps dial and credential failures.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotOpen is returned when the bridge is closed or not yet ready.
	ErrNotOpen = errors.New("bridge not open")
)

// Hooks receives lifecycle signals from the bridge pump. Calls are made from
// the pump goroutine, in event order.
type Hooks interface {
	OnUpstreamReady(b *Bridge)
	OnUpstreamError(b *Bridge, message string)
	OnUpstreamClosed(b *Bridge)
}

// UtteranceSink accepts completed utterances without blocking.
type UtteranceSink interface {
	Log(u models.TranslationUtterance) bool
}

// Deps are the collaborators of a bridge.
type Deps struct {
	Emit    func(models.Event)
	Hooks   Hooks
	Sink    UtteranceSink
	Model   string
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Bridge is one open upstream connection.
type Bridge struct {
	conn     upstream.Conn
	provider string
	deps     Deps
	logger   zerolog.Logger
	opened   time.Time
	done     chan struct{}

	mu     sync.Mutex
	cfg    upstream.SessionConfig
	ready  bool
	closed bool

	// turn assembly, shared by the pump and ForwardFrame/SendText
	turnMu sync.Mutex
	input  pendingInput
	open   *turn
	last   *turn
	held   []*turn
	logged []string
}

// pendingInput is the speaker input not yet answered by a response.
type pendingInput struct {
	itemID string
	source string
	typed  bool
	start  time.Time
}

// turn is one response being assembled into an utterance.
type turn struct {
	responseID string
	itemID     string
	source     string
	translated string
	typed      bool
	start      time.Time
	logged     bool
	// pending is the finished utterance waiting for its source transcript.
	pending *models.TranslationUtterance
}

// Open dials the provider and starts the event pump.
func Open(ctx context.Context, p upstream.Provider, cfg upstream.SessionConfig, deps Deps) (*Bridge, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	if deps.Emit == nil {
		deps.Emit = func(models.Event) {}
	}

	start := deps.Now()
	conn, err := p.Dial(ctx, cfg)
	if err != nil {
		deps.Metrics.RecordUpstreamError(p.Name(), "dial")
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	b := &Bridge{
		conn:     conn,
		provider: p.Name(),
		deps:     deps,
		logger:   logging.WithUpstream(cfg.SessionID, p.Name()).With().Str("component", "bridge").Logger(),
		opened:   start,
		done:     make(chan struct{}),
		cfg:      cfg,
	}
	go b.pump()

	b.logger.Info().Dur("dialTime", deps.Now().Sub(start)).Msg("Upstream connection opened")
	return b, nil
}

// Ready reports whether the upstream acknowledged the session and the bridge is open.
func (b *Bridge) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready && !b.closed
}

// Config returns the current session configuration.
func (b *Bridge) Config() upstream.SessionConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// OpenedAt returns when the dial started.
func (b *Bridge) OpenedAt() time.Time { return b.opened }

// Done is closed when the pump has exited.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// ForwardFrame sends one frame upstream. It does not wait for an acknowledgment.
func (b *Bridge) ForwardFrame(ctx context.Context, frame models.AudioFrame) error {
	if !b.Ready() {
		return ErrNotOpen
	}
	b.markInputStart()
	if err := b.conn.AppendAudio(ctx, frame.Payload); err != nil {
		return fmt.Errorf("append audio %d: %w", frame.SequenceNumber, err)
	}
	b.deps.Metrics.RecordFrameForwarded()
	return nil
}

// SendText injects a typed turn. The typed text is the source of the
// response that answers it; no input transcription follows a typed turn.
func (b *Bridge) SendText(ctx context.Context, text string) error {
	if !b.Ready() {
		return ErrNotOpen
	}
	b.turnMu.Lock()
	b.input = pendingInput{source: strings.TrimSpace(text), typed: true, start: b.deps.Now()}
	b.turnMu.Unlock()

	if err := b.conn.SendText(ctx, text); err != nil {
		b.turnMu.Lock()
		if b.input.typed {
			b.input = pendingInput{}
		}
		b.turnMu.Unlock()
		return err
	}
	return nil
}

// UpdateConfiguration pushes a new language pair without reopening the connection.
func (b *Bridge) UpdateConfiguration(ctx context.Context, sourceLanguage, targetLanguage string) error {
	return b.update(ctx, func(cfg *upstream.SessionConfig) {
		cfg.SourceLanguage = sourceLanguage
		cfg.TargetLanguage = targetLanguage
	})
}

// UpdateVoice pushes a new synthesis voice without reopening the connection.
func (b *Bridge) UpdateVoice(ctx context.Context, voiceID string) error {
	return b.update(ctx, func(cfg *upstream.SessionConfig) {
		cfg.VoiceID = voiceID
	})
}

func (b *Bridge) update(ctx context.Context, mutate func(*upstream.SessionConfig)) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrNotOpen
	}
	mutate(&b.cfg)
	cfg := b.cfg
	b.mu.Unlock()

	if err := b.conn.UpdateSession(ctx, cfg); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	b.logger.Info().
		Str("source", cfg.SourceLanguage).
		Str("target", cfg.TargetLanguage).
		Str("voice", cfg.VoiceID).
		Msg("Upstream configuration updated")
	return nil
}

// Close closes the upstream connection. Idempotent; it does not wait for the pump.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.ready = false
	b.mu.Unlock()

	b.logger.Info().Msg("Closing upstream connection")
	return b.conn.Close()
}

func (b *Bridge) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Bridge) pump() {
	defer close(b.done)
	for ev := range b.conn.Events() {
		b.deps.Metrics.RecordUpstreamEvent(b.provider, ev.Kind())
		b.dispatch(ev)
	}
	if !b.isClosed() {
		b.logger.Warn().Msg("Upstream connection ended unexpectedly")
		b.deps.Metrics.RecordUpstreamError(b.provider, "closed")
		if b.deps.Hooks != nil {
			b.deps.Hooks.OnUpstreamClosed(b)
		}
	}
}

func (b *Bridge) dispatch(ev upstream.Event) {
	switch ev := ev.(type) {
	case upstream.Ready:
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		b.ready = true
		b.mu.Unlock()
		b.deps.Emit(models.AIConnected{Message: "AI translator ready"})
		if b.deps.Hooks != nil {
			b.deps.Hooks.OnUpstreamReady(b)
		}

	case upstream.InputCommitted:
		b.commitInput(ev.ItemID)
		b.relayRaw(ev.Raw)

	case upstream.ResponseStarted:
		b.turnMu.Lock()
		b.openTurnLocked(ev.ResponseID)
		b.turnMu.Unlock()
		b.relayRaw(ev.Raw)

	case upstream.AudioDelta:
		b.deps.Emit(models.TranslatedAudioDelta{Audio: ev.Audio})

	case upstream.TranscriptDelta:
		if !ev.Source {
			b.turnMu.Lock()
			t := b.turnLocked(ev.ResponseID)
			t.translated += ev.Text
			b.turnMu.Unlock()
		}
		b.deps.Emit(models.TranscriptDelta{Text: ev.Text})

	case upstream.SourceTranscript:
		b.captureSource(ev.ItemID, ev.Text)
		b.deps.Emit(models.AIEvent{Event: rawOr(ev.Raw, map[string]any{"type": "source_transcript", "transcript": ev.Text})})

	case upstream.ToolUtterance:
		b.logTool(ev)
		b.deps.Emit(models.AIEvent{Event: rawOr(ev.Raw, map[string]any{
			"type":            "log_translation",
			"original_text":   ev.SourceText,
			"translated_text": ev.TranslatedText,
		})})

	case upstream.TurnComplete:
		b.deps.Emit(models.TranslationComplete{})
		b.completeTurn(ev.ResponseID)

	case upstream.RuntimeError:
		b.logger.Error().Str("error", ev.Message).Msg("Upstream reported error")
		b.deps.Metrics.RecordUpstreamError(b.provider, "runtime")
		b.deps.Emit(models.TranslationError{Error: ev.Message})
		if b.deps.Hooks != nil {
			b.deps.Hooks.OnUpstreamError(b, ev.Message)
		}

	case upstream.Unrecognized:
		b.logger.Debug().Str("eventType", ev.Type).Msg("Relaying unrecognized upstream event")
		b.deps.Emit(models.AIEvent{Event: rawOr(ev.Raw, map[string]any{"type": ev.Type})})
	}
}

// relayRaw forwards a provider event that only drives turn bookkeeping.
// Events synthesized without a raw payload are not relayed.
func (b *Bridge) relayRaw(raw json.RawMessage) {
	if len(raw) > 0 {
		b.deps.Emit(models.AIEvent{Event: raw})
	}
}

func (b *Bridge) markInputStart() {
	b.turnMu.Lock()
	if b.input.start.IsZero() {
		b.input.start = b.deps.Now()
	}
	b.turnMu.Unlock()
}

// commitInput binds the pending input to the provider's item id.
func (b *Bridge) commitInput(itemID string) {
	b.turnMu.Lock()
	defer b.turnMu.Unlock()
	switch {
	case b.input.itemID == itemID && !b.input.typed:
	case b.input.itemID == "" && !b.input.typed:
		b.input.itemID = itemID
	default:
		b.input = pendingInput{itemID: itemID, start: b.input.start}
	}
}

// turnLocked returns the turn responseID belongs to, opening one if needed.
func (b *Bridge) turnLocked(responseID string) *turn {
	if t := b.open; t != nil {
		if responseID == "" || t.responseID == responseID {
			return t
		}
		if t.responseID == "" {
			t.responseID = responseID
			return t
		}
	}
	return b.openTurnLocked(responseID)
}

// openTurnLocked starts a response turn answering the pending input. A turn
// still open without a completion signal is finished with what it has.
func (b *Bridge) openTurnLocked(responseID string) *turn {
	if t := b.open; t != nil {
		if responseID != "" && t.responseID == responseID {
			return t
		}
		b.open = nil
		b.finishLocked(t)
	}

	start := b.input.start
	if start.IsZero() {
		start = b.deps.Now()
	}
	t := &turn{
		responseID: responseID,
		itemID:     b.input.itemID,
		source:     b.input.source,
		typed:      b.input.typed,
		start:      start,
	}
	b.input = pendingInput{}
	b.open = t
	return t
}

// captureSource records a completed transcription of the speaker's input.
// With an item id it completes only the turn answering that item; a
// transcription never attaches to a turn answering a different input.
func (b *Bridge) captureSource(itemID, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	b.turnMu.Lock()
	defer b.turnMu.Unlock()

	if itemID != "" {
		for i, t := range b.held {
			if t.itemID != itemID {
				continue
			}
			b.held = slices.Delete(b.held, i, i+1)
			u := *t.pending
			t.pending = nil
			u.SourceText = text
			b.markLoggedLocked(t)
			b.logUtterance(u)
			return
		}
	}

	if t := b.open; t != nil && !t.typed && t.itemID == itemID {
		if !t.logged {
			t.source = joinText(t.source, text)
		}
		return
	}

	in := &b.input
	if in.typed || (itemID != "" && in.itemID != "" && in.itemID != itemID) {
		b.logger.Debug().Str("itemId", itemID).Msg("Source transcript matches no open turn")
		return
	}
	if in.itemID == "" {
		in.itemID = itemID
	}
	in.source = joinText(in.source, text)
}

// completeTurn finishes the open turn when responseID matches it.
func (b *Bridge) completeTurn(responseID string) {
	b.turnMu.Lock()
	defer b.turnMu.Unlock()

	t := b.open
	if t == nil {
		if responseID == "" && !b.input.typed {
			// A turn that produced no translation; its transcript is captions only.
			b.input = pendingInput{}
		}
		return
	}
	if responseID != "" && t.responseID != "" && t.responseID != responseID {
		return
	}
	b.open = nil
	b.finishLocked(t)
}

// finishLocked logs a finished turn, or holds it when only its source is
// missing and the input item it answers is known.
func (b *Bridge) finishLocked(t *turn) {
	b.last = t
	if t.logged {
		return
	}

	u := b.utteranceLocked(t.source, t.translated, t.start)
	switch {
	case u.Complete():
		b.markLoggedLocked(t)
		b.logUtterance(u)
	case u.SourceText == "" && u.TranslatedText != "" && t.itemID != "":
		t.pending = &u
		b.held = append(b.held, t)
		if len(b.held) > maxHeldTurns {
			dropped := b.held[0]
			b.held = b.held[1:]
			b.logger.Warn().
				Str("responseId", dropped.responseID).
				Str("itemId", dropped.itemID).
				Msg("Dropping turn that never received its source transcript")
		}
	case u.TranslatedText != "":
		b.logger.Debug().Str("responseId", t.responseID).Msg("Turn finished without a source transcript")
	}
}

// logTool logs a provider utterance record right away. Each response is
// logged once, from either its tool record or its assembled transcripts.
func (b *Bridge) logTool(ev upstream.ToolUtterance) {
	b.turnMu.Lock()
	defer b.turnMu.Unlock()

	t := b.findTurnLocked(ev.ResponseID)
	if (t != nil && t.logged) || (ev.ResponseID != "" && slices.Contains(b.logged, ev.ResponseID)) {
		b.logger.Debug().Str("responseId", ev.ResponseID).Msg("Response already logged, ignoring tool record")
		return
	}

	var start time.Time
	if t != nil {
		start = t.start
		if i := slices.Index(b.held, t); i >= 0 {
			b.held = slices.Delete(b.held, i, i+1)
			t.pending = nil
		}
	} else {
		t = &turn{responseID: ev.ResponseID}
	}

	u := b.utteranceLocked(ev.SourceText, ev.TranslatedText, start)
	if ev.Confidence > 0 {
		u.ConfidenceScore = ev.Confidence
	}
	b.markLoggedLocked(t)
	if u.Complete() {
		b.logUtterance(u)
	}
}

// findTurnLocked returns the turn a tool record belongs to. Without a
// response id that is the open turn, else the one finished last.
func (b *Bridge) findTurnLocked(responseID string) *turn {
	if t := b.open; t != nil && (responseID == "" || t.responseID == responseID) {
		return t
	}
	if responseID == "" {
		return b.last
	}
	for _, t := range b.held {
		if t.responseID == responseID {
			return t
		}
	}
	if b.last != nil && b.last.responseID == responseID {
		return b.last
	}
	return nil
}

func (b *Bridge) markLoggedLocked(t *turn) {
	t.logged = true
	if t.responseID == "" {
		return
	}
	b.logged = append(b.logged, t.responseID)
	if len(b.logged) > maxLoggedResponses {
		b.logged = b.logged[1:]
	}
}

// utteranceLocked builds an utterance with the current language pair.
func (b *Bridge) utteranceLocked(source, translated string, start time.Time) models.TranslationUtterance {
	now := b.deps.Now()
	cfg := b.Config()
	u := models.TranslationUtterance{
		ID:              uuid.NewString(),
		SessionID:       cfg.SessionID,
		SourceText:      strings.TrimSpace(source),
		TranslatedText:  strings.TrimSpace(translated),
		SourceLanguage:  cfg.SourceLanguage,
		TargetLanguage:  cfg.TargetLanguage,
		ConfidenceScore: DefaultConfidence,
		ModelUsed:       b.deps.Model,
		CreatedAt:       now,
	}
	if !start.IsZero() {
		u.ProcessingTimeMs = now.Sub(start).Milliseconds()
	}
	return u
}

func joinText(a, b string) string {
	if a == "" {
		return b
	}
	return a + " " + b
}

func (b *Bridge) logUtterance(u models.TranslationUtterance) {
	if b.deps.Sink == nil {
		return
	}
	if !b.deps.Sink.Log(u) {
		b.logger.Warn().Str("utteranceId", u.ID).Msg("Utterance dropped by translation logger")
	}
}

func rawOr(raw json.RawMessage, fallback map[string]any) json.RawMessage {
	if len(raw) > 0 {
		return raw
	}
	data, err := json.Marshal(fallback)
	if err != nil {
		return json.RawMessage("null")
	}
	return data
}
