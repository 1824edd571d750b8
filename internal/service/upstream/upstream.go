// Package upstream defines the interface for speech-to-speech translation
// providers and the closed set of events they produce.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrMissingCredentials is returned by Dial when the provider has no credentials configured.
var ErrMissingCredentials = errors.New("upstream credentials missing")

// SessionConfig is the per-session configuration sent in the handshake and in live updates.
type SessionConfig struct {
	SessionID      string
	SourceLanguage string
	TargetLanguage string
	VoiceID        string
}

// Provider dials upstream connections (OpenAI Realtime, Google Speech, mock).
type Provider interface {
	// Name is a short label used in logs, metrics and the utterance model label.
	Name() string

	// Dial opens a connection and sends the configuration handshake.
	Dial(ctx context.Context, cfg SessionConfig) (Conn, error)
}

// Conn is one open upstream connection.
type Conn interface {
	// Events delivers upstream events in the order received. It is closed
	// when the connection ends.
	Events() <-chan Event

	// AppendAudio sends one audio payload. It does not wait for an acknowledgment.
	AppendAudio(ctx context.Context, audio []byte) error

	// SendText injects a typed conversational turn.
	SendText(ctx context.Context, text string) error

	// UpdateSession pushes new configuration without reopening the connection.
	UpdateSession(ctx context.Context, cfg SessionConfig) error

	// Close ends the connection. Idempotent.
	Close() error
}

// Event is an upstream event. The set is closed to the types in this package.
type Event interface {
	Kind() string
	isUpstreamEvent()
}

// Ready is the provider's session-created signal.
type Ready struct{}

// AudioDelta carries a base64 chunk of synthesized audio, relayed verbatim.
type AudioDelta struct {
	Audio string
}

// Response and item ids are optional. Providers that report them let the
// bridge pair late transcriptions and tool records with the right turn;
// without them events are attributed to the turn in progress.

// InputCommitted marks a speaker input item accepted by the provider.
type InputCommitted struct {
	ItemID string
	Raw    json.RawMessage
}

// ResponseStarted marks the start of a response turn.
type ResponseStarted struct {
	ResponseID string
	Raw        json.RawMessage
}

// TranscriptDelta carries incremental subtitle text. Source marks captions of
// the speaker's own language rather than translated output.
type TranscriptDelta struct {
	Text       string
	Source     bool
	ResponseID string
}

// SourceTranscript is the completed transcription of the speaker's input item.
type SourceTranscript struct {
	ItemID string
	Text   string
	Raw    json.RawMessage
}

// ToolUtterance is an explicit utterance record reported by the provider.
type ToolUtterance struct {
	ResponseID     string
	SourceText     string
	TranslatedText string
	Confidence     float64
	Raw            json.RawMessage
}

// TurnComplete marks the end of a response turn.
type TurnComplete struct {
	ResponseID string
}

// RuntimeError is a provider error event. It is fatal for the session.
type RuntimeError struct {
	Message string
}

// Unrecognized is any event without a mapping. It is relayed for observability.
type Unrecognized struct {
	Type string
	Raw  json.RawMessage
}

func (Ready) Kind() string            { return "ready" }
func (InputCommitted) Kind() string   { return "input_committed" }
func (ResponseStarted) Kind() string  { return "response_started" }
func (AudioDelta) Kind() string       { return "audio_delta" }
func (TranscriptDelta) Kind() string  { return "transcript_delta" }
func (SourceTranscript) Kind() string { return "source_transcript" }
func (ToolUtterance) Kind() string    { return "tool_utterance" }
func (TurnComplete) Kind() string     { return "turn_complete" }
func (RuntimeError) Kind() string     { return "error" }
func (Unrecognized) Kind() string     { return "unrecognized" }

func (Ready) isUpstreamEvent()            {}
func (InputCommitted) isUpstreamEvent()   {}
func (ResponseStarted) isUpstreamEvent()  {}
func (AudioDelta) isUpstreamEvent()       {}
func (TranscriptDelta) isUpstreamEvent()  {}
func (SourceTranscript) isUpstreamEvent() {}
func (ToolUtterance) isUpstreamEvent()    {}
func (TurnComplete) isUpstreamEvent()     {}
func (RuntimeError) isUpstreamEvent()     {}
func (Unrecognized) isUpstreamEvent()     {}
