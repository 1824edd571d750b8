package models

import (
	"encoding/json"
	"strconv"
)

// Event is a message sent by the relay to an ingest client.
// Every event marshals as a tagged object {"type": ..., ...}.
type Event interface {
	EventType() string
	isEvent()
}

// Event type tags as they appear on the wire.
const (
	EventConnected            = "connected"
	EventInitialized          = "initialized"
	EventAIConnected          = "ai_connected"
	EventTranslatedAudioDelta = "translated_audio_delta"
	EventTranscriptDelta      = "transcript_delta"
	EventTranslationComplete  = "translation_complete"
	EventTranslationError     = "translation_error"
	EventLanguagesUpdated     = "languages_updated"
	EventVoiceUpdated         = "voice_updated"
	EventSessionStopped       = "session_stopped"
	EventError                = "error"
	EventAIEvent              = "ai_event"
)

// Error codes carried by the error event.
const (
	CodeInvalidMessage       = "invalid_message"
	CodeSessionNotFound      = "session_not_found"
	CodeNotInitialized       = "not_initialized"
	CodeAlreadyInitialized   = "already_initialized"
	CodeQuotaExceeded        = "quota_exceeded"
	CodeSessionBusy          = "session_busy"
	CodeOverloaded           = "overloaded"
	CodeOutOfOrder           = "out_of_order"
	CodeSessionNotRunning    = "session_not_running"
	CodeUpstreamNotConnected = "upstream_not_connected"
	CodeInternal             = "internal"
)

type Connected struct {
	Message string `json:"message,omitempty"`
}

type Initialized struct {
	SessionID string `json:"sessionId"`
	Status    Status `json:"status"`
}

type AIConnected struct {
	Message string `json:"message,omitempty"`
}

type TranslatedAudioDelta struct {
	Audio string `json:"audio"`
}

type TranscriptDelta struct {
	Text string `json:"text"`
}

type TranslationComplete struct{}

type TranslationError struct {
	Error string `json:"error"`
}

type LanguagesUpdated struct {
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

type VoiceUpdated struct {
	VoiceID string `json:"voiceId"`
}

type SessionStopped struct {
	Message string `json:"message"`
}

// Error reports a local fault or malformed input. It never closes the connection.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// AIEvent relays an upstream event the relay has no mapping for.
type AIEvent struct {
	Event json.RawMessage `json:"event"`
}

func (Connected) EventType() string            { return EventConnected }
func (Initialized) EventType() string          { return EventInitialized }
func (AIConnected) EventType() string          { return EventAIConnected }
func (TranslatedAudioDelta) EventType() string { return EventTranslatedAudioDelta }
func (TranscriptDelta) EventType() string      { return EventTranscriptDelta }
func (TranslationComplete) EventType() string  { return EventTranslationComplete }
func (TranslationError) EventType() string     { return EventTranslationError }
func (LanguagesUpdated) EventType() string     { return EventLanguagesUpdated }
func (VoiceUpdated) EventType() string         { return EventVoiceUpdated }
func (SessionStopped) EventType() string       { return EventSessionStopped }
func (Error) EventType() string                { return EventError }
func (AIEvent) EventType() string              { return EventAIEvent }

func (Connected) isEvent()            {}
func (Initialized) isEvent()          {}
func (AIConnected) isEvent()          {}
func (TranslatedAudioDelta) isEvent() {}
func (TranscriptDelta) isEvent()      {}
func (TranslationComplete) isEvent()  {}
func (TranslationError) isEvent()     {}
func (LanguagesUpdated) isEvent()     {}
func (VoiceUpdated) isEvent()         {}
func (SessionStopped) isEvent()       {}
func (Error) isEvent()                {}
func (AIEvent) isEvent()              {}

func (e Connected) MarshalJSON() ([]byte, error) {
	type plain Connected
	return marshalTagged(e.EventType(), plain(e))
}

func (e Initialized) MarshalJSON() ([]byte, error) {
	type plain Initialized
	return marshalTagged(e.EventType(), plain(e))
}

func (e AIConnected) MarshalJSON() ([]byte, error) {
	type plain AIConnected
	return marshalTagged(e.EventType(), plain(e))
}

func (e TranslatedAudioDelta) MarshalJSON() ([]byte, error) {
	type plain TranslatedAudioDelta
	return marshalTagged(e.EventType(), plain(e))
}

func (e TranscriptDelta) MarshalJSON() ([]byte, error) {
	type plain TranscriptDelta
	return marshalTagged(e.EventType(), plain(e))
}

func (e TranslationComplete) MarshalJSON() ([]byte, error) {
	type plain TranslationComplete
	return marshalTagged(e.EventType(), plain(e))
}

func (e TranslationError) MarshalJSON() ([]byte, error) {
	type plain TranslationError
	return marshalTagged(e.EventType(), plain(e))
}

func (e LanguagesUpdated) MarshalJSON() ([]byte, error) {
	type plain LanguagesUpdated
	return marshalTagged(e.EventType(), plain(e))
}

func (e VoiceUpdated) MarshalJSON() ([]byte, error) {
	type plain VoiceUpdated
	return marshalTagged(e.EventType(), plain(e))
}

func (e SessionStopped) MarshalJSON() ([]byte, error) {
	type plain SessionStopped
	return marshalTagged(e.EventType(), plain(e))
}

func (e Error) MarshalJSON() ([]byte, error) {
	type plain Error
	return marshalTagged(e.EventType(), plain(e))
}

func (e AIEvent) MarshalJSON() ([]byte, error) {
	type plain AIEvent
	if len(e.Event) == 0 {
		e.Event = json.RawMessage("null")
	}
	return marshalTagged(e.EventType(), plain(e))
}

// EncodeEvent returns the wire form of ev.
func EncodeEvent(ev Event) ([]byte, error) {
	return json.Marshal(ev)
}

// marshalTagged marshals v and prepends the "type" member.
func marshalTagged(kind string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+len(kind)+12)
	out = append(out, `{"type":`...)
	out = strconv.AppendQuote(out, kind)
	if len(body) <= 2 {
		return append(out, '}'), nil
	}
	out = append(out, ',')
	return append(out, body[1:]...), nil
}
