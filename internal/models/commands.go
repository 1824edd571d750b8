package models

import (
	"encoding/json"
	"fmt"
)

// Command is a message sent by an ingest client to the relay.
// The set of commands is closed; see DecodeCommand.
type Command interface {
	CommandType() string
	isCommand()
}

// Command type tags as they appear on the wire.
const (
	CommandInitialize      = "initialize"
	CommandAudioChunk      = "audio_chunk"
	CommandTextMessage     = "text_message"
	CommandUpdateLanguages = "update_languages"
	CommandUpdateVoice     = "update_voice"
	CommandRestart         = "restart"
	CommandStop            = "stop"
)

// Initialize binds the connection to an existing session.
type Initialize struct {
	SessionID    string `json:"sessionId"`
	BotSessionID string `json:"botSessionId"`
}

// SessionRef returns the session id, accepting the legacy botSessionId name.
func (c Initialize) SessionRef() string {
	if c.SessionID != "" {
		return c.SessionID
	}
	return c.BotSessionID
}

// AudioChunk carries one base64 encoded audio frame.
type AudioChunk struct {
	AudioData      string `json:"audioData"`
	SequenceNumber int64  `json:"sequenceNumber"`
	Language       string `json:"language,omitempty"`
	DurationMs     int    `json:"durationMs,omitempty"`
}

// TextMessage is typed input that bypasses the audio pipeline.
type TextMessage struct {
	Text string `json:"text"`
}

// UpdateLanguages changes the language pair of the session.
type UpdateLanguages struct {
	SourceLanguage string `json:"sourceLanguage"`
	TargetLanguage string `json:"targetLanguage"`
}

// UpdateVoice changes the synthesis voice of the session.
type UpdateVoice struct {
	VoiceID string `json:"voiceId"`
}

// Restart reconnects the upstream for the same session.
type Restart struct{}

// Stop ends the session.
type Stop struct{}

func (Initialize) CommandType() string      { return CommandInitialize }
func (AudioChunk) CommandType() string      { return CommandAudioChunk }
func (TextMessage) CommandType() string     { return CommandTextMessage }
func (UpdateLanguages) CommandType() string { return CommandUpdateLanguages }
func (UpdateVoice) CommandType() string     { return CommandUpdateVoice }
func (Restart) CommandType() string         { return CommandRestart }
func (Stop) CommandType() string            { return CommandStop }

func (Initialize) isCommand()      {}
func (AudioChunk) isCommand()      {}
func (TextMessage) isCommand()     {}
func (UpdateLanguages) isCommand() {}
func (UpdateVoice) isCommand()     {}
func (Restart) isCommand()         {}
func (Stop) isCommand()            {}

// DecodeCommand decodes data into the concrete command named by kind.
// Callers validate data against the command schema first.
func DecodeCommand(kind string, data []byte) (Command, error) {
	var (
		cmd Command
		err error
	)
	switch kind {
	case CommandInitialize:
		var c Initialize
		err = json.Unmarshal(data, &c)
		cmd = c
	case CommandAudioChunk:
		var c AudioChunk
		err = json.Unmarshal(data, &c)
		cmd = c
	case CommandTextMessage:
		var c TextMessage
		err = json.Unmarshal(data, &c)
		cmd = c
	case CommandUpdateLanguages:
		var c UpdateLanguages
		err = json.Unmarshal(data, &c)
		cmd = c
	case CommandUpdateVoice:
		var c UpdateVoice
		err = json.Unmarshal(data, &c)
		cmd = c
	case CommandRestart:
		cmd = Restart{}
	case CommandStop:
		cmd = Stop{}
	default:
		return nil, fmt.Errorf("unknown message type %q", kind)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return cmd, nil
}
