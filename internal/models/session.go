// Package models defines the data structures shared by the relay components.
package models

import "time"

// Platform identifies the meeting platform a session was started from.
type Platform string

const (
	PlatformZoom  Platform = "zoom"
	PlatformMeet  Platform = "meet"
	PlatformTeams Platform = "teams"
)

// Valid reports whether p is one of the supported platforms.
func (p Platform) Valid() bool {
	switch p {
	case PlatformZoom, PlatformMeet, PlatformTeams:
		return true
	default:
		return false
	}
}

// Status is the lifecycle state of a translation session.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusConnecting   Status = "connecting"
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// IsTerminal returns true for disconnected and error.
func (s Status) IsTerminal() bool {
	return s == StatusDisconnected || s == StatusError
}

// Session is the durable record of one live translation relay instance.
type Session struct {
	ID                    string     `bson:"_id" json:"id"`
	Platform              Platform   `bson:"platform" json:"platform"`
	SourceLanguage        string     `bson:"source_language" json:"sourceLanguage"`
	TargetLanguage        string     `bson:"target_language" json:"targetLanguage"`
	VoiceID               string     `bson:"voice_id,omitempty" json:"voiceId,omitempty"`
	Status                Status     `bson:"status" json:"status"`
	AudioProcessingActive bool       `bson:"audio_processing_active" json:"audioProcessingActive"`
	ErrorMessage          string     `bson:"error_message,omitempty" json:"errorMessage,omitempty"`
	CustomerID            string     `bson:"customer_id,omitempty" json:"customerId,omitempty"`
	StartedAt             *time.Time `bson:"started_at,omitempty" json:"startedAt,omitempty"`
	EndedAt               *time.Time `bson:"ended_at,omitempty" json:"endedAt,omitempty"`
	CreatedAt             time.Time  `bson:"created_at" json:"createdAt"`
	UpdatedAt             time.Time  `bson:"updated_at" json:"updatedAt"`
}

// SessionUpdate is a partial update of a Session. Nil fields are left untouched.
type SessionUpdate struct {
	Status                *Status
	AudioProcessingActive *bool
	ErrorMessage          *string
	SourceLanguage        *string
	TargetLanguage        *string
	VoiceID               *string
	StartedAt             *time.Time
	EndedAt               *time.Time
	ClearEndedAt          bool
}

// Apply copies the non-nil fields of u onto s.
func (u SessionUpdate) Apply(s *Session) {
	if u.Status != nil {
		s.Status = *u.Status
	}
	if u.AudioProcessingActive != nil {
		s.AudioProcessingActive = *u.AudioProcessingActive
	}
	if u.ErrorMessage != nil {
		s.ErrorMessage = *u.ErrorMessage
	}
	if u.SourceLanguage != nil {
		s.SourceLanguage = *u.SourceLanguage
	}
	if u.TargetLanguage != nil {
		s.TargetLanguage = *u.TargetLanguage
	}
	if u.VoiceID != nil {
		s.VoiceID = *u.VoiceID
	}
	if u.StartedAt != nil {
		t := *u.StartedAt
		s.StartedAt = &t
	}
	if u.ClearEndedAt {
		s.EndedAt = nil
	}
	if u.EndedAt != nil {
		t := *u.EndedAt
		s.EndedAt = &t
	}
}

// Ptr returns a pointer to v. Used to build SessionUpdate values.
func Ptr[T any](v T) *T {
	return &v
}

// SessionStatusEvent is published on every session status transition.
type SessionStatusEvent struct {
	EventType    string `json:"eventType"`
	SessionID    string `json:"sessionId"`
	Status       Status `json:"status"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}
