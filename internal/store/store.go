// Package store persists translation sessions, completed utterances and
// stored audio chunks.
package store

import (
	"context"
	"errors"

	"meeting-translation-relay/internal/models"
)

// ErrNotFound is returned when no session exists for the id.
var ErrNotFound = errors.New("session not found")

// SessionStore is the durable record of sessions. Updates are scoped to a
// single id and applied atomically by the backend.
type SessionStore interface {
	Get(ctx context.Context, id string) (*models.Session, error)
	Upsert(ctx context.Context, s *models.Session) error
	Update(ctx context.Context, id string, u models.SessionUpdate) error
}

// UtteranceStore appends completed utterances.
type UtteranceStore interface {
	InsertUtterance(ctx context.Context, u models.TranslationUtterance) error
}

// AudioChunkStore appends stored copies of forwarded audio frames.
type AudioChunkStore interface {
	InsertAudioChunk(ctx context.Context, c models.AudioChunkRecord) error
}

// Store is a backend serving sessions, utterances and audio chunks.
type Store interface {
	SessionStore
	UtteranceStore
	AudioChunkStore
	Close(ctx context.Context) error
}
