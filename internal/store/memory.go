package store

import (
	"context"
	"sync"
	"time"

	"meeting-translation-relay/internal/models"
)

// Memory is an in-process Store. It keeps every update applied per session so
// callers can inspect the write history.
type Memory struct {
	mu         sync.Mutex
	sessions   map[string]models.Session
	updates    map[string][]models.SessionUpdate
	utterances []models.TranslationUtterance
	chunks     []models.AudioChunkRecord
	now        func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]models.Session),
		updates:  make(map[string][]models.SessionUpdate),
		now:      time.Now,
	}
}

func (m *Memory) Get(ctx context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *Memory) Upsert(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	now := m.now()
	if existing, ok := m.sessions[s.ID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	m.sessions[s.ID] = cp
	return nil
}

func (m *Memory) Update(ctx context.Context, id string, u models.SessionUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return ErrNotFound
	}
	u.Apply(&s)
	s.UpdatedAt = m.now()
	m.sessions[id] = s
	m.updates[id] = append(m.updates[id], u)
	return nil
}

func (m *Memory) InsertUtterance(ctx context.Context, u models.TranslationUtterance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utterances = append(m.utterances, u)
	return nil
}

func (m *Memory) InsertAudioChunk(ctx context.Context, c models.AudioChunkRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks = append(m.chunks, c)
	return nil
}

func (m *Memory) Close(ctx context.Context) error { return nil }

// Updates returns the updates applied to id, oldest first.
func (m *Memory) Updates(id string) []models.SessionUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.SessionUpdate{}, m.updates[id]...)
}

// Utterances returns every inserted utterance.
func (m *Memory) Utterances() []models.TranslationUtterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TranslationUtterance{}, m.utterances...)
}

// AudioChunks returns every stored audio chunk.
func (m *Memory) AudioChunks() []models.AudioChunkRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AudioChunkRecord{}, m.chunks...)
}
