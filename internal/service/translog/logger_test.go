package translog

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/store"
)

type fakePublisher struct {
	mu   sync.Mutex
	got  []models.TranslationUtterance
	fail error
}

func (p *fakePublisher) PublishUtterance(ctx context.Context, u models.TranslationUtterance) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, u)
	return p.fail
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

// failingStore fails every insert.
type failingStore struct{}

func (failingStore) InsertUtterance(ctx context.Context, u models.TranslationUtterance) error {
	return errors.New("write conflict")
}

// blockingStore holds every insert until release is closed.
type blockingStore struct {
	release chan struct{}
}

func (s blockingStore) InsertUtterance(ctx context.Context, u models.TranslationUtterance) error {
	<-s.release
	return nil
}

func utterance(id string) models.TranslationUtterance {
	return models.TranslationUtterance{
		ID:             id,
		SessionID:      "s-1",
		SourceText:     "Good morning",
		TranslatedText: "Buenos días",
	}
}

func TestLogger_PersistsAndPublishes(t *testing.T) {
	mem := store.NewMemory()
	pub := &fakePublisher{}
	l := New(Config{Buffer: 4, Workers: 1}, mem, pub)

	if !l.Log(utterance("u-1")) {
		t.Fatal("expected utterance to be accepted")
	}
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := mem.Utterances()
	if len(got) != 1 || got[0].ID != "u-1" {
		t.Fatalf("expected persisted utterance u-1, got %+v", got)
	}
	if pub.count() != 1 {
		t.Errorf("expected 1 published utterance, got %d", pub.count())
	}
}

func TestLogger_SkipsIncomplete(t *testing.T) {
	mem := store.NewMemory()
	l := New(Config{}, mem, nil)

	tests := []struct {
		name string
		u    models.TranslationUtterance
	}{
		{"empty", models.TranslationUtterance{}},
		{"no source", models.TranslationUtterance{TranslatedText: "Hola"}},
		{"no translation", models.TranslationUtterance{SourceText: "Hello"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if l.Log(tt.u) {
				t.Error("expected incomplete utterance to be rejected")
			}
		})
	}

	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := len(mem.Utterances()); n != 0 {
		t.Errorf("expected nothing persisted, got %d", n)
	}
}

func TestLogger_StoreFailureIsSwallowed(t *testing.T) {
	pub := &fakePublisher{}
	l := New(Config{Workers: 1}, failingStore{}, pub)

	if !l.Log(utterance("u-1")) {
		t.Fatal("expected utterance to be accepted")
	}
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pub.count() != 0 {
		t.Error("expected no publish after a failed insert")
	}
}

func TestLogger_PublishFailureIsSwallowed(t *testing.T) {
	mem := store.NewMemory()
	l := New(Config{Workers: 1}, mem, &fakePublisher{fail: errors.New("broker down")})

	l.Log(utterance("u-1"))
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(mem.Utterances()) != 1 {
		t.Error("expected utterance persisted despite publish failure")
	}
}

func TestLogger_FullBufferDrops(t *testing.T) {
	s := blockingStore{release: make(chan struct{})}
	l := New(Config{Buffer: 1, Workers: 1}, s, nil)

	// First is picked up by the worker and blocks, second fills the buffer.
	accepted := 0
	for i := 0; i < 10; i++ {
		if l.Log(utterance("u")) {
			accepted++
		}
	}
	if accepted > 2 {
		t.Errorf("expected at most 2 accepted utterances, got %d", accepted)
	}

	close(s.release)
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestLogger_LogAfterClose(t *testing.T) {
	l := New(Config{}, store.NewMemory(), nil)
	if err := l.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if l.Log(utterance("u-1")) {
		t.Error("expected Log after Close to be rejected")
	}
	// Second close is a no-op.
	if err := l.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestLogger_CloseHonorsContext(t *testing.T) {
	s := blockingStore{release: make(chan struct{})}
	defer close(s.release)
	l := New(Config{Workers: 1}, s, nil)
	l.Log(utterance("u-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
