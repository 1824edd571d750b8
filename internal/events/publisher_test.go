package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/observability/metrics"
)

// fakeWriter records written messages.
type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func enabledPublisher(utt, status *fakeWriter) *Publisher {
	return &Publisher{
		writerUtterance: utt,
		writerStatus:    status,
		principal:       "test-svc",
		topicUtterance:  "test.utterance",
		topicStatus:     "test.status",
		enabled:         true,
		metrics:         metrics.DefaultMetrics,
	}
}

func TestNew_DisabledMode(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{"nil config", nil},
		{"disabled", &Config{Enabled: false, Brokers: []string{"localhost:9092"}}},
		{"no brokers", &Config{Enabled: true, Brokers: []string{}}},
		{"empty brokers", &Config{Enabled: true, Brokers: nil}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.cfg)
			if p == nil {
				t.Fatal("expected non-nil publisher")
			}
			if p.enabled {
				t.Error("expected publisher to be disabled")
			}
			if p.writerUtterance != nil {
				t.Error("expected nil utterance writer when disabled")
			}
			if p.writerStatus != nil {
				t.Error("expected nil status writer when disabled")
			}
		})
	}
}

func TestNew_ConfigValues(t *testing.T) {
	p := New(&Config{
		Enabled:        false,
		Brokers:        []string{"localhost:9092"},
		TopicUtterance: "test.utterance",
		TopicStatus:    "test.status",
		Principal:      "test-principal",
	})

	if p.principal != "test-principal" {
		t.Errorf("expected principal 'test-principal', got %s", p.principal)
	}
	if p.topicUtterance != "test.utterance" {
		t.Errorf("expected topic 'test.utterance', got %s", p.topicUtterance)
	}
	if p.topicStatus != "test.status" {
		t.Errorf("expected topic 'test.status', got %s", p.topicStatus)
	}
}

func TestNew_EnabledCreatesWriters(t *testing.T) {
	p := New(&Config{
		Enabled:        true,
		Brokers:        []string{"localhost:9092"},
		TopicUtterance: "test.utterance",
		TopicStatus:    "test.status",
	})
	defer p.Close()

	if !p.enabled {
		t.Fatal("expected publisher to be enabled")
	}
	w, ok := p.writerStatus.(*kafka.Writer)
	if !ok || !w.Async {
		t.Error("expected asynchronous status writer")
	}
	if w, ok := p.writerUtterance.(*kafka.Writer); !ok || w.Topic != "test.utterance" {
		t.Error("expected utterance writer on test.utterance")
	}
}

func TestPublisher_Disabled_NoError(t *testing.T) {
	p := New(&Config{Enabled: false})

	if err := p.PublishUtterance(context.Background(), models.TranslationUtterance{SessionID: "s-1"}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
	if err := p.PublishStatus(context.Background(), models.SessionStatusEvent{SessionID: "s-1"}); err != nil {
		t.Errorf("expected no error when disabled, got %v", err)
	}
}

func TestPublisher_PublishUtterance(t *testing.T) {
	utt := &fakeWriter{}
	p := enabledPublisher(utt, &fakeWriter{})

	err := p.PublishUtterance(context.Background(), models.TranslationUtterance{
		ID:             "u-1",
		SessionID:      "s-1",
		SourceText:     "Hello",
		TranslatedText: "Hola",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(utt.msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(utt.msgs))
	}

	msg := utt.msgs[0]
	if string(msg.Key) != "s-1" {
		t.Errorf("expected key s-1, got %s", msg.Key)
	}
	if string(msg.Headers[0].Value) != EventUtteranceCompleted {
		t.Errorf("expected eventType header %s, got %s", EventUtteranceCompleted, msg.Headers[0].Value)
	}
	var body map[string]any
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if body["eventType"] != EventUtteranceCompleted || body["translatedText"] != "Hola" {
		t.Errorf("unexpected payload %v", body)
	}
}

func TestPublisher_PublishStatus(t *testing.T) {
	status := &fakeWriter{}
	p := enabledPublisher(&fakeWriter{}, status)

	err := p.PublishStatus(context.Background(), models.SessionStatusEvent{
		SessionID: "s-1",
		Status:    models.StatusActive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(status.msgs) != 1 || string(status.msgs[0].Key) != "s-1" {
		t.Fatalf("unexpected messages %+v", status.msgs)
	}
}

func TestPublisher_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := enabledPublisher(&fakeWriter{err: boom}, &fakeWriter{})

	err := p.PublishUtterance(context.Background(), models.TranslationUtterance{SessionID: "s-1"})
	if !errors.Is(err, boom) {
		t.Errorf("expected broker error, got %v", err)
	}
}

func TestPublisher_InvalidJSON(t *testing.T) {
	p := New(&Config{Enabled: false})

	err := p.publish(context.Background(), nil, "t", "e", "k", make(chan int))
	if err == nil {
		t.Error("expected error for unmarshalable event")
	}
}

func TestPublisher_Close(t *testing.T) {
	utt, status := &fakeWriter{}, &fakeWriter{}
	p := enabledPublisher(utt, status)

	if err := p.Close(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !utt.closed || !status.closed {
		t.Error("expected both writers closed")
	}

	disabled := New(&Config{Enabled: false})
	if err := disabled.Close(); err != nil {
		t.Errorf("expected no error closing disabled publisher, got %v", err)
	}
}
