package mock

import (
	"context"
	"errors"
	"testing"

	"meeting-translation-relay/internal/service/upstream"
)

func drain(c *Conn) []upstream.Event {
	var out []upstream.Event
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestProvider_AutoReady(t *testing.T) {
	p := New(Options{AutoReady: true})
	conn, err := p.Dial(context.Background(), upstream.SessionConfig{SessionID: "s-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c := conn.(*Conn)

	evs := drain(c)
	if len(evs) != 1 {
		t.Fatalf("expected 1 event, got %d", len(evs))
	}
	if _, ok := evs[0].(upstream.Ready); !ok {
		t.Errorf("expected Ready, got %T", evs[0])
	}
	if got := <-p.Dialed(); got != c {
		t.Error("expected dialed connection to be announced")
	}
}

func TestProvider_DialErr(t *testing.T) {
	boom := errors.New("boom")
	p := New(Options{DialErr: boom})
	if _, err := p.Dial(context.Background(), upstream.SessionConfig{}); !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}

	p.SetDialErr(nil)
	if _, err := p.Dial(context.Background(), upstream.SessionConfig{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestConn_RecordsTraffic(t *testing.T) {
	p := New(Options{})
	conn, _ := p.Dial(context.Background(), upstream.SessionConfig{SessionID: "s-1"})
	c := conn.(*Conn)

	c.AppendAudio(context.Background(), []byte{1})
	c.AppendAudio(context.Background(), []byte{2})
	c.SendText(context.Background(), "hello")
	c.UpdateSession(context.Background(), upstream.SessionConfig{SourceLanguage: "en", TargetLanguage: "de"})

	frames := c.Frames()
	if len(frames) != 2 || frames[0][0] != 1 || frames[1][0] != 2 {
		t.Errorf("unexpected frames %v", frames)
	}
	if texts := c.Texts(); len(texts) != 1 || texts[0] != "hello" {
		t.Errorf("unexpected texts %v", texts)
	}
	if c.Config().TargetLanguage != "de" || len(c.Updates()) != 1 {
		t.Errorf("expected update to be recorded, got %+v", c.Updates())
	}
}

func TestConn_Simulate_OneUtterancePerTurn(t *testing.T) {
	p := New(Options{Simulate: true})
	conn, _ := p.Dial(context.Background(), upstream.SessionConfig{})
	c := conn.(*Conn)

	utt := DefaultUtterances[0]
	for i := 0; i <= len(utt.Partials); i++ {
		if err := c.AppendAudio(context.Background(), []byte("ABC")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	var text string
	var tools, turns, audio int
	for _, ev := range drain(c) {
		switch ev := ev.(type) {
		case upstream.TranscriptDelta:
			text += ev.Text
		case upstream.AudioDelta:
			audio++
			if ev.Audio != "QUJD" {
				t.Errorf("expected echoed audio QUJD, got %s", ev.Audio)
			}
		case upstream.ToolUtterance:
			tools++
			if ev.SourceText != utt.Source || ev.TranslatedText != utt.Translated {
				t.Errorf("unexpected utterance %+v", ev)
			}
		case upstream.TurnComplete:
			turns++
		}
	}
	if text != utt.Translated {
		t.Errorf("expected deltas to add up to %q, got %q", utt.Translated, text)
	}
	if tools != 1 || turns != 1 {
		t.Errorf("expected exactly one utterance and turn, got %d and %d", tools, turns)
	}
	if audio != len(utt.Partials) {
		t.Errorf("expected %d audio deltas, got %d", len(utt.Partials), audio)
	}
}

func TestConn_Simulate_TypedTurnReply(t *testing.T) {
	p := New(Options{Simulate: true})
	conn, _ := p.Dial(context.Background(), upstream.SessionConfig{TargetLanguage: "es"})
	c := conn.(*Conn)

	if err := c.SendText(context.Background(), "Good evening"); err != nil {
		t.Fatalf("send text: %v", err)
	}

	evs := drain(c)
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(evs), evs)
	}
	started, ok := evs[0].(upstream.ResponseStarted)
	if !ok || started.ResponseID == "" {
		t.Fatalf("expected ResponseStarted with an id, got %+v", evs[0])
	}
	delta, ok := evs[1].(upstream.TranscriptDelta)
	if !ok || delta.Text != TypedReply("es", "Good evening") || delta.ResponseID != started.ResponseID {
		t.Errorf("unexpected reply %+v", evs[1])
	}
	if done, ok := evs[2].(upstream.TurnComplete); !ok || done.ResponseID != started.ResponseID {
		t.Errorf("expected TurnComplete for %s, got %+v", started.ResponseID, evs[2])
	}
}

func TestConn_Simulate_IDsPairTurnEvents(t *testing.T) {
	p := New(Options{Simulate: true})
	conn, _ := p.Dial(context.Background(), upstream.SessionConfig{})
	c := conn.(*Conn)

	for i := 0; i <= len(DefaultUtterances[0].Partials); i++ {
		c.AppendAudio(context.Background(), []byte("ABC"))
	}

	var item, resp string
	for _, ev := range drain(c) {
		switch ev := ev.(type) {
		case upstream.InputCommitted:
			item = ev.ItemID
		case upstream.ResponseStarted:
			resp = ev.ResponseID
		case upstream.SourceTranscript:
			if ev.ItemID != item {
				t.Errorf("transcript item %q, want %q", ev.ItemID, item)
			}
		case upstream.TranscriptDelta:
			if ev.ResponseID != resp {
				t.Errorf("delta response %q, want %q", ev.ResponseID, resp)
			}
		case upstream.ToolUtterance:
			if ev.ResponseID != resp {
				t.Errorf("tool response %q, want %q", ev.ResponseID, resp)
			}
		case upstream.TurnComplete:
			if ev.ResponseID != resp {
				t.Errorf("turn response %q, want %q", ev.ResponseID, resp)
			}
		}
	}
	if item == "" || resp == "" {
		t.Errorf("expected item and response ids, got %q and %q", item, resp)
	}
}

func TestConn_Close_Idempotent(t *testing.T) {
	p := New(Options{AutoReady: true})
	conn, _ := p.Dial(context.Background(), upstream.SessionConfig{})
	c := conn.(*Conn)

	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error on second close: %v", err)
	}
	if !c.Closed() {
		t.Error("expected closed")
	}
	if c.Emit(upstream.TurnComplete{}) {
		t.Error("expected Emit to fail after close")
	}
	if err := c.AppendAudio(context.Background(), []byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestDefaultUtterances(t *testing.T) {
	for i, utt := range DefaultUtterances {
		if utt.Source == "" || utt.Translated == "" {
			t.Errorf("utterance %d is incomplete", i)
		}
		if utt.Confidence <= 0 || utt.Confidence > 1 {
			t.Errorf("utterance %d has invalid confidence %f", i, utt.Confidence)
		}
		for _, p := range utt.Partials {
			if len(p) > len(utt.Translated) || utt.Translated[:len(p)] != p {
				t.Errorf("utterance %d partial %q is not a prefix of %q", i, p, utt.Translated)
			}
		}
	}
}
