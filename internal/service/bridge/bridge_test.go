package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/service/upstream"
	"meeting-translation-relay/internal/service/upstream/mock"
)

type recorder struct {
	mu         sync.Mutex
	events     []models.Event
	ready      int
	errs       []string
	closed     int
	utterances []models.TranslationUtterance
}

func (r *recorder) emit(ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) OnUpstreamReady(*Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready++
}

func (r *recorder) OnUpstreamError(b *Bridge, msg string) {
	r.mu.Lock()
	r.errs = append(r.errs, msg)
	r.mu.Unlock()
	b.Close()
}

func (r *recorder) OnUpstreamClosed(*Bridge) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed++
}

func (r *recorder) Log(u models.TranslationUtterance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.utterances = append(r.utterances, u)
	return true
}

func (r *recorder) snapshot() ([]models.Event, []models.TranslationUtterance) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Event{}, r.events...), append([]models.TranslationUtterance{}, r.utterances...)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func openBridge(t *testing.T, opts mock.Options) (*Bridge, *mock.Conn, *recorder) {
	t.Helper()
	rec := &recorder{}
	p := mock.New(opts)
	b, err := Open(context.Background(), p, upstream.SessionConfig{
		SessionID:      "s-1",
		SourceLanguage: "en",
		TargetLanguage: "es",
	}, Deps{Emit: rec.emit, Hooks: rec, Sink: rec, Model: "mock"})
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b, p.Conns()[0], rec
}

func TestOpen_DialFailureIsUpstreamUnavailable(t *testing.T) {
	p := mock.New(mock.Options{DialErr: errors.New("no route")})
	_, err := Open(context.Background(), p, upstream.SessionConfig{}, Deps{})
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "no route")
}

func TestBridge_ReadyRelaysAIConnected(t *testing.T) {
	b, conn, rec := openBridge(t, mock.Options{})

	assert.False(t, b.Ready())
	assert.ErrorIs(t, b.ForwardFrame(context.Background(), models.AudioFrame{Payload: []byte{1}}), ErrNotOpen)

	conn.Emit(upstream.Ready{})
	eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return rec.ready == 1
	})
	assert.True(t, b.Ready())

	events, _ := rec.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAIConnected, events[0].EventType())

	require.NoError(t, b.ForwardFrame(context.Background(), models.AudioFrame{Payload: []byte{1}}))
	assert.Len(t, conn.Frames(), 1)
}

func TestBridge_AudioDeltaIsVerbatim(t *testing.T) {
	_, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	conn.Emit(upstream.AudioDelta{Audio: "QUJD"})
	eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) == 2
	})

	events, _ := rec.snapshot()
	assert.Equal(t, models.TranslatedAudioDelta{Audio: "QUJD"}, events[1])
}

func TestBridge_RuntimeErrorRelaysAndNotifies(t *testing.T) {
	b, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	conn.Emit(upstream.RuntimeError{Message: "rate limited"})
	<-b.Done()

	events, _ := rec.snapshot()
	assert.Equal(t, models.TranslationError{Error: "rate limited"}, events[len(events)-1])
	assert.Equal(t, []string{"rate limited"}, rec.errs)
	assert.Equal(t, 0, rec.closed, "a close requested by the hook is not unexpected")
}

func TestBridge_UnexpectedHangupNotifies(t *testing.T) {
	b, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	conn.Hangup()
	<-b.Done()
	assert.Equal(t, 1, rec.closed)
}

func TestBridge_CloseIsIdempotent(t *testing.T) {
	b, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	<-b.Done()

	assert.True(t, conn.Closed())
	assert.False(t, b.Ready())
	assert.Equal(t, 0, rec.closed)
	assert.ErrorIs(t, b.UpdateConfiguration(context.Background(), "en", "de"), ErrNotOpen)
}

func TestBridge_UpdateConfigurationInPlace(t *testing.T) {
	b, conn, _ := openBridge(t, mock.Options{AutoReady: true})

	require.NoError(t, b.UpdateConfiguration(context.Background(), "en", "fr"))
	require.NoError(t, b.UpdateVoice(context.Background(), "verse"))

	updates := conn.Updates()
	require.Len(t, updates, 2)
	assert.Equal(t, "fr", updates[0].TargetLanguage)
	assert.Equal(t, "verse", updates[1].VoiceID)
	assert.Equal(t, "fr", b.Config().TargetLanguage)
	assert.False(t, conn.Closed())
}

func TestBridge_TurnCompleteLogsAccumulatedUtterance(t *testing.T) {
	b, conn, rec := openBridge(t, mock.Options{AutoReady: true})
	eventually(t, b.Ready)

	conn.Emit(upstream.SourceTranscript{Text: "Hello everyone"})
	conn.Emit(upstream.TranscriptDelta{Text: "Hola "})
	conn.Emit(upstream.TranscriptDelta{Text: "a todos"})
	conn.Emit(upstream.TurnComplete{})

	eventually(t, func() bool {
		_, utts := rec.snapshot()
		return len(utts) == 1
	})
	_, utts := rec.snapshot()
	u := utts[0]
	assert.Equal(t, "s-1", u.SessionID)
	assert.Equal(t, "Hello everyone", u.SourceText)
	assert.Equal(t, "Hola a todos", u.TranslatedText)
	assert.Equal(t, "en", u.SourceLanguage)
	assert.Equal(t, "es", u.TargetLanguage)
	assert.InDelta(t, DefaultConfidence, u.ConfidenceScore, 1e-9)
	assert.Equal(t, "mock", u.ModelUsed)
	assert.NotEmpty(t, u.ID)

	events, _ := rec.snapshot()
	kinds := make([]string, 0, len(events))
	for _, ev := range events {
		kinds = append(kinds, ev.EventType())
	}
	assert.Equal(t, []string{
		models.EventAIConnected,
		models.EventAIEvent,
		models.EventTranscriptDelta,
		models.EventTranscriptDelta,
		models.EventTranslationComplete,
	}, kinds)
}

func TestBridge_ToolUtteranceTakesPrecedence(t *testing.T) {
	_, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	conn.Emit(upstream.TranscriptDelta{Text: "Hola"})
	conn.Emit(upstream.ToolUtterance{SourceText: "Hi", TranslatedText: "Hola", Confidence: 0.8})
	conn.Emit(upstream.TurnComplete{})

	eventually(t, func() bool {
		_, utts := rec.snapshot()
		return len(utts) == 1
	})
	_, utts := rec.snapshot()
	assert.Equal(t, "Hi", utts[0].SourceText)
	assert.InDelta(t, 0.8, utts[0].ConfidenceScore, 1e-9)
}

func TestBridge_IncompleteTurnIsNotLogged(t *testing.T) {
	_, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	conn.Emit(upstream.SourceTranscript{Text: ""})
	conn.Emit(upstream.TurnComplete{})
	conn.Emit(upstream.TranscriptDelta{Text: "caption", Source: true})
	conn.Emit(upstream.TurnComplete{})
	conn.Emit(upstream.AudioDelta{Audio: "QUJD"})

	eventually(t, func() bool {
		events, _ := rec.snapshot()
		return len(events) == 6
	})
	_, utts := rec.snapshot()
	assert.Empty(t, utts)
}

func (r *recorder) waitUtterances(t *testing.T, n int) []models.TranslationUtterance {
	t.Helper()
	eventually(t, func() bool {
		_, utts := r.snapshot()
		return len(utts) >= n
	})
	_, utts := r.snapshot()
	return utts
}

// settle waits until every event emitted so far has been dispatched.
func settle(t *testing.T, conn *mock.Conn, rec *recorder) {
	t.Helper()
	events, _ := rec.snapshot()
	conn.Emit(upstream.AudioDelta{Audio: "c3luYw=="})
	eventually(t, func() bool {
		evs, _ := rec.snapshot()
		return len(evs) > len(events) && evs[len(evs)-1] == models.TranslatedAudioDelta{Audio: "c3luYw=="}
	})
}

func TestBridge_LateSourceTranscriptCompletesHeldTurn(t *testing.T) {
	_, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	conn.Emit(upstream.InputCommitted{ItemID: "item_1"})
	conn.Emit(upstream.TranscriptDelta{Text: "Hola", ResponseID: "resp_1"})
	conn.Emit(upstream.TurnComplete{ResponseID: "resp_1"})
	conn.Emit(upstream.SourceTranscript{ItemID: "item_1", Text: "Hello"})

	utts := rec.waitUtterances(t, 1)
	assert.Equal(t, "Hello", utts[0].SourceText)
	assert.Equal(t, "Hola", utts[0].TranslatedText)
}

func TestBridge_HeldTurnIgnoresOtherInputTranscript(t *testing.T) {
	_, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	conn.Emit(upstream.InputCommitted{ItemID: "item_1"})
	conn.Emit(upstream.ResponseStarted{ResponseID: "resp_1"})
	conn.Emit(upstream.TranscriptDelta{Text: "Hola", ResponseID: "resp_1"})
	conn.Emit(upstream.TurnComplete{ResponseID: "resp_1"})

	conn.Emit(upstream.InputCommitted{ItemID: "item_2"})
	conn.Emit(upstream.SourceTranscript{ItemID: "item_2", Text: "Goodbye"})
	conn.Emit(upstream.ResponseStarted{ResponseID: "resp_2"})
	conn.Emit(upstream.TranscriptDelta{Text: "Adiós", ResponseID: "resp_2"})
	conn.Emit(upstream.TurnComplete{ResponseID: "resp_2"})
	conn.Emit(upstream.SourceTranscript{ItemID: "item_1", Text: "Hello"})

	utts := rec.waitUtterances(t, 2)
	settle(t, conn, rec)
	_, utts = rec.snapshot()
	require.Len(t, utts, 2)
	assert.Equal(t, "Goodbye", utts[0].SourceText)
	assert.Equal(t, "Adiós", utts[0].TranslatedText)
	assert.Equal(t, "Hello", utts[1].SourceText)
	assert.Equal(t, "Hola", utts[1].TranslatedText)
}

func TestBridge_TypedTurnThenSpokenTurn(t *testing.T) {
	tests := []struct {
		name  string
		typed []upstream.Event
		spoke []upstream.Event
	}{
		{
			name: "with ids and late transcription",
			typed: []upstream.Event{
				upstream.ResponseStarted{ResponseID: "resp_1"},
				upstream.TranscriptDelta{Text: "Buenas noches", ResponseID: "resp_1"},
				upstream.TurnComplete{ResponseID: "resp_1"},
			},
			spoke: []upstream.Event{
				upstream.InputCommitted{ItemID: "item_2"},
				upstream.ResponseStarted{ResponseID: "resp_2"},
				upstream.TranscriptDelta{Text: "Buenos días", ResponseID: "resp_2"},
				upstream.TurnComplete{ResponseID: "resp_2"},
				upstream.SourceTranscript{ItemID: "item_2", Text: "Good morning"},
			},
		},
		{
			name: "without ids",
			typed: []upstream.Event{
				upstream.TranscriptDelta{Text: "Buenas noches"},
				upstream.TurnComplete{},
			},
			spoke: []upstream.Event{
				upstream.SourceTranscript{Text: "Good morning"},
				upstream.TranscriptDelta{Text: "Buenos días"},
				upstream.TurnComplete{},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, conn, rec := openBridge(t, mock.Options{AutoReady: true})
			eventually(t, b.Ready)

			require.NoError(t, b.SendText(context.Background(), "Good evening"))
			for _, ev := range tt.typed {
				conn.Emit(ev)
			}
			for _, ev := range tt.spoke {
				conn.Emit(ev)
			}

			rec.waitUtterances(t, 2)
			settle(t, conn, rec)
			_, utts := rec.snapshot()
			require.Len(t, utts, 2)
			assert.Equal(t, "Good evening", utts[0].SourceText)
			assert.Equal(t, "Buenas noches", utts[0].TranslatedText)
			assert.Equal(t, "Good morning", utts[1].SourceText)
			assert.Equal(t, "Buenos días", utts[1].TranslatedText)
		})
	}
}

func TestBridge_ToolRecordAfterTurnComplete(t *testing.T) {
	tests := []struct {
		name   string
		events []upstream.Event
		want   [][2]string
	}{
		{
			name: "transcripts logged first",
			events: []upstream.Event{
				upstream.InputCommitted{ItemID: "item_1"},
				upstream.SourceTranscript{ItemID: "item_1", Text: "Hello"},
				upstream.TranscriptDelta{Text: "Hola", ResponseID: "resp_1"},
				upstream.TurnComplete{ResponseID: "resp_1"},
				upstream.ToolUtterance{ResponseID: "resp_1", SourceText: "Hello", TranslatedText: "Hola"},
				upstream.InputCommitted{ItemID: "item_2"},
				upstream.SourceTranscript{ItemID: "item_2", Text: "Goodbye"},
				upstream.TranscriptDelta{Text: "Adiós", ResponseID: "resp_2"},
				upstream.TurnComplete{ResponseID: "resp_2"},
			},
			want: [][2]string{{"Hello", "Hola"}, {"Goodbye", "Adiós"}},
		},
		{
			name: "without ids",
			events: []upstream.Event{
				upstream.SourceTranscript{Text: "Hello"},
				upstream.TranscriptDelta{Text: "Hola"},
				upstream.TurnComplete{},
				upstream.ToolUtterance{SourceText: "Hello", TranslatedText: "Hola"},
				upstream.SourceTranscript{Text: "Goodbye"},
				upstream.TranscriptDelta{Text: "Adiós"},
				upstream.TurnComplete{},
			},
			want: [][2]string{{"Hello", "Hola"}, {"Goodbye", "Adiós"}},
		},
		{
			name: "tool completes a held turn",
			events: []upstream.Event{
				upstream.InputCommitted{ItemID: "item_1"},
				upstream.TranscriptDelta{Text: "Hola", ResponseID: "resp_1"},
				upstream.TurnComplete{ResponseID: "resp_1"},
				upstream.ToolUtterance{ResponseID: "resp_1", SourceText: "Hello", TranslatedText: "Hola", Confidence: 0.7},
				upstream.SourceTranscript{ItemID: "item_1", Text: "Hello"},
				upstream.InputCommitted{ItemID: "item_2"},
				upstream.SourceTranscript{ItemID: "item_2", Text: "Goodbye"},
				upstream.TranscriptDelta{Text: "Adiós", ResponseID: "resp_2"},
				upstream.TurnComplete{ResponseID: "resp_2"},
			},
			want: [][2]string{{"Hello", "Hola"}, {"Goodbye", "Adiós"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, conn, rec := openBridge(t, mock.Options{AutoReady: true})
			for _, ev := range tt.events {
				conn.Emit(ev)
			}

			rec.waitUtterances(t, len(tt.want))
			settle(t, conn, rec)
			_, utts := rec.snapshot()
			require.Len(t, utts, len(tt.want))
			for i, w := range tt.want {
				assert.Equal(t, w[0], utts[i].SourceText, "utterance %d", i)
				assert.Equal(t, w[1], utts[i].TranslatedText, "utterance %d", i)
			}
		})
	}
}

func TestBridge_ToolRecordLogsImmediately(t *testing.T) {
	_, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	conn.Emit(upstream.ToolUtterance{ResponseID: "resp_9", SourceText: "Hi", TranslatedText: "Hola", Confidence: 0.6})

	utts := rec.waitUtterances(t, 1)
	assert.Equal(t, "Hi", utts[0].SourceText)
	assert.InDelta(t, 0.6, utts[0].ConfidenceScore, 1e-9)
}

func TestBridge_SimulatedTypedTurn(t *testing.T) {
	b, _, rec := openBridge(t, mock.Options{AutoReady: true, Simulate: true})
	eventually(t, b.Ready)

	require.NoError(t, b.SendText(context.Background(), "Good evening"))

	utts := rec.waitUtterances(t, 1)
	assert.Equal(t, "Good evening", utts[0].SourceText)
	assert.Equal(t, mock.TypedReply("es", "Good evening"), utts[0].TranslatedText)
}

func TestBridge_UtteranceUsesLanguageSnapshot(t *testing.T) {
	b, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	require.NoError(t, b.UpdateConfiguration(context.Background(), "en", "fr"))
	conn.Emit(upstream.SourceTranscript{Text: "Hi"})
	conn.Emit(upstream.TranscriptDelta{Text: "Salut"})
	conn.Emit(upstream.TurnComplete{})

	utts := rec.waitUtterances(t, 1)
	assert.Equal(t, "en", utts[0].SourceLanguage)
	assert.Equal(t, "fr", utts[0].TargetLanguage)
}

func TestBridge_UntranslatedTurnDoesNotCarryOver(t *testing.T) {
	_, conn, rec := openBridge(t, mock.Options{AutoReady: true})

	conn.Emit(upstream.SourceTranscript{Text: "caption only"})
	conn.Emit(upstream.TurnComplete{})
	conn.Emit(upstream.SourceTranscript{Text: "Hello"})
	conn.Emit(upstream.TranscriptDelta{Text: "Hola"})
	conn.Emit(upstream.TurnComplete{})

	utts := rec.waitUtterances(t, 1)
	assert.Equal(t, "Hello", utts[0].SourceText)
}
