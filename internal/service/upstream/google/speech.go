// Package google provides a captions-only upstream provider backed by
// Google Cloud Speech-to-Text streaming recognition.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/language"

	"meeting-translation-relay/internal/service/upstream"
)

// Config holds Google STT configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig returns the default configuration for telephony-grade PCM.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   8000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// recognizeStream is the part of speechpb.Speech_StreamingRecognizeClient the provider uses.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type streamOpener func(ctx context.Context) (recognizeStream, error)

// Provider opens Cloud Speech streaming recognize sessions.
type Provider struct {
	cfg    Config
	open   streamOpener
	client *speech.Client
}

// New creates a provider.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", upstream.ErrMissingCredentials, err)
	}
	p := newWithOpener(cfg, func(ctx context.Context) (recognizeStream, error) {
		return c.StreamingRecognize(ctx)
	})
	p.client = c
	return p, nil
}

func newWithOpener(cfg Config, open streamOpener) *Provider {
	return &Provider{cfg: cfg, open: open}
}

func (p *Provider) Name() string { return "google" }

// Close releases the speech client.
func (p *Provider) Close() error {
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Dial starts a recognize stream in the session's source language. The
// provider is ready as soon as the streaming config has been sent.
func (p *Provider) Dial(ctx context.Context, cfg upstream.SessionConfig) (upstream.Conn, error) {
	c := &conn{
		provider: p,
		events:   make(chan upstream.Event, 64),
		done:     make(chan struct{}),
		logger:   log.With().Str("component", "google-speech").Str("sessionId", cfg.SessionID).Logger(),
	}
	c.events <- upstream.Ready{}
	c.mu.Lock()
	err := c.startLocked(ctx, cfg)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Provider) recognitionConfig(sourceLanguage string) *speechpb.StreamingRecognitionConfig {
	return &speechpb.StreamingRecognitionConfig{
		Config: &speechpb.RecognitionConfig{
			Encoding:        parseAudioEncoding(p.cfg.AudioEncoding),
			SampleRateHertz: p.cfg.SampleRateHz,
			LanguageCode:    languageCode(sourceLanguage, p.cfg.LanguageCode),
		},
		InterimResults: p.cfg.InterimResults,
	}
}

type conn struct {
	provider *Provider
	events   chan upstream.Event
	logger   zerolog.Logger

	mu     sync.Mutex
	stream recognizeStream
	cancel context.CancelFunc
	gen    int
	closed bool

	interimMu sync.Mutex
	interim   string

	wg   sync.WaitGroup
	done chan struct{}
}

// startLocked opens a new recognize stream. Must be called with c.mu held.
func (c *conn) startLocked(ctx context.Context, cfg upstream.SessionConfig) error {
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := c.provider.open(streamCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("open recognize stream: %w", err)
	}
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: c.provider.recognitionConfig(cfg.SourceLanguage),
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("send streaming config: %w", err)
	}

	c.gen++
	c.stream = stream
	c.cancel = cancel
	c.interimMu.Lock()
	c.interim = ""
	c.interimMu.Unlock()
	c.wg.Add(1)
	go c.recvLoop(stream, c.gen)
	return nil
}

func (c *conn) Events() <-chan upstream.Event { return c.events }

func (c *conn) AppendAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// SendText is not supported by a speech recognizer.
func (c *conn) SendText(ctx context.Context, text string) error {
	return errors.New("google speech does not accept text input")
}

// UpdateSession restarts the recognize stream in the new source language.
func (c *conn) UpdateSession(ctx context.Context, cfg upstream.SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	c.stopStreamLocked()
	return c.startLocked(ctx, cfg)
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	c.stopStreamLocked()
	c.mu.Unlock()

	go func() {
		c.wg.Wait()
		close(c.events)
	}()
	return nil
}

func (c *conn) stopStreamLocked() {
	if c.stream != nil {
		_ = c.stream.CloseSend()
	}
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *conn) recvLoop(stream recognizeStream, gen int) {
	defer c.wg.Done()
	for {
		resp, err := stream.Recv()
		if err != nil {
			c.mu.Lock()
			current := gen == c.gen && !c.closed
			c.mu.Unlock()
			if current && !errors.Is(err, io.EOF) {
				c.logger.Error().Err(err).Msg("Recognize stream failed")
				c.emit(upstream.RuntimeError{Message: err.Error()})
			}
			return
		}
		for _, ev := range c.translate(resp) {
			if !c.emit(ev) {
				return
			}
		}
	}
}

// translate turns one recognize response into upstream events.
func (c *conn) translate(resp *speechpb.StreamingRecognizeResponse) []upstream.Event {
	var out []upstream.Event
	c.interimMu.Lock()
	defer c.interimMu.Unlock()
	for _, r := range resp.GetResults() {
		if len(r.GetAlternatives()) == 0 {
			continue
		}
		text := r.GetAlternatives()[0].GetTranscript()
		if r.GetIsFinal() {
			c.interim = ""
			out = append(out, upstream.SourceTranscript{Text: strings.TrimSpace(text)}, upstream.TurnComplete{})
			continue
		}
		if delta := suffixDelta(c.interim, text); delta != "" {
			out = append(out, upstream.TranscriptDelta{Text: delta, Source: true})
		}
		c.interim = text
	}
	return out
}

func (c *conn) emit(ev upstream.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// suffixDelta returns the part of next not yet covered by prev. A revised
// hypothesis that does not extend prev is returned whole.
func suffixDelta(prev, next string) string {
	if strings.HasPrefix(next, prev) {
		return next[len(prev):]
	}
	return next
}

// languageCode normalizes a session language to a BCP-47 tag, falling back to def.
func languageCode(lang, def string) string {
	if lang == "" {
		return def
	}
	tag, err := language.Parse(lang)
	if err != nil {
		return def
	}
	return tag.String()
}

func parseAudioEncoding(enc string) speechpb.RecognitionConfig_AudioEncoding {
	switch enc {
	case "LINEAR16":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}
