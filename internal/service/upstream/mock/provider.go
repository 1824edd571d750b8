// Package mock provides an in-memory upstream provider for tests and local
// runs without provider credentials. In simulate mode it plays canned
// utterances: progressive subtitle deltas, echoed audio, and exactly one
// utterance record per turn. Typed turns get a scripted reply.
package mock

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"meeting-translation-relay/internal/service/upstream"
)

// SimulatedUtterance represents a canned translated turn.
type SimulatedUtterance struct {
	Source     string   // Speaker's text
	Partials   []string // Progressive translated transcripts
	Translated string   // Final translated text
	Confidence float64
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Source:     "I want to cancel my subscription",
		Partials:   []string{"Quiero", "Quiero cancelar", "Quiero cancelar mi"},
		Translated: "Quiero cancelar mi suscripción",
		Confidence: 0.94,
	},
	{
		Source:     "Yes please go ahead",
		Partials:   []string{"Sí", "Sí por favor"},
		Translated: "Sí por favor adelante",
		Confidence: 0.97,
	},
	{
		Source:     "Can you help me with my account",
		Partials:   []string{"¿Puedes", "¿Puedes ayudarme", "¿Puedes ayudarme con"},
		Translated: "¿Puedes ayudarme con mi cuenta?",
		Confidence: 0.91,
	},
	{
		Source:     "Thank you very much",
		Partials:   []string{"Muchas"},
		Translated: "Muchas gracias",
		Confidence: 0.98,
	},
}

// ErrClosed is returned by Conn methods after Close.
var ErrClosed = errors.New("mock upstream closed")

// Options configures the mock provider.
type Options struct {
	// AutoReady emits Ready right after Dial.
	AutoReady bool
	// Simulate plays DefaultUtterances driven by appended audio.
	Simulate bool
	// DialErr makes every Dial fail.
	DialErr error
}

// Provider implements upstream.Provider in memory.
type Provider struct {
	opts Options

	mu     sync.Mutex
	conns  []*Conn
	dialed chan *Conn
}

// New creates a mock provider.
func New(opts Options) *Provider {
	return &Provider{opts: opts, dialed: make(chan *Conn, 16)}
}

func (p *Provider) Name() string { return "mock" }

// SetDialErr changes the dial outcome for subsequent dials.
func (p *Provider) SetDialErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.DialErr = err
}

func (p *Provider) Dial(ctx context.Context, cfg upstream.SessionConfig) (upstream.Conn, error) {
	p.mu.Lock()
	opts := p.opts
	p.mu.Unlock()

	if opts.DialErr != nil {
		return nil, opts.DialErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c := &Conn{
		cfg:      cfg,
		simulate: opts.Simulate,
		events:   make(chan upstream.Event, 256),
		done:     make(chan struct{}),
	}
	if opts.AutoReady {
		c.events <- upstream.Ready{}
	}

	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()

	select {
	case p.dialed <- c:
	default:
	}
	return c, nil
}

// Conns returns every connection dialed so far.
func (p *Provider) Conns() []*Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Conn{}, p.conns...)
}

// Dialed delivers connections as they are dialed.
func (p *Provider) Dialed() <-chan *Conn { return p.dialed }

// Conn is a scriptable upstream connection.
type Conn struct {
	simulate bool
	events   chan upstream.Event

	mu        sync.Mutex
	cfg       upstream.SessionConfig
	frames    [][]byte
	texts     []string
	updates   []upstream.SessionConfig
	closed    bool
	done      chan struct{}
	doneOnce  sync.Once
	utterance int
	partial   int
	responses int
	audioResp string
}

func (c *Conn) Events() <-chan upstream.Event { return c.events }

// Emit pushes ev to the consumer as if the provider had sent it.
// It returns false once the connection is closed.
func (c *Conn) Emit(ev upstream.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emitLocked(ev)
}

func (c *Conn) emitLocked(ev upstream.Event) bool {
	if c.closed {
		return false
	}
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Conn) AppendAudio(ctx context.Context, audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.frames = append(c.frames, append([]byte(nil), audio...))
	if c.simulate {
		c.simulateFrameLocked(audio)
	}
	return nil
}

// simulateFrameLocked advances the canned utterance by one frame.
func (c *Conn) simulateFrameLocked(audio []byte) {
	utt := DefaultUtterances[c.utterance%len(DefaultUtterances)]
	item := fmt.Sprintf("item_%d", c.utterance+1)
	if c.partial == 0 {
		c.audioResp = c.nextResponseLocked()
		c.emitLocked(upstream.InputCommitted{ItemID: item})
		c.emitLocked(upstream.ResponseStarted{ResponseID: c.audioResp})
	}
	resp := c.audioResp

	if c.partial < len(utt.Partials) {
		prev := ""
		if c.partial > 0 {
			prev = utt.Partials[c.partial-1]
		}
		c.emitLocked(upstream.TranscriptDelta{Text: strings.TrimPrefix(utt.Partials[c.partial], prev), ResponseID: resp})
		c.emitLocked(upstream.AudioDelta{Audio: base64.StdEncoding.EncodeToString(audio)})
		c.partial++
		return
	}
	last := ""
	if n := len(utt.Partials); n > 0 {
		last = utt.Partials[n-1]
	}
	c.emitLocked(upstream.TranscriptDelta{Text: strings.TrimPrefix(utt.Translated, last), ResponseID: resp})
	c.emitLocked(upstream.SourceTranscript{ItemID: item, Text: utt.Source})
	c.emitLocked(upstream.ToolUtterance{
		ResponseID:     resp,
		SourceText:     utt.Source,
		TranslatedText: utt.Translated,
		Confidence:     utt.Confidence,
	})
	c.emitLocked(upstream.TurnComplete{ResponseID: resp})
	c.utterance++
	c.partial = 0
}

func (c *Conn) nextResponseLocked() string {
	c.responses++
	return fmt.Sprintf("resp_%d", c.responses)
}

// TypedReply is the scripted translation of a typed turn in simulate mode.
func TypedReply(targetLanguage, text string) string {
	return fmt.Sprintf("[%s] %s", targetLanguage, text)
}

func (c *Conn) SendText(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.texts = append(c.texts, text)
	if c.simulate {
		resp := c.nextResponseLocked()
		c.emitLocked(upstream.ResponseStarted{ResponseID: resp})
		c.emitLocked(upstream.TranscriptDelta{Text: TypedReply(c.cfg.TargetLanguage, text), ResponseID: resp})
		c.emitLocked(upstream.TurnComplete{ResponseID: resp})
	}
	return nil
}

func (c *Conn) UpdateSession(ctx context.Context, cfg upstream.SessionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.cfg = cfg
	c.updates = append(c.updates, cfg)
	return nil
}

// Close ends the connection and closes the event stream. Idempotent.
func (c *Conn) Close() error {
	c.doneOnce.Do(func() { close(c.done) })
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}

// Hangup simulates the provider dropping the connection.
func (c *Conn) Hangup() { c.Close() }

// Frames returns every audio payload received, in order.
func (c *Conn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte{}, c.frames...)
}

// Texts returns every text turn received.
func (c *Conn) Texts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.texts...)
}

// Updates returns every in-place session update received.
func (c *Conn) Updates() []upstream.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]upstream.SessionConfig{}, c.updates...)
}

// Config returns the current session configuration.
func (c *Conn) Config() upstream.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
