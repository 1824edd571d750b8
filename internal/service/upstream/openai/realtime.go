// Package openai implements the upstream provider for the OpenAI Realtime API.
package openai

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"meeting-translation-relay/internal/service/upstream"
)

const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2024-12-17"

	logToolName = "log_translation"

	// writeTimeout bounds a single frame write when ctx has no earlier deadline.
	writeTimeout = 10 * time.Second
)

// Handshake holds the session parameters sent with session.update.
type Handshake struct {
	Voice              string  `yaml:"voice"`
	TranscriptionModel string  `yaml:"transcriptionModel"`
	VADThreshold       float64 `yaml:"vadThreshold"`
	PrefixPaddingMs    int     `yaml:"prefixPaddingMs"`
	SilenceDurationMs  int     `yaml:"silenceDurationMs"`
	Temperature        float64 `yaml:"temperature"`
}

// DefaultHandshake returns the handshake used when nothing is configured.
func DefaultHandshake() Handshake {
	return Handshake{
		Voice:              "alloy",
		TranscriptionModel: "whisper-1",
		VADThreshold:       0.5,
		PrefixPaddingMs:    300,
		SilenceDurationMs:  1000,
		Temperature:        0.3,
	}
}

// Config holds provider configuration.
type Config struct {
	URL              string
	Model            string
	APIKey           string
	HandshakeTimeout time.Duration
	Handshake        Handshake
}

// DefaultConfig returns the provider defaults without credentials.
func DefaultConfig() Config {
	return Config{
		URL:              DefaultURL,
		Model:            DefaultModel,
		HandshakeTimeout: 10 * time.Second,
		Handshake:        DefaultHandshake(),
	}
}

// Provider dials OpenAI Realtime sessions.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
}

// New creates a provider.
func New(cfg Config) *Provider {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Provider{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

func (p *Provider) Name() string { return "openai" }

// Model returns the realtime model label.
func (p *Provider) Model() string { return p.cfg.Model }

// Dial opens the realtime socket and sends the session.update handshake.
func (p *Provider) Dial(ctx context.Context, cfg upstream.SessionConfig) (upstream.Conn, error) {
	if p.cfg.APIKey == "" {
		return nil, upstream.ErrMissingCredentials
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	ws, resp, err := p.dialer.DialContext(ctx, p.dialURL(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}

	c := &conn{
		ws:     ws,
		events: make(chan upstream.Event, 64),
		done:   make(chan struct{}),
		logger: log.With().Str("component", "openai").Str("sessionId", cfg.SessionID).Logger(),
	}
	if err := c.writeJSON(ctx, sessionUpdate(p.cfg.Handshake, cfg, true)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send handshake: %w", err)
	}
	go c.readLoop()

	c.logger.Info().
		Str("source", cfg.SourceLanguage).
		Str("target", cfg.TargetLanguage).
		Msg("Realtime session handshake sent")
	return c, nil
}

func (p *Provider) dialURL() string {
	if strings.Contains(p.cfg.URL, "model=") {
		return p.cfg.URL
	}
	sep := "?"
	if strings.Contains(p.cfg.URL, "?") {
		sep = "&"
	}
	return p.cfg.URL + sep + "model=" + p.cfg.Model
}

type conn struct {
	ws     *websocket.Conn
	events chan upstream.Event
	logger zerolog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	done      chan struct{}
}

func (c *conn) Events() <-chan upstream.Event { return c.events }

func (c *conn) AppendAudio(ctx context.Context, audio []byte) error {
	return c.writeJSON(ctx, map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
}

func (c *conn) SendText(ctx context.Context, text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := c.writeJSON(ctx, item); err != nil {
		return err
	}
	return c.writeJSON(ctx, map[string]any{"type": "response.create"})
}

func (c *conn) UpdateSession(ctx context.Context, cfg upstream.SessionConfig) error {
	return c.writeJSON(ctx, sessionUpdate(Handshake{}, cfg, false))
}

// Close never waits behind a pending write. The close frame is only sent
// when no write is in flight; closing the socket fails a stalled writer.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		if c.writeMu.TryLock() {
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
		}
		err = c.ws.Close()
	})
	return err
}

func (c *conn) writeJSON(ctx context.Context, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.NetConn().SetWriteDeadline(time.Now())
	})
	defer stop()
	return c.ws.WriteJSON(v)
}

func (c *conn) readLoop() {
	defer close(c.events)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					c.logger.Warn().Err(err).Msg("Realtime socket closed unexpectedly")
				} else {
					c.logger.Info().Err(err).Msg("Realtime socket closed")
				}
			}
			return
		}

		ev, err := parseEvent(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Dropping unparseable realtime event")
			continue
		}
		select {
		case c.events <- ev:
		case <-c.done:
			return
		}
	}
}
