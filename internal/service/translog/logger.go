// Package translog persists completed utterances off the audio path.
//
// Log never blocks: utterances are buffered and written by a small worker
// pool. A full buffer, a store failure or a publish failure is logged and
// counted, never returned to the caller.
package translog

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/observability/metrics"
	"meeting-translation-relay/internal/store"
)

// Publisher forwards persisted utterances to the analytics bus.
type Publisher interface {
	PublishUtterance(ctx context.Context, u models.TranslationUtterance) error
}

// Config controls buffering and write behavior.
type Config struct {
	Buffer       int           `yaml:"buffer"`
	Workers      int           `yaml:"workers"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Buffer:       256,
		Workers:      2,
		WriteTimeout: 5 * time.Second,
	}
}

// Logger is the translation logger.
type Logger struct {
	cfg       Config
	store     store.UtteranceStore
	publisher Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan models.TranslationUtterance
	wg     sync.WaitGroup
}

// New starts the worker pool. publisher may be nil.
func New(cfg Config, s store.UtteranceStore, publisher Publisher) *Logger {
	def := DefaultConfig()
	if cfg.Buffer <= 0 {
		cfg.Buffer = def.Buffer
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	l := &Logger{
		cfg:       cfg,
		store:     s,
		publisher: publisher,
		metrics:   metrics.DefaultMetrics,
		logger:    log.With().Str("component", "translog").Logger(),
		queue:     make(chan models.TranslationUtterance, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// Log queues u for persistence and reports whether it was accepted.
// Utterances missing either text are skipped.
func (l *Logger) Log(u models.TranslationUtterance) bool {
	if !u.Complete() {
		l.metrics.RecordUtteranceDropped("incomplete")
		return false
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		l.metrics.RecordUtteranceDropped("closed")
		return false
	}

	select {
	case l.queue <- u:
		return true
	default:
		l.logger.Warn().
			Str("sessionId", u.SessionID).
			Str("utteranceId", u.ID).
			Msg("Translation log buffer full, dropping utterance")
		l.metrics.RecordUtteranceDropped("buffer_full")
		return false
	}
}

// Close stops accepting utterances and waits for the workers to drain the
// buffer or for ctx to end.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) worker() {
	defer l.wg.Done()
	for u := range l.queue {
		l.write(u)
	}
}

func (l *Logger) write(u models.TranslationUtterance) {
	ctx, cancel := context.WithTimeout(context.Background(), l.cfg.WriteTimeout)
	defer cancel()

	logger := l.logger.With().
		Str("sessionId", u.SessionID).
		Str("utteranceId", u.ID).
		Logger()

	if err := l.store.InsertUtterance(ctx, u); err != nil {
		logger.Error().Err(err).Msg("Failed to persist utterance")
		l.metrics.RecordUtteranceDropped("store_error")
		return
	}
	l.metrics.RecordUtteranceLogged(float64(u.ProcessingTimeMs) / 1000)

	logger.Debug().
		Int64("processingTimeMs", u.ProcessingTimeMs).
		Str("modelUsed", u.ModelUsed).
		Msg("Utterance persisted")

	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishUtterance(ctx, u); err != nil {
		logger.Warn().Err(err).Msg("Failed to publish utterance event")
	}
}
