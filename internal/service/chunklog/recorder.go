// Package chunklog keeps a stored copy of every forwarded audio frame for
// replay and debugging.
//
// Record never blocks the queue drain: chunks are buffered and written by a
// small worker pool. Overflow and store failures are logged and counted.
package chunklog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"meeting-translation-relay/internal/models"
	"meeting-translation-relay/internal/observability/metrics"
	"meeting-translation-relay/internal/store"
)

// Config controls chunk storage.
// StorePayload keeps the raw audio bytes; otherwise only frame metadata is stored.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	StorePayload bool          `yaml:"storePayload"`
	Buffer       int           `yaml:"buffer"`
	Workers      int           `yaml:"workers"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		StorePayload: true,
		Buffer:       1024,
		Workers:      2,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder writes audio chunk records asynchronously.
type Recorder struct {
	cfg     Config
	store   store.AudioChunkStore
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time

	mu     sync.RWMutex
	closed bool
	queue  chan models.AudioChunkRecord
	wg     sync.WaitGroup
}

// New starts the worker pool.
func New(cfg Config, s store.AudioChunkStore) *Recorder {
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

	r := &Recorder{
		cfg:     cfg,
		store:   s,
		metrics: metrics.DefaultMetrics,
		logger:  log.With().Str("component", "chunklog").Logger(),
		now:     time.Now,
		queue:   make(chan models.AudioChunkRecord, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	return r
}

// Record queues a stored copy of frame with its forwarding outcome and
// reports whether it was accepted.
func (r *Recorder) Record(sessionID string, frame models.AudioFrame, status models.ChunkStatus) bool {
	rec := models.AudioChunkRecord{
		ID:               uuid.NewString(),
		SessionID:        sessionID,
		ChunkSequence:    frame.SequenceNumber,
		Language:         frame.Language,
		DurationMs:       frame.DurationMs,
		ProcessingStatus: status,
		CreatedAt:        r.now(),
	}
	if r.cfg.StorePayload {
		rec.AudioData = frame.Payload
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.metrics.RecordAudioChunkDropped("closed")
		return false
	}

	select {
	case r.queue <- rec:
		return true
	default:
		r.logger.Warn().
			Str("sessionId", sessionID).
			Int64("chunkSequence", frame.SequenceNumber).
			Msg("Audio chunk buffer full, dropping chunk")
		r.metrics.RecordAudioChunkDropped("buffer_full")
		return false
	}
}

// Close stops accepting chunks and waits for the workers to drain the
// buffer or for ctx to end.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for rec := range r.queue {
		r.write(rec)
	}
}

func (r *Recorder) write(rec models.AudioChunkRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	if err := r.store.InsertAudioChunk(ctx, rec); err != nil {
		r.logger.Error().
			Err(err).
			Str("sessionId", rec.SessionID).
			Int64("chunkSequence", rec.ChunkSequence).
			Msg("Failed to store audio chunk")
		r.metrics.RecordAudioChunkDropped("store_error")
		return
	}
	r.metrics.RecordAudioChunkStored()
}
