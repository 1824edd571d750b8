// Package queue provides the bounded, single-consumer audio queue that sits
// between the ingest channel and the translation bridge.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"meeting-translation-relay/internal/models"
)

var (
	// ErrOverloaded is returned when the queue is at MaxDepth. The frame is dropped.
	ErrOverloaded = errors.New("audio queue overloaded")
	// ErrClosed is returned after Discard.
	ErrClosed = errors.New("audio queue closed")
	// ErrOutOfOrder is returned for a sequence number lower than the last accepted one.
	ErrOutOfOrder = errors.New("audio frame out of order")
)

// Config defines queue limits.
type Config struct {
	MaxDepth int           // 0 means unbounded
	Pause    time.Duration // pause between forwarded frames
}

// DefaultConfig returns the default queue limits.
func DefaultConfig() Config {
	return Config{
		MaxDepth: 2000,
		Pause:    10 * time.Millisecond,
	}
}

// ForwardFunc sends one frame upstream.
type ForwardFunc func(ctx context.Context, frame models.AudioFrame) error

// ReadyFunc reports whether the upstream can accept frames. It is called with
// the queue lock held and must not call back into the queue.
type ReadyFunc func() bool

// Queue is a strict FIFO with at most one drain worker at a time.
// Enqueue never blocks. Draining halts while ready reports false and
// resumes on the next Enqueue or Kick.
type Queue struct {
	cfg     Config
	forward ForwardFunc
	ready   ReadyFunc

	mu       sync.Mutex
	frames   []models.AudioFrame
	draining bool
	closed   bool
	lastSeq  int64
	seen     bool

	ctx    context.Context
	cancel context.CancelFunc
	idle   chan struct{}
}

// New creates a queue that forwards through forward whenever ready is true.
func New(cfg Config, forward ForwardFunc, ready ReadyFunc) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		cfg:     cfg,
		forward: forward,
		ready:   ready,
		ctx:     ctx,
		cancel:  cancel,
		idle:    idle,
	}
}

// Enqueue appends frame and starts a drain if none is running.
func (q *Queue) Enqueue(frame models.AudioFrame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.seen && frame.SequenceNumber < q.lastSeq {
		last := q.lastSeq
		q.mu.Unlock()
		return fmt.Errorf("%w: got %d after %d", ErrOutOfOrder, frame.SequenceNumber, last)
	}
	if q.cfg.MaxDepth > 0 && len(q.frames) >= q.cfg.MaxDepth {
		q.mu.Unlock()
		return ErrOverloaded
	}
	q.frames = append(q.frames, frame)
	q.lastSeq = frame.SequenceNumber
	q.seen = true
	q.startDrainLocked()
	q.mu.Unlock()
	return nil
}

// Kick starts a drain if frames are pending. Used when the upstream becomes ready.
func (q *Queue) Kick() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.frames) == 0 {
		return
	}
	q.startDrainLocked()
}

// Len returns the number of pending frames.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Discard drops all pending frames and closes the queue. Idempotent.
// It returns the number of frames dropped.
func (q *Queue) Discard() int {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return 0
	}
	q.closed = true
	n := len(q.frames)
	q.frames = nil
	q.mu.Unlock()

	q.cancel()
	if n > 0 {
		log.Debug().Int("dropped", n).Msg("Audio queue discarded")
	}
	return n
}

// Idle returns a channel that is closed when no drain worker is running.
// The returned channel is only valid until the next drain starts.
func (q *Queue) Idle() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

// startDrainLocked must be called with q.mu held.
func (q *Queue) startDrainLocked() {
	if q.draining {
		return
	}
	q.draining = true
	q.idle = make(chan struct{})
	go q.drain(q.idle)
}

func (q *Queue) drain(done chan struct{}) {
	defer close(done)
	for {
		q.mu.Lock()
		if q.closed || len(q.frames) == 0 || (q.ready != nil && !q.ready()) {
			q.draining = false
			q.mu.Unlock()
			return
		}
		frame := q.frames[0]
		q.frames[0] = models.AudioFrame{}
		q.frames = q.frames[1:]
		q.mu.Unlock()

		if err := q.forward(q.ctx, frame); err != nil {
			log.Warn().Err(err).Int64("sequenceNumber", frame.SequenceNumber).Msg("Failed to forward audio frame")
		}

		if q.cfg.Pause > 0 {
			select {
			case <-q.ctx.Done():
				q.mu.Lock()
				q.draining = false
				q.mu.Unlock()
				return
			case <-time.After(q.cfg.Pause):
			}
		}
	}
}
