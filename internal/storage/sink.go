package storage

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/relaychat/internal/relay"
)

// Writer is the durable side of an AsyncSink.
type Writer interface {
	Create(ctx context.Context, m relay.Message) error
}

// SinkConfig holds AsyncSink tuning.
type SinkConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// DefaultSinkConfig returns the default sink configuration.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		QueueSize:    1024,
		WriteTimeout: 5 * time.Second,
	}
}

// AsyncSink implements relay.Sink on a bounded queue drained by a single
// worker goroutine, so message delivery never waits on the database.
type AsyncSink struct {
	writer  Writer
	cfg     SinkConfig
	queue   chan relay.Message
	done    chan struct{}
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// NewAsyncSink starts the worker and returns the sink.
func NewAsyncSink(w Writer, cfg SinkConfig) *AsyncSink {
	def := DefaultSinkConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}

	s := &AsyncSink{
		writer: w,
		cfg:    cfg,
		queue:  make(chan relay.Message, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Persist queues m for writing. When the queue is full or the sink is
// closed the message is dropped and logged.
func (s *AsyncSink) Persist(m relay.Message) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		slog.Warn("message dropped, sink closed", "message", m.ID)
		return
	}
	select {
	case s.queue <- m:
	default:
		s.dropped.Add(1)
		slog.Warn("message dropped, persistence queue full", "message", m.ID, "queue_size", s.cfg.QueueSize)
	}
}

// Dropped returns how many messages were discarded because the queue was
// full.
func (s *AsyncSink) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *AsyncSink) run() {
	defer close(s.done)
	for m := range s.queue {
		s.write(m)
	}
}

func (s *AsyncSink) write(m relay.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()

	if err := s.writer.Create(ctx, m); err != nil {
		slog.Error("failed to persist message", "message", m.ID, "from", m.From, "to", m.To, "error", err)
	}
}

// Close stops accepting messages and waits for queued ones to be written
// or for ctx to end.
func (s *AsyncSink) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.queue)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		slog.Info("message sink drained")
		return nil
	case <-ctx.Done():
		slog.Warn("timed out draining message sink", "pending", len(s.queue))
		return ctx.Err()
	}
}
