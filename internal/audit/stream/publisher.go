// Package stream mirrors committed audit entries to an external log such as
// Kafka. The trail store stays the source of truth: an entry is only
// enqueued after the wrapped store accepted it, and stream failures never
// fail the caller.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"attestra/internal/audit"
	tokenmodels "attestra/internal/tokenization/models"

	"github.com/google/uuid"
)

// Sink delivers a batch of entries downstream.
type Sink interface {
	Publish(ctx context.Context, entries []audit.Entry) error
}

// Publisher decorates an audit.TrailStore and forwards every committed entry
// to a Sink from a background goroutine.
type Publisher struct {
	audit.TrailStore

	sink          Sink
	buffer        *ringBuffer
	batchSize     int
	flushInterval time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithBufferSize bounds the number of entries held while the sink is slow.
func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		p.buffer = newRingBuffer(n)
	}
}

func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// NewPublisher starts the forwarding goroutine. Call Close to drain it.
func NewPublisher(store audit.TrailStore, sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		TrailStore:    store,
		sink:          sink,
		buffer:        newRingBuffer(0),
		batchSize:     100,
		flushInterval: 500 * time.Millisecond,
		logger:        slog.Default(),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	go p.run()
	return p
}

func (p *Publisher) Append(ctx context.Context, entry audit.Entry) (string, error) {
	entry = stamp(entry)
	id, err := p.TrailStore.Append(ctx, entry)
	if err != nil {
		return "", err
	}
	entry.ID = id
	p.enqueue(entry)
	return id, nil
}

func (p *Publisher) CreateToken(ctx context.Context, record tokenmodels.TokenRecord, entry audit.Entry) (string, error) {
	entry = stamp(entry)
	id, err := p.TrailStore.CreateToken(ctx, record, entry)
	if err != nil {
		return "", err
	}
	entry.ID = id
	p.enqueue(entry)
	return id, nil
}

func (p *Publisher) RevokeToken(ctx context.Context, tokenID, reason, revokedBy string, revokedAt time.Time, entry audit.Entry) (*tokenmodels.TokenRecord, error) {
	entry = stamp(entry)
	record, err := p.TrailStore.RevokeToken(ctx, tokenID, reason, revokedBy, revokedAt, entry)
	if err != nil {
		return record, err
	}
	p.enqueue(entry)
	return record, nil
}

// Close stops accepting background work and flushes what is buffered.
func (p *Publisher) Close(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	select {
	case <-p.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of entries not yet published.
func (p *Publisher) Pending() int {
	return p.buffer.len()
}

// Dropped returns how many entries were discarded on overflow.
func (p *Publisher) Dropped() int64 {
	return p.buffer.droppedTotal()
}

func stamp(entry audit.Entry) audit.Entry {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return entry
}

func (p *Publisher) enqueue(entry audit.Entry) {
	if p.buffer.enqueue(entry) {
		p.metrics.incDropped()
		p.logger.Warn("audit stream buffer full, dropped oldest entry",
			"entry_id", entry.ID,
			"kind", entry.Kind,
		)
	}
	p.metrics.setPending(p.buffer.len())
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) run() {
	defer close(p.stopped)
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			p.flush(true)
			return
		case <-p.wake:
			p.flush(false)
		case <-ticker.C:
			p.flush(false)
		}
	}
}

// flush publishes buffered batches. A failed batch is requeued for the next
// tick, or discarded when final.
func (p *Publisher) flush(final bool) {
	for {
		batch := p.buffer.dequeueBatch(p.batchSize)
		if len(batch) == 0 {
			p.metrics.setPending(0)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.sink.Publish(ctx, batch)
		cancel()
		if err != nil {
			p.metrics.incPublishFailure()
			p.logger.Error("audit stream publish failed",
				"error", err,
				"batch_size", len(batch),
			)
			if !final {
				for _, e := range batch {
					p.buffer.enqueue(e)
				}
				p.metrics.setPending(p.buffer.len())
			}
			return
		}
		p.metrics.addPublished(len(batch))
		p.metrics.setPending(p.buffer.len())
	}
}
