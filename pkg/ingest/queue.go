// Package ingest decouples client latency from log-write latency: a
// bounded in-memory queue plus a single background batch worker that
// funnels client requests into the Event Log.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/caindex/pkg/eventlog"
	"github.com/cuemby/caindex/pkg/notify"
	"github.com/cuemby/caindex/pkg/types"
)

// item is one queued mutation, tagged with a correlation ID so a caller
// can trace it from POST /events/append through to the batch it lands in.
type item struct {
	eventlog.BatchItem
	correlationID string
	enqueuedAt    time.Time
}

// Queue is the bounded in-memory ingest buffer plus its batch worker.
type Queue struct {
	chain  *eventlog.Chain
	notify *notify.Broker
	log    zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	grace        time.Duration

	items     chan item
	shutdown  chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// Config parameterizes a Queue.
type Config struct {
	Capacity     int
	BatchSize    int
	BatchTimeout time.Duration
	ShutdownGrace time.Duration
}

// New builds a Queue. Call Start to begin draining it.
func New(chain *eventlog.Chain, broker *notify.Broker, log zerolog.Logger, cfg Config) *Queue {
	return &Queue{
		chain:        chain,
		notify:       broker,
		log:          log,
		batchSize:    cfg.BatchSize,
		batchTimeout: cfg.BatchTimeout,
		grace:        cfg.ShutdownGrace,
		items:        make(chan item, cfg.Capacity),
		shutdown:     make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// EnqueueResult is returned to the client immediately on a successful
// enqueue, before the event has been durably stored.
type EnqueueResult struct {
	Queued        bool
	CorrelationID string
}

// Enqueue submits a mutation for batched append and returns immediately.
// It does not block: a full queue is reported as an error rather than
// stalling the caller.
func (q *Queue) Enqueue(typ types.EventType, pi types.PI, ver int, tipCID types.CID) (EnqueueResult, error) {
	id := uuid.NewString()
	it := item{
		BatchItem:     eventlog.BatchItem{Type: typ, PI: pi, Ver: ver, TipCID: tipCID},
		correlationID: id,
		enqueuedAt:    time.Now(),
	}

	select {
	case q.items <- it:
		return EnqueueResult{Queued: true, CorrelationID: id}, nil
	default:
		return EnqueueResult{}, errQueueFull
	}
}

// Stats reports the current queue depth and configured batching knobs,
// for the /events/queue-stats endpoint.
type Stats struct {
	QueueSize      int
	BatchSize      int
	BatchTimeoutMS int
}

// Stats returns a point-in-time snapshot of the queue's depth and config.
func (q *Queue) Stats() Stats {
	return Stats{
		QueueSize:      len(q.items),
		BatchSize:      q.batchSize,
		BatchTimeoutMS: int(q.batchTimeout / time.Millisecond),
	}
}

// Start launches the background batch worker. Safe to call once; later
// calls are no-ops.
func (q *Queue) Start() {
	q.startOnce.Do(func() {
		go q.run()
	})
}

// Stop signals the worker to drain and exit, waiting up to the
// configured grace period. Items still queued after the grace period
// expires are dropped and logged.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.shutdown)
	})

	select {
	case <-q.done:
		q.log.Info().Msg("ingest worker stopped cleanly")
	case <-time.After(q.grace):
		q.log.Warn().Int("queue_size", len(q.items)).Msg("ingest worker shutdown grace period expired, remaining items dropped")
	}
}

func (q *Queue) run() {
	defer close(q.done)
	q.log.Info().Int("batch_size", q.batchSize).Dur("batch_timeout", q.batchTimeout).Msg("ingest worker running")

	for {
		if q.shuttingDown() && len(q.items) == 0 {
			q.log.Info().Msg("ingest worker finished")
			return
		}

		batch := q.collectBatch()
		if len(batch) == 0 {
			continue
		}
		q.processBatch(batch)
	}
}

func (q *Queue) shuttingDown() bool {
	select {
	case <-q.shutdown:
		return true
	default:
		return false
	}
}

// collectBatch blocks up to 1s for the first item (so shutdown is checked
// at least once a second), then opportunistically collects more until
// BatchSize is reached or BatchTimeout has elapsed since the first item.
func (q *Queue) collectBatch() []item {
	var batch []item

	select {
	case it := <-q.items:
		batch = append(batch, it)
	case <-time.After(1 * time.Second):
		return nil
	}

	deadline := time.After(q.batchTimeout)
	for len(batch) < q.batchSize {
		select {
		case it := <-q.items:
			batch = append(batch, it)
		case <-deadline:
			return batch
		}
	}
	return batch
}

func (q *Queue) processBatch(batch []item) {
	start := time.Now()

	batchItems := make([]eventlog.BatchItem, len(batch))
	for i, it := range batch {
		batchItems[i] = it.BatchItem
	}

	results, err := q.chain.AppendBatch(context.Background(), batchItems)
	if err != nil {
		q.log.Error().Err(err).Int("batch_size", len(batch)).Msg("batch processing failed")
	}

	succeeded := 0
	for i, r := range results {
		if r.Err != nil {
			q.log.Warn().Err(r.Err).Str("pi", string(batch[i].PI)).Str("correlation_id", batch[i].correlationID).
				Msg("event failed to store, skipped")
			continue
		}
		succeeded++
	}

	q.log.Info().
		Int("batch_size", len(batch)).
		Int("succeeded", succeeded).
		Dur("duration", time.Since(start)).
		Msg("batch processed")

	if q.notify != nil {
		q.notify.Publish(notify.Event{
			Topic: notify.TopicBatchProcessed,
			Data: map[string]any{
				"batch_size": len(batch),
				"succeeded":  succeeded,
			},
		})
	}
}
