package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"skillproof/internal/audit/metrics"
	"skillproof/internal/platform/kafka"
)

// Store is the relay's view of the outbox.
type Store interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	CountPending(ctx context.Context) (int64, error)
}

// Pruner drops entries that were published long enough ago.
type Pruner interface {
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

type Producer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
}

// TxRunner runs fn in a transaction reachable from its context.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Worker polls the outbox and publishes entries to Kafka. Delivery is at
// least once: an entry published but not marked is sent again on the next
// poll, and consumers dedupe on the record key (the entry id).
type Worker struct {
	store        Store
	producer     Producer
	topic        string
	batchSize    int
	pollInterval time.Duration
	inTx         TxRunner
	retention    time.Duration
	pruneEvery   time.Duration
	now          func() time.Time
	metrics      *metrics.Metrics
	logger       *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Worker)

func WithTopic(topic string) Option {
	return func(w *Worker) {
		if topic != "" {
			w.topic = topic
		}
	}
}

func WithBatchSize(size int) Option {
	return func(w *Worker) {
		if size > 0 {
			w.batchSize = size
		}
	}
}

func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		if interval > 0 {
			w.pollInterval = interval
		}
	}
}

// WithTxRunner processes each batch inside a transaction so row locks taken
// by FetchUnprocessed hold until the batch is marked.
func WithTxRunner(run TxRunner) Option {
	return func(w *Worker) {
		w.inTx = run
	}
}

// WithRetention deletes entries published more than keep ago, checking every
// interval. It needs a store that implements Pruner; zero keep disables it.
func WithRetention(keep, every time.Duration) Option {
	return func(w *Worker) {
		w.retention = keep
		if every > 0 {
			w.pruneEvery = every
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Worker) {
		w.logger = logger
	}
}

func NewWorker(store Store, producer Producer, opts ...Option) *Worker {
	w := &Worker{
		store:        store,
		producer:     producer,
		topic:        "skillproof.audit",
		batchSize:    100,
		pollInterval: 2 * time.Second,
		pruneEvery:   time.Hour,
		now:          time.Now,
		logger:       slog.Default(),
		inTx: func(ctx context.Context, fn func(ctx context.Context) error) error {
			return fn(ctx)
		},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start runs the polling loop until Stop is called.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop cancels the loop, drains what is pending and waits for it to finish
// or for ctx to expire.
func (w *Worker) Stop(ctx context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	var prune <-chan time.Time
	if _, ok := w.store.(Pruner); ok && w.retention > 0 {
		pruneTicker := time.NewTicker(w.pruneEvery)
		defer pruneTicker.Stop()
		prune = pruneTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			if _, err := w.PollOnce(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox poll failed", "error", err)
			}
		case <-prune:
			if n, err := w.Prune(ctx); err != nil {
				w.logger.ErrorContext(ctx, "outbox prune failed", "error", err)
			} else if n > 0 {
				w.logger.InfoContext(ctx, "pruned outbox", "deleted", n, "retention", w.retention.String())
			}
		}
	}
}

// Prune deletes entries published before now minus the retention. It is a
// no-op when retention is off or the store cannot prune.
func (w *Worker) Prune(ctx context.Context) (int64, error) {
	pruner, ok := w.store.(Pruner)
	if !ok || w.retention <= 0 {
		return 0, nil
	}
	return pruner.DeleteProcessedBefore(ctx, w.now().Add(-w.retention))
}

// PollOnce publishes one batch and returns how many entries were marked.
func (w *Worker) PollOnce(ctx context.Context) (int, error) {
	published := 0
	err := w.inTx(ctx, func(ctx context.Context) error {
		entries, err := w.store.FetchUnprocessed(ctx, w.batchSize)
		if err != nil {
			w.metrics.IncPublishFailures()
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		w.metrics.ObserveBatchSize(len(entries))

		for _, entry := range entries {
			if err := w.publish(ctx, entry); err != nil {
				w.logger.ErrorContext(ctx, "failed to publish outbox entry",
					"id", entry.ID,
					"event_type", entry.EventType,
					"error", err,
				)
				w.metrics.IncPublishFailures()
				continue
			}
			if err := w.store.MarkProcessed(ctx, entry.ID, time.Now()); err != nil {
				w.logger.ErrorContext(ctx, "failed to mark outbox entry processed",
					"id", entry.ID,
					"error", err,
				)
				continue
			}
			published++
			w.metrics.IncPublished()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if pending, err := w.store.CountPending(ctx); err == nil {
		w.metrics.SetPendingDepth(pending)
	}
	return published, nil
}

func (w *Worker) publish(ctx context.Context, entry *Entry) error {
	start := time.Now()
	err := w.producer.Produce(ctx, &kafka.Message{
		Topic: w.topic,
		Key:   []byte(entry.ID.String()),
		Value: entry.Payload,
		Headers: map[string]string{
			"aggregate_type": entry.AggregateType,
			"aggregate_id":   entry.AggregateID,
			"event_type":     entry.EventType,
		},
	})
	if err != nil {
		return err
	}
	w.metrics.ObservePublish(start)
	return nil
}

func (w *Worker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.logger.InfoContext(ctx, "draining outbox relay")
	for ctx.Err() == nil {
		n, err := w.PollOnce(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "outbox drain failed", "error", err)
			return
		}
		if n == 0 {
			return
		}
	}
}
