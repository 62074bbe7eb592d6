package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jobboard/aicredits/internal/models"
	"github.com/jobboard/aicredits/internal/queue"
	"github.com/jobboard/aicredits/internal/utils"
)

// UsageWriter persists usage records
type UsageWriter interface {
	Create(ctx context.Context, record *models.UsageRecord) error
	CreateBatch(ctx context.Context, records []*models.UsageRecord) error
}

// UsageQueueWorker drains the usage queue into the usage log. Logging usage
// is best-effort: failures never reach the request that produced the record.
type UsageQueueWorker struct {
	queue       queue.Queue
	dlq         queue.DeadLetterQueue
	writer      UsageWriter
	config      *queue.Config
	logger      *utils.Logger
	sleep       func(time.Duration)
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewUsageQueueWorker creates a new usage queue worker
func NewUsageQueueWorker(q queue.Queue, dlq queue.DeadLetterQueue, writer UsageWriter, config *queue.Config) *UsageQueueWorker {
	if config == nil {
		config = queue.DefaultConfig("usage")
	}

	return &UsageQueueWorker{
		queue:       q,
		dlq:         dlq,
		writer:      writer,
		config:      config,
		logger:      utils.NewLogger("usage-worker"),
		sleep:       time.Sleep,
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// Start starts the worker goroutine
func (w *UsageQueueWorker) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop stops the worker and waits for the current batch to finish
func (w *UsageQueueWorker) Stop() error {
	close(w.stopChan)
	<-w.stoppedChan
	return nil
}

// Enqueue adds a usage record to the queue
func (w *UsageQueueWorker) Enqueue(ctx context.Context, record *models.UsageRecord) error {
	return w.queue.Enqueue(ctx, record)
}

func (w *UsageQueueWorker) run(ctx context.Context) {
	defer close(w.stoppedChan)

	for {
		select {
		case <-w.stopChan:
			w.drain()
			w.logger.Info("Usage worker stopped")
			return
		case <-ctx.Done():
			w.logger.Info("Usage worker context cancelled")
			return
		default:
			if err := w.processBatch(ctx); errors.Is(err, queue.ErrQueueClosed) {
				w.logger.Info("Usage queue closed")
				return
			}
		}
	}
}

// drain flushes what is left in the queue, bounded by a short deadline
func (w *UsageQueueWorker) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for ctx.Err() == nil {
		n, err := w.queue.Length(ctx)
		if err != nil || n == 0 {
			return
		}
		if err := w.processBatch(ctx); err != nil {
			return
		}
	}
}

// processBatch dequeues and writes one batch
func (w *UsageQueueWorker) processBatch(ctx context.Context) error {
	items, err := w.queue.DequeueWithTimeout(ctx, w.config.BatchSize, w.config.BatchTimeout)
	if err != nil {
		if errors.Is(err, queue.ErrQueueClosed) || errors.Is(err, context.Canceled) {
			return err
		}
		w.logger.Error("Failed to dequeue usage records", "error", err)
		w.sleep(time.Second)
		return nil
	}

	if len(items) == 0 {
		return nil
	}

	records := make([]*models.UsageRecord, 0, len(items))
	payloads := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		var record models.UsageRecord
		if err := json.Unmarshal(item, &record); err != nil {
			w.logger.Error("Failed to unmarshal usage record", "error", err)
			w.deadLetter(ctx, item, err)
			continue
		}
		records = append(records, &record)
		payloads = append(payloads, item)
	}

	if len(records) == 0 {
		return nil
	}

	if err := w.writer.CreateBatch(ctx, records); err != nil {
		w.logger.Warn("Batch insert failed, falling back to individual inserts", "count", len(records), "error", err)
		for i, record := range records {
			if err := w.processItem(ctx, record, payloads[i]); err != nil {
				w.logger.Error("Failed to process usage record", "request_id", record.RequestID, "error", err)
			}
		}
		return nil
	}

	w.logger.Debug("Inserted usage batch", "count", len(records))
	return nil
}

// processItem writes one record, retrying recoverable errors with
// exponential backoff before giving up to the dead letter queue.
func (w *UsageQueueWorker) processItem(ctx context.Context, record *models.UsageRecord, payload json.RawMessage) error {
	var lastErr error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := w.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			w.logger.Debug("Retrying usage record", "attempt", attempt, "backoff", backoff)
			w.sleep(backoff)
		}

		err := w.writer.Create(ctx, record)
		if err == nil {
			return nil
		}
		lastErr = err
		if !utils.IsRecoverableError(err) {
			break
		}
	}

	w.deadLetter(ctx, payload, lastErr)
	return fmt.Errorf("usage record not written: %w", lastErr)
}

func (w *UsageQueueWorker) deadLetter(ctx context.Context, payload json.RawMessage, cause error) {
	if w.dlq == nil {
		return
	}
	if err := w.dlq.Add(ctx, payload, cause); err != nil {
		w.logger.Error("Failed to add to dead letter queue", "error", err)
		return
	}
	w.logger.Warn("Usage record moved to DLQ", "error", cause)
}

// GetQueueLength returns the current queue length
func (w *UsageQueueWorker) GetQueueLength(ctx context.Context) (int, error) {
	return w.queue.Length(ctx)
}

// DeadLetters lists up to max dead letter items, oldest first
func (w *UsageQueueWorker) DeadLetters(ctx context.Context, max int) ([]queue.DeadLetterItem, error) {
	if w.dlq == nil {
		return nil, nil
	}
	return w.dlq.List(ctx, max)
}

// RetryDeadLetterItem re-enqueues a dead letter item and removes it from the DLQ
func (w *UsageQueueWorker) RetryDeadLetterItem(ctx context.Context, id string) error {
	if w.dlq == nil {
		return fmt.Errorf("dead letter queue not configured")
	}

	items, err := w.dlq.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list dead letter items: %w", err)
	}

	for _, dlItem := range items {
		if dlItem.ID != id {
			continue
		}
		if err := w.queue.Enqueue(ctx, dlItem.Payload); err != nil {
			return fmt.Errorf("failed to re-enqueue item: %w", err)
		}
		if err := w.dlq.Remove(ctx, id); err != nil {
			return fmt.Errorf("failed to remove from DLQ: %w", err)
		}
		return nil
	}

	return queue.ErrItemNotFound
}
