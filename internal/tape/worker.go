package tape

import (
	"context"
	"database/sql"
	"log"
	"time"

	"OptionLadder/internal/observability"
)

// Worker drains the tape channel and batch-writes records to Postgres.
// The engine sends with a BLOCKING send, so if this worker falls behind the
// engine stalls rather than losing records. After a batch is committed each
// record is handed to the publisher, when one is configured.
type Worker struct {
	writer       *RecordWriter
	publisher    *Publisher
	inputChan    <-chan Record
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
}

func NewWorker(
	db *sql.DB,
	inputChan <-chan Record,
	publisher *Publisher,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *Worker {
	return &Worker{
		writer:       NewRecordWriter(db),
		publisher:    publisher,
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
	}
}

// Writer exposes the underlying writer for startup sequence recovery.
func (w *Worker) Writer() *RecordWriter {
	return w.writer
}

// Run batches incoming records and flushes when the batch fills or the flush
// timeout expires. Blocks until ctx is cancelled or the channel closes; a
// final flush runs on either exit path.
func (w *Worker) Run(ctx context.Context) error {
	batch := make([]Record, 0, w.batchSize)

	timer := time.NewTimer(w.flushTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batch) > 0 {
				if err := w.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: final tape flush failed: %v", err)
				}
			}
			return ctx.Err()

		case rec, ok := <-w.inputChan:
			if !ok {
				if len(batch) > 0 {
					if err := w.flush(context.Background(), batch); err != nil {
						log.Printf("ERROR: final tape flush failed: %v", err)
					}
				}
				return nil
			}

			batch = append(batch, rec)
			if len(batch) >= w.batchSize {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
				timer.Reset(w.flushTimeout)
			}

		case <-timer.C:
			if len(batch) > 0 {
				w.flushWithRetry(ctx, batch)
				batch = batch[:0]
			}
			timer.Reset(w.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff. The tape is the audit
// trail: records are never dropped, so this retries until the write lands or
// the context is cancelled, in which case one last flush runs with a
// background context.
func (w *Worker) flushWithRetry(ctx context.Context, batch []Record) {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			log.Printf("WARN: tape flush retry %d (backoff=%v, records=%d)",
				attempt, backoff, len(batch))
			select {
			case <-ctx.Done():
				if err := w.flush(context.Background(), batch); err != nil {
					log.Printf("ERROR: tape flush on shutdown failed: %v", err)
				}
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		if err := w.flush(ctx, batch); err == nil {
			if attempt > 0 {
				log.Printf("INFO: tape flush succeeded after %d retries", attempt)
			}
			return
		} else {
			log.Printf("WARN: tape flush failed: %v", err)
			if w.metrics != nil {
				w.metrics.TapeWriteErrors.Inc()
			}
		}
	}
}

func (w *Worker) flush(ctx context.Context, batch []Record) error {
	tx, err := w.writer.DB().BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := w.writer.WriteBatch(ctx, tx, batch); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if w.metrics != nil {
		w.metrics.TapeRecordsWritten.Add(float64(len(batch)))
		w.metrics.TapeBatchSize.Observe(float64(len(batch)))
	}

	// publish only after the batch is durable
	if w.publisher != nil {
		for _, rec := range batch {
			w.publisher.Publish(ctx, rec)
		}
	}
	return nil
}
