// This file implements a generic, batched loader that drains items from a
// channel and invokes a provided flush function per batch.
//
// Logging: on every successful flush, a concise progress line is emitted with
// running totals and instantaneous rows/sec since the previous flush.

package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// FlushFn writes one batch and returns the number of items it reports as
// loaded. It should cancel promptly when ctx is done.
type FlushFn[T any] func(ctx context.Context, batchNo int, batch []T) (int64, error)

// LoadBatches drains items from 'in', groups them into batches and calls
// 'flush' for each non-empty batch. A batch is flushed once 'batchSize' items
// for which counts(item) is true have accumulated; other items ride along in
// the current batch. A nil counts treats every item as counted.
//
// It returns the total reported by flush and the first error encountered.
// Cancellation: returns (total, ctx.Err()) when canceled.
func LoadBatches[T any](
	ctx context.Context,
	in <-chan T,
	batchSize int,
	counts func(T) bool,
	flush FlushFn[T],
) (int64, error) {
	if batchSize <= 0 {
		return 0, fmt.Errorf("batchSize must be > 0")
	}
	if flush == nil {
		return 0, fmt.Errorf("flush must not be nil")
	}

	var (
		total       int64
		batches     int
		counted     int
		batch       = make([]T, 0, batchSize)
		start       = time.Now()
		lastFlushTS = start
		lastTotal   int64
	)

	doFlush := func() error {
		if len(batch) == 0 {
			return nil
		}
		batches++
		n, err := flush(ctx, batches, batch)
		total += n

		// Reuse allocated slice; keep capacity to avoid churn.
		batch = batch[:0]
		counted = 0

		if err != nil {
			log.Printf("loader: batch #%d failed after=%d total=%d err=%v", batches, n, total, err)
			return err
		}

		now := time.Now()
		sinceLast := now.Sub(lastFlushTS)
		rps := float64(0)
		if sinceLast > 0 {
			rps = float64(total-lastTotal) / sinceLast.Seconds()
		}
		log.Printf(
			"loader: batch #%d: rps=%.0f loaded=%d total_loaded=%d elapsed=%s since_last=%s",
			batches,
			rps,
			n,
			total,
			now.Sub(start).Truncate(time.Millisecond),
			sinceLast.Truncate(time.Millisecond),
		)
		lastFlushTS = now
		lastTotal = total
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return total, ctx.Err()

		case item, ok := <-in:
			if !ok {
				// Channel closed: flush remaining items.
				pending := len(batch)
				if err := doFlush(); err != nil {
					return total, err
				}
				log.Printf("loader: input closed, final_flush=%d total_loaded=%d", pending, total)
				return total, nil
			}
			batch = append(batch, item)
			if counts == nil || counts(item) {
				counted++
			}
			if counted >= batchSize {
				if err := doFlush(); err != nil {
					return total, err
				}
			}
		}
	}
}
