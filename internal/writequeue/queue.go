// Package writequeue buffers partial field writes and commits them in
// bounded batches. Only the latest value per (record, column) is kept.
package writequeue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// Defaults for Config.
const (
	DefaultMaxRecords  = 50
	DefaultFlushWindow = 500 * time.Millisecond
	DefaultRetries     = 3
	DefaultRetryBase   = 50 * time.Millisecond
	DefaultParallel    = 4
)

// FlushError reports writes that could not be committed. They were put back
// in the queue unless newer values arrived meanwhile.
type FlushError struct {
	RecordIDs []string
	Err       error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush failed for records %s: %v", strings.Join(e.RecordIDs, ", "), e.Err)
}

func (e *FlushError) Unwrap() error {
	return e.Err
}

// Config holds the configuration for a Queue.
type Config struct {
	Writer core.BatchWriter

	// MaxRecords triggers a flush when more records than this are pending.
	MaxRecords int
	// FlushWindow is the longest a write waits before a timed flush.
	FlushWindow time.Duration
	// Retries is the number of retries of a failed batch. Zero means
	// DefaultRetries.
	Retries   uint64
	RetryBase time.Duration
	// Parallel bounds the number of batches committed at once.
	Parallel int

	// OnCommitted is called after each successful batch. It must not block.
	OnCommitted func(writes []core.FieldWrite)
	// OnError is called when a background flush fails.
	OnError func(err error)

	Logger *slog.Logger
}

// Queue is an accumulate-then-flush write buffer.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]core.Fields
	timer   *time.Timer
	lastErr error
	closed  bool

	// flushMu serializes flushes so an older value is never committed after
	// a newer one for the same column.
	flushMu sync.Mutex
	wg      sync.WaitGroup
}

// New creates a Queue.
func New(cfg Config) *Queue {
	if cfg.MaxRecords <= 0 {
		cfg.MaxRecords = DefaultMaxRecords
	}
	if cfg.FlushWindow <= 0 {
		cfg.FlushWindow = DefaultFlushWindow
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = DefaultParallel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		cfg:     cfg,
		logger:  logger,
		pending: make(map[string]core.Fields),
	}
}

// Enqueue merges fields into the pending writes of a record. A flush starts
// when the record count exceeds MaxRecords, otherwise at the end of the
// flush window opened by the first pending write.
func (q *Queue) Enqueue(recordID string, fields core.Fields) {
	if len(fields) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("write dropped, queue closed", "record_id", recordID)
		return
	}

	q.mergeLocked(recordID, fields, true)

	if len(q.pending) > q.cfg.MaxRecords {
		q.stopTimerLocked()
		q.flushInBackgroundLocked()
		return
	}
	q.armTimerLocked()
}

// armTimerLocked starts the flush window unless one is already running.
func (q *Queue) armTimerLocked() {
	if q.timer != nil || q.closed {
		return
	}
	q.timer = time.AfterFunc(q.cfg.FlushWindow, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.timer = nil
		if q.closed {
			return
		}
		q.flushInBackgroundLocked()
	})
}

// Pending returns a copy of the pending writes.
func (q *Queue) Pending() map[string]core.Fields {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]core.Fields, len(q.pending))
	for id, fields := range q.pending {
		out[id] = fields.Clone()
	}
	return out
}

// Len returns the number of records with pending writes.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// LastError returns the error of the most recent failed background flush,
// or nil once a later flush succeeds.
func (q *Queue) LastError() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.lastErr
}

// Flush commits every pending write now.
func (q *Queue) Flush(ctx context.Context) error {
	q.mu.Lock()
	q.stopTimerLocked()
	q.mu.Unlock()

	err := q.flush(ctx)
	q.mu.Lock()
	q.lastErr = err
	q.mu.Unlock()
	return err
}

// Close flushes what is pending and waits for background flushes.
// Writes enqueued after Close are dropped.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.stopTimerLocked()
	q.mu.Unlock()

	q.wg.Wait()
	return q.flush(ctx)
}

func (q *Queue) flushInBackgroundLocked() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		err := q.flush(context.Background())

		q.mu.Lock()
		q.lastErr = err
		q.mu.Unlock()

		if err != nil {
			q.logger.Error("background flush failed", "error", err)
			if q.cfg.OnError != nil {
				q.cfg.OnError(err)
			}
		}
	}()
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

// mergeLocked merges fields into a record's pending writes. With overwrite
// unset, columns that already hold a pending value are left alone.
func (q *Queue) mergeLocked(recordID string, fields core.Fields, overwrite bool) {
	existing, ok := q.pending[recordID]
	if !ok {
		existing = core.Fields{}
		q.pending[recordID] = existing
	}
	for k, v := range fields {
		if _, has := existing[k]; has && !overwrite {
			continue
		}
		existing[k] = v
	}
}

func (q *Queue) flush(ctx context.Context) error {
	q.flushMu.Lock()
	defer q.flushMu.Unlock()

	q.mu.Lock()
	taken := q.pending
	q.pending = make(map[string]core.Fields)
	q.mu.Unlock()

	if len(taken) == 0 {
		return nil
	}

	batches := q.batches(taken)

	var (
		mu     sync.Mutex
		failed []core.FieldWrite
		errs   []error
	)
	g := new(errgroup.Group)
	g.SetLimit(q.cfg.Parallel)
	for _, batch := range batches {
		g.Go(func() error {
			committed, err := q.commit(ctx, batch)
			if err != nil {
				mu.Lock()
				failed = append(failed, committed...)
				errs = append(errs, err)
				mu.Unlock()
				return nil
			}
			if len(committed) > 0 && q.cfg.OnCommitted != nil {
				q.cfg.OnCommitted(committed)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) == 0 {
		q.logger.Debug("writes flushed", "records", len(taken), "batches", len(batches))
		return nil
	}

	// Requeued writes get a new flush window so they persist once the
	// writer recovers, even if no further edit arrives.
	q.mu.Lock()
	ids := make([]string, 0, len(failed))
	for _, w := range failed {
		q.mergeLocked(w.RecordID, w.Fields, false)
		ids = append(ids, w.RecordID)
	}
	q.armTimerLocked()
	q.mu.Unlock()
	sort.Strings(ids)

	return &FlushError{RecordIDs: ids, Err: errors.Join(errs...)}
}

// batches splits writes into chunks no larger than the writer's ceiling,
// ordered by record id.
func (q *Queue) batches(taken map[string]core.Fields) [][]core.FieldWrite {
	ids := make([]string, 0, len(taken))
	for id := range taken {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	size := q.cfg.Writer.MaxBatchSize()
	if size <= 0 {
		size = len(ids)
	}

	var out [][]core.FieldWrite
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batch := make([]core.FieldWrite, 0, end-start)
		for _, id := range ids[start:end] {
			batch = append(batch, core.FieldWrite{RecordID: id, Fields: taken[id]})
		}
		out = append(out, batch)
	}
	return out
}

// commit writes a batch with retries. Writes to records that no longer exist
// are dropped and the rest of the batch is committed without them. It returns
// the writes that were committed or, on error, the writes still pending.
func (q *Queue) commit(ctx context.Context, batch []core.FieldWrite) ([]core.FieldWrite, error) {
	for len(batch) > 0 {
		err := q.commitWithRetry(ctx, batch)
		var missing *core.RecordNotFoundError
		if !errors.As(err, &missing) {
			return batch, err
		}
		rest := slices.DeleteFunc(slices.Clone(batch), func(w core.FieldWrite) bool {
			return w.RecordID == missing.ID
		})
		if len(rest) == len(batch) {
			return batch, err
		}
		q.logger.Warn("dropping writes for missing record", "record_id", missing.ID)
		batch = rest
	}
	return nil, nil
}

func (q *Queue) commitWithRetry(ctx context.Context, batch []core.FieldWrite) error {
	backoff := retry.WithMaxRetries(q.cfg.Retries, retry.NewExponential(q.cfg.RetryBase))

	attempt := 0
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		err := q.cfg.Writer.CommitBatch(ctx, batch)
		if err == nil {
			return nil
		}
		if errors.Is(err, core.ErrRecordNotFound) {
			return err
		}
		q.logger.Warn("batch commit failed",
			"attempt", attempt,
			"writes", len(batch),
			"error", err)
		return retry.RetryableError(err)
	})
}
