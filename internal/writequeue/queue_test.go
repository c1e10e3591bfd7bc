package writequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/testutil"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

type fakeWriter struct {
	mu       sync.Mutex
	maxBatch int
	batches  [][]core.FieldWrite
	failN    int // fail this many calls before succeeding; -1 fails forever
	missing  string
	calls    int
	onCommit func(batch []core.FieldWrite)
}

func (w *fakeWriter) CommitBatch(_ context.Context, writes []core.FieldWrite) error {
	w.mu.Lock()
	w.calls++
	hook := w.onCommit
	for _, fw := range writes {
		if fw.RecordID == w.missing {
			w.mu.Unlock()
			return &core.RecordNotFoundError{ID: fw.RecordID}
		}
	}
	fail := w.failN < 0 || w.calls <= w.failN
	if !fail {
		w.batches = append(w.batches, writes)
	}
	w.mu.Unlock()

	if hook != nil {
		hook(writes)
	}
	if fail {
		return errors.New("store unavailable")
	}
	return nil
}

func (w *fakeWriter) MaxBatchSize() int { return w.maxBatch }

func (w *fakeWriter) committed() [][]core.FieldWrite {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([][]core.FieldWrite(nil), w.batches...)
}

func newQueue(t *testing.T, w *fakeWriter, mutate func(*Config)) *Queue {
	t.Helper()
	cfg := Config{
		Writer:      w,
		FlushWindow: time.Hour,
		RetryBase:   time.Millisecond,
		Logger:      testutil.NewTestLogger(t),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	q := New(cfg)
	t.Cleanup(func() { _ = q.Close(context.Background()) })
	return q
}

func TestQueue_LastValueWins(t *testing.T) {
	w := &fakeWriter{maxBatch: 10}
	q := newQueue(t, w, nil)

	q.Enqueue("r1", core.Fields{"a": 1})
	q.Enqueue("r1", core.Fields{"a": 2, "b": 3})
	q.Enqueue("r2", core.Fields{"a": "x"})
	q.Enqueue("r3", nil)

	assert.Equal(t, map[string]core.Fields{
		"r1": {"a": 2, "b": 3},
		"r2": {"a": "x"},
	}, q.Pending())

	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, 0, q.Len())

	batches := w.committed()
	require.Len(t, batches, 1)
	assert.Equal(t, []core.FieldWrite{
		{RecordID: "r1", Fields: core.Fields{"a": 2, "b": 3}},
		{RecordID: "r2", Fields: core.Fields{"a": "x"}},
	}, batches[0])
}

func TestQueue_FlushWindow(t *testing.T) {
	w := &fakeWriter{maxBatch: 10}
	q := newQueue(t, w, func(c *Config) { c.FlushWindow = 20 * time.Millisecond })

	q.Enqueue("r1", core.Fields{"a": 1})
	q.Enqueue("r1", core.Fields{"a": 2})

	require.Eventually(t, func() bool { return len(w.committed()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, core.Fields{"a": 2}, w.committed()[0][0].Fields)
}

func TestQueue_MaxRecordsTriggersFlush(t *testing.T) {
	w := &fakeWriter{maxBatch: 10}
	q := newQueue(t, w, func(c *Config) { c.MaxRecords = 2 })

	q.Enqueue("r1", core.Fields{"a": 1})
	q.Enqueue("r2", core.Fields{"a": 1})
	assert.Empty(t, w.committed())

	q.Enqueue("r3", core.Fields{"a": 1})
	require.Eventually(t, func() bool { return len(w.committed()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Len(t, w.committed()[0], 3)
}

func TestQueue_BoundedBatches(t *testing.T) {
	w := &fakeWriter{maxBatch: 2}
	q := newQueue(t, w, nil)

	for i := range 5 {
		q.Enqueue(fmt.Sprintf("r%d", i), core.Fields{"n": i})
	}
	require.NoError(t, q.Flush(context.Background()))

	batches := w.committed()
	require.Len(t, batches, 3)
	total := 0
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), 2)
		total += len(b)
	}
	assert.Equal(t, 5, total)
}

func TestQueue_RetriesTransientFailure(t *testing.T) {
	w := &fakeWriter{maxBatch: 10, failN: 2}
	var committed []core.FieldWrite
	var mu sync.Mutex
	q := newQueue(t, w, func(c *Config) {
		c.Retries = 3
		c.OnCommitted = func(writes []core.FieldWrite) {
			mu.Lock()
			committed = append(committed, writes...)
			mu.Unlock()
		}
	})

	q.Enqueue("r1", core.Fields{"a": 1})
	require.NoError(t, q.Flush(context.Background()))

	assert.Equal(t, 3, w.calls)
	mu.Lock()
	assert.Len(t, committed, 1)
	mu.Unlock()
}

func TestQueue_FailureRequeuesWithoutClobbering(t *testing.T) {
	w := &fakeWriter{maxBatch: 10, failN: -1}
	q := newQueue(t, w, func(c *Config) { c.Retries = 1 })

	var once sync.Once
	w.onCommit = func([]core.FieldWrite) {
		// A newer edit arrives while the failing batch is in flight.
		once.Do(func() { q.Enqueue("r1", core.Fields{"a": "newer"}) })
	}

	q.Enqueue("r1", core.Fields{"a": "older", "b": "kept"})
	q.Enqueue("r2", core.Fields{"c": 1})

	err := q.Flush(context.Background())
	require.Error(t, err)

	var flushErr *FlushError
	require.ErrorAs(t, err, &flushErr)
	assert.Equal(t, []string{"r1", "r2"}, flushErr.RecordIDs)
	assert.Equal(t, 2, w.calls, "one attempt plus one retry")
	assert.Equal(t, err, q.LastError())

	assert.Equal(t, map[string]core.Fields{
		"r1": {"a": "newer", "b": "kept"},
		"r2": {"c": 1},
	}, q.Pending())
}

func TestQueue_BackgroundErrorReported(t *testing.T) {
	w := &fakeWriter{maxBatch: 10, failN: -1}
	errs := make(chan error, 1)
	q := newQueue(t, w, func(c *Config) {
		c.FlushWindow = 10 * time.Millisecond
		c.OnError = func(err error) {
			select {
			case errs <- err:
			default:
			}
		}
	})

	q.Enqueue("r1", core.Fields{"a": 1})

	select {
	case err := <-errs:
		var flushErr *FlushError
		assert.ErrorAs(t, err, &flushErr)
	case <-time.After(2 * time.Second):
		t.Fatal("expected background flush error")
	}
}

func TestQueue_CloseFlushes(t *testing.T) {
	w := &fakeWriter{maxBatch: 10}
	q := newQueue(t, w, nil)

	q.Enqueue("r1", core.Fields{"a": 1})
	require.NoError(t, q.Close(context.Background()))
	assert.Len(t, w.committed(), 1)

	q.Enqueue("r1", core.Fields{"a": 2})
	assert.Equal(t, 0, q.Len(), "writes after close are dropped")
}

func TestQueue_DefaultRetries(t *testing.T) {
	w := &fakeWriter{maxBatch: 10, failN: -1}
	q := newQueue(t, w, nil)

	q.Enqueue("r1", core.Fields{"a": 1})
	require.Error(t, q.Flush(context.Background()))
	assert.Equal(t, DefaultRetries+1, w.calls)
}

func TestQueue_FailedBackgroundFlushIsRetried(t *testing.T) {
	// The first flush fails its attempt and its single retry.
	w := &fakeWriter{maxBatch: 10, failN: 2}
	q := newQueue(t, w, func(c *Config) {
		c.FlushWindow = 10 * time.Millisecond
		c.Retries = 1
	})

	q.Enqueue("r1", core.Fields{"a": 1})

	require.Eventually(t, func() bool { return len(w.committed()) == 1 }, 2*time.Second, 5*time.Millisecond,
		"requeued writes are flushed without a new enqueue")
	assert.Equal(t, core.Fields{"a": 1}, w.committed()[0][0].Fields)
	assert.Equal(t, 0, q.Len())
	require.Eventually(t, func() bool { return q.LastError() == nil }, time.Second, 5*time.Millisecond)
}

func TestQueue_MissingRecordDoesNotBlockBatch(t *testing.T) {
	w := &fakeWriter{maxBatch: 10, missing: "r0"}
	var committed []core.FieldWrite
	var mu sync.Mutex
	logs, logger := testutil.NewLogRecorder()
	q := newQueue(t, w, func(c *Config) {
		c.Logger = logger
		c.OnCommitted = func(writes []core.FieldWrite) {
			mu.Lock()
			committed = append(committed, writes...)
			mu.Unlock()
		}
	})

	q.Enqueue("r0", core.Fields{"a": 1})
	q.Enqueue("r1", core.Fields{"a": 2})
	q.Enqueue("r2", core.Fields{"a": 3})

	require.NoError(t, q.Flush(context.Background()))
	assert.Equal(t, 0, q.Len(), "missing record writes are not requeued")
	assert.Equal(t, 2, w.calls, "a missing record is not retried")
	assert.Equal(t, 1, logs.Count("dropping writes for missing record"))

	batches := w.committed()
	require.Len(t, batches, 1)
	assert.Equal(t, []core.FieldWrite{
		{RecordID: "r1", Fields: core.Fields{"a": 2}},
		{RecordID: "r2", Fields: core.Fields{"a": 3}},
	}, batches[0])

	mu.Lock()
	assert.Equal(t, batches[0], committed)
	mu.Unlock()
}
