package state

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/notifier"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	MaxBatchSize int
	// FailCommits makes every CommitBatch return the error. Used by tests
	// and dry runs that must not persist.
	FailCommits error
}

// MemoryStore keeps records and versions in process. Subscribers are notified
// after every commit, including commits that leave values unchanged.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*core.Record
	versions map[string][]Version
	maxBatch int
	failWith error
	commits  int
	notifier *notifier.Notifier
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	return &MemoryStore{
		records:  make(map[string]*core.Record),
		versions: make(map[string][]Version),
		maxBatch: cfg.MaxBatchSize,
		failWith: cfg.FailCommits,
		notifier: notifier.New(),
	}
}

// MaxBatchSize returns the maximum number of writes per CommitBatch.
func (m *MemoryStore) MaxBatchSize() int {
	return m.maxBatch
}

// GetRecord returns a copy of the record.
func (m *MemoryStore) GetRecord(_ context.Context, id string) (*core.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, &core.RecordNotFoundError{ID: id}
	}
	return rec.Clone(), nil
}

// CreateRecord stores a copy of rec.
func (m *MemoryStore) CreateRecord(_ context.Context, rec *core.Record) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	stored, err := m.insertLocked(rec)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.notifier.Publish(stored)
	return nil
}

// CreateNextRecord assigns rec.Row from the current rows and stores a copy,
// holding the write lock throughout.
func (m *MemoryStore) CreateNextRecord(_ context.Context, rec *core.Record, nextRow func(existing []int) int) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	m.mu.Lock()
	rec.Row = nextRow(m.rowsLocked())
	stored, err := m.insertLocked(rec)
	m.mu.Unlock()
	if err != nil {
		return err
	}

	m.notifier.Publish(stored)
	return nil
}

func (m *MemoryStore) insertLocked(rec *core.Record) (*core.Record, error) {
	if _, exists := m.records[rec.ID]; exists {
		return nil, fmt.Errorf("record %s already exists", rec.ID)
	}
	stored := rec.Clone()
	m.records[rec.ID] = stored
	return stored, nil
}

// DeleteRecord removes a record and its versions.
func (m *MemoryStore) DeleteRecord(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return &core.RecordNotFoundError{ID: id}
	}
	delete(m.records, id)
	delete(m.versions, id)
	return nil
}

func (m *MemoryStore) rowsLocked() []int {
	rows := make([]int, 0, len(m.records))
	for _, rec := range m.records {
		rows = append(rows, rec.Row)
	}
	slices.Sort(rows)
	return rows
}

// ListRecords returns copies of all records ordered by row number.
func (m *MemoryStore) ListRecords(_ context.Context) ([]*core.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*core.Record, 0, len(m.records))
	for _, rec := range m.records {
		out = append(out, rec.Clone())
	}
	slices.SortFunc(out, func(a, b *core.Record) int {
		if a.Row != b.Row {
			return a.Row - b.Row
		}
		if a.ID < b.ID {
			return -1
		}
		if a.ID > b.ID {
			return 1
		}
		return 0
	})
	return out, nil
}

// CommitBatch applies partial field updates. Either every write is applied or
// none is.
func (m *MemoryStore) CommitBatch(_ context.Context, writes []core.FieldWrite) error {
	if len(writes) == 0 {
		return nil
	}
	if len(writes) > m.maxBatch {
		return fmt.Errorf("batch of %d writes exceeds limit of %d", len(writes), m.maxBatch)
	}

	m.mu.Lock()
	if m.failWith != nil {
		m.mu.Unlock()
		return m.failWith
	}
	for _, w := range writes {
		if _, ok := m.records[w.RecordID]; !ok {
			m.mu.Unlock()
			return &core.RecordNotFoundError{ID: w.RecordID}
		}
	}

	now := time.Now().UTC()
	var order []string
	seen := make(map[string]bool, len(writes))
	for _, w := range writes {
		rec := m.records[w.RecordID]
		for k, v := range w.Fields {
			rec.Fields[k] = v
		}
		rec.UpdatedAt = now
		if !seen[w.RecordID] {
			seen[w.RecordID] = true
			order = append(order, w.RecordID)
		}
	}
	m.commits++

	published := make([]*core.Record, 0, len(order))
	for _, id := range order {
		published = append(published, m.records[id].Clone())
	}
	m.mu.Unlock()

	for _, rec := range published {
		m.notifier.Publish(rec)
	}
	return nil
}

// Commits returns the number of successful CommitBatch calls.
func (m *MemoryStore) Commits() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.commits
}

// SetFailCommits makes subsequent commits fail with err. A nil err restores
// normal behavior.
func (m *MemoryStore) SetFailCommits(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// SubscribeRecord delivers the full record after every commit touching id.
func (m *MemoryStore) SubscribeRecord(id string) (<-chan *core.Record, func()) {
	return m.notifier.Subscribe(id)
}

// SubscribeAll delivers every changed record.
func (m *MemoryStore) SubscribeAll() (<-chan *core.Record, func()) {
	return m.notifier.SubscribeAll()
}

// RecordChange appends a version entry.
func (m *MemoryStore) RecordChange(_ context.Context, recordID string, snapshot core.Fields, meta core.ChangeMeta) error {
	v := Version{
		ID:           uuid.NewString(),
		RecordID:     recordID,
		ChangeType:   meta.ChangeType,
		ChangedPaths: slices.Clone(nonNil(meta.ChangedFieldPaths)),
		UserID:       meta.UserID,
		UserName:     meta.UserName,
		Snapshot:     snapshot.Clone(),
		CreatedAt:    time.Now().UTC(),
	}
	m.mu.Lock()
	m.versions[recordID] = append(m.versions[recordID], v)
	m.mu.Unlock()
	return nil
}

// History returns up to limit versions of a record, newest first.
func (m *MemoryStore) History(recordID string, limit int) ([]Version, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.versions[recordID]
	out := make([]Version, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		v := src[i]
		v.Snapshot = v.Snapshot.Clone()
		out = append(out, v)
	}
	return out, nil
}
