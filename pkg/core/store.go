package core

import (
	"context"
	"errors"
)

// ErrRecordNotFound is returned by point reads of unknown records.
var ErrRecordNotFound = errors.New("record not found")

// RecordNotFoundError names the missing record. It matches ErrRecordNotFound.
type RecordNotFoundError struct {
	ID string
}

func (e *RecordNotFoundError) Error() string {
	return ErrRecordNotFound.Error() + ": " + e.ID
}

// Is reports whether target is ErrRecordNotFound.
func (e *RecordNotFoundError) Is(target error) bool {
	return target == ErrRecordNotFound
}

// RecordReader provides point reads of records.
type RecordReader interface {
	GetRecord(ctx context.Context, id string) (*Record, error)
}

// BatchWriter commits partial field updates. Each FieldWrite counts as one
// operation against MaxBatchSize. A write to a missing record fails the batch
// with a *RecordNotFoundError.
type BatchWriter interface {
	CommitBatch(ctx context.Context, writes []FieldWrite) error
	MaxBatchSize() int
}

// RecordStore is the persistence collaborator: point reads and writes,
// batched field writes and change subscriptions delivering full snapshots.
type RecordStore interface {
	RecordReader
	BatchWriter

	CreateRecord(ctx context.Context, rec *Record) error
	// CreateNextRecord sets rec.Row to nextRow(existing rows) and inserts rec
	// in one step, so concurrent creations never share a row.
	CreateNextRecord(ctx context.Context, rec *Record, nextRow func(existing []int) int) error

	// SubscribeRecord delivers the full record after every change to id.
	// The returned func cancels the subscription and closes the channel.
	SubscribeRecord(id string) (<-chan *Record, func())
	// SubscribeAll delivers every changed record in the collection.
	SubscribeAll() (<-chan *Record, func())
}

// ChangeRecorder is the audit/version collaborator.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, recordID string, snapshot Fields, meta ChangeMeta) error
}
