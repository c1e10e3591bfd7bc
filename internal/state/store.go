// Package state persists booking records and their version history.
//
// SQLiteStore is the durable implementation; MemoryStore keeps everything in
// process. Both deliver full record snapshots to subscribers after every
// write.
package state

import (
	"errors"
	"time"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// ErrNotOpen is returned when the database has not been opened.
var ErrNotOpen = errors.New("database not open")

// DefaultMaxBatchSize is the default ceiling of writes per batch.
const DefaultMaxBatchSize = 500

// DefaultCompressThreshold is the snapshot size above which versions are
// stored zstd-compressed.
const DefaultCompressThreshold = 10 * 1024

// Version is one audit entry of a record.
type Version struct {
	ID           string          `json:"id"`
	RecordID     string          `json:"recordId"`
	ChangeType   core.ChangeType `json:"changeType"`
	ChangedPaths []string        `json:"changedPaths"`
	UserID       string          `json:"userId,omitempty"`
	UserName     string          `json:"userName,omitempty"`
	Snapshot     core.Fields     `json:"snapshot"`
	Compressed   bool            `json:"compressed"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// HistoryReader reads a record's versions, newest first.
type HistoryReader interface {
	History(recordID string, limit int) ([]Version, error)
}

var (
	_ core.RecordStore    = (*SQLiteStore)(nil)
	_ core.ChangeRecorder = (*SQLiteStore)(nil)
	_ core.RecordStore    = (*MemoryStore)(nil)
	_ core.ChangeRecorder = (*MemoryStore)(nil)
)
