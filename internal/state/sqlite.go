package state

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/notifier"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil)
)

// SQLiteConfig configures a SQLiteStore.
type SQLiteConfig struct {
	// MaxBatchSize caps the writes accepted by one CommitBatch call.
	MaxBatchSize int
	// CompressThreshold is the snapshot size in bytes above which versions
	// are stored zstd-compressed.
	CompressThreshold int
	Logger            *slog.Logger
}

// SQLiteStore implements core.RecordStore and core.ChangeRecorder using SQLite.
type SQLiteStore struct {
	db                *sql.DB
	path              string
	maxBatch          int
	compressThreshold int
	notifier          *notifier.Notifier
	logger            *slog.Logger
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg SQLiteConfig) *SQLiteStore {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.CompressThreshold <= 0 {
		cfg.CompressThreshold = DefaultCompressThreshold
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &SQLiteStore{
		maxBatch:          cfg.MaxBatchSize,
		compressThreshold: cfg.CompressThreshold,
		notifier:          notifier.New(),
		logger:            cfg.Logger,
	}
}

// Open opens a connection to the SQLite database and runs migrations.
// Use ":memory:" for an in-memory database.
func (s *SQLiteStore) Open(path string) error {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	if err := MigrateWithDB(db); err != nil {
		db.Close()
		return err
	}

	s.db = db
	s.path = path
	s.logger.Debug("opened record store", "path", path)
	return nil
}

// Attach uses an already opened database. Migrations are not run.
func (s *SQLiteStore) Attach(db *sql.DB) {
	s.db = db
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database path passed to Open.
func (s *SQLiteStore) Path() string {
	return s.path
}

// MaxBatchSize returns the maximum number of writes per CommitBatch.
func (s *SQLiteStore) MaxBatchSize() int {
	return s.maxBatch
}

// --- Record operations ---

// GetRecord retrieves a record by ID.
func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*core.Record, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, row_no, fields, updated_at FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &core.RecordNotFoundError{ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return rec, nil
}

// CreateRecord inserts a new record.
func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *core.Record) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	data, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, row_no, fields, updated_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Row, data, rec.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to create record %s: %w", rec.ID, err)
	}

	s.notifier.Publish(rec)
	return nil
}

// CreateNextRecord assigns rec.Row from the rows present inside the insert
// transaction. Another process may claim the same row between the read and
// the insert; the unique row index rejects it and the insert is retried.
func (s *SQLiteStore) CreateNextRecord(ctx context.Context, rec *core.Record, nextRow func(existing []int) int) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	data, err := encodeFields(rec.Fields)
	if err != nil {
		return err
	}

	backoff := retry.WithMaxRetries(rowConflictRetries, retry.NewConstant(5*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.insertNextRow(ctx, rec, data, nextRow)
		if isRowConflict(err) {
			s.logger.Debug("row number taken, retrying", "record_id", rec.ID, "row", rec.Row)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create record %s: %w", rec.ID, err)
	}

	s.notifier.Publish(rec)
	return nil
}

const rowConflictRetries = 5

func (s *SQLiteStore) insertNextRow(ctx context.Context, rec *core.Record, data string, nextRow func([]int) int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	existing, err := queryRows(ctx, tx)
	if err != nil {
		return err
	}
	rec.Row = nextRow(existing)

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (id, row_no, fields, updated_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.Row, data, rec.UpdatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// isRowConflict reports a violation of the unique row number index.
func isRowConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "records.row_no")
}

// DeleteRecord removes a record and its version history.
func (s *SQLiteStore) DeleteRecord(ctx context.Context, id string) error {
	if s.db == nil {
		return ErrNotOpen
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete record %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &core.RecordNotFoundError{ID: id}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM record_versions WHERE record_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete history of %s: %w", id, err)
	}
	return tx.Commit()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// queryRows returns the row numbers of all records in ascending order.
func queryRows(ctx context.Context, q queryer) ([]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT row_no FROM records ORDER BY row_no`)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	var result []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to scan row number: %w", err)
		}
		result = append(result, n)
	}
	return result, rows.Err()
}

// ListRecords returns all records ordered by row number.
func (s *SQLiteStore) ListRecords(ctx context.Context) ([]*core.Record, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, row_no, fields, updated_at FROM records ORDER BY row_no, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	defer rows.Close()

	var result []*core.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

// CommitBatch applies partial field updates atomically. Either every write is
// applied or none is.
func (s *SQLiteStore) CommitBatch(ctx context.Context, writes []core.FieldWrite) error {
	if s.db == nil {
		return ErrNotOpen
	}
	if len(writes) == 0 {
		return nil
	}
	if len(writes) > s.maxBatch {
		return fmt.Errorf("batch of %d writes exceeds limit of %d", len(writes), s.maxBatch)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	updated := make(map[string]*core.Record, len(writes))
	var order []string

	for _, w := range writes {
		rec, ok := updated[w.RecordID]
		if !ok {
			row := tx.QueryRowContext(ctx,
				`SELECT id, row_no, fields, updated_at FROM records WHERE id = ?`, w.RecordID)
			rec, err = scanRecord(row)
			if errors.Is(err, sql.ErrNoRows) {
				return &core.RecordNotFoundError{ID: w.RecordID}
			}
			if err != nil {
				return fmt.Errorf("failed to read record %s: %w", w.RecordID, err)
			}
			updated[w.RecordID] = rec
			order = append(order, w.RecordID)
		}

		for k, v := range w.Fields {
			rec.Fields[k] = v
		}
		rec.UpdatedAt = now

		data, err := encodeFields(rec.Fields)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE records SET fields = ?, updated_at = ? WHERE id = ?`,
			data, now.Format(time.RFC3339Nano), w.RecordID,
		); err != nil {
			return fmt.Errorf("failed to update record %s: %w", w.RecordID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	for _, id := range order {
		s.notifier.Publish(updated[id])
	}
	return nil
}

// SubscribeRecord delivers the full record after every committed change.
func (s *SQLiteStore) SubscribeRecord(id string) (<-chan *core.Record, func()) {
	return s.notifier.Subscribe(id)
}

// SubscribeAll delivers every changed record.
func (s *SQLiteStore) SubscribeAll() (<-chan *core.Record, func()) {
	return s.notifier.SubscribeAll()
}

// --- Version operations ---

// RecordChange appends a version entry. Large snapshots are compressed.
func (s *SQLiteStore) RecordChange(ctx context.Context, recordID string, snapshot core.Fields, meta core.ChangeMeta) error {
	if s.db == nil {
		return ErrNotOpen
	}

	data, err := encodeFields(snapshot)
	if err != nil {
		return err
	}
	paths, err := json.Marshal(nonNil(meta.ChangedFieldPaths))
	if err != nil {
		return fmt.Errorf("failed to encode changed paths: %w", err)
	}

	var plain sql.NullString
	var compressed []byte
	if len(data) > s.compressThreshold {
		compressed = encoder.EncodeAll([]byte(data), nil)
	} else {
		plain = sql.NullString{String: data, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO record_versions
			(id, record_id, change_type, changed_paths, user_id, user_name, snapshot, snapshot_zstd, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), recordID, string(meta.ChangeType), string(paths),
		meta.UserID, meta.UserName, plain, compressed,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record change for %s: %w", recordID, err)
	}
	return nil
}

// History returns up to limit versions of a record, newest first.
// A limit of zero or less returns every version.
func (s *SQLiteStore) History(recordID string, limit int) ([]Version, error) {
	if s.db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(
		`SELECT id, record_id, change_type, changed_paths, user_id, user_name, snapshot, snapshot_zstd, created_at
		FROM record_versions WHERE record_id = ?
		ORDER BY rowid DESC LIMIT ?`,
		recordID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var versions []Version
	for rows.Next() {
		var (
			v          Version
			changeType string
			paths      string
			plain      sql.NullString
			compressed []byte
			createdAt  string
		)
		if err := rows.Scan(&v.ID, &v.RecordID, &changeType, &paths, &v.UserID, &v.UserName,
			&plain, &compressed, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		v.ChangeType = core.ChangeType(changeType)
		if err := json.Unmarshal([]byte(paths), &v.ChangedPaths); err != nil {
			return nil, fmt.Errorf("failed to decode changed paths: %w", err)
		}

		data := []byte(plain.String)
		if len(compressed) > 0 {
			data, err = decoder.DecodeAll(compressed, nil)
			if err != nil {
				return nil, fmt.Errorf("failed to decompress snapshot: %w", err)
			}
			v.Compressed = true
		}
		if v.Snapshot, err = decodeFields(data); err != nil {
			return nil, err
		}
		if v.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse version time: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*core.Record, error) {
	var (
		rec       core.Record
		fields    string
		updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.Row, &fields, &updatedAt); err != nil {
		return nil, err
	}
	var err error
	if rec.Fields, err = decodeFields([]byte(fields)); err != nil {
		return nil, err
	}
	if rec.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return &rec, nil
}

func encodeFields(f core.Fields) (string, error) {
	if f == nil {
		f = core.Fields{}
	}
	data, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("failed to encode fields: %w", err)
	}
	return string(data), nil
}

func decodeFields(data []byte) (core.Fields, error) {
	fields := core.Fields{}
	if len(bytes.TrimSpace(data)) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields: %w", err)
	}
	return fields, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
