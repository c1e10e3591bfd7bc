package merge

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/columns"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/executor"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/recompute"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/valueconv"
)

// DefaultBlurGrace is how long a blurred column stays shielded from remote
// snapshots, to tolerate a quick refocus.
const DefaultBlurGrace = 100 * time.Millisecond

// Columns provides the current column snapshot. *columns.Registry implements it.
type Columns interface {
	Snapshot() columns.Snapshot
}

// WriteQueue accepts partial field writes for persistence.
// *writequeue.Queue implements it.
type WriteQueue interface {
	Enqueue(recordID string, fields core.Fields)
	Flush(ctx context.Context) error
}

// Config holds the configuration for a Session.
type Config struct {
	Columns Columns
	Invoker executor.Invoker
	Writes  WriteQueue

	Timeout     time.Duration
	MaxParallel int
	MaxDepth    int
	Debounce    time.Duration
	BlurGrace   time.Duration

	// OnChange, if set, is called with the visible fields after every change.
	// It runs without the session lock held.
	OnChange func(recordID string, fields core.Fields)

	Logger *slog.Logger
}

// Session owns the visible field state of one record being edited.
// All methods are safe for concurrent use.
type Session struct {
	recordID  string
	columns   Columns
	writes    WriteQueue
	status    *executor.StatusTracker
	scheduler *recompute.Scheduler
	blurGrace time.Duration
	onChange  func(string, core.Fields)
	logger    *slog.Logger

	mu         sync.Mutex
	edit       *EditState
	visible    core.Fields
	remote     core.Fields
	invalid    map[string]error
	blurTimers map[string]*time.Timer
	closed     bool
}

// NewSession opens an editing session seeded from rec.
func NewSession(cfg Config, rec *core.Record) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	blurGrace := cfg.BlurGrace
	if blurGrace <= 0 {
		blurGrace = DefaultBlurGrace
	}

	s := &Session{
		recordID:   rec.ID,
		columns:    cfg.Columns,
		writes:     cfg.Writes,
		status:     executor.NewStatusTracker(),
		blurGrace:  blurGrace,
		onChange:   cfg.OnChange,
		logger:     logger.With("record_id", rec.ID),
		edit:       NewEditState(),
		visible:    rec.Fields.Clone(),
		remote:     rec.Fields.Clone(),
		invalid:    make(map[string]error),
		blurTimers: make(map[string]*time.Timer),
	}

	engine := executor.New(executor.Config{
		Invoker: cfg.Invoker,
		Timeout: cfg.Timeout,
		Status:  s.status,
		Logger:  s.logger,
	})
	rc := recompute.New(recompute.Config{
		Columns:     cfg.Columns,
		Engine:      engine,
		MaxParallel: cfg.MaxParallel,
		MaxDepth:    cfg.MaxDepth,
		Logger:      s.logger,
	})
	s.scheduler = recompute.NewScheduler(recompute.SchedulerConfig{
		Recomputer: rc,
		RecordID:   rec.ID,
		Debounce:   cfg.Debounce,
		Snapshot:   s.Fields,
		Publish:    s.publish,
		Logger:     s.logger,
	})
	return s
}

// RecordID returns the id of the record being edited.
func (s *Session) RecordID() string {
	return s.recordID
}

// OnLocalEdit applies user input to a column. The raw value is kept as the
// column's overlay while the column is active; the converted value becomes
// visible, is queued for persistence and triggers a recompute. Input that
// does not convert is recorded as a validation error and goes no further.
func (s *Session) OnLocalEdit(columnID string, raw any) error {
	col, ok := s.columns.Snapshot().ByID(columnID)
	if !ok {
		return ErrUnknownColumn
	}
	if col.IsComputed() {
		return ErrComputedColumn
	}

	value, convErr := valueconv.Coerce(col.DataType, raw)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.stopBlurLocked(columnID)
	s.edit.Begin(columnID, raw)
	if convErr != nil {
		s.invalid[columnID] = convErr
		s.mu.Unlock()
		return convErr
	}
	delete(s.invalid, columnID)
	s.visible[columnID] = value
	fields := s.visible.Clone()
	s.mu.Unlock()

	if s.writes != nil {
		s.writes.Enqueue(s.recordID, core.Fields{columnID: value})
	}
	s.scheduler.Notify(columnID)
	s.changed(fields)
	return nil
}

// OnRemoteSnapshot merges a persisted record into the visible state and
// returns the accepted column ids.
func (s *Session) OnRemoteSnapshot(rec *core.Record) []string {
	snap := s.columns.Snapshot()
	isComputed := func(id string) bool {
		c, ok := snap.ByID(id)
		return ok && c.IsComputed()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.remote = rec.Fields.Clone()
	accepted := s.edit.Merge(s.visible, s.remote, isComputed)
	fields := s.visible.Clone()
	s.mu.Unlock()

	if len(accepted) > 0 {
		s.logger.Debug("remote snapshot merged", "accepted", accepted)
		s.changed(fields)
	}
	return accepted
}

// OnBlur releases the column after the grace delay. Editing the column
// again before the delay elapses keeps it active.
func (s *Session) OnBlur(columnID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !s.edit.IsActive(columnID) {
		return
	}
	s.stopBlurLocked(columnID)
	var t *time.Timer
	t = time.AfterFunc(s.blurGrace, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.blurTimers[columnID] != t {
			return // refocused, or a newer blur owns the column
		}
		delete(s.blurTimers, columnID)
		s.edit.End(columnID)
	})
	s.blurTimers[columnID] = t
}

// OnCommit is OnBlur for an explicit confirmation such as pressing enter.
func (s *Session) OnCommit(columnID string) {
	s.OnBlur(columnID)
}

// OnCancelEdit drops the local edit and restores the last known remote
// value. The restored value is queued and recomputed when it differs from
// what was visible.
func (s *Session) OnCancelEdit(columnID string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.stopBlurLocked(columnID)
	s.edit.End(columnID)
	delete(s.invalid, columnID)

	remoteValue, hasRemote := s.remote[columnID]
	current := s.visible[columnID]
	if hasRemote {
		s.visible[columnID] = remoteValue
	} else {
		delete(s.visible, columnID)
	}
	differs := !core.Equal(current, remoteValue)
	fields := s.visible.Clone()
	s.mu.Unlock()

	if !differs {
		return
	}
	if s.writes != nil {
		s.writes.Enqueue(s.recordID, core.Fields{columnID: remoteValue})
	}
	s.scheduler.Notify(columnID)
	s.changed(fields)
}

// Value returns the value to display: the overlay of an active column, then
// the visible value, then the column default.
func (s *Session) Value(columnID string) any {
	s.mu.Lock()
	if v, ok := s.edit.Overlay(columnID); ok {
		s.mu.Unlock()
		return v
	}
	v, ok := s.visible[columnID]
	s.mu.Unlock()
	if ok && v != nil {
		return v
	}

	if col, found := s.columns.Snapshot().ByID(columnID); found {
		return col.Default()
	}
	return nil
}

// Fields returns a copy of the visible fields.
func (s *Session) Fields() core.Fields {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.visible.Clone()
}

// IsActive reports whether a column is under local input.
func (s *Session) IsActive(columnID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edit.IsActive(columnID)
}

// ActiveColumns returns the columns under local input.
func (s *Session) ActiveColumns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edit.Active()
}

// Status returns the transient status of every computing, failed or
// invalid column.
func (s *Session) Status() map[string]executor.ColumnStatus {
	out := s.status.Snapshot()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, err := range s.invalid {
		st := out[id]
		st.Error = err.Error()
		out[id] = st
	}
	return out
}

// Computing reports whether a column is being computed.
func (s *Session) Computing(columnID string) bool {
	return s.status.Computing(columnID)
}

// CanSave returns nil when nothing is computing or pending and no column
// holds invalid input.
func (s *Session) CanSave() error {
	if cols := s.status.ComputingColumns(); len(cols) > 0 {
		return &SaveError{Err: ErrStillComputing, Columns: cols}
	}
	if s.scheduler.Busy() {
		return &SaveError{Err: ErrStillComputing}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.invalid) > 0 {
		cols := make([]string, 0, len(s.invalid))
		for id := range s.invalid {
			cols = append(cols, id)
		}
		sort.Strings(cols)
		return &SaveError{Err: ErrInvalidFields, Columns: cols}
	}
	return nil
}

// Save checks CanSave and flushes queued writes.
func (s *Session) Save(ctx context.Context) error {
	if err := s.CanSave(); err != nil {
		return err
	}
	if s.writes == nil {
		return nil
	}
	return s.writes.Flush(ctx)
}

// Settle runs any pending recompute now and waits for in-flight runs.
func (s *Session) Settle() {
	s.scheduler.Flush()
}

// Watch feeds remote snapshots of the record into the session until ctx is
// done or the subscription ends. The record is re-read once subscribed so
// commits made between session creation and Watch are not missed.
func (s *Session) Watch(ctx context.Context, store core.RecordStore) {
	ch, cancel := store.SubscribeRecord(s.recordID)
	defer cancel()

	if rec, err := store.GetRecord(ctx, s.recordID); err == nil {
		s.OnRemoteSnapshot(rec)
	} else if ctx.Err() == nil {
		s.logger.Warn("record re-read failed", "record_id", s.recordID, "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			s.OnRemoteSnapshot(rec)
		}
	}
}

// Close stops timers and pending recomputes.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	for id, t := range s.blurTimers {
		t.Stop()
		delete(s.blurTimers, id)
	}
	s.mu.Unlock()

	s.scheduler.Close()
}

// publish applies the changed computed values of a run onto the visible
// state. Only changed outputs are written so that edits made while the run
// was in flight survive.
func (s *Session) publish(_ context.Context, res *recompute.RunResult) {
	if len(res.Changed) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	for id, v := range res.Changed {
		s.visible[id] = v
	}
	fields := s.visible.Clone()
	s.mu.Unlock()

	if s.writes != nil {
		s.writes.Enqueue(s.recordID, res.Changed.Clone())
	}
	if res.Truncated {
		s.logger.Warn("recompute truncated, columns may be inconsistent", "changed", res.ChangedIDs())
	}
	s.changed(fields)
}

func (s *Session) stopBlurLocked(columnID string) {
	if t, ok := s.blurTimers[columnID]; ok {
		t.Stop()
		delete(s.blurTimers, columnID)
	}
}

func (s *Session) changed(fields core.Fields) {
	if s.onChange != nil {
		s.onChange(s.recordID, fields)
	}
}
