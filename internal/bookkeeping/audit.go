package bookkeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// DefaultAuditTimeout bounds a single audit write.
const DefaultAuditTimeout = 5 * time.Second

// AuditorConfig holds the configuration for an Auditor.
type AuditorConfig struct {
	Reader   core.RecordReader
	Recorder core.ChangeRecorder
	UserID   string
	UserName string
	Timeout  time.Duration
	Logger   *slog.Logger
}

// Auditor writes a version snapshot of each record after its fields were
// persisted. Audit failures are logged and never reach the write path.
type Auditor struct {
	cfg    AuditorConfig
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewAuditor creates an Auditor.
func NewAuditor(cfg AuditorConfig) *Auditor {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAuditTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Auditor{cfg: cfg, logger: logger}
}

// RecordBatch audits every write of a committed batch without blocking.
// It matches writequeue.Config.OnCommitted.
func (a *Auditor) RecordBatch(writes []core.FieldWrite) {
	for _, w := range writes {
		a.RecordAsync(w.RecordID, core.ChangeMeta{
			ChangeType:        core.ChangeTypeUpdate,
			ChangedFieldPaths: w.Fields.Keys(),
			UserID:            a.cfg.UserID,
			UserName:          a.cfg.UserName,
		})
	}
}

// RecordAsync reads the record's full snapshot and records the change in the
// background.
func (a *Auditor) RecordAsync(recordID string, meta core.ChangeMeta) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.record(recordID, meta); err != nil {
			a.logger.Warn("audit snapshot failed", "record_id", recordID, "error", err)
		}
	}()
}

// Wait blocks until every pending audit write finished.
func (a *Auditor) Wait() {
	a.wg.Wait()
}

func (a *Auditor) record(recordID string, meta core.ChangeMeta) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Timeout)
	defer cancel()

	rec, err := a.cfg.Reader.GetRecord(ctx, recordID)
	if err != nil {
		return fmt.Errorf("reading record: %w", err)
	}
	if err := a.cfg.Recorder.RecordChange(ctx, recordID, rec.Fields, meta); err != nil {
		return fmt.Errorf("recording change: %w", err)
	}
	a.logger.Debug("audit snapshot written", "record_id", recordID, "changed", meta.ChangedFieldPaths)
	return nil
}
