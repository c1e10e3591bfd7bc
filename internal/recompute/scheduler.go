package recompute

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// DefaultDebounce is the quiet period before a run starts.
const DefaultDebounce = 100 * time.Millisecond

// SchedulerConfig holds the configuration for a Scheduler.
type SchedulerConfig struct {
	Recomputer *Recomputer
	RecordID   string
	Debounce   time.Duration
	// Snapshot returns the latest visible fields when a run starts.
	Snapshot func() core.Fields
	// Publish receives every finished run.
	Publish func(ctx context.Context, res *RunResult)
	Logger  *slog.Logger
}

// Scheduler debounces field changes of one editing session. Changes arriving
// within the debounce window coalesce into a single run over the union of
// changed columns. A new change restarts the timer; it never cancels a run
// that already started, so runs may overlap. Each run reads the latest
// snapshot when it starts.
type Scheduler struct {
	cfg    SchedulerConfig
	logger *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending []string
	running int
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a Scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{cfg: cfg, logger: logger, ctx: ctx, cancel: cancel}
}

// Notify records changed columns and restarts the debounce timer.
func (s *Scheduler) Notify(columnIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || len(columnIDs) == 0 {
		return
	}
	for _, id := range columnIDs {
		if !containsID(s.pending, id) {
			s.pending = append(s.pending, id)
		}
	}

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.Debounce, s.fire)
}

// Flush starts the pending run immediately instead of waiting for the timer,
// then waits for all runs to finish.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()

	s.fire()
	s.Wait()
}

// Busy reports whether a run is pending or in flight.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0 || s.running > 0
}

// Wait blocks until no run is in flight.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close drops pending changes, cancels in-flight runs and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.closed || len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	changed := s.pending
	s.pending = nil
	s.timer = nil
	s.running++
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
		s.wg.Done()
	}()

	fields := s.cfg.Snapshot()
	s.logger.Debug("recompute run starting", "record_id", s.cfg.RecordID, "changed", changed)

	res := s.cfg.Recomputer.Run(s.ctx, s.cfg.RecordID, fields, changed)
	if s.cfg.Publish != nil {
		s.cfg.Publish(s.ctx, res)
	}
}
