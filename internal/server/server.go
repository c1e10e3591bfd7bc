// Package server exposes booking records to UI clients over HTTP. Each opened
// record gets a merge session fed by the store's change stream; edits flow
// through the shared write queue and are audited after commit.
package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/bookkeeping"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/columns"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/dag"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/functions"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/state"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/writequeue"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
)

// reloadDebounce coalesces bursts of file events into one reload.
const reloadDebounce = 100 * time.Millisecond

// Store is the persistence the server needs.
type Store interface {
	core.RecordStore
	core.ChangeRecorder
	state.HistoryReader
	ListRecords(ctx context.Context) ([]*core.Record, error)
	DeleteRecord(ctx context.Context, id string) error
}

// Config holds configuration for the server.
type Config struct {
	Registry    *columns.Registry
	Library     *functions.Library
	Store       Store
	ColumnsPath string

	Host  string
	Port  int
	Watch bool

	Timeout     time.Duration
	MaxParallel int
	MaxDepth    int
	Debounce    time.Duration
	BlurGrace   time.Duration

	MaxRecords  int
	FlushWindow time.Duration
	Retries     uint64
	RetryBase   time.Duration

	UserID   string
	UserName string

	Logger *slog.Logger
}

// Server serves the booking API.
type Server struct {
	cfg      Config
	registry *columns.Registry
	library  *functions.Library
	store    Store
	queue    *writequeue.Queue
	auditor  *bookkeeping.Auditor
	graphs   dag.Cache
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*openSession
	closed   bool

	// done is closed by Close to end event streams and the column follower.
	done       chan struct{}
	unfollow   func()
	followDone chan struct{}
}

// NewServer creates a new server instance.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:      cfg,
		registry: cfg.Registry,
		library:  cfg.Library,
		store:    cfg.Store,
		logger:   logger,
		sessions: make(map[string]*openSession),
		done:     make(chan struct{}),
	}
	s.auditor = bookkeeping.NewAuditor(bookkeeping.AuditorConfig{
		Reader:   cfg.Store,
		Recorder: cfg.Store,
		UserID:   cfg.UserID,
		UserName: cfg.UserName,
		Logger:   logger,
	})
	s.queue = writequeue.New(writequeue.Config{
		Writer:      cfg.Store,
		MaxRecords:  cfg.MaxRecords,
		FlushWindow: cfg.FlushWindow,
		Retries:     cfg.Retries,
		RetryBase:   cfg.RetryBase,
		OnCommitted: s.auditor.RecordBatch,
		OnError: func(err error) {
			logger.Error("background write failed", "error", err)
		},
		Logger: logger,
	})
	s.followColumns()
	return s
}

// Handler returns the HTTP handler with all routes registered.
func (s *Server) Handler() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.Recoverer,
	)
	s.routes(r)
	return r
}

// Serve starts the server and blocks until the context is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port))
	s.logger.Info("starting server", "addr", "http://"+addr)

	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Watch {
		eg.Go(func() error {
			return s.watchFiles(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return s.Close(shutdownCtx)
	})

	return eg.Wait()
}

// Close ends every session, flushes pending writes and waits for audits.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := s.sessions
	s.sessions = make(map[string]*openSession)
	close(s.done)
	s.mu.Unlock()

	s.unfollow()
	<-s.followDone
	for _, o := range open {
		o.close()
	}
	err := s.queue.Close(ctx)
	s.auditor.Wait()
	return err
}

// ReloadFunctions recompiles the function library.
func (s *Server) ReloadFunctions() error {
	if err := s.library.Reload(); err != nil {
		return err
	}
	s.logger.Info("functions reloaded", "count", len(s.library.Functions()))
	s.checkBindings(s.registry.Snapshot())
	return nil
}

// followColumns checks argument bindings after every registry change until
// Close.
func (s *Server) followColumns() {
	ch, cancel := s.registry.Subscribe()
	s.unfollow = cancel
	s.followDone = make(chan struct{})
	go func() {
		defer close(s.followDone)
		for snap := range ch {
			s.checkBindings(snap)
		}
	}()
}

// checkBindings logs computed columns whose arguments do not fit their
// function. Such columns still run and report an error status.
func (s *Server) checkBindings(snap columns.Snapshot) {
	for _, err := range s.library.CheckBindings(snap.Columns) {
		s.logger.Warn("column binding mismatch", "version", snap.Version, "error", err)
	}
}

// ReloadColumns re-reads the registry file and replaces the registry.
func (s *Server) ReloadColumns() error {
	if s.cfg.ColumnsPath == "" {
		return nil
	}
	cols, err := columns.Load(s.cfg.ColumnsPath)
	if err != nil {
		return err
	}
	if err := s.registry.Replace(cols); err != nil {
		return err
	}
	s.logger.Info("columns reloaded", "count", len(cols), "version", s.registry.Version())
	return nil
}

// watchFiles reloads functions and columns when their files change.
func (s *Server) watchFiles(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if dir := s.library.Dir(); dir != "" {
		if err := watchDirRecursive(watcher, dir); err != nil {
			s.logger.Error("failed to watch functions directory", "error", err)
		}
	}
	if s.cfg.ColumnsPath != "" {
		if err := watcher.Add(filepath.Dir(s.cfg.ColumnsPath)); err != nil {
			s.logger.Error("failed to watch columns file", "error", err)
		}
	}

	var (
		mu            sync.Mutex
		debounceTimer *time.Timer
		pendingFuncs  bool
		pendingCols   bool
	)
	defer func() {
		mu.Lock()
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			isFunc := filepath.Ext(event.Name) == functions.FileExt
			isCols := s.cfg.ColumnsPath != "" && filepath.Clean(event.Name) == filepath.Clean(s.cfg.ColumnsPath)
			if !isFunc && !isCols {
				continue
			}

			mu.Lock()
			pendingFuncs = pendingFuncs || isFunc
			pendingCols = pendingCols || isCols
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(reloadDebounce, func() {
				mu.Lock()
				funcs, cols := pendingFuncs, pendingCols
				pendingFuncs, pendingCols = false, false
				mu.Unlock()

				s.logger.Debug("files changed, reloading", "file", event.Name)
				if funcs {
					if err := s.ReloadFunctions(); err != nil {
						s.logger.Error("function reload failed", "error", err)
					}
				}
				if cols {
					if err := s.ReloadColumns(); err != nil {
						s.logger.Error("columns reload failed", "error", err)
					}
				}
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error("watcher error", "error", err)
		}
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return err
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
