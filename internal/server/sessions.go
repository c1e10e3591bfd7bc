package server

import (
	"context"
	"errors"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/merge"
)

// errServerClosed is returned when sessions are requested after Close.
var errServerClosed = errors.New("server closed")

type openSession struct {
	session *merge.Session
	cancel  context.CancelFunc
	done    chan struct{}
}

func (o *openSession) close() {
	o.cancel()
	<-o.done
	o.session.Close()
}

// session returns the open session of a record, opening it on first use.
func (s *Server) session(ctx context.Context, recordID string) (*merge.Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errServerClosed
	}
	if o, ok := s.sessions[recordID]; ok {
		s.mu.Unlock()
		return o.session, nil
	}
	s.mu.Unlock()

	rec, err := s.store.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	sess := merge.NewSession(merge.Config{
		Columns:     s.registry,
		Invoker:     s.library,
		Writes:      s.queue,
		Timeout:     s.cfg.Timeout,
		MaxParallel: s.cfg.MaxParallel,
		MaxDepth:    s.cfg.MaxDepth,
		Debounce:    s.cfg.Debounce,
		BlurGrace:   s.cfg.BlurGrace,
		Logger:      s.logger,
	}, rec)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sess.Close()
		return nil, errServerClosed
	}
	if o, ok := s.sessions[recordID]; ok {
		// Lost a race with a concurrent open.
		sess.Close()
		return o.session, nil
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	o := &openSession{session: sess, cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(o.done)
		sess.Watch(watchCtx, s.store)
	}()
	s.sessions[recordID] = o
	s.logger.Debug("session opened", "record_id", recordID)
	return sess, nil
}

// closeSession ends the session of a record, if any.
func (s *Server) closeSession(recordID string) bool {
	s.mu.Lock()
	o, ok := s.sessions[recordID]
	delete(s.sessions, recordID)
	s.mu.Unlock()

	if ok {
		o.close()
		s.logger.Debug("session closed", "record_id", recordID)
	}
	return ok
}

// SessionCount returns the number of open sessions.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
