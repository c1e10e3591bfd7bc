package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/bookkeeping"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/dag"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/executor"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/internal/merge"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/core"
	"github.com/DavidBatoDev/ImHereTravels-BETA-sub006/pkg/valueconv"
)

func (s *Server) routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/columns", s.handleColumns)
		r.Get("/graph", s.handleGraph)
		r.Get("/events", s.handleEvents)

		r.Route("/records", func(r chi.Router) {
			r.Get("/", s.handleListRecords)
			r.Post("/", s.handleCreateRecord)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetRecord)
				r.Delete("/", s.handleDeleteRecord)
				r.Get("/history", s.handleHistory)
				r.Post("/save", s.handleSave)
				r.Delete("/session", s.handleCloseSession)

				r.Patch("/fields/{column}", s.handleEdit)
				r.Post("/fields/{column}/blur", s.handleBlur)
				r.Post("/fields/{column}/cancel", s.handleCancel)
			})
		})
	})
}

// recordView is the client representation of an open record.
type recordView struct {
	ID     string                           `json:"id"`
	Row    int                              `json:"row,omitempty"`
	Fields core.Fields                      `json:"fields"`
	Status map[string]executor.ColumnStatus `json:"status"`
	Active []string                         `json:"active"`
	// WriteError is the last failed write flush. Those writes stay
	// queued and are retried.
	WriteError string `json:"writeError,omitempty"`
}

type errorBody struct {
	Error   string   `json:"error"`
	Columns []string `json:"columns,omitempty"`
}

func (s *Server) handleColumns(w http.ResponseWriter, _ *http.Request) {
	snap := s.registry.Snapshot()
	bindingErrors := []string{}
	for _, err := range s.library.CheckBindings(snap.Columns) {
		bindingErrors = append(bindingErrors, err.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":       snap.Version,
		"columns":       snap.Columns,
		"bindingErrors": bindingErrors,
	})
}

func (s *Server) handleGraph(w http.ResponseWriter, _ *http.Request) {
	g := s.graphs.Get(s.registry.Snapshot())
	edges := g.Edges()
	if edges == nil {
		edges = []dag.Edge{}
	}
	hasCycle, cycle := g.HasCycle()

	writeJSON(w, http.StatusOK, map[string]any{
		"edges":    edges,
		"hasCycle": hasCycle,
		"cycle":    cycle,
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListRecords(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*core.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Fields core.Fields `json:"fields"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
			return
		}
	}

	rec, err := bookkeeping.NewRecord(r.Context(), s.store, s.registry.Snapshot(), body.Fields)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.auditor.RecordAsync(rec.ID, core.ChangeMeta{
		ChangeType:        core.ChangeTypeCreate,
		ChangedFieldPaths: rec.Fields.Keys(),
		UserID:            s.cfg.UserID,
		UserName:          s.cfg.UserName,
	})
	s.logger.Info("record created", "record_id", rec.ID, "row", rec.Row)
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := s.session(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	view := s.viewOf(sess)
	if rec, err := s.store.GetRecord(r.Context(), id); err == nil {
		view.Row = rec.Row
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.closeSession(id)
	if err := s.store.DeleteRecord(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("record deleted", "record_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams every committed record as a server-sent event until
// the client disconnects or the server closes.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "streaming unsupported"})
		return
	}

	ch, cancel := s.store.SubscribeAll()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(rec)
			if err != nil {
				s.logger.Error("encoding record event", "record_id", rec.ID, "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: record\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	versions, err := s.store.History(chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Value any `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error()})
		return
	}

	sess, err := s.session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := sess.OnLocalEdit(chi.URLParam(r, "column"), body.Value); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.viewOf(sess))
}

func (s *Server) handleBlur(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess.OnBlur(chi.URLParam(r, "column"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	sess.OnCancelEdit(chi.URLParam(r, "column"))
	writeJSON(w, http.StatusOK, s.viewOf(sess))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("settle") == "true" {
		sess.Settle()
	}

	start := time.Now()
	if err := sess.Save(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Debug("record saved", "record_id", sess.RecordID(), "duration_ms", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, s.viewOf(sess))
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if !s.closeSession(chi.URLParam(r, "id")) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no open session"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) viewOf(sess *merge.Session) recordView {
	active := sess.ActiveColumns()
	if active == nil {
		active = []string{}
	}
	view := recordView{
		ID:     sess.RecordID(),
		Fields: sess.Fields(),
		Status: sess.Status(),
		Active: active,
	}
	if err := s.queue.LastError(); err != nil {
		view.WriteError = err.Error()
	}
	return view
}

// writeError maps domain errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	var saveErr *merge.SaveError
	if errors.As(err, &saveErr) {
		body.Columns = saveErr.Columns
	}

	var convErr *valueconv.ConversionError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrRecordNotFound), errors.Is(err, merge.ErrUnknownColumn):
		status = http.StatusNotFound
	case errors.Is(err, merge.ErrComputedColumn):
		status = http.StatusBadRequest
	case errors.Is(err, merge.ErrStillComputing):
		status = http.StatusConflict
	case errors.Is(err, merge.ErrInvalidFields), errors.As(err, &convErr):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, merge.ErrClosed), errors.Is(err, errServerClosed):
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
