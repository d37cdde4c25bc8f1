package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/recruit-orchestrator/internal/model"
	"github.com/sells-group/recruit-orchestrator/internal/orchestrator"
	"github.com/sells-group/recruit-orchestrator/internal/session"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"sessions":  len(s.sessions.IDs()),
		"poll_jobs": s.dispatcher.ActiveJobs(),
	}
	if s.breakers != nil {
		states := make(map[string]string)
		for name, st := range s.breakers.States() {
			states[name] = st.String()
		}
		resp["breakers"] = states
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	store, created, err := s.sessions.Create(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, SessionResponse{SessionID: store.ID(), Created: created, Pipelines: []session.Snapshot{}})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	store, err := s.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	snaps := []session.Snapshot{}
	for _, p := range store.Pipelines() {
		snap, err := store.Snapshot(p.ID)
		if err != nil {
			writeError(w, err)
			return
		}
		snaps = append(snaps, snap)
	}
	writeJSON(w, http.StatusOK, SessionResponse{SessionID: store.ID(), Pipelines: snaps})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.dispatcher.EndSession(chi.URLParam(r, "sid")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := s.decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	chain := make([]model.Component, 0, len(req.Components))
	for i, cr := range req.Components {
		c, err := cr.Component()
		if err != nil {
			writeError(w, eris.Wrapf(err, "component %d", i))
			return
		}
		chain = append(chain, c)
	}
	p, err := s.dispatcher.CreatePipeline(chi.URLParam(r, "sid"), chain)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	store, err := s.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	snap, err := store.Snapshot(chi.URLParam(r, "pid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	info, err := s.dispatcher.Task(chi.URLParam(r, "taskID"))
	if err != nil || info.SessionID != chi.URLParam(r, "sid") {
		if err == nil {
			err = eris.Wrapf(model.ErrNotFound, "task %q", chi.URLParam(r, "taskID"))
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	idx, err := componentIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var body DispatchRequest
	if err := s.decode(r, &body, true); err != nil {
		writeError(w, err)
		return
	}
	req := orchestrator.Request{
		SessionID:      chi.URLParam(r, "sid"),
		PipelineID:     chi.URLParam(r, "pid"),
		ComponentIndex: idx,
		Candidates:     body.Candidates,
	}
	if body.ComponentType != "" {
		typ, err := model.ParseComponentType(body.ComponentType)
		if err != nil {
			writeError(w, eris.Wrap(errBadRequest, err.Error()))
			return
		}
		req.ComponentType = typ
	}
	ack, err := s.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	idx, err := componentIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.dispatcher.Interrupt(r.Context(), chi.URLParam(r, "sid"), chi.URLParam(r, "pid"), idx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleStatusDelta(w http.ResponseWriter, r *http.Request) {
	idx, err := componentIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var delta model.StatusDelta
	if err := s.decode(r, &delta, false); err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.dispatcher.ApplyStatusDelta(chi.URLParam(r, "sid"), chi.URLParam(r, "pid"), idx, delta)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleFilter(w http.ResponseWriter, r *http.Request) {
	idx, err := componentIndex(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req FilterRequest
	if err := s.decode(r, &req, true); err != nil {
		writeError(w, err)
		return
	}
	store, err := s.sessions.Get(chi.URLParam(r, "sid"))
	if err != nil {
		writeError(w, err)
		return
	}
	pid := chi.URLParam(r, "pid")
	removed, err := store.FilterCandidates(pid, idx, req.IDs, req.Names)
	if err != nil {
		writeError(w, err)
		return
	}
	truncated, err := store.Truncated(pid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FilterResponse{Removed: removed, Truncated: truncated})
}

// decode reads a JSON body into v and validates it. With optional set, an
// empty body is accepted.
func (s *Server) decode(r *http.Request, v any, optional bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case errors.Is(err, io.EOF) && optional:
	case err != nil:
		return eris.Wrap(errBadRequest, "invalid request body: "+err.Error())
	}
	if err := s.validate.Struct(v); err != nil {
		return eris.Wrap(errBadRequest, validationMessage(err))
	}
	return nil
}

func componentIndex(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "idx")
	idx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, eris.Wrapf(errBadRequest, "component index %q is not a number", raw)
	}
	return idx, nil
}
