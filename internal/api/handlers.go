package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/unklstewy/skycapture/internal/auth"
	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/internal/db"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func jobID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		respondError(w, http.StatusBadRequest, "Invalid job id")
		return 0, false
	}
	return id, true
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "op", op, "error", err)
	}
	respondError(w, status, err.Error())
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	token, err := s.authSvc.Login(req.Username, req.Password)
	if err != nil {
		s.logger.Warn("login failed", "username", req.Username)
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"token":   token,
		"role":    auth.RoleOperator,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.seq.Snapshot())
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	snap := s.seq.Snapshot()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  snap.Jobs,
		"count": len(snap.Jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	for _, job := range s.seq.Snapshot().Jobs {
		if job.ID == id {
			respondJSON(w, http.StatusOK, job)
			return
		}
	}
	respondError(w, http.StatusNotFound, "Job not found")
}

func (s *Server) handleAddJob(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	job, err := capture.ParseJob(data)
	if err != nil {
		s.fail(w, "add job", err)
		return
	}
	id, err := s.seq.AddJob(job)
	if err != nil {
		s.fail(w, "add job", err)
		return
	}
	s.logger.Info("job added", "job", id, "frame_type", job.FrameType.String(), "count", job.Count)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"id":      id,
	})
}

func (s *Server) handleRemoveJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	if err := s.seq.RemoveJob(id); err != nil {
		s.fail(w, "remove job", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleMoveJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	var req struct {
		Position int `json:"position"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.seq.MoveJob(id, req.Position); err != nil {
		s.fail(w, "move job", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.seq.ClearQueue(); err != nil {
		s.fail(w, "clear queue", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleResetJobs(w http.ResponseWriter, r *http.Request) {
	if err := s.seq.ResetJobs(); err != nil {
		s.fail(w, "reset jobs", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.seq.Start(); err != nil {
		s.fail(w, "start", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.seq.Stop()
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	s.seq.Abort()
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.seq.Pause()
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

type pathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleLoadSequence(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.seq.LoadSequence(req.Path); err != nil {
		s.fail(w, "load sequence", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobs":    len(s.seq.Snapshot().Jobs),
	})
}

func (s *Server) handleSaveSequence(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	if err := s.seq.SaveSequence(req.Path); err != nil {
		s.fail(w, "save sequence", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// toggle decodes a {"enabled": bool, "value": number} body.
func toggle(w http.ResponseWriter, r *http.Request) (capture.ToggleSetting, bool) {
	var t capture.ToggleSetting
	if !decodeBody(w, r, &t) {
		return t, false
	}
	if t.Value < 0 {
		respondError(w, http.StatusBadRequest, "value must not be negative")
		return t, false
	}
	return t, true
}

func (s *Server) handleGuidingSettings(w http.ResponseWriter, r *http.Request) {
	t, ok := toggle(w, r)
	if !ok {
		return
	}
	s.seq.SetGuideDeviation(t.Enabled, t.Value)
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleFocusSettings(w http.ResponseWriter, r *http.Request) {
	t, ok := toggle(w, r)
	if !ok {
		return
	}
	s.seq.SetInSequenceFocus(t.Enabled, t.Value)
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleMeridianFlipSettings(w http.ResponseWriter, r *http.Request) {
	t, ok := toggle(w, r)
	if !ok {
		return
	}
	s.seq.SetMeridianFlip(t.Enabled, t.Value)
	respondJSON(w, http.StatusOK, t)
}

func (s *Server) handleTargetSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.seq.SetTargetName(req.Name)
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleHistorySettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ignore bool `json:"ignore"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.seq.SetIgnoreHistory(req.Ignore)
	respondJSON(w, http.StatusOK, req)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		respondError(w, http.StatusNotFound, "Capture history is not enabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = min(n, 500)
		}
	}
	sessions, err := s.sessions.ListRecent(r.Context(), limit)
	if err != nil {
		s.fail(w, "list sessions", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": sessions,
		"count":    len(sessions),
	})
}

func (s *Server) handleSessionFrames(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil || s.frames == nil {
		respondError(w, http.StatusNotFound, "Capture history is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.sessions.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		s.fail(w, "get session", err)
		return
	}
	frames, err := s.frames.ListBySession(r.Context(), id)
	if err != nil {
		s.fail(w, "list frames", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"frames": frames,
		"count":  len(frames),
	})
}

func (s *Server) handleIntegration(w http.ResponseWriter, r *http.Request) {
	if s.frames == nil {
		respondError(w, http.StatusNotFound, "Capture history is not enabled")
		return
	}
	totals, err := s.frames.IntegrationByTarget(r.Context(), chi.URLParam(r, "target"))
	if err != nil {
		s.fail(w, "integration", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"target":  chi.URLParam(r, "target"),
		"filters": totals,
	})
}
