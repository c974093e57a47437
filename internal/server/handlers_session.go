package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crosstalk-ai/crosstalk/internal/client"
	"github.com/crosstalk-ai/crosstalk/internal/storage"
	"github.com/crosstalk-ai/crosstalk/internal/termsnap"
	"github.com/crosstalk-ai/crosstalk/internal/toolrun"
	"github.com/crosstalk-ai/crosstalk/internal/turn"
	"github.com/crosstalk-ai/crosstalk/pkg/types"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.client.ListSessions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// CreateSessionRequest is the body of POST /session.
type CreateSessionRequest struct {
	Surface  string   `json:"surface"`
	Model    string   `json:"model"`
	WorkDir  string   `json:"workDir,omitempty"`
	URL      string   `json:"url,omitempty"`
	MaxTurns int      `json:"maxTurns,omitempty"`
	TaskID   string   `json:"taskId,omitempty"`
	Tools    []string `json:"tools,omitempty"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	record, err := s.client.CreateSession(r.Context(), client.CreateOptions{
		Surface:  types.Surface(req.Surface),
		Model:    req.Model,
		WorkDir:  req.WorkDir,
		URL:      req.URL,
		MaxTurns: req.MaxTurns,
		TaskID:   req.TaskID,
		Tools:    req.Tools,
	})
	if err != nil {
		if errors.Is(err, client.ErrOutsideProject) {
			writeError(w, http.StatusBadRequest, ErrCodeOutsideProject, err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, record)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.client.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.client.DeleteSession(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	writeSuccess(w)
}

// SendMessageRequest is the body of POST /session/{id}/message.
type SendMessageRequest struct {
	Text  string   `json:"text"`
	Tools []string `json:"tools,omitempty"`
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "text required")
		return
	}

	if len(req.Tools) > 0 {
		res, err := s.client.SubmitTurn(r.Context(), id, req.Text, req.Tools)
		if err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	res, err := s.client.SendMessage(r.Context(), id, req.Text)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ConfirmRequest is the body of POST /session/{id}/confirm.
type ConfirmRequest struct {
	CallID  string `json:"callId"`
	Outcome string `json:"outcome"`
}

func (s *Server) confirmToolCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}

	res, err := s.client.ConfirmToolCall(r.Context(), id, req.CallID, types.ConfirmOutcome(req.Outcome))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	s.client.Abort(chi.URLParam(r, "id"))
	writeSuccess(w)
}

func (s *Server) terminateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.client.Terminate(r.Context(), id); err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeSuccess(w)
}

// SnapshotRequest is the body of POST /session/{id}/snapshot.
type SnapshotRequest struct {
	Buffer string `json:"buffer"`
}

// importSnapshot parses a captured terminal buffer into transcript messages.
func (s *Server) importSnapshot(w http.ResponseWriter, r *http.Request) {
	var req SnapshotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, termsnap.Parse(req.Buffer))
}

// writeSessionError maps session operation errors onto HTTP statuses.
func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	var unknownCall *toolrun.UnknownCallError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "session not found")
	case errors.As(err, &unknownCall),
		errors.Is(err, turn.ErrToolsAfterFirstTurn),
		errors.Is(err, turn.ErrTurnInFlight),
		errors.Is(err, turn.ErrAwaitingConfirmations),
		errors.Is(err, client.ErrNotAPISession):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
