package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/documind/qa-orchestrator/internal/domain"
	"github.com/documind/qa-orchestrator/internal/workflow"
)

// Validation constants.
const (
	maxRequestBodySize = 1 << 20 // 1 MB limit for request bodies
)

// questionRequest is the JSON request body for submitting a question.
type questionRequest struct {
	Question string `json:"question" validate:"required,min=3,max=10000"`
}

// textRequest is the JSON request body for clarifications and quick
// responses.
type textRequest struct {
	Text string `json:"text" validate:"required,max=10000"`
}

// createSession handles POST /qa/sessions.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	orch := s.registry.Create()
	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: orch.ID(),
		State:     stateToResponse(orch.Snapshot()),
	})
}

// getSession handles GET /qa/sessions/{sessionID}.
// It returns a read-only snapshot of the workflow state.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: orch.ID(),
		State:     stateToResponse(orch.Snapshot()),
	})
}

// deleteSession handles DELETE /qa/sessions/{sessionID}.
// Teardown cancels every active poll of the session.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.registry.Delete(sessionID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// submitQuestion handles POST /qa/sessions/{sessionID}/question.
func (s *Server) submitQuestion(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	var req questionRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.applyEvent(w, orch, func() (domain.WorkflowState, error) {
		return orch.SubmitQuestion(req.Question)
	})
}

// submitClarification handles POST /qa/sessions/{sessionID}/clarification.
func (s *Server) submitClarification(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	var req textRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.applyEvent(w, orch, func() (domain.WorkflowState, error) {
		return orch.SubmitClarification(req.Text)
	})
}

// chooseQuickResponse handles POST /qa/sessions/{sessionID}/quick-response.
func (s *Server) chooseQuickResponse(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	var req textRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.applyEvent(w, orch, func() (domain.WorkflowState, error) {
		return orch.ChooseQuickResponse(req.Text)
	})
}

// approveSearch handles POST /qa/sessions/{sessionID}/search/approve.
func (s *Server) approveSearch(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	s.applyEvent(w, orch, orch.ApproveSearch)
}

// skipSearch handles POST /qa/sessions/{sessionID}/search/skip.
func (s *Server) skipSearch(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	s.applyEvent(w, orch, orch.SkipSearch)
}

// approveDetailQuery handles POST /qa/sessions/{sessionID}/detail-query/approve.
func (s *Server) approveDetailQuery(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	s.applyEvent(w, orch, orch.ApproveDetailQuery)
}

// skipDetailQuery handles POST /qa/sessions/{sessionID}/detail-query/skip.
func (s *Server) skipDetailQuery(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	s.applyEvent(w, orch, orch.SkipDetailQuery)
}

// confirmDocuments handles POST /qa/sessions/{sessionID}/documents/confirm.
func (s *Server) confirmDocuments(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	s.applyEvent(w, orch, orch.ConfirmDocuments)
}

// requestMoreSearch handles POST /qa/sessions/{sessionID}/documents/more-search.
func (s *Server) requestMoreSearch(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}
	s.applyEvent(w, orch, orch.RequestMoreSearch)
}

// session resolves the session from the URL. A lookup also refreshes
// the session's idle TTL.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*workflow.Orchestrator, bool) {
	sessionID := chi.URLParam(r, "sessionID")
	orch, err := s.registry.Get(sessionID)
	if err != nil {
		writeDomainError(w, err)
		return nil, false
	}
	return orch, true
}

// applyEvent runs a workflow callback and writes the resulting state.
// An event the current stage does not accept maps to 409: the caller
// raced the workflow and lost, the visible state is untouched.
func (s *Server) applyEvent(w http.ResponseWriter, orch *workflow.Orchestrator, fn func() (domain.WorkflowState, error)) {
	state, err := fn()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		SessionID: orch.ID(),
		State:     stateToResponse(state),
	})
}

// decodeJSON reads, parses, and validates a JSON request body, writing
// a 400 response on failure.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return false
	}
	if err := json.Unmarshal(body, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		writeError(w, http.StatusBadRequest, "validation failed: "+err.Error())
		return false
	}
	return true
}

// writeDomainError maps domain errors to appropriate HTTP status codes
// and writes a JSON error response. Internal error details are not
// leaked to clients.
func writeDomainError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, domain.ErrInvalidInput):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			writeError(w, http.StatusBadRequest, ve.Error())
		} else {
			writeError(w, http.StatusBadRequest, "invalid input")
		}
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "event not legal in the current stage")
	case errors.Is(err, domain.ErrConfirmationRequired):
		writeError(w, http.StatusBadRequest, "confirmation required")
	case errors.Is(err, domain.ErrRunInProgress):
		writeError(w, http.StatusConflict, "a clustering run is in progress")
	case errors.Is(err, domain.ErrSessionClosed):
		writeError(w, http.StatusGone, "session closed")
	case errors.Is(err, domain.ErrTransport):
		writeError(w, http.StatusBadGateway, "document service unavailable")
	default:
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
