package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind/qa-orchestrator/internal/observability"
)

func TestCorrelationIDMiddleware_PropagatesHeader(t *testing.T) {
	var captured string
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, "abc-123", captured)
	assert.Equal(t, "abc-123", rr.Header().Get("X-Correlation-ID"))
}

func TestCorrelationIDMiddleware_GeneratesWhenMissing(t *testing.T) {
	var captured string
	handler := correlationIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.NotEmpty(t, captured)
	assert.Equal(t, captured, rr.Header().Get("X-Correlation-ID"))
}

func TestJSONContentType_OnAPIResponses(t *testing.T) {
	s := newTestServer(t, &stubBackend{})
	sessionID := createTestSession(t, s)

	rr := doRequest(t, s, http.MethodGet, "/api/v1/qa/sessions/"+sessionID, nil)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}
