package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/documind/qa-orchestrator/internal/backend"
	"github.com/documind/qa-orchestrator/internal/domain"
)

// openStream performs a live SSE request against the server and
// returns a reader over the response body.
func openStream(t *testing.T, ts *httptest.Server, sessionID string) (*bufio.Reader, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.URL+"/api/v1/qa/sessions/"+sessionID+"/stream", nil)
	require.NoError(t, err)

	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	t.Cleanup(func() {
		cancel()
		resp.Body.Close()
	})
	return bufio.NewReader(resp.Body), cancel
}

// readStateFrame reads lines until one full SSE state frame has been
// consumed and returns its decoded payload. Keepalive comments are
// skipped.
func readStateFrame(t *testing.T, r *bufio.Reader) stateResponse {
	t.Helper()

	var data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")

		switch {
		case strings.HasPrefix(line, ":"):
			// Keepalive comment.
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && data != "":
			var state stateResponse
			require.NoError(t, json.Unmarshal([]byte(data), &state))
			return state
		}
	}
}

// readUntilStage consumes frames until the wanted stage arrives.
func readUntilStage(t *testing.T, r *bufio.Reader, stage string) stateResponse {
	t.Helper()
	for i := 0; i < 50; i++ {
		state := readStateFrame(t, r)
		if state.Stage == stage {
			return state
		}
	}
	t.Fatalf("stage %s never arrived on the stream", stage)
	return stateResponse{}
}

func TestStreamState_InitialSnapshot(t *testing.T) {
	s := newTestServer(t, &stubBackend{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	sessionID := createTestSession(t, s)
	stream, cancel := openStream(t, ts, sessionID)

	first := readStateFrame(t, stream)
	assert.Equal(t, string(domain.StageIdle), first.Stage)
	assert.Zero(t, first.StageSeq)

	cancel()
}

func TestStreamState_PushesStageChanges(t *testing.T) {
	stub := &stubBackend{
		classifyFn: func(ctx context.Context, question string) (backend.ClassifyResult, error) {
			return backend.ClassifyResult{
				Intent:        domain.IntentAmbiguous,
				Clarification: "Which version do you mean?",
			}, nil
		},
	}
	s := newTestServer(t, stub)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	sessionID := createTestSession(t, s)
	stream, cancel := openStream(t, ts, sessionID)
	readStateFrame(t, stream) // initial idle snapshot

	rr := doRequest(t, s, http.MethodPost, "/api/v1/qa/sessions/"+sessionID+"/question",
		questionRequest{Question: "How do I configure retention?"})
	require.Equal(t, http.StatusOK, rr.Code)

	pending := readUntilStage(t, stream, string(domain.StageNeedClarification))
	assert.Equal(t, "Which version do you mean?", pending.ClarificationQuestion)
	assert.Equal(t, "How do I configure retention?", pending.Question)

	cancel()
}

func TestStreamState_UnknownSession(t *testing.T) {
	s := newTestServer(t, &stubBackend{})

	rr := doRequest(t, s, http.MethodGet, "/api/v1/qa/sessions/nope/stream", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStreamState_EndsWithSession(t *testing.T) {
	s := newTestServer(t, &stubBackend{})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	sessionID := createTestSession(t, s)
	stream, _ := openStream(t, ts, sessionID)
	readStateFrame(t, stream)

	rr := doRequest(t, s, http.MethodDelete, "/api/v1/qa/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	// Deleting the session closes its subscriptions, which ends the
	// stream. The body must reach EOF promptly.
	eof := make(chan error, 1)
	go func() {
		_, err := io.ReadAll(stream)
		eof <- err
	}()
	select {
	case err := <-eof:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after session deletion")
	}
}
