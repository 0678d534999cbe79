package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	// sseKeepaliveInterval is how often a comment frame is written to
	// keep intermediaries from closing an idle stream.
	sseKeepaliveInterval = 15 * time.Second

	// sseMaxDuration is the maximum time an SSE stream may remain open.
	// Clients are expected to reconnect.
	sseMaxDuration = 1 * time.Hour
)

// streamState handles GET /qa/sessions/{sessionID}/stream (SSE).
// Every applied event pushes one state frame. A slow client observes
// the latest state, never a backlog: the subscription coalesces.
func (s *Server) streamState(w http.ResponseWriter, r *http.Request) {
	orch, ok := s.session(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	updates, cancel := orch.Subscribe()
	defer cancel()

	logger := s.logger.With().Str("session_id", orch.ID()).Logger()
	logger.Debug().Msg("state stream started")

	// Send the current state first so the client never renders blind.
	sendStateEvent(w, flusher, stateToResponse(orch.Snapshot()))

	deadlineTimer := time.NewTimer(sseMaxDuration)
	defer deadlineTimer.Stop()
	keepalive := time.NewTicker(sseKeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			logger.Debug().Msg("state stream client disconnected")
			return

		case <-deadlineTimer.C:
			logger.Debug().Msg("state stream max duration exceeded")
			return

		case snapshot, open := <-updates:
			if !open {
				// Session torn down.
				logger.Debug().Msg("state stream closed with session")
				return
			}
			sendStateEvent(w, flusher, stateToResponse(snapshot))

		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

// sendStateEvent writes a single state frame to the response writer.
func sendStateEvent(w http.ResponseWriter, flusher http.Flusher, state stateResponse) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: state\ndata: %s\n\n", data)
	flusher.Flush()
}
