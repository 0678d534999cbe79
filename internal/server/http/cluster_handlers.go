package httpserver

import (
	"net/http"
	"strconv"
)

// rebuildClusters handles POST /clusters/rebuild.
// It triggers a clustering run and returns immediately; the monitor
// observes the job in the background.
func (s *Server) rebuildClusters(w http.ResponseWriter, r *http.Request) {
	run, err := s.monitor.Rebuild(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, runToResponse(run))
}

// clusteringStatus handles GET /clusters/status.
// It returns the run being observed, or the last finished one.
func (s *Server) clusteringStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, runToResponse(s.monitor.Current()))
}

// deleteClusters handles DELETE /clusters?confirm=true.
// The wipe is destructive, so the confirm flag must be explicit.
func (s *Server) deleteClusters(w http.ResponseWriter, r *http.Request) {
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	if err := s.monitor.DeleteClusters(r.Context(), confirm); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
