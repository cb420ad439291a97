package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
)

// handleListJobs returns the names of the registered jobs
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	names := s.scheduler.JobNames()
	sort.Strings(names)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"jobs": names,
	})
}

// handleRunJob triggers a registered job outside its schedule. The job runs
// in the background; progress is visible on the event stream.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	found := false
	for _, registered := range s.scheduler.JobNames() {
		if registered == name {
			found = true
			break
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !found {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "Unknown job: " + name})
		return
	}

	go func() {
		if err := s.scheduler.RunNow(name); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("Manual job run failed")
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"job":    name,
		"status": "started",
	})
}
