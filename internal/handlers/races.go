// internal/handlers/races.go
package handlers

import (
	"encoding/json"
	"net/http"
)

// ListRacesHandler returns the in-memory room registry digest for clients
// browsing available races and for debugging.
func ListRacesHandler(s *RaceServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s.Rooms.Summaries())
	}
}

// HealthHandler is a trivial liveness probe.
func HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
