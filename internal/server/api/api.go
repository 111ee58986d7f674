// Package api provides the operator HTTP API handlers for stationeye.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/ayusman/stationeye/internal/capture"
	"github.com/ayusman/stationeye/internal/stats"
)

// Source is the visual input the operator can switch.
type Source interface {
	Status() capture.Status
	AcquireCamera(ctx context.Context) capture.Status
	LoadImage(r io.Reader) capture.Status
}

// Pauser controls whether the capture scheduler sends frames.
type Pauser interface {
	Paused() bool
	SetPaused(paused bool)
	TogglePause() bool
}

// StatsSource returns the latest statistics snapshot.
type StatsSource interface {
	Latest() (stats.Snapshot, bool)
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
