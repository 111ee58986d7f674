package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
)

// PauseHandler serves /api/pause.
type PauseHandler struct {
	pauser Pauser
}

// NewPauseHandler creates a new PauseHandler.
func NewPauseHandler(p Pauser) *PauseHandler {
	return &PauseHandler{pauser: p}
}

type pauseResponse struct {
	Paused bool `json:"paused"`
}

type pauseRequest struct {
	Paused *bool `json:"paused"`
}

// ServeHTTP reads the pause state on GET. POST toggles it, or sets it when
// the body carries {"paused": bool}.
func (h *PauseHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, pauseResponse{Paused: h.pauser.Paused()})
	case http.MethodPost:
		var req pauseRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.Paused == nil {
			writeJSON(w, http.StatusOK, pauseResponse{Paused: h.pauser.TogglePause()})
			return
		}
		h.pauser.SetPaused(*req.Paused)
		writeJSON(w, http.StatusOK, pauseResponse{Paused: h.pauser.Paused()})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
