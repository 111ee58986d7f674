package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/stationeye/internal/settings"
)

// SettingsHandler serves /api/settings.
type SettingsHandler struct {
	store *settings.Store
}

// NewSettingsHandler creates a new SettingsHandler.
func NewSettingsHandler(s *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: s}
}

// ServeHTTP returns the settings on GET and replaces them on PUT.
// Fields missing from a PUT body keep their current value.
func (h *SettingsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.store.Get())
	case http.MethodPut:
		next := h.store.Get()
		if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := next.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.store.Set(next); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to save settings")
			return
		}
		writeJSON(w, http.StatusOK, h.store.Get())
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
