package api

import (
	"net/http"

	"github.com/pkg/errors"

	"github.com/ayusman/stationeye/internal/session"
	"github.com/ayusman/stationeye/internal/store"
)

// RecentLimit bounds the recent detections returned by /api/session.
const RecentLimit = 20

// StatsHandler serves /api/stats and /api/session.
type StatsHandler struct {
	stats   StatsSource
	session session.ID
	store   *store.Store
}

// NewStatsHandler creates a new StatsHandler. db may be nil.
func NewStatsHandler(s StatsSource, id session.ID, db *store.Store) *StatsHandler {
	return &StatsHandler{stats: s, session: id, store: db}
}

// ServeStats returns the latest snapshot, or 503 before the first poll succeeded.
func (h *StatsHandler) ServeStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, ok := h.stats.Latest()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "statistics not available yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type sessionResponse struct {
	SessionID string         `json:"sessionId"`
	Summary   *store.Session `json:"summary,omitempty"`
	Recent    []store.Object `json:"recent,omitempty"`
}

// ServeSession returns the session id with the locally recorded summary.
func (h *StatsHandler) ServeSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp := sessionResponse{SessionID: h.session.String()}
	if h.store == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	summary, err := h.store.Detections().Summary(h.session)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to load session summary")
		return
	default:
		resp.Summary = summary
	}

	recent, err := h.store.Detections().Recent(h.session, RecentLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load recent detections")
		return
	}
	resp.Recent = recent

	writeJSON(w, http.StatusOK, resp)
}
