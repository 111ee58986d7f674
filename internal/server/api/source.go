package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/stationeye/internal/capture"
)

// MaxUploadBytes bounds an uploaded image.
const MaxUploadBytes = 20 << 20

// SourceHandler serves /api/source and /api/upload.
type SourceHandler struct {
	source Source
}

// NewSourceHandler creates a new SourceHandler.
func NewSourceHandler(s Source) *SourceHandler {
	return &SourceHandler{source: s}
}

type switchSourceRequest struct {
	Mode string `json:"mode"`
}

// ServeSource handles GET (current status) and POST (switch to camera) on /api/source.
func (h *SourceHandler) ServeSource(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.source.Status())
	case http.MethodPost:
		var req switchSourceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		mode, err := capture.ParseMode(req.Mode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if mode != capture.ModeLiveCamera {
			writeError(w, http.StatusBadRequest, "use /api/upload to switch to an uploaded image")
			return
		}
		writeJSON(w, http.StatusOK, h.source.AcquireCamera(r.Context()))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ServeUpload handles POST /api/upload with a multipart "image" field.
func (h *SourceHandler) ServeUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing image file")
		return
	}
	defer file.Close()

	st := h.source.LoadImage(file)
	if st.State == capture.StateUnavailable {
		writeJSON(w, http.StatusUnprocessableEntity, st)
		return
	}
	writeJSON(w, http.StatusAccepted, st)
}
