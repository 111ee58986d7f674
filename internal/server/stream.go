package server

import (
	"bytes"
	"fmt"
	"image"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
)

// Snapshotter returns the current display image of the active source.
type Snapshotter interface {
	Snapshot() (image.Image, error)
}

// Compositor lays the detection overlay over a base image.
type Compositor interface {
	Composite(base image.Image) image.Image
}

// StreamInterval is the MJPEG frame period (~15 FPS).
const StreamInterval = 66 * time.Millisecond

// StreamHandler serves MJPEG frames of the source with the overlay on top.
type StreamHandler struct {
	frames   Snapshotter
	overlay  Compositor
	interval time.Duration
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(frames Snapshotter, overlay Compositor) *StreamHandler {
	return &StreamHandler{frames: frames, overlay: overlay, interval: StreamInterval}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var buf bytes.Buffer
	for {
		if img, err := h.frames.Snapshot(); err == nil {
			buf.Reset()
			if err := imaging.Encode(&buf, h.overlay.Composite(img), imaging.JPEG, imaging.JPEGQuality(80)); err == nil {
				fmt.Fprintf(w, "--frame\r\n")
				fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
				fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", buf.Len())
				w.Write(buf.Bytes())
				fmt.Fprintf(w, "\r\n")

				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}
