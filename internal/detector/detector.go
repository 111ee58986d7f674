// Package detector sends frames to the remote object-detection service and
// tracks the single in-flight request of a capture stream.
package detector

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"

	"github.com/ayusman/stationeye/internal/session"
	"github.com/ayusman/stationeye/internal/settings"
)

var (
	// ErrInFlight is returned by Stream.Send while a previous request is
	// still outstanding.
	ErrInFlight = errors.New("detection request already in flight")
	// ErrEmptyFrame is returned for a frame without payload.
	ErrEmptyFrame = errors.New("frame payload is empty")
	// ErrProtocol marks a response that does not follow the detection wire format.
	ErrProtocol = errors.New("malformed detection response")
)

// DefaultConfidenceThreshold is used by the script client when the request
// does not carry one.
const DefaultConfidenceThreshold = 0.45

// Box is an axis-aligned box in source pixels.
type Box struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Rect returns the box as an image.Rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

// Detection is one detected object.
type Detection struct {
	Class      string  `json:"className"`
	Confidence float64 `json:"confidence"` // [0,1]
	Box        Box     `json:"box"`
}

// Result is the outcome of one detection request. A new Result supersedes
// the previous one entirely.
type Result struct {
	Detections     []Detection
	AnnotatedImage []byte        // encoded image; nil when the service drew nothing
	ProcessingTime time.Duration // zero when the service did not report it
	SessionID      session.ID
	FrameSeq       uint64
	ReceivedAt     time.Time
}

// HasAnnotatedImage reports whether the service returned a pre-drawn image.
func (r *Result) HasAnnotatedImage() bool {
	return r != nil && len(r.AnnotatedImage) > 0
}

// Request is one detection call.
type Request struct {
	Image               []byte // JPEG payload
	SessionID           session.ID
	Classes             []string // nil means every class
	Speed               settings.Speed
	ConfidenceThreshold float64 // zero leaves the service default
}

// Client defines the interface for detection service implementations.
type Client interface {
	// Detect sends one image and returns the parsed result.
	Detect(ctx context.Context, req Request) (*Result, error)

	// Close releases any resources held by the client.
	Close() error
}
