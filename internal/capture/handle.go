package capture

import (
	"bytes"
	"image"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// JPEGQuality is the encoder quality used for frame payloads.
const JPEGQuality = 80

// Frame is one encoded image payload plus the source dimensions at capture
// time. Frames are immutable once produced.
type Frame struct {
	Payload    []byte // JPEG
	Width      int
	Height     int
	Seq        uint64
	OneShot    bool // static upload; the same Seq is returned on every Next
	CapturedAt time.Time
}

// Handle is a readable visual source produced by a ready Source.
type Handle interface {
	// Next extracts one frame.
	Next() (Frame, error)
	// Size returns the source's current native dimensions.
	Size() image.Point
	// Snapshot returns the current picture for display.
	Snapshot() (image.Image, error)
	// Live reports whether the handle keeps producing new frames.
	Live() bool
	Close() error
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(JPEGQuality)); err != nil {
		return nil, errors.Wrap(err, "encode jpeg")
	}
	return buf.Bytes(), nil
}

// liveHandle wraps an open camera.
type liveHandle struct {
	cam Camera
	seq atomic.Uint64
	now func() time.Time
}

func newLiveHandle(cam Camera, now func() time.Time) *liveHandle {
	return &liveHandle{cam: cam, now: now}
}

func (h *liveHandle) Next() (Frame, error) {
	img, err := h.cam.ReadFrame()
	if err != nil {
		return Frame{}, err
	}

	payload, err := encodeJPEG(img)
	if err != nil {
		return Frame{}, err
	}

	b := img.Bounds()
	return Frame{
		Payload:    payload,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Seq:        h.seq.Add(1),
		CapturedAt: h.now(),
	}, nil
}

func (h *liveHandle) Size() image.Point { return h.cam.Size() }

func (h *liveHandle) Snapshot() (image.Image, error) { return h.cam.ReadFrame() }

func (h *liveHandle) Live() bool { return true }

func (h *liveHandle) Close() error { return h.cam.Close() }

// staticHandle serves a single decoded upload.
type staticHandle struct {
	img     image.Image
	payload []byte
	seq     uint64
	now     func() time.Time
}

func newStaticHandle(img image.Image, seq uint64, now func() time.Time) (*staticHandle, error) {
	payload, err := encodeJPEG(img)
	if err != nil {
		return nil, err
	}
	return &staticHandle{img: img, payload: payload, seq: seq, now: now}, nil
}

func (h *staticHandle) Next() (Frame, error) {
	b := h.img.Bounds()
	return Frame{
		Payload:    h.payload,
		Width:      b.Dx(),
		Height:     b.Dy(),
		Seq:        h.seq,
		OneShot:    true,
		CapturedAt: h.now(),
	}, nil
}

func (h *staticHandle) Size() image.Point { return h.img.Bounds().Size() }

func (h *staticHandle) Snapshot() (image.Image, error) { return h.img, nil }

func (h *staticHandle) Live() bool { return false }

func (h *staticHandle) Close() error { return nil }
