package overlay

import (
	"image"
	"sync"
)

// Surface is the display canvas. It is written only by the Renderer that
// owns it.
type Surface struct {
	mu        sync.RWMutex
	img       *image.RGBA
	pass      uint64
	annotated bool
}

// NewSurface returns an empty surface.
func NewSurface() *Surface {
	return &Surface{img: image.NewRGBA(image.Rectangle{})}
}

// Snapshot returns a copy of the canvas.
func (s *Surface) Snapshot() *image.RGBA {
	img, _ := s.snapshot()
	return img
}

func (s *Surface) snapshot() (*image.RGBA, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp := &image.RGBA{
		Pix:    append([]uint8(nil), s.img.Pix...),
		Stride: s.img.Stride,
		Rect:   s.img.Rect,
	}
	return cp, s.annotated
}

// Size returns the canvas dimensions.
func (s *Surface) Size() image.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.img.Rect.Size()
}

// Pass returns the id of the pass that last drew the canvas.
func (s *Surface) Pass() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pass
}

// Annotated reports whether the canvas holds a server-annotated image.
func (s *Surface) Annotated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.annotated
}

func (s *Surface) set(img *image.RGBA, pass uint64, annotated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.img = img
	s.pass = pass
	s.annotated = annotated
}
