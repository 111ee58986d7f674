// Package overlay paints detection results onto a display surface sized to
// the current visual source.
//
// Every redraw is a pass with a monotonically increasing id. Only the
// current pass may change the surface, so an annotated image whose decode
// finishes after a newer pass has started is discarded.
package overlay

import (
	"bytes"
	"image"
	"sync"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/ayusman/stationeye/internal/detector"
	"github.com/ayusman/stationeye/internal/metrics"
	"github.com/ayusman/stationeye/internal/settings"
)

// SizeSource reports the current visual source dimensions.
type SizeSource interface {
	Size() image.Point
}

// SettingsSource provides the current detection settings.
type SettingsSource interface {
	Get() settings.Detection
}

// Decoder decodes an annotated image.
type Decoder func(data []byte) (image.Image, error)

// DecodeImage is the default Decoder.
func DecodeImage(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data))
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithDecoder replaces the annotated-image decoder.
func WithDecoder(d Decoder) Option {
	return func(r *Renderer) { r.decode = d }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Renderer) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(r *Renderer) { r.logger = l }
}

// Renderer draws the latest detection result onto its Surface.
type Renderer struct {
	surface  *Surface
	source   SizeSource
	settings SettingsSource
	decode   Decoder
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	pass    uint64
	result  *detector.Result
	decodes sync.WaitGroup
}

// NewRenderer creates a renderer reading sizes from source and display
// toggles from cfg.
func NewRenderer(source SizeSource, cfg SettingsSource, opts ...Option) *Renderer {
	r := &Renderer{
		surface:  NewSurface(),
		source:   source,
		settings: cfg,
		decode:   DecodeImage,
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	return r
}

// Surface returns the display surface.
func (r *Renderer) Surface() *Surface {
	return r.surface
}

// SetResult replaces the current result and starts a redraw pass.
func (r *Renderer) SetResult(res *detector.Result) uint64 {
	r.mu.Lock()
	r.result = res
	r.mu.Unlock()
	return r.redraw()
}

// Refresh starts a redraw pass with the current result, after the source
// or the display settings changed.
func (r *Renderer) Refresh() uint64 {
	return r.redraw()
}

// Result returns the result being displayed.
func (r *Renderer) Result() *detector.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}

// Pass returns the id of the latest started pass.
func (r *Renderer) Pass() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pass
}

// Wait blocks until pending decodes have completed.
func (r *Renderer) Wait() {
	r.decodes.Wait()
}

// Composite lays the surface over base. When the surface holds an
// annotated image it already is the whole picture and base is ignored.
func (r *Renderer) Composite(base image.Image) image.Image {
	snap, annotated := r.surface.snapshot()
	if annotated || base == nil {
		return snap
	}
	return imaging.Overlay(base, snap, image.Pt(0, 0), 1.0)
}

func (r *Renderer) redraw() uint64 {
	r.mu.Lock()
	r.pass++
	pass := r.pass
	res := r.result
	r.mu.Unlock()

	r.metrics.RedrawPasses.Add(1)

	// Clear the surface, keeping its current size.
	r.commit(pass, image.NewRGBA(image.Rectangle{Max: r.surface.Size()}), false)

	if res.HasAnnotatedImage() {
		r.decodes.Add(1)
		go r.decodeAnnotated(pass, res)
		return pass
	}

	r.drawBoxes(pass, res)
	return pass
}

func (r *Renderer) decodeAnnotated(pass uint64, res *detector.Result) {
	defer r.decodes.Done()

	img, err := r.decode(res.AnnotatedImage)
	if err != nil {
		r.logger.Warnw("annotated image decode failed, drawing boxes", "pass", pass, "error", err)
		r.drawBoxes(pass, res)
		return
	}

	if !r.commit(pass, drawAnnotated(img), true) {
		r.metrics.StaleDecodesDropped.Add(1)
		r.logger.Debugw("dropping stale annotated image", "pass", pass)
	}
}

func (r *Renderer) drawBoxes(pass uint64, res *detector.Result) {
	size := r.source.Size()
	var dets []detector.Detection
	if res != nil {
		dets = res.Detections
	}
	r.commit(pass, drawDetections(size, dets, r.settings.Get()), false)
}

// commit installs img when pass is still the latest one.
func (r *Renderer) commit(pass uint64, img *image.RGBA, annotated bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pass != r.pass {
		return false
	}
	r.surface.set(img, pass, annotated)
	return true
}
