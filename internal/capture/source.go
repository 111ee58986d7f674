// Package capture acquires raw visual input: a live camera or a static
// uploaded image, and turns it into encoded frames.
package capture

import (
	"bytes"
	"context"
	"image"
	"io"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	// ErrCameraNotOpen is returned when trying to read from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera is not open")
	// ErrNoFrame is returned when the device produced no picture.
	ErrNoFrame = errors.New("no frame available")
	// ErrNotReady is returned when reading from a source that is not ready.
	ErrNotReady = errors.New("source is not ready")
)

// Camera is a video device.
type Camera interface {
	Open() error
	Close() error
	ReadFrame() (image.Image, error)
	Size() image.Point
	IsOpen() bool
}

// CameraOpener opens a camera device. It returns an open camera or an error.
type CameraOpener func(ctx context.Context) (Camera, error)

// DeviceOpener builds a CameraOpener that creates a camera with newCamera
// and opens it.
func DeviceOpener(newCamera func() Camera) CameraOpener {
	return func(ctx context.Context) (Camera, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cam := newCamera()
		if err := cam.Open(); err != nil {
			return nil, err
		}
		return cam, nil
	}
}

// Mode selects the kind of input.
type Mode string

const (
	ModeLiveCamera   Mode = "webcam"
	ModeStaticUpload Mode = "upload"
)

// ParseMode parses an input mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLiveCamera, ModeStaticUpload:
		return Mode(s), nil
	}
	return "", errors.Errorf("unknown input mode %q", s)
}

// State is the acquisition state of a Source.
type State int

const (
	StateUninitialized State = iota
	StateRequesting
	StateReady
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRequesting:
		return "requesting"
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateUninitialized; st <= StateUnavailable; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return errors.Errorf("unknown source state %q", text)
}

// Status is a point-in-time view of a Source.
type Status struct {
	Mode  Mode   `json:"mode,omitempty"`
	State State  `json:"state"`
	Err   string `json:"error,omitempty"`
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Source) { s.logger = logger }
}

// WithClock sets the clock used to stamp frames.
func WithClock(c clock.Clock) Option {
	return func(s *Source) { s.clock = c }
}

// WithDecoder replaces the upload decoder.
func WithDecoder(decode func(io.Reader) (image.Image, error)) Option {
	return func(s *Source) { s.decode = decode }
}

// Source owns the active visual input. Switching input always releases the
// previous handle before the next one is acquired.
type Source struct {
	acquireMu sync.Mutex // one acquisition at a time
	mu        sync.Mutex
	opener    CameraOpener
	decode    func(io.Reader) (image.Image, error)
	clock     clock.Clock
	logger    *zap.SugaredLogger

	gen       uint64
	handle    Handle
	status    Status
	listeners []func(Status)
	decodes   sync.WaitGroup
}

// NewSource creates an uninitialized Source.
func NewSource(opener CameraOpener, opts ...Option) *Source {
	s := &Source{
		opener: opener,
		decode: decodeUpload,
		clock:  clock.New(),
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func decodeUpload(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

// AcquireCamera switches to the live camera. Failures are reported through
// Status, never returned.
func (s *Source) AcquireCamera(ctx context.Context) Status {
	s.acquireMu.Lock()
	defer s.acquireMu.Unlock()

	gen := s.begin(ModeLiveCamera)

	if s.opener == nil {
		s.finish(gen, nil, errors.New("failed to access webcam: no camera configured"))
		return s.Status()
	}

	cam, err := s.opener(ctx)
	if err != nil {
		s.finish(gen, nil, errors.Wrap(err, "failed to access webcam"))
		return s.Status()
	}

	s.finish(gen, newLiveHandle(cam, s.clock.Now), nil)
	return s.Status()
}

// LoadImage switches to a static upload read from r. Decoding happens in the
// background; the returned status is Requesting unless reading failed.
func (s *Source) LoadImage(r io.Reader) Status {
	s.acquireMu.Lock()
	defer s.acquireMu.Unlock()

	gen := s.begin(ModeStaticUpload)

	data, err := io.ReadAll(r)
	if err != nil {
		s.finish(gen, nil, errors.Wrap(err, "failed to read image"))
		return s.Status()
	}
	if len(data) == 0 {
		s.finish(gen, nil, errors.New("failed to read image: file is empty"))
		return s.Status()
	}

	s.decodes.Add(1)
	go func() {
		defer s.decodes.Done()

		img, err := s.decode(bytes.NewReader(data))
		if err != nil {
			s.finish(gen, nil, errors.Wrap(err, "failed to decode image"))
			return
		}

		h, err := newStaticHandle(img, gen, s.clock.Now)
		if err != nil {
			s.finish(gen, nil, err)
			return
		}
		s.finish(gen, h, nil)
	}()

	return s.Status()
}

// Release stops the active input. It is idempotent.
func (s *Source) Release() error {
	s.mu.Lock()
	old := s.handle
	s.handle = nil
	s.gen++
	changed := s.status.State != StateUninitialized
	s.status = Status{State: StateUninitialized}
	st := s.status
	listeners := append([]func(Status){}, s.listeners...)
	s.mu.Unlock()

	var err error
	if old != nil {
		err = old.Close()
	}
	if changed {
		notify(listeners, st)
	}
	return err
}

// Close releases the input and waits for background decodes.
func (s *Source) Close() error {
	err := s.Release()
	s.decodes.Wait()
	return err
}

// Wait blocks until pending upload decodes have finished.
func (s *Source) Wait() {
	s.decodes.Wait()
}

// Status returns the current status.
func (s *Source) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Ready reports whether frames can be extracted.
func (s *Source) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.State == StateReady && s.handle != nil
}

// OnChange registers fn to be called after every state transition.
func (s *Source) OnChange(fn func(Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Next extracts one frame from the active handle.
func (s *Source) Next() (Frame, error) {
	h := s.current()
	if h == nil {
		return Frame{}, ErrNotReady
	}
	return h.Next()
}

// Size returns the active handle's current dimensions, or zero when not
// ready.
func (s *Source) Size() image.Point {
	h := s.current()
	if h == nil {
		return image.Point{}
	}
	return h.Size()
}

// Snapshot returns the current picture of the active handle.
func (s *Source) Snapshot() (image.Image, error) {
	h := s.current()
	if h == nil {
		return nil, ErrNotReady
	}
	return h.Snapshot()
}

func (s *Source) current() Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.State != StateReady {
		return nil
	}
	return s.handle
}

// begin releases the previous handle and enters Requesting under a new
// generation.
func (s *Source) begin(mode Mode) uint64 {
	s.mu.Lock()
	old := s.handle
	s.handle = nil
	s.gen++
	gen := s.gen
	s.status = Status{Mode: mode, State: StateRequesting}
	st := s.status
	listeners := append([]func(Status){}, s.listeners...)
	s.mu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Warnw("failed to release previous source", "error", err)
		}
	}
	notify(listeners, st)
	return gen
}

// finish completes acquisition gen. Results for a superseded generation are
// discarded and their handle closed.
func (s *Source) finish(gen uint64, h Handle, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if h != nil {
			h.Close()
		}
		s.logger.Debugw("discarding superseded acquisition", "generation", gen)
		return
	}

	if err != nil {
		s.status.State = StateUnavailable
		s.status.Err = err.Error()
	} else {
		s.handle = h
		s.status.State = StateReady
		s.status.Err = ""
	}
	st := s.status
	listeners := append([]func(Status){}, s.listeners...)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warnw("source unavailable", "mode", st.Mode, "error", err)
	} else {
		s.logger.Infow("source ready", "mode", st.Mode, "generation", gen)
	}
	notify(listeners, st)
}

func notify(listeners []func(Status), st Status) {
	for _, fn := range listeners {
		fn(st)
	}
}
