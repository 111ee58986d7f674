// Package pipeline drives periodic frame capture and forwards frames to the
// detection stream, dropping ticks while a request is outstanding.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/stationeye/internal/capture"
	"github.com/ayusman/stationeye/internal/detector"
	"github.com/ayusman/stationeye/internal/metrics"
	"github.com/ayusman/stationeye/internal/settings"
)

// DefaultInterval is the capture period.
const DefaultInterval = time.Second

// FrameSource yields frames while ready.
type FrameSource interface {
	Ready() bool
	Next() (capture.Frame, error)
}

// Sender is the detection stream.
type Sender interface {
	Send(ctx context.Context, frame capture.Frame, cfg settings.Detection) (*detector.Result, error)
	InFlight() bool
}

// SettingsSource provides the current detection settings.
type SettingsSource interface {
	Get() settings.Detection
}

// Outcome describes what a tick did.
type Outcome int

const (
	Sent Outcome = iota
	SkippedDisabled
	SkippedPaused
	SkippedNotReady
	SkippedOneShot
	DroppedInFlight
	CaptureFailed
)

func (o Outcome) String() string {
	switch o {
	case Sent:
		return "sent"
	case SkippedDisabled:
		return "skipped-disabled"
	case SkippedPaused:
		return "skipped-paused"
	case SkippedNotReady:
		return "skipped-not-ready"
	case SkippedOneShot:
		return "skipped-one-shot"
	case DroppedInFlight:
		return "dropped-in-flight"
	case CaptureFailed:
		return "capture-failed"
	default:
		return "unknown"
	}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the tick period.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithClock sets the clock driving ticks.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// Scheduler extracts one frame per tick and hands it to the stream when no
// request is outstanding. Ticks are never queued.
type Scheduler struct {
	source   FrameSource
	stream   Sender
	settings SettingsSource
	interval time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger

	// pending covers the window between dispatch and the stream marking
	// itself in flight.
	pending atomic.Bool
	sends   sync.WaitGroup

	mu          sync.RWMutex
	enabled     bool
	paused      bool
	lastOneShot uint64
	sentOneShot bool
	onPause     []func(bool)
}

// New creates a Scheduler. Capture starts enabled and unpaused.
func New(source FrameSource, stream Sender, cfg SettingsSource, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:   source,
		stream:   stream,
		settings: cfg,
		interval: DefaultInterval,
		clock:    clock.New(),
		logger:   zap.NewNop().Sugar(),
		enabled:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// Interval returns the tick period.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// SetEnabled enables or disables capture.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
}

// IsEnabled returns whether capture is enabled.
func (s *Scheduler) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

// SetPaused pauses or resumes detection. An in-flight request is not
// cancelled.
func (s *Scheduler) SetPaused(paused bool) {
	s.mu.Lock()
	changed := s.paused != paused
	s.paused = paused
	listeners := append([]func(bool){}, s.onPause...)
	s.mu.Unlock()

	if changed {
		s.pauseChanged(paused, listeners)
	}
}

// TogglePause flips the pause state and returns the new value.
func (s *Scheduler) TogglePause() bool {
	s.mu.Lock()
	s.paused = !s.paused
	paused := s.paused
	listeners := append([]func(bool){}, s.onPause...)
	s.mu.Unlock()

	s.pauseChanged(paused, listeners)
	return paused
}

func (s *Scheduler) pauseChanged(paused bool, listeners []func(bool)) {
	s.logger.Infow("detection pause changed", "paused", paused)
	for _, fn := range listeners {
		fn(paused)
	}
}

// Paused returns whether detection is paused.
func (s *Scheduler) Paused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

// OnPauseChange registers fn to be called when the pause state changes.
func (s *Scheduler) OnPauseChange(fn func(paused bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onPause = append(s.onPause, fn)
}

// Busy reports whether a dispatched send has not returned yet.
func (s *Scheduler) Busy() bool {
	return s.pending.Load() || s.stream.InFlight()
}

// Run ticks until ctx is done, then waits for the outstanding send.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	s.logger.Infow("capture scheduler started", "interval", s.interval)
	defer s.logger.Infow("capture scheduler stopped")

	for {
		select {
		case <-ctx.Done():
			s.sends.Wait()
			return nil
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Wait blocks until the outstanding send, if any, has returned.
func (s *Scheduler) Wait() {
	s.sends.Wait()
}

// Tick performs one capture step.
func (s *Scheduler) Tick(ctx context.Context) Outcome {
	s.mu.RLock()
	enabled, paused := s.enabled, s.paused
	s.mu.RUnlock()

	switch {
	case !enabled:
		s.metrics.TicksSkipped.Add(1)
		return SkippedDisabled
	case paused:
		s.metrics.TicksSkipped.Add(1)
		return SkippedPaused
	case !s.source.Ready():
		s.metrics.TicksSkipped.Add(1)
		return SkippedNotReady
	}

	if s.stream.InFlight() || !s.pending.CompareAndSwap(false, true) {
		s.metrics.TicksDropped.Add(1)
		return DroppedInFlight
	}

	frame, err := s.source.Next()
	if err != nil {
		s.pending.Store(false)
		s.metrics.CaptureErrors.Add(1)
		s.logger.Warnw("frame capture failed", "error", err)
		return CaptureFailed
	}

	if frame.OneShot && !s.claimOneShot(frame.Seq) {
		s.pending.Store(false)
		s.metrics.TicksSkipped.Add(1)
		return SkippedOneShot
	}

	s.metrics.FramesCaptured.Add(1)
	cfg := s.settings.Get()

	s.sends.Add(1)
	go func() {
		defer s.sends.Done()
		defer s.pending.Store(false)

		if _, err := s.stream.Send(ctx, frame, cfg); err != nil {
			if errors.Is(err, detector.ErrInFlight) {
				s.metrics.TicksDropped.Add(1)
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warnw("detection failed", "frame", frame.Seq, "error", err)
		}
	}()

	return Sent
}

// claimOneShot reports whether a static frame with seq has not been sent
// yet, and marks it sent.
func (s *Scheduler) claimOneShot(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sentOneShot && s.lastOneShot == seq {
		return false
	}
	s.sentOneShot = true
	s.lastOneShot = seq
	return true
}
