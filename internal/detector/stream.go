package detector

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/stationeye/internal/capture"
	"github.com/ayusman/stationeye/internal/metrics"
	"github.com/ayusman/stationeye/internal/session"
	"github.com/ayusman/stationeye/internal/settings"
)

// Stream is one logical detection stream. At most one request is in flight
// at a time, so results are observed in send order.
type Stream struct {
	client    Client
	session   session.ID
	threshold float64
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *zap.SugaredLogger

	inFlight atomic.Bool

	mu          sync.Mutex
	last        *Result
	subscribers []func(*Result)
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithConfidenceThreshold forwards threshold with every request.
func WithConfidenceThreshold(threshold float64) StreamOption {
	return func(s *Stream) { s.threshold = threshold }
}

// WithClock sets the clock used for latency and receive times.
func WithClock(c clock.Clock) StreamOption {
	return func(s *Stream) { s.clock = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) StreamOption {
	return func(s *Stream) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) StreamOption {
	return func(s *Stream) { s.logger = l }
}

// NewStream creates a stream sending through client on behalf of id.
func NewStream(client Client, id session.ID, opts ...StreamOption) *Stream {
	s := &Stream{
		client:  client,
		session: id,
		clock:   clock.New(),
		logger:  zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// InFlight reports whether a request is outstanding.
func (s *Stream) InFlight() bool {
	return s.inFlight.Load()
}

// Session returns the session the stream sends for.
func (s *Stream) Session() session.ID {
	return s.session
}

// Send detects objects in frame using a snapshot of cfg. It returns
// ErrInFlight without calling the service when a request is outstanding.
// Subscribers are notified before the in-flight flag is cleared.
func (s *Stream) Send(ctx context.Context, frame capture.Frame, cfg settings.Detection) (*Result, error) {
	if len(frame.Payload) == 0 {
		return nil, ErrEmptyFrame
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, ErrInFlight
	}
	defer s.inFlight.Store(false)

	req := Request{
		Image:               frame.Payload,
		SessionID:           s.session,
		Classes:             cfg.RequestedClasses(),
		Speed:               cfg.Speed,
		ConfidenceThreshold: s.threshold,
	}

	s.metrics.DetectionRequests.Add(1)
	start := s.clock.Now()

	res, err := s.client.Detect(ctx, req)
	if err != nil {
		s.metrics.DetectionFailures.Add(1)
		return nil, errors.Wrapf(err, "detect frame %d", frame.Seq)
	}
	if res == nil {
		s.metrics.DetectionFailures.Add(1)
		return nil, errors.Wrapf(ErrProtocol, "detect frame %d: empty result", frame.Seq)
	}

	s.metrics.ObserveDetectionLatency(s.clock.Since(start))

	res.Detections = filterClasses(res.Detections, req.Classes)
	if res.SessionID == "" {
		res.SessionID = s.session
	}
	res.FrameSeq = frame.Seq
	res.ReceivedAt = s.clock.Now()

	s.logger.Debugw("detection result",
		"frame", frame.Seq,
		"detections", len(res.Detections),
		"annotated", res.HasAnnotatedImage(),
		"processing", res.ProcessingTime,
	)

	s.publish(res)
	return res, nil
}

// OnResult registers fn to receive every successful result. fn runs on the
// sending goroutine and should not block.
func (s *Stream) OnResult(fn func(*Result)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Last returns the most recent successful result, or nil.
func (s *Stream) Last() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *Stream) publish(res *Result) {
	s.mu.Lock()
	s.last = res
	subs := append([]func(*Result){}, s.subscribers...)
	s.mu.Unlock()

	for _, fn := range subs {
		fn(res)
	}
}

// filterClasses drops detections outside a non-empty class filter.
func filterClasses(dets []Detection, classes []string) []Detection {
	if len(classes) == 0 {
		return dets
	}

	allowed := make(map[string]struct{}, len(classes))
	for _, c := range classes {
		allowed[c] = struct{}{}
	}

	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if _, ok := allowed[d.Class]; ok {
			out = append(out, d)
		}
	}
	return out
}
