package stats

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/stationeye/internal/metrics"
	"github.com/ayusman/stationeye/internal/session"
)

// DefaultInterval is the polling period.
const DefaultInterval = 5 * time.Second

// ErrNoSession is returned by Run when no session identifier was assigned.
var ErrNoSession = errors.New("no session to poll statistics for")

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the polling period.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithClock sets the clock driving polls.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(p *Poller) { p.logger = l }
}

// Poller keeps the latest statistics snapshot of one session. A failed poll
// keeps the previous snapshot; the next tick simply tries again.
type Poller struct {
	fetcher  Fetcher
	session  session.ID
	interval time.Duration
	clock    clock.Clock
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger

	mu          sync.RWMutex
	latest      Snapshot
	hasLatest   bool
	failing     bool
	subscribers []func(Snapshot)
}

// NewPoller creates a poller for id.
func NewPoller(fetcher Fetcher, id session.ID, opts ...Option) *Poller {
	p := &Poller{
		fetcher:  fetcher,
		session:  id,
		interval: DefaultInterval,
		clock:    clock.New(),
		logger:   zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = metrics.New()
	}
	return p
}

// Run polls immediately and then every interval until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	if !p.session.Valid() {
		return ErrNoSession
	}

	ticker := p.clock.Ticker(p.interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Poll(ctx)
		}
	}
}

// Poll fetches one snapshot. On success it replaces the latest snapshot
// and notifies subscribers.
func (p *Poller) Poll(ctx context.Context) error {
	p.metrics.StatsPolls.Add(1)

	snap, err := p.fetcher.Fetch(ctx, p.session)
	if err == nil {
		err = snap.normalize()
	}
	if err != nil {
		p.metrics.StatsPollFailures.Add(1)
		p.failed(ctx, err)
		return err
	}

	snap.FetchedAt = p.clock.Now()

	p.mu.Lock()
	recovered := p.failing
	p.latest = snap
	p.hasLatest = true
	p.failing = false
	subs := append([]func(Snapshot){}, p.subscribers...)
	p.mu.Unlock()

	if recovered {
		p.logger.Infow("statistics polling recovered", "session", p.session)
	}
	for _, fn := range subs {
		fn(snap)
	}
	return nil
}

// failed logs the first failure of a streak at warn level.
func (p *Poller) failed(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}

	p.mu.Lock()
	first := !p.failing
	p.failing = true
	p.mu.Unlock()

	if first {
		p.logger.Warnw("statistics poll failed, keeping previous snapshot", "session", p.session, "error", err)
	} else {
		p.logger.Debugw("statistics poll failed", "session", p.session, "error", err)
	}
}

// Latest returns the last successful snapshot.
func (p *Poller) Latest() (Snapshot, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.hasLatest
}

// OnSnapshot registers fn to receive every new snapshot.
func (p *Poller) OnSnapshot(fn func(Snapshot)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, fn)
}
