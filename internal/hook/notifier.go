package hook

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ayusman/stationeye/internal/session"
	"github.com/ayusman/stationeye/internal/stats"
)

// Notifier dispatches each distinct safety alert to the matching hooks
// once per process.
type Notifier struct {
	manager  *Manager
	executor *Executor
	session  session.ID
	clock    clock.Clock
	logger   *zap.SugaredLogger

	mu   sync.Mutex
	seen map[string]bool
	wg   sync.WaitGroup
}

// NewNotifier creates a Notifier for session id. logger may be nil.
func NewNotifier(manager *Manager, executor *Executor, id session.ID, logger *zap.SugaredLogger) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Notifier{
		manager:  manager,
		executor: executor,
		session:  id,
		clock:    clock.New(),
		logger:   logger,
		seen:     make(map[string]bool),
	}
}

// HandleSnapshot dispatches the snapshot's new alerts in the background.
// It has the signature of a stats.Poller subscriber and returns the number
// of alerts not seen before.
func (n *Notifier) HandleSnapshot(snap stats.Snapshot) int {
	fresh := n.fresh(snap.Alerts)
	for _, a := range fresh {
		n.wg.Add(1)
		go func(a stats.Alert) {
			defer n.wg.Done()
			n.dispatch(context.Background(), a)
		}(a)
	}
	return len(fresh)
}

// Wait blocks until every dispatched hook run has finished.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) fresh(alerts []stats.Alert) []stats.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []stats.Alert
	for _, a := range alerts {
		key := a.Key()
		if n.seen[key] {
			continue
		}
		n.seen[key] = true
		out = append(out, a)
	}
	return out
}

func (n *Notifier) dispatch(ctx context.Context, a stats.Alert) {
	req := &Request{
		Event:     EventSafetyAlert,
		SessionID: n.session.String(),
		Alert:     a,
		RaisedAt:  n.clock.Now(),
	}

	for _, h := range n.manager.ForLevel(a.Level) {
		resp, err := n.executor.Execute(ctx, h, req)
		if err != nil {
			n.logger.Warnw("hook failed", "hook", h.Manifest.Name, "alert", a.Type, "error", err)
			continue
		}
		if !resp.Success {
			n.logger.Warnw("hook reported failure", "hook", h.Manifest.Name, "alert", a.Type, "error", resp.Error)
			continue
		}
		n.logger.Debugw("hook ran", "hook", h.Manifest.Name, "alert", a.Type)
	}
}
