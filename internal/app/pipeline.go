package app

import (
	"github.com/ayusman/stationeye/internal/capture"
	"github.com/ayusman/stationeye/internal/detector"
	"github.com/ayusman/stationeye/internal/server"
	"github.com/ayusman/stationeye/internal/settings"
	"github.com/ayusman/stationeye/internal/stats"
)

// connect subscribes the components to each other's events.
//
// Event flow:
//  1. A detection result supersedes the overlay, is appended to the local
//     detection log and pushed to operator clients
//  2. Source transitions and settings edits start a redraw pass
//  3. Statistics snapshots feed the alert hooks and operator clients
//  4. Pause changes are pushed to operator clients
func (a *App) connect() {
	a.stream.OnResult(a.handleResult)

	a.source.OnChange(func(st capture.Status) {
		a.renderer.Refresh()
		a.hub.Publish(server.EventSource, st)
	})

	a.settings.OnChange(func(settings.Detection) {
		a.renderer.Refresh()
	})

	a.poller.OnSnapshot(func(snap stats.Snapshot) {
		if n := a.notifier.HandleSnapshot(snap); n > 0 {
			a.logger.Infow("new safety alerts", "count", n)
		}
		a.hub.Publish(server.EventStats, snap)
	})

	a.scheduler.OnPauseChange(func(paused bool) {
		a.hub.Publish(server.EventPause, map[string]bool{"paused": paused})
	})
}

// handleResult runs on the detection goroutine, once per successful
// request and in send order.
func (a *App) handleResult(res *detector.Result) {
	a.renderer.SetResult(res)

	if err := a.store.Detections().Record(res); err != nil {
		a.logger.Warnw("failed to record detection result", "frame", res.FrameSeq, "error", err)
	}

	a.hub.Publish(server.EventResult, server.NewResultEvent(res))
}
