package store

import (
	"context"

	"github.com/ayusman/stationeye/internal/session"
	"github.com/ayusman/stationeye/internal/stats"
)

// actionDetected labels locally recorded history entries.
const actionDetected = "Detected"

// Stats builds a statistics snapshot for session id from the local
// detection log. It satisfies stats.FetcherFunc, so the script detector
// can run without a remote statistics service.
func (r *DetectionRepository) Stats(ctx context.Context, id session.ID) (stats.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return stats.Snapshot{}, err
	}

	sum, err := r.Summary(id)
	if err != nil {
		return stats.Snapshot{}, err
	}

	recent, err := r.Recent(id, stats.HistoryLimit)
	if err != nil {
		return stats.Snapshot{}, err
	}

	snap := stats.Snapshot{
		ObjectCounts:    sum.ObjectCounts,
		AvgConfidence:   sum.AvgConfidence,
		ProcessedFrames: sum.ProcessedFrames,
		ProcessingTime:  sum.AvgProcessingTime,
		History:         make([]stats.HistoryItem, 0, len(recent)),
	}
	for _, n := range sum.ObjectCounts {
		snap.TotalObjects += n
	}
	for _, o := range recent {
		snap.History = append(snap.History, stats.HistoryItem{
			Class:     o.Class,
			Timestamp: o.DetectedAt,
			Action:    actionDetected,
		})
	}
	return snap, nil
}
