// Package stats polls the statistics service for the active session and
// republishes the latest snapshot.
package stats

import (
	"sort"
	"time"

	"github.com/pkg/errors"
)

// HistoryLimit bounds the recent-history log kept in a snapshot.
const HistoryLimit = 50

// HistoryItem is one entry of the recent detection history.
type HistoryItem struct {
	Class     string    `json:"className"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
}

// Alert is a safety alert raised by the service.
type Alert struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

// Key identifies an alert for de-duplication.
func (a Alert) Key() string {
	return a.Level + "|" + a.Type + "|" + a.Message
}

// Snapshot is the aggregate statistics of one session. It is replaced
// wholesale on every successful poll.
type Snapshot struct {
	ObjectCounts    map[string]int `json:"objectCounts"`
	TotalObjects    int            `json:"totalObjects"`
	AvgConfidence   float64        `json:"avgConfidence"`
	ProcessedFrames int            `json:"processedFrames"`
	ProcessingTime  float64        `json:"processingTime"` // average, milliseconds
	History         []HistoryItem  `json:"detectionHistory"`
	Alerts          []Alert        `json:"safetyAlerts"`
	FetchedAt       time.Time      `json:"fetchedAt"`
}

// normalize validates s and bounds its history, newest first.
func (s *Snapshot) normalize() error {
	if s.TotalObjects < 0 || s.ProcessedFrames < 0 {
		return errors.New("negative counts in statistics")
	}
	if s.AvgConfidence < 0 || s.AvgConfidence > 1 {
		return errors.Errorf("average confidence %v outside [0,1]", s.AvgConfidence)
	}
	if s.ObjectCounts == nil {
		s.ObjectCounts = map[string]int{}
	}

	sort.SliceStable(s.History, func(i, j int) bool {
		return s.History[i].Timestamp.After(s.History[j].Timestamp)
	})
	if len(s.History) > HistoryLimit {
		s.History = s.History[:HistoryLimit]
	}
	return nil
}
