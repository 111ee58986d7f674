// Package hook runs operator-installed executables when the statistics
// service raises a safety alert.
package hook

import (
	"time"

	"github.com/ayusman/stationeye/internal/stats"
)

// ManifestFile is the manifest name looked up in every hook directory.
const ManifestFile = "hook.json"

// EventSafetyAlert is the event sent for a newly raised safety alert.
const EventSafetyAlert = "safety_alert"

// Manifest describes a hook's metadata and the alert levels it handles.
type Manifest struct {
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Description string   `json:"description"`
	Executable  string   `json:"executable"`
	Levels      []string `json:"levels,omitempty"` // empty handles every level
}

// Handles reports whether the hook wants alerts of the given level.
func (m Manifest) Handles(level string) bool {
	if len(m.Levels) == 0 {
		return true
	}
	for _, l := range m.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// Request is written to the hook's stdin.
type Request struct {
	Event     string      `json:"event"`
	SessionID string      `json:"sessionId"`
	Alert     stats.Alert `json:"alert"`
	RaisedAt  time.Time   `json:"raisedAt"`
}

// Response is read from the hook's stdout.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Hook is a discovered hook with its manifest and location.
type Hook struct {
	Manifest   Manifest
	Path       string
	Executable string
}
