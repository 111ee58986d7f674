// Package main provides a hook that shows a desktop notification for every
// safety alert it receives. It uses osascript on macOS and notify-send elsewhere.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"runtime"
)

// Alert mirrors the alert carried in the hook request.
type Alert struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Level   string `json:"level"`
}

// Request represents the input from the hook executor.
type Request struct {
	Event     string `json:"event"`
	SessionID string `json:"sessionId"`
	Alert     Alert  `json:"alert"`
}

// Response represents the output to the hook executor.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func main() {
	var req Request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		writeResponse(fmt.Errorf("failed to decode request: %w", err))
		return
	}

	if req.Event != "safety_alert" {
		writeResponse(fmt.Errorf("unknown event: %s", req.Event))
		return
	}

	writeResponse(notify("Safety alert: "+req.Alert.Type, req.Alert.Message, req.Alert.Level))
}

func writeResponse(err error) {
	resp := Response{Success: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	json.NewEncoder(os.Stdout).Encode(resp)
}

func notify(title, message, level string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		script := fmt.Sprintf("display notification %q with title %q", message, title)
		cmd = exec.Command("osascript", "-e", script)
	default:
		urgency := "normal"
		if level == "error" {
			urgency = "critical"
		}
		cmd = exec.Command("notify-send", "--urgency", urgency, title, message)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}
