package hook

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/ayusman/stationeye/internal/stats"
)

// scriptHook writes body as an executable shell script and returns a hook for it.
func scriptHook(t *testing.T, name, body string) *Hook {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("skipping test on Windows")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, name+".sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return &Hook{
		Manifest:   Manifest{Name: name, Version: "1.0.0", Executable: name + ".sh"},
		Path:       dir,
		Executable: path,
	}
}

var testRequest = &Request{
	Event:     EventSafetyAlert,
	SessionID: "session-1",
	Alert:     stats.Alert{Type: "missing", Message: "Fire extinguisher not detected", Level: "warning"},
}

func TestExecutor_Execute(t *testing.T) {
	h := scriptHook(t, "ok", "echo '{\"success\":true}'\n")

	resp, err := NewExecutor(5*time.Second).Execute(context.Background(), h, testRequest)
	if err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}
	if !resp.Success {
		t.Errorf("expected success=true, got false")
	}
	if resp.Error != "" {
		t.Errorf("expected empty error, got %q", resp.Error)
	}
}

func TestExecutor_Execute_ReadsStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "received.json")
	h := scriptHook(t, "echo", "cat > \""+out+"\"\necho '{\"success\":true}'\n")

	if _, err := NewExecutor(5*time.Second).Execute(context.Background(), h, testRequest); err != nil {
		t.Fatalf("Execute() failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("hook did not record its input: %v", err)
	}
	var got Request
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("failed to unmarshal request: %v", err)
	}
	if got.Event != EventSafetyAlert || got.SessionID != "session-1" {
		t.Errorf("unexpected request %+v", got)
	}
	if got.Alert.Message != "Fire extinguisher not detected" {
		t.Errorf("unexpected alert %+v", got.Alert)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	h := scriptHook(t, "slow", "sleep 10\necho '{\"success\":true}'\n")

	_, err := NewExecutor(100*time.Millisecond).Execute(context.Background(), h, testRequest)
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if !strings.Contains(err.Error(), "timeout") {
		t.Errorf("expected timeout error, got: %v", err)
	}
}

func TestExecutor_Execute_Failures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		wantMsg string
	}{
		{"error response", "echo '{\"success\":false,\"error\":\"something went wrong\"}'\n", false, "something went wrong"},
		{"invalid json", "echo 'not valid json'\n", true, ""},
		{"non-zero exit", "echo 'Error: something failed' >&2\nexit 1\n", true, "something failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := scriptHook(t, "h", tt.body)
			resp, err := NewExecutor(5*time.Second).Execute(context.Background(), h, testRequest)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if tt.wantMsg != "" && !strings.Contains(err.Error(), tt.wantMsg) {
					t.Errorf("error %q should mention %q", err, tt.wantMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() failed: %v", err)
			}
			if resp.Success || resp.Error != tt.wantMsg {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

func TestNewExecutor_DefaultTimeout(t *testing.T) {
	if e := NewExecutor(0); e.timeout != DefaultTimeout {
		t.Errorf("expected default timeout, got %s", e.timeout)
	}
	if e := NewExecutor(3 * time.Second); e.timeout != 3*time.Second {
		t.Errorf("expected 3s, got %s", e.timeout)
	}
}
