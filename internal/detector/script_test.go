package detector

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeScript creates a shell script standing in for the inference script.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "inference.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestScriptClient_Detect(t *testing.T) {
	script := writeScript(t, `
case "$*" in
  *"--classes Other,Toolbox"*) ;;
  *) echo '{"error": "classes not forwarded"}'; exit 1 ;;
esac
input=$(cat)
case "$input" in
  data:image/jpeg\;base64,*) ;;
  *) echo '{"error": "stdin is not a data URL"}'; exit 1 ;;
esac
echo '{"detections": [{"class_name": "Toolbox", "confidence": 0.9, "box": {"x": 1, "y": 2, "width": 3, "height": 4}}], "processingTime": 12, "sessionId": "s1"}'
`)

	c, err := NewScriptClient("sh", script)
	require.NoError(t, err)

	res, err := c.Detect(context.Background(), Request{
		Image:     []byte{1, 2, 3},
		SessionID: "s1",
		Classes:   []string{"Other", "Toolbox"},
	})
	require.NoError(t, err)
	require.Len(t, res.Detections, 1)
	require.Equal(t, "Toolbox", res.Detections[0].Class)
	require.Equal(t, Box{X: 1, Y: 2, Width: 3, Height: 4}, res.Detections[0].Box)
}

func TestScriptClient_ReportsScriptError(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo '{"error": "model weights missing", "sessionId": "s1"}'
exit 1
`)

	c, err := NewScriptClient("sh", script)
	require.NoError(t, err)

	_, err = c.Detect(context.Background(), Request{Image: []byte{1}, SessionID: "s1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "model weights missing")
}

func TestScriptClient_Crash(t *testing.T) {
	script := writeScript(t, `cat >/dev/null
echo "Traceback: boom" >&2
exit 2
`)

	c, err := NewScriptClient("sh", script)
	require.NoError(t, err)

	_, err = c.Detect(context.Background(), Request{Image: []byte{1}, SessionID: "s1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "Traceback: boom")
}

func TestNewScriptClient_MissingScript(t *testing.T) {
	_, err := NewScriptClient("python3", filepath.Join(t.TempDir(), "nope.py"))
	require.Error(t, err)
}
