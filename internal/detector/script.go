package detector

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ScriptClient runs the local inference script once per request. The image
// is passed as a data URL on stdin and the script prints one JSON response.
type ScriptClient struct {
	python string
	script string
}

var _ Client = (*ScriptClient)(nil)

// NewScriptClient creates a client for the script at scriptPath. An empty
// pythonPath picks a virtualenv interpreter when one is found, python3
// otherwise.
func NewScriptClient(pythonPath, scriptPath string) (*ScriptClient, error) {
	script := findScript(scriptPath)
	if script == "" {
		return nil, errors.Errorf("inference script %s not found", scriptPath)
	}

	if pythonPath == "" {
		pythonPath = findVenvPython()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}

	return &ScriptClient{python: pythonPath, script: script}, nil
}

// Detect runs the script for one image.
func (c *ScriptClient) Detect(ctx context.Context, req Request) (*Result, error) {
	threshold := req.ConfidenceThreshold
	if threshold <= 0 {
		threshold = DefaultConfidenceThreshold
	}

	args := []string{
		c.script,
		"--session-id", req.SessionID.String(),
		"--base64-stdin",
		"--conf-threshold", strconv.FormatFloat(threshold, 'f', -1, 64),
	}
	if len(req.Classes) > 0 {
		args = append(args, "--classes", strings.Join(req.Classes, ","))
	}

	cmd := exec.CommandContext(ctx, c.python, args...)
	cmd.Stdin = strings.NewReader(dataURL(req.Image))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if runErr != nil {
		// The script reports its own failures as {"error": ...} on stdout.
		if _, err := decodeResponse(stdout.Bytes()); err != nil && !errors.Is(err, ErrProtocol) {
			return nil, err
		}
		return nil, errors.Wrapf(runErr, "inference script failed: %s", strings.TrimSpace(stderr.String()))
	}

	return decodeResponse(stdout.Bytes())
}

// Close is a no-op; each request runs its own process.
func (c *ScriptClient) Close() error {
	return nil
}

func findScript(path string) string {
	if path == "" {
		return ""
	}

	candidates := []string{path}
	if !filepath.IsAbs(path) {
		if execPath, err := os.Executable(); err == nil {
			candidates = append(candidates, filepath.Join(filepath.Dir(execPath), path))
		}
		if home, err := os.UserHomeDir(); err == nil {
			candidates = append(candidates, filepath.Join(home, ".stationeye", path))
		}
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
	}
	if execPath, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(execPath), "venv/bin/python"))
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
