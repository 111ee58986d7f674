package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ayusman/stationeye/internal/app"
	"github.com/ayusman/stationeye/internal/capture/webcam"
	"github.com/ayusman/stationeye/internal/config"
	"github.com/ayusman/stationeye/internal/logging"
	"github.com/ayusman/stationeye/internal/tray"
)

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "stationeye:", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	def := config.Default()
	return &cli.App{
		Name:  "stationeye",
		Usage: "real-time safety equipment detection for a camera or uploaded image",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "service-url", Value: def.ServiceURL, Usage: "base URL of the detection service", EnvVars: []string{"STATIONEYE_SERVICE_URL"}},
			&cli.StringFlag{Name: "detector", Value: def.Detector, Usage: "detector backend: http or script", EnvVars: []string{"STATIONEYE_DETECTOR"}},
			&cli.StringFlag{Name: "script", Value: def.ScriptPath, Usage: "inference script for the script detector", EnvVars: []string{"STATIONEYE_SCRIPT_PATH"}},
			&cli.StringFlag{Name: "python", Value: def.PythonPath, Usage: "python interpreter for the script detector", EnvVars: []string{"PYTHON_PATH"}},
			&cli.IntFlag{Name: "camera", Value: def.CameraID, Usage: "camera device id", EnvVars: []string{"STATIONEYE_CAMERA_ID"}},
			&cli.StringFlag{Name: "input", Value: def.InputMode, Usage: "initial input: webcam or upload", EnvVars: []string{"STATIONEYE_INPUT_MODE"}},
			&cli.DurationFlag{Name: "capture-interval", Value: def.CaptureEvery, Usage: "capture period", EnvVars: []string{"STATIONEYE_CAPTURE_INTERVAL"}},
			&cli.DurationFlag{Name: "stats-interval", Value: def.StatsEvery, Usage: "statistics poll period", EnvVars: []string{"STATIONEYE_STATS_INTERVAL"}},
			&cli.Float64Flag{Name: "conf-threshold", Value: def.ConfThreshold, Usage: "confidence threshold sent to the service, 0 keeps its default", EnvVars: []string{"STATIONEYE_CONF_THRESHOLD"}},
			&cli.StringFlag{Name: "listen", Value: def.ListenAddr, Usage: "operator server address, empty disables it", EnvVars: []string{"STATIONEYE_LISTEN"}},
			&cli.StringFlag{Name: "data-dir", Value: def.DataDir, Usage: "directory for the local database", EnvVars: []string{"STATIONEYE_DATA_DIR"}},
			&cli.StringFlag{Name: "hook-dir", Value: def.HookDir, Usage: "directory scanned for alert hooks", EnvVars: []string{"STATIONEYE_HOOK_DIR"}},
			&cli.BoolFlag{Name: "tray", Value: def.Tray, Usage: "show the system tray menu", EnvVars: []string{"STATIONEYE_TRAY"}},
			&cli.StringFlag{Name: "log-level", Value: def.LogLevel, Usage: "debug, info, warn or error", EnvVars: []string{"STATIONEYE_LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-format", Value: def.LogFormat, Usage: "console or json", EnvVars: []string{"STATIONEYE_LOG_FORMAT"}},
			&cli.StringFlag{Name: "log-file", Value: def.LogFile, Usage: "rotate logs into this file instead of stderr", EnvVars: []string{"STATIONEYE_LOG_FILE"}},
		},
		Action: run,
	}
}

// loadConfig reads .env and the environment, then applies explicit flags.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}

	stringFlags := map[string]*string{
		"service-url": &cfg.ServiceURL,
		"detector":    &cfg.Detector,
		"script":      &cfg.ScriptPath,
		"python":      &cfg.PythonPath,
		"input":       &cfg.InputMode,
		"listen":      &cfg.ListenAddr,
		"data-dir":    &cfg.DataDir,
		"hook-dir":    &cfg.HookDir,
		"log-level":   &cfg.LogLevel,
		"log-format":  &cfg.LogFormat,
		"log-file":    &cfg.LogFile,
	}
	for name, dst := range stringFlags {
		if c.IsSet(name) {
			*dst = c.String(name)
		}
	}
	if c.IsSet("camera") {
		cfg.CameraID = c.Int("camera")
	}
	if c.IsSet("capture-interval") {
		cfg.CaptureEvery = c.Duration("capture-interval")
	}
	if c.IsSet("stats-interval") {
		cfg.StatsEvery = c.Duration("stats-interval")
	}
	if c.IsSet("conf-threshold") {
		cfg.ConfThreshold = c.Float64("conf-threshold")
	}
	if c.IsSet("tray") {
		cfg.Tray = c.Bool("tray")
	}

	return cfg, cfg.Validate()
}

func run(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer logger.Sync()

	webDir := findWebDir(cfg.DataDir)
	if webDir != "" {
		logger.Infow("serving static files", "dir", webDir)
	}

	a, err := app.New(cfg, app.Deps{
		Opener: webcam.Opener(cfg.CameraID),
		Logger: logger,
		WebDir: webDir,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Errorw("shutdown incomplete", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !cfg.Tray {
		return a.Run(ctx)
	}
	return runWithTray(ctx, stop, a, cfg, logger)
}

// runWithTray runs the pipeline in the background; the tray loop owns the
// main goroutine.
func runWithTray(ctx context.Context, stop context.CancelFunc, a *app.App, cfg config.Config, logger *zap.SugaredLogger) error {
	t := tray.New()
	t.SetPaused(a.Scheduler().Paused())
	t.OnToggle(a.Scheduler().TogglePause)
	a.Scheduler().OnPauseChange(t.SetPaused)
	a.Stream().OnResult(t.SetLastResult)
	t.OnQuit(stop)
	if url := viewerURL(cfg.ListenAddr); url != "" {
		t.OnOpen(func() {
			if err := openBrowser(url); err != nil {
				logger.Warnw("failed to open viewer", "url", url, "error", err)
			}
		})
	}

	done := make(chan error, 1)
	go func() {
		done <- a.Run(ctx)
		t.Quit()
	}()

	t.Run()
	stop()
	return <-done
}

// viewerURL returns the local URL of the operator view served on addr.
func viewerURL(addr string) string {
	if addr == "" {
		return ""
	}
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return ""
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the operator web directory in common locations.
// It checks "web", "../web", "../../web" and web under the data directory.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	for _, p := range []string{"web", "../web", "../../web"} {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}

	dataWebDir := filepath.Join(dataDir, "web")
	if info, err := os.Stat(dataWebDir); err == nil && info.IsDir() {
		return dataWebDir
	}
	return ""
}
