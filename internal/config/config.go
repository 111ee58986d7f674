// Package config loads stationeye configuration from the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Detector backends.
const (
	DetectorHTTP   = "http"
	DetectorScript = "script"
)

// Config holds every runtime option.
type Config struct {
	ServiceURL     string // base URL of the remote detection/statistics service
	Detector       string // http or script
	ScriptPath     string // inference script for the script detector
	PythonPath     string
	CameraID       int
	InputMode      string // webcam or upload
	CaptureEvery   time.Duration
	StatsEvery     time.Duration
	ConfThreshold  float64 // 0 leaves the service default in place
	RequestTimeout time.Duration

	ListenAddr string
	DataDir    string
	HookDir    string
	Tray       bool

	LogLevel  string
	LogFormat string
	LogFile   string
}

// Default returns the built-in configuration.
func Default() Config {
	dataDir := ".stationeye"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".stationeye")
	}

	return Config{
		ServiceURL:     "http://localhost:5000",
		Detector:       DetectorHTTP,
		ScriptPath:     "server/yolov8_inference.py",
		PythonPath:     "python3",
		CameraID:       0,
		InputMode:      "webcam",
		CaptureEvery:   time.Second,
		StatsEvery:     5 * time.Second,
		RequestTimeout: 30 * time.Second,
		ListenAddr:     ":8080",
		DataDir:        dataDir,
		HookDir:        filepath.Join(dataDir, "hooks"),
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load reads an optional .env file and overlays STATIONEYE_* variables on
// the defaults.
func Load() (Config, error) {
	// A missing .env file is fine
	_ = godotenv.Load()

	cfg := Default()
	var err error

	setString(&cfg.ServiceURL, "STATIONEYE_SERVICE_URL")
	setString(&cfg.Detector, "STATIONEYE_DETECTOR")
	setString(&cfg.ScriptPath, "STATIONEYE_SCRIPT_PATH")
	setString(&cfg.PythonPath, "PYTHON_PATH")
	setString(&cfg.InputMode, "STATIONEYE_INPUT_MODE")
	setString(&cfg.ListenAddr, "STATIONEYE_LISTEN")
	setString(&cfg.DataDir, "STATIONEYE_DATA_DIR")
	setString(&cfg.HookDir, "STATIONEYE_HOOK_DIR")
	setString(&cfg.LogLevel, "STATIONEYE_LOG_LEVEL")
	setString(&cfg.LogFormat, "STATIONEYE_LOG_FORMAT")
	setString(&cfg.LogFile, "STATIONEYE_LOG_FILE")

	if v := os.Getenv("STATIONEYE_CAMERA_ID"); v != "" {
		if cfg.CameraID, err = strconv.Atoi(v); err != nil {
			return cfg, errors.Wrap(err, "STATIONEYE_CAMERA_ID")
		}
	}
	if v := os.Getenv("STATIONEYE_CAPTURE_INTERVAL"); v != "" {
		if cfg.CaptureEvery, err = time.ParseDuration(v); err != nil {
			return cfg, errors.Wrap(err, "STATIONEYE_CAPTURE_INTERVAL")
		}
	}
	if v := os.Getenv("STATIONEYE_STATS_INTERVAL"); v != "" {
		if cfg.StatsEvery, err = time.ParseDuration(v); err != nil {
			return cfg, errors.Wrap(err, "STATIONEYE_STATS_INTERVAL")
		}
	}
	if v := os.Getenv("STATIONEYE_CONF_THRESHOLD"); v != "" {
		if cfg.ConfThreshold, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, errors.Wrap(err, "STATIONEYE_CONF_THRESHOLD")
		}
	}
	if v := os.Getenv("STATIONEYE_TRAY"); v != "" {
		if cfg.Tray, err = strconv.ParseBool(v); err != nil {
			return cfg, errors.Wrap(err, "STATIONEYE_TRAY")
		}
	}

	return cfg, cfg.Validate()
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	switch c.Detector {
	case DetectorHTTP:
		if c.ServiceURL == "" {
			return errors.New("service URL is required for the http detector")
		}
	case DetectorScript:
		if c.ScriptPath == "" {
			return errors.New("script path is required for the script detector")
		}
	default:
		return errors.Errorf("unknown detector %q", c.Detector)
	}

	if c.InputMode != "webcam" && c.InputMode != "upload" {
		return errors.Errorf("unknown input mode %q", c.InputMode)
	}
	if c.CaptureEvery <= 0 {
		return errors.New("capture interval must be positive")
	}
	if c.StatsEvery <= 0 {
		return errors.New("stats interval must be positive")
	}
	if c.ConfThreshold < 0 || c.ConfThreshold > 1 {
		return errors.Errorf("confidence threshold %v outside [0,1]", c.ConfThreshold)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
