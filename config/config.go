// Package config - Session configuration.
//
// Values are resolved in this order, later sources winning:
//
//	defaults -> JSON file -> .env file -> FENCE_* environment -> CLI flags (in main)
//
// The result is validated with struct tags before use.
package config

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"

	"github.com/nvr-ai/virtual-fence/alert"
	"github.com/nvr-ai/virtual-fence/audit"
	"github.com/nvr-ai/virtual-fence/detector"
	"github.com/nvr-ai/virtual-fence/logging"
	"github.com/nvr-ai/virtual-fence/motion"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FENCE_"

// Input selects the video source and the working frame size.
type Input struct {
	Video string `json:"video"`
	Image string `json:"image"`
	// Frames is a directory of extracted frames replayed at FPS.
	Frames string  `json:"frames"`
	FPS    float64 `json:"fps" validate:"gte=0"`
	Device int     `json:"device" validate:"gte=0"`
	Width  int     `json:"frame_width" validate:"gt=0"`
	Height int     `json:"frame_height" validate:"gt=0"`
}

// Zone selects the polygon file.
type Zone struct {
	File string `json:"file" validate:"required"`
	// UseMask restricts the motion score to the zone.
	UseMask bool `json:"use_mask"`
}

// Model configures the ONNX backend.
type Model struct {
	Path           string  `json:"path" validate:"required_if=Enabled true"`
	Library        string  `json:"library"`
	Enabled        bool    `json:"enabled"`
	InputSize      int     `json:"input_size" validate:"gt=0,max=4096"`
	Candidates     int     `json:"candidates" validate:"gt=0"`
	ScoreThreshold float64 `json:"score_threshold" validate:"gte=0,lte=1"`
	IoUThreshold   float64 `json:"iou_threshold" validate:"gte=0,lte=1"`
	IntraOpThreads int     `json:"intra_op_threads" validate:"gte=0"`
	InterOpThreads int     `json:"inter_op_threads" validate:"gte=0"`
}

// Detector configures filtering and the model.
type Detector struct {
	Confidence float64  `json:"confidence" validate:"gte=0,lte=1"`
	Classes    []string `json:"classes" validate:"dive,required"`
	Model      Model    `json:"model"`
}

// Screenshots configures intrusion screenshots.
type Screenshots struct {
	Enabled  bool   `json:"enabled"`
	Dir      string `json:"dir" validate:"required_if=Enabled true"`
	Cooldown int    `json:"cooldown_frames" validate:"gte=0"`
	// Annotated saves the frame with the overlay drawn on it.
	Annotated bool `json:"annotated"`
}

// Audit configures the audit log.
type Audit struct {
	Enabled bool `json:"enabled"`
	audit.Config
}

// MQTT configures the MQTT notifier.
type MQTT struct {
	Enabled bool `json:"enabled"`
	alert.MQTTConfig
}

// Redis configures the Redis Streams notifier.
type Redis struct {
	Enabled bool `json:"enabled"`
	alert.RedisConfig
}

// Alerts configures alert delivery.
type Alerts struct {
	TimeoutMS int   `json:"timeout_ms" validate:"gte=0"`
	MQTT      MQTT  `json:"mqtt"`
	Redis     Redis `json:"redis"`
}

// Timeout returns the per-alert delivery timeout.
func (a Alerts) Timeout() time.Duration {
	if a.TimeoutMS <= 0 {
		return 5 * time.Second
	}
	return time.Duration(a.TimeoutMS) * time.Millisecond
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	// Addr is the listen address; empty disables the endpoint.
	Addr string `json:"addr" validate:"omitempty,hostname_port"`
}

// Display configures the preview window.
type Display struct {
	Window bool   `json:"window"`
	Title  string `json:"title"`
}

// Log configures the application logger.
type Log struct {
	logging.Config
}

// Config is the complete session configuration.
type Config struct {
	Input       Input         `json:"input"`
	Zone        Zone          `json:"zone"`
	Motion      motion.Config `json:"motion"`
	Detector    Detector      `json:"detector"`
	Screenshots Screenshots   `json:"screenshots"`
	Audit       Audit         `json:"audit"`
	Alerts      Alerts        `json:"alerts"`
	Metrics     Metrics       `json:"metrics"`
	Display     Display       `json:"display"`
	Log         Log           `json:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	det := detector.DefaultConfig()
	return Config{
		Input:  Input{Width: 640, Height: 360},
		Zone:   Zone{File: "configs/roi_config.json"},
		Motion: motion.DefaultConfig(),
		Detector: Detector{
			Confidence: det.Confidence,
			Classes:    det.Classes,
			Model: Model{
				Path:           "models/yolov8n.onnx",
				Enabled:        true,
				InputSize:      640,
				Candidates:     8400,
				ScoreThreshold: 0.25,
				IoUThreshold:   0.45,
				IntraOpThreads: 4,
				InterOpThreads: 2,
			},
		},
		Screenshots: Screenshots{Enabled: true, Dir: "screenshots", Cooldown: 30, Annotated: true},
		Audit: Audit{
			Enabled: true,
			Config:  audit.Config{File: "logs/intrusion_log.txt", MaxSizeMB: 50, MaxBackups: 5},
		},
		Alerts: Alerts{
			TimeoutMS: 5000,
			MQTT:      MQTT{MQTTConfig: alert.MQTTConfig{ClientID: "virtual-fence", Topic: "fence/alerts", QoS: 1}},
			Redis:     Redis{RedisConfig: alert.RedisConfig{Stream: "fence:alerts", MaxLen: 10000}},
		},
		Display: Display{Window: true, Title: "Virtual Fence"},
		Log:     Log{Config: logging.Config{Level: "info", Format: "console", Service: "virtual-fence"}},
	}
}

// Load resolves the configuration from a JSON file, optional .env files and
// the environment.
//
// Arguments:
//   - path: The JSON config file; a missing file leaves the defaults in place.
//   - envFiles: .env files to load; missing files are ignored.
//
// Returns:
//   - Config: The validated configuration.
//   - error: An error if the file cannot be parsed or validation fails.
func Load(path string, envFiles ...string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := json.Unmarshal(b, &cfg); err != nil {
				return Config{}, errors.Wrapf(err, "config: parsing %s", path)
			}
		case os.IsNotExist(err):
		default:
			return Config{}, errors.Wrapf(err, "config: reading %s", path)
		}
	}

	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(errors.Cause(err)) {
			return Config{}, errors.Wrapf(err, "config: loading %s", f)
		}
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from FENCE_* variables.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	var firstErr error
	fail := func(key string, err error) {
		if firstErr == nil {
			firstErr = errors.Wrapf(ErrInvalid, "%s%s: %v", EnvPrefix, key, err)
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				fail(key, err)
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				fail(key, err)
				return
			}
			*dst = f
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				fail(key, err)
				return
			}
			*dst = b
		}
	}

	str("VIDEO", &c.Input.Video)
	str("IMAGE", &c.Input.Image)
	str("FRAMES", &c.Input.Frames)
	float("FPS", &c.Input.FPS)
	integer("DEVICE", &c.Input.Device)
	integer("FRAME_WIDTH", &c.Input.Width)
	integer("FRAME_HEIGHT", &c.Input.Height)
	str("ZONE_FILE", &c.Zone.File)
	boolean("ZONE_MASK", &c.Zone.UseMask)
	float("MOTION_THRESHOLD", &c.Motion.Threshold)
	float("CONFIDENCE", &c.Detector.Confidence)
	str("MODEL_PATH", &c.Detector.Model.Path)
	str("ONNXRUNTIME_LIB", &c.Detector.Model.Library)
	boolean("DETECTOR_ENABLED", &c.Detector.Model.Enabled)
	str("SCREENSHOT_DIR", &c.Screenshots.Dir)
	str("AUDIT_FILE", &c.Audit.File)
	str("MQTT_BROKER", &c.Alerts.MQTT.Broker)
	str("MQTT_TOPIC", &c.Alerts.MQTT.Topic)
	str("MQTT_USERNAME", &c.Alerts.MQTT.Username)
	str("MQTT_PASSWORD", &c.Alerts.MQTT.Password)
	boolean("MQTT_ENABLED", &c.Alerts.MQTT.Enabled)
	str("REDIS_ADDR", &c.Alerts.Redis.Addr)
	str("REDIS_PASSWORD", &c.Alerts.Redis.Password)
	str("REDIS_STREAM", &c.Alerts.Redis.Stream)
	boolean("REDIS_ENABLED", &c.Alerts.Redis.Enabled)
	str("METRICS_ADDR", &c.Metrics.Addr)
	boolean("WINDOW", &c.Display.Window)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)

	return firstErr
}

var validate = validator.New()

// Validate checks the struct tags and the cross-field rules.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if err := c.Motion.Validate(); err != nil {
		return errors.Wrap(ErrInvalid, err.Error())
	}
	if c.Motion.Threshold < c.Motion.MinThreshold || c.Motion.Threshold > c.Motion.MaxThreshold {
		return errors.Wrapf(ErrInvalid, "motion threshold %v outside [%v, %v]",
			c.Motion.Threshold, c.Motion.MinThreshold, c.Motion.MaxThreshold)
	}
	inputs := 0
	for _, v := range []string{c.Input.Video, c.Input.Image, c.Input.Frames} {
		if v != "" {
			inputs++
		}
	}
	if inputs > 1 {
		return errors.Wrap(ErrInvalid, "input: video, image and frames are mutually exclusive")
	}
	if c.Alerts.MQTT.Enabled && (c.Alerts.MQTT.Broker == "" || c.Alerts.MQTT.Topic == "") {
		return errors.Wrap(ErrInvalid, "alerts.mqtt: broker and topic are required")
	}
	if c.Alerts.Redis.Enabled && (c.Alerts.Redis.Addr == "" || c.Alerts.Redis.Stream == "") {
		return errors.Wrap(ErrInvalid, "alerts.redis: addr and stream are required")
	}
	if c.Audit.Enabled && c.Audit.File == "" {
		return errors.Wrap(ErrInvalid, "audit: file is required")
	}
	switch c.Log.Format {
	case "", "json", "console":
	default:
		return errors.Wrapf(ErrInvalid, "log: unknown format %q", c.Log.Format)
	}
	return nil
}

// ModelScoreThreshold returns the candidate score the backend keeps before
// NMS. It never exceeds the detection confidence, so every box the adapter
// would accept reaches it.
func (c Config) ModelScoreThreshold() float64 {
	return math.Min(c.Detector.Model.ScoreThreshold, c.Detector.Confidence)
}

// DetectorConfig returns the adapter filtering settings.
func (c Config) DetectorConfig() detector.Config {
	return detector.Config{Confidence: c.Detector.Confidence, Classes: c.Detector.Classes}
}

// Save writes the configuration as indented JSON.
func (c Config) Save(path string) error {
	b, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return errors.Wrap(err, "config: encoding")
	}
	return errors.Wrapf(os.WriteFile(path, b, 0o644), "config: writing %s", path)
}
