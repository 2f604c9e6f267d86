package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nvr-ai/virtual-fence/alert"
	"github.com/nvr-ai/virtual-fence/audit"
	"github.com/nvr-ai/virtual-fence/config"
	"github.com/nvr-ai/virtual-fence/detector"
	"github.com/nvr-ai/virtual-fence/detector/onnx"
	"github.com/nvr-ai/virtual-fence/logging"
	"github.com/nvr-ai/virtual-fence/motion"
	"github.com/nvr-ai/virtual-fence/pipeline"
	"github.com/nvr-ai/virtual-fence/render"
	"github.com/nvr-ai/virtual-fence/screenshot"
	"github.com/nvr-ai/virtual-fence/stats"
	"github.com/nvr-ai/virtual-fence/video"
	"github.com/nvr-ai/virtual-fence/video/capture"
	"github.com/nvr-ai/virtual-fence/zone"
)

const (
	// DefaultConfigPath is read when -config is not given. A missing file keeps the defaults.
	DefaultConfigPath = "configs/fence.json"
	// DefaultEnvFile is loaded before the FENCE_* environment is applied.
	DefaultEnvFile = ".env"
)

// flags holds the command line overrides. Only flags that were set on the
// command line replace configuration values.
type flags struct {
	configPath  string
	envFile     string
	videoPath   string
	imagePath   string
	framesDir   string
	deviceID    int
	zoneFile    string
	threshold   float64
	confidence  float64
	modelPath   string
	noDetector  bool
	noWindow    bool
	shotDir     string
	metricsAddr string
	logLevel    string
}

func parseFlags() (flags, map[string]bool) {
	var f flags
	flag.StringVar(&f.configPath, "config", DefaultConfigPath, "Path to the JSON configuration file")
	flag.StringVar(&f.envFile, "env", DefaultEnvFile, "Path to a .env file with FENCE_* overrides")
	flag.StringVar(&f.videoPath, "video", "", "Path to video file (.mp4, .avi, .mov, .mkv) or stream URL")
	flag.StringVar(&f.imagePath, "image", "", "Path to image file (.jpg, .jpeg, .png, .bmp)")
	flag.StringVar(&f.framesDir, "frames", "", "Directory of extracted frames to replay")
	flag.IntVar(&f.deviceID, "device", 0, "Camera device ID used when no video or image is given")
	flag.StringVar(&f.zoneFile, "zone", "", "Path to the zone polygon file")
	flag.Float64Var(&f.threshold, "threshold", 0, "Initial motion threshold (changed pixels)")
	flag.Float64Var(&f.confidence, "confidence", 0, "Person detection confidence threshold")
	flag.StringVar(&f.modelPath, "model", "", "Path to the YOLO ONNX model")
	flag.BoolVar(&f.noDetector, "no-detector", false, "Run the motion gate only")
	flag.BoolVar(&f.noWindow, "no-window", false, "Do not open the preview window")
	flag.StringVar(&f.shotDir, "screenshot-dir", "", "Directory for intrusion screenshots")
	flag.StringVar(&f.metricsAddr, "metrics-addr", "", "Listen address for the Prometheus endpoint")
	flag.StringVar(&f.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.Parse()

	set := make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { set[fl.Name] = true })
	return f, set
}

func (f flags) apply(cfg *config.Config, set map[string]bool) {
	if set["video"] {
		cfg.Input.Video, cfg.Input.Image, cfg.Input.Frames = f.videoPath, "", ""
	}
	if set["image"] {
		cfg.Input.Image, cfg.Input.Video, cfg.Input.Frames = f.imagePath, "", ""
	}
	if set["frames"] {
		cfg.Input.Frames, cfg.Input.Video, cfg.Input.Image = f.framesDir, "", ""
	}
	if set["device"] {
		cfg.Input.Device = f.deviceID
	}
	if set["zone"] {
		cfg.Zone.File = f.zoneFile
	}
	if set["threshold"] {
		cfg.Motion.Threshold = f.threshold
	}
	if set["confidence"] {
		cfg.Detector.Confidence = f.confidence
	}
	if set["model"] {
		cfg.Detector.Model.Path = f.modelPath
	}
	if f.noDetector {
		cfg.Detector.Model.Enabled = false
	}
	if f.noWindow {
		cfg.Display.Window = false
	}
	if set["screenshot-dir"] {
		cfg.Screenshots.Dir = f.shotDir
	}
	if set["metrics-addr"] {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if set["log-level"] {
		cfg.Log.Level = f.logLevel
	}
}

func main() {
	f, set := parseFlags()

	cfg, err := config.Load(f.configPath, f.envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	f.apply(&cfg, set)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Log.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sum, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Error("virtual fence stopped", zap.Error(err))
		os.Exit(1)
	}
	printSummary(sum)
}

// run builds every component from cfg and runs one session.
func run(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Summary, error) {
	source, name, err := openSource(cfg.Input, logger)
	if err != nil {
		return pipeline.Summary{}, err
	}
	defer source.Close()

	size := source.Size()
	z, err := loadZone(cfg.Zone.File, size.X, size.Y, logger)
	if err != nil {
		return pipeline.Summary{}, err
	}

	gateOpts := []motion.Option{motion.WithLogger(logger.Named("motion"))}
	if cfg.Zone.UseMask && z != nil {
		gateOpts = append(gateOpts, motion.WithZone(z))
	}
	gate, err := motion.NewGate(cfg.Motion, gateOpts...)
	if err != nil {
		return pipeline.Summary{}, err
	}

	var det pipeline.Detector
	if cfg.Detector.Model.Enabled {
		adapter, err := newDetector(cfg, logger)
		if err != nil {
			return pipeline.Summary{}, err
		}
		defer adapter.Close()
		det = adapter
	} else {
		logger.Warn("detector disabled, running motion gate only")
	}

	st := stats.New()
	if cfg.Metrics.Addr != "" {
		reg := stats.NewRegistry(st)
		go func() {
			if err := reg.Serve(ctx, cfg.Metrics.Addr, logger.Named("metrics")); err != nil {
				logger.Error("metrics endpoint failed", zap.Error(err))
			}
		}()
	}

	notifier := newNotifier(ctx, cfg, logger)
	defer notifier.Close()

	var (
		sinks   []pipeline.Sink
		session *pipeline.Session
	)
	if cfg.Audit.Enabled {
		al, err := audit.Open(cfg.Audit.Config)
		if err != nil {
			return pipeline.Summary{}, err
		}
		defer al.Close()
		sinks = append(sinks, al)
	}
	if cfg.Display.Window {
		win := render.NewWindow(cfg.Display.Title, func(cmd pipeline.Command) bool {
			return session.Submit(cmd)
		}, logger.Named("window"))
		defer win.Close()
		sinks = append(sinks, win)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(logger.Named("session")),
		pipeline.WithStats(st),
		pipeline.WithSinks(sinks...),
		pipeline.WithAlertTimeout(cfg.Alerts.Timeout()),
		pipeline.WithSourceName(name),
		pipeline.WithConfidence(cfg.Detector.Confidence),
	}
	if notifier.Len() > 0 {
		opts = append(opts, pipeline.WithNotifier(notifier))
	}
	if cfg.Screenshots.Enabled {
		var write screenshot.WriteFunc
		if cfg.Screenshots.Annotated {
			write = render.AnnotatedWriter(z)
		}
		opts = append(opts, pipeline.WithScreenshotter(screenshot.New(cfg.Screenshots.Dir, cfg.Screenshots.Cooldown, write)))
	}

	session, err = pipeline.New(source, gate, det, z, opts...)
	if err != nil {
		return pipeline.Summary{}, err
	}
	return session.Run(ctx)
}

// loadZone reads the zone file and fits it to the frame size. A missing file
// is not fatal: the session runs without a zone and never reports intrusions.
func loadZone(path string, width, height int, logger *zap.Logger) (*zone.Zone, error) {
	saved, err := zone.Load(path)
	if err != nil {
		if errors.Is(err, zone.ErrNotFound) {
			logger.Warn("no zone file, create one with cmd/zone", zap.String("path", path))
			return nil, nil
		}
		return nil, err
	}
	if !saved.MatchesFrame(width, height) {
		logger.Info("rescaling zone to frame size",
			zap.Int("saved_width", saved.FrameWidth),
			zap.Int("saved_height", saved.FrameHeight),
			zap.Int("width", width),
			zap.Int("height", height))
	}
	z := saved.FitTo(width, height)
	logger.Info("zone loaded", zap.String("path", path), zap.Int("points", z.Len()))
	return z, nil
}

func newDetector(cfg config.Config, logger *zap.Logger) (*detector.Adapter, error) {
	m := cfg.Detector.Model
	oc := onnx.DefaultConfig()
	oc.ModelPath = m.Path
	if m.Library != "" {
		oc.LibraryPath = m.Library
	}
	oc.InputSize = m.InputSize
	oc.Candidates = m.Candidates
	oc.ScoreThreshold = cfg.ModelScoreThreshold()
	oc.IoUThreshold = m.IoUThreshold
	oc.IntraOpThreads = m.IntraOpThreads
	oc.InterOpThreads = m.InterOpThreads

	backend, err := onnx.New(oc, logger.Named("onnx"))
	if err != nil {
		return nil, err
	}
	adapter, err := detector.New(backend, cfg.DetectorConfig())
	if err != nil {
		_ = backend.Close()
		return nil, err
	}
	return adapter, nil
}

// newNotifier dials every enabled alert transport. A transport that cannot be
// reached at startup is logged and left out.
func newNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) *alert.Multi {
	var notifiers []alert.Notifier
	if cfg.Alerts.MQTT.Enabled {
		mc := cfg.Alerts.MQTT.MQTTConfig
		mc.Timeout = cfg.Alerts.Timeout()
		m, err := alert.DialMQTT(mc)
		if err != nil {
			logger.Warn("mqtt alerts disabled", zap.String("broker", mc.Broker), zap.Error(err))
		} else {
			notifiers = append(notifiers, m)
		}
	}
	if cfg.Alerts.Redis.Enabled {
		dctx, cancel := context.WithTimeout(ctx, cfg.Alerts.Timeout())
		r, err := alert.DialRedis(dctx, cfg.Alerts.Redis.RedisConfig)
		cancel()
		if err != nil {
			logger.Warn("redis alerts disabled", zap.String("addr", cfg.Alerts.Redis.Addr), zap.Error(err))
		} else {
			notifiers = append(notifiers, r)
		}
	}
	return alert.NewMulti(logger.Named("alert"), notifiers...)
}

// openSource opens a frame directory, or a camera, video or image via gocv.
func openSource(cfg config.Input, logger *zap.Logger) (video.Source, string, error) {
	if cfg.Frames != "" {
		src, err := video.OpenDir(cfg.Frames, cfg.FPS)
		if err != nil {
			return nil, "", err
		}
		logger.Info("replaying frame directory", zap.String("dir", cfg.Frames), zap.Int("frames", src.Len()))
		return src, cfg.Frames, nil
	}

	in, err := capture.ResolveInput(cfg.Video, cfg.Image, cfg.Device)
	if err != nil {
		return nil, "", err
	}
	in.Width, in.Height = cfg.Width, cfg.Height
	src, err := capture.Open(in, logger.Named("capture"))
	if err != nil {
		return nil, "", err
	}
	name := in.Path
	if in.Type == capture.InputCamera {
		name = fmt.Sprintf("camera:%d", in.DeviceID)
	}
	return src, name, nil
}

func printSummary(sum pipeline.Summary) {
	s := sum.Stats
	fmt.Printf("\nSession %s ended (%s)\n", sum.Info.SessionID, sum.Reason)
	fmt.Printf("  Frames processed:      %d\n", s.FramesProcessed)
	fmt.Printf("  Gate triggers:         %d (%.1f%%)\n", s.GateTriggers, 100*s.GateRate())
	fmt.Printf("  Detector invocations:  %d (%.1f%% saved)\n", s.DetectorInvocations, 100*s.DetectorSavings())
	fmt.Printf("  Detector failures:     %d\n", s.DetectorFailures)
	fmt.Printf("  Intrusion frames:      %d (%.1f%%)\n", s.IntrusionFrames, 100*s.IntrusionRate())
	fmt.Printf("  Intrusion entries:     %d\n", s.IntrusionEntries)
	fmt.Printf("  Max intrusion:         %s\n", sum.State.Max)
	fmt.Printf("  Total intrusion time:  %s\n", sum.State.Cumulative)
	fmt.Printf("  Screenshots:           %d\n", s.Screenshots)
	fmt.Printf("  Alerts:                %d\n", s.Alerts)
}
