// Package onnx - YOLOv8 person detector backed by ONNX Runtime.
//
// The backend loads a YOLOv8 model exported with a 1x3xNxN "images" input and
// a 1x84xC "output0" output, stretches each frame to NxN, and decodes the
// output into boxes in frame coordinates after class-aware NMS. Confidence and
// class filtering is left to detector.Adapter.
package onnx

import (
	"context"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/nvr-ai/virtual-fence/detector"
)

const (
	inputName  = "images"
	outputName = "output0"
	numClasses = 80
)

// Config describes the model and runtime settings.
type Config struct {
	// ModelPath is the path to the .onnx file.
	ModelPath string `json:"model_path"`
	// LibraryPath is the path to the onnxruntime shared library. Empty uses SharedLibPath().
	LibraryPath string `json:"library_path"`
	// InputSize is the square model input resolution.
	InputSize int `json:"input_size"`
	// Candidates is the number of candidate boxes the model emits.
	Candidates int `json:"candidates"`
	// ScoreThreshold drops candidates before NMS.
	ScoreThreshold float64 `json:"score_threshold"`
	// IoUThreshold is the NMS overlap threshold.
	IoUThreshold float64 `json:"iou_threshold"`
	// IntraOpThreads parallelizes execution within graph nodes. 0 uses the runtime default.
	IntraOpThreads int `json:"intra_op_threads"`
	// InterOpThreads parallelizes execution across graph nodes. 0 uses the runtime default.
	InterOpThreads int `json:"inter_op_threads"`
}

// DefaultConfig returns the settings for a stock yolov8n.onnx export.
func DefaultConfig() Config {
	return Config{
		ModelPath:      "yolov8n.onnx",
		InputSize:      640,
		Candidates:     8400,
		ScoreThreshold: 0.25,
		IoUThreshold:   0.45,
		IntraOpThreads: 4,
		InterOpThreads: 2,
	}
}

// SharedLibPath returns the default onnxruntime library location for the
// current platform.
func SharedLibPath() string {
	if p := os.Getenv("ONNXRUNTIME_LIB"); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	}
	if runtime.GOARCH == "arm64" {
		return "./third_party/onnxruntime_arm64.so"
	}
	return "./third_party/onnxruntime.so"
}

// Backend runs YOLOv8 inference. Infer is safe for concurrent use but calls
// are serialized on the single session.
type Backend struct {
	cfg     Config
	logger  *zap.Logger
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

var envMu sync.Mutex

// New loads the model and creates the inference session.
//
// Arguments:
//   - cfg: The model configuration.
//   - logger: The logger.
//
// Returns:
//   - *Backend: The backend.
//   - error: An error wrapping detector.ErrInit if anything could not be loaded.
func New(cfg Config, logger *zap.Logger) (*Backend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.InputSize <= 0 || cfg.Candidates <= 0 {
		return nil, errors.Wrap(detector.ErrInit, "input size and candidates must be positive")
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, errors.Wrapf(detector.ErrInit, "model %s: %v", cfg.ModelPath, err)
	}

	libPath := cfg.LibraryPath
	if libPath == "" {
		libPath = SharedLibPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return nil, errors.Wrapf(detector.ErrInit, "onnxruntime library %s: %v", libPath, err)
	}

	envMu.Lock()
	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			envMu.Unlock()
			return nil, errors.Wrapf(detector.ErrInit, "initializing onnxruntime: %v", err)
		}
	}
	envMu.Unlock()

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(cfg.InputSize), int64(cfg.InputSize)))
	if err != nil {
		return nil, errors.Wrapf(detector.ErrInit, "creating input tensor: %v", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 4+numClasses, int64(cfg.Candidates)))
	if err != nil {
		input.Destroy()
		return nil, errors.Wrapf(detector.ErrInit, "creating output tensor: %v", err)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(detector.ErrInit, "creating session options: %v", err)
	}
	defer options.Destroy()
	if cfg.IntraOpThreads > 0 {
		_ = options.SetIntraOpNumThreads(cfg.IntraOpThreads)
	}
	if cfg.InterOpThreads > 0 {
		_ = options.SetInterOpNumThreads(cfg.InterOpThreads)
	}
	_ = options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	session, err := ort.NewAdvancedSession(
		cfg.ModelPath,
		[]string{inputName},
		[]string{outputName},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, errors.Wrapf(detector.ErrInit, "creating session: %v", err)
	}

	logger.Info("onnx detector loaded",
		zap.String("model", cfg.ModelPath),
		zap.String("library", libPath),
		zap.Int("input_size", cfg.InputSize))

	return &Backend{
		cfg:     cfg,
		logger:  logger,
		session: session,
		input:   input,
		output:  output,
	}, nil
}

// Infer runs the model on a frame.
//
// Arguments:
//   - ctx: The context; checked before inference starts.
//   - frame: The frame to analyse.
//
// Returns:
//   - []detector.Box: All boxes that survived the score floor and NMS.
//   - error: An error if the session is closed or the run fails.
func (b *Backend) Infer(ctx context.Context, frame image.Image) ([]detector.Box, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil, errors.Wrap(detector.ErrInit, "session closed")
	}
	if err := fillInput(frame, b.cfg.InputSize, b.input.GetData()); err != nil {
		return nil, err
	}
	if err := b.session.Run(); err != nil {
		return nil, errors.Wrap(err, "running session")
	}

	boxes := decode(b.output.GetData(), numClasses, b.cfg.Candidates, b.cfg.InputSize,
		frame.Bounds().Size(), float32(b.cfg.ScoreThreshold))
	return nms(boxes, b.cfg.IoUThreshold), nil
}

// Close releases the session and its tensors.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.session == nil {
		return nil
	}
	err := b.session.Destroy()
	b.input.Destroy()
	b.output.Destroy()
	b.session = nil
	return err
}
