// Package yolo - Closed vocabulary ONNX object detection.
package yolo

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/nvr-ai/regionswap/common"
	"github.com/nvr-ai/regionswap/inference/providers"
	"github.com/nvr-ai/regionswap/logger"
	ort "github.com/yalue/onnxruntime_go"
)

// Config configures the ONNX detector.
type Config struct {
	ModelPath  string `yaml:"model_path"`
	InputName  string `yaml:"input_name"`
	OutputName string `yaml:"output_name"`
	// InputSize is the square input side the model was exported with.
	InputSize    int     `yaml:"input_size"`
	NMSThreshold float64 `yaml:"nms_threshold"`
	// Classes overrides COCOClasses for custom exports.
	Classes []string `yaml:"classes"`
	// Aliases are merged over DefaultAliases.
	Aliases map[string]string `yaml:"aliases"`
}

// DefaultConfig returns the settings of a stock YOLOv8 export.
func DefaultConfig() Config {
	return Config{
		InputName:    "images",
		OutputName:   "output0",
		InputSize:    640,
		NMSThreshold: 0.7,
	}
}

// Detector maps label phrases onto a fixed class list and runs a YOLO model.
// Calls must be serialised by the caller.
type Detector struct {
	session *providers.Session
	cfg     Config
	classes []string
	aliases map[string]string
	log     logger.Module
}

// NewDetector loads the model on the configured execution provider.
//
// Arguments:
//   - cfg: Model path, tensor names and vocabulary.
//   - pcfg: Execution provider configuration.
//
// Returns:
//   - *Detector: The detector; Close releases the session and runtime.
//   - error: An error if the runtime or the model cannot be loaded.
func NewDetector(cfg Config, pcfg providers.Config) (*Detector, error) {
	def := DefaultConfig()
	if cfg.InputName == "" {
		cfg.InputName = def.InputName
	}
	if cfg.OutputName == "" {
		cfg.OutputName = def.OutputName
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = def.InputSize
	}

	provider, err := providers.NewProvider(pcfg)
	if err != nil {
		return nil, err
	}
	if err := providers.InitializeRuntime(pcfg); err != nil {
		return nil, err
	}
	session, err := providers.NewSession(provider, pcfg, cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.OutputName})
	if err != nil {
		_ = providers.ReleaseRuntime()
		return nil, err
	}

	classes := cfg.Classes
	if len(classes) == 0 {
		classes = COCOClasses
	}
	aliases := make(map[string]string, len(DefaultAliases)+len(cfg.Aliases))
	for k, v := range DefaultAliases {
		aliases[k] = v
	}
	for k, v := range cfg.Aliases {
		aliases[k] = v
	}

	return &Detector{
		session: session,
		cfg:     cfg,
		classes: classes,
		aliases: aliases,
		log:     logger.For(nil, "YOLO"),
	}, nil
}

// Detect runs the model once and keeps the detections of the classes labels
// resolve to. Labels outside the vocabulary yield no detections.
func (d *Detector) Detect(ctx context.Context, img image.Image, labels []string, threshold float64) ([]common.Detection, error) {
	wanted := MatchClasses(labels, d.classes, d.aliases)
	if len(wanted) == 0 {
		d.log.Warn("no class matches %q", labels)
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := d.cfg.InputSize
	pixels := make([]float32, 3*size*size)
	if err := PrepareInput(img, size, pixels); err != nil {
		return nil, err
	}
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), pixels)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("failed to run inference: %w", err)
	}
	defer outputs[0].Destroy()

	pred, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type %T", outputs[0])
	}
	shape := pred.GetShape()
	if len(shape) != 3 || shape[0] != 1 || shape[1] <= 4 {
		return nil, fmt.Errorf("unexpected output shape %v", shape)
	}

	return Decode(Output{
		Data:      pred.GetData(),
		Classes:   int(shape[1]) - 4,
		Anchors:   int(shape[2]),
		InputSize: size,
	}, img.Bounds(), wanted, threshold, d.cfg.NMSThreshold)
}

// Close releases the session and the runtime reference.
func (d *Detector) Close() error {
	return errors.Join(d.session.Close(), providers.ReleaseRuntime())
}
