package sam

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/nvr-ai/regionswap/common"
	"github.com/nvr-ai/regionswap/inference/providers"
	"github.com/nvr-ai/regionswap/masks"
	ort "github.com/yalue/onnxruntime_go"
)

// Config names the exported encoder and decoder models and their tensors.
type Config struct {
	EncoderPath string `yaml:"encoder_path"`
	DecoderPath string `yaml:"decoder_path"`

	EncoderInput  string `yaml:"encoder_input"`
	EncoderOutput string `yaml:"encoder_output"`
	DecoderOutput string `yaml:"decoder_output"`
}

// DefaultConfig returns the tensor names of the reference ONNX export.
func DefaultConfig() Config {
	return Config{
		EncoderInput:  "input_image",
		EncoderOutput: "image_embeddings",
		DecoderOutput: "masks",
	}
}

// decoderInputs is the fixed input order of the prompt decoder.
var decoderInputs = []string{
	"image_embeddings",
	"point_coords",
	"point_labels",
	"mask_input",
	"has_mask_input",
	"orig_im_size",
}

// Segmenter runs SAM locally: the image is encoded once per call and the
// decoder is run once per box. Calls must be serialised by the caller.
type Segmenter struct {
	encoder *providers.Session
	decoder *providers.Session
}

// NewSegmenter loads the encoder and decoder on the configured execution provider.
//
// Arguments:
//   - cfg: Model paths and tensor names.
//   - pcfg: Execution provider configuration.
//
// Returns:
//   - *Segmenter: The segmenter; Close releases the sessions and runtime.
//   - error: An error if the runtime or either model cannot be loaded.
func NewSegmenter(cfg Config, pcfg providers.Config) (*Segmenter, error) {
	def := DefaultConfig()
	if cfg.EncoderInput == "" {
		cfg.EncoderInput = def.EncoderInput
	}
	if cfg.EncoderOutput == "" {
		cfg.EncoderOutput = def.EncoderOutput
	}
	if cfg.DecoderOutput == "" {
		cfg.DecoderOutput = def.DecoderOutput
	}

	provider, err := providers.NewProvider(pcfg)
	if err != nil {
		return nil, err
	}
	if err := providers.InitializeRuntime(pcfg); err != nil {
		return nil, err
	}

	encoder, err := providers.NewSession(provider, pcfg, cfg.EncoderPath,
		[]string{cfg.EncoderInput}, []string{cfg.EncoderOutput})
	if err != nil {
		_ = providers.ReleaseRuntime()
		return nil, fmt.Errorf("load encoder: %w", err)
	}
	decoder, err := providers.NewSession(provider, pcfg, cfg.DecoderPath,
		decoderInputs, []string{cfg.DecoderOutput})
	if err != nil {
		_ = encoder.Close()
		_ = providers.ReleaseRuntime()
		return nil, fmt.Errorf("load decoder: %w", err)
	}

	return &Segmenter{encoder: encoder, decoder: decoder}, nil
}

// Segment returns one raw mask per box, in box order.
func (s *Segmenter) Segment(ctx context.Context, img image.Image, boxes []common.BoundingBox) ([]*masks.RawMask, error) {
	if len(boxes) == 0 {
		return nil, nil
	}

	pixels, t, err := Preprocess(img)
	if err != nil {
		return nil, err
	}
	input, err := ort.NewTensor(ort.NewShape(1, 3, InputSize, InputSize), pixels)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	defer input.Destroy()

	embeddings := []ort.Value{nil}
	if err := s.encoder.Run([]ort.Value{input}, embeddings); err != nil {
		return nil, fmt.Errorf("encoder: %w", err)
	}
	defer embeddings[0].Destroy()

	out := make([]*masks.RawMask, 0, len(boxes))
	for i, box := range boxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := s.decode(embeddings[0], box, t)
		if err != nil {
			return nil, fmt.Errorf("decoder box %d: %w", i, err)
		}
		out = append(out, raw)
	}
	return out, nil
}

func (s *Segmenter) decode(embeddings ort.Value, box common.BoundingBox, t Transform) (*masks.RawMask, error) {
	coords, labels := BoxPrompt(box, t)

	var inputs []ort.Value
	defer func() {
		// The embeddings belong to the caller.
		for _, v := range inputs[1:] {
			v.Destroy()
		}
	}()
	inputs = append(inputs, embeddings)

	for _, spec := range []struct {
		shape ort.Shape
		data  []float32
	}{
		{ort.NewShape(1, 3, 2), coords},
		{ort.NewShape(1, 3), labels},
		{ort.NewShape(1, 1, 256, 256), make([]float32, 256*256)},
		{ort.NewShape(1), []float32{0}},
		{ort.NewShape(2), []float32{float32(t.OrigH), float32(t.OrigW)}},
	} {
		v, err := ort.NewTensor(spec.shape, spec.data)
		if err != nil {
			return nil, fmt.Errorf("error creating decoder input: %w", err)
		}
		inputs = append(inputs, v)
	}

	outputs := []ort.Value{nil}
	if err := s.decoder.Run(inputs, outputs); err != nil {
		return nil, err
	}
	defer outputs[0].Destroy()

	logits, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected decoder output type %T", outputs[0])
	}
	return rawMaskFromOutput(logits.GetShape(), logits.GetData(), t.OrigW, t.OrigH)
}

// rawMaskFromOutput converts a (1, C, H, W) decoder output into a RawMask,
// copying the data out of runtime-owned memory.
func rawMaskFromOutput(shape ort.Shape, data []float32, w, h int) (*masks.RawMask, error) {
	if len(shape) != 4 || shape[0] != 1 {
		return nil, fmt.Errorf("unexpected mask shape %v", shape)
	}
	c, mh, mw := int(shape[1]), int(shape[2]), int(shape[3])
	if mh != h || mw != w {
		return nil, fmt.Errorf("mask is %dx%d, image is %dx%d", mw, mh, w, h)
	}
	values := make([]float32, len(data))
	copy(values, data)
	return masks.NewRawMask(c, mh, mw, values)
}

// Close releases both sessions and the runtime reference.
func (s *Segmenter) Close() error {
	return errors.Join(s.encoder.Close(), s.decoder.Close(), providers.ReleaseRuntime())
}
