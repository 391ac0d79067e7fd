// Package pipeline - Detect, segment, refine and composite, per request.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/google/uuid"
	"github.com/nvr-ai/regionswap/catalog"
	"github.com/nvr-ai/regionswap/common"
	"github.com/nvr-ai/regionswap/compositor"
	"github.com/nvr-ai/regionswap/images"
	"github.com/nvr-ai/regionswap/inference"
	"github.com/nvr-ai/regionswap/logger"
	"github.com/nvr-ai/regionswap/masks"
	"github.com/nvr-ai/regionswap/postprocess"
	"github.com/pkg/errors"
)

var (
	// ErrDetection is returned when the detection collaborator fails for an image.
	ErrDetection = errors.New("detection collaborator error")
	// ErrSegmentation is returned when the segmentation collaborator fails or
	// returns masks that do not line up with the detections or the image.
	ErrSegmentation = errors.New("segmentation collaborator error")
	// ErrAllImagesFailed is returned when no image of a request was processed.
	ErrAllImagesFailed = errors.New("all images failed")
	// ErrNoImages is returned for a request without image references.
	ErrNoImages = errors.New("no images in request")
	// ErrNoCategory is returned for a request without a category.
	ErrNoCategory = errors.New("no category in request")
)

// ImageLoader acquires the base image behind a reference.
type ImageLoader interface {
	Load(ctx context.Context, ref string) (*image.RGBA, error)
}

// ReplacementSource provides the image painted into every silhouette.
type ReplacementSource interface {
	Replacement(ctx context.Context, category string) (image.Image, error)
}

// Recorder receives image and detection outcomes.
type Recorder interface {
	ImageDone(outcome string)
	DetectionDone(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ImageDone(string)     {}
func (nopRecorder) DetectionDone(string) {}

// Request is one unit of work: every image is searched for category.
type Request struct {
	// ID identifies the request in logs. Empty gets a random UUID.
	ID       string
	Category string
	Images   []string
	// Refine overrides Config.PolygonRefinement when set.
	Refine *bool
}

// DetectionResult is a detection with the silhouette attached by the
// segmentation stage and the outcome of compositing it.
type DetectionResult struct {
	common.Detection
	Mask *masks.Mask
	Err  error
}

// ImageOutcome is the result for one input image.
type ImageOutcome struct {
	Index      int
	Ref        string
	Stage      Stage
	Encoded    []byte
	Format     images.ImageFormat
	Detections []DetectionResult
	Err        error
}

// OK reports whether the image made it through every stage.
func (o *ImageOutcome) OK() bool {
	return o.Err == nil && o.Stage == StageEncoded
}

// Result holds one outcome per input image, in input order.
type Result struct {
	RequestID string
	Images    []ImageOutcome
}

// Succeeded returns the outcomes of encoded images, in input order.
func (r *Result) Succeeded() []ImageOutcome {
	var out []ImageOutcome
	for _, o := range r.Images {
		if o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Failed returns the outcomes of dropped images, in input order.
func (r *Result) Failed() []ImageOutcome {
	var out []ImageOutcome
	for _, o := range r.Images {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRecorder reports outcomes to r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) { p.recorder = r }
}

// WithLogger logs through l instead of the global logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *Pipeline) { p.log = logger.For(l, "pipeline") }
}

// Pipeline runs requests against shared collaborators. It holds no state
// across requests and is safe for concurrent use.
type Pipeline struct {
	detector     inference.Detector
	segmenter    inference.Segmenter
	loader       ImageLoader
	replacements ReplacementSource
	recorder     Recorder
	log          logger.Module
	cfg          Config
	format       images.ImageFormat
}

// New creates a Pipeline.
//
// Arguments:
//   - engine: The detection and segmentation collaborators.
//   - loader: Acquires base images.
//   - replacements: Provides replacement images.
//   - cfg: Thresholds, refinement default, worker bounds and output encoding.
//
// Returns:
//   - *Pipeline: The pipeline.
//   - error: An error if a dependency is missing or cfg is invalid.
func New(engine *inference.Engine, loader ImageLoader, replacements ReplacementSource, cfg Config, opts ...Option) (*Pipeline, error) {
	if engine == nil || engine.Detector == nil || engine.Segmenter == nil {
		return nil, errors.New("pipeline needs a detector and a segmenter")
	}
	if loader == nil || replacements == nil {
		return nil, errors.New("pipeline needs an image loader and a replacement source")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, err := images.ParseFormat(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		detector:     engine.Detector,
		segmenter:    engine.Segmenter,
		loader:       loader,
		replacements: replacements,
		recorder:     nopRecorder{},
		log:          logger.For(nil, "pipeline"),
		cfg:          cfg,
		format:       format,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs every image of req through the pipeline.
//
// Images are processed concurrently, bounded by Config.ImageWorkers, and the
// outcomes are returned in input order. A failed image is reported in its
// outcome and does not affect the others. When ctx is done, images still in
// flight fail with the context error while finished images are kept.
//
// Arguments:
//   - ctx: Bounds the whole request.
//   - req: The category and image references.
//
// Returns:
//   - *Result: One outcome per image. Returned even with ErrAllImagesFailed.
//   - error: ErrNoCategory, ErrNoImages or ErrAllImagesFailed.
func (p *Pipeline) Process(ctx context.Context, req Request) (*Result, error) {
	category := Capitalize(req.Category)
	if category == "" {
		return nil, ErrNoCategory
	}
	if len(req.Images) == 0 {
		return nil, ErrNoImages
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	refine := p.cfg.PolygonRefinement
	if req.Refine != nil {
		refine = *req.Refine
	}

	j := &job{
		Pipeline: p,
		label:    NormalizeLabel(req.Category),
		category: category,
		refine:   refine,
		log:      p.log.With("req=" + req.ID),
	}
	j.log.Info("processing %d image(s) for %q, refinement=%t", len(req.Images), j.label, refine)

	result := &Result{RequestID: req.ID, Images: make([]ImageOutcome, len(req.Images))}
	sem := make(chan struct{}, p.cfg.ImageWorkers)
	var wg sync.WaitGroup
	for i, ref := range req.Images {
		wg.Add(1)
		go func(i int, ref string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				result.Images[i] = ImageOutcome{Index: i, Ref: ref, Err: ctx.Err()}
				p.recorder.ImageDone("cancelled")
				return
			}
			result.Images[i] = j.processImage(ctx, i, ref)
		}(i, ref)
	}
	wg.Wait()

	if len(result.Succeeded()) == 0 {
		j.log.Warn("all %d image(s) failed", len(req.Images))
		return result, ErrAllImagesFailed
	}
	j.log.Info("done: %d ok, %d failed", len(result.Succeeded()), len(result.Failed()))
	return result, nil
}

// job carries the per-request parameters shared by its images.
type job struct {
	*Pipeline
	label    string
	category string
	refine   bool
	log      logger.Module
}

func (j *job) advance(o *ImageOutcome, to Stage) {
	o.Stage = to
	j.log.Debug("image %d: %s", o.Index, to)
}

func (j *job) fail(o *ImageOutcome, outcome string, err error) ImageOutcome {
	o.Err = err
	j.recorder.ImageDone(outcome)
	j.log.Warn("image %d dropped after %s: %v", o.Index, o.Stage, err)
	return *o
}

func (j *job) processImage(ctx context.Context, index int, ref string) ImageOutcome {
	o := ImageOutcome{Index: index, Ref: ref, Format: j.format}

	base, err := j.loader.Load(ctx, ref)
	if err != nil {
		return j.fail(&o, "load_failed", err)
	}
	j.advance(&o, StageLoaded)

	detections, err := j.detector.Detect(ctx, base, []string{j.label}, j.cfg.Threshold)
	if err != nil {
		if ctx.Err() != nil {
			return j.fail(&o, "cancelled", ctx.Err())
		}
		return j.fail(&o, "detection_failed", fmt.Errorf("%w: %v", ErrDetection, err))
	}
	detections = postprocess.ApplyNMS(detections, postprocess.NMSConfig{IoUThreshold: j.cfg.NMSIoUThreshold})
	j.advance(&o, StageDetected)
	j.log.Debug("image %d: %d detection(s)", index, len(detections))

	results, err := j.segment(ctx, base, detections)
	if err != nil {
		if ctx.Err() != nil {
			return j.fail(&o, "cancelled", ctx.Err())
		}
		return j.fail(&o, "segmentation_failed", err)
	}
	o.Detections = results
	j.advance(&o, StageSegmented)

	replacements := j.prepare(ctx, results)
	j.advance(&o, StageRefined)

	j.composite(base, results, replacements)
	j.advance(&o, StageComposited)

	if err := ctx.Err(); err != nil {
		return j.fail(&o, "cancelled", err)
	}
	encoded, err := images.Encode(base, j.format, j.cfg.JPEGQuality)
	if err != nil {
		return j.fail(&o, "encode_failed", errors.Wrap(err, "encode output"))
	}
	o.Encoded = encoded
	j.advance(&o, StageEncoded)
	j.recorder.ImageDone("ok")
	return o
}

// segment asks for one raw mask per detection and aggregates each into the
// detection's mask.
func (j *job) segment(ctx context.Context, base *image.RGBA, detections []common.Detection) ([]DetectionResult, error) {
	results := make([]DetectionResult, len(detections))
	for i, d := range detections {
		results[i].Detection = d
	}
	if len(detections) == 0 {
		return results, nil
	}

	raws, err := j.segmenter.Segment(ctx, base, common.Boxes(detections))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSegmentation, err)
	}
	if len(raws) != len(detections) {
		return nil, errors.Wrapf(ErrSegmentation, "got %d masks for %d detections", len(raws), len(detections))
	}

	w, h := base.Bounds().Dx(), base.Bounds().Dy()
	for i, raw := range raws {
		if raw == nil || raw.Width() != w || raw.Height() != h {
			return nil, errors.Wrapf(ErrSegmentation, "mask %d does not match the %dx%d image", i, w, h)
		}
		results[i].Mask = masks.Aggregate(raw)
	}
	return results, nil
}

// prepare refines each detection's mask and fetches its replacement image,
// concurrently across detections. Failures are recorded on the detection.
func (j *job) prepare(ctx context.Context, results []DetectionResult) []image.Image {
	replacements := make([]image.Image, len(results))
	sem := make(chan struct{}, j.cfg.DetectionWorkers)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		sem <- struct{}{}
		go func(r *DetectionResult, i int) {
			defer wg.Done()
			defer func() { <-sem }()

			if j.refine {
				refined, err := masks.Refine(r.Mask)
				if err != nil {
					r.Err = err
					return
				}
				r.Mask = refined
			}

			img, err := j.replacements.Replacement(ctx, j.category)
			if err != nil {
				r.Err = err
				return
			}
			replacements[i] = img
		}(&results[i], i)
	}
	wg.Wait()
	return replacements
}

// composite paints the replacements in detection order; later detections
// overwrite earlier ones where they overlap.
func (j *job) composite(base *image.RGBA, results []DetectionResult, replacements []image.Image) {
	for i := range results {
		r := &results[i]
		if r.Err == nil {
			r.Err = compositor.Composite(base, r.Mask, replacements[i])
		}
		outcome := detectionOutcome(r.Err)
		j.recorder.DetectionDone(outcome)
		if r.Err != nil {
			j.log.Warn("detection %d (%s, %.2f) left untouched: %v", i, r.Label, r.Score, r.Err)
		}
	}
}

func detectionOutcome(err error) string {
	switch {
	case err == nil:
		return "composited"
	case errors.Is(err, masks.ErrNoForegroundRegion):
		return "no_foreground"
	case errors.Is(err, compositor.ErrEmptyRegion):
		return "empty_region"
	case errors.Is(err, compositor.ErrMaskMismatch):
		return "mask_mismatch"
	case errors.Is(err, compositor.ErrResize):
		return "resize_failed"
	case errors.Is(err, catalog.ErrDecode):
		return "decode_failed"
	case errors.Is(err, catalog.ErrFetch):
		return "fetch_failed"
	default:
		return "error"
	}
}
