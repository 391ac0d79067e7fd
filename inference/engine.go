// Package inference - Detection and segmentation collaborator contracts.
package inference

import (
	"context"
	"errors"
	"image"
	"time"

	"github.com/nvr-ai/regionswap/common"
	"github.com/nvr-ai/regionswap/masks"
)

// Detector finds instances of the given labels in an image.
//
// The returned order is significant: it decides the compositing order, and
// later detections overwrite earlier ones where their silhouettes overlap.
type Detector interface {
	Detect(ctx context.Context, img image.Image, labels []string, threshold float64) ([]common.Detection, error)
	Close() error
}

// Segmenter produces one raw mask per prompt box, in box order. Every mask
// must have the image's height and width.
type Segmenter interface {
	Segment(ctx context.Context, img image.Image, boxes []common.BoundingBox) ([]*masks.RawMask, error)
	Close() error
}

// Observer receives the duration and outcome of every collaborator call.
type Observer func(op string, elapsed time.Duration, err error)

// Engine bundles the detection and segmentation collaborators used by the
// pipeline. It is safe for concurrent use.
type Engine struct {
	Detector  Detector
	Segmenter Segmenter
}

// Close releases both collaborators.
func (e *Engine) Close() error {
	var errs []error
	if e.Detector != nil {
		errs = append(errs, e.Detector.Close())
	}
	if e.Segmenter != nil {
		errs = append(errs, e.Segmenter.Close())
	}
	return errors.Join(errs...)
}

// EngineBuilder assembles an Engine with a fluent API.
type EngineBuilder struct {
	detector   Detector
	segmenter  Segmenter
	exclusive  bool
	sharedGate bool
	observer   Observer
	err        error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{}
}

// WithDetector sets the detection collaborator.
func (b *EngineBuilder) WithDetector(d Detector) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if d == nil {
		b.err = errors.New("detector is nil")
		return b
	}
	b.detector = d
	return b
}

// WithSegmenter sets the segmentation collaborator.
func (b *EngineBuilder) WithSegmenter(s Segmenter) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if s == nil {
		b.err = errors.New("segmenter is nil")
		return b
	}
	b.segmenter = s
	return b
}

// WithExclusiveAccess serialises calls to each collaborator. With shared set,
// detector and segmenter also exclude each other, as when both run on one
// device.
func (b *EngineBuilder) WithExclusiveAccess(shared bool) *EngineBuilder {
	b.exclusive = true
	b.sharedGate = shared
	return b
}

// WithObserver reports the latency and outcome of every collaborator call.
func (b *EngineBuilder) WithObserver(o Observer) *EngineBuilder {
	b.observer = o
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the engine.
//
// Returns:
//   - *Engine: The engine.
//   - error: The error if any.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.detector == nil {
		return nil, errors.New("detector not configured")
	}
	if b.segmenter == nil {
		return nil, errors.New("segmenter not configured")
	}

	var d Detector = b.detector
	var s Segmenter = b.segmenter
	if b.observer != nil {
		d = &observedDetector{Detector: d, observe: b.observer}
		s = &observedSegmenter{Segmenter: s, observe: b.observer}
	}
	if b.exclusive {
		dg := NewGate()
		sg := dg
		if !b.sharedGate {
			sg = NewGate()
		}
		d = ExclusiveDetector(d, dg)
		s = ExclusiveSegmenter(s, sg)
	}

	return &Engine{Detector: d, Segmenter: s}, nil
}

// MustBuild builds the engine and panics if there is an error.
func (b *EngineBuilder) MustBuild() *Engine {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}

type observedDetector struct {
	Detector
	observe Observer
}

func (o *observedDetector) Detect(ctx context.Context, img image.Image, labels []string, threshold float64) ([]common.Detection, error) {
	start := time.Now()
	out, err := o.Detector.Detect(ctx, img, labels, threshold)
	o.observe("detect", time.Since(start), err)
	return out, err
}

type observedSegmenter struct {
	Segmenter
	observe Observer
}

func (o *observedSegmenter) Segment(ctx context.Context, img image.Image, boxes []common.BoundingBox) ([]*masks.RawMask, error) {
	start := time.Now()
	out, err := o.Segmenter.Segment(ctx, img, boxes)
	o.observe("segment", time.Since(start), err)
	return out, err
}
