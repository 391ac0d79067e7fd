package inference

import (
	"context"
	"image"

	"github.com/nvr-ai/regionswap/common"
	"github.com/nvr-ai/regionswap/masks"
)

// Gate is a one-slot semaphore guarding a model handle.
type Gate chan struct{}

// NewGate returns an open gate.
func NewGate() Gate {
	return make(Gate, 1)
}

// Acquire blocks until the gate is free or ctx is done.
func (g Gate) Acquire(ctx context.Context) error {
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the gate.
func (g Gate) Release() {
	<-g
}

type exclusiveDetector struct {
	Detector
	gate Gate
}

// ExclusiveDetector returns a Detector that runs at most one Detect at a time
// across all holders of gate. Waiting honours context cancellation.
func ExclusiveDetector(d Detector, gate Gate) Detector {
	return &exclusiveDetector{Detector: d, gate: gate}
}

func (e *exclusiveDetector) Detect(ctx context.Context, img image.Image, labels []string, threshold float64) ([]common.Detection, error) {
	if err := e.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.gate.Release()
	return e.Detector.Detect(ctx, img, labels, threshold)
}

type exclusiveSegmenter struct {
	Segmenter
	gate Gate
}

// ExclusiveSegmenter returns a Segmenter that runs at most one Segment at a
// time across all holders of gate.
func ExclusiveSegmenter(s Segmenter, gate Gate) Segmenter {
	return &exclusiveSegmenter{Segmenter: s, gate: gate}
}

func (e *exclusiveSegmenter) Segment(ctx context.Context, img image.Image, boxes []common.BoundingBox) ([]*masks.RawMask, error) {
	if err := e.gate.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.gate.Release()
	return e.Segmenter.Segment(ctx, img, boxes)
}
