package inference

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvr-ai/regionswap/common"
	"github.com/nvr-ai/regionswap/masks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// busyModel records how many calls overlap.
type busyModel struct {
	active  atomic.Int32
	peak    atomic.Int32
	delay   time.Duration
	closed  atomic.Bool
	failErr error
}

func (m *busyModel) enter() {
	n := m.active.Add(1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(m.delay)
	m.active.Add(-1)
}

func (m *busyModel) Detect(ctx context.Context, img image.Image, labels []string, threshold float64) ([]common.Detection, error) {
	m.enter()
	return []common.Detection{{Label: labels[0], Score: threshold}}, m.failErr
}

func (m *busyModel) Segment(ctx context.Context, img image.Image, boxes []common.BoundingBox) ([]*masks.RawMask, error) {
	m.enter()
	return make([]*masks.RawMask, len(boxes)), m.failErr
}

func (m *busyModel) Close() error {
	m.closed.Store(true)
	return nil
}

func TestExclusiveDetector_SerialisesCalls(t *testing.T) {
	model := &busyModel{delay: 5 * time.Millisecond}
	d := ExclusiveDetector(model, NewGate())
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := d.Detect(context.Background(), img, []string{"Rug."}, 0.3)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), model.peak.Load())
}

func TestSharedGate_ExcludesBothCollaborators(t *testing.T) {
	model := &busyModel{delay: 5 * time.Millisecond}
	engine, err := NewEngineBuilder().
		WithDetector(model).
		WithSegmenter(model).
		WithExclusiveAccess(true).
		Build()
	require.NoError(t, err)

	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = engine.Detector.Detect(context.Background(), img, []string{"Rug."}, 0.3)
		}()
		go func() {
			defer wg.Done()
			_, _ = engine.Segmenter.Segment(context.Background(), img, []common.BoundingBox{{}})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), model.peak.Load())
}

func TestGate_WaitHonoursContext(t *testing.T) {
	gate := NewGate()
	require.NoError(t, gate.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	d := ExclusiveDetector(&busyModel{}, gate)
	_, err := d.Detect(ctx, image.NewRGBA(image.Rect(0, 0, 1, 1)), []string{"Rug."}, 0.3)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	gate.Release()
	_, err = d.Detect(context.Background(), image.NewRGBA(image.Rect(0, 0, 1, 1)), []string{"Rug."}, 0.3)
	assert.NoError(t, err)
}

func TestEngineBuilder(t *testing.T) {
	_, err := NewEngineBuilder().WithDetector(&busyModel{}).Build()
	assert.Error(t, err, "segmenter is required")

	_, err = NewEngineBuilder().WithDetector(nil).WithSegmenter(&busyModel{}).Build()
	assert.Error(t, err)

	assert.Panics(t, func() { NewEngineBuilder().MustBuild() })

	model := &busyModel{}
	engine := NewEngineBuilder().WithDetector(model).WithSegmenter(model).MustBuild()
	require.NoError(t, engine.Close())
	assert.True(t, model.closed.Load())
}

func TestEngineBuilder_Observer(t *testing.T) {
	boom := errors.New("boom")
	model := &busyModel{failErr: boom}

	var mu sync.Mutex
	seen := map[string]error{}
	engine := NewEngineBuilder().
		WithDetector(model).
		WithSegmenter(model).
		WithObserver(func(op string, elapsed time.Duration, err error) {
			mu.Lock()
			defer mu.Unlock()
			seen[op] = err
		}).
		MustBuild()

	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	_, _ = engine.Detector.Detect(context.Background(), img, []string{"Rug."}, 0.3)
	_, _ = engine.Segmenter.Segment(context.Background(), img, nil)

	assert.ErrorIs(t, seen["detect"], boom)
	assert.ErrorIs(t, seen["segment"], boom)
}
