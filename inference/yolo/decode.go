package yolo

import (
	"fmt"
	"image"
	"sort"

	"github.com/nvr-ai/regionswap/common"
	"github.com/nvr-ai/regionswap/postprocess"
)

// Output is the raw (1, 4+classes, anchors) prediction tensor of a YOLOv8
// style export: box centre and size in input pixels, then one score per class.
type Output struct {
	Data      []float32
	Classes   int
	Anchors   int
	InputSize int
}

// Decode turns the prediction tensor into detections of the wanted classes.
//
// Each anchor votes for its best scoring class; anchors whose class is not
// wanted or whose score is below threshold are dropped. Boxes are scaled from
// the square model input back onto bounds, suppressed per class with
// nmsThreshold and returned in descending score order.
//
// Arguments:
//   - out: The prediction tensor.
//   - bounds: The source image bounds.
//   - wanted: Class index to the label reported for it.
//   - threshold: Minimum class score.
//   - nmsThreshold: IoU above which the lower scoring box of a class is dropped.
//
// Returns:
//   - []common.Detection: The detections.
//   - error: An error if the tensor size does not match its declared shape.
func Decode(out Output, bounds image.Rectangle, wanted map[int]string, threshold, nmsThreshold float64) ([]common.Detection, error) {
	n := out.Anchors
	if len(out.Data) != (4+out.Classes)*n {
		return nil, fmt.Errorf("prediction has %d values, shape (4+%d, %d) needs %d",
			len(out.Data), out.Classes, n, (4+out.Classes)*n)
	}
	if len(wanted) == 0 {
		return nil, nil
	}

	sx := float64(bounds.Dx()) / float64(out.InputSize)
	sy := float64(bounds.Dy()) / float64(out.InputSize)

	var detections []common.Detection
	for idx := 0; idx < n; idx++ {
		classID := 0
		probability := float32(-1e9)
		for col := 0; col < out.Classes; col++ {
			if p := out.Data[n*(col+4)+idx]; p > probability {
				probability = p
				classID = col
			}
		}
		label, ok := wanted[classID]
		if !ok || float64(probability) < threshold {
			continue
		}

		xc, yc := float64(out.Data[idx]), float64(out.Data[n+idx])
		w, h := float64(out.Data[2*n+idx]), float64(out.Data[3*n+idx])
		box, err := common.NewBoundingBox((xc-w/2)*sx, (yc-h/2)*sy, (xc+w/2)*sx, (yc+h/2)*sy, bounds)
		if err != nil {
			return nil, err
		}
		detections = append(detections, common.Detection{Score: float64(probability), Label: label, Box: box})
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Score > detections[j].Score
	})
	return postprocess.ApplyNMS(detections, postprocess.NMSConfig{IoUThreshold: nmsThreshold, ClassAware: true}), nil
}
