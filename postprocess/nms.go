// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/regionswap/common"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float64 // Overlap threshold for suppression. Zero or less disables NMS.
	ClassAware   bool    // If true, suppress only within the same label.
}

// ApplyNMS removes detections that overlap a higher scoring detection by more
// than the configured IoU threshold.
//
// Suppression is greedy in descending score order, but the survivors are
// returned in their original order: the collaborator's order decides the
// compositing overwrite order and must not be disturbed.
//
// Arguments:
//   - detections: Detections in collaborator order.
//   - config: NMS configuration.
//
// Returns:
//   - The surviving detections in their original relative order. The input
//     slice is not modified.
func ApplyNMS(detections []common.Detection, config NMSConfig) []common.Detection {
	n := len(detections)
	if n == 0 || config.IoUThreshold <= 0 {
		return detections
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return detections[order[a]].Score > detections[order[b]].Score
	})

	suppressed := make([]bool, n)
	for a, i := range order {
		if suppressed[i] {
			continue
		}
		for _, j := range order[a+1:] {
			if suppressed[j] {
				continue
			}
			if config.ClassAware && detections[i].Label != detections[j].Label {
				continue
			}
			if detections[i].Box.IoU(detections[j].Box) > config.IoUThreshold {
				suppressed[j] = true
			}
		}
	}

	filtered := make([]common.Detection, 0, n)
	for i, d := range detections {
		if !suppressed[i] {
			filtered = append(filtered, d)
		}
	}
	return filtered
}
