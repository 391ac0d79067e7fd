package pipeline

import (
	"fmt"
	"runtime"

	"github.com/nvr-ai/regionswap/images"
)

// Config holds the processing parameters shared by every request.
type Config struct {
	// Threshold is the minimum detection score forwarded to the detector.
	Threshold float64 `yaml:"threshold"`
	// PolygonRefinement enables refinement unless a request overrides it.
	PolygonRefinement bool `yaml:"polygon_refinement"`
	// NMSIoUThreshold suppresses overlapping detections; 0 disables it.
	NMSIoUThreshold float64 `yaml:"nms_iou_threshold"`
	// ImageWorkers bounds the images processed at once per request.
	ImageWorkers int `yaml:"image_workers"`
	// DetectionWorkers bounds the detections refined and fetched at once per image.
	DetectionWorkers int    `yaml:"detection_workers"`
	OutputFormat     string `yaml:"output_format"`
	JPEGQuality      int    `yaml:"jpeg_quality"`
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		Threshold:         0.3,
		PolygonRefinement: true,
		ImageWorkers:      runtime.NumCPU(),
		DetectionWorkers:  4,
		OutputFormat:      string(images.FormatJPEG),
		JPEGQuality:       images.DefaultJPEGQuality,
	}
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be within [0, 1], got %v", c.Threshold)
	}
	if c.NMSIoUThreshold < 0 || c.NMSIoUThreshold > 1 {
		return fmt.Errorf("nms_iou_threshold must be within [0, 1], got %v", c.NMSIoUThreshold)
	}
	if c.ImageWorkers < 1 {
		return fmt.Errorf("image_workers must be positive, got %d", c.ImageWorkers)
	}
	if c.DetectionWorkers < 1 {
		return fmt.Errorf("detection_workers must be positive, got %d", c.DetectionWorkers)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be within [1, 100], got %d", c.JPEGQuality)
	}
	if _, err := images.ParseFormat(c.OutputFormat); err != nil {
		return err
	}
	return nil
}
