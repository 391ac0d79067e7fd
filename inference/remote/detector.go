package remote

import (
	"context"
	"image"
	"net/http"

	"github.com/nvr-ai/regionswap/common"
	"github.com/nvr-ai/regionswap/images"
	"github.com/pkg/errors"
)

type detectRequest struct {
	Model     string   `json:"model,omitempty"`
	Image     string   `json:"image"`
	Labels    []string `json:"labels"`
	Threshold float64  `json:"threshold"`
}

type wireBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

type wireDetection struct {
	Score float64 `json:"score"`
	Label string  `json:"label"`
	Box   wireBox `json:"box"`
}

type detectResponse struct {
	Detections []wireDetection `json:"detections"`
}

// Detector calls a zero-shot object detection server.
type Detector struct {
	client
	model string
}

// NewDetector creates a Detector for cfg.DetectorURL. A nil httpClient gets
// one with cfg.Timeout.
func NewDetector(httpClient *http.Client, cfg Config) (*Detector, error) {
	if cfg.DetectorURL == "" {
		return nil, errors.New("detector url is required")
	}
	return &Detector{
		client: newClient(httpClient, cfg.DetectorURL, cfg.Timeout, cfg.Retry),
		model:  cfg.DetectorModel,
	}, nil
}

// Detect sends img and labels to the server and returns the detections in
// the server's order with boxes canonicalised and clamped to the image.
func (d *Detector) Detect(ctx context.Context, img image.Image, labels []string, threshold float64) ([]common.Detection, error) {
	encoded, err := images.EncodeBase64(img, images.FormatPNG, 0)
	if err != nil {
		return nil, errors.Wrap(err, "encode image")
	}

	var resp detectResponse
	err = d.postJSON(ctx, detectRequest{
		Model:     d.model,
		Image:     encoded,
		Labels:    labels,
		Threshold: threshold,
	}, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "detect")
	}

	out := make([]common.Detection, 0, len(resp.Detections))
	for i, wd := range resp.Detections {
		box, err := common.NewBoundingBox(wd.Box.XMin, wd.Box.YMin, wd.Box.XMax, wd.Box.YMax, img.Bounds())
		if err != nil {
			return nil, errors.Wrapf(err, "detection %d", i)
		}
		out = append(out, common.Detection{Score: wd.Score, Label: wd.Label, Box: box})
	}
	return out, nil
}

// Close is a no-op; the HTTP client holds no per-detector resources.
func (d *Detector) Close() error {
	return nil
}
