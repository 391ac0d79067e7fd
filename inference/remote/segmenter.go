package remote

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"image"
	"math"
	"net/http"

	"github.com/nvr-ai/regionswap/common"
	"github.com/nvr-ai/regionswap/images"
	"github.com/nvr-ai/regionswap/masks"
	"github.com/pkg/errors"
)

type segmentRequest struct {
	Model string   `json:"model,omitempty"`
	Image string   `json:"image"`
	Boxes [][4]int `json:"boxes"`
}

type wireMask struct {
	Shape []int  `json:"shape"`
	Data  string `json:"data"`
}

type segmentResponse struct {
	Masks []wireMask `json:"masks"`
}

// Segmenter calls a box-prompted segmentation server.
type Segmenter struct {
	client
	model string
}

// NewSegmenter creates a Segmenter for cfg.SegmenterURL.
func NewSegmenter(httpClient *http.Client, cfg Config) (*Segmenter, error) {
	if cfg.SegmenterURL == "" {
		return nil, errors.New("segmenter url is required")
	}
	return &Segmenter{
		client: newClient(httpClient, cfg.SegmenterURL, cfg.Timeout, cfg.Retry),
		model:  cfg.SegmenterModel,
	}, nil
}

// Segment returns one raw mask per box, in box order. The server must return
// exactly len(boxes) masks with the image's height and width.
func (s *Segmenter) Segment(ctx context.Context, img image.Image, boxes []common.BoundingBox) ([]*masks.RawMask, error) {
	if len(boxes) == 0 {
		return nil, nil
	}
	encoded, err := images.EncodeBase64(img, images.FormatPNG, 0)
	if err != nil {
		return nil, errors.Wrap(err, "encode image")
	}

	wireBoxes := make([][4]int, len(boxes))
	for i, b := range boxes {
		wireBoxes[i] = b.XYXY()
	}

	var resp segmentResponse
	err = s.postJSON(ctx, segmentRequest{Model: s.model, Image: encoded, Boxes: wireBoxes}, &resp)
	if err != nil {
		return nil, errors.Wrap(err, "segment")
	}
	if len(resp.Masks) != len(boxes) {
		return nil, errors.Errorf("segment: got %d masks for %d boxes", len(resp.Masks), len(boxes))
	}

	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	out := make([]*masks.RawMask, len(resp.Masks))
	for i, wm := range resp.Masks {
		raw, err := decodeMask(wm)
		if err != nil {
			return nil, errors.Wrapf(err, "mask %d", i)
		}
		if raw.Width() != w || raw.Height() != h {
			return nil, errors.Errorf("mask %d is %dx%d, image is %dx%d", i, raw.Width(), raw.Height(), w, h)
		}
		out[i] = raw
	}
	return out, nil
}

// Close is a no-op; the HTTP client holds no per-segmenter resources.
func (s *Segmenter) Close() error {
	return nil
}

// decodeMask unpacks base64 little-endian float32 data of shape (C,H,W).
func decodeMask(wm wireMask) (*masks.RawMask, error) {
	if len(wm.Shape) != 3 {
		return nil, errors.Errorf("shape must have 3 dimensions, got %v", wm.Shape)
	}
	data, err := base64.StdEncoding.DecodeString(wm.Data)
	if err != nil {
		return nil, errors.Wrap(err, "decode mask data")
	}
	if len(data)%4 != 0 {
		return nil, errors.Errorf("mask data length %d is not a multiple of 4", len(data))
	}

	values := make([]float32, len(data)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return masks.NewRawMask(wm.Shape[0], wm.Shape[1], wm.Shape[2], values)
}
