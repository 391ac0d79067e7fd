// Package remote - HTTP clients for detection and segmentation model servers.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/nvr-ai/regionswap/util"
	"github.com/pkg/errors"
)

const maxResponseBytes = 256 << 20

// Config configures both remote collaborators.
type Config struct {
	DetectorURL    string           `yaml:"detector_url"`
	DetectorModel  string           `yaml:"detector_model"`
	SegmenterURL   string           `yaml:"segmenter_url"`
	SegmenterModel string           `yaml:"segmenter_model"`
	Timeout        time.Duration    `yaml:"timeout"`
	Retry          util.RetryConfig `yaml:"retry"`
}

// DefaultConfig returns the model identifiers the service was built around.
func DefaultConfig() Config {
	return Config{
		DetectorURL:    "http://127.0.0.1:8000/detect",
		DetectorModel:  "IDEA-Research/grounding-dino-tiny",
		SegmenterURL:   "http://127.0.0.1:8000/segment",
		SegmenterModel: "facebook/sam-vit-base",
		Timeout:        60 * time.Second,
		Retry:          util.DefaultRetryConfig(),
	}
}

// client posts JSON and decodes JSON replies with bounded retries.
type client struct {
	http  *http.Client
	url   string
	retry util.RetryConfig
}

func newClient(httpClient *http.Client, url string, timeout time.Duration, retry util.RetryConfig) client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	return client{http: httpClient, url: url, retry: retry}
}

func (c client) postJSON(ctx context.Context, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}

	return util.Retry(ctx, c.retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return util.Permanent(errors.Wrap(err, "create request"))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return errors.Wrap(err, "send request")
		}
		defer resp.Body.Close()

		if err := util.CheckStatus(c.url, resp.StatusCode); err != nil {
			return err
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
			return util.Permanent(errors.Wrap(err, "decode response"))
		}
		return nil
	})
}
