// Package catalog - Replacement product images looked up by category.
package catalog

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nvr-ai/regionswap/images"
	"github.com/nvr-ai/regionswap/util"
	"github.com/pkg/errors"
)

var (
	// ErrFetch is returned when the catalogue or the product image cannot be fetched.
	ErrFetch = errors.New("replacement fetch failed")
	// ErrDecode is returned when the product image bytes cannot be decoded.
	ErrDecode = errors.New("replacement decode failed")
)

// Config configures the catalogue client.
type Config struct {
	// BaseURL is the category listing endpoint; the category is appended as a
	// path segment.
	BaseURL string           `yaml:"base_url"`
	Timeout time.Duration    `yaml:"timeout"`
	Retry   util.RetryConfig `yaml:"retry"`
}

// DefaultConfig returns the production catalogue endpoint.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://newbackend.ayatrio.com/api/fetchProductsByCategory",
		Timeout: 15 * time.Second,
		Retry:   util.DefaultRetryConfig(),
	}
}

type product struct {
	ProductImages []struct {
		Images []string `json:"images"`
	} `json:"productImages"`
}

// Client resolves a category to its first product image.
type Client struct {
	base   string
	loader *images.Loader
}

// New creates a catalogue Client. A nil httpClient gets one with cfg.Timeout.
func New(httpClient *http.Client, cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("catalog base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, errors.Wrap(err, "catalog base url")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		base:   strings.TrimRight(cfg.BaseURL, "/"),
		loader: images.NewLoader(httpClient, images.LoaderConfig{Retry: cfg.Retry}),
	}, nil
}

// ImageURL returns the first image of the first product listed for category.
func (c *Client) ImageURL(ctx context.Context, category string) (string, error) {
	endpoint := c.base + "/" + url.PathEscape(category)
	body, err := c.loader.Fetch(ctx, endpoint)
	if err != nil {
		return "", errors.Wrapf(ErrFetch, "lookup %q: %v", category, err)
	}

	var products []product
	if err := json.Unmarshal(body, &products); err != nil {
		return "", errors.Wrapf(ErrFetch, "lookup %q: malformed response: %v", category, err)
	}
	if len(products) == 0 || len(products[0].ProductImages) == 0 || len(products[0].ProductImages[0].Images) == 0 {
		return "", errors.Wrapf(ErrFetch, "lookup %q: no product image listed", category)
	}
	return products[0].ProductImages[0].Images[0], nil
}

// Replacement looks up and fetches the replacement image for category.
//
// Arguments:
//   - ctx: Cancels the lookup and the download.
//   - category: The normalised category name.
//
// Returns:
//   - image.Image: The decoded product image.
//   - error: ErrFetch or ErrDecode wrapped with the cause.
func (c *Client) Replacement(ctx context.Context, category string) (image.Image, error) {
	imageURL, err := c.ImageURL(ctx, category)
	if err != nil {
		return nil, err
	}

	data, err := c.loader.Fetch(ctx, imageURL)
	if err != nil {
		return nil, errors.Wrapf(ErrFetch, "%s: %v", imageURL, err)
	}
	img, err := images.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(ErrDecode, "%s: %v", imageURL, err)
	}
	return img, nil
}
