package images

import (
	"context"
	"image"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/nvr-ai/regionswap/util"
	"github.com/pkg/errors"
)

// ErrLoad is returned when an image reference cannot be fetched, read or decoded.
var ErrLoad = errors.New("image could not be loaded")

// DefaultMaxBytes bounds a single downloaded or read image.
const DefaultMaxBytes = 32 << 20

// LoaderConfig configures a Loader.
type LoaderConfig struct {
	// AllowLocalPaths permits references that are not http(s) URLs to be read
	// from the local filesystem.
	AllowLocalPaths bool `yaml:"allow_local_paths"`
	// MaxBytes bounds the size of one image. Zero means DefaultMaxBytes.
	MaxBytes int64 `yaml:"max_bytes"`
	// Retry bounds retries of remote fetches.
	Retry util.RetryConfig `yaml:"retry"`
}

// Loader acquires images from http(s) URLs or local paths.
type Loader struct {
	client *http.Client
	cfg    LoaderConfig
}

// NewLoader creates a Loader. The client's Timeout bounds each attempt.
func NewLoader(client *http.Client, cfg LoaderConfig) *Loader {
	if client == nil {
		client = http.DefaultClient
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Loader{client: client, cfg: cfg}
}

// IsRemote reports whether ref is fetched over HTTP rather than read from disk.
func IsRemote(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Load fetches or reads ref and decodes it.
//
// Arguments:
//   - ctx: Cancels the fetch.
//   - ref: An http(s) URL or, if allowed, a local file path.
//
// Returns:
//   - *image.RGBA: The decoded image.
//   - error: ErrLoad wrapped with the cause.
func (l *Loader) Load(ctx context.Context, ref string) (*image.RGBA, error) {
	data, err := l.Read(ctx, ref)
	if err != nil {
		return nil, err
	}
	img, err := Decode(data)
	if err != nil {
		return nil, errors.Wrapf(ErrLoad, "%s: %v", ref, err)
	}
	return img, nil
}

// Read returns the raw bytes behind ref.
func (l *Loader) Read(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.Wrap(ErrLoad, "empty image reference")
	}
	if IsRemote(ref) {
		data, err := l.Fetch(ctx, ref)
		if err != nil {
			return nil, errors.Wrapf(ErrLoad, "%s: %v", ref, err)
		}
		return data, nil
	}
	if !l.cfg.AllowLocalPaths {
		return nil, errors.Wrapf(ErrLoad, "%s: local paths are disabled", ref)
	}
	data, err := readFile(ref, l.cfg.MaxBytes)
	if err != nil {
		return nil, errors.Wrapf(ErrLoad, "%s: %v", ref, err)
	}
	return data, nil
}

// Fetch downloads url with bounded retries. Client errors are not retried.
func (l *Loader) Fetch(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := util.Retry(ctx, l.cfg.Retry, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return util.Permanent(err)
		}
		resp, err := l.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := util.CheckStatus(url, resp.StatusCode); err != nil {
			return err
		}
		data, err = readAll(resp.Body, l.cfg.MaxBytes)
		if err != nil {
			return util.Permanent(err)
		}
		return nil
	})
	return data, err
}

func readFile(path string, limit int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readAll(f, limit)
}

func readAll(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.Errorf("image exceeds %d bytes", limit)
	}
	if len(data) == 0 {
		return nil, errors.New("empty body")
	}
	return data, nil
}
