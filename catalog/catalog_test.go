package catalog

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvr-ai/regionswap/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+3] = 200, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fakeCatalog serves a listing under /api/<category> and images under /img/.
type fakeCatalog struct {
	listing     string
	image       []byte
	imageStatus int
	lookups     atomic.Int32
	downloads   atomic.Int32
	lastPath    atomic.Value
}

func (f *fakeCatalog) server(t *testing.T) *httptest.Server {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case len(r.URL.Path) > 5 && r.URL.Path[:5] == "/api/":
			f.lookups.Add(1)
			f.lastPath.Store(r.URL.Path)
			_, _ = fmt.Fprintf(w, f.listing, srv.URL)
		default:
			f.downloads.Add(1)
			if f.imageStatus != 0 {
				w.WriteHeader(f.imageStatus)
				return
			}
			_, _ = w.Write(f.image)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T, base string) *Client {
	c, err := New(nil, Config{
		BaseURL: base + "/api/",
		Timeout: 2 * time.Second,
		Retry:   util.RetryConfig{MaxAttempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
	})
	require.NoError(t, err)
	return c
}

const listing = `[{"productImages":[{"images":["%s/img/rug.png","ignored"]}]},{"productImages":[]}]`

func TestReplacement(t *testing.T) {
	f := &fakeCatalog{listing: listing, image: pngBytes(t)}
	srv := f.server(t)

	img, err := testClient(t, srv.URL).Replacement(context.Background(), "Rugs & Carpet")
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, 8, 6), img.Bounds())
	assert.Equal(t, color.RGBA{R: 200, A: 255}, color.RGBAModel.Convert(img.At(0, 0)))
	assert.Equal(t, "/api/Rugs & Carpet", f.lastPath.Load())
	assert.Equal(t, int32(1), f.downloads.Load())
}

func TestReplacement_Errors(t *testing.T) {
	tests := []struct {
		name        string
		listing     string
		image       []byte
		imageStatus int
		want        error
	}{
		{name: "malformed listing", listing: `{"oops": %q}`, want: ErrFetch},
		{name: "empty listing", listing: `[]%.0s`, want: ErrFetch},
		{name: "product without images", listing: `[{"productImages":[{"images":[]}]}]%.0s`, want: ErrFetch},
		{name: "image not found", listing: listing, imageStatus: http.StatusNotFound, want: ErrFetch},
		{name: "image server down", listing: listing, imageStatus: http.StatusBadGateway, want: ErrFetch},
		{name: "undecodable image", listing: listing, image: []byte("not an image"), want: ErrDecode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeCatalog{listing: tt.listing, image: tt.image, imageStatus: tt.imageStatus}
			srv := f.server(t)

			img, err := testClient(t, srv.URL).Replacement(context.Background(), "Rug")
			assert.ErrorIs(t, err, tt.want)
			assert.Nil(t, img)
		})
	}
}

func TestReplacement_CatalogUnavailable(t *testing.T) {
	c := testClient(t, "http://127.0.0.1:1")
	_, err := c.Replacement(context.Background(), "Rug")
	assert.ErrorIs(t, err, ErrFetch)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}
