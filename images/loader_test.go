package images

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nvr-ai/regionswap/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLoader(allowLocal bool) *Loader {
	return NewLoader(&http.Client{Timeout: 2 * time.Second}, LoaderConfig{
		AllowLocalPaths: allowLocal,
		Retry: util.RetryConfig{
			MaxAttempts:     3,
			InitialInterval: time.Millisecond,
			MaxInterval:     time.Millisecond,
		},
	})
}

func TestLoader_URLRetriesTransientFailures(t *testing.T) {
	body := getPNGBytes(t, getTestImage())
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	img, err := testLoader(false).Load(context.Background(), srv.URL+"/room.png")
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx())
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoader_URLNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := testLoader(false).Load(context.Background(), srv.URL+"/missing.png")
	assert.ErrorIs(t, err, ErrLoad)
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoader_UndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not an image</html>"))
	}))
	defer srv.Close()

	_, err := testLoader(false).Load(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrLoad)
}

func TestLoader_LocalPaths(t *testing.T) {
	path := filepath.Join(t.TempDir(), "room.png")
	require.NoError(t, os.WriteFile(path, getPNGBytes(t, getTestImage()), 0o600))

	_, err := testLoader(false).Load(context.Background(), path)
	assert.ErrorIs(t, err, ErrLoad, "local paths are rejected unless allowed")

	img, err := testLoader(true).Load(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 60, img.Bounds().Dy())

	_, err = testLoader(true).Load(context.Background(), filepath.Join(t.TempDir(), "nope.png"))
	assert.ErrorIs(t, err, ErrLoad)
}

func TestLoader_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	l := testLoader(false)
	l.cfg.MaxBytes = 1024
	_, err := l.Load(context.Background(), srv.URL)
	assert.ErrorIs(t, err, ErrLoad)
}

func TestLoader_EmptyReference(t *testing.T) {
	_, err := testLoader(true).Load(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrLoad)
}
