package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.ImageDone("ok")
	m.ImageDone("ok")
	m.ImageDone("detection_failed")
	m.DetectionDone("no_foreground")
	m.ObserveCollaborator("detect", 20*time.Millisecond, nil)
	m.ObserveCollaborator("detect", 30*time.Millisecond, errors.New("boom"))
	m.ObserveRequest("http", "200", time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.images.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.images.WithLabelValues("detection_failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.detections.WithLabelValues("no_foreground")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.collabErrors.WithLabelValues("detect")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("http", "200")))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.InFlight.Add(3)
	m.ImageDone("ok")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "regionswap_requests_in_flight 3")
	assert.Contains(t, string(body), `regionswap_images_total{outcome="ok"} 1`)
}
