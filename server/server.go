// Package server - HTTP boundary of the region swap service.
package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nvr-ai/regionswap/logger"
	"github.com/nvr-ai/regionswap/metrics"
	"github.com/nvr-ai/regionswap/pipeline"
	"github.com/pkg/errors"
)

// Processor runs a parsed request. *pipeline.Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// Config configures the HTTP boundary.
type Config struct {
	Addr string `yaml:"addr"`
	// RequestTimeout bounds one request; images not done by then are dropped.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	// LegacyResponse answers with the flat processed_imageN shape by default.
	LegacyResponse bool  `yaml:"legacy_response"`
	MaxBodyBytes   int64 `yaml:"max_body_bytes"`
}

// DefaultConfig listens on port 5000.
func DefaultConfig() Config {
	return Config{
		Addr:           ":5000",
		RequestTimeout: 2 * time.Minute,
		MaxBodyBytes:   1 << 20,
	}
}

// Server serves POST /process_images, GET /healthz and GET /metrics.
type Server struct {
	processor  Processor
	metrics    *metrics.Metrics
	cfg        Config
	log        logger.Module
	httpServer *http.Server
}

// New creates a Server. m may be nil, in which case nothing is recorded and
// /metrics is not served.
func New(processor Processor, m *metrics.Metrics, cfg Config, l *logger.Logger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	s := &Server{
		processor: processor,
		metrics:   m,
		cfg:       cfg,
		log:       logger.For(l, "HTTP"),
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routes of the service.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/process_images", s.ProcessImagesHandler)
	mux.HandleFunc("/healthz", s.HealthHandler)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics.Handler())
	}
	return mux
}

// ListenAndServe blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	s.log.Info("listening on %s", s.cfg.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ProcessImagesHandler handles POST /process_images.
//
// Responds 400 for an unusable body, 405 for other methods, 502 when every
// image failed and 200 otherwise. ?format=legacy (or Config.LegacyResponse)
// selects the processed_imageN shape; ?format=default forces the list shape.
func (s *Server) ProcessImagesHandler(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	status := http.StatusOK
	if s.metrics != nil {
		s.metrics.InFlight.Add(1)
		defer func() {
			s.metrics.InFlight.Add(-1)
			s.metrics.ObserveRequest("http", strconv.Itoa(status), time.Since(start))
		}()
	}

	if r.Method != http.MethodPost {
		status = http.StatusMethodNotAllowed
		w.Header().Set("Allow", http.MethodPost)
		respondError(w, "method not allowed", status)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		status = http.StatusBadRequest
		respondError(w, "failed to read body: "+err.Error(), status)
		return
	}
	req, err := ParseRequest(body)
	if err != nil {
		status = http.StatusBadRequest
		respondError(w, err.Error(), status)
		return
	}

	ctx := r.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	result, err := s.processor.Process(ctx, req)
	switch {
	case errors.Is(err, pipeline.ErrAllImagesFailed):
		status = http.StatusBadGateway
	case errors.Is(err, pipeline.ErrNoCategory), errors.Is(err, pipeline.ErrNoImages):
		status = http.StatusBadRequest
		respondError(w, err.Error(), status)
		return
	case err != nil:
		status = http.StatusInternalServerError
		s.log.Error("process request: %v", err)
		respondError(w, err.Error(), status)
		return
	}

	if s.legacy(r) {
		if status != http.StatusOK {
			respondError(w, err.Error(), status)
			return
		}
		respondJSON(w, NewLegacyResponse(result), status)
		return
	}
	resp := NewResponse(result)
	if err != nil {
		resp.Error = err.Error()
	}
	respondJSON(w, resp, status)
}

func (s *Server) legacy(r *http.Request) bool {
	switch r.URL.Query().Get("format") {
	case "legacy":
		return true
	case "default":
		return false
	}
	return s.cfg.LegacyResponse
}

// HealthHandler reports liveness.
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, map[string]string{"error": message}, status)
}
