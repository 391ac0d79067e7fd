package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/nvr-ai/regionswap/catalog"
	"github.com/nvr-ai/regionswap/config"
	"github.com/nvr-ai/regionswap/images"
	"github.com/nvr-ai/regionswap/inference"
	"github.com/nvr-ai/regionswap/inference/remote"
	"github.com/nvr-ai/regionswap/inference/sam"
	"github.com/nvr-ai/regionswap/inference/yolo"
	"github.com/nvr-ai/regionswap/logger"
	"github.com/nvr-ai/regionswap/metrics"
	"github.com/nvr-ai/regionswap/pipeline"
	"github.com/nvr-ai/regionswap/server"
	"github.com/nvr-ai/regionswap/transport/mqtt"
	"github.com/nvr-ai/regionswap/util"
)

// imageFetchTimeout bounds one base image download.
const imageFetchTimeout = 30 * time.Second

var (
	configPath = flag.String("config", "", "Path to a YAML configuration file")
	httpAddr   = flag.String("addr", "", "HTTP listen address (overrides server.addr)")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor   = flag.Bool("log-color", true, "Enable colored log output")
	legacy     = flag.Bool("legacy-response", false, "Answer with processed_imageN keys by default")
	batchDir   = flag.String("batch", "", "Process every image in this directory and exit")
	category   = flag.String("category", "", "Category to replace in batch mode")
	outDir     = flag.String("out", "out", "Output directory for batch mode")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := applyFlags(&cfg); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	logger.Init(cfg.Log.Level, os.Stderr, cfg.Log.Color)
	logger.Info("Main", "regionswap starting, log level %s", cfg.Log.Level)

	vips.Startup(nil)
	defer vips.Shutdown()

	m := metrics.New()
	engine, err := buildEngine(cfg, m)
	if err != nil {
		log.Fatalf("Failed to create inference engine: %v", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			logger.Warn("Main", "Error closing inference engine: %v", err)
		}
	}()

	if *batchDir != "" {
		cfg.Loader.AllowLocalPaths = true
	}
	p, err := buildPipeline(cfg, engine, m)
	if err != nil {
		log.Fatalf("Failed to create pipeline: %v", err)
	}

	if *batchDir != "" {
		if err := runBatch(p, cfg); err != nil {
			logger.Error("Main", "Batch failed: %v", err)
			os.Exit(1)
		}
		return
	}

	srv := server.New(p, m, cfg.Server, logger.Default())
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	var worker *mqtt.Worker
	if cfg.MQTT.Enabled {
		worker = mqtt.NewWorker(p, m, cfg.MQTT, logger.Default())
		if err := worker.Start(); err != nil {
			log.Fatalf("Failed to start MQTT worker: %v", err)
		}
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Main", "Shutting down...")
	if worker != nil {
		worker.Stop()
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.RequestTimeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// applyFlags overrides cfg with the flags given on the command line.
func applyFlags(cfg *config.Config) error {
	var err error
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *httpAddr
		case "log-level":
			if e := cfg.Log.Level.UnmarshalText([]byte(*logLevel)); e != nil {
				err = e
			}
		case "log-color":
			cfg.Log.Color = *logColor
		case "legacy-response":
			cfg.Server.LegacyResponse = *legacy
		}
	})
	if err != nil {
		return err
	}
	if *batchDir != "" && strings.TrimSpace(*category) == "" {
		return fmt.Errorf("-category is required with -batch")
	}
	return cfg.Validate()
}

// buildEngine creates the configured collaborators.
func buildEngine(cfg config.Config, m *metrics.Metrics) (*inference.Engine, error) {
	inf := cfg.Inference
	httpClient := &http.Client{Timeout: inf.Remote.Timeout}

	var detector inference.Detector
	switch inf.Detector {
	case config.BackendYOLO:
		d, err := yolo.NewDetector(inf.YOLO, inf.Providers)
		if err != nil {
			return nil, err
		}
		detector = d
	default:
		d, err := remote.NewDetector(httpClient, inf.Remote)
		if err != nil {
			return nil, err
		}
		detector = d
	}

	var segmenter inference.Segmenter
	switch inf.Segmenter {
	case config.BackendSAM:
		s, err := sam.NewSegmenter(inf.SAM, inf.Providers)
		if err != nil {
			_ = detector.Close()
			return nil, err
		}
		segmenter = s
	default:
		s, err := remote.NewSegmenter(httpClient, inf.Remote)
		if err != nil {
			_ = detector.Close()
			return nil, err
		}
		segmenter = s
	}

	logger.Info("Main", "Detector: %s, segmenter: %s, provider: %s", inf.Detector, inf.Segmenter, inf.Providers.Backend)

	b := inference.NewEngineBuilder().
		WithDetector(detector).
		WithSegmenter(segmenter).
		WithObserver(m.ObserveCollaborator)
	if inf.Exclusive {
		b = b.WithExclusiveAccess(inf.SharedDevice)
	}
	return b.Build()
}

func buildPipeline(cfg config.Config, engine *inference.Engine, m *metrics.Metrics) (*pipeline.Pipeline, error) {
	loader := images.NewLoader(&http.Client{Timeout: imageFetchTimeout}, cfg.Loader)
	replacements, err := catalog.New(nil, cfg.Catalog)
	if err != nil {
		return nil, err
	}
	return pipeline.New(engine, loader, replacements, cfg.Pipeline,
		pipeline.WithRecorder(m),
		pipeline.WithLogger(logger.Default()))
}

// runBatch processes the image files of -batch and writes the results to -out.
func runBatch(p *pipeline.Pipeline, cfg config.Config) error {
	files, err := util.ListFiles(*batchDir, images.IsImageFile)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no images found in %s", *batchDir)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	format, err := images.ParseFormat(cfg.Pipeline.OutputFormat)
	if err != nil {
		return err
	}
	result, err := p.Process(context.Background(), pipeline.Request{Category: *category, Images: files})
	if err != nil && result == nil {
		return err
	}
	for _, o := range result.Succeeded() {
		name := strings.TrimSuffix(filepath.Base(o.Ref), filepath.Ext(o.Ref)) + format.Ext()
		path := filepath.Join(*outDir, name)
		if err := os.WriteFile(path, o.Encoded, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		logger.Info("Main", "%s -> %s (%d detection(s))", o.Ref, path, len(o.Detections))
	}
	for _, o := range result.Failed() {
		logger.Warn("Main", "%s failed: %v", o.Ref, o.Err)
	}
	return err
}
