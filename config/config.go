// Package config - Service configuration: YAML file, then environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nvr-ai/regionswap/catalog"
	"github.com/nvr-ai/regionswap/images"
	"github.com/nvr-ai/regionswap/inference/providers"
	"github.com/nvr-ai/regionswap/inference/remote"
	"github.com/nvr-ai/regionswap/inference/sam"
	"github.com/nvr-ai/regionswap/inference/yolo"
	"github.com/nvr-ai/regionswap/logger"
	"github.com/nvr-ai/regionswap/pipeline"
	"github.com/nvr-ai/regionswap/server"
	"github.com/nvr-ai/regionswap/transport/mqtt"
	"github.com/nvr-ai/regionswap/util"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Collaborator backends.
const (
	BackendRemote = "remote"
	BackendYOLO   = "yolo"
	BackendSAM    = "sam"
)

// LogConfig configures the global logger.
type LogConfig struct {
	Level logger.LogLevel `yaml:"level"`
	Color bool            `yaml:"color"`
}

// InferenceConfig selects and configures the detection and segmentation
// collaborators.
type InferenceConfig struct {
	// Detector is remote or yolo.
	Detector string `yaml:"detector"`
	// Segmenter is remote or sam.
	Segmenter string `yaml:"segmenter"`
	// Exclusive serialises calls to each collaborator.
	Exclusive bool `yaml:"exclusive"`
	// SharedDevice makes detector and segmenter share one gate, for when both
	// run on the same device.
	SharedDevice bool `yaml:"shared_device"`

	Remote    remote.Config    `yaml:"remote"`
	YOLO      yolo.Config      `yaml:"yolo"`
	SAM       sam.Config       `yaml:"sam"`
	Providers providers.Config `yaml:"providers"`
}

// Config is the complete service configuration.
type Config struct {
	Log       LogConfig           `yaml:"log"`
	Pipeline  pipeline.Config     `yaml:"pipeline"`
	Inference InferenceConfig     `yaml:"inference"`
	Catalog   catalog.Config      `yaml:"catalog"`
	Loader    images.LoaderConfig `yaml:"loader"`
	Server    server.Config       `yaml:"server"`
	MQTT      mqtt.Config         `yaml:"mqtt"`
}

// Default returns the stock configuration: remote
// grounding-dino-tiny and sam-vit-base, threshold 0.3, polygon refinement on,
// JPEG output and port 5000.
func Default() Config {
	return Config{
		Log:      LogConfig{Level: logger.INFO, Color: true},
		Pipeline: pipeline.DefaultConfig(),
		Inference: InferenceConfig{
			Detector:  BackendRemote,
			Segmenter: BackendRemote,
			Exclusive: true,
			Remote:    remote.DefaultConfig(),
			YOLO:      yolo.DefaultConfig(),
			SAM:       sam.DefaultConfig(),
			Providers: providers.DefaultConfig(),
		},
		Catalog: catalog.DefaultConfig(),
		Loader: images.LoaderConfig{
			MaxBytes: images.DefaultMaxBytes,
			Retry:    util.DefaultRetryConfig(),
		},
		Server: server.DefaultConfig(),
		MQTT:   mqtt.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults, applies REGIONSWAP_*
// environment overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}
	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment as seen through lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	var firstErr error
	parse := func(key string, set func(string) error) {
		if v, ok := lookup(key); ok && v != "" {
			if err := set(v); err != nil && firstErr == nil {
				firstErr = errors.Wrapf(err, "environment %s=%q", key, v)
			}
		}
	}

	parse("REGIONSWAP_LOG_LEVEL", func(v string) error { return cfg.Log.Level.UnmarshalText([]byte(v)) })
	str("REGIONSWAP_ADDR", &cfg.Server.Addr)
	parse("REGIONSWAP_REQUEST_TIMEOUT", func(v string) (err error) {
		cfg.Server.RequestTimeout, err = time.ParseDuration(v)
		return err
	})
	parse("REGIONSWAP_THRESHOLD", func(v string) (err error) {
		cfg.Pipeline.Threshold, err = strconv.ParseFloat(v, 64)
		return err
	})
	parse("REGIONSWAP_POLYGON_REFINEMENT", func(v string) (err error) {
		cfg.Pipeline.PolygonRefinement, err = strconv.ParseBool(v)
		return err
	})
	str("REGIONSWAP_OUTPUT_FORMAT", &cfg.Pipeline.OutputFormat)
	str("REGIONSWAP_CATALOG_URL", &cfg.Catalog.BaseURL)
	str("REGIONSWAP_DETECTOR", &cfg.Inference.Detector)
	str("REGIONSWAP_SEGMENTER", &cfg.Inference.Segmenter)
	str("REGIONSWAP_DETECTOR_URL", &cfg.Inference.Remote.DetectorURL)
	str("REGIONSWAP_SEGMENTER_URL", &cfg.Inference.Remote.SegmenterURL)
	str("REGIONSWAP_YOLO_MODEL", &cfg.Inference.YOLO.ModelPath)
	str("REGIONSWAP_SAM_ENCODER", &cfg.Inference.SAM.EncoderPath)
	str("REGIONSWAP_SAM_DECODER", &cfg.Inference.SAM.DecoderPath)
	str("REGIONSWAP_ORT_LIBRARY", &cfg.Inference.Providers.SharedLibraryPath)
	parse("REGIONSWAP_PROVIDER", func(v string) (err error) {
		cfg.Inference.Providers.Backend, err = providers.ParseBackend(v)
		return err
	})
	parse("REGIONSWAP_MQTT_ENABLED", func(v string) (err error) {
		cfg.MQTT.Enabled, err = strconv.ParseBool(v)
		return err
	})
	str("REGIONSWAP_MQTT_BROKER", &cfg.MQTT.Broker)
	str("REGIONSWAP_MQTT_USERNAME", &cfg.MQTT.Username)
	str("REGIONSWAP_MQTT_PASSWORD", &cfg.MQTT.Password)

	return firstErr
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if err := c.Pipeline.Validate(); err != nil {
		return errors.Wrap(err, "pipeline")
	}
	if c.Catalog.BaseURL == "" {
		return errors.New("catalog.base_url is required")
	}
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Catalog.Timeout <= 0 {
		return fmt.Errorf("catalog.timeout must be positive, got %s", c.Catalog.Timeout)
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive, got %s", c.Server.RequestTimeout)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return errors.New("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.Enabled && c.MQTT.RequestTimeout <= 0 {
		return fmt.Errorf("mqtt.request_timeout must be positive, got %s", c.MQTT.RequestTimeout)
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	inf := c.Inference
	if (inf.Detector == BackendRemote || inf.Segmenter == BackendRemote) && inf.Remote.Timeout <= 0 {
		return fmt.Errorf("inference.remote.timeout must be positive, got %s", inf.Remote.Timeout)
	}
	switch inf.Detector {
	case BackendRemote:
		if inf.Remote.DetectorURL == "" {
			return errors.New("inference.remote.detector_url is required")
		}
	case BackendYOLO:
		if inf.YOLO.ModelPath == "" {
			return errors.New("inference.yolo.model_path is required")
		}
	default:
		return fmt.Errorf("unknown detector backend %q", inf.Detector)
	}
	switch inf.Segmenter {
	case BackendRemote:
		if inf.Remote.SegmenterURL == "" {
			return errors.New("inference.remote.segmenter_url is required")
		}
	case BackendSAM:
		if inf.SAM.EncoderPath == "" || inf.SAM.DecoderPath == "" {
			return errors.New("inference.sam.encoder_path and decoder_path are required")
		}
	default:
		return fmt.Errorf("unknown segmenter backend %q", inf.Segmenter)
	}
	if inf.Detector == BackendYOLO || inf.Segmenter == BackendSAM {
		if err := inf.Providers.Validate(); err != nil {
			return errors.Wrap(err, "inference.providers")
		}
	}
	return nil
}
