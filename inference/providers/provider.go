// Package providers - Execution providers and session options for ONNX Runtime.
package providers

import (
	"fmt"
	"strings"
)

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

// ProviderOptions is a marker interface for provider-specific config.
type ProviderOptions interface {
	isProviderOptions()
}

// ExecutionProvider represents the contract that all execution providers must implement.
type ExecutionProvider interface {
	Backend() ProviderBackend
	Options() ProviderOptions
}

// Config selects and configures the execution provider used by every session
// the process creates.
type Config struct {
	// Backend is one of cpu, cuda, coreml or openvino.
	Backend ProviderBackend `yaml:"backend"`
	// SharedLibraryPath points at the onnxruntime shared library. Empty uses
	// the platform default from GetSharedLibPath.
	SharedLibraryPath string `yaml:"shared_library_path"`
	// IntraOpThreads and InterOpThreads bound ONNX Runtime's thread pools. Zero
	// lets the runtime decide.
	IntraOpThreads int `yaml:"intra_op_threads"`
	InterOpThreads int `yaml:"inter_op_threads"`

	CUDA     CUDAOptions     `yaml:"cuda"`
	CoreML   CoreMLOptions   `yaml:"coreml"`
	OpenVINO OpenVINOOptions `yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration.
func DefaultConfig() Config {
	return Config{Backend: CPUProviderBackend}
}

// Validate checks that the backend is known and thread counts are sane.
func (c Config) Validate() error {
	if _, err := ParseBackend(string(c.Backend)); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return fmt.Errorf("thread counts must not be negative")
	}
	return nil
}

// ParseBackend normalises a backend name. Empty means cpu.
func ParseBackend(s string) (ProviderBackend, error) {
	switch b := ProviderBackend(strings.ToLower(strings.TrimSpace(s))); b {
	case "":
		return CPUProviderBackend, nil
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
		return b, nil
	default:
		return "", fmt.Errorf("no matching provider backend registered: %q", s)
	}
}

// NewProvider creates the execution provider selected by cfg.
//
// Arguments:
//   - cfg: The provider configuration.
//
// Returns:
//   - ExecutionProvider: The new provider.
//   - error: An error if the backend is unknown.
func NewProvider(cfg Config) (ExecutionProvider, error) {
	backend, err := ParseBackend(string(cfg.Backend))
	if err != nil {
		return nil, err
	}

	switch backend {
	case CUDAProviderBackend:
		return NewCUDAProvider(cfg.CUDA), nil
	case CoreMLProviderBackend:
		return NewCoreMLProvider(cfg.CoreML), nil
	case OpenVINOProviderBackend:
		return NewOpenVINOProvider(cfg.OpenVINO), nil
	default:
		return NewCPUProvider(), nil
	}
}
