// Package providers - Inference sessions.
package providers

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	envMu   sync.Mutex
	envRefs int
)

// GetSharedLibPath returns the default path to the onnxruntime shared library
// for the current platform.
func GetSharedLibPath() (string, error) {
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll", nil
	case "darwin":
		return "./third_party/libonnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", fmt.Errorf("no onnxruntime library known for %s/%s", runtime.GOOS, runtime.GOARCH)
}

// InitializeRuntime loads the onnxruntime shared library and prepares the
// process-wide environment. Calls are reference counted; every successful
// call must be paired with ReleaseRuntime.
func InitializeRuntime(cfg Config) error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs > 0 {
		envRefs++
		return nil
	}

	libPath := cfg.SharedLibraryPath
	if libPath == "" {
		p, err := GetSharedLibPath()
		if err != nil {
			return err
		}
		libPath = p
	}
	// Check if the shared library exists before trying to use it.
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing ORT environment: %w", err)
	}
	envRefs = 1
	return nil
}

// ReleaseRuntime drops one reference taken by InitializeRuntime and destroys
// the environment when the last one is released.
func ReleaseRuntime() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 {
		return nil
	}
	envRefs--
	if envRefs > 0 {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("error destroying ORT environment: %w", err)
	}
	return nil
}

// NewSessionOptions creates session options with the provider's execution
// provider appended. The caller must Destroy the result.
//
// Arguments:
//   - provider: The execution provider.
//   - cfg: Thread pool settings.
//
// Returns:
//   - *ort.SessionOptions: The configured options.
//   - error: An error if the provider cannot be enabled.
func NewSessionOptions(provider ExecutionProvider, cfg Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session options: %w", err)
	}

	if err := configureSessionOptions(options, provider, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configureSessionOptions(options *ort.SessionOptions, provider ExecutionProvider, cfg Config) error {
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}

	switch provider.Backend() {
	case CoreMLProviderBackend:
		opts, ok := provider.Options().(CoreMLOptions)
		if !ok {
			return fmt.Errorf("invalid options type for CoreML: %T", provider.Options())
		}
		if err := options.AppendExecutionProviderCoreML(opts.Flags()); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case OpenVINOProviderBackend:
		opts, ok := provider.Options().(OpenVINOOptions)
		if !ok {
			return fmt.Errorf("invalid options type for OpenVINO: %T", provider.Options())
		}
		if err := options.AppendExecutionProviderOpenVINO(opts.Map()); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	case CUDAProviderBackend:
		opts, ok := provider.Options().(CUDAOptions)
		if !ok {
			return fmt.Errorf("invalid options type for CUDA: %T", provider.Options())
		}
		cuda, err := opts.ToNativeProviderOptions()
		if err != nil {
			return fmt.Errorf("error converting CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	}
	return nil
}

// Session represents a model session from the onnxruntime whose tensors are
// bound per call.
type Session struct {
	Session *ort.DynamicAdvancedSession
	Inputs  []string
	Outputs []string
}

// NewSession creates a dynamic ONNX Runtime session for the model at modelPath.
// InitializeRuntime must have been called.
//
// Arguments:
//   - provider: The execution provider for the session.
//   - cfg: Thread pool settings.
//   - modelPath: The path to the ONNX model file.
//   - inputs: Input node names expected by the model.
//   - outputs: Output node names produced by the model.
//
// Returns:
//   - *Session: The session.
//   - error: An error if the model cannot be loaded.
func NewSession(provider ExecutionProvider, cfg Config, modelPath string, inputs, outputs []string) (*Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model not found at %s: %w", modelPath, err)
	}

	options, err := NewSessionOptions(provider, cfg)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("error creating ORT session for %s: %w", modelPath, err)
	}

	return &Session{
		Session: session,
		Inputs:  inputs,
		Outputs: outputs,
	}, nil
}

// Run executes the session. Nil entries in outputs are allocated by the
// runtime and must be destroyed by the caller.
func (s *Session) Run(inputs, outputs []ort.Value) error {
	if s == nil || s.Session == nil {
		return fmt.Errorf("session is closed")
	}
	return s.Session.Run(inputs, outputs)
}

// Close releases the resources associated with the Session.
func (s *Session) Close() error {
	if s.Session != nil {
		err := s.Session.Destroy()
		if err != nil {
			return fmt.Errorf("error destroying ORT session: %w", err)
		}
		s.Session = nil
	}
	return nil
}
