package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    ProviderBackend
		wantErr bool
	}{
		{name: "empty defaults to cpu", cfg: Config{}, want: CPUProviderBackend},
		{name: "cpu", cfg: Config{Backend: "cpu"}, want: CPUProviderBackend},
		{name: "cuda mixed case", cfg: Config{Backend: "CUDA"}, want: CUDAProviderBackend},
		{name: "coreml", cfg: Config{Backend: "coreml"}, want: CoreMLProviderBackend},
		{name: "openvino", cfg: Config{Backend: "openvino"}, want: OpenVINOProviderBackend},
		{name: "unknown", cfg: Config{Backend: "tpu"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Error(t, tt.cfg.Validate())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Backend())
			assert.NoError(t, tt.cfg.Validate())
		})
	}
}

func TestProviderOptionsTypes(t *testing.T) {
	cuda, err := NewProvider(Config{Backend: CUDAProviderBackend, CUDA: CUDAOptions{DeviceID: 1}})
	require.NoError(t, err)
	opts, ok := cuda.Options().(CUDAOptions)
	require.True(t, ok)
	assert.Equal(t, 1, opts.DeviceID)

	ov, err := NewProvider(Config{Backend: OpenVINOProviderBackend, OpenVINO: OpenVINOOptions{DeviceType: "GPU"}})
	require.NoError(t, err)
	_, ok = ov.Options().(OpenVINOOptions)
	assert.True(t, ok)

	_, ok = NewCPUProvider().Options().(CPUOptions)
	assert.True(t, ok)
}

func TestCUDAOptionsMap(t *testing.T) {
	m := CUDAOptions{}.Map()
	assert.Equal(t, map[string]string{
		"device_id":                 "0",
		"do_copy_in_default_stream": "false",
	}, m)

	m = CUDAOptions{
		DeviceID:            2,
		GPUMemLimit:         1 << 30,
		ArenaExtendStrategy: "kSameAsRequested",
		CudnnConvAlgoSearch: "HEURISTIC",
	}.Map()
	assert.Equal(t, "2", m["device_id"])
	assert.Equal(t, "1073741824", m["gpu_mem_limit"])
	assert.Equal(t, "kSameAsRequested", m["arena_extend_strategy"])
	assert.Equal(t, "HEURISTIC", m["cudnn_conv_algo_search"])
}

func TestOpenVINOOptionsMap(t *testing.T) {
	assert.Empty(t, OpenVINOOptions{}.Map())

	m := OpenVINOOptions{DeviceType: "CPU", Precision: "FP32", NumOfThreads: 4, DisableDynamicShapes: true}.Map()
	assert.Equal(t, map[string]string{
		"device_type":            "CPU",
		"precision":              "FP32",
		"num_of_threads":         "4",
		"disable_dynamic_shapes": "true",
	}, m)
}

func TestCoreMLFlags(t *testing.T) {
	assert.Equal(t, uint32(0), CoreMLOptions{}.Flags())
	assert.Equal(t, uint32(0x001|0x008), CoreMLOptions{CPUOnly: true, RequireStaticInputShapes: true}.Flags())
}

func TestValidateThreads(t *testing.T) {
	assert.Error(t, Config{IntraOpThreads: -1}.Validate())
}
