package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("pipeline", "hidden %d", 1)
	l.Warn("pipeline", "shown %d", 2)
	l.Error("", "plain")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] [pipeline] shown 2")
	assert.Contains(t, out, "[ERROR] plain")

	buf.Reset()
	l.SetLevel(SILENT)
	l.Error("pipeline", "nothing")
	assert.Empty(t, buf.String())
}

func TestLogger_Color(t *testing.T) {
	var buf bytes.Buffer
	New(DEBUG, &buf, true).Debug("m", "x")
	assert.Contains(t, buf.String(), "\033[36m[DEBUG]\033[0m [m] x")
}

func TestModule_With(t *testing.T) {
	var buf bytes.Buffer
	m := For(New(DEBUG, &buf, false), "pipeline").With("req=abc")
	m.Info("image %d loaded", 0)
	assert.Contains(t, buf.String(), "[INFO] [pipeline req=abc] image 0 loaded")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLogLevel_YAML(t *testing.T) {
	var cfg struct {
		Level LogLevel `yaml:"level"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("level: warn\n"), &cfg))
	assert.Equal(t, WARN, cfg.Level)

	assert.Error(t, yaml.Unmarshal([]byte("level: loud\n"), &cfg))
}
