package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLabel(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "rugs", want: "Rugs."},
		{in: "WALLPAPER", want: "Wallpaper."},
		{in: "  curtains ", want: "Curtains."},
		{in: "Sofa.", want: "Sofa."},
		{in: "dining TABLE", want: "Dining table."},
		{in: "éclairage", want: "Éclairage."},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeLabel(tt.in), tt.in)
	}
}

func TestCapitalize(t *testing.T) {
	assert.Equal(t, "Rugs", Capitalize("rUGS"))
	assert.Equal(t, "", Capitalize(" "))
}

func TestStage_String(t *testing.T) {
	assert.Equal(t, "loaded", StageLoaded.String())
	assert.Equal(t, "encoded", StageEncoded.String())
	assert.Equal(t, "unknown", Stage(42).String())
}
