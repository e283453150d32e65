package audio

import (
	"testing"

	"QFMIngest/model"

	"github.com/stretchr/testify/assert"
)

func ladder(bitrates ...int) []model.QualityPreset {
	presets := []model.QualityPreset{{ID: 1, Name: "original", Directory: "original"}}
	for i, b := range bitrates {
		b := b
		presets = append(presets, model.QualityPreset{
			ID:        uint(i + 2),
			Name:      "mp3",
			Bitrate:   &b,
			Directory: "mp3",
			Extension: "mp3",
		})
	}
	return presets
}

func bitrates(presets []model.QualityPreset) []int {
	out := []int{}
	for _, p := range presets {
		out = append(out, *p.Bitrate)
	}
	return out
}

func TestSelectQualities(t *testing.T) {
	catalog := ladder(128, 192, 256, 320)

	tests := []struct {
		name   string
		source int
		want   []int
	}{
		{"exact top", 320, []int{128, 192, 256, 320}},
		{"within tolerance below", 317, []int{128, 192, 256, 320}},
		{"within tolerance above", 325, []int{128, 192, 256, 320}},
		{"just outside tolerance", 314, []int{128, 192, 256}},
		{"low source", 96, []int{}},
		{"tolerance only", 124, []int{128}},
		{"zero", 0, []int{}},
		{"huge", 1411, []int{128, 192, 256, 320}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bitrates(SelectQualities(tt.source, catalog)))
		})
	}
}

func TestSelectQualitiesProperty(t *testing.T) {
	catalog := ladder(32, 64, 96, 128, 160, 192, 224, 256, 320)
	for source := 0; source <= 400; source++ {
		selected := SelectQualities(source, catalog)
		in := map[int]bool{}
		for _, p := range selected {
			b := *p.Bitrate
			in[b] = true
			assert.True(t, b < source || abs(b-source) <= BitrateTolerance, "source %d picked %d", source, b)
		}
		for _, p := range catalog {
			if p.Bitrate == nil {
				continue
			}
			b := *p.Bitrate
			if b < source || abs(b-source) <= BitrateTolerance {
				assert.True(t, in[b], "source %d missed %d", source, b)
			}
		}
	}
}

func TestOriginalPreset(t *testing.T) {
	p, ok := OriginalPreset(ladder(128))
	assert.True(t, ok)
	assert.Equal(t, "original", p.Directory)

	_, ok = OriginalPreset(ladder(128)[1:])
	assert.False(t, ok)
}
