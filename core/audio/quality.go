package audio

import (
	"errors"

	"QFMIngest/model"
)

// ErrNoOriginalPreset means the quality catalog cannot store an untouched upload.
var ErrNoOriginalPreset = errors.New("quality catalog has no original preset")

// BitrateTolerance is how close, in kbps, a preset may sit to the source
// bitrate and still be generated.
const BitrateTolerance = 5

// SelectQualities returns, in catalog order, the presets whose bitrate is below
// the source bitrate or within BitrateTolerance of it. The original preset is
// never selected.
func SelectQualities(sourceBitrate int, catalog []model.QualityPreset) []model.QualityPreset {
	selected := make([]model.QualityPreset, 0, len(catalog))
	for _, p := range catalog {
		if p.Bitrate == nil {
			continue
		}
		b := *p.Bitrate
		if b < sourceBitrate || abs(b-sourceBitrate) <= BitrateTolerance {
			selected = append(selected, p)
		}
	}
	return selected
}

// OriginalPreset returns the preset that stands for the untouched upload.
func OriginalPreset(catalog []model.QualityPreset) (model.QualityPreset, bool) {
	for _, p := range catalog {
		if p.IsOriginal() {
			return p, true
		}
	}
	return model.QualityPreset{}, false
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
