package audio

import (
	"context"

	"QFMIngest/model"
)

// Transcoder encodes one quality variant of a staged source file.
type Transcoder interface {
	Encode(ctx context.Context, input string, preset model.QualityPreset, output string) error
}

// Prober reads stream properties of a staged file.
type Prober interface {
	Probe(ctx context.Context, path string) (ProbeResult, error)
}

// ProbeResult 音频流的基本属性
type ProbeResult struct {
	BitrateKbps int
	Duration    float32 // seconds
}
