package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"QFMIngest/core/pipeline"
	"QFMIngest/logger"
	"QFMIngest/model"

	"go.uber.org/zap"
)

// FFmpegTranscoder implements Transcoder by spawning ffmpeg.
type FFmpegTranscoder struct {
	ffmpegPath string
	log        *zap.Logger
}

// NewFFmpegTranscoder creates a new FFmpegTranscoder.
func NewFFmpegTranscoder(ffmpegPath string) *FFmpegTranscoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegTranscoder{ffmpegPath: ffmpegPath, log: logger.Named("transcoder")}
}

// EncodeArgs builds the fixed encoder argument shape:
// -i <input> -vn <preset args...> -map_metadata -1 -y <output>
func EncodeArgs(input string, preset model.QualityPreset, output string) []string {
	args := []string{"-i", input, "-vn"}
	args = append(args, preset.ArgList()...)
	return append(args, "-map_metadata", "-1", "-y", output)
}

// Encode runs ffmpeg for one preset. Any failure removes the partial output.
func (t *FFmpegTranscoder) Encode(ctx context.Context, input string, preset model.QualityPreset, output string) error {
	if preset.IsOriginal() {
		return pipeline.Wrap(pipeline.ErrEncoderFailure, "encode", preset.Name, fmt.Errorf("original preset is not encodable"))
	}
	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return fmt.Errorf("failed to create output directory for %s: %w", output, err)
	}

	args := EncodeArgs(input, preset, output)
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	t.log.Debug("executing ffmpeg",
		zap.String("preset", preset.Name),
		zap.String("args", strings.Join(args, " ")))

	// Run waits for the process, so it is reaped on every path.
	if err := cmd.Run(); err != nil {
		t.removePartial(output)
		return pipeline.Wrap(pipeline.ErrEncoderFailure, "encode", preset.Name,
			fmt.Errorf("ffmpeg failed for %s: %w: %s", input, err, tail(stderr.String(), 512)))
	}

	info, err := os.Stat(output)
	if err != nil || info.Size() == 0 {
		t.removePartial(output)
		return pipeline.Wrap(pipeline.ErrEncoderFailure, "encode", preset.Name,
			fmt.Errorf("ffmpeg produced no output at %s", output))
	}
	return nil
}

func (t *FFmpegTranscoder) removePartial(output string) {
	if err := os.Remove(output); err != nil && !os.IsNotExist(err) {
		t.log.Warn("failed to remove partial output", zap.String("path", output), zap.Error(err))
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
