package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"QFMIngest/core/tags"
)

// FFprobeProber implements Prober with ffprobe's JSON output.
type FFprobeProber struct {
	ffprobePath string
}

// NewFFprobeProber creates a prober. An empty path falls back to "ffprobe".
func NewFFprobeProber(ffprobePath string) *FFprobeProber {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeProber{ffprobePath: ffprobePath}
}

// ffprobeOutput defines the structure for ffprobe JSON output.
type ffprobeOutput struct {
	Format struct {
		BitRate  string `json:"bit_rate"`
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the container bitrate in kbps and the duration in seconds.
func (p *FFprobeProber) Probe(ctx context.Context, path string) (ProbeResult, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=bit_rate,duration",
		"-of", "json",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: ffprobe failed for %s: %v: %s", tags.ErrCorruptFile, path, err, strings.TrimSpace(stderr.String()))
	}
	return ParseProbeOutput(out.Bytes())
}

// ParseProbeOutput decodes ffprobe's format section.
func ParseProbeOutput(data []byte) (ProbeResult, error) {
	var probeData ffprobeOutput
	if err := json.Unmarshal(data, &probeData); err != nil {
		return ProbeResult{}, fmt.Errorf("%w: unmarshal ffprobe output: %v", tags.ErrCorruptFile, err)
	}

	bps, err := strconv.ParseFloat(strings.TrimSpace(probeData.Format.BitRate), 64)
	if err != nil || bps <= 0 {
		return ProbeResult{}, fmt.Errorf("%w: bit_rate missing in ffprobe output", tags.ErrCorruptFile)
	}
	res := ProbeResult{BitrateKbps: int(math.Round(bps / 1000))}

	// 时长缺失时不视为错误
	if d, err := strconv.ParseFloat(strings.TrimSpace(probeData.Format.Duration), 32); err == nil {
		res.Duration = float32(d)
	}
	return res, nil
}
