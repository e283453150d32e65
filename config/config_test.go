package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadCatalogDefault(t *testing.T) {
	c, err := LoadCatalog("")
	require.NoError(t, err)

	var bitrates []int
	originals := 0
	for _, p := range c.Presets {
		if p.Bitrate == nil {
			originals++
			assert.Equal(t, "original", p.Directory)
			continue
		}
		bitrates = append(bitrates, *p.Bitrate)
	}
	assert.Equal(t, 1, originals)
	assert.Equal(t, []int{128, 192, 256, 320}, bitrates)

	names := make(map[string]FieldSpec)
	for _, f := range c.Fields {
		names[f.Name] = f
	}
	require.Contains(t, names, "custom")
	assert.False(t, names["custom"].Writable)
	assert.True(t, names["title"].Writable)
	assert.True(t, names["title"].Searchable)
}

func TestParseCatalogValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want string
	}{
		{
			name: "no original",
			doc: `
[[preset]]
name = "a"
bitrate = 128
directory = "a"
extension = "mp3"
`,
			want: "exactly one original",
		},
		{
			name: "duplicate directory",
			doc: `
[[preset]]
name = "original"
directory = "x"

[[preset]]
name = "b"
bitrate = 128
directory = "x"
extension = "mp3"
`,
			want: "duplicate preset directory",
		},
		{
			name: "missing extension",
			doc: `
[[preset]]
name = "original"
directory = "original"

[[preset]]
name = "b"
bitrate = 128
directory = "b"
`,
			want: "requires an extension",
		},
		{
			name: "duplicate field",
			doc: `
[[preset]]
name = "original"
directory = "original"

[[field]]
name = "title"

[[field]]
name = "title"
`,
			want: "duplicate field name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCatalog([]byte(tt.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("QFM_TEST_DURATION", "750ms")
	assert.Equal(t, 750*time.Millisecond, getEnvDuration("QFM_TEST_DURATION", time.Second))

	t.Setenv("QFM_TEST_DURATION", "3")
	assert.Equal(t, 3*time.Second, getEnvDuration("QFM_TEST_DURATION", time.Second))

	t.Setenv("QFM_TEST_DURATION", "soon")
	assert.Equal(t, time.Second, getEnvDuration("QFM_TEST_DURATION", time.Second))
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("ONBOARDING_WORKERS", "7")
	t.Setenv("WRITEBACK_WORKERS", "-2")
	t.Setenv("FFMPEG_PATH", "/opt/bin/ffmpeg")
	t.Setenv("LEASER_BACKEND", "REDIS")

	cfg := Load()
	assert.Equal(t, 7, cfg.OnboardingWorkers)
	assert.Equal(t, 0, cfg.WriteBackWorkers)
	assert.Equal(t, "/opt/bin/ffprobe", cfg.FFprobePath)
	assert.Equal(t, "redis", cfg.LeaserBackend)
}
