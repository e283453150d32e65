package cmd

import (
	"strings"
	"testing"

	"QFMIngest/config"
	"QFMIngest/lease"
	"QFMIngest/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{5 << 20, "5.0 MiB"},
		{3 << 30, "3.0 GiB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.in))
	}
}

func TestPresetTableListsDefaultCatalog(t *testing.T) {
	catalog, err := config.LoadCatalog("")
	require.NoError(t, err)

	out := presetTable(catalog)
	for _, name := range []string{"original", "mp3-128", "mp3-320"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "320 kbps")

	fields := fieldTable(catalog)
	assert.Contains(t, fields, "album_artist")
}

func TestQueueTableHasEveryKind(t *testing.T) {
	out := queueTable(map[model.WorkKind]lease.Stats{model.KindArtWrite: {Pending: 3, Leased: 1}})
	for _, k := range model.WorkKinds {
		assert.Contains(t, out, string(k))
	}
	lines := strings.Split(out, "\n")
	var art string
	for _, l := range lines {
		if strings.Contains(l, "art_write") {
			art = l
		}
	}
	assert.Contains(t, art, "3")
}

func TestRenderTablePadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}})
	assert.Contains(t, out, "only")
	assert.Empty(t, renderTable(nil, nil))
}
