package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"QFMIngest/config"
	"QFMIngest/core/pipeline"
	"QFMIngest/db"
	"QFMIngest/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatabase(t *testing.T) Database {
	t.Helper()
	cfg := config.Default()
	cfg.DBDriver = "sqlite"
	cfg.DBDSN = filepath.Join(t.TempDir(), "repo.db")
	cfg.DBLogLevel = "silent"

	gdb, err := db.Open(&cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	database := NewGormDatabase(gdb)
	ctx := context.Background()
	require.NoError(t, database.AutoMigrate(ctx))
	catalog, err := config.LoadCatalog("")
	require.NoError(t, err)
	require.NoError(t, database.Seed(ctx, catalog))
	return database
}

func strPtr(s string) *string { return &s }

func newTrack(t *testing.T, database Database, owner int64) *model.Track {
	t.Helper()
	track := &model.Track{ID: uuid.NewString(), OwnerID: owner}
	require.NoError(t, database.CreateTrack(context.Background(), track))
	return track
}

func TestTrackLifecycle(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	track := newTrack(t, database, 7)
	assert.Equal(t, model.StatusInitial, track.Status)

	hashed := model.StatusHashed
	bitrate := 320
	require.NoError(t, database.UpdateTrack(ctx, track.ID, TrackUpdate{
		Status:      &hashed,
		ContentHash: strPtr("abc"),
		Format:      strPtr("flac"),
		Bitrate:     &bitrate,
	}))

	got, err := database.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusHashed, got.Status)
	assert.Equal(t, "abc", *got.ContentHash)
	assert.Equal(t, 320, got.Bitrate)

	require.NoError(t, database.DeleteTrack(ctx, track.ID))
	got, err = database.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	require.NoError(t, database.DeleteTrack(ctx, track.ID), "delete is idempotent")
}

func TestOwnerHashIsUnique(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	first := newTrack(t, database, 1)
	second := newTrack(t, database, 1)
	otherOwner := newTrack(t, database, 2)

	require.NoError(t, database.UpdateTrack(ctx, first.ID, TrackUpdate{ContentHash: strPtr("same")}))
	require.NoError(t, database.UpdateTrack(ctx, otherOwner.ID, TrackUpdate{ContentHash: strPtr("same")}))

	err := database.UpdateTrack(ctx, second.ID, TrackUpdate{ContentHash: strPtr("same")})
	assert.ErrorIs(t, err, pipeline.ErrDuplicateContent)

	dup, err := database.FindTrackByOwnerHash(ctx, 1, "same", second.ID)
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, dup.ID)

	none, err := database.FindTrackByOwnerHash(ctx, 1, "same", first.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestQualities(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	track := newTrack(t, database, 1)

	presets, err := database.ListPresets(ctx)
	require.NoError(t, err)
	require.Len(t, presets, 5)
	assert.True(t, presets[0].IsOriginal())

	require.NoError(t, database.AddAvailableQuality(ctx, track.ID, presets[1].ID))
	require.NoError(t, database.AddAvailableQuality(ctx, track.ID, presets[1].ID), "duplicate ignored")
	require.NoError(t, database.AddAvailableQuality(ctx, track.ID, presets[2].ID))

	rows, err := database.ListAvailableQualities(ctx, track.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	has, err := database.HasAvailableQuality(ctx, track.ID, presets[2].ID)
	require.NoError(t, err)
	assert.True(t, has)

	require.NoError(t, database.DeleteTrack(ctx, track.ID))
	rows, err = database.ListAvailableQualities(ctx, track.ID)
	require.NoError(t, err)
	assert.Empty(t, rows, "cascade removes qualities")
}

func TestSeedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	catalog, err := config.LoadCatalog("")
	require.NoError(t, err)
	catalog.Fields[0].Searchable = false
	require.NoError(t, database.Seed(ctx, catalog))

	fields, err := database.ListFields(ctx)
	require.NoError(t, err)
	assert.Len(t, fields, len(catalog.Fields))
	assert.False(t, fields[0].Searchable)

	presets, err := database.ListPresets(ctx)
	require.NoError(t, err)
	assert.Len(t, presets, len(catalog.Presets))
}

func TestArtDedupAndPurge(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	a := newTrack(t, database, 1)
	b := newTrack(t, database, 2)

	art, created, err := database.CreateArt(ctx, &model.Art{ID: uuid.NewString(), Hash: "h1", MimeType: "image/png"})
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := database.CreateArt(ctx, &model.Art{ID: uuid.NewString(), Hash: "h1", MimeType: "image/png"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, art.ID, again.ID)

	require.NoError(t, database.SetTrackArt(ctx, a.ID, &art.ID))
	require.NoError(t, database.SetTrackArt(ctx, b.ID, &art.ID))
	refs, err := database.CountArtReferences(ctx, art.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), refs)

	orphan, _, err := database.CreateArt(ctx, &model.Art{ID: uuid.NewString(), Hash: "h2"})
	require.NoError(t, err)

	future := time.Now().Add(time.Minute)
	purged, err := database.PurgeUnreferencedArt(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan.ID}, purged)

	require.NoError(t, database.SetTrackArt(ctx, a.ID, nil))
	require.NoError(t, database.DeleteTrack(ctx, b.ID))

	purged, err = database.PurgeUnreferencedArt(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, purged, "young art is kept")

	purged, err = database.PurgeUnreferencedArt(ctx, future)
	require.NoError(t, err)
	assert.Equal(t, []string{art.ID}, purged)
	gone, err := database.GetArt(ctx, art.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestMetadataWriteOutFlow(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	track := newTrack(t, database, 1)

	skipped, err := database.SaveMetadata(ctx, track.ID, map[string]string{
		"title":   "Roygbiv",
		"artist":  "Boards of Canada",
		"custom":  `{"TSRC":"X"}`,
		"mood":    "calm",
		"comment": "   ",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"mood"}, skipped)

	all, err := database.GetMetadata(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "Roygbiv", "artist": "Boards of Canada", "custom": `{"TSRC":"X"}`}, all)

	pending, err := database.PendingWriteOut(ctx, track.ID)
	require.NoError(t, err)
	assert.Empty(t, pending, "extracted values are already in the file")

	require.NoError(t, database.SetMetadataValue(ctx, track.ID, "title", "Aquarius"))
	require.NoError(t, database.SetMetadataValue(ctx, track.ID, "album", ""))
	require.NoError(t, database.SetMetadataValue(ctx, track.ID, "custom", `{}`))
	err = database.SetMetadataValue(ctx, track.ID, "nope", "x")
	assert.ErrorIs(t, err, ErrUnknownField)

	pending, err = database.PendingWriteOut(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "Aquarius", "album": ""}, pending, "custom is not writable")

	// the value changed again after the write; it must stay pending
	require.NoError(t, database.SetMetadataValue(ctx, track.ID, "title", "Olson"))
	require.NoError(t, database.ClearWriteOut(ctx, track.ID, pending))

	pending, err = database.PendingWriteOut(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"title": "Olson"}, pending)

	purged, err := database.PurgeEmptyMetadata(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)
	all, err = database.GetMetadata(ctx, track.ID)
	require.NoError(t, err)
	assert.NotContains(t, all, "album")
}

func TestListTracks(t *testing.T) {
	ctx := context.Background()
	database := newTestDatabase(t)
	newTrack(t, database, 1)
	newTrack(t, database, 1)
	newTrack(t, database, 2)

	mine, err := database.ListTracks(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := database.ListTracks(ctx, 0, 2)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
