package onboarding

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"QFMIngest/core/audio"
	"QFMIngest/core/pipeline"
	"QFMIngest/core/stage"
	"QFMIngest/core/tags"
	"QFMIngest/lease"
	"QFMIngest/model"
	"QFMIngest/repository"
	"QFMIngest/storage"
	"QFMIngest/testsupport"
	"QFMIngest/testsupport/fixture"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type harness struct {
	orch       *Orchestrator
	gdb        *gorm.DB
	db         repository.Database
	blobs      *testsupport.MemoryStore
	leaser     *lease.DBLeaser
	stage      *stage.Stage
	transcoder *testsupport.FakeTranscoder
	prober     *testsupport.FakeProber
	containers storage.Containers
}

func newHarness(t *testing.T, bitrate int) *harness {
	t.Helper()
	gdb, database := testsupport.OpenDatabase(t)
	uploads, tracks, art := testsupport.Containers()
	h := &harness{
		gdb:        gdb,
		db:         database,
		blobs:      testsupport.NewMemoryStore(),
		leaser:     lease.NewDBLeaser(gdb, time.Minute),
		stage:      testsupport.NewStage(t),
		transcoder: &testsupport.FakeTranscoder{},
		prober:     &testsupport.FakeProber{Result: audio.ProbeResult{BitrateKbps: bitrate, Duration: 180}},
		containers: storage.Containers{Uploads: uploads, Tracks: tracks, Art: art},
	}
	h.orch = New(Deps{
		Database:      database,
		Blobs:         h.blobs,
		Leaser:        h.leaser,
		Stage:         h.stage,
		Transcoder:    h.transcoder,
		Prober:        h.prober,
		Containers:    h.containers,
		RetryInterval: time.Millisecond,
		RetryAttempts: 5,
	})
	return h
}

// upload creates the track row, stores the transient blob and queues onboarding.
func (h *harness) upload(t *testing.T, owner int64, data []byte) *model.Track {
	t.Helper()
	ctx := context.Background()
	track := &model.Track{ID: uuid.NewString(), OwnerID: owner}
	require.NoError(t, h.db.CreateTrack(ctx, track))
	h.blobs.Seed(h.containers.Uploads, storage.UploadPath(track.ID), data)
	require.NoError(t, h.leaser.Enqueue(ctx, model.KindOnboarding, track.ID))
	return track
}

func (h *harness) processNext(t *testing.T) error {
	t.Helper()
	held, err := lease.LeaseOnboarding(context.Background(), h.leaser)
	require.NoError(t, err)
	require.NotNil(t, held)
	return h.orch.Process(context.Background(), held)
}

func (h *harness) workItems(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.gdb.Model(&model.WorkItem{}).Count(&n).Error)
	return n
}

// assertRolledBack checks nothing of the track survives.
func (h *harness) assertRolledBack(t *testing.T, trackID string) {
	t.Helper()
	ctx := context.Background()
	got, err := h.db.GetTrack(ctx, trackID)
	require.NoError(t, err)
	assert.Nil(t, got, "track row deleted")

	qualities, err := h.db.ListAvailableQualities(ctx, trackID)
	require.NoError(t, err)
	assert.Empty(t, qualities)

	for _, key := range h.blobs.Keys(h.containers.Tracks) {
		assert.NotContains(t, key, trackID, "quality blob left behind")
	}
	assert.False(t, h.blobs.Has(h.containers.Uploads, storage.UploadPath(trackID)), "transient upload deleted")
	assert.Empty(t, testsupport.StageFiles(t, h.stage))
	assert.Zero(t, h.workItems(t))
}

var cover = fixture.Picture{
	Type:     3,
	MimeType: "image/png",
	Width:    1, Height: 1, Depth: 24,
	Data: []byte("\x89PNG\r\n\x1a\nfake-cover"),
}

func flacUpload(title string, pictures ...fixture.Picture) []byte {
	return fixture.FLAC(
		[]string{"TITLE=" + title, "ARTIST=Fixture Band", "TRACKNUMBER=2/9"},
		pictures,
		[]byte("audio-frames-"+title),
	)
}

func TestOnboardingHappyPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 320)
	track := h.upload(t, 1, flacUpload("First", cover))

	require.NoError(t, h.processNext(t))

	got, err := h.db.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusReady, got.Status)
	assert.Equal(t, string(tags.FormatFLAC), got.Format)
	assert.Equal(t, "flac", got.Extension)
	assert.Equal(t, 320, got.Bitrate)
	require.NotNil(t, got.ContentHash)
	require.NotNil(t, got.ArtID)

	assert.Equal(t, []string{"mp3-128", "mp3-192", "mp3-256", "mp3-320"}, h.transcoder.Calls)
	for _, dir := range []string{"original", "mp3_128", "mp3_192", "mp3_256", "mp3_320"} {
		assert.True(t, h.blobs.Has(h.containers.Tracks, storage.TrackPath(dir, track.ID)), dir)
	}
	assert.Equal(t, "audio/flac", h.blobs.ContentType(h.containers.Tracks, storage.TrackPath("original", track.ID)))
	assert.Equal(t, "audio/mpeg", h.blobs.ContentType(h.containers.Tracks, storage.TrackPath("mp3_128", track.ID)))

	qualities, err := h.db.ListAvailableQualities(ctx, track.ID)
	require.NoError(t, err)
	assert.Len(t, qualities, 5)

	meta, err := h.db.GetMetadata(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, "First", meta["title"])
	assert.Equal(t, "Fixture Band", meta["artist"])
	assert.Equal(t, "2", meta["track"])

	art, err := h.db.GetArt(ctx, *got.ArtID)
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, "image/png", art.MimeType)
	assert.Equal(t, cover.Data, h.blobs.Bytes(h.containers.Art, storage.ArtPath(art.ID)))

	assert.False(t, h.blobs.Has(h.containers.Uploads, storage.UploadPath(track.ID)))
	assert.Empty(t, testsupport.StageFiles(t, h.stage))
	assert.Zero(t, h.workItems(t))
}

func TestOnboardingSelectsQualitiesBySourceBitrate(t *testing.T) {
	tests := []struct {
		bitrate int
		want    []string
	}{
		{320, []string{"mp3-128", "mp3-192", "mp3-256", "mp3-320"}},
		{317, []string{"mp3-128", "mp3-192", "mp3-256", "mp3-320"}},
		{300, []string{"mp3-128", "mp3-192", "mp3-256"}},
		{96, nil},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dkbps", tt.bitrate), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, tt.bitrate)
			track := h.upload(t, 1, flacUpload("Song"))
			require.NoError(t, h.processNext(t))

			assert.Equal(t, tt.want, h.transcoder.Calls)
			qualities, err := h.db.ListAvailableQualities(ctx, track.ID)
			require.NoError(t, err)
			assert.Len(t, qualities, len(tt.want)+1, "selected presets plus the original")
		})
	}
}

func TestOnboardingDeduplicatesArt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 192)
	a := h.upload(t, 1, flacUpload("A", cover))
	b := h.upload(t, 1, flacUpload("B", cover))

	require.NoError(t, h.processNext(t))
	require.NoError(t, h.processNext(t))

	ta, err := h.db.GetTrack(ctx, a.ID)
	require.NoError(t, err)
	tb, err := h.db.GetTrack(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, ta.ArtID)
	require.NotNil(t, tb.ArtID)
	assert.Equal(t, *ta.ArtID, *tb.ArtID)

	var arts int64
	require.NoError(t, h.gdb.Model(&model.Art{}).Count(&arts).Error)
	assert.EqualValues(t, 1, arts)
	assert.Len(t, h.blobs.Keys(h.containers.Art), 1)

	refs, err := h.db.CountArtReferences(ctx, *ta.ArtID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, refs)
}

func TestOnboardingDiscardsDuplicateUpload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 128)
	data := flacUpload("Same")
	first := h.upload(t, 5, data)
	require.NoError(t, h.processNext(t))

	second := h.upload(t, 5, data)
	require.NoError(t, h.processNext(t), "a duplicate is not a failure")

	got, err := h.db.GetTrack(ctx, second.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.False(t, h.blobs.Has(h.containers.Uploads, storage.UploadPath(second.ID)))
	assert.Empty(t, testsupport.StageFiles(t, h.stage))
	assert.Zero(t, h.workItems(t))

	kept, err := h.db.GetTrack(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, kept.Status)

	// another owner may hold the same content
	other := h.upload(t, 6, data)
	require.NoError(t, h.processNext(t))
	got, err = h.db.GetTrack(ctx, other.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusReady, got.Status)
}

func TestOnboardingEncoderFailureRollsBack(t *testing.T) {
	h := newHarness(t, 256)
	h.transcoder.FailOn = map[string]bool{"mp3-192": true}
	track := h.upload(t, 1, flacUpload("Broken", cover))

	err := h.processNext(t)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrEncoderFailure)
	assert.Equal(t, []string{"mp3-128", "mp3-192"}, h.transcoder.Calls)

	h.assertRolledBack(t, track.ID)
	assert.Empty(t, h.blobs.Keys(h.containers.Tracks))
}

func TestOnboardingCancelsAtEveryStage(t *testing.T) {
	wav := append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 64)...)

	tests := []struct {
		name    string
		data    []byte
		noBlob  bool
		setup   func(h *harness)
		wantErr error
	}{
		{
			name:    "missing upload",
			noBlob:  true,
			wantErr: storage.ErrBlobNotFound,
		},
		{
			name:    "unsupported container",
			data:    wav,
			wantErr: tags.ErrUnsupportedFormat,
		},
		{
			name: "probe rejects file",
			setup: func(h *harness) {
				h.prober.Err = fmt.Errorf("%w: ffprobe exited 1", tags.ErrCorruptFile)
			},
			wantErr: pipeline.ErrFormat,
		},
		{
			name: "corrupt embedded picture",
			data: fixture.FLAC([]string{
				"TITLE=Broken Cover",
				"METADATA_BLOCK_PICTURE=" + base64.StdEncoding.EncodeToString([]byte{0, 0, 0}),
			}, nil, []byte("audio-frames")),
			wantErr: tags.ErrCorruptFile,
		},
		{
			name: "art upload keeps failing",
			setup: func(h *harness) {
				h.blobs.FailPut = func(container, path string) error {
					if container == h.containers.Art {
						return errors.New("connection reset")
					}
					return nil
				}
			},
			wantErr: pipeline.ErrTransientIO,
		},
		{
			name: "quality upload keeps failing",
			setup: func(h *harness) {
				h.blobs.FailPut = func(container, path string) error {
					if container == h.containers.Tracks && strings.HasPrefix(path, "mp3_192/") {
						return errors.New("connection reset")
					}
					return nil
				}
			},
			wantErr: pipeline.ErrTransientIO,
		},
		{
			name: "original upload keeps failing",
			setup: func(h *harness) {
				h.blobs.FailPut = func(container, path string) error {
					if container == h.containers.Tracks && strings.HasPrefix(path, "original/") {
						return errors.New("bucket quota exceeded")
					}
					return nil
				}
			},
			wantErr: pipeline.ErrTransientIO,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t, 256)
			if tt.setup != nil {
				tt.setup(h)
			}
			data := tt.data
			if data == nil {
				data = flacUpload("Cancel "+tt.name, cover)
			}

			track := &model.Track{ID: uuid.NewString(), OwnerID: 1}
			require.NoError(t, h.db.CreateTrack(ctx, track))
			if !tt.noBlob {
				h.blobs.Seed(h.containers.Uploads, storage.UploadPath(track.ID), data)
			}
			require.NoError(t, h.leaser.Enqueue(ctx, model.KindOnboarding, track.ID))

			err := h.processNext(t)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			h.assertRolledBack(t, track.ID)
		})
	}
}

func TestOnboardingRollbackRetriesDeletes(t *testing.T) {
	h := newHarness(t, 192)
	h.transcoder.FailOn = map[string]bool{"mp3-192": true}

	var mu sync.Mutex
	failures := map[string]int{}
	h.blobs.FailDelete = func(container, path string) error {
		mu.Lock()
		defer mu.Unlock()
		key := container + "/" + path
		if failures[key] < 2 {
			failures[key]++
			return errors.New("object locked")
		}
		return nil
	}
	track := h.upload(t, 1, flacUpload("Flaky"))

	require.Error(t, h.processNext(t))
	h.assertRolledBack(t, track.ID)
	assert.Equal(t, 2, failures[h.containers.Tracks+"/"+storage.TrackPath("mp3_128", track.ID)])
}

func TestOnboardingMarksErrorWhenRowCannotBeDeleted(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 192)
	h.prober.Err = fmt.Errorf("%w: no audio stream", tags.ErrCorruptFile)
	failing := &failingDelete{Database: h.db}
	h.orch.Database = failing
	track := h.upload(t, 1, flacUpload("Stuck"))

	require.Error(t, h.processNext(t))

	got, err := h.db.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusError, got.Status)
	assert.Zero(t, h.workItems(t))
}

type failingDelete struct {
	repository.Database
}

func (f *failingDelete) DeleteTrack(context.Context, string) error {
	return errors.New("foreign key violation")
}

func TestOnboardingResumesAfterFinalizeUpload(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 320)
	track := h.upload(t, 1, flacUpload("Resume"))

	presets, err := h.db.ListPresets(ctx)
	require.NoError(t, err)
	original, ok := audio.OriginalPreset(presets)
	require.True(t, ok)
	require.NoError(t, h.db.SetTrackStatus(ctx, track.ID, model.StatusQualitiesGenerated))
	require.NoError(t, h.db.AddAvailableQuality(ctx, track.ID, original.ID))

	require.NoError(t, h.processNext(t))

	got, err := h.db.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)
	assert.Zero(t, h.transcoder.CallCount())
	assert.False(t, h.blobs.Has(h.containers.Uploads, storage.UploadPath(track.ID)))
	assert.Zero(t, h.workItems(t))
}

func TestOnboardingRestartsInterruptedRun(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 192)
	track := h.upload(t, 1, flacUpload("Interrupted"))

	// a previous worker got as far as one quality before dying
	presets, err := h.db.ListPresets(ctx)
	require.NoError(t, err)
	var p320 model.QualityPreset
	for _, p := range presets {
		if p.Name == "mp3-320" {
			p320 = p
		}
	}
	require.NoError(t, h.db.SetTrackStatus(ctx, track.ID, model.StatusHashed))
	require.NoError(t, h.db.AddAvailableQuality(ctx, track.ID, p320.ID))
	h.blobs.Seed(h.containers.Tracks, storage.TrackPath(p320.Directory, track.ID), []byte("stale"))

	require.NoError(t, h.processNext(t))

	got, err := h.db.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)
	assert.False(t, h.blobs.Has(h.containers.Tracks, storage.TrackPath(p320.Directory, track.ID)),
		"stale quality above the source bitrate is purged")
	qualities, err := h.db.ListAvailableQualities(ctx, track.ID)
	require.NoError(t, err)
	assert.Len(t, qualities, 3)
}

func TestOnboardingReleasesMissingTrack(t *testing.T) {
	h := newHarness(t, 128)
	require.NoError(t, h.leaser.Enqueue(context.Background(), model.KindOnboarding, "gone"))
	require.NoError(t, h.processNext(t))
	assert.Zero(t, h.workItems(t))
}

func TestCheckCatalog(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 320)
	require.NoError(t, h.orch.CheckCatalog(ctx))

	require.NoError(t, h.gdb.Where("bitrate IS NULL").Delete(&model.QualityPreset{}).Error)
	err := h.orch.CheckCatalog(ctx)
	assert.ErrorIs(t, err, audio.ErrNoOriginalPreset)

	track := h.upload(t, 1, flacUpload("No Original"))
	err = h.processNext(t)
	assert.ErrorIs(t, err, audio.ErrNoOriginalPreset)
	got, gerr := h.db.GetTrack(ctx, track.ID)
	require.NoError(t, gerr)
	require.NotNil(t, got, "track kept for a retry once the catalog is fixed")
	assert.Equal(t, model.StatusInitial, got.Status)
}
