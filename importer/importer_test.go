package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"QFMIngest/lease"
	"QFMIngest/model"
	"QFMIngest/storage"
	"QFMIngest/testsupport"
	"QFMIngest/testsupport/fixture"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccepts(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"song.mp3", true},
		{"SONG.FLAC", true},
		{"a/b/c.opus", true},
		{"take.ogg", true},
		{".hidden.mp3", false},
		{"notes.txt", false},
		{"partial.mp3.part", false},
		{"noext", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Accepts(tt.name))
		})
	}
}

func newImporter(t *testing.T) (*Importer, *testsupport.MemoryStore, *lease.DBLeaser, storage.Containers) {
	t.Helper()
	gdb, database := testsupport.OpenDatabase(t)
	blobs := testsupport.NewMemoryStore()
	leaser := lease.NewDBLeaser(gdb, time.Minute)
	uploads, tracks, art := testsupport.Containers()
	containers := storage.Containers{Uploads: uploads, Tracks: tracks, Art: art}
	return New(database, blobs, leaser, containers), blobs, leaser, containers
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0644))
	return p
}

func TestImportFile(t *testing.T) {
	ctx := context.Background()
	imp, blobs, leaser, containers := newImporter(t)
	data := fixture.FLAC([]string{"TITLE=Imported"}, nil, []byte("frames"))
	path := writeFile(t, t.TempDir(), "a.flac", data)

	track, err := imp.ImportFile(ctx, 7, path)
	require.NoError(t, err)

	stored, err := imp.database.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, model.StatusInitial, stored.Status)
	assert.EqualValues(t, 7, stored.OwnerID)

	assert.Equal(t, data, blobs.Bytes(containers.Uploads, storage.UploadPath(track.ID)))
	assert.Equal(t, "audio/flac", blobs.ContentType(containers.Uploads, storage.UploadPath(track.ID)))

	held, err := leaser.Lease(ctx, model.KindOnboarding)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, track.ID, held.TrackID)
}

func TestImportFileUploadFailureRemovesTrack(t *testing.T) {
	ctx := context.Background()
	imp, blobs, leaser, _ := newImporter(t)
	blobs.FailPut = func(container, path string) error { return errors.New("bucket unavailable") }
	path := writeFile(t, t.TempDir(), "a.mp3", fixture.MPEGFrames(4))

	_, err := imp.ImportFile(ctx, 1, path)
	require.Error(t, err)

	tracks, err := imp.database.ListTracks(ctx, 1, 10)
	require.NoError(t, err)
	assert.Empty(t, tracks)
	held, err := leaser.Lease(ctx, model.KindOnboarding)
	require.NoError(t, err)
	assert.Nil(t, held)
}

func TestImportFileRejectsLargeFiles(t *testing.T) {
	imp, blobs, _, _ := newImporter(t)
	path := filepath.Join(t.TempDir(), "huge.flac")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(MaxFileSize+1))
	require.NoError(t, f.Close())

	_, err = imp.ImportFile(context.Background(), 1, path)
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.Empty(t, blobs.Puts)
}

type fakeImporter struct {
	mu    sync.Mutex
	files []string
}

func (f *fakeImporter) ImportFile(ctx context.Context, owner int64, path string) (*model.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, filepath.Base(path))
	return &model.Track{ID: uuid.NewString(), OwnerID: owner}, nil
}

func (f *fakeImporter) imported() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.files...)
}

func TestWatcherImportsExistingAndNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "old.mp3", []byte("x"))
	writeFile(t, dir, "readme.txt", []byte("skip"))

	fake := &fakeImporter{}
	w := NewWatcher(dir, 3, fake)
	w.SetDebounce(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	require.Eventually(t, func() bool {
		return len(fake.imported()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	writeFile(t, dir, "new.flac", []byte("y"))
	require.Eventually(t, func() bool {
		return len(fake.imported()) == 2
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	assert.ElementsMatch(t, []string{"old.mp3", "new.flac"}, fake.imported())
	moved, err := os.ReadDir(filepath.Join(dir, ImportedDir))
	require.NoError(t, err)
	assert.Len(t, moved, 2)
	_, err = os.Stat(filepath.Join(dir, "readme.txt"))
	assert.NoError(t, err, "non-audio files are left alone")
}
