package stage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"QFMIngest/core/pipeline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStage(t *testing.T, attempts int) *Stage {
	t.Helper()
	s, err := New(t.TempDir(), time.Millisecond, attempts)
	require.NoError(t, err)
	return s
}

func TestPathLayout(t *testing.T) {
	s := newStage(t, 0)
	assert.Equal(t, filepath.Join(s.Root(), "onboarding", "abc"), s.Path(KindOnboarding, "abc"))
	assert.Equal(t, filepath.Join(s.Root(), "onboarding", "abc.mp3_128.mp3"), s.Path(KindOnboarding, "abc", "mp3_128", "mp3"))
	assert.Equal(t, "abc.original", Name("abc", "original", ""))
	assert.DirExists(t, filepath.Join(s.Root(), "writeback"))
}

func TestCreateExistsSizeDelete(t *testing.T) {
	s := newStage(t, 0)
	f, err := s.Create(KindOnboarding, Name("t1"))
	require.NoError(t, err)
	_, err = f.WriteString("12345")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	path := s.Path(KindOnboarding, "t1")
	assert.True(t, s.Exists(path))
	size, err := s.Size(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), size)

	require.NoError(t, s.Delete(context.Background(), path))
	assert.False(t, s.Exists(path))
	// missing file is success
	require.NoError(t, s.Delete(context.Background(), path))
}

func TestDeleteRetriesUntilSuccess(t *testing.T) {
	s := newStage(t, 0)
	var calls atomic.Int32
	s.remove = func(string) error {
		if calls.Add(1) < 4 {
			return errors.New("file in use")
		}
		return nil
	}
	require.NoError(t, s.Delete(context.Background(), "whatever"))
	assert.Equal(t, int32(4), calls.Load())
}

func TestDeleteGivesUp(t *testing.T) {
	s := newStage(t, 3)
	s.remove = func(string) error { return errors.New("locked") }
	err := s.Delete(context.Background(), "whatever")
	assert.ErrorIs(t, err, pipeline.ErrTransientIO)

	s = newStage(t, 0)
	s.remove = func(string) error { return errors.New("locked") }
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = s.Delete(ctx, "whatever")
	assert.ErrorIs(t, err, pipeline.ErrTransientIO)
}

func TestLockIsExclusive(t *testing.T) {
	s := newStage(t, 0)
	ctx := context.Background()

	first, err := s.Lock(ctx, KindWriteBack, "t1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	_, err = s.Lock(waitCtx, KindWriteBack, "t1")
	require.Error(t, err, "second lock must wait")

	other, err := s.Lock(ctx, KindWriteBack, "t2")
	require.NoError(t, err)
	require.NoError(t, other.Unlock())

	require.NoError(t, first.Unlock())
	again, err := s.Lock(ctx, KindWriteBack, "t1")
	require.NoError(t, err)
	require.NoError(t, again.Unlock())
}

func TestCleanStale(t *testing.T) {
	s := newStage(t, 0)
	oldPath := s.Path(KindOnboarding, "old")
	newPath := s.Path(KindWriteBack, "new")
	require.NoError(t, os.WriteFile(oldPath, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("x"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	lock, err := s.Lock(context.Background(), KindWriteBack, "new")
	require.NoError(t, err)
	defer lock.Unlock()

	removed, err := s.CleanStale(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, oldPath)
	assert.FileExists(t, newPath)
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	_, err := New(" ", time.Millisecond, 0)
	assert.Error(t, err)
}
