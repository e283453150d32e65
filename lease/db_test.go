package lease

import (
	"context"
	"sync"
	"testing"
	"time"

	"QFMIngest/model"
	"QFMIngest/testsupport"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDBLeaser(t *testing.T) (*DBLeaser, *time.Time) {
	t.Helper()
	gdb, _ := testsupport.OpenDatabase(t)
	l := NewDBLeaser(gdb, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestDBLeaserSkipLockedOnlyForServerDialects(t *testing.T) {
	l, _ := newDBLeaser(t)
	assert.False(t, l.skipLocked)
}

func TestDBLeaserLeaseAndRelease(t *testing.T) {
	ctx := context.Background()
	l, _ := newDBLeaser(t)

	held, err := l.Lease(ctx, model.KindOnboarding)
	require.NoError(t, err)
	assert.Nil(t, held, "empty queue yields no lease")

	require.NoError(t, l.Enqueue(ctx, model.KindOnboarding, "t1"))
	require.NoError(t, l.Enqueue(ctx, model.KindOnboarding, "t1"))

	held, err = l.Lease(ctx, model.KindOnboarding)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, "t1", held.TrackID)
	assert.NotEmpty(t, held.Token)

	again, err := l.Lease(ctx, model.KindOnboarding)
	require.NoError(t, err)
	assert.Nil(t, again, "a held item is not handed out twice")

	other, err := l.Lease(ctx, model.KindMetadataWrite)
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, ReleaseOnboarding(ctx, l, held, nil))
	var count int64
	require.NoError(t, l.db.Model(&model.WorkItem{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDBLeaserOrdersByAge(t *testing.T) {
	ctx := context.Background()
	l, _ := newDBLeaser(t)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Enqueue(ctx, model.KindArtWrite, id))
	}
	var got []string
	for i := 0; i < 3; i++ {
		held, err := LeaseArtWrite(ctx, l)
		require.NoError(t, err)
		require.NotNil(t, held)
		got = append(got, held.TrackID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

func TestDBLeaserExpiredLeaseIsReclaimed(t *testing.T) {
	ctx := context.Background()
	l, now := newDBLeaser(t)
	require.NoError(t, l.Enqueue(ctx, model.KindOnboarding, "t1"))

	first, err := l.Lease(ctx, model.KindOnboarding)
	require.NoError(t, err)
	require.NotNil(t, first)

	*now = now.Add(30 * time.Second)
	require.NoError(t, l.Renew(ctx, first))

	*now = now.Add(45 * time.Second)
	none, err := l.Lease(ctx, model.KindOnboarding)
	require.NoError(t, err)
	assert.Nil(t, none, "renewed lease is still live")

	*now = now.Add(2 * time.Minute)
	second, err := l.Lease(ctx, model.KindOnboarding)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.Token, second.Token)

	err = l.Release(ctx, first, nil)
	assert.ErrorIs(t, err, ErrLeaseConflict)
	err = l.Renew(ctx, first)
	assert.ErrorIs(t, err, ErrLeaseConflict)

	require.NoError(t, l.Release(ctx, second, nil))
}

func TestDBLeaserReleaseSetsStatus(t *testing.T) {
	ctx := context.Background()
	gdb, database := testsupport.OpenDatabase(t)
	l := NewDBLeaser(gdb, time.Minute)

	track := &model.Track{ID: uuid.NewString(), OwnerID: 1}
	require.NoError(t, database.CreateTrack(ctx, track))
	require.NoError(t, l.Enqueue(ctx, model.KindOnboarding, track.ID))

	held, err := LeaseOnboarding(ctx, l)
	require.NoError(t, err)
	require.NotNil(t, held)
	require.NoError(t, l.Release(ctx, held, Status(model.StatusReady)))

	got, err := database.GetTrack(ctx, track.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusReady, got.Status)
}

func TestDBLeaserEnqueueWhileLeasedRequeues(t *testing.T) {
	ctx := context.Background()
	l, _ := newDBLeaser(t)
	require.NoError(t, l.Enqueue(ctx, model.KindMetadataWrite, "t1"))

	held, err := LeaseMetadataWrite(ctx, l)
	require.NoError(t, err)
	require.NotNil(t, held)

	pending, err := l.Pending(ctx, model.KindMetadataWrite, "t1")
	require.NoError(t, err)
	assert.False(t, pending)

	require.NoError(t, l.Enqueue(ctx, model.KindMetadataWrite, "t1"))
	none, err := l.Lease(ctx, model.KindMetadataWrite)
	require.NoError(t, err)
	assert.Nil(t, none, "dirty item stays exclusive while leased")

	require.NoError(t, ReleaseMetadataWrite(ctx, l, held))
	pending, err = l.Pending(ctx, model.KindMetadataWrite, "t1")
	require.NoError(t, err)
	assert.True(t, pending)

	next, err := l.Lease(ctx, model.KindMetadataWrite)
	require.NoError(t, err)
	require.NotNil(t, next)
	require.NoError(t, l.Release(ctx, next, nil))

	pending, err = l.Pending(ctx, model.KindMetadataWrite, "t1")
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestDBLeaserLeaseTrack(t *testing.T) {
	ctx := context.Background()
	l, _ := newDBLeaser(t)
	require.NoError(t, l.Enqueue(ctx, model.KindArtWrite, "a"))
	require.NoError(t, l.Enqueue(ctx, model.KindArtWrite, "b"))

	held, err := l.LeaseTrack(ctx, model.KindArtWrite, "b")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, "b", held.TrackID)

	none, err := l.LeaseTrack(ctx, model.KindArtWrite, "b")
	require.NoError(t, err)
	assert.Nil(t, none)

	none, err = l.LeaseTrack(ctx, model.KindArtWrite, "missing")
	require.NoError(t, err)
	assert.Nil(t, none)

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Pending: 1, Leased: 1}, stats[model.KindArtWrite])
	assert.Equal(t, Stats{}, stats[model.KindOnboarding])
}

func TestDBLeaserConcurrentLeasesAreExclusive(t *testing.T) {
	ctx := context.Background()
	l, _ := newDBLeaser(t)
	const items = 8
	for i := 0; i < items; i++ {
		require.NoError(t, l.Enqueue(ctx, model.KindOnboarding, uuid.NewString()))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				held, err := l.Lease(ctx, model.KindOnboarding)
				if err != nil || held == nil {
					return
				}
				mu.Lock()
				seen[held.TrackID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, items)
	for id, n := range seen {
		assert.Equal(t, 1, n, id)
	}
}
