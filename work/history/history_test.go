package history

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"iptv-curator/work/store"
	"iptv-curator/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func ch(id, category string) types.Channel {
	return types.Channel{ID: id, Name: strings.ToUpper(id), URL: "http://stream.example/" + id, Category: category}
}

func TestTopWatchedOrdering(t *testing.T) {
	ctx := context.Background()
	tr := New(nil)

	require.NoError(t, tr.Record(ctx, ch("a", "News"), base, time.Minute))
	require.NoError(t, tr.Record(ctx, ch("b", "Sports"), base.Add(time.Minute), time.Minute))
	require.NoError(t, tr.Record(ctx, ch("a", "News"), base.Add(2*time.Minute), time.Minute))
	require.NoError(t, tr.Record(ctx, ch("c", "Kids"), base.Add(3*time.Minute), time.Minute))
	require.NoError(t, tr.Record(ctx, ch("d", "Kids"), base.Add(3*time.Minute), time.Minute))

	top := tr.TopWatched(10)
	require.Len(t, top, 4)
	assert.Equal(t, "a", top[0].ID)
	// c and d tie on count and time, id decides
	assert.Equal(t, "c", top[1].ID)
	assert.Equal(t, "d", top[2].ID)
	assert.Equal(t, "b", top[3].ID)

	assert.Len(t, tr.TopWatched(2), 2)
	assert.Empty(t, tr.TopWatched(0))
}

func TestTopWatchedUsesNewestRecord(t *testing.T) {
	ctx := context.Background()
	tr := New(nil)

	old := ch("a", "News")
	renamed := old
	renamed.Name = "A Renamed"
	require.NoError(t, tr.Record(ctx, old, base, 0))
	require.NoError(t, tr.Record(ctx, renamed, base.Add(time.Hour), 0))

	top := tr.TopWatched(1)
	require.Len(t, top, 1)
	assert.Equal(t, "A Renamed", top[0].Name)
}

func TestEntriesNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	tr := New(nil)

	for i := range MaxEntries + 5 {
		require.NoError(t, tr.Record(ctx, ch("a", ""), base.Add(time.Duration(i)*time.Second), 0))
	}
	entries := tr.Entries()
	require.Len(t, entries, MaxEntries)
	assert.True(t, entries[0].WatchedAt.After(entries[1].WatchedAt))
	assert.Equal(t, types.DefaultCategory, entries[0].Category)
}

func TestRecordDefaultsTimestamp(t *testing.T) {
	tr := New(nil)
	tr.now = func() time.Time { return base }
	require.NoError(t, tr.Record(context.Background(), ch("a", "News"), time.Time{}, 0))
	assert.Equal(t, base, tr.Entries()[0].WatchedAt)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()

	first := New(kv)
	require.NoError(t, first.Record(ctx, ch("a", "News"), base, 30*time.Minute))
	require.NoError(t, first.Record(ctx, ch("b", "Sports"), base.Add(time.Hour), time.Hour))

	second := New(kv)
	assert.Equal(t, 2, second.Load(ctx))
	entries := second.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Channel.ID)
	assert.Equal(t, time.Hour, entries[0].Duration)
	assert.True(t, entries[1].WatchedAt.Equal(base))

	require.NoError(t, second.Clear(ctx))
	assert.Empty(t, second.Entries())
	assert.Equal(t, 0, New(kv).Load(ctx))
}

// stallingKV holds the first Set until release is closed.
type stallingKV struct {
	store.KV
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (s *stallingKV) Set(ctx context.Context, key string, value []byte) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	return s.KV.Set(ctx, key, value)
}

func TestConcurrentRecordsPersistNewestHistory(t *testing.T) {
	ctx := context.Background()
	kv := &stallingKV{KV: store.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	tracker := New(kv)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, tracker.Record(ctx, ch("a", "News"), base, time.Minute))
	}()
	<-kv.entered
	go func() {
		defer wg.Done()
		assert.NoError(t, tracker.Record(ctx, ch("b", "News"), base.Add(time.Minute), time.Minute))
	}()
	require.Eventually(t, func() bool { return len(tracker.Entries()) == 2 }, time.Second, time.Millisecond)
	close(kv.release)
	wg.Wait()

	assert.Equal(t, 2, New(kv).Load(ctx))
}

func TestLoadCorruptHistory(t *testing.T) {
	ctx := context.Background()
	kv := store.NewMemory()
	require.NoError(t, kv.Set(ctx, store.KeyWatchHistory, []byte("[{broken")))

	tr := New(kv)
	tr.now = func() time.Time { return base }
	assert.Equal(t, 0, tr.Load(ctx))
	assert.Empty(t, tr.Entries())

	backup, err := kv.Get(ctx, store.KeyWatchHistory+".corrupted.20260301-200000")
	require.NoError(t, err)
	assert.Equal(t, "[{broken", string(backup))

	_, err = kv.Get(ctx, store.KeyWatchHistory)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
