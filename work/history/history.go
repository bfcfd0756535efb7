package history

import (
	"context"
	"sort"
	"sync"
	"time"

	"iptv-curator/work/logger"
	"iptv-curator/work/store"
	"iptv-curator/work/types"
)

// MaxEntries bounds the stored history; the oldest entries go first.
const MaxEntries = 1000

// Tracker records what was watched and answers "most watched" queries.
type Tracker struct {
	mu      sync.RWMutex
	entries []types.WatchHistoryEntry // oldest first
	saveMu  sync.Mutex                // orders writes to kv
	kv      store.KV
	now     func() time.Time
}

// New creates an empty tracker persisting through kv, which may be nil.
func New(kv store.KV) *Tracker {
	return &Tracker{kv: kv, now: time.Now}
}

// Load restores the stored history. A corrupt value is copied aside under a
// timestamped key and replaced with an empty history.
func (t *Tracker) Load(ctx context.Context) int {
	var entries []types.WatchHistoryEntry
	found, err := store.LoadJSON(ctx, t.kv, store.KeyWatchHistory, &entries)
	if err != nil {
		logger.Warn("{history - Load} stored watch history unreadable, starting empty: %v", err)
		t.backupCorrupt(ctx)
		return 0
	}
	if !found {
		return 0
	}

	entries = validEntries(entries)
	if len(entries) > MaxEntries {
		entries = entries[len(entries)-MaxEntries:]
	}

	t.mu.Lock()
	t.entries = entries
	t.mu.Unlock()

	logger.Info("{history - Load} Restored %d watch history entries", len(entries))
	return len(entries)
}

func (t *Tracker) backupCorrupt(ctx context.Context) {
	raw, err := t.kv.Get(ctx, store.KeyWatchHistory)
	if err != nil {
		return
	}
	backupKey := store.KeyWatchHistory + ".corrupted." + t.now().Format("20060102-150405")
	if err := t.kv.Set(ctx, backupKey, raw); err != nil {
		logger.Warn("{history - backupCorrupt} could not back up corrupt history: %v", err)
	}
	if err := t.kv.Delete(ctx, store.KeyWatchHistory); err != nil {
		logger.Warn("{history - backupCorrupt} could not clear corrupt history: %v", err)
	}
}

func validEntries(entries []types.WatchHistoryEntry) []types.WatchHistoryEntry {
	out := entries[:0]
	for _, e := range entries {
		if e.Channel.ID == "" {
			continue
		}
		if e.Category == "" {
			e.Category = types.DefaultCategory
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].WatchedAt.Before(out[j].WatchedAt) })
	return out
}

// Record appends a watch event and persists the history. A zero watchedAt
// means now.
func (t *Tracker) Record(ctx context.Context, ch types.Channel, watchedAt time.Time, duration time.Duration) error {
	if watchedAt.IsZero() {
		watchedAt = t.now()
	}
	category := ch.Category
	if category == "" {
		category = types.DefaultCategory
	}

	t.mu.Lock()
	t.entries = append(t.entries, types.WatchHistoryEntry{
		Channel:   ch,
		Category:  category,
		WatchedAt: watchedAt,
		Duration:  duration,
	})
	if len(t.entries) > MaxEntries {
		t.entries = append([]types.WatchHistoryEntry(nil), t.entries[len(t.entries)-MaxEntries:]...)
	}
	t.mu.Unlock()

	return t.save(ctx)
}

// save writes the history as it stands once saveMu is held, so a slow
// writer can never land an older list over a newer one.
func (t *Tracker) save(ctx context.Context) error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.RLock()
	snapshot := append([]types.WatchHistoryEntry(nil), t.entries...)
	t.mu.RUnlock()

	return store.SaveJSON(ctx, t.kv, store.KeyWatchHistory, snapshot)
}

// Entries returns the history newest first.
func (t *Tracker) Entries() []types.WatchHistoryEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]types.WatchHistoryEntry, len(t.entries))
	for i, e := range t.entries {
		out[len(out)-1-i] = e
	}
	return out
}

// TopWatched returns up to n distinct channels ordered by watch count, then
// by most recent watch, then by id. The newest record of each channel wins.
func (t *Tracker) TopWatched(n int) []types.Channel {
	type tally struct {
		channel types.Channel
		count   int
		last    time.Time
	}

	t.mu.RLock()
	byID := make(map[string]*tally)
	for _, e := range t.entries {
		tl, ok := byID[e.Channel.ID]
		if !ok {
			tl = &tally{}
			byID[e.Channel.ID] = tl
		}
		tl.count++
		if !e.WatchedAt.Before(tl.last) {
			tl.last = e.WatchedAt
			tl.channel = e.Channel
		}
	}
	t.mu.RUnlock()

	tallies := make([]*tally, 0, len(byID))
	for _, tl := range byID {
		tallies = append(tallies, tl)
	}
	sort.Slice(tallies, func(i, j int) bool {
		a, b := tallies[i], tallies[j]
		if a.count != b.count {
			return a.count > b.count
		}
		if !a.last.Equal(b.last) {
			return a.last.After(b.last)
		}
		return a.channel.ID < b.channel.ID
	})

	if n >= 0 && len(tallies) > n {
		tallies = tallies[:n]
	}
	out := make([]types.Channel, len(tallies))
	for i, tl := range tallies {
		out[i] = tl.channel
	}
	return out
}

// Clear drops the in-memory and stored history.
func (t *Tracker) Clear(ctx context.Context) error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	t.entries = nil
	t.mu.Unlock()
	if t.kv == nil {
		return nil
	}
	return t.kv.Delete(ctx, store.KeyWatchHistory)
}
