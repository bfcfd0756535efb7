package recommend

import (
	"context"

	"iptv-curator/work/logger"
	"iptv-curator/work/store"
)

// snapshotLocked deep-copies the state. Caller holds e.mu.
func (e *Engine) snapshotLocked() state {
	snap := state{
		WatchCounts:      make(map[string]int, len(e.st.WatchCounts)),
		CategoryAffinity: make(map[string]int, len(e.st.CategoryAffinity)),
		RecentlyWatched:  append([]string{}, e.st.RecentlyWatched...),
		Preferences:      e.st.Preferences,
	}
	for k, v := range e.st.WatchCounts {
		snap.WatchCounts[k] = v
	}
	for k, v := range e.st.CategoryAffinity {
		snap.CategoryAffinity[k] = v
	}
	return snap
}

// persist writes the current state. The snapshot is taken under saveMu so
// the last write to reach the store carries the newest state.
func (e *Engine) persist(ctx context.Context) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.RLock()
	snap := e.snapshotLocked()
	e.mu.RUnlock()

	if err := store.SaveJSON(ctx, e.kv, store.KeyRecommendationState, snap); err != nil {
		logger.Warn("{recommend/persist - persist} failed to save recommendation state: %v", err)
	}
}

// Load restores the stored state. Missing or corrupt data leaves the engine
// with empty state; it reports whether anything was restored.
func (e *Engine) Load(ctx context.Context) bool {
	var st state
	found, err := store.LoadJSON(ctx, e.kv, store.KeyRecommendationState, &st)
	if err != nil {
		logger.Warn("{recommend/persist - Load} ignoring stored recommendation state: %v", err)
		return false
	}
	if !found {
		return false
	}

	if st.WatchCounts == nil {
		st.WatchCounts = map[string]int{}
	}
	if st.CategoryAffinity == nil {
		st.CategoryAffinity = map[string]int{}
	}
	if st.RecentlyWatched == nil {
		st.RecentlyWatched = []string{}
	}
	if len(st.RecentlyWatched) > e.cfg.RecentLimit {
		st.RecentlyWatched = st.RecentlyWatched[:e.cfg.RecentLimit]
	}

	e.mu.Lock()
	e.st = st
	e.mu.Unlock()

	logger.Info("{recommend/persist - Load} Restored watch counts for %d channels", len(st.WatchCounts))
	return true
}

// Reset clears all history, affinity and preferences, in memory and in the
// store.
func (e *Engine) Reset(ctx context.Context) error {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	e.mu.Lock()
	e.st = emptyState()
	e.mu.Unlock()

	if e.kv == nil {
		return nil
	}
	return e.kv.Delete(ctx, store.KeyRecommendationState)
}
