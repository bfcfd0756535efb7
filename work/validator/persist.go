package validator

import (
	"context"
	"sort"

	"iptv-curator/work/logger"
	"iptv-curator/work/metrics"
	"iptv-curator/work/store"
	"iptv-curator/work/types"
)

// Save overwrites the stored status cache with the current entries.
func (v *Validator) Save(ctx context.Context) error {
	entries := make([]types.ChannelStatus, 0, v.statuses.Size())
	v.statuses.Range(func(_ string, st types.ChannelStatus) bool {
		entries = append(entries, st)
		return true
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].ChannelID < entries[j].ChannelID })
	return store.SaveJSON(ctx, v.kv, store.KeyValidationCache, entries)
}

// Load rehydrates the cache from the store and returns how many entries were
// restored. Missing or corrupt data leaves the cache untouched.
func (v *Validator) Load(ctx context.Context) int {
	var entries []types.ChannelStatus
	found, err := store.LoadJSON(ctx, v.kv, store.KeyValidationCache, &entries)
	if err != nil {
		logger.Warn("{validator/persist - Load} ignoring stored status cache: %v", err)
		return 0
	}
	if !found {
		return 0
	}

	restored := 0
	for _, st := range entries {
		if st.ChannelID == "" {
			continue
		}
		st.Reliability = clamp(st.Reliability)
		// a probe cannot survive a restart
		if st.Status == types.StatusChecking || st.Status == "" {
			st.Status = types.StatusUnknown
		}
		v.statuses.Store(st.ChannelID, st)
		restored++
	}
	metrics.CachedStatuses.Set(float64(v.statuses.Size()))
	logger.Info("{validator/persist - Load} Restored %d channel statuses", restored)
	return restored
}

// Reset drops every cached status and the stored copy.
func (v *Validator) Reset(ctx context.Context) error {
	v.statuses.Clear()
	metrics.CachedStatuses.Set(0)
	if v.kv == nil {
		return nil
	}
	if err := v.kv.Delete(ctx, store.KeyValidationCache); err != nil {
		return err
	}
	return nil
}
