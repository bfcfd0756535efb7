package validator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"iptv-curator/work/client"
	"iptv-curator/work/config"
	"iptv-curator/work/logger"
	"iptv-curator/work/metrics"
	"iptv-curator/work/store"
	"iptv-curator/work/types"
	"iptv-curator/work/utils"

	"github.com/panjf2000/ants/v2"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

// Score adjustments applied per probe.
const (
	DefaultReliability = 50
	successReward      = 10
	fastReward         = 5
	failurePenalty     = 15
	fastLatency        = 2 * time.Second
)

// HistorySource supplies the channels the background cycle revalidates.
type HistorySource interface {
	TopWatched(n int) []types.Channel
}

// Validator probes channel addresses and keeps a per-channel reachability
// status with a 0-100 reliability score. Entries are never removed on
// failure; only Reset clears them.
type Validator struct {
	cfg     config.ValidatorConfig
	http    *client.HeaderSettingClient
	kv      store.KV
	history HistorySource
	pool    *ants.Pool

	statuses *xsync.MapOf[string, types.ChannelStatus]

	cycleRunning atomic.Bool // reentrancy guard of RevalidateTop
	started      atomic.Bool
	stopChan     chan struct{}
	cycles       sync.WaitGroup

	now func() time.Time
}

// Stats counts cached entries per reported status.
type Stats struct {
	Total    int `json:"total"`
	Online   int `json:"online"`
	Offline  int `json:"offline"`
	Checking int `json:"checking"`
	Unknown  int `json:"unknown"`
}

// New creates a validator. kv and history may be nil: without a store the
// cache lives in memory only, without history the background cycle has
// nothing to revalidate.
//
// Parameters:
//   - cfg: probe timeout, batch shape, freshness and refresh settings
//   - httpClient: client used for HEAD probes, its own timeout is not relied on
//   - kv: durable store for the status cache
//   - history: source of the most watched channels
//
// Returns:
//   - *Validator: ready validator, call Close to release its worker pool
func New(cfg config.ValidatorConfig, httpClient *client.HeaderSettingClient, kv store.KV, history HistorySource) *Validator {
	cfg.SetDefaults()
	pool, err := ants.NewPool(cfg.BatchSize)
	if err != nil {
		logger.Warn("{validator - New} worker pool unavailable, probing on plain goroutines: %v", err)
		pool = nil
	}
	return &Validator{
		cfg:      cfg,
		http:     httpClient,
		kv:       kv,
		history:  history,
		pool:     pool,
		statuses: xsync.NewMapOf[string, types.ChannelStatus](),
		now:      time.Now,
	}
}

// Close stops the background cycle and releases the worker pool.
func (v *Validator) Close() {
	v.Stop()
	if v.pool != nil {
		v.pool.Release()
	}
}

// Validate probes address with a HEAD request bounded by the probe timeout
// and folds the outcome into the channel's status. Failures of any kind,
// timeouts included, are reported in the result and never returned as errors.
// When ctx ends before the probe completes the status is left as it was.
func (v *Validator) Validate(ctx context.Context, id, address string) types.ValidationResult {
	metrics.ProbesInFlight.Inc()
	defer metrics.ProbesInFlight.Dec()

	prev, known := v.markChecking(id, address)

	if reason := probeableAddress(address); reason != "" {
		v.record(id, address, false, 0, reason)
		return types.ValidationResult{ChannelID: id, IsWorking: false, ErrorMessage: reason}
	}

	start := v.now()
	errMsg := v.probe(ctx, address)
	elapsed := v.now().Sub(start)

	// cancellation by the caller is not scored
	if errMsg != "" && ctx.Err() != nil {
		v.restore(id, prev, known)
		logger.Debug("{validator - Validate} probe of %s cancelled: %v", utils.ObfuscateURL(address), ctx.Err())
		metrics.ProbesTotal.WithLabelValues("cancelled").Inc()
		return types.ValidationResult{ChannelID: id, IsWorking: false, ErrorMessage: "cancelled: " + ctx.Err().Error()}
	}

	if errMsg != "" {
		logger.Debug("{validator - Validate} %s offline: %s", utils.ObfuscateURL(address), errMsg)
		v.record(id, address, false, elapsed, errMsg)
		return types.ValidationResult{ChannelID: id, IsWorking: false, ResponseTimeMs: elapsed.Milliseconds(), ErrorMessage: errMsg}
	}

	v.record(id, address, true, elapsed, "")
	return types.ValidationResult{ChannelID: id, IsWorking: true, ResponseTimeMs: elapsed.Milliseconds()}
}

// probe returns an empty string on success or the failure text.
func (v *Validator) probe(ctx context.Context, address string) string {
	ctx, cancel := context.WithTimeout(ctx, v.cfg.ProbeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, address, nil)
	if err != nil {
		return fmt.Sprintf("invalid request: %v", err)
	}
	resp, err := v.http.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Sprintf("timeout after %s", v.cfg.ProbeTimeout)
		}
		return err.Error()
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	// 405 and 501 mean the host is alive but refuses HEAD
	if resp.StatusCode < 400 || resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented {
		return ""
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// probeableAddress rejects anything that is not an absolute http(s) URL.
func probeableAddress(address string) string {
	u, err := url.Parse(address)
	if err != nil {
		return "invalid address"
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return "invalid address: only http and https can be probed"
	}
	return ""
}

// markChecking flags the entry as in flight and returns what it held before.
func (v *Validator) markChecking(id, address string) (types.ChannelStatus, bool) {
	var prev types.ChannelStatus
	var known bool
	v.statuses.Compute(id, func(old types.ChannelStatus, loaded bool) (types.ChannelStatus, bool) {
		prev, known = old, loaded
		if !loaded {
			return types.ChannelStatus{ChannelID: id, URL: address, Status: types.StatusChecking, Reliability: DefaultReliability}, false
		}
		old.URL = address
		old.Status = types.StatusChecking
		return old, false
	})
	metrics.CachedStatuses.Set(float64(v.statuses.Size()))
	return prev, known
}

// restore undoes markChecking unless another probe has recorded a result
// in the meantime.
func (v *Validator) restore(id string, prev types.ChannelStatus, known bool) {
	v.statuses.Compute(id, func(cur types.ChannelStatus, loaded bool) (types.ChannelStatus, bool) {
		if !loaded || cur.Status != types.StatusChecking {
			return cur, !loaded
		}
		if !known {
			return cur, true
		}
		return prev, false
	})
	metrics.CachedStatuses.Set(float64(v.statuses.Size()))
}

// record applies the score rule against whatever is stored at completion
// time, so the last probe to finish wins for a given id.
func (v *Validator) record(id, address string, ok bool, latency time.Duration, errMsg string) {
	now := v.now()
	v.statuses.Compute(id, func(old types.ChannelStatus, loaded bool) (types.ChannelStatus, bool) {
		score := DefaultReliability
		if loaded {
			score = old.Reliability
		}

		next := types.ChannelStatus{ChannelID: id, URL: address, LastChecked: now}
		if ok {
			ms := latency.Milliseconds()
			next.Status = types.StatusOnline
			next.LatencyMs = &ms
			score += successReward
			if latency < fastLatency {
				score += fastReward
			}
		} else {
			next.Status = types.StatusOffline
			next.Error = errMsg
			score -= failurePenalty
		}
		next.Reliability = clamp(score)
		return next, false
	})

	if ok {
		metrics.ProbesTotal.WithLabelValues("online").Inc()
		metrics.ProbeLatency.Observe(latency.Seconds())
	} else {
		metrics.ProbesTotal.WithLabelValues("offline").Inc()
	}
}

func clamp(score int) int {
	return max(0, min(100, score))
}

// ValidateMany probes channels in batches of BatchSize, waiting for every
// probe of a batch before pausing BatchDelay and starting the next. A failed
// probe never cancels its siblings. Results follow input order; when ctx is
// cancelled between batches the results gathered so far are returned.
func (v *Validator) ValidateMany(ctx context.Context, channels []types.Channel) []types.ValidationResult {
	results := make([]types.ValidationResult, 0, len(channels))

	for i, batch := range lo.Chunk(channels, v.cfg.BatchSize) {
		if i > 0 {
			select {
			case <-ctx.Done():
				logger.Debug("{validator - ValidateMany} cancelled after %d of %d probes", len(results), len(channels))
				return results
			case <-time.After(v.cfg.BatchDelay):
			}
		}

		out := make([]types.ValidationResult, len(batch))
		var wg sync.WaitGroup
		for j, ch := range batch {
			wg.Add(1)
			task := func() {
				defer wg.Done()
				out[j] = v.Validate(ctx, ch.ID, ch.URL)
			}
			if v.pool == nil || v.pool.Submit(task) != nil {
				go task()
			}
		}
		wg.Wait()
		results = append(results, out...)
	}

	return results
}

// GetStatus returns a copy of the cached status. Entries older than the
// freshness window read as unknown while their stored score is kept.
func (v *Validator) GetStatus(id string) (types.ChannelStatus, bool) {
	st, ok := v.statuses.Load(id)
	if !ok {
		return types.ChannelStatus{}, false
	}
	return v.view(st), true
}

func (v *Validator) view(st types.ChannelStatus) types.ChannelStatus {
	if st.Status != types.StatusChecking && v.now().Sub(st.LastChecked) > v.cfg.FreshnessWindow {
		st.Status = types.StatusUnknown
	}
	return st
}

// GetReliable returns the entries scoring at least minScore, highest first,
// ties broken by channel id.
func (v *Validator) GetReliable(minScore int) []types.ChannelStatus {
	out := []types.ChannelStatus{}
	v.statuses.Range(func(_ string, st types.ChannelStatus) bool {
		if st.Reliability >= minScore {
			out = append(out, v.view(st))
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Reliability != out[j].Reliability {
			return out[i].Reliability > out[j].Reliability
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out
}

// Stats counts entries by the status a reader would see.
func (v *Validator) Stats() Stats {
	var s Stats
	v.statuses.Range(func(_ string, st types.ChannelStatus) bool {
		s.Total++
		switch v.view(st).Status {
		case types.StatusOnline:
			s.Online++
		case types.StatusOffline:
			s.Offline++
		case types.StatusChecking:
			s.Checking++
		default:
			s.Unknown++
		}
		return true
	})
	return s
}

// Start launches the recurring revalidation task. Calling it twice is a no-op.
func (v *Validator) Start(ctx context.Context) {
	if !v.started.CompareAndSwap(false, true) {
		return
	}
	v.stopChan = make(chan struct{})
	ctx, cancel := context.WithCancel(ctx)

	v.cycles.Add(1)
	go func() {
		defer v.cycles.Done()
		defer cancel()

		ticker := time.NewTicker(v.cfg.RefreshInterval)
		defer ticker.Stop()

		logger.Info("{validator - Start} Revalidating top %d watched channels every %s", v.cfg.TopWatched, v.cfg.RefreshInterval)
		for {
			select {
			case <-v.stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				v.cycles.Add(1)
				go func() {
					defer v.cycles.Done()
					v.RevalidateTop(ctx)
				}()
			}
		}
	}()
}

// Stop cancels the recurring task and waits for a running cycle to return.
func (v *Validator) Stop() {
	if !v.started.CompareAndSwap(true, false) {
		return
	}
	close(v.stopChan)
	v.cycles.Wait()
}

// RevalidateTop probes the most watched channels and persists the cache.
// It returns false without doing anything when a cycle is already running.
func (v *Validator) RevalidateTop(ctx context.Context) bool {
	if !v.cycleRunning.CompareAndSwap(false, true) {
		metrics.RevalidationCycles.WithLabelValues("skipped").Inc()
		logger.Debug("{validator - RevalidateTop} previous cycle still running, skipping")
		return false
	}
	defer v.cycleRunning.Store(false)

	var top []types.Channel
	if v.history != nil {
		top = v.history.TopWatched(v.cfg.TopWatched)
	}
	if len(top) > 0 {
		results := v.ValidateMany(ctx, top)
		working := lo.CountBy(results, func(r types.ValidationResult) bool { return r.IsWorking })
		logger.Info("{validator - RevalidateTop} %d of %d watched channels online", working, len(results))
	}

	if err := v.Save(ctx); err != nil {
		logger.Warn("{validator - RevalidateTop} failed to persist status cache: %v", err)
	}
	metrics.RevalidationCycles.WithLabelValues("run").Inc()
	return true
}
