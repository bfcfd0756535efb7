package recommend

import (
	"context"
	"sort"
	"strings"
	"sync"

	"iptv-curator/work/config"
	"iptv-curator/work/metrics"
	"iptv-curator/work/store"
	"iptv-curator/work/types"
	"iptv-curator/work/utils"

	"github.com/samber/lo"
)

// Reason tags attached to scores.
const (
	ReasonReliable          = "reliable"
	ReasonOnline            = "online"
	ReasonFast              = "fast"
	ReasonWatched           = "watched"
	ReasonCategoryAffinity  = "category-affinity"
	ReasonPreferredCategory = "preferred-category"
	ReasonRecentlyWatched   = "recently-watched"
	ReasonLanguage          = "language"
	ReasonCountry           = "country"
	ReasonPopular           = "popular"
	ReasonSimilarName       = "similar-name"
	ReasonSameCategory      = "same-category"
)

// reliableThreshold is the score from which the "reliable" tag is attached.
const reliableThreshold = 75

// defaultAlternatives is used when GetAlternatives gets no positive limit.
const defaultAlternatives = 5

// StatusReader is the read-only view of the validator the engine needs.
type StatusReader interface {
	GetStatus(id string) (types.ChannelStatus, bool)
}

// Options shape a recommendation request.
type Options struct {
	MaxResults          int      // 0 means no limit
	MinReliability      int      // channels scoring below are dropped
	ExcludeOffline      bool     // drop channels currently reported offline
	PreferredCategories []string // categories earning the preferred bonus
	IncludePopularity   bool     // add the hashed popularity tiebreaker
}

// Preferences are the stored language and country preferences.
type Preferences struct {
	Language string `json:"language,omitempty"`
	Country  string `json:"country,omitempty"`
}

// state is everything the engine persists.
type state struct {
	WatchCounts      map[string]int `json:"watchCounts"`
	CategoryAffinity map[string]int `json:"categoryAffinity"`
	RecentlyWatched  []string       `json:"recentlyWatched"` // most recent first
	Preferences      Preferences    `json:"preferences"`
}

func emptyState() state {
	return state{
		WatchCounts:      map[string]int{},
		CategoryAffinity: map[string]int{},
		RecentlyWatched:  []string{},
	}
}

// Engine ranks channels from reliability and watch signals. UpdateHistory
// and SetPreferences are the only mutating operations; ranking reads the
// current state and never changes it.
type Engine struct {
	cfg    config.RecommendConfig
	status StatusReader
	kv     store.KV

	mu     sync.RWMutex
	st     state
	saveMu sync.Mutex
}

// New creates an engine with empty state. status and kv may be nil.
func New(cfg config.RecommendConfig, status StatusReader, kv store.KV) *Engine {
	return &Engine{cfg: cfg, status: status, kv: kv, st: emptyState()}
}

// signals are the validator-derived inputs of one channel.
type signals struct {
	reliability int
	online      bool
	offline     bool
	fast        bool
}

func (e *Engine) signalsFor(id string) signals {
	s := signals{reliability: e.cfg.DefaultReliability}
	if e.status == nil {
		return s
	}
	st, ok := e.status.GetStatus(id)
	if !ok {
		return s
	}
	s.reliability = st.Reliability
	s.online = st.Status == types.StatusOnline
	s.offline = st.Status == types.StatusOffline
	s.fast = st.LatencyMs != nil && *st.LatencyMs < e.cfg.FastThreshold.Milliseconds()
	return s
}

// GetRecommendations filters, scores and orders channels, highest score
// first with ties broken by channel id.
func (e *Engine) GetRecommendations(channels []types.Channel, opts Options) []types.Channel {
	scored := e.rank(channels, opts)
	out := make([]types.Channel, len(scored))
	for i, s := range scored {
		out[i] = s.channel
	}
	metrics.Recommendations.WithLabelValues("recommend").Inc()
	return out
}

// Explain returns the scores and reasons behind GetRecommendations, in the
// same order.
func (e *Engine) Explain(channels []types.Channel, opts Options) []types.RecommendationScore {
	scored := e.rank(channels, opts)
	out := make([]types.RecommendationScore, len(scored))
	for i, s := range scored {
		out[i] = s.score
	}
	return out
}

type scoredChannel struct {
	channel types.Channel
	score   types.RecommendationScore
}

func (e *Engine) rank(channels []types.Channel, opts Options) []scoredChannel {
	e.mu.RLock()
	defer e.mu.RUnlock()

	preferred := make(map[string]bool, len(opts.PreferredCategories))
	for _, c := range opts.PreferredCategories {
		preferred[strings.ToLower(c)] = true
	}
	recentRank := make(map[string]int, len(e.st.RecentlyWatched))
	for i, id := range e.st.RecentlyWatched {
		recentRank[id] = i + 1
	}

	scored := make([]scoredChannel, 0, len(channels))
	for _, ch := range channels {
		sig := e.signalsFor(ch.ID)
		if sig.reliability < opts.MinReliability {
			continue
		}
		if opts.ExcludeOffline && sig.offline {
			continue
		}
		scored = append(scored, scoredChannel{
			channel: ch,
			score:   e.score(ch, sig, preferred, recentRank[ch.ID], opts.IncludePopularity),
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score.Score != scored[j].score.Score {
			return scored[i].score.Score > scored[j].score.Score
		}
		return scored[i].channel.ID < scored[j].channel.ID
	})

	if opts.MaxResults > 0 && len(scored) > opts.MaxResults {
		scored = scored[:opts.MaxResults]
	}
	return scored
}

// score sums independently capped terms. Caller holds e.mu.
func (e *Engine) score(ch types.Channel, sig signals, preferred map[string]bool, recentRank int, popularity bool) types.RecommendationScore {
	c := e.cfg
	total := float64(sig.reliability) * c.ReliabilityWeight
	reasons := []string{}
	if sig.reliability >= reliableThreshold {
		reasons = append(reasons, ReasonReliable)
	}

	add := func(points float64, reason string) {
		if points > 0 {
			total += points
			reasons = append(reasons, reason)
		}
	}

	if sig.online {
		add(c.OnlineBonus, ReasonOnline)
	}
	if sig.fast {
		add(c.FastBonus, ReasonFast)
	}
	add(min(float64(e.st.WatchCounts[ch.ID])*c.WatchCountWeight, c.WatchCountCap), ReasonWatched)
	add(min(float64(e.st.CategoryAffinity[categoryOf(ch)])*c.AffinityWeight, c.AffinityCap), ReasonCategoryAffinity)
	if preferred[strings.ToLower(categoryOf(ch))] {
		add(c.PreferredCategoryBonus, ReasonPreferredCategory)
	}
	if recentRank >= c.RecentFrom && recentRank <= c.RecentTo {
		add(c.RecentBonus, ReasonRecentlyWatched)
	}
	if p := e.st.Preferences.Language; p != "" && strings.EqualFold(ch.Language, p) {
		add(c.LanguageBonus, ReasonLanguage)
	}
	if p := e.st.Preferences.Country; p != "" && strings.EqualFold(ch.Country, p) {
		add(c.CountryBonus, ReasonCountry)
	}
	if popularity {
		add(float64(utils.PopularityHint(ch.ID))*c.PopularityWeight, ReasonPopular)
	}

	return types.RecommendationScore{ChannelID: ch.ID, Score: total, Reasons: reasons}
}

func categoryOf(ch types.Channel) string {
	if ch.Category == "" {
		return types.DefaultCategory
	}
	return ch.Category
}

// GetAlternatives suggests substitutes for a channel that failed to play.
// Candidates share its category or have a name similarity above the
// configured threshold; the failed channel itself is never returned.
func (e *Engine) GetAlternatives(failed types.Channel, all []types.Channel, limit int) []types.Channel {
	metrics.Recommendations.WithLabelValues("alternatives").Inc()
	return lo.Map(e.alternatives(failed, all, limit), func(s scoredChannel, _ int) types.Channel {
		return s.channel
	})
}

// ExplainAlternatives is GetAlternatives with scores and reasons attached.
func (e *Engine) ExplainAlternatives(failed types.Channel, all []types.Channel, limit int) []types.RecommendationScore {
	return lo.Map(e.alternatives(failed, all, limit), func(s scoredChannel, _ int) types.RecommendationScore {
		return s.score
	})
}

func (e *Engine) alternatives(failed types.Channel, all []types.Channel, limit int) []scoredChannel {
	if limit <= 0 {
		limit = defaultAlternatives
	}
	c := e.cfg
	failedCategory := categoryOf(failed)

	var scored []scoredChannel
	for _, ch := range all {
		if ch.ID == failed.ID {
			continue
		}
		similarity := NameSimilarity(failed.Name, ch.Name)
		sameCategory := categoryOf(ch) == failedCategory
		if !sameCategory && similarity <= c.AltSimilarityThreshold {
			continue
		}

		sig := e.signalsFor(ch.ID)
		total := float64(sig.reliability)*c.AltReliabilityWeight + similarity*c.AltSimilarityWeight
		var reasons []string
		if sameCategory {
			reasons = append(reasons, ReasonSameCategory)
		}
		if similarity > c.AltSimilarityThreshold {
			reasons = append(reasons, ReasonSimilarName)
		}
		if sig.online {
			total += c.AltOnlineBonus
			reasons = append(reasons, ReasonOnline)
		}
		scored = append(scored, scoredChannel{
			channel: ch,
			score:   types.RecommendationScore{ChannelID: ch.ID, Score: total, Reasons: reasons},
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].score.Score != scored[j].score.Score {
			return scored[i].score.Score > scored[j].score.Score
		}
		return scored[i].channel.ID < scored[j].channel.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

// UpdateHistory counts a watch of channel id in category and moves it to the
// front of the recently watched list. A failed write is logged; the
// in-memory state is updated regardless.
func (e *Engine) UpdateHistory(ctx context.Context, id, category string) {
	if id == "" {
		return
	}
	if category == "" {
		category = types.DefaultCategory
	}

	e.mu.Lock()
	e.st.WatchCounts[id]++
	e.st.CategoryAffinity[category]++
	recent := make([]string, 0, e.cfg.RecentLimit)
	recent = append(recent, id)
	for _, prev := range e.st.RecentlyWatched {
		if prev != id && len(recent) < e.cfg.RecentLimit {
			recent = append(recent, prev)
		}
	}
	e.st.RecentlyWatched = recent
	e.mu.Unlock()

	e.persist(ctx)
}

// SetPreferences stores the language and country preferences. Empty values
// clear a preference.
func (e *Engine) SetPreferences(ctx context.Context, prefs Preferences) {
	e.mu.Lock()
	e.st.Preferences = Preferences{
		Language: strings.TrimSpace(prefs.Language),
		Country:  strings.TrimSpace(prefs.Country),
	}
	e.mu.Unlock()

	e.persist(ctx)
}

// Preferences returns the stored preferences.
func (e *Engine) Preferences() Preferences {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.Preferences
}

// WatchCount returns how often id was watched.
func (e *Engine) WatchCount(id string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.st.WatchCounts[id]
}

// RecentlyWatched returns the recently watched ids, most recent first.
func (e *Engine) RecentlyWatched() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.st.RecentlyWatched...)
}
