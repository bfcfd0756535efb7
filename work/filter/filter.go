package filter

import (
	"strings"
	"sync"

	"iptv-curator/work/config"
	"iptv-curator/work/logger"
	"iptv-curator/work/types"

	"github.com/grafana/regexp"
)

// ContentType classifies a catalog entry for filtering.
type ContentType string

const (
	Live   ContentType = "live"
	Series ContentType = "series"
	VOD    ContentType = "vod"
)

// Content type detection, matched against name and address
var (
	seriesRegex = regexp.MustCompile(`(?i)24\/7|247|\/series\/|\/shows\/|\/show\/`)
	vodRegex    = regexp.MustCompile(`(?i)\/vods\/|\/vod\/|\/movies\/|\/movie\/`)
)

// CompiledFilter holds compiled regex patterns for a source. A nil pattern
// means no filtering for that slot.
type CompiledFilter struct {
	LiveInclude   *regexp.Regexp
	LiveExclude   *regexp.Regexp
	SeriesInclude *regexp.Regexp
	SeriesExclude *regexp.Regexp
	VODInclude    *regexp.Regexp
	VODExclude    *regexp.Regexp
}

// FilterManager caches compiled filters per source name
type FilterManager struct {
	filters map[string]*CompiledFilter
	mu      sync.RWMutex
}

// NewFilterManager creates a new filter manager
func NewFilterManager() *FilterManager {
	return &FilterManager{
		filters: make(map[string]*CompiledFilter),
	}
}

// GetOrCreateFilter returns the compiled filter of a source. Invalid
// patterns are logged and treated as absent.
func (fm *FilterManager) GetOrCreateFilter(source *config.SourceConfig) *CompiledFilter {
	fm.mu.RLock()
	f, ok := fm.filters[source.Name]
	fm.mu.RUnlock()
	if ok {
		return f
	}

	f = &CompiledFilter{
		LiveInclude:   compile(source.Name, "liveIncludeRegex", source.LiveIncludeRegex),
		LiveExclude:   compile(source.Name, "liveExcludeRegex", source.LiveExcludeRegex),
		SeriesInclude: compile(source.Name, "seriesIncludeRegex", source.SeriesIncludeRegex),
		SeriesExclude: compile(source.Name, "seriesExcludeRegex", source.SeriesExcludeRegex),
		VODInclude:    compile(source.Name, "vodIncludeRegex", source.VODIncludeRegex),
		VODExclude:    compile(source.Name, "vodExcludeRegex", source.VODExcludeRegex),
	}

	fm.mu.Lock()
	fm.filters[source.Name] = f
	fm.mu.Unlock()
	return f
}

func compile(source, name, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Error("{filter - compile} source %s: invalid %s %q: %v", source, name, pattern, err)
		return nil
	}
	return re
}

// RemoveFilter drops the compiled filter of one source
func (fm *FilterManager) RemoveFilter(sourceName string) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	delete(fm.filters, sourceName)
}

// FilterChannels applies the source's include and exclude patterns to the
// lowercase channel names. Include patterns are checked first; a channel
// must match the include pattern of its content type when one is set.
func FilterChannels(channels []types.Channel, source *config.SourceConfig, fm *FilterManager) []types.Channel {
	if source.LiveIncludeRegex == "" && source.LiveExcludeRegex == "" &&
		source.SeriesIncludeRegex == "" && source.SeriesExcludeRegex == "" &&
		source.VODIncludeRegex == "" && source.VODExcludeRegex == "" {
		return channels
	}

	f := fm.GetOrCreateFilter(source)
	filtered := make([]types.Channel, 0, len(channels))
	for _, ch := range channels {
		if f.Allows(ch) {
			filtered = append(filtered, ch)
		}
	}
	logger.Debug("{filter - FilterChannels} %s: %d -> %d channels", source.Name, len(channels), len(filtered))
	return filtered
}

// Allows reports whether ch passes the filter.
func (f *CompiledFilter) Allows(ch types.Channel) bool {
	name := strings.TrimSpace(strings.ToLower(ch.Name))

	var include, exclude *regexp.Regexp
	switch Classify(ch) {
	case Series:
		include, exclude = f.SeriesInclude, f.SeriesExclude
	case VOD:
		include, exclude = f.VODInclude, f.VODExclude
	default:
		include, exclude = f.LiveInclude, f.LiveExclude
	}

	if include != nil && !include.MatchString(name) {
		return false
	}
	if exclude != nil && exclude.MatchString(name) {
		return false
	}
	return true
}

// Classify guesses the content type from name and address first, then
// from the category label. Anything unrecognized is live.
func Classify(ch types.Channel) ContentType {
	if seriesRegex.MatchString(ch.Name) || seriesRegex.MatchString(ch.URL) {
		return Series
	}
	if vodRegex.MatchString(ch.Name) || vodRegex.MatchString(ch.URL) {
		return VOD
	}

	group := strings.ToLower(ch.Category)
	switch {
	case strings.Contains(group, "series"):
		return Series
	case strings.Contains(group, "vod") || strings.Contains(group, "movie"):
		return VOD
	}
	return Live
}
