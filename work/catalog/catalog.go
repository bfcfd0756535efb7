package catalog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"iptv-curator/work/cache"
	"iptv-curator/work/client"
	"iptv-curator/work/config"
	"iptv-curator/work/filter"
	"iptv-curator/work/logger"
	"iptv-curator/work/metrics"
	"iptv-curator/work/parser"
	"iptv-curator/work/types"
	"iptv-curator/work/utils"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// importTimeout bounds one ImportSources pass.
const importTimeout = 2 * time.Minute

// Source is the last successful ingestion of one source.
type Source struct {
	Name      string          `json:"name"`
	RunID     string          `json:"runId"`
	Channels  []types.Channel `json:"-"`
	Count     int             `json:"channels"`
	Errors    []string        `json:"errors"`
	Warnings  []string        `json:"warnings"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Report describes one ingestion attempt, committed or not.
type Report struct {
	Source    string   `json:"source"`
	RunID     string   `json:"runId"`
	Channels  int      `json:"channels"`
	Committed bool     `json:"committed"`
	Errors    []string `json:"errors"`
	Warnings  []string `json:"warnings"`
}

// Catalog holds the channels of every ingested source. Re-ingesting a
// source replaces its channels wholesale; a failed attempt keeps the
// previous ones.
type Catalog struct {
	cfg     *config.Config
	http    *client.HeaderSettingClient
	cache   *cache.Cache
	filters *filter.FilterManager
	sources *xsync.MapOf[string, *Source]

	refreshing atomic.Bool
	stopChan   chan struct{}
	refreshWG  sync.WaitGroup
}

// New creates an empty catalog. httpClient serves ad-hoc URL ingestion;
// configured sources get their own client. c may be nil to disable caching.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, c *cache.Cache) *Catalog {
	return &Catalog{
		cfg:     cfg,
		http:    httpClient,
		cache:   c,
		filters: filter.NewFilterManager(),
		sources: xsync.NewMapOf[string, *Source](),
	}
}

// IngestPlaylist parses playlist content and replaces the source's channels.
// Structurally invalid content leaves the source untouched.
func (c *Catalog) IngestPlaylist(ctx context.Context, source, content string) Report {
	return c.ingestContent(uuid.NewString(), source, content, "", nil)
}

// IngestURL fetches a playlist and ingests it under source. The body is
// validated before parsing unless it is an HLS master playlist.
func (c *Catalog) IngestURL(ctx context.Context, source, address string) Report {
	return c.ingestURL(ctx, source, address, c.http, nil)
}

func (c *Catalog) ingestURL(ctx context.Context, source, address string, hc *client.HeaderSettingClient, src *config.SourceConfig) Report {
	runID := uuid.NewString()
	content, err := c.fetch(ctx, address, hc)
	if err != nil {
		return c.reject(source, runID, nil, fmt.Sprintf("failed to fetch playlist: %v", err))
	}

	if !parser.IsMasterPlaylist(content) {
		if check := parser.ValidateContent(content); !check.Valid {
			return c.reject(source, runID, nil, check.Reasons...)
		}
	}
	return c.ingestContent(runID, source, content, address, src)
}

func (c *Catalog) ingestContent(runID, source, content, baseURL string, src *config.SourceConfig) Report {
	result, err := parser.ParsePlaylistAt(content, source, baseURL)
	if err != nil {
		return c.reject(source, runID, result.Warnings, result.Errors...)
	}
	return c.commit(source, runID, result, src)
}

// IngestXtream pulls the live catalog of a provider account. A provider
// error with no channels keeps the previous ones.
func (c *Catalog) IngestXtream(ctx context.Context, source string, xc parser.XtreamConfig) Report {
	return c.ingestXtream(ctx, source, xc, c.http, nil)
}

func (c *Catalog) ingestXtream(ctx context.Context, source string, xc parser.XtreamConfig, hc *client.HeaderSettingClient, src *config.SourceConfig) Report {
	runID := uuid.NewString()
	if source == "" {
		source = xc.SourceKey()
	}
	result := parser.NewXtreamClient(xc, hc, c.cache, source).FetchChannels(ctx)
	if len(result.Errors) > 0 && len(result.Channels) == 0 {
		return c.reject(source, runID, result.Warnings, result.Errors...)
	}
	return c.commit(source, runID, result, src)
}

// fetch reads a playlist body, from cache when fresh.
func (c *Catalog) fetch(ctx context.Context, address string, hc *client.HeaderSettingClient) (string, error) {
	if c.cache != nil {
		if body, ok := c.cache.GetPlaylist(address); ok {
			logger.Debug("{catalog - fetch} cache hit for %s", utils.LogURL(c.cfg, address))
			return body, nil
		}
	}

	resp, err := hc.Get(ctx, address)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	// one byte over the limit is enough for the validator to reject it
	body, err := io.ReadAll(io.LimitReader(resp.Body, parser.MaxContentSize+1))
	if err != nil {
		return "", err
	}
	if c.cache != nil && len(body) <= parser.MaxContentSize {
		c.cache.SetPlaylist(address, string(body))
	}
	return string(body), nil
}

func (c *Catalog) reject(source, runID string, warnings []string, errs ...string) Report {
	metrics.IngestProblems.WithLabelValues(source, "error").Add(float64(len(errs)))
	metrics.IngestProblems.WithLabelValues(source, "warning").Add(float64(len(warnings)))
	logger.Warn("{catalog - reject} %s: ingestion failed, keeping previous channels: %v", source, errs)
	return Report{
		Source:   source,
		RunID:    runID,
		Errors:   append([]string{}, errs...),
		Warnings: append([]string{}, warnings...),
	}
}

func (c *Catalog) commit(source, runID string, result *types.ParseResult, src *config.SourceConfig) Report {
	channels := result.Channels
	if src != nil {
		channels = filter.FilterChannels(channels, src, c.filters)
	}

	stamped := make([]types.Channel, len(channels))
	for i, ch := range channels {
		ch.Source = source
		ch.RunID = runID
		stamped[i] = ch
	}

	c.sources.Store(source, &Source{
		Name:      source,
		RunID:     runID,
		Channels:  stamped,
		Count:     len(stamped),
		Errors:    result.Errors,
		Warnings:  result.Warnings,
		UpdatedAt: time.Now(),
	})

	metrics.IngestedChannels.WithLabelValues(source).Set(float64(len(stamped)))
	metrics.IngestProblems.WithLabelValues(source, "error").Add(float64(len(result.Errors)))
	metrics.IngestProblems.WithLabelValues(source, "warning").Add(float64(len(result.Warnings)))
	logger.Info("{catalog - commit} %s: %d channels (%d warnings, %d errors), run %s",
		source, len(stamped), len(result.Warnings), len(result.Errors), runID)

	return Report{
		Source:    source,
		RunID:     runID,
		Channels:  len(stamped),
		Committed: true,
		Errors:    result.Errors,
		Warnings:  result.Warnings,
	}
}

// ImportSources ingests every configured source concurrently and returns
// one report per source in configuration order.
func (c *Catalog) ImportSources(ctx context.Context, sources []config.SourceConfig) []Report {
	if len(sources) == 0 {
		logger.Warn("{catalog - ImportSources} No sources configured!")
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, importTimeout)
	defer cancel()

	reports := make([]Report, len(sources))
	var wg sync.WaitGroup
	for i := range sources {
		wg.Add(1)
		go func(i int, src *config.SourceConfig) {
			defer wg.Done()
			hc := client.ForSource(src)
			if src.IsXtream() {
				xc := parser.NewXtreamConfig(src.URL, src.Username, src.Password)
				reports[i] = c.ingestXtream(ctx, src.Name, xc, hc, src)
				return
			}
			reports[i] = c.ingestURL(ctx, src.Name, src.URL, hc, src)
		}(i, &sources[i])
	}
	wg.Wait()

	total := 0
	for _, r := range reports {
		total += r.Channels
	}
	logger.Info("{catalog - ImportSources} Import complete. %d channels from %d sources", total, len(sources))
	return reports
}

// StartImportRefresh re-imports sources every interval until
// StopImportRefresh is called or ctx ends. A second call is a no-op.
func (c *Catalog) StartImportRefresh(ctx context.Context, sources []config.SourceConfig, interval time.Duration) {
	if !c.refreshing.CompareAndSwap(false, true) {
		return
	}
	c.stopChan = make(chan struct{})

	c.refreshWG.Add(1)
	go func() {
		defer c.refreshWG.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-c.stopChan:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.cache != nil {
					c.cache.Clear()
				}
				c.ImportSources(ctx, sources)
			}
		}
	}()
}

// StopImportRefresh stops the refresh loop and waits for it to exit.
func (c *Catalog) StopImportRefresh() {
	if !c.refreshing.CompareAndSwap(true, false) {
		return
	}
	close(c.stopChan)
	c.refreshWG.Wait()
}

// RemoveSource drops a source and its channels.
func (c *Catalog) RemoveSource(name string) bool {
	_, ok := c.sources.LoadAndDelete(name)
	if ok {
		metrics.IngestedChannels.DeleteLabelValues(name)
		c.filters.RemoveFilter(name)
	}
	return ok
}

// Sources lists the committed sources by name.
func (c *Catalog) Sources() []Source {
	var out []Source
	c.sources.Range(func(_ string, s *Source) bool {
		out = append(out, *s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Channels merges every source keyed by channel id. Sources are applied in
// name order, so on an id collision the later source name wins. The result
// is sorted by name, then id.
func (c *Catalog) Channels() []types.Channel {
	byID := make(map[string]types.Channel)
	for _, s := range c.Sources() {
		for _, ch := range s.Channels {
			byID[ch.ID] = ch
		}
	}

	out := make([]types.Channel, 0, len(byID))
	for _, ch := range byID {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Get looks a channel up by id.
func (c *Catalog) Get(id string) (types.Channel, bool) {
	for _, ch := range c.Channels() {
		if ch.ID == id {
			return ch, true
		}
	}
	return types.Channel{}, false
}

// Groups buckets channels by category.
func (c *Catalog) Groups() map[string][]types.Channel {
	groups := make(map[string][]types.Channel)
	for _, ch := range c.Channels() {
		category := ch.Category
		if category == "" {
			category = types.DefaultCategory
		}
		groups[category] = append(groups[category], ch)
	}
	return groups
}

// Filter narrows channels by category (case-insensitive) and source; empty
// arguments match everything.
func Filter(channels []types.Channel, category, source string) []types.Channel {
	out := make([]types.Channel, 0, len(channels))
	for _, ch := range channels {
		if category != "" && !strings.EqualFold(ch.Category, category) {
			continue
		}
		if source != "" && ch.Source != source {
			continue
		}
		out = append(out, ch)
	}
	return out
}
