package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"iptv-curator/work/cache"
	"iptv-curator/work/client"
	"iptv-curator/work/logger"
	"iptv-curator/work/metrics"
	"iptv-curator/work/types"
	"iptv-curator/work/utils"
)

// flexString accepts both JSON strings and numbers. Providers are not
// consistent about stream_id and category_id.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	// 123.0 -> 123
	if fl, err := n.Float64(); err == nil && fl == float64(int64(fl)) {
		*f = flexString(strconv.FormatInt(int64(fl), 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

// XCCategory is one entry of get_live_categories / get_vod_categories / get_series_categories.
type XCCategory struct {
	CategoryID   flexString `json:"category_id"`
	CategoryName string     `json:"category_name"`
}

// XCLiveStream is one entry of get_live_streams.
type XCLiveStream struct {
	StreamID     flexString `json:"stream_id"`
	Name         string     `json:"name"`
	CategoryID   flexString `json:"category_id"`
	StreamIcon   string     `json:"stream_icon"`
	EpgChannelID string     `json:"epg_channel_id"`
}

// XCVODStream is one entry of get_vod_streams.
type XCVODStream struct {
	StreamID           flexString `json:"stream_id"`
	Name               string     `json:"name"`
	CategoryID         flexString `json:"category_id"`
	StreamIcon         string     `json:"stream_icon"`
	ContainerExtension string     `json:"container_extension"`
}

// XCSeries is one entry of get_series.
type XCSeries struct {
	SeriesID   flexString `json:"series_id"`
	Name       string     `json:"name"`
	CategoryID flexString `json:"category_id"`
	Cover      string     `json:"cover"`
	Plot       string     `json:"plot"`
}

// XtreamClient maps an Xtream Codes provider catalog into channel records.
// Transport failures and non-200 responses never escape: they come back as
// error strings in the result.
type XtreamClient struct {
	cfg    XtreamConfig
	http   *client.HeaderSettingClient
	cache  *cache.Cache
	source string
}

// NewXtreamClient creates a provider client.
//
// Parameters:
//   - cfg: provider credentials
//   - httpClient: client carrying the source's headers, pacing and retry policy
//   - c: optional category cache, may be nil
//   - source: label stamped on produced channels, defaults to cfg.SourceKey()
//
// Returns:
//   - *XtreamClient: ready client
func NewXtreamClient(cfg XtreamConfig, httpClient *client.HeaderSettingClient, c *cache.Cache, source string) *XtreamClient {
	if source == "" {
		source = cfg.SourceKey()
	}
	return &XtreamClient{cfg: cfg, http: httpClient, cache: c, source: source}
}

// TestConnection reports whether the provider answers, trying the catalog
// endpoint first and the playlist export endpoint second. It never fails.
func (x *XtreamClient) TestConnection(ctx context.Context) bool {
	for _, target := range []struct{ action, url string }{
		{"player_api", x.cfg.apiURL("")},
		{"get.php", x.cfg.exportURL()},
	} {
		resp, err := x.http.Get(ctx, target.url)
		if err != nil {
			metrics.ProviderRequests.WithLabelValues(target.action, "error").Inc()
			logger.Debug("{parser/xtremecodes - TestConnection} %s failed: %v", target.action, err)
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			metrics.ProviderRequests.WithLabelValues(target.action, "ok").Inc()
			return true
		}
		metrics.ProviderRequests.WithLabelValues(target.action, "http_"+strconv.Itoa(resp.StatusCode)).Inc()
		logger.Debug("{parser/xtremecodes - TestConnection} %s returned HTTP %d", target.action, resp.StatusCode)
	}
	return false
}

// FetchChannels builds channels from the live categories and live streams
// endpoints. A failed category lookup only degrades categories to
// "Undefined"; a failed stream lookup is reported in Errors.
func (x *XtreamClient) FetchChannels(ctx context.Context) *types.ParseResult {
	result := &types.ParseResult{Channels: []types.Channel{}, Errors: []string{}, Warnings: []string{}}
	if !x.cfg.Valid() {
		result.Errors = append(result.Errors, "provider server, username and password are required")
		return result
	}

	categories, err := x.categories(ctx, "get_live_categories")
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("live categories unavailable: %v", err))
	}

	streams, err := fetchXCData[XCLiveStream](ctx, x, "get_live_streams")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to fetch live streams: %v", err))
		return result
	}
	if len(streams) == 0 {
		result.Warnings = append(result.Warnings, "provider returned no live streams")
		return result
	}

	for _, s := range streams {
		name := utils.CleanChannelName(s.Name)
		if name == "" || s.StreamID == "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("stream %q skipped: missing name or id", s.StreamID))
			continue
		}
		address := x.cfg.LiveURL(string(s.StreamID))
		result.Channels = append(result.Channels, types.Channel{
			ID:       utils.ChannelID(name, address),
			Name:     name,
			URL:      address,
			Logo:     s.StreamIcon,
			Category: categoryName(categories, s.CategoryID),
			TvgID:    s.EpgChannelID,
			Source:   x.source,
		})
	}

	logger.Debug("{parser/xtremecodes - FetchChannels} %s: %d channels from %d streams", x.source, len(result.Channels), len(streams))
	return result
}

// FetchVOD builds the on-demand catalog: movies become channels with a
// synthesized movie address, series are listed without episodes.
func (x *XtreamClient) FetchVOD(ctx context.Context) *types.VODResult {
	result := &types.VODResult{Movies: []types.Channel{}, Series: []types.Series{}, Errors: []string{}, Warnings: []string{}}
	if !x.cfg.Valid() {
		result.Errors = append(result.Errors, "provider server, username and password are required")
		return result
	}

	vodCategories, err := x.categories(ctx, "get_vod_categories")
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("vod categories unavailable: %v", err))
	}
	movies, err := fetchXCData[XCVODStream](ctx, x, "get_vod_streams")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to fetch vod streams: %v", err))
	} else if len(movies) == 0 {
		result.Warnings = append(result.Warnings, "provider returned no movies")
	}
	for _, m := range movies {
		name := utils.CleanChannelName(m.Name)
		if name == "" || m.StreamID == "" {
			continue
		}
		address := x.cfg.MovieURL(string(m.StreamID), m.ContainerExtension)
		result.Movies = append(result.Movies, types.Channel{
			ID:       utils.ChannelID(name, address),
			Name:     name,
			URL:      address,
			Logo:     m.StreamIcon,
			Category: categoryName(vodCategories, m.CategoryID),
			Source:   x.source,
		})
	}

	seriesCategories, err := x.categories(ctx, "get_series_categories")
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("series categories unavailable: %v", err))
	}
	series, err := fetchXCData[XCSeries](ctx, x, "get_series")
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to fetch series: %v", err))
	} else if len(series) == 0 {
		result.Warnings = append(result.Warnings, "provider returned no series")
	}
	for _, s := range series {
		name := utils.CleanChannelName(s.Name)
		if name == "" || s.SeriesID == "" {
			continue
		}
		result.Series = append(result.Series, types.Series{
			ID:       x.source + ":" + string(s.SeriesID),
			Name:     name,
			Cover:    s.Cover,
			Category: categoryName(seriesCategories, s.CategoryID),
			Plot:     s.Plot,
			Source:   x.source,
		})
	}

	return result
}

// categories returns the id -> name map for a category action, cached per
// provider account when a cache is configured.
func (x *XtreamClient) categories(ctx context.Context, action string) (map[string]string, error) {
	key := x.cfg.SourceKey() + ":" + action
	if x.cache != nil {
		if m, ok := x.cache.GetCategories(key); ok {
			return m, nil
		}
	}

	list, err := fetchXCData[XCCategory](ctx, x, action)
	if err != nil {
		return map[string]string{}, err
	}
	m := make(map[string]string, len(list))
	for _, c := range list {
		if c.CategoryID != "" && strings.TrimSpace(c.CategoryName) != "" {
			m[string(c.CategoryID)] = strings.TrimSpace(c.CategoryName)
		}
	}
	if x.cache != nil {
		x.cache.SetCategories(key, m)
	}
	return m, nil
}

func categoryName(categories map[string]string, id flexString) string {
	if name, ok := categories[string(id)]; ok {
		return name
	}
	return types.DefaultCategory
}

// fetchXCData performs one player_api.php action and decodes the JSON array
// it returns. Providers answer an empty catalog with {} or null, which both
// decode to an empty slice.
func fetchXCData[T any](ctx context.Context, x *XtreamClient, action string) ([]T, error) {
	resp, err := x.http.Get(ctx, x.cfg.apiURL(action))
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(action, "error").Inc()
		logger.Warn("{parser/xtremecodes - fetchXCData} %s request to %s failed: %v", action, utils.ObfuscateURL(x.cfg.Server), err)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ProviderRequests.WithLabelValues(action, "http_"+strconv.Itoa(resp.StatusCode)).Inc()
		return nil, fmt.Errorf("API returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ProviderRequests.WithLabelValues(action, "error").Inc()
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "null" || string(trimmed) == "{}" {
		metrics.ProviderRequests.WithLabelValues(action, "ok").Inc()
		return []T{}, nil
	}

	var data []T
	if err := json.Unmarshal(trimmed, &data); err != nil {
		metrics.ProviderRequests.WithLabelValues(action, "bad_json").Inc()
		logger.Debug("{parser/xtremecodes - fetchXCData} %s response preview: %s", action, utils.Truncate(string(trimmed), 200))
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	metrics.ProviderRequests.WithLabelValues(action, "ok").Inc()
	return data, nil
}
