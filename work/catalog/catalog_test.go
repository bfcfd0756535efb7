package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"iptv-curator/work/cache"
	"iptv-curator/work/client"
	"iptv-curator/work/config"
	"iptv-curator/work/parser"
	"iptv-curator/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const newsPlaylist = "#EXTM3U\n" +
	`#EXTINF:-1 group-title="News",World News` + "\n" +
	"http://stream.example/news.m3u8\n" +
	`#EXTINF:-1 group-title="Sports",Sport One` + "\n" +
	"http://stream.example/sport1.m3u8\n" +
	`#EXTINF:-1,Adult Late` + "\n" +
	"http://stream.example/late.m3u8\n"

func newCatalog(c *cache.Cache) *Catalog {
	cfg := config.Default()
	return New(cfg, client.NewHeaderSettingClient(cfg), c)
}

func names(channels []types.Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = c.Name
	}
	return out
}

func TestIngestPlaylistReplacesSource(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(nil)

	first := c.IngestPlaylist(ctx, "list", newsPlaylist)
	require.True(t, first.Committed)
	assert.Equal(t, 3, first.Channels)
	assert.NotEmpty(t, first.RunID)

	all := c.Channels()
	assert.Equal(t, []string{"Adult Late", "Sport One", "World News"}, names(all))
	for _, ch := range all {
		assert.Equal(t, "list", ch.Source)
		assert.Equal(t, first.RunID, ch.RunID)
	}

	second := c.IngestPlaylist(ctx, "list", "#EXTM3U\n#EXTINF:-1,Only One\nhttp://stream.example/one\n")
	require.True(t, second.Committed)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, []string{"Only One"}, names(c.Channels()))
}

func TestIngestPlaylistFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(nil)
	c.IngestPlaylist(ctx, "list", newsPlaylist)

	report := c.IngestPlaylist(ctx, "list", "   ")
	assert.False(t, report.Committed)
	assert.NotEmpty(t, report.Errors)
	assert.Len(t, c.Channels(), 3)
}

func TestChannelsMergeAndGroups(t *testing.T) {
	ctx := context.Background()
	c := newCatalog(nil)
	c.IngestPlaylist(ctx, "a", newsPlaylist)
	// same name and address, so the same id
	c.IngestPlaylist(ctx, "b", "#EXTM3U\n#EXTINF:-1 group-title=\"News\",World News\nhttp://stream.example/news.m3u8\n")

	all := c.Channels()
	require.Len(t, all, 3)

	ch, ok := c.Get(all[2].ID)
	require.True(t, ok)
	assert.Equal(t, "World News", ch.Name)
	assert.Equal(t, "b", ch.Source)

	_, ok = c.Get("missing")
	assert.False(t, ok)

	groups := c.Groups()
	assert.Len(t, groups["News"], 1)
	assert.Len(t, groups["Sports"], 1)
	assert.Len(t, groups[types.DefaultCategory], 1)

	assert.Len(t, Filter(all, "news", ""), 1)
	assert.Len(t, Filter(all, "", "a"), 2)

	require.Len(t, c.Sources(), 2)
	assert.True(t, c.RemoveSource("a"))
	assert.False(t, c.RemoveSource("a"))
	assert.Len(t, c.Channels(), 1)
}

func TestIngestURLUsesCacheAndValidates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/list.m3u":
			w.Write([]byte(newsPlaylist))
		case "/junk.txt":
			w.Write([]byte("hello world"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := newCatalog(cache.NewCache(time.Minute))

	report := c.IngestURL(ctx, "remote", srv.URL+"/list.m3u")
	require.True(t, report.Committed)
	assert.Equal(t, 3, report.Channels)
	c.IngestURL(ctx, "remote", srv.URL+"/list.m3u")
	assert.Equal(t, int32(1), hits.Load())

	junk := c.IngestURL(ctx, "junk", srv.URL+"/junk.txt")
	assert.False(t, junk.Committed)
	assert.Len(t, junk.Errors, 2)

	missing := c.IngestURL(ctx, "missing", srv.URL+"/nope")
	assert.False(t, missing.Committed)
	assert.Contains(t, missing.Errors[0], "HTTP 404")
}

func xtreamServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/player_api.php" {
			http.NotFound(w, r)
			return
		}
		switch r.URL.Query().Get("action") {
		case "get_live_categories":
			w.Write([]byte(`[{"category_id":"1","category_name":"Kids"}]`))
		case "get_live_streams":
			w.Write([]byte(`[{"stream_id":5,"name":"Cartoon Time","category_id":"1"},{"stream_id":6,"name":"Toon Adult","category_id":"1"}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIngestXtream(t *testing.T) {
	srv := xtreamServer(t)
	ctx := context.Background()
	c := newCatalog(nil)

	report := c.IngestXtream(ctx, "", parser.NewXtreamConfig(srv.URL, "u", "p"))
	require.True(t, report.Committed)
	assert.Equal(t, 2, report.Channels)
	assert.Contains(t, report.Source, "xtream-")

	dead := c.IngestXtream(ctx, "dead", parser.NewXtreamConfig("http://127.0.0.1:1", "u", "p"))
	assert.False(t, dead.Committed)
	assert.NotEmpty(t, dead.Errors)
}

func TestImportSourcesAppliesFilters(t *testing.T) {
	xsrv := xtreamServer(t)
	psrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(newsPlaylist))
	}))
	defer psrv.Close()

	cfg := config.Default()
	cfg.Sources = []config.SourceConfig{
		{Name: "m3u", URL: psrv.URL + "/list.m3u", LiveExcludeRegex: "adult"},
		{Name: "xc", URL: xsrv.URL, Username: "u", Password: "p", LiveExcludeRegex: "adult"},
	}
	for i := range cfg.Sources {
		cfg.Sources[i].Timeout = 5 * time.Second
	}

	c := New(cfg, client.NewHeaderSettingClient(cfg), nil)
	reports := c.ImportSources(context.Background(), cfg.Sources)
	require.Len(t, reports, 2)
	assert.Equal(t, "m3u", reports[0].Source)
	assert.Equal(t, 2, reports[0].Channels)
	assert.Equal(t, "xc", reports[1].Source)
	assert.Equal(t, 1, reports[1].Channels)

	assert.Equal(t, []string{"Cartoon Time", "Sport One", "World News"}, names(c.Channels()))
	assert.Nil(t, c.ImportSources(context.Background(), nil))
}

func TestImportRefresh(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(newsPlaylist))
	}))
	defer srv.Close()

	cfg := config.Default()
	sources := []config.SourceConfig{{Name: "m3u", URL: srv.URL, Timeout: time.Second}}
	c := New(cfg, client.NewHeaderSettingClient(cfg), cache.NewCache(time.Hour))

	c.StartImportRefresh(context.Background(), sources, 20*time.Millisecond)
	c.StartImportRefresh(context.Background(), sources, 20*time.Millisecond)
	// the cache is cleared before every refresh, so each one fetches
	assert.Eventually(t, func() bool { return hits.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
	c.StopImportRefresh()
	c.StopImportRefresh()

	assert.Len(t, c.Channels(), 3)
}
