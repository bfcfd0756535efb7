package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"iptv-curator/work/parser"
	"iptv-curator/work/recommend"
	"iptv-curator/work/types"
	"iptv-curator/work/utils"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChannels []types.Channel

func (s staticChannels) Channels() []types.Channel { return s }

// reverseRanker returns channels backwards and records the options it got.
type reverseRanker struct{ opts recommend.Options }

func (rr *reverseRanker) GetRecommendations(channels []types.Channel, opts recommend.Options) []types.Channel {
	rr.opts = opts
	out := make([]types.Channel, 0, len(channels))
	for i := len(channels) - 1; i >= 0 && (opts.MaxResults == 0 || len(out) < opts.MaxResults); i-- {
		out = append(out, channels[i])
	}
	return out
}

func channel(name, address, category string) types.Channel {
	return types.Channel{ID: utils.ChannelID(name, address), Name: name, URL: address, Category: category}
}

func fixture() staticChannels {
	news := channel("World News, Live", "http://stream.example/news.m3u8", "News")
	news.Logo = "http://img.example/news.png"
	news.TvgID = "news.uk"
	news.Language = "English"
	news.Country = "UK"
	return staticChannels{
		news,
		channel("Sport One", "http://stream.example/sport.m3u8", "Sports"),
		channel("Mystery", "http://stream.example/x.ts", types.DefaultCategory),
	}
}

func TestWritePlaylistRoundTrip(t *testing.T) {
	var b strings.Builder
	require.NoError(t, WritePlaylist(&b, fixture()))
	assert.True(t, strings.HasPrefix(b.String(), "#EXTM3U\n"))

	result, err := parser.ParsePlaylist(b.String(), "export")
	require.NoError(t, err)
	assert.Empty(t, result.Warnings)
	require.Len(t, result.Channels, 3)

	for i, want := range fixture() {
		got := result.Channels[i]
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, want.Name, got.Name)
		assert.Equal(t, want.Category, got.Category)
		assert.Equal(t, want.Logo, got.Logo)
		assert.Equal(t, want.TvgID, got.TvgID)
		assert.Equal(t, want.Language, got.Language)
		assert.Equal(t, want.Country, got.Country)
	}
}

func TestWriteAttrReplacesQuotes(t *testing.T) {
	var b strings.Builder
	ch := channel("Q", "http://stream.example/q", `The "Best"`)
	require.NoError(t, WritePlaylist(&b, []types.Channel{ch}))
	assert.Contains(t, b.String(), `group-title="The 'Best'"`)
}

func TestHandleGroupPlaylist(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/{group}/playlist", HandleGroupPlaylist(fixture()))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sports/playlist", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-mpegURL", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), ",Sport One\n")
	assert.NotContains(t, rec.Body.String(), "World News")

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cooking/playlist", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlePlaylist(t *testing.T) {
	rec := httptest.NewRecorder()
	HandlePlaylist(fixture())(rec, httptest.NewRequest(http.MethodGet, "/playlist", nil))
	assert.Equal(t, 3, strings.Count(rec.Body.String(), "#EXTINF"))
}

func TestHandleRecommendedPlaylist(t *testing.T) {
	ranker := &reverseRanker{}
	h := HandleRecommendedPlaylist(fixture(), ranker)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/playlist/recommended?limit=1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "#EXTM3U\n#EXTINF:-1 group-title=\"Undefined\",Mystery\nhttp://stream.example/x.ts\n", rec.Body.String())
	assert.True(t, ranker.opts.ExcludeOffline)
	assert.Equal(t, 1, ranker.opts.MaxResults)

	h(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/playlist/recommended", nil))
	assert.Equal(t, defaultRecommended, ranker.opts.MaxResults)

	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/playlist/recommended?limit=zero", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
