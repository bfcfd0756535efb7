package parser

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"iptv-curator/work/cache"
	"iptv-curator/work/client"
	"iptv-curator/work/config"
	"iptv-curator/work/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHTTPClient() *client.HeaderSettingClient {
	return client.ForSource(&config.SourceConfig{Timeout: 5 * time.Second, RetryDelay: time.Millisecond})
}

// fakeProvider answers player_api.php actions from a map of JSON bodies.
func fakeProvider(t *testing.T, bodies map[string]string, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		if r.URL.Path != "/player_api.php" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("username") != "user" || r.URL.Query().Get("password") != "pa ss" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, ok := bodies[r.URL.Query().Get("action")]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestParseXtreamURL(t *testing.T) {
	tests := []struct {
		raw  string
		want XtreamConfig
	}{
		{"http://host:8080/get.php?username=u&password=p&type=m3u_plus", XtreamConfig{"http://host:8080", "u", "p"}},
		{"https://host/sub/player_api.php?username=u&password=p", XtreamConfig{"https://host/sub", "u", "p"}},
		{"http://host:8080/u/p", XtreamConfig{"http://host:8080", "u", "p"}},
		{"http://host:8080/u/p/", XtreamConfig{"http://host:8080", "u", "p"}},
		{"http://host/live/u/p/123.ts", XtreamConfig{"http://host", "u", "p"}},
	}
	for _, tt := range tests {
		got, err := ParseXtreamURL(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}

	for _, bad := range []string{"ftp://host/u/p", "http://host/", "http://host/get.php?username=u", "not a url"} {
		_, err := ParseXtreamURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestNewXtreamConfigTrimsSlash(t *testing.T) {
	cfg := NewXtreamConfig("http://host:8080/", "u", "p")
	assert.Equal(t, "http://host:8080", cfg.Server)
	assert.Equal(t, "http://host:8080/live/u/p/42.ts", cfg.LiveURL("42"))
	assert.Equal(t, "http://host:8080/movie/u/p/7.mkv", cfg.MovieURL("7", "mkv"))
	assert.True(t, strings.HasPrefix(cfg.SourceKey(), "xtream-"))
	assert.NotContains(t, cfg.SourceKey(), "p")
}

func TestFetchChannels(t *testing.T) {
	srv := fakeProvider(t, map[string]string{
		"get_live_categories": `[{"category_id":"1","category_name":"News"},{"category_id":2,"category_name":"Sports"}]`,
		"get_live_streams": `[
			{"stream_id":101,"name":"World News","category_id":"1","stream_icon":"http://logo/n.png","epg_channel_id":"wn.us"},
			{"stream_id":"102","name":"Sport One","category_id":2},
			{"stream_id":103,"name":"Mystery","category_id":"99"},
			{"stream_id":104,"name":"   "}
		]`,
	}, nil)
	defer srv.Close()

	x := NewXtreamClient(NewXtreamConfig(srv.URL+"/", "user", "pa ss"), testHTTPClient(), nil, "prov")
	res := x.FetchChannels(context.Background())

	assert.Empty(t, res.Errors)
	require.Len(t, res.Channels, 3)
	assert.Len(t, res.Warnings, 1)

	news := res.Channels[0]
	assert.Equal(t, "World News", news.Name)
	assert.Equal(t, "News", news.Category)
	assert.Equal(t, srv.URL+"/live/user/pa%20ss/101.ts", news.URL)
	assert.Equal(t, "http://logo/n.png", news.Logo)
	assert.Equal(t, "wn.us", news.TvgID)
	assert.Equal(t, "prov", news.Source)

	assert.Equal(t, "Sports", res.Channels[1].Category)
	assert.Equal(t, types.DefaultCategory, res.Channels[2].Category)
}

func TestFetchChannelsUsesCategoryCache(t *testing.T) {
	var calls atomic.Int32
	srv := fakeProvider(t, map[string]string{
		"get_live_categories": `[{"category_id":"1","category_name":"News"}]`,
		"get_live_streams":    `[{"stream_id":1,"name":"A","category_id":"1"}]`,
	}, &calls)
	defer srv.Close()

	x := NewXtreamClient(NewXtreamConfig(srv.URL, "user", "pa ss"), testHTTPClient(), cache.NewCache(time.Minute), "")
	x.FetchChannels(context.Background())
	x.FetchChannels(context.Background())
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetchChannelsErrors(t *testing.T) {
	srv := fakeProvider(t, map[string]string{"get_live_categories": `[]`}, nil)
	defer srv.Close()

	x := NewXtreamClient(NewXtreamConfig(srv.URL, "user", "pa ss"), testHTTPClient(), nil, "")
	res := x.FetchChannels(context.Background())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "HTTP 404")
	assert.Empty(t, res.Channels)

	bad := NewXtreamClient(NewXtreamConfig(srv.URL, "user", "wrong"), testHTTPClient(), nil, "")
	res = bad.FetchChannels(context.Background())
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "HTTP 401")

	// unreachable server
	dead := NewXtreamClient(NewXtreamConfig("http://127.0.0.1:1", "user", "pa ss"), testHTTPClient(), nil, "")
	res = dead.FetchChannels(context.Background())
	assert.Len(t, res.Errors, 1)

	invalid := NewXtreamClient(XtreamConfig{}, testHTTPClient(), nil, "")
	res = invalid.FetchChannels(context.Background())
	assert.Len(t, res.Errors, 1)
}

func TestFetchChannelsEmptyIsWarning(t *testing.T) {
	srv := fakeProvider(t, map[string]string{
		"get_live_categories": `[]`,
		"get_live_streams":    `{}`,
	}, nil)
	defer srv.Close()

	x := NewXtreamClient(NewXtreamConfig(srv.URL, "user", "pa ss"), testHTTPClient(), nil, "")
	res := x.FetchChannels(context.Background())
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Channels)
	assert.Equal(t, []string{"provider returned no live streams"}, res.Warnings)
}

func TestFetchVOD(t *testing.T) {
	srv := fakeProvider(t, map[string]string{
		"get_vod_categories":    `[{"category_id":"5","category_name":"Action"}]`,
		"get_vod_streams":       `[{"stream_id":7,"name":"Heat","category_id":"5","container_extension":"mkv"}]`,
		"get_series_categories": `[{"category_id":"8","category_name":"Drama"}]`,
		"get_series":            `[{"series_id":9,"name":"The Wire","category_id":"8","cover":"http://c/w.jpg"}]`,
	}, nil)
	defer srv.Close()

	x := NewXtreamClient(NewXtreamConfig(srv.URL, "user", "pa ss"), testHTTPClient(), nil, "prov")
	res := x.FetchVOD(context.Background())

	assert.Empty(t, res.Errors)
	require.Len(t, res.Movies, 1)
	assert.Equal(t, "Action", res.Movies[0].Category)
	assert.Equal(t, srv.URL+"/movie/user/pa%20ss/7.mkv", res.Movies[0].URL)
	require.Len(t, res.Series, 1)
	assert.Equal(t, "The Wire", res.Series[0].Name)
	assert.Equal(t, "Drama", res.Series[0].Category)
	assert.Equal(t, "prov:9", res.Series[0].ID)
}

func TestTestConnection(t *testing.T) {
	var fallbackHit atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/player_api.php":
			w.WriteHeader(http.StatusForbidden)
		case "/get.php":
			fallbackHit.Store(true)
			w.Write([]byte("#EXTM3U\n"))
		}
	}))
	defer srv.Close()

	x := NewXtreamClient(NewXtreamConfig(srv.URL, "u", "p"), testHTTPClient(), nil, "")
	assert.True(t, x.TestConnection(context.Background()))
	assert.True(t, fallbackHit.Load())

	dead := NewXtreamClient(NewXtreamConfig("http://127.0.0.1:1", "u", "p"), testHTTPClient(), nil, "")
	assert.False(t, dead.TestConnection(context.Background()))
}

func TestFlexString(t *testing.T) {
	var v struct {
		A flexString `json:"a"`
		B flexString `json:"b"`
		C flexString `json:"c"`
		D flexString `json:"d"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":12,"b":"34","c":null,"d":5.0}`), &v))
	assert.Equal(t, flexString("12"), v.A)
	assert.Equal(t, flexString("34"), v.B)
	assert.Equal(t, flexString(""), v.C)
	assert.Equal(t, flexString("5"), v.D)
}
