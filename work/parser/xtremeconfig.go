package parser

import (
	"encoding/hex"
	"net/url"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/blake2b"
)

// XtreamConfig is the credential triple of an Xtream Codes provider.
type XtreamConfig struct {
	Server   string // scheme://host[:port][/prefix], no trailing slash
	Username string
	Password string
}

// NewXtreamConfig builds a config from an explicit triple.
func NewXtreamConfig(server, username, password string) XtreamConfig {
	return XtreamConfig{
		Server:   strings.TrimRight(strings.TrimSpace(server), "/"),
		Username: username,
		Password: password,
	}
}

// ParseXtreamURL extracts provider credentials from a single URL. Both the
// query form (http://host/get.php?username=u&password=p) and the path form
// (http://host/u/p or http://host/live/u/p/123.ts) are accepted.
func ParseXtreamURL(raw string) (XtreamConfig, error) {
	errb := oops.In("xtream").With("url", raw)

	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return XtreamConfig{}, errb.Wrapf(err, "unparseable provider url")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return XtreamConfig{}, errb.Errorf("provider url must be http or https with a host")
	}

	q := u.Query()
	if user, pass := q.Get("username"), q.Get("password"); user != "" && pass != "" {
		path := u.Path
		if i := strings.LastIndex(path, "/"); i >= 0 && strings.HasSuffix(path, ".php") {
			path = path[:i]
		}
		return NewXtreamConfig(u.Scheme+"://"+u.Host+path, user, pass), nil
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) >= 3 && (segments[0] == "live" || segments[0] == "movie" || segments[0] == "series") {
		segments = segments[1:]
	}
	if len(segments) >= 2 && segments[0] != "" && segments[1] != "" && !strings.HasSuffix(segments[0], ".php") {
		user, _ := url.PathUnescape(segments[0])
		pass, _ := url.PathUnescape(segments[1])
		return NewXtreamConfig(u.Scheme+"://"+u.Host, user, pass), nil
	}

	return XtreamConfig{}, errb.Errorf("no username and password found in provider url")
}

// Valid reports whether every part of the triple is set.
func (c XtreamConfig) Valid() bool {
	return c.Server != "" && c.Username != "" && c.Password != ""
}

// LiveURL synthesizes the playable address of a live stream.
func (c XtreamConfig) LiveURL(streamID string) string {
	return c.Server + "/live/" + url.PathEscape(c.Username) + "/" + url.PathEscape(c.Password) + "/" + streamID + ".ts"
}

// MovieURL synthesizes the playable address of a VOD stream.
func (c XtreamConfig) MovieURL(streamID, ext string) string {
	if ext == "" {
		ext = "mp4"
	}
	return c.Server + "/movie/" + url.PathEscape(c.Username) + "/" + url.PathEscape(c.Password) + "/" + streamID + "." + ext
}

// apiURL builds a player_api.php request, action may be empty.
func (c XtreamConfig) apiURL(action string) string {
	q := url.Values{}
	q.Set("username", c.Username)
	q.Set("password", c.Password)
	if action != "" {
		q.Set("action", action)
	}
	return c.Server + "/player_api.php?" + q.Encode()
}

// exportURL builds the get.php playlist export request.
func (c XtreamConfig) exportURL() string {
	q := url.Values{}
	q.Set("username", c.Username)
	q.Set("password", c.Password)
	q.Set("type", "m3u_plus")
	q.Set("output", "ts")
	return c.Server + "/get.php?" + q.Encode()
}

// SourceKey identifies the provider account without exposing the password,
// for use in cache keys, store keys and default source labels.
func (c XtreamConfig) SourceKey() string {
	sum := blake2b.Sum256([]byte(c.Server + "\x00" + c.Username + "\x00" + c.Password))
	return "xtream-" + hex.EncodeToString(sum[:6])
}
