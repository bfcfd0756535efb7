package handlers

import (
	"bufio"
	"io"
	"net/http"
	"strconv"
	"strings"

	"iptv-curator/work/logger"
	"iptv-curator/work/recommend"
	"iptv-curator/work/types"

	"github.com/gorilla/mux"
	"github.com/valyala/bytebufferpool"
)

// ChannelSource supplies the channels a playlist is built from.
type ChannelSource interface {
	Channels() []types.Channel
}

// Ranker orders channels for the recommended playlist.
type Ranker interface {
	GetRecommendations(channels []types.Channel, opts recommend.Options) []types.Channel
}

// defaultRecommended is the size of the recommended playlist when no limit
// is given.
const defaultRecommended = 50

// HandlePlaylist serves every channel as an M3U playlist.
func HandlePlaylist(src ChannelSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		servePlaylist(w, r, src.Channels())
	}
}

// HandleGroupPlaylist serves the channels of the {group} path variable,
// compared case-insensitively.
func HandleGroupPlaylist(src ChannelSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group := mux.Vars(r)["group"]

		var channels []types.Channel
		for _, ch := range src.Channels() {
			if strings.EqualFold(ch.Category, group) {
				channels = append(channels, ch)
			}
		}
		if len(channels) == 0 {
			http.Error(w, "Group not found", http.StatusNotFound)
			return
		}
		servePlaylist(w, r, channels)
	}
}

// HandleRecommendedPlaylist serves the top ranked channels, offline ones
// left out. ?limit= overrides the default size.
func HandleRecommendedPlaylist(src ChannelSource, ranker Ranker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRecommended
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = n
		}

		channels := ranker.GetRecommendations(src.Channels(), recommend.Options{
			MaxResults:     limit,
			ExcludeOffline: true,
		})
		servePlaylist(w, r, channels)
	}
}

// servePlaylist renders into a pooled buffer first so the response is
// written in one piece.
func servePlaylist(w http.ResponseWriter, r *http.Request, channels []types.Channel) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	if err := WritePlaylist(buf, channels); err != nil {
		logger.Error("{handlers - servePlaylist} failed to render playlist for %s: %v", r.URL.Path, err)
		http.Error(w, "Failed to render playlist", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/x-mpegURL")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(buf.B); err != nil {
		logger.Debug("{handlers - servePlaylist} client went away during %s: %v", r.URL.Path, err)
		return
	}
	logger.Debug("{handlers - servePlaylist} %s: %d channels to %s", r.URL.Path, len(channels), r.RemoteAddr)
}

// WritePlaylist renders channels as an extended M3U playlist that the
// parser reads back into the same channels.
func WritePlaylist(w io.Writer, channels []types.Channel) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("#EXTM3U\n")
	for _, ch := range channels {
		bw.WriteString("#EXTINF:-1")
		writeAttr(bw, "tvg-id", ch.TvgID)
		writeAttr(bw, "tvg-logo", ch.Logo)
		writeAttr(bw, "tvg-language", ch.Language)
		writeAttr(bw, "tvg-country", ch.Country)
		writeAttr(bw, "group-title", ch.Category)
		bw.WriteString(",")
		bw.WriteString(ch.Name)
		bw.WriteString("\n")
		bw.WriteString(ch.URL)
		bw.WriteString("\n")
	}
	return bw.Flush()
}

// writeAttr skips empty values. Double quotes cannot be escaped in M3U, so
// they become single quotes.
func writeAttr(bw *bufio.Writer, key, value string) {
	if value == "" {
		return
	}
	bw.WriteString(" " + key + "=\"" + strings.ReplaceAll(value, "\"", "'") + "\"")
}
