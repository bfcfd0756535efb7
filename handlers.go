package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"iptv-curator/work/cache"
	"iptv-curator/work/catalog"
	"iptv-curator/work/client"
	"iptv-curator/work/config"
	"iptv-curator/work/handlers"
	"iptv-curator/work/history"
	"iptv-curator/work/logger"
	"iptv-curator/work/middleware"
	"iptv-curator/work/parser"
	"iptv-curator/work/recommend"
	"iptv-curator/work/store"
	"iptv-curator/work/types"
	"iptv-curator/work/validator"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app bundles the components the HTTP API serves.
type app struct {
	cfg       *config.Config
	kv        store.KV
	cache     *cache.Cache
	history   *history.Tracker
	validator *validator.Validator
	engine    *recommend.Engine
	catalog   *catalog.Catalog
	started   time.Time
}

// StatsResponse is the payload of GET /api/stats.
type StatsResponse struct {
	Channels     int             `json:"channels"`
	Sources      int             `json:"sources"`
	Groups       int             `json:"groups"`
	Validation   validator.Stats `json:"validation"`
	HistorySize  int             `json:"historySize"`
	StoreBackend string          `json:"storeBackend"`
	Uptime       string          `json:"uptime"`
}

// importRequest is the optional body of POST /api/import. An empty body
// re-imports every configured source.
type importRequest struct {
	Source   string `json:"source"`
	URL      string `json:"url"`
	Content  string `json:"content"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// watchRequest is the optional body of POST /api/channels/{id}/watch.
type watchRequest struct {
	DurationSeconds int64 `json:"durationSeconds"`
}

// providerRequest is the body of POST /api/providers/test. URL may also be
// a full get.php or player_api.php address carrying the credentials.
type providerRequest struct {
	URL      string `json:"url"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// newRouter registers the playlist and API routes. The metrics handler
// negotiates its own encoding and is left uncompressed.
func newRouter(a *app) *mux.Router {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// M3U exports for players
	router.Handle("/playlist", middleware.Compression(handlers.HandlePlaylist(a.catalog))).Methods("GET")
	router.Handle("/playlist/recommended", middleware.Compression(handlers.HandleRecommendedPlaylist(a.catalog, a.engine))).Methods("GET")
	router.Handle("/{group}/playlist", middleware.Compression(handlers.HandleGroupPlaylist(a.catalog))).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware, middleware.Compression)

	api.HandleFunc("/channels", handleGetChannels(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/channels/{id}/status", handleGetStatus(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/channels/{id}/validate", handleValidate(a)).Methods("POST", "OPTIONS")
	api.HandleFunc("/channels/{id}/watch", handleWatch(a)).Methods("POST", "OPTIONS")
	api.HandleFunc("/channels/{id}/failed", handleFailed(a)).Methods("POST", "OPTIONS")
	api.HandleFunc("/groups", handleGetGroups(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/recommendations", handleGetRecommendations(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/reliable", handleGetReliable(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/history", handleGetHistory(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/history", handleClearHistory(a)).Methods("DELETE")
	api.HandleFunc("/preferences", handleGetPreferences(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/preferences", handleSetPreferences(a)).Methods("PUT")
	api.HandleFunc("/import", handleImport(a)).Methods("POST", "OPTIONS")
	api.HandleFunc("/sources", handleGetSources(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/sources/{name}", handleRemoveSource(a)).Methods("DELETE", "OPTIONS")
	api.HandleFunc("/sources/{name}/vod", handleGetVOD(a)).Methods("GET", "OPTIONS")
	api.HandleFunc("/providers/test", handleTestProvider(a)).Methods("POST", "OPTIONS")
	api.HandleFunc("/validator/reset", handleResetValidator(a)).Methods("POST", "OPTIONS")
	api.HandleFunc("/stats", handleGetStats(a)).Methods("GET", "OPTIONS")

	return router
}

// corsMiddleware lets browser front-ends on other origins call the API and
// answers preflight requests directly.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves
// dst untouched.
func decodeBody(r *http.Request, dst any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// intParam reads a non-negative integer query parameter, falling back to def
// when absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

// boolParam treats a bare flag (?explain) as true.
func boolParam(r *http.Request, name string) bool {
	q := r.URL.Query()
	if !q.Has(name) {
		return false
	}
	v, err := strconv.ParseBool(q.Get(name))
	return err != nil || v
}

// channelFromPath resolves {id} against the catalog, answering 404 itself
// when the channel is unknown.
func channelFromPath(a *app, w http.ResponseWriter, r *http.Request) (types.Channel, bool) {
	id := mux.Vars(r)["id"]
	ch, ok := a.catalog.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "channel not found")
	}
	return ch, ok
}

func handleGetChannels(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		writeJSON(w, http.StatusOK, catalog.Filter(a.catalog.Channels(), q.Get("category"), q.Get("source")))
	}
}

func handleGetGroups(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.catalog.Groups())
	}
}

// handleGetRecommendations ranks the catalog. category may repeat and names
// the preferred categories; explain returns scores with reasons instead of
// channels.
func handleGetRecommendations(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxResults, err := intParam(r, "max", 20)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		minReliability, err := intParam(r, "minReliability", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		opts := recommend.Options{
			MaxResults:          maxResults,
			MinReliability:      minReliability,
			ExcludeOffline:      boolParam(r, "excludeOffline"),
			PreferredCategories: r.URL.Query()["category"],
			IncludePopularity:   boolParam(r, "popularity"),
		}

		channels := a.catalog.Channels()
		if boolParam(r, "explain") {
			writeJSON(w, http.StatusOK, a.engine.Explain(channels, opts))
			return
		}
		writeJSON(w, http.StatusOK, a.engine.GetRecommendations(channels, opts))
	}
}

func handleGetStatus(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st, ok := a.validator.GetStatus(mux.Vars(r)["id"])
		if !ok {
			writeError(w, http.StatusNotFound, "no status recorded")
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleValidate(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := channelFromPath(a, w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, a.validator.Validate(r.Context(), ch.ID, ch.URL))
	}
}

// handleWatch records a watch in the history tracker and the engine.
func handleWatch(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := channelFromPath(a, w, r)
		if !ok {
			return
		}
		var req watchRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}

		duration := time.Duration(req.DurationSeconds) * time.Second
		if err := a.history.Record(r.Context(), ch, time.Time{}, duration); err != nil {
			logger.Warn("{handlers - handleWatch} failed to persist history for %s: %v", ch.ID, err)
		}
		a.engine.UpdateHistory(r.Context(), ch.ID, ch.Category)

		writeJSON(w, http.StatusOK, map[string]any{
			"channelId":  ch.ID,
			"watchCount": a.engine.WatchCount(ch.ID),
		})
	}
}

// handleFailed is the playback-failure notifier: it answers with ranked
// alternatives for the failed channel.
func handleFailed(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ch, ok := channelFromPath(a, w, r)
		if !ok {
			return
		}
		limit, err := intParam(r, "limit", 0)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		logger.Info("{handlers - handleFailed} playback failed for %s, looking for alternatives", ch.Name)
		if boolParam(r, "explain") {
			writeJSON(w, http.StatusOK, a.engine.ExplainAlternatives(ch, a.catalog.Channels(), limit))
			return
		}
		writeJSON(w, http.StatusOK, a.engine.GetAlternatives(ch, a.catalog.Channels(), limit))
	}
}

func handleGetReliable(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		minScore, err := intParam(r, "min", 75)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, a.validator.GetReliable(minScore))
	}
}

func handleGetHistory(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.history.Entries())
	}
}

// handleClearHistory forgets watch history and the engine's derived state.
func handleClearHistory(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.history.Clear(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if err := a.engine.Reset(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func handleGetPreferences(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.engine.Preferences())
	}
}

func handleSetPreferences(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var prefs recommend.Preferences
		if err := decodeBody(r, &prefs); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		a.engine.SetPreferences(r.Context(), prefs)
		writeJSON(w, http.StatusOK, a.engine.Preferences())
	}
}

// handleImport ingests an ad-hoc source from the body, or re-imports every
// configured source when the body is empty.
func handleImport(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req importRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}

		ctx := r.Context()
		var report catalog.Report
		switch {
		case req.Content != "":
			report = a.catalog.IngestPlaylist(ctx, sourceOr(req.Source, "upload"), req.Content)
		case req.URL != "" && req.Username != "" && req.Password != "":
			report = a.catalog.IngestXtream(ctx, req.Source, parser.NewXtreamConfig(req.URL, req.Username, req.Password))
		case req.URL != "":
			// get.php and player_api.php addresses carry the account in the query
			if u, err := url.Parse(req.URL); err == nil && u.Query().Has("username") {
				if xc, err := parser.ParseXtreamURL(req.URL); err == nil {
					report = a.catalog.IngestXtream(ctx, req.Source, xc)
					break
				}
			}
			report = a.catalog.IngestURL(ctx, sourceOr(req.Source, req.URL), req.URL)
		default:
			writeJSON(w, http.StatusOK, a.catalog.ImportSources(ctx, a.cfg.Sources))
			return
		}

		status := http.StatusOK
		if !report.Committed {
			status = http.StatusUnprocessableEntity
		}
		writeJSON(w, status, report)
	}
}

func sourceOr(source, fallback string) string {
	if strings.TrimSpace(source) != "" {
		return source
	}
	return fallback
}

func handleGetSources(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, a.catalog.Sources())
	}
}

func handleRemoveSource(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.catalog.RemoveSource(mux.Vars(r)["name"]) {
			writeError(w, http.StatusNotFound, "source not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

// handleGetVOD pulls the on-demand catalog of a configured provider source.
// It is fetched per request and not kept in the catalog.
func handleGetVOD(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]
		for i := range a.cfg.Sources {
			src := &a.cfg.Sources[i]
			if src.Name != name {
				continue
			}
			if !src.IsXtream() {
				writeError(w, http.StatusBadRequest, "source is not a provider account")
				return
			}
			xc := parser.NewXtreamConfig(src.URL, src.Username, src.Password)
			result := parser.NewXtreamClient(xc, client.ForSource(src), a.cache, src.Name).FetchVOD(r.Context())
			writeJSON(w, http.StatusOK, result)
			return
		}
		writeError(w, http.StatusNotFound, "source not found")
	}
}

func handleTestProvider(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req providerRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}

		xc := parser.NewXtreamConfig(req.URL, req.Username, req.Password)
		if req.Username == "" || req.Password == "" {
			parsed, err := parser.ParseXtreamURL(req.URL)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			xc = parsed
		}

		ok := parser.NewXtreamClient(xc, client.NewHeaderSettingClient(a.cfg), nil, xc.SourceKey()).TestConnection(r.Context())
		writeJSON(w, http.StatusOK, map[string]bool{"reachable": ok})
	}
}

func handleResetValidator(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.validator.Reset(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func handleGetStats(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, StatsResponse{
			Channels:     len(a.catalog.Channels()),
			Sources:      len(a.catalog.Sources()),
			Groups:       len(a.catalog.Groups()),
			Validation:   a.validator.Stats(),
			HistorySize:  len(a.history.Entries()),
			StoreBackend: a.cfg.Store.Backend,
			Uptime:       formatDuration(time.Since(a.started)),
		})
	}
}

// formatDuration renders an uptime as "2d 3h 4m".
func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	var b strings.Builder
	if days > 0 {
		b.WriteString(strconv.Itoa(days) + "d ")
	}
	if days > 0 || hours > 0 {
		b.WriteString(strconv.Itoa(hours) + "h ")
	}
	b.WriteString(strconv.Itoa(minutes) + "m")
	return b.String()
}
