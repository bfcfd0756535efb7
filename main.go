package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"iptv-curator/work/cache"
	"iptv-curator/work/catalog"
	"iptv-curator/work/client"
	"iptv-curator/work/config"
	"iptv-curator/work/history"
	"iptv-curator/work/logger"
	"iptv-curator/work/recommend"
	"iptv-curator/work/store"
	"iptv-curator/work/validator"
)

var (
	Version = "v0.1.0" // default version
)

// shutdownTimeout bounds draining the HTTP server and the final saves.
const shutdownTimeout = 15 * time.Second

// our main app worker
func main() {
	configPath := flag.String("config", envOr("CURATOR_CONFIG", config.DefaultPath), "path to the JSON or YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("{main - main} Failed to load config: %v", err)
		os.Exit(1)
	}
	logger.SetLogLevel(cfg.LogLevel)
	logger.SetPretty(cfg.PrettyLogs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := build(ctx, cfg)

	// the initial import runs in the background so the API is up right away
	go a.catalog.ImportSources(ctx, cfg.Sources)
	a.catalog.StartImportRefresh(ctx, cfg.Sources, cfg.ImportRefreshInterval)
	a.validator.Start(ctx)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("{main - main} Starting IPTV Curator %s", Version)
	logger.Info("{main - main} Server configuration:")
	logger.Info("{main - main}   - Listen Address: %s", cfg.ListenAddr)
	logger.Info("{main - main}   - Sources: %d", len(cfg.Sources))
	logger.Info("{main - main}   - Store Backend: %s", cfg.Store.Backend)
	logger.Info("{main - main}   - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("{main - main}   - Source Refresh Rate: %s", cfg.ImportRefreshInterval)
	logger.Info("{main - main}   - Probe Timeout: %s", cfg.Validator.ProbeTimeout)
	logger.Info("{main - main}   - Revalidation Interval: %s", cfg.Validator.RefreshInterval)
	logger.Info("{main - main}   - Log Level: %s", cfg.LogLevel)
	logger.Info("{main - main}   - URL Obfuscation: %v", cfg.ObfuscateUrls)

	errChan := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("{main - main} Shutdown requested...")
	case err := <-errChan:
		logger.Error("{main - main} Server failed: %v", err)
	}

	shutdown(server, a)
}

// build wires every component against one store. Persisted state is loaded
// before anything starts serving.
func build(ctx context.Context, cfg *config.Config) *app {
	kv := store.Open(ctx, cfg.Store)
	tracker := history.New(kv)
	tracker.Load(ctx)

	v := validator.New(cfg.Validator, client.NewHeaderSettingClient(cfg), kv, tracker)
	v.Load(ctx)

	engine := recommend.New(cfg.Recommend, v, kv)
	engine.Load(ctx)

	c := cache.NewCache(cfg.CacheDuration)
	return &app{
		cfg:       cfg,
		kv:        kv,
		cache:     c,
		history:   tracker,
		validator: v,
		engine:    engine,
		catalog:   catalog.New(cfg, client.NewHeaderSettingClient(cfg), c),
		started:   time.Now(),
	}
}

// shutdown stops the background tasks, drains the server and saves the
// validator cache before the store closes.
func shutdown(server *http.Server, a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("{main - shutdown} HTTP server did not drain: %v", err)
	}
	a.catalog.StopImportRefresh()
	a.validator.Close()

	if err := a.validator.Save(ctx); err != nil {
		logger.Error("{main - shutdown} Failed to save validation cache: %v", err)
	}
	if err := a.kv.Close(); err != nil {
		logger.Error("{main - shutdown} Failed to close store: %v", err)
	}
	logger.Info("{main - shutdown} Shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
