package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
)

// EnvPrefix is the prefix of environment overrides. Nested keys use a double
// underscore: CURATOR_STORE__BACKEND=redis sets store.backend.
const EnvPrefix = "CURATOR_"

// DefaultPath is where the host looks for its configuration file.
const DefaultPath = "/settings/config.json"

// Config holds all application configuration values for the curator.
type Config struct {
	Debug                 bool            // Enable debug logging
	LogLevel              string          // DEBUG, INFO, WARN or ERROR
	PrettyLogs            bool            // Console output instead of JSON lines
	ObfuscateUrls         bool            // Obfuscate URLs in logs for security
	ListenAddr            string          // Address of the host HTTP API
	UserAgent             string          // Default User-Agent for outbound requests
	CacheDuration         time.Duration   // Lifetime of cached playlist bodies and category maps
	ImportRefreshInterval time.Duration   // Interval for re-importing configured sources
	Store                 StoreConfig     // Durable key-value store
	Validator             ValidatorConfig // Reachability probing
	Recommend             RecommendConfig // Ranking weights
	Sources               []SourceConfig  // Configured channel sources
}

// StoreConfig selects the durable key-value backend.
type StoreConfig struct {
	Backend  string `koanf:"backend"`  // memory, file, sqlite or redis
	Path     string `koanf:"path"`     // directory for file, database file for sqlite
	RedisURL string `koanf:"redisurl"` // redis://host:port/db
	Prefix   string `koanf:"prefix"`   // key prefix for redis
}

// ValidatorConfig tunes the reliability validator.
type ValidatorConfig struct {
	ProbeTimeout    time.Duration // Hard timeout of a single probe
	BatchSize       int           // Concurrent probes per batch
	BatchDelay      time.Duration // Pause between batches
	FreshnessWindow time.Duration // Age after which a status reads as unknown
	RefreshInterval time.Duration // Background revalidation period
	TopWatched      int           // Channels revalidated per background cycle
}

// RecommendConfig holds the scoring weights. All of them are empirical.
type RecommendConfig struct {
	ReliabilityWeight      float64
	OnlineBonus            float64
	FastBonus              float64
	FastThreshold          time.Duration
	WatchCountWeight       float64
	WatchCountCap          float64
	AffinityWeight         float64
	AffinityCap            float64
	PreferredCategoryBonus float64
	RecentBonus            float64
	RecentFrom             int // first 1-based recency rank that gets RecentBonus
	RecentTo               int // last 1-based recency rank that gets RecentBonus
	RecentLimit            int // length of the recently-watched list
	LanguageBonus          float64
	CountryBonus           float64
	PopularityWeight       float64
	AltReliabilityWeight   float64
	AltSimilarityWeight    float64
	AltOnlineBonus         float64
	AltSimilarityThreshold float64
	DefaultReliability     int
}

// SourceConfig represents the configuration for a single channel source.
// A source with Username and Password is treated as an Xtream provider.
type SourceConfig struct {
	Name               string        // Descriptive name, also the source label on channels
	URL                string        // Playlist URL or provider server
	Username           string        // XC Username
	Password           string        // XC Password
	MaxConnections     int           // Concurrent requests to this source
	RateLimit          int           // Requests per second towards this source
	MaxRetries         int           // Retries on 429/5xx
	RetryDelay         time.Duration // Base backoff between retries
	Timeout            time.Duration // Per-request timeout
	UserAgent          string        // HTTP User-Agent header for requests
	ReqOrigin          string        // HTTP Origin header for requests
	ReqReferrer        string        // HTTP Referer header for requests
	LiveIncludeRegex   string        // Live channels must match when set
	LiveExcludeRegex   string        // Live channels matching are dropped
	SeriesIncludeRegex string        // Series entries must match when set
	SeriesExcludeRegex string        // Series entries matching are dropped
	VODIncludeRegex    string        // Movie entries must match when set
	VODExcludeRegex    string        // Movie entries matching are dropped
}

// IsXtream reports whether the source carries provider credentials.
func (s *SourceConfig) IsXtream() bool {
	return s.Username != "" && s.Password != ""
}

// ConfigFile is the on-disk shape. Durations are strings ("30m") parsed
// into time.Duration by convertFromFile. Tags are lower case so env overrides
// match exactly and win over camelCase file keys.
type ConfigFile struct {
	Debug                 bool                `koanf:"debug"`
	LogLevel              string              `koanf:"loglevel"`
	PrettyLogs            bool                `koanf:"prettylogs"`
	ObfuscateUrls         bool                `koanf:"obfuscateurls"`
	ListenAddr            string              `koanf:"listenaddr"`
	UserAgent             string              `koanf:"useragent"`
	CacheDuration         string              `koanf:"cacheduration"`
	ImportRefreshInterval string              `koanf:"importrefreshinterval"`
	Store                 StoreConfig         `koanf:"store"`
	Validator             ValidatorConfigFile `koanf:"validator"`
	Recommend             RecommendConfigFile `koanf:"recommend"`
	Sources               []SourceConfigFile  `koanf:"sources"`
}

// ValidatorConfigFile is ValidatorConfig with string durations.
type ValidatorConfigFile struct {
	ProbeTimeout    string `koanf:"probetimeout"`
	BatchSize       int    `koanf:"batchsize"`
	BatchDelay      string `koanf:"batchdelay"`
	FreshnessWindow string `koanf:"freshnesswindow"`
	RefreshInterval string `koanf:"refreshinterval"`
	TopWatched      int    `koanf:"topwatched"`
}

// RecommendConfigFile is RecommendConfig with string durations. Zero values
// fall back to defaults.
type RecommendConfigFile struct {
	ReliabilityWeight      float64 `koanf:"reliabilityweight"`
	OnlineBonus            float64 `koanf:"onlinebonus"`
	FastBonus              float64 `koanf:"fastbonus"`
	FastThreshold          string  `koanf:"fastthreshold"`
	WatchCountWeight       float64 `koanf:"watchcountweight"`
	WatchCountCap          float64 `koanf:"watchcountcap"`
	AffinityWeight         float64 `koanf:"affinityweight"`
	AffinityCap            float64 `koanf:"affinitycap"`
	PreferredCategoryBonus float64 `koanf:"preferredcategorybonus"`
	RecentBonus            float64 `koanf:"recentbonus"`
	RecentFrom             int     `koanf:"recentfrom"`
	RecentTo               int     `koanf:"recentto"`
	RecentLimit            int     `koanf:"recentlimit"`
	LanguageBonus          float64 `koanf:"languagebonus"`
	CountryBonus           float64 `koanf:"countrybonus"`
	PopularityWeight       float64 `koanf:"popularityweight"`
	AltReliabilityWeight   float64 `koanf:"altreliabilityweight"`
	AltSimilarityWeight    float64 `koanf:"altsimilarityweight"`
	AltOnlineBonus         float64 `koanf:"altonlinebonus"`
	AltSimilarityThreshold float64 `koanf:"altsimilaritythreshold"`
	DefaultReliability     int     `koanf:"defaultreliability"`
}

// SourceConfigFile represents the source configuration on disk.
type SourceConfigFile struct {
	Name               string `koanf:"name"`
	URL                string `koanf:"url"`
	Username           string `koanf:"username"`
	Password           string `koanf:"password"`
	MaxConnections     int    `koanf:"maxconnections"`
	RateLimit          int    `koanf:"ratelimit"`
	MaxRetries         int    `koanf:"maxretries"`
	RetryDelay         string `koanf:"retrydelay"`
	Timeout            string `koanf:"timeout"`
	UserAgent          string `koanf:"useragent"`
	ReqOrigin          string `koanf:"reqorigin"`
	ReqReferrer        string `koanf:"reqreferrer"`
	LiveIncludeRegex   string `koanf:"liveincluderegex"`
	LiveExcludeRegex   string `koanf:"liveexcluderegex"`
	SeriesIncludeRegex string `koanf:"seriesincluderegex"`
	SeriesExcludeRegex string `koanf:"seriesexcluderegex"`
	VODIncludeRegex    string `koanf:"vodincluderegex"`
	VODExcludeRegex    string `koanf:"vodexcluderegex"`
}

// Load reads the configuration file at path (JSON or YAML by extension),
// applies CURATOR_ environment overrides and fills defaults. A missing file
// is not an error; a malformed one is.
//
// Parameters:
//   - path: configuration file, may be empty to use environment and defaults only
//
// Returns:
//   - *Config: fully validated configuration object
//   - error: if reading, parsing or duration conversion failed
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
				return nil, oops.In("config").With("path", path).Wrapf(err, "failed to parse config file")
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, oops.In("config").With("path", path).Wrapf(err, "failed to stat config file")
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to read environment overrides")
	}

	var cf ConfigFile
	if err := k.Unmarshal("", &cf); err != nil {
		return nil, oops.In("config").Wrapf(err, "failed to decode configuration")
	}

	cfg, err := convertFromFile(&cf)
	if err != nil {
		return nil, err
	}
	validateAndSetDefaults(cfg)
	return cfg, nil
}

// envKey maps CURATOR_STORE__BACKEND to store.backend.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	default:
		return json.Parser()
	}
}

// parseDuration treats an empty string as zero so defaults can apply.
func parseDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

// convertFromFile converts a ConfigFile to Config,
// parsing duration strings into time.Duration.
func convertFromFile(cf *ConfigFile) (*Config, error) {
	cfg := &Config{
		Debug:         cf.Debug,
		LogLevel:      cf.LogLevel,
		PrettyLogs:    cf.PrettyLogs,
		ObfuscateUrls: cf.ObfuscateUrls,
		ListenAddr:    cf.ListenAddr,
		UserAgent:     cf.UserAgent,
		Store:         cf.Store,
		Validator: ValidatorConfig{
			BatchSize:  cf.Validator.BatchSize,
			TopWatched: cf.Validator.TopWatched,
		},
		Recommend: RecommendConfig{
			ReliabilityWeight:      cf.Recommend.ReliabilityWeight,
			OnlineBonus:            cf.Recommend.OnlineBonus,
			FastBonus:              cf.Recommend.FastBonus,
			WatchCountWeight:       cf.Recommend.WatchCountWeight,
			WatchCountCap:          cf.Recommend.WatchCountCap,
			AffinityWeight:         cf.Recommend.AffinityWeight,
			AffinityCap:            cf.Recommend.AffinityCap,
			PreferredCategoryBonus: cf.Recommend.PreferredCategoryBonus,
			RecentBonus:            cf.Recommend.RecentBonus,
			RecentFrom:             cf.Recommend.RecentFrom,
			RecentTo:               cf.Recommend.RecentTo,
			RecentLimit:            cf.Recommend.RecentLimit,
			LanguageBonus:          cf.Recommend.LanguageBonus,
			CountryBonus:           cf.Recommend.CountryBonus,
			PopularityWeight:       cf.Recommend.PopularityWeight,
			AltReliabilityWeight:   cf.Recommend.AltReliabilityWeight,
			AltSimilarityWeight:    cf.Recommend.AltSimilarityWeight,
			AltOnlineBonus:         cf.Recommend.AltOnlineBonus,
			AltSimilarityThreshold: cf.Recommend.AltSimilarityThreshold,
			DefaultReliability:     cf.Recommend.DefaultReliability,
		},
	}

	var err error
	if cfg.CacheDuration, err = parseDuration("cacheDuration", cf.CacheDuration); err != nil {
		return nil, err
	}
	if cfg.ImportRefreshInterval, err = parseDuration("importRefreshInterval", cf.ImportRefreshInterval); err != nil {
		return nil, err
	}
	if cfg.Validator.ProbeTimeout, err = parseDuration("validator.probeTimeout", cf.Validator.ProbeTimeout); err != nil {
		return nil, err
	}
	if cfg.Validator.BatchDelay, err = parseDuration("validator.batchDelay", cf.Validator.BatchDelay); err != nil {
		return nil, err
	}
	if cfg.Validator.FreshnessWindow, err = parseDuration("validator.freshnessWindow", cf.Validator.FreshnessWindow); err != nil {
		return nil, err
	}
	if cfg.Validator.RefreshInterval, err = parseDuration("validator.refreshInterval", cf.Validator.RefreshInterval); err != nil {
		return nil, err
	}
	if cfg.Recommend.FastThreshold, err = parseDuration("recommend.fastThreshold", cf.Recommend.FastThreshold); err != nil {
		return nil, err
	}

	cfg.Sources = make([]SourceConfig, len(cf.Sources))
	for i, srcFile := range cf.Sources {
		src := &cfg.Sources[i]
		src.Name = srcFile.Name
		src.URL = srcFile.URL
		src.Username = srcFile.Username
		src.Password = srcFile.Password
		src.MaxConnections = srcFile.MaxConnections
		src.RateLimit = srcFile.RateLimit
		src.MaxRetries = srcFile.MaxRetries
		src.UserAgent = srcFile.UserAgent
		src.ReqOrigin = srcFile.ReqOrigin
		src.ReqReferrer = srcFile.ReqReferrer
		src.LiveIncludeRegex = srcFile.LiveIncludeRegex
		src.LiveExcludeRegex = srcFile.LiveExcludeRegex
		src.SeriesIncludeRegex = srcFile.SeriesIncludeRegex
		src.SeriesExcludeRegex = srcFile.SeriesExcludeRegex
		src.VODIncludeRegex = srcFile.VODIncludeRegex
		src.VODExcludeRegex = srcFile.VODExcludeRegex

		if src.RetryDelay, err = parseDuration("retryDelay for source "+src.Name, srcFile.RetryDelay); err != nil {
			return nil, err
		}
		if src.Timeout, err = parseDuration("timeout for source "+src.Name, srcFile.Timeout); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns a baseline configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	validateAndSetDefaults(cfg)
	return cfg
}

// validateAndSetDefaults ensures all config values are valid,
// filling in defaults for missing/invalid ones.
func validateAndSetDefaults(cfg *Config) {
	if cfg.LogLevel == "" {
		cfg.LogLevel = "INFO"
	}
	if cfg.Debug {
		cfg.LogLevel = "DEBUG"
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "VLC/3.0.18 LibVLC/3.0.18"
	}
	if cfg.CacheDuration <= 0 {
		cfg.CacheDuration = 30 * time.Minute
	}
	if cfg.ImportRefreshInterval <= 0 {
		cfg.ImportRefreshInterval = 12 * time.Hour
	}

	if cfg.Store.Backend == "" {
		cfg.Store.Backend = "memory"
	}
	if cfg.Store.Path == "" {
		switch cfg.Store.Backend {
		case "sqlite":
			cfg.Store.Path = "/settings/curator.db"
		case "file":
			cfg.Store.Path = "/settings/state"
		}
	}
	if cfg.Store.Prefix == "" {
		cfg.Store.Prefix = "curator:"
	}

	cfg.Validator.SetDefaults()
	setRecommendDefaults(&cfg.Recommend)

	for i := range cfg.Sources {
		src := &cfg.Sources[i]
		if src.Name == "" {
			src.Name = fmt.Sprintf("Source_%d", i+1)
		}
		if src.MaxConnections <= 0 {
			src.MaxConnections = 5
		}
		if src.RateLimit <= 0 {
			src.RateLimit = 5
		}
		if src.MaxRetries < 0 {
			src.MaxRetries = 0
		}
		if src.RetryDelay <= 0 {
			src.RetryDelay = 2 * time.Second
		}
		if src.Timeout <= 0 {
			src.Timeout = 30 * time.Second
		}
		if src.UserAgent == "" {
			src.UserAgent = cfg.UserAgent
		}
	}
}

func setRecommendDefaults(r *RecommendConfig) {
	def := func(v *float64, d float64) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&r.ReliabilityWeight, 0.4)
	def(&r.OnlineBonus, 20)
	def(&r.FastBonus, 10)
	def(&r.WatchCountWeight, 5)
	def(&r.WatchCountCap, 25)
	def(&r.AffinityWeight, 2)
	def(&r.AffinityCap, 15)
	def(&r.PreferredCategoryBonus, 15)
	def(&r.RecentBonus, 10)
	def(&r.LanguageBonus, 8)
	def(&r.CountryBonus, 8)
	def(&r.PopularityWeight, 0.1)
	def(&r.AltReliabilityWeight, 0.6)
	def(&r.AltSimilarityWeight, 0.3)
	def(&r.AltOnlineBonus, 10)
	def(&r.AltSimilarityThreshold, 0.5)

	if r.FastThreshold <= 0 {
		r.FastThreshold = 2 * time.Second
	}
	if r.RecentFrom <= 0 {
		r.RecentFrom = 3
	}
	if r.RecentTo < r.RecentFrom {
		r.RecentTo = r.RecentFrom + 4
	}
	if r.RecentLimit <= 0 {
		r.RecentLimit = 10
	}
	if r.DefaultReliability <= 0 || r.DefaultReliability > 100 {
		r.DefaultReliability = 50
	}
}

// SetDefaults fills every unset or non-positive validator setting.
func (v *ValidatorConfig) SetDefaults() {
	if v.ProbeTimeout <= 0 {
		v.ProbeTimeout = 10 * time.Second
	}
	if v.BatchSize <= 0 {
		v.BatchSize = 5
	}
	if v.BatchDelay <= 0 {
		v.BatchDelay = time.Second
	}
	if v.FreshnessWindow <= 0 {
		v.FreshnessWindow = 5 * time.Minute
	}
	if v.RefreshInterval <= 0 {
		v.RefreshInterval = 10 * time.Minute
	}
	if v.TopWatched <= 0 {
		v.TopWatched = 50
	}
}
