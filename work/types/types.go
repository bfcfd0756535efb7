package types

import (
	"time"
)

// DefaultCategory is assigned to channels that carry no group label so that
// grouping never produces an empty bucket.
const DefaultCategory = "Undefined"

// Channel represents a single playable entry in the catalog. Channels are
// produced by the playlist parser or the provider client and are never
// mutated after creation; re-ingesting a source replaces its channels wholesale.
//
// The ID is derived from (Name, URL) only, so re-importing an unchanged source
// reproduces the same identifiers.
type Channel struct {
	ID       string `json:"id"`                 // Deterministic identifier derived from name and address
	Name     string `json:"name"`               // Cleaned display name
	URL      string `json:"url"`                // Playable address
	Logo     string `json:"logo,omitempty"`     // Optional logo address (tvg-logo)
	Category string `json:"category"`           // Group label, DefaultCategory when absent
	Language string `json:"language,omitempty"` // Optional tvg-language
	Country  string `json:"country,omitempty"`  // Optional tvg-country
	TvgID    string `json:"tvgId,omitempty"`    // Optional EPG identifier (tvg-id)
	Source   string `json:"source"`             // Label of the source that produced this channel
	RunID    string `json:"runId,omitempty"`    // Ingestion run that produced this channel
}

// ParseResult is the uniform output of every ingestion path. Per-entry problems
// land in Warnings, source-level failures land in Errors; Channels always holds
// everything that could be parsed.
type ParseResult struct {
	Channels []Channel `json:"channels"`
	Errors   []string  `json:"errors"`
	Warnings []string  `json:"warnings"`
}

// VODResult is the provider's on-demand catalog shape.
type VODResult struct {
	Movies   []Channel `json:"movies"`
	Series   []Series  `json:"series"`
	Errors   []string  `json:"errors"`
	Warnings []string  `json:"warnings"`
}

// Series is a provider series entry. Episodes are not resolved.
type Series struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Cover    string `json:"cover,omitempty"`
	Category string `json:"category"`
	Plot     string `json:"plot,omitempty"`
	Source   string `json:"source"`
}

// Status is the reachability state reported for a channel.
type Status string

const (
	StatusOnline   Status = "online"
	StatusOffline  Status = "offline"
	StatusChecking Status = "checking"
	StatusUnknown  Status = "unknown"
)

// ChannelStatus is the validator's per-channel assessment.
//
// Reliability is always within [0,100]. Records are updated on every probe and
// never dropped on failure.
type ChannelStatus struct {
	ChannelID   string    `json:"channelId"`
	URL         string    `json:"url"`
	Status      Status    `json:"status"`
	LastChecked time.Time `json:"lastChecked"`
	LatencyMs   *int64    `json:"latencyMs,omitempty"`
	Error       string    `json:"error,omitempty"`
	Reliability int       `json:"reliability"`
}

// ValidationResult is the outcome of a single probe.
type ValidationResult struct {
	ChannelID      string `json:"channelId"`
	IsWorking      bool   `json:"isWorking"`
	ResponseTimeMs int64  `json:"responseTime"`
	ErrorMessage   string `json:"errorMessage,omitempty"`
}

// WatchHistoryEntry records a channel being watched.
type WatchHistoryEntry struct {
	Channel   Channel       `json:"channel"`
	Category  string        `json:"category"`
	WatchedAt time.Time     `json:"watchedAt"`
	Duration  time.Duration `json:"duration"`
}

// RecommendationScore is computed per ranking request and never persisted.
type RecommendationScore struct {
	ChannelID string   `json:"channelId"`
	Score     float64  `json:"score"`
	Reasons   []string `json:"reasons,omitempty"`
}
