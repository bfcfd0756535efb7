package utils

import (
	"net/url"
	"strconv"
	"strings"
	"unicode"

	"iptv-curator/work/config"

	"github.com/cespare/xxhash/v2"
)

// IDPrefix tags identifiers produced by ChannelID. The digit is the hash
// version: v1 is xxhash64 over name + "-" + address, base-36 encoded.
const IDPrefix = "ch1_"

// MaxNameLength caps cleaned channel names, in runes.
const MaxNameLength = 100

// nameSymbols are the punctuation characters kept by CleanChannelName.
const nameSymbols = "-_.,:;!?&'()[]+/|#@*"

// LogURL returns either the original URL or an obfuscated version for logging
func LogURL(cfg *config.Config, url string) string {
	if cfg != nil && cfg.ObfuscateUrls {
		return ObfuscateURL(url)
	}
	return url
}

// ChannelID derives the stable channel identifier from name and address.
// Collisions are possible and accepted; callers key maps by the result with
// last-write-wins semantics.
func ChannelID(name, address string) string {
	return IDPrefix + strconv.FormatUint(xxhash.Sum64String(name+"-"+address), 36)
}

// PopularityHint maps a channel id onto [0,100) deterministically. It is only
// used as a tiebreaker when no real popularity data exists.
func PopularityHint(id string) int {
	return int(xxhash.Sum64String(id) % 100)
}

// CleanChannelName strips characters outside the allow-list, collapses
// internal whitespace and caps the result at MaxNameLength runes.
func CleanChannelName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case strings.ContainsRune(nameSymbols, r):
			b.WriteRune(r)
		}
	}

	cleaned := strings.Join(strings.Fields(b.String()), " ")
	if runes := []rune(cleaned); len(runes) > MaxNameLength {
		cleaned = strings.TrimSpace(string(runes[:MaxNameLength]))
	}
	return cleaned
}

// Truncate shortens s to n runes, appending "..." when cut.
func Truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// ObfuscateURL keeps scheme and host and masks everything that may carry
// credentials.
func ObfuscateURL(urlStr string) string {
	if urlStr == "" {
		return ""
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return "***OBFUSCATED***"
	}

	result := u.Scheme + "://" + u.Host
	if u.Path != "" && u.Path != "/" {
		result += "/***"
	}
	if u.RawQuery != "" {
		result += "?***"
	}
	if u.Fragment != "" {
		result += "#***"
	}

	return result
}
