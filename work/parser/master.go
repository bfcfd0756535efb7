package parser

import (
	"fmt"
	"net/url"
	"sort"
	"strings"

	"iptv-curator/work/logger"
	"iptv-curator/work/types"
	"iptv-curator/work/utils"

	"github.com/grafov/m3u8"
)

// IsMasterPlaylist reports whether content is an HLS master playlist rather
// than a channel list. Master playlists carry variant streams and no #EXTINF.
func IsMasterPlaylist(content string) bool {
	return strings.Contains(content, "#EXT-X-STREAM-INF") && !strings.Contains(content, "#EXTINF")
}

// parseMaster turns each variant of an HLS master playlist into a channel
// named after the source and the variant quality, best bandwidth first.
// Relative variant URIs are resolved against baseURL; without a base they are
// skipped with a warning.
func parseMaster(content, source, baseURL string, result *types.ParseResult) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(content), true)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("master playlist could not be decoded: %v", err))
		return
	}
	if listType != m3u8.MASTER {
		result.Warnings = append(result.Warnings, "media playlist has no channels")
		return
	}

	master := playlist.(*m3u8.MasterPlaylist)
	variants := make([]*m3u8.Variant, 0, len(master.Variants))
	for _, v := range master.Variants {
		if v != nil && v.URI != "" {
			variants = append(variants, v)
		}
	}
	sort.SliceStable(variants, func(i, j int) bool {
		return variants[i].Bandwidth > variants[j].Bandwidth
	})

	for i, v := range variants {
		address, ok := resolveURL(v.URI, baseURL)
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("variant %d: relative address %s cannot be resolved", i+1, utils.Truncate(v.URI, previewLength)))
			continue
		}
		if reason := ValidateAddress(address); reason != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("variant %d: invalid address: %s", i+1, reason))
			continue
		}

		name := utils.CleanChannelName(variantName(source, v))
		result.Channels = append(result.Channels, types.Channel{
			ID:       utils.ChannelID(name, address),
			Name:     name,
			URL:      address,
			Category: types.DefaultCategory,
			Source:   source,
		})
	}

	logger.Debug("{parser/master - parseMaster} %s: %d variants", source, len(result.Channels))
}

func variantName(source string, v *m3u8.Variant) string {
	switch {
	case v.Name != "":
		return v.Name
	case v.Resolution != "":
		return fmt.Sprintf("%s %s", source, v.Resolution)
	default:
		return fmt.Sprintf("%s %dkbps", source, v.Bandwidth/1000)
	}
}

// resolveURL makes a variant URI absolute.
func resolveURL(ref, baseURL string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.IsAbs() {
		return ref, true
	}
	if baseURL == "" {
		return "", false
	}
	base, err := url.Parse(baseURL)
	if err != nil || !base.IsAbs() {
		return "", false
	}
	return base.ResolveReference(u).String(), true
}
