package parser

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"iptv-curator/work/logger"
	"iptv-curator/work/types"
	"iptv-curator/work/utils"

	"github.com/grafana/regexp"
)

// MaxAddressLength is the longest playable address accepted, in bytes.
const MaxAddressLength = 2000

// previewLength bounds how much of an unrecognized line is quoted in a warning.
const previewLength = 50

var (
	// ErrEmptyInput is reported for empty or whitespace-only playlists.
	ErrEmptyInput = errors.New("playlist is empty")
	// ErrNotText is reported for content that is not UTF-8 text.
	ErrNotText = errors.New("playlist is not valid text")
)

var (
	// #EXTINF:<duration><attributes>,<title>
	extinfRe = regexp.MustCompile(`^#EXTINF:\s*(-?\d+(?:\.\d+)?)(.*)$`)

	// address lines start with one of the playable schemes
	addressRe = regexp.MustCompile(`(?i)^(?:https?|rtmp|rtsp)://`)

	allowedSchemes = map[string]bool{"http": true, "https": true, "rtmp": true, "rtsp": true}

	deniedHosts = map[string]bool{"localhost": true, "127.0.0.1": true, "0.0.0.0": true, "::1": true}
)

// pendingChannel is an opened #EXTINF entry waiting for its address line.
type pendingChannel struct {
	line  int
	title string
	attrs Attributes
}

// ParsePlaylist converts playlist text into channel records. Per-line problems
// become warnings and never abort the parse. Only empty or non-text input
// returns an error, and the (empty) result is returned alongside it.
//
// Parameters:
//   - content: raw playlist text
//   - source: label stamped on every produced channel
//
// Returns:
//   - *types.ParseResult: channels plus collected warnings and errors, never nil
//   - error: ErrEmptyInput or ErrNotText for structurally invalid input
func ParsePlaylist(content, source string) (*types.ParseResult, error) {
	return ParsePlaylistAt(content, source, "")
}

// ParsePlaylistAt is ParsePlaylist for content fetched from baseURL. The base
// only matters for HLS master playlists, whose variant URIs may be relative.
func ParsePlaylistAt(content, source, baseURL string) (*types.ParseResult, error) {
	result := &types.ParseResult{Channels: []types.Channel{}, Errors: []string{}, Warnings: []string{}}

	if err := checkText(content); err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result, err
	}

	if IsMasterPlaylist(content) {
		parseMaster(content, source, baseURL, result)
		return result, nil
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		pending    *pendingChannel
		lineNum    int
		seenHeader bool
		firstLine  = true
	)

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if firstLine {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		if line == "" {
			continue
		}
		if firstLine {
			firstLine = false
			if strings.HasPrefix(line, "#EXTM3U") {
				seenHeader = true
				continue
			}
		}

		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			if pending != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: entry %q has no address and was discarded", pending.line, pending.title))
			}
			pending = openPending(line, lineNum, result)

		case strings.HasPrefix(line, "#"):
			// directives and comments

		case addressRe.MatchString(line):
			if pending == nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: address without metadata ignored: %s", lineNum, utils.Truncate(line, previewLength)))
				continue
			}
			if reason := ValidateAddress(line); reason != "" {
				result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: invalid address for %q: %s", lineNum, pending.title, reason))
			} else {
				result.Channels = append(result.Channels, pending.finalize(line, source))
			}
			pending = nil

		default:
			result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: unrecognized line skipped: %s", lineNum, utils.Truncate(line, previewLength)))
		}
	}

	if err := scanner.Err(); err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: reading stopped: %v", lineNum, err))
	}

	if pending != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: entry %q has no address and was discarded", pending.line, pending.title))
	}

	if !seenHeader {
		result.Warnings = append(result.Warnings, "missing #EXTM3U header")
	}

	logger.Debug("{parser/m3u8 - ParsePlaylist} %s: %d channels, %d warnings", source, len(result.Channels), len(result.Warnings))
	return result, nil
}

// checkText rejects input that cannot be a playlist at all.
func checkText(content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyInput
	}
	if !utf8.ValidString(content) || strings.ContainsRune(content, 0) {
		return ErrNotText
	}
	return nil
}

// openPending parses a metadata line. It returns nil, after recording a
// warning, when the line is malformed or carries an empty title.
func openPending(line string, lineNum int, result *types.ParseResult) *pendingChannel {
	m := extinfRe.FindStringSubmatch(line)
	if m == nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: malformed metadata line: %s", lineNum, utils.Truncate(line, previewLength)))
		return nil
	}

	attrPart, title, ok := splitTitle(m[2])
	if !ok {
		result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: metadata line has no title: %s", lineNum, utils.Truncate(line, previewLength)))
		return nil
	}

	title = utils.CleanChannelName(title)
	if title == "" {
		result.Warnings = append(result.Warnings, fmt.Sprintf("line %d: metadata line has an empty title", lineNum))
		return nil
	}

	return &pendingChannel{line: lineNum, title: title, attrs: ExtractAttributes(attrPart)}
}

// splitTitle splits "<attributes>,<title>" at the first comma outside quotes.
func splitTitle(rest string) (attrs, title string, ok bool) {
	inQuotes := false
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				return strings.TrimSpace(rest[:i]), strings.TrimSpace(rest[i+1:]), true
			}
		}
	}
	return "", "", false
}

func (p *pendingChannel) finalize(address, source string) types.Channel {
	category := strings.TrimSpace(p.attrs.Group)
	if category == "" {
		category = types.DefaultCategory
	}
	return types.Channel{
		ID:       utils.ChannelID(p.title, address),
		Name:     p.title,
		URL:      address,
		Logo:     p.attrs.Logo,
		Category: category,
		Language: p.attrs.Language,
		Country:  p.attrs.Country,
		TvgID:    p.attrs.ID,
		Source:   source,
	}
}

// ValidateAddress checks a playable address and returns an empty string when
// it is acceptable, otherwise the reason it was rejected.
func ValidateAddress(address string) string {
	if len(address) > MaxAddressLength {
		return fmt.Sprintf("longer than %d characters", MaxAddressLength)
	}
	u, err := url.Parse(address)
	if err != nil {
		return "unparseable address"
	}
	if !allowedSchemes[strings.ToLower(u.Scheme)] {
		return fmt.Sprintf("scheme %q not allowed", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "missing host"
	}
	if deniedHosts[host] {
		return fmt.Sprintf("host %s not allowed", host)
	}
	return ""
}
