package parser

import (
	"bufio"
	"fmt"
	"strings"
)

// MaxContentSize is the largest playlist accepted by ValidateContent.
const MaxContentSize = 10 * 1024 * 1024

// ContentCheck is the outcome of the structural pre-check.
type ContentCheck struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

// ValidateContent is a cheap structural guard run before ParsePlaylist. It
// rejects oversized input and input with no metadata line or no address line.
// It does not replace parsing: a valid check can still parse to zero channels.
func ValidateContent(content string) ContentCheck {
	var reasons []string

	if len(content) > MaxContentSize {
		reasons = append(reasons, fmt.Sprintf("content is %d bytes, limit is %d", len(content), MaxContentSize))
		return ContentCheck{Valid: false, Reasons: reasons}
	}

	var hasMetadata, hasAddress bool
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() && !(hasMetadata && hasAddress) {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			hasMetadata = true
		case addressRe.MatchString(line):
			hasAddress = true
		}
	}

	if !hasMetadata {
		reasons = append(reasons, "no #EXTINF metadata line found")
	}
	if !hasAddress {
		reasons = append(reasons, "no http, https, rtmp or rtsp address line found")
	}
	return ContentCheck{Valid: len(reasons) == 0, Reasons: reasons}
}
