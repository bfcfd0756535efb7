package parser

import (
	"strings"

	"github.com/grafana/regexp"
)

// attrRe matches key="value" and unquoted key=value pairs.
var attrRe = regexp.MustCompile(`([\w-]+)=(?:"([^"]*)"|([^\s"]+))`)

// Attributes are the metadata-line attributes the catalog understands.
// Anything else on the line is dropped, tvg-name included: the title after
// the comma is the channel name.
type Attributes struct {
	ID       string // tvg-id
	Logo     string // tvg-logo
	Group    string // group-title
	Language string // tvg-language
	Country  string // tvg-country
}

// ExtractAttributes reads the recognized attributes from the part of a
// metadata line between the duration and the title. The first occurrence
// of a key wins.
func ExtractAttributes(s string) Attributes {
	var a Attributes
	for _, m := range attrRe.FindAllStringSubmatch(s, -1) {
		value := m[2]
		if value == "" {
			value = m[3]
		}
		value = strings.TrimSpace(value)

		var field *string
		switch strings.ToLower(m[1]) {
		case "tvg-id":
			field = &a.ID
		case "tvg-logo":
			field = &a.Logo
		case "group-title":
			field = &a.Group
		case "tvg-language":
			field = &a.Language
		case "tvg-country":
			field = &a.Country
		default:
			continue
		}
		if *field == "" {
			*field = value
		}
	}
	return a
}
