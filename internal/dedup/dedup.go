// Package dedup derives stable per-listing keys from marketplace URLs.
package dedup

import (
	"net/url"
	"regexp"
	"strings"
)

var idPattern = regexp.MustCompile(`(?:^|[?&])id=(\d+)`)

// ListingID extracts the numeric listing id from a listing link. It is
// tolerant of encoding variants as long as the id=<digits> pair survives.
// Returns "" when no id can be found.
func ListingID(link string) string {
	if link == "" {
		return ""
	}
	if u, err := url.Parse(link); err == nil {
		if id := u.Query().Get("id"); isDigits(id) {
			return id
		}
	}
	// Fall back to a raw scan for links that fail strict parsing.
	if m := idPattern.FindStringSubmatch(link); m != nil {
		return m[1]
	}
	if decoded, err := url.QueryUnescape(link); err == nil && decoded != link {
		if m := idPattern.FindStringSubmatch(decoded); m != nil {
			return m[1]
		}
	}
	return ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	return strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) == -1
}
