package taskcfg

import "strings"

// Municipalities administered directly; their region path uses two parts
// (city/district) instead of three at click time.
var directCities = map[string]bool{
	"北京": true,
	"上海": true,
	"天津": true,
	"重庆": true,
}

// NormalizeRegion strips the administrative "市" suffix from each segment of
// a slash-separated region path, e.g. "上海市/浦东新区" becomes "上海/浦东新区".
// District names ending in 市 that would collapse to a single rune are left
// alone.
func NormalizeRegion(region string) string {
	if region == "" {
		return ""
	}
	parts := strings.Split(region, "/")
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if trimmed := strings.TrimSuffix(p, "市"); trimmed != p && len([]rune(trimmed)) >= 2 {
			p = trimmed
		}
		parts[i] = p
	}
	return strings.Join(parts, "/")
}

// RegionClickPath splits a normalized region into the province/city/district
// sequence clicked in the region popover. For direct-administered cities the
// district level is omitted and only the first two parts are used.
func RegionClickPath(region string) []string {
	region = NormalizeRegion(region)
	if region == "" {
		return nil
	}
	parts := strings.Split(region, "/")
	if directCities[parts[0]] && len(parts) > 2 {
		parts = parts[:2]
	}
	return parts
}

// IsDirectCity reports whether the region's top level is a direct-administered
// city.
func IsDirectCity(region string) bool {
	parts := strings.SplitN(NormalizeRegion(region), "/", 2)
	return len(parts) > 0 && directCities[parts[0]]
}
