// Package session persists per-account browser session snapshots.
package session

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tigerliu/idlewatch/internal/domain"
)

// Cookie domains the marketplace session spans. Anything else captured by the
// browser is dropped from snapshots.
var marketplaceDomains = []string{"goofish.com", "taobao.com"}

// Cookies the marketplace requires for an authenticated session.
var requiredCookies = []string{"_m_h5_tk", "cookie2", "sgcookie"}

// CanonicalizeCookies filters cookies to the marketplace domain set,
// deduplicates by (name, domain, path) keeping the entry with the latest
// expiry, normalizes sameSite and sorts the result. It is idempotent.
func CanonicalizeCookies(cookies []domain.Cookie) []domain.Cookie {
	type key struct{ name, domain, path string }
	byKey := make(map[key]domain.Cookie)
	for _, c := range cookies {
		if c.Name == "" || !onMarketplaceDomain(c.Domain) {
			continue
		}
		c.SameSite = normalizeSameSite(c.SameSite)
		k := key{c.Name, c.Domain, c.Path}
		if prev, ok := byKey[k]; !ok || c.Expires > prev.Expires {
			byKey[k] = c
		}
	}
	out := make([]domain.Cookie, 0, len(byKey))
	for _, c := range byKey {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		if out[i].Domain != out[j].Domain {
			return out[i].Domain < out[j].Domain
		}
		return out[i].Path < out[j].Path
	})
	return out
}

func onMarketplaceDomain(d string) bool {
	d = strings.TrimPrefix(strings.ToLower(d), ".")
	for _, allowed := range marketplaceDomains {
		if d == allowed || strings.HasSuffix(d, "."+allowed) {
			return true
		}
	}
	return false
}

func normalizeSameSite(v string) string {
	switch strings.ToLower(v) {
	case "none", "no_restriction":
		return "None"
	case "strict":
		return "Strict"
	default:
		return "Lax"
	}
}

// fingerprintProjection is the canonical cookie projection hashed into the
// snapshot fingerprint.
type fingerprintProjection struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain"`
	Path    string  `json:"path"`
	Expires float64 `json:"expires"`
}

// Fingerprint hashes the canonical projection of cookies. Equal cookie sets
// yield equal fingerprints regardless of input ordering.
func Fingerprint(hasher domain.Hasher, cookies []domain.Cookie) (string, error) {
	canon := CanonicalizeCookies(cookies)
	projection := make([]fingerprintProjection, 0, len(canon))
	for _, c := range canon {
		projection = append(projection, fingerprintProjection{
			Name:    c.Name,
			Value:   c.Value,
			Domain:  c.Domain,
			Path:    c.Path,
			Expires: c.Expires,
		})
	}
	payload, err := json.Marshal(projection)
	if err != nil {
		return "", fmt.Errorf("marshal cookie projection: %w", err)
	}
	return hasher.Hash(payload)
}

// CookiesValidAt reports whether the cookie set constitutes a usable session
// at time now: every required cookie is present and, when it carries a
// positive expiry, not yet expired.
func CookiesValidAt(cookies []domain.Cookie, now time.Time) bool {
	present := make(map[string]domain.Cookie, len(cookies))
	for _, c := range cookies {
		if prev, ok := present[c.Name]; !ok || c.Expires > prev.Expires {
			present[c.Name] = c
		}
	}
	for _, name := range requiredCookies {
		c, ok := present[name]
		if !ok {
			return false
		}
		if c.Expires > 0 && float64(now.Unix()) >= c.Expires {
			return false
		}
	}
	return true
}
