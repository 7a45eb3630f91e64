package bayes

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tigerliu/idlewatch/internal/domain"
)

// FeatureValue is one extracted feature: a score in [0,1] or Missing.
type FeatureValue struct {
	Score   float64
	Missing bool
}

// Vector maps feature names to extracted values in profile order.
type Vector map[string]FeatureValue

// Extract maps a final record to the profile's feature vector by applying
// each feature's rule to the raw value pulled from the record. A feature
// whose rule or raw input is absent falls back to the profile's
// missing_rule_score; with no fallback configured it is reported Missing.
func (p *Profile) Extract(record *domain.FinalRecord) Vector {
	out := make(Vector, len(p.FeatureNames))
	for _, name := range p.FeatureNames {
		out[name] = p.extractOne(name, record)
	}
	return out
}

func (p *Profile) extractOne(name string, record *domain.FinalRecord) FeatureValue {
	rule, haveRule := p.Rules[name]
	raw, haveRaw := rawFeatureValue(name, record)
	if !haveRule || !haveRaw {
		if score, ok := p.MissingScore(); ok {
			return FeatureValue{Score: clamp01(score)}
		}
		return FeatureValue{Missing: true}
	}
	score, ok := applyRule(rule, raw)
	if !ok {
		if fallback, have := p.MissingScore(); have {
			return FeatureValue{Score: clamp01(fallback)}
		}
		return FeatureValue{Missing: true}
	}
	return FeatureValue{Score: clamp01(score)}
}

// rawValue is either a number or a text snippet, depending on the feature.
type rawValue struct {
	num    float64
	text   string
	isText bool
}

func rawFeatureValue(name string, r *domain.FinalRecord) (rawValue, bool) {
	switch name {
	case "tenure":
		days, ok := parseDurationDays(r.Seller.RegisterDuration)
		return rawValue{num: days}, ok
	case "positive_rate":
		rate, ok := parsePercent(r.Seller.PositiveRate)
		return rawValue{num: rate}, ok
	case "seller_credit_level":
		if r.Seller.CreditLevel == "" {
			return rawValue{}, false
		}
		return rawValue{text: r.Seller.CreditLevel, isText: true}, true
	case "sales_ratio":
		total := r.Seller.SoldCount + r.Seller.OnSaleCount
		if total == 0 {
			return rawValue{}, false
		}
		return rawValue{num: float64(r.Seller.SoldCount) / float64(total)}, true
	case "used_years":
		years, ok := parseUsedYears(r.Item.Title)
		return rawValue{num: years}, ok
	case "freshness", "has_guarantee":
		text := r.Item.Title
		if text == "" {
			return rawValue{}, false
		}
		return rawValue{text: text, isText: true}, true
	default:
		return rawValue{}, false
	}
}

func applyRule(rule FeatureRule, raw rawValue) (float64, bool) {
	switch rule.Type {
	case "range":
		if raw.isText {
			return 0, false
		}
		for _, r := range rule.Ranges {
			if r.Min != nil && raw.num < *r.Min {
				continue
			}
			if r.Max != nil && raw.num >= *r.Max {
				continue
			}
			return r.Score, true
		}
		if rule.Default != nil {
			return *rule.Default, true
		}
		return 0, false
	case "keyword":
		if !raw.isText {
			return 0, false
		}
		best, found := 0.0, false
		for kw, score := range rule.Keywords {
			if strings.Contains(raw.text, kw) && (!found || score > best) {
				best, found = score, true
			}
		}
		if found {
			return best, true
		}
		if rule.Default != nil {
			return *rule.Default, true
		}
		return 0, false
	case "regex":
		if !raw.isText {
			return 0, false
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return 0, false
		}
		if re.MatchString(raw.text) {
			if rule.MatchScore != nil {
				return *rule.MatchScore, true
			}
			return 1, true
		}
		if rule.NoMatchScore != nil {
			return *rule.NoMatchScore, true
		}
		return 0, true
	default:
		return 0, false
	}
}

var (
	yearPattern    = regexp.MustCompile(`([\d.]+)\s*年`)
	monthPattern   = regexp.MustCompile(`(\d+)\s*个月`)
	dayPattern     = regexp.MustCompile(`(\d+)\s*天`)
	usedYearsRe    = regexp.MustCompile(`(?:用了|使用|入手)\s*([\d.]+)\s*年`)
	percentPattern = regexp.MustCompile(`([\d.]+)\s*%`)
)

// parseDurationDays converts a register-duration label back to days.
func parseDurationDays(label string) (float64, bool) {
	if label == "" || label == "未知" {
		return 0, false
	}
	if m := yearPattern.FindStringSubmatch(label); m != nil {
		if years, err := strconv.ParseFloat(m[1], 64); err == nil {
			return years * 365, true
		}
	}
	if m := monthPattern.FindStringSubmatch(label); m != nil {
		if months, err := strconv.ParseFloat(m[1], 64); err == nil {
			return months * 30, true
		}
	}
	if m := dayPattern.FindStringSubmatch(label); m != nil {
		if days, err := strconv.ParseFloat(m[1], 64); err == nil {
			return days, true
		}
	}
	return 0, false
}

func parsePercent(label string) (float64, bool) {
	if m := percentPattern.FindStringSubmatch(label); m != nil {
		if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
			return pct / 100, true
		}
	}
	return 0, false
}

func parseUsedYears(title string) (float64, bool) {
	if m := usedYearsRe.FindStringSubmatch(title); m != nil {
		if years, err := strconv.ParseFloat(m[1], 64); err == nil {
			return years, true
		}
	}
	return 0, false
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
