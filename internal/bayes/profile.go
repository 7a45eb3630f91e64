// Package bayes implements the rule-table feature extractor and the
// Gaussian-Naive-Bayes scorer driven by a JSON profile. All weights,
// thresholds and keyword bags are data; nothing here is hardcoded to a
// particular rubric.
package bayes

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultFeatureNames is the feature vector layout used when a profile omits
// feature_names.
var DefaultFeatureNames = []string{
	"tenure",
	"positive_rate",
	"seller_credit_level",
	"sales_ratio",
	"used_years",
	"freshness",
	"has_guarantee",
}

// RangeRule maps a numeric interval to a score. Min/Max are inclusive lower,
// exclusive upper bounds; a nil bound is open.
type RangeRule struct {
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
	Score float64  `json:"score"`
}

// FeatureRule is one entry in bayes_feature_rules.
type FeatureRule struct {
	Type         string             `json:"type"` // range | keyword | regex
	Ranges       []RangeRule        `json:"ranges,omitempty"`
	Keywords     map[string]float64 `json:"keywords,omitempty"`
	Pattern      string             `json:"pattern,omitempty"`
	MatchScore   *float64           `json:"match_score,omitempty"`
	NoMatchScore *float64           `json:"nomatch_score,omitempty"`
	Default      *float64           `json:"default,omitempty"`
}

// Samples embeds labeled feature vectors used to estimate the NB parameters.
type Samples struct {
	Credible  [][]float64 `json:"credible"`
	Untrusted [][]float64 `json:"untrusted"`
}

// Fusion carries the recommendation_fusion section consumed by the scorer.
type Fusion struct {
	Weights          map[string]float64  `json:"weights"`
	WeightsNoVisual  map[string]float64  `json:"weights_no_visual"`
	BayesWeights     map[string]float64  `json:"bayes_feature_weights"`
	VisualWeights    map[string]float64  `json:"visual_feature_weights"`
	VisualKeywords   map[string][]string `json:"visual_keyword_bags"`
	MissingRuleScore *float64            `json:"missing_rule_score,omitempty"`
	MaxImages        int                 `json:"max_images"`
	CompletenessFloor float64            `json:"completeness_floor"`
	PerTagPenalty    float64             `json:"per_tag_penalty"`
	MaxPenalty       float64             `json:"max_penalty"`
	RiskPersona      []string            `json:"risk_persona_keywords"`
	OptimismPersona  []string            `json:"optimism_persona_keywords"`
}

// Profile is the on-disk bayes profile (prompts/bayes/<name>.json).
type Profile struct {
	FeatureNames []string               `json:"feature_names"`
	Rules        map[string]FeatureRule `json:"bayes_feature_rules"`
	Samples      Samples                `json:"_samples"`
	PriorsMode   string                 `json:"_priors_mode"` // uniform | empirical
	StatsMode    string                 `json:"_stats_mode"`
	MinVariance  float64                `json:"_min_variance"`
	Fusion       Fusion                 `json:"recommendation_fusion"`
}

// Default returns a profile with no rules, usable when no profile file is
// deployed. Scoring against it yields the missing_rules status.
func Default() *Profile {
	p := &Profile{}
	p.applyDefaults()
	return p
}

// LoadProfile reads and validates a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bayes profile %s: %w", path, err)
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode bayes profile %s: %w", path, err)
	}
	p.applyDefaults()
	return &p, nil
}

func (p *Profile) applyDefaults() {
	if len(p.FeatureNames) == 0 {
		p.FeatureNames = append([]string(nil), DefaultFeatureNames...)
	}
	if p.MinVariance <= 0 {
		p.MinVariance = 1e-4
	}
	if p.Fusion.MaxImages <= 0 {
		p.Fusion.MaxImages = 9
	}
	if p.Fusion.PerTagPenalty <= 0 {
		p.Fusion.PerTagPenalty = 5
	}
	if p.Fusion.MaxPenalty <= 0 {
		p.Fusion.MaxPenalty = 20
	}
}

// MissingScore returns the configured fallback for features whose rule or
// input is missing, and whether one is configured at all.
func (p *Profile) MissingScore() (float64, bool) {
	if p.Fusion.MissingRuleScore != nil {
		return *p.Fusion.MissingRuleScore, true
	}
	return 0, false
}
