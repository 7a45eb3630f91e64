package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tigerliu/idlewatch/internal/domain"
)

// ExtractJSON strips Markdown code fences and, when the remainder still is
// not a bare object, falls back to the innermost {...} substring.
func ExtractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if json.Valid([]byte(s)) {
		return s
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// rawAnalysis accepts the loosely-typed shape models actually return.
type rawAnalysis struct {
	PromptVersion       string          `json:"prompt_version"`
	RecommendationLevel string          `json:"recommendation_level"`
	ConfidenceScore     *float64        `json:"confidence_score"`
	IsRecommended       *bool           `json:"is_recommended"`
	Reason              string          `json:"reason"`
	ActionRequired      json.RawMessage `json:"action_required"`
	RiskTags            json.RawMessage `json:"risk_tags"`
	CriteriaAnalysis    map[string]json.RawMessage `json:"criteria_analysis"`
}

// Normalize validates the classifier JSON and applies the minimal
// auto-repairs the schema permits: 0-100 confidence is rescaled and clamped
// to [0,1], is_recommended is corrected from the level, and the two list
// fields are coerced to empty lists when malformed.
func Normalize(raw []byte) (*domain.AIAnalysis, error) {
	var r rawAnalysis
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("parse classifier json: %w", err)
	}

	level := strings.ToUpper(strings.TrimSpace(r.RecommendationLevel))
	switch level {
	case domain.LevelStrongBuy, domain.LevelCautiousBuy, domain.LevelConditionalBuy, domain.LevelNotRecommended:
	default:
		return nil, fmt.Errorf("unknown recommendation_level %q", r.RecommendationLevel)
	}

	if len(r.CriteriaAnalysis) == 0 {
		return nil, fmt.Errorf("criteria_analysis is empty")
	}
	if _, ok := r.CriteriaAnalysis["seller_type"]; !ok {
		return nil, fmt.Errorf("criteria_analysis missing seller_type")
	}

	confidence := 0.0
	if r.ConfidenceScore != nil {
		confidence = *r.ConfidenceScore
	}
	if confidence > 1 {
		confidence /= 100
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	analysis := &domain.AIAnalysis{
		PromptVersion:       r.PromptVersion,
		RecommendationLevel: level,
		ConfidenceScore:     confidence,
		Reason:              r.Reason,
		ActionRequired:      coerceStringList(r.ActionRequired),
		RiskTags:            coerceStringList(r.RiskTags),
		CriteriaAnalysis:    r.CriteriaAnalysis,
	}
	analysis.IsRecommended = analysis.Recommended()
	return analysis, nil
}

// coerceStringList accepts a JSON array of strings; anything else becomes an
// empty list. Non-string elements are stringified rather than dropped.
func coerceStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var items []any
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			out = append(out, v)
		default:
			if b, err := json.Marshal(v); err == nil {
				out = append(out, string(b))
			}
		}
	}
	return out
}
