// Package score fuses the Bayesian, visual and LLM signals into the 0-100
// recommendation score attached to records as recommendation_score_v2.
package score

import (
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/bayes"
	"github.com/tigerliu/idlewatch/internal/domain"
)

// Statuses reported in the score bundle.
const (
	StatusOK           = "ok"
	StatusMissingRules = "missing_rules"
)

const noImagesNote = "商品无有效图片"

var defaultWeights = map[string]float64{"bayes": 0.35, "visual": 0.25, "ai": 0.40}
var defaultWeightsNoVisual = map[string]float64{"bayes": 0.45, "ai": 0.55}

// Scorer computes fused recommendation scores from a bayes profile.
type Scorer struct {
	profile *bayes.Profile
	model   *bayes.GNB
	logger  *zap.Logger
}

// New builds a Scorer. A profile without usable samples still scores; the
// NB probability is simply absent from the breakdown.
func New(profile *bayes.Profile, logger *zap.Logger) *Scorer {
	s := &Scorer{profile: profile, logger: logger}
	model, err := bayes.Fit(profile)
	if err != nil {
		logger.Warn("bayes model not fitted", zap.Error(err))
	} else {
		s.model = model
	}
	return s
}

// Score fuses the three sub-scores. When a sub-score cannot be computed the
// bundle carries status missing_rules and no score; it never guesses.
func (s *Scorer) Score(record *domain.FinalRecord, analysis *domain.AIAnalysis) *domain.ScoreBundle {
	bundle := &domain.ScoreBundle{Status: StatusOK}

	bayesSub, bayesOK := s.bayesSubScore(record, analysis)
	bundle.Bayes = bayesSub

	visualSub, visualOK := s.visualSubScore(record, analysis)
	bundle.Visual = visualSub

	aiSub := &domain.SubScore{Value: clamp01(confidenceOf(analysis))}
	bundle.AI = aiSub

	if !bayesOK || !visualOK {
		bundle.Status = StatusMissingRules
		return bundle
	}

	weights := s.profile.Fusion.Weights
	if visualSub.Value <= 0 {
		weights = s.profile.Fusion.WeightsNoVisual
		if len(weights) == 0 {
			weights = defaultWeightsNoVisual
		}
	} else if len(weights) == 0 {
		weights = defaultWeights
	}
	bundle.WeightsUsed = weights

	fused := weights["bayes"]*bayesSub.Value +
		weights["visual"]*visualSub.Value +
		weights["ai"]*aiSub.Value

	penalty := s.riskPenalty(analysis)
	bundle.RiskPenalty = penalty

	final := int(math.Round(fused*100 - penalty))
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	bundle.Score = &final
	return bundle
}

func confidenceOf(analysis *domain.AIAnalysis) float64 {
	if analysis == nil {
		return 0
	}
	return analysis.ConfidenceScore
}

func (s *Scorer) riskPenalty(analysis *domain.AIAnalysis) float64 {
	if analysis == nil {
		return 0
	}
	penalty := float64(len(analysis.RiskTags)) * s.profile.Fusion.PerTagPenalty
	if penalty > s.profile.Fusion.MaxPenalty {
		penalty = s.profile.Fusion.MaxPenalty
	}
	return penalty
}

// bayesSubScore computes the weighted feature sum with the seller-persona
// adjustment. ok=false means the vector had uncomputable features.
func (s *Scorer) bayesSubScore(record *domain.FinalRecord, analysis *domain.AIAnalysis) (*domain.SubScore, bool) {
	vec := s.profile.Extract(record)
	sub := &domain.SubScore{Features: make(map[string]float64, len(vec))}
	for name, fv := range vec {
		if fv.Missing {
			sub.Missing = append(sub.Missing, name)
			continue
		}
		sub.Features[name] = fv.Score
	}
	if len(sub.Missing) > 0 {
		return sub, false
	}

	weights := s.profile.Fusion.BayesWeights
	total, weightSum := 0.0, 0.0
	for _, name := range s.profile.FeatureNames {
		w := 1.0
		if len(weights) > 0 {
			w = weights[name]
		}
		total += w * sub.Features[name]
		weightSum += w
	}
	if weightSum > 0 {
		total /= weightSum
	}

	total = s.applyPersona(total, analysis, sub)

	if s.model != nil {
		ordered := make([]float64, 0, len(s.profile.FeatureNames))
		for _, name := range s.profile.FeatureNames {
			ordered = append(ordered, sub.Features[name])
		}
		if p, err := s.model.PredictCredible(ordered); err == nil {
			sub.Features["gnb_credible"] = p
		}
	}

	sub.Value = clamp01(total)
	return sub, true
}

func (s *Scorer) applyPersona(total float64, analysis *domain.AIAnalysis, sub *domain.SubScore) float64 {
	persona := analysis.SellerPersona()
	if persona == "" {
		return total
	}
	for _, kw := range s.profile.Fusion.RiskPersona {
		if strings.Contains(persona, kw) {
			sub.Note = "卖家画像风险，贝叶斯分减半"
			return total * 0.5
		}
	}
	for _, kw := range s.profile.Fusion.OptimismPersona {
		if strings.Contains(persona, kw) {
			sub.Note = "卖家画像正面，贝叶斯分上调"
			return clamp01(total * 1.2)
		}
	}
	return total
}

// Visual feature names; the first three are keyword-bag driven, the last is
// derived from the image count.
var visualFeatures = []string{"image_quality", "condition", "authenticity", "completeness"}

func (s *Scorer) visualSubScore(record *domain.FinalRecord, analysis *domain.AIAnalysis) (*domain.SubScore, bool) {
	sub := &domain.SubScore{Features: map[string]float64{}}
	images := httpImages(record.Item.ImageURLs)
	if len(images) == 0 {
		sub.Value = 0
		sub.Note = noImagesNote
		return sub, true
	}

	reason := ""
	if analysis != nil {
		reason = analysis.Reason
	}
	bags := s.profile.Fusion.VisualKeywords
	for _, name := range visualFeatures[:3] {
		bag := bags[name]
		if len(bag) == 0 {
			sub.Missing = append(sub.Missing, name)
			continue
		}
		matched := 0
		for _, kw := range bag {
			if strings.Contains(reason, kw) {
				matched++
			}
		}
		sub.Features[name] = clamp01(float64(matched) / float64(len(bag)))
	}
	if len(sub.Missing) > 0 {
		return sub, false
	}

	completeness := float64(len(images)) / float64(s.profile.Fusion.MaxImages)
	if completeness > 1 {
		completeness = 1
	}
	if floor := s.profile.Fusion.CompletenessFloor; completeness < floor {
		completeness = floor
	}
	sub.Features["completeness"] = completeness

	weights := s.profile.Fusion.VisualWeights
	total, weightSum := 0.0, 0.0
	for _, name := range visualFeatures {
		w := 1.0
		if len(weights) > 0 {
			w = weights[name]
		}
		total += w * sub.Features[name]
		weightSum += w
	}
	if weightSum > 0 {
		total /= weightSum
	}
	sub.Value = clamp01(total)
	return sub, true
}

func httpImages(urls []string) []string {
	var out []string
	for _, u := range urls {
		if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
			out = append(out, u)
		}
	}
	return out
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
