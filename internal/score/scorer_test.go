package score

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/bayes"
	"github.com/tigerliu/idlewatch/internal/domain"
)

func testProfile(t *testing.T) *bayes.Profile {
	t.Helper()
	data := []byte(`{
	  "bayes_feature_rules": {
	    "tenure": {"type": "range", "ranges": [{"max": 365, "score": 0.3}, {"min": 365, "score": 0.9}]},
	    "positive_rate": {"type": "range", "ranges": [{"min": 0.9, "score": 0.9}], "default": 0.2},
	    "seller_credit_level": {"type": "keyword", "keywords": {"极好": 1.0}, "default": 0.4},
	    "sales_ratio": {"type": "range", "ranges": [{"min": 0.5, "score": 0.8}], "default": 0.3},
	    "used_years": {"type": "range", "ranges": [{"max": 1, "score": 0.9}], "default": 0.5},
	    "freshness": {"type": "keyword", "keywords": {"99新": 0.9}, "default": 0.4},
	    "has_guarantee": {"type": "regex", "pattern": "验货宝", "match_score": 1.0}
	  },
	  "_samples": {
	    "credible": [[0.9,0.9,1,0.8,0.9,0.9,1],[0.8,0.9,0.9,0.7,0.5,0.7,1]],
	    "untrusted": [[0.2,0.2,0.4,0.3,0.5,0.4,0],[0.3,0.2,0.4,0.3,0.9,0.4,0]]
	  },
	  "recommendation_fusion": {
	    "missing_rule_score": 0.5,
	    "visual_keyword_bags": {
	      "image_quality": ["图片清晰", "实拍"],
	      "condition": ["成色", "无磕碰"],
	      "authenticity": ["发票", "包装"]
	    },
	    "per_tag_penalty": 5,
	    "max_penalty": 20
	  }
	}`)
	path := filepath.Join(t.TempDir(), "default.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	p, err := bayes.LoadProfile(path)
	require.NoError(t, err)
	return p
}

func record() *domain.FinalRecord {
	return &domain.FinalRecord{
		Item: domain.ItemInfo{
			Title:     "索尼 a7m4 99新 验货宝 用了0.5年",
			ImageURLs: []string{"https://img.alicdn.com/a.jpg", "https://img.alicdn.com/b.jpg"},
		},
		Seller: domain.SellerInfo{
			RegisterDuration: "3年",
			PositiveRate:     "98%",
			CreditLevel:      "信用极好",
			OnSaleCount:      2,
			SoldCount:        8,
		},
	}
}

func analysis() *domain.AIAnalysis {
	return &domain.AIAnalysis{
		RecommendationLevel: domain.LevelStrongBuy,
		ConfidenceScore:     0.9,
		IsRecommended:       true,
		Reason:              "图片清晰，成色好，附发票",
		CriteriaAnalysis: map[string]json.RawMessage{
			"seller_type": json.RawMessage(`{"persona": "优质个人卖家"}`),
		},
	}
}

func TestScoreHappyPath(t *testing.T) {
	s := New(testProfile(t), zap.NewNop())
	bundle := s.Score(record(), analysis())
	require.Equal(t, StatusOK, bundle.Status)
	require.NotNil(t, bundle.Score)
	require.Greater(t, *bundle.Score, 0)
	require.LessOrEqual(t, *bundle.Score, 100)
	require.NotNil(t, bundle.Bayes)
	require.Contains(t, bundle.Bayes.Features, "gnb_credible")
	require.GreaterOrEqual(t, bundle.Bayes.Features["gnb_credible"], 0.0)
	require.LessOrEqual(t, bundle.Bayes.Features["gnb_credible"], 1.0)
}

func TestScoreNoImages(t *testing.T) {
	s := New(testProfile(t), zap.NewNop())
	rec := record()
	rec.Item.ImageURLs = nil
	bundle := s.Score(rec, analysis())
	require.Equal(t, StatusOK, bundle.Status)
	require.Equal(t, 0.0, bundle.Visual.Value)
	require.Equal(t, "商品无有效图片", bundle.Visual.Note)
	// weights_no_visual path still yields a score
	require.NotNil(t, bundle.Score)
	require.Contains(t, bundle.WeightsUsed, "bayes")
	require.NotContains(t, bundle.WeightsUsed, "visual")
}

func TestScoreMissingVisualRules(t *testing.T) {
	p := testProfile(t)
	p.Fusion.VisualKeywords = nil
	s := New(p, zap.NewNop())
	bundle := s.Score(record(), analysis())
	require.Equal(t, StatusMissingRules, bundle.Status)
	require.Nil(t, bundle.Score, "never guess when rules are missing")
}

func TestScoreRiskPenalty(t *testing.T) {
	s := New(testProfile(t), zap.NewNop())
	a := analysis()
	plain := s.Score(record(), a)

	a.RiskTags = []string{"疑似翻新", "价格异常"}
	penalized := s.Score(record(), a)
	require.Equal(t, 10.0, penalized.RiskPenalty)
	require.Less(t, *penalized.Score, *plain.Score)

	a.RiskTags = []string{"a", "b", "c", "d", "e", "f"}
	capped := s.Score(record(), a)
	require.Equal(t, 20.0, capped.RiskPenalty, "penalty capped at max_penalty")
}

func TestScorePersonaAdjustment(t *testing.T) {
	p := testProfile(t)
	p.Fusion.RiskPersona = []string{"职业贩子"}
	p.Fusion.OptimismPersona = []string{"优质"}
	s := New(p, zap.NewNop())

	up := s.Score(record(), analysis())

	risky := analysis()
	risky.CriteriaAnalysis["seller_type"] = json.RawMessage(`{"persona": "疑似职业贩子"}`)
	down := s.Score(record(), risky)

	require.Greater(t, up.Bayes.Value, down.Bayes.Value)
	// base 6.4/7 halves to ~0.457; the optimism boost clamps at 1.0
	require.InDelta(t, 0.457, down.Bayes.Value, 0.01)
	require.Equal(t, 1.0, up.Bayes.Value)
}

func TestScoreNilAnalysis(t *testing.T) {
	s := New(testProfile(t), zap.NewNop())
	bundle := s.Score(record(), nil)
	require.Equal(t, StatusOK, bundle.Status)
	require.Equal(t, 0.0, bundle.AI.Value)
	require.NotNil(t, bundle.Score)
}
