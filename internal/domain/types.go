// Package domain defines core types shared across subsystems.
package domain

import (
	"encoding/json"
	"time"
)

// NewPublishOption values accepted by the search "new publish" filter.
const (
	NewPublish1Day  = "1天内"
	NewPublish3Day  = "3天内"
	NewPublish7Day  = "7天内"
	NewPublish14Day = "14天内"
)

// Task is one configured search specification. Tasks are persisted as an
// ordered JSON array; a task's stable identity is its zero-based index after
// sorting by the explicit Order field when any task carries one.
type Task struct {
	TaskName             string `json:"task_name"`
	Enabled              bool   `json:"enabled"`
	Keyword              string `json:"keyword"`
	MaxPages             int    `json:"max_pages"`
	PersonalOnly         bool   `json:"personal_only"`
	MinPrice             string `json:"min_price,omitempty"`
	MaxPrice             string `json:"max_price,omitempty"`
	FreeShipping         bool   `json:"free_shipping"`
	InspectionService    bool   `json:"inspection_service"`
	AccountAssurance     bool   `json:"account_assurance"`
	SuperShop            bool   `json:"super_shop"`
	BrandNew             bool   `json:"brand_new"`
	StrictSelected       bool   `json:"strict_selected"`
	Resale               bool   `json:"resale"`
	NewPublishOption     string `json:"new_publish_option,omitempty"`
	Region               string `json:"region,omitempty"`
	Cron                 string `json:"cron,omitempty"`
	AIPromptBaseFile     string `json:"ai_prompt_base_file,omitempty"`
	AIPromptCriteriaFile string `json:"ai_prompt_criteria_file,omitempty"`
	BoundAccount         string `json:"bound_account,omitempty"`
	AutoSwitchOnRisk     bool   `json:"auto_switch_on_risk,omitempty"`
	Order                *int   `json:"order,omitempty"`
	IsRunning            bool   `json:"is_running"`
	GeneratingAICriteria bool   `json:"generating_ai_criteria"`

	// AIPromptText is the base prompt with the per-task criteria substituted
	// in. It is composed when the task list is loaded and never persisted.
	AIPromptText string `json:"-"`
}

// Cookie mirrors the browser cookie shape captured into account snapshots.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// EnvHints carries the navigator/screen/intl values captured from the browser
// when the account session was recorded. All fields are optional.
type EnvHints struct {
	UserAgent    string            `json:"user_agent,omitempty"`
	Platform     string            `json:"platform,omitempty"`
	Language     string            `json:"language,omitempty"`
	Languages    []string          `json:"languages,omitempty"`
	ScreenWidth  int               `json:"screen_width,omitempty"`
	ScreenHeight int               `json:"screen_height,omitempty"`
	PixelRatio   float64           `json:"pixel_ratio,omitempty"`
	TouchPoints  int               `json:"touch_points,omitempty"`
	IsMobile     bool              `json:"is_mobile,omitempty"`
	Timezone     string            `json:"timezone,omitempty"`
	Locale       string            `json:"locale,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`

	// Page and Storage are written by the login capture tool and carried
	// through snapshot rewrites untouched.
	Page    json.RawMessage `json:"page,omitempty"`
	Storage json.RawMessage `json:"storage,omitempty"`
}

// RiskEvent is one entry in an account's risk-control history.
type RiskEvent struct {
	Timestamp string `json:"timestamp"`
	Reason    string `json:"reason"`
	TaskName  string `json:"task_name"`
}

// AccountSnapshot is the persisted per-account session state, one JSON file
// per account under the state directory.
type AccountSnapshot struct {
	DisplayName         string      `json:"display_name,omitempty"`
	CreatedAt           string      `json:"created_at,omitempty"`
	LastUsedAt          string      `json:"last_used_at,omitempty"`
	Cookies             []Cookie    `json:"cookies"`
	Env                 *EnvHints   `json:"env,omitempty"`
	RiskControlCount    int         `json:"risk_control_count"`
	RiskControlHistory  []RiskEvent `json:"risk_control_history,omitempty"`
	LastCookieRefreshAt string      `json:"last_cookie_refresh_at,omitempty"`
}

// ItemInfo is the harvested listing data. Keys match the legacy record format
// consumed by downstream tooling.
type ItemInfo struct {
	ListingID   string   `json:"商品ID"`
	Title       string   `json:"商品标题"`
	Price       string   `json:"当前售价"`
	PublishTime string   `json:"发布时间"`
	ViewCount   int      `json:"浏览量"`
	WantCount   int      `json:"想要人数"`
	ImageURLs   []string `json:"商品图片列表"`
	MainImage   string   `json:"商品主图链接"`
	Link        string   `json:"商品链接"`
}

// SellerListing is a title-only row from the seller's recent listings feed.
type SellerListing struct {
	Title string `json:"商品标题"`
}

// SellerRating is one row of the seller's rating feed.
type SellerRating struct {
	Rate    string `json:"评价类型"`
	Content string `json:"评价内容,omitempty"`
	Role    string `json:"评价来源,omitempty"`
}

// ReputationStats aggregates the rating feed.
type ReputationStats struct {
	Total    int `json:"评价总数"`
	Positive int `json:"好评数"`
	Neutral  int `json:"中评数"`
	Negative int `json:"差评数"`
}

// SellerInfo is the merged seller profile attached to a final record.
type SellerInfo struct {
	Nickname         string          `json:"卖家昵称,omitempty"`
	RegisterDuration string          `json:"注册时长,omitempty"`
	CreditLevel      string          `json:"信用等级,omitempty"`
	PositiveRate     string          `json:"卖家好评率,omitempty"`
	OnSaleCount      int             `json:"在售商品数"`
	SoldCount        int             `json:"已售商品数"`
	RecentListings   []SellerListing `json:"卖家最近商品,omitempty"`
	Ratings          []SellerRating  `json:"卖家评价列表,omitempty"`
	Reputation       ReputationStats `json:"卖家评价统计"`
	ZhimaCredit      string          `json:"卖家芝麻信用,omitempty"`
}

// Recommendation levels emitted by the classifier.
const (
	LevelStrongBuy      = "STRONG_BUY"
	LevelCautiousBuy    = "CAUTIOUS_BUY"
	LevelConditionalBuy = "CONDITIONAL_BUY"
	LevelNotRecommended = "NOT_RECOMMENDED"
)

// AIAnalysis is the classifier's validated and normalized output.
type AIAnalysis struct {
	PromptVersion       string                     `json:"prompt_version"`
	RecommendationLevel string                     `json:"recommendation_level"`
	ConfidenceScore     float64                    `json:"confidence_score"`
	IsRecommended       bool                       `json:"is_recommended"`
	Reason              string                     `json:"reason"`
	ActionRequired      []string                   `json:"action_required"`
	RiskTags            []string                   `json:"risk_tags"`
	CriteriaAnalysis    map[string]json.RawMessage `json:"criteria_analysis"`
	Error               string                     `json:"error,omitempty"`
}

// Recommended reports whether the level counts as a buy recommendation.
func (a *AIAnalysis) Recommended() bool {
	switch a.RecommendationLevel {
	case LevelStrongBuy, LevelCautiousBuy, LevelConditionalBuy:
		return true
	}
	return false
}

// SellerPersona extracts criteria_analysis.seller_type.persona, if present.
func (a *AIAnalysis) SellerPersona() string {
	if a == nil || a.CriteriaAnalysis == nil {
		return ""
	}
	raw, ok := a.CriteriaAnalysis["seller_type"]
	if !ok {
		return ""
	}
	var st struct {
		Persona string `json:"persona"`
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return ""
	}
	return st.Persona
}

// ScoreBundle is the fused recommendation score attached to a record as
// recommendation_score_v2.
type ScoreBundle struct {
	Score       *int           `json:"recommendation_score,omitempty"`
	Status      string         `json:"status"`
	Bayes       *SubScore      `json:"bayes,omitempty"`
	Visual      *SubScore      `json:"visual,omitempty"`
	AI          *SubScore      `json:"ai,omitempty"`
	RiskPenalty float64        `json:"risk_penalty"`
	WeightsUsed map[string]float64 `json:"weights_used,omitempty"`
	Note        string         `json:"note,omitempty"`
}

// SubScore is one component of the fused score.
type SubScore struct {
	Value    float64            `json:"value"`
	Features map[string]float64 `json:"features,omitempty"`
	Missing  []string           `json:"missing,omitempty"`
	Note     string             `json:"note,omitempty"`
}

// FinalRecord is one JSON-Lines row appended per newly seen listing.
type FinalRecord struct {
	ObservedAt       string       `json:"公开信息浏览时间"`
	Keyword          string       `json:"搜索关键字"`
	TaskName         string       `json:"任务名称"`
	AICriteria       string       `json:"AI标准,omitempty"`
	Filters          TaskFilters  `json:"任务筛选"`
	Item             ItemInfo     `json:"商品信息"`
	Seller           SellerInfo   `json:"卖家信息"`
	AIAnalysis       *AIAnalysis  `json:"ai_analysis,omitempty"`
	ScoreV2          *ScoreBundle `json:"recommendation_score_v2,omitempty"`
}

// TaskFilters mirrors the task's filter settings into the record.
type TaskFilters struct {
	PersonalOnly      bool   `json:"personal_only"`
	MinPrice          string `json:"min_price,omitempty"`
	MaxPrice          string `json:"max_price,omitempty"`
	FreeShipping      bool   `json:"free_shipping"`
	InspectionService bool   `json:"inspection_service"`
	AccountAssurance  bool   `json:"account_assurance"`
	SuperShop         bool   `json:"super_shop"`
	BrandNew          bool   `json:"brand_new"`
	StrictSelected    bool   `json:"strict_selected"`
	Resale            bool   `json:"resale"`
	NewPublishOption  string `json:"new_publish_option,omitempty"`
	Region            string `json:"region,omitempty"`
}

// FiltersOf copies the filter settings out of a task.
func FiltersOf(t Task) TaskFilters {
	return TaskFilters{
		PersonalOnly:      t.PersonalOnly,
		MinPrice:          t.MinPrice,
		MaxPrice:          t.MaxPrice,
		FreeShipping:      t.FreeShipping,
		InspectionService: t.InspectionService,
		AccountAssurance:  t.AccountAssurance,
		SuperShop:         t.SuperShop,
		BrandNew:          t.BrandNew,
		StrictSelected:    t.StrictSelected,
		Resale:            t.Resale,
		NewPublishOption:  t.NewPublishOption,
		Region:            t.Region,
	}
}

// RunResult summarizes one finished pipeline run.
type RunResult struct {
	Processed   int
	Recommended int
	EndReason   string
}

// TaskStats is persisted to the per-task stats file after every listing.
type TaskStats struct {
	ProcessedCount   int    `json:"processed_count"`
	RecommendedCount int    `json:"recommended_count"`
	Timestamp        string `json:"timestamp"`
}

// TimeFormat is the timestamp layout used in records and snapshots.
const TimeFormat = time.RFC3339
