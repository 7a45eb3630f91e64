package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/bayes"
	"github.com/tigerliu/idlewatch/internal/domain"
	"github.com/tigerliu/idlewatch/internal/hash/sha256"
	"github.com/tigerliu/idlewatch/internal/notify"
	"github.com/tigerliu/idlewatch/internal/resultlog"
	"github.com/tigerliu/idlewatch/internal/score"
	"github.com/tigerliu/idlewatch/internal/session"
)

const testSearchPage = `{
  "ret": ["SUCCESS::调用成功"],
  "data": {"resultList": [
    {"data": {"item": {"main": {
      "exContent": {"title": "索尼 a7m4 单机身", "price": [{"text": "¥"}, {"text": "12500"}]},
      "clickParam": {"args": {"id": "111"}}
    }}}},
    {"data": {"item": {"main": {
      "exContent": {"title": "已见过的条目"},
      "clickParam": {"args": {"id": "222"}}
    }}}}
  ]}
}`

const testDetail = `{
  "ret": ["SUCCESS::调用成功"],
  "data": {
    "itemDO": {
      "itemId": 111, "title": "索尼 a7m4", "soldPrice": "12500",
      "wantCnt": 5,
      "imageInfos": [{"url": "//img.alicdn.com/a.jpg", "major": true}]
    },
    "sellerDO": {"nick": "老王", "sellerId": 9001, "userRegDay": 1100,
      "zhimaLevelInfo": {"levelName": "芝麻信用极好"}}
  }
}`

const testRiskDetail = `{"ret": ["FAIL_SYS_USER_VALIDATE::哎哟喂,被挤爆啦"], "data": {}}`

const testSellerHead = `{"ret":["SUCCESS"],"data":{"module":{
  "base": {"displayName": "老王"},
  "tabs": {"item": {"number": 3}, "rate": {"number": 40}},
  "social": {"goodRatePercentage": "99%"}
}}}`

const testSellerItems = `{"ret":["SUCCESS"],"data":{"cardList":[{"cardData":{"title":"旧镜头"}}],"nextPage":false}}`

const testSellerRatings = `{"ret":["SUCCESS"],"data":{"cardList":[{"cardData":{"rate":1,"feedback":"好卖家"}}],"nextPage":false}}`

// fakeSession scripts the browser: navigations push the canned payloads to
// whoever subscribed for the matching endpoint.
type fakeSession struct {
	mu   sync.Mutex
	subs map[string][]chan []byte

	searchPages [][]byte
	searchIdx   int
	detail      []byte

	present map[string]bool
	closed  bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		subs:        map[string][]chan []byte{},
		searchPages: [][]byte{[]byte(testSearchPage)},
		detail:      []byte(testDetail),
		present:     map[string]bool{},
	}
}

func (f *fakeSession) push(urlPart string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for part, chans := range f.subs {
		if !strings.Contains(urlPart, part) {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- body:
			default:
			}
		}
	}
}

func (f *fakeSession) pushNextSearchPage() {
	f.mu.Lock()
	var body []byte
	if f.searchIdx < len(f.searchPages) {
		body = f.searchPages[f.searchIdx]
		f.searchIdx++
	}
	f.mu.Unlock()
	if body != nil {
		f.push(apiSearch, body)
	}
}

func (f *fakeSession) Navigate(ctx context.Context, url string) error {
	switch {
	case strings.Contains(url, "/search"):
		f.pushNextSearchPage()
	case strings.Contains(url, "/item"):
		f.push(apiDetail, f.detail)
	case strings.Contains(url, "/personal"):
		f.push(apiSellerHead, []byte(testSellerHead))
		f.push(apiSellerItems, []byte(testSellerItems))
		f.push(apiSellerRatings, []byte(testSellerRatings))
	}
	return nil
}

func (f *fakeSession) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return nil
}

func (f *fakeSession) IsPresent(ctx context.Context, selector string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.present[selector], nil
}

func (f *fakeSession) Click(ctx context.Context, selector string) error { return nil }
func (f *fakeSession) Fill(ctx context.Context, selector, value string) error {
	return nil
}
func (f *fakeSession) PressKey(ctx context.Context, key string) error { return nil }

func (f *fakeSession) Evaluate(ctx context.Context, expr string, out any) error {
	if b, ok := out.(*bool); ok {
		*b = false
	}
	return nil
}

func (f *fakeSession) ScrollBy(ctx context.Context, deltaY int) error { return nil }

func (f *fakeSession) Subscribe(urlPart string) (<-chan []byte, func()) {
	ch := make(chan []byte, 8)
	f.mu.Lock()
	f.subs[urlPart] = append(f.subs[urlPart], ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeSession) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	return validCookies(), nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeClassifier struct {
	mu       sync.Mutex
	analysis *domain.AIAnalysis
	err      error
	failures int
	calls    int
}

func (c *fakeClassifier) Classify(ctx context.Context, record *domain.FinalRecord, prompt string, images []string) (*domain.AIAnalysis, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		c.failures++
		return nil, c.err
	}
	c.failures = 0
	return c.analysis, nil
}

func (c *fakeClassifier) ConsecutiveFailures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

func (c *fakeClassifier) ResetFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
}

type recordingNotifier struct {
	mu       sync.Mutex
	products []string
	reasons  []string

	// when resultPath is set, SendProduct records whether the listing was
	// already on disk at notification time
	resultPath string
	persisted  []bool
}

func (n *recordingNotifier) Name() string                          { return "recorder" }
func (n *recordingNotifier) Enabled() bool                         { return true }
func (n *recordingNotifier) SendTest(ctx context.Context) error    { return nil }
func (n *recordingNotifier) SendProduct(ctx context.Context, record *domain.FinalRecord, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.products = append(n.products, record.Item.ListingID)
	n.reasons = append(n.reasons, reason)
	if n.resultPath != "" {
		data, _ := os.ReadFile(n.resultPath)
		n.persisted = append(n.persisted, strings.Contains(string(data), record.Item.ListingID))
	}
	return nil
}
func (n *recordingNotifier) SendTaskStart(ctx context.Context, taskName, reason string) error {
	return nil
}
func (n *recordingNotifier) SendTaskComplete(ctx context.Context, taskName, reason string, processed, recommended int) error {
	return nil
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func validCookies() []domain.Cookie {
	return []domain.Cookie{
		{Name: "_m_h5_tk", Value: "tok", Domain: ".goofish.com", Path: "/"},
		{Name: "cookie2", Value: "c2", Domain: ".goofish.com", Path: "/"},
		{Name: "sgcookie", Value: "sg", Domain: ".goofish.com", Path: "/"},
	}
}

type fixture struct {
	worker     *Worker
	sess       *fakeSession
	classifier *fakeClassifier
	notifier   *recordingNotifier
	accounts   *session.Store
	resultDir  string
	statsDir   string
}

func newFixture(t *testing.T, cfg Config, withAccount bool) *fixture {
	t.Helper()
	root := t.TempDir()
	cfg.ResultDir = filepath.Join(root, "results")
	cfg.ImageRoot = filepath.Join(root, "images")

	clock := fixedClock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	accounts, err := session.NewStore(filepath.Join(root, "accounts"), sha256.New(), clock, zap.NewNop())
	require.NoError(t, err)
	if withAccount {
		require.NoError(t, accounts.Save("acc1", domain.AccountSnapshot{Cookies: validCookies()}))
	}

	profilePath := filepath.Join(root, "profile.json")
	require.NoError(t, os.WriteFile(profilePath, []byte(`{}`), 0o644))
	profile, err := bayes.LoadProfile(profilePath)
	require.NoError(t, err)

	sess := newFakeSession()
	classifier := &fakeClassifier{analysis: &domain.AIAnalysis{
		IsRecommended:       true,
		RecommendationLevel: domain.LevelStrongBuy,
		Reason:              "符合标准",
		ConfidenceScore:     0.9,
	}}
	notifier := &recordingNotifier{}
	hub := notify.NewHub([]domain.Notifier{notifier}, true, zap.NewNop())
	stats := resultlog.NewStatsWriter(root, clock)

	worker := New(cfg, accounts,
		func(ctx context.Context, snapshot *domain.AccountSnapshot) (domain.BrowserSession, error) {
			return sess, nil
		},
		classifier, score.New(profile, zap.NewNop()), hub, stats, clock, zap.NewNop())
	worker.dwellFactor = 0

	return &fixture{
		worker:     worker,
		sess:       sess,
		classifier: classifier,
		notifier:   notifier,
		accounts:   accounts,
		resultDir:  cfg.ResultDir,
		statsDir:   root,
	}
}

func sampleTask() domain.Task {
	return domain.Task{
		TaskName: "捡漏相机",
		Enabled:  true,
		Keyword:  "富士相机",
		MaxPages: 1,
	}
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t, Config{}, true)

	// the 222 row is pre-seen
	results, err := resultlog.Open(f.resultDir, "富士相机", zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, results.Append(&domain.FinalRecord{Item: domain.ItemInfo{ListingID: "222"}}))

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.Equal(t, domain.EndReasonDone, got.EndReason)
	require.Equal(t, 1, got.Processed)
	require.Equal(t, 1, got.Recommended)
	require.True(t, f.sess.closed)

	require.Equal(t, []string{"111"}, f.notifier.products)
	require.Equal(t, []string{"符合标准"}, f.notifier.reasons)

	seen, err := results.SeenIDs()
	require.NoError(t, err)
	require.Contains(t, seen, "111")

	stats, err := os.ReadFile(filepath.Join(f.statsDir, resultlog.SanitizeName("捡漏相机")+"_stats.json"))
	require.NoError(t, err)
	require.Contains(t, string(stats), `"processed_count": 1`)
}

func TestRunSkipAICountsRecommended(t *testing.T) {
	f := newFixture(t, Config{SkipAI: true}, true)

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.Equal(t, domain.EndReasonDone, got.EndReason)
	require.Equal(t, 2, got.Processed)
	require.Equal(t, 2, got.Recommended)
	require.Zero(t, f.classifier.calls)
	require.Equal(t, []string{skipAINotifyReason, skipAINotifyReason}, f.notifier.reasons)
}

func TestRunRiskMarkerAborts(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.sess.present[selBaxiaDialog] = true

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.Equal(t, domain.EndReasonRiskControl+domain.RiskMarkerBaxia, got.EndReason)
	require.Zero(t, got.Processed)

	snap, err := f.accounts.Load("acc1")
	require.NoError(t, err)
	require.Equal(t, 1, snap.RiskControlCount)
	require.Len(t, snap.RiskControlHistory, 1)
	require.Equal(t, "捡漏相机", snap.RiskControlHistory[0].TaskName)
}

func TestRunDetailValidateAborts(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.sess.detail = []byte(testRiskDetail)

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.Equal(t, domain.EndReasonRiskControl+domain.RiskMarkerValidate, got.EndReason)
}

func TestRunNoValidAccount(t *testing.T) {
	f := newFixture(t, Config{}, false)

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got.EndReason, domain.EndReasonNoValidCookie))
}

func TestRunBoundAccountMissing(t *testing.T) {
	f := newFixture(t, Config{}, true)
	task := sampleTask()
	task.BoundAccount = "ghost"

	got, err := f.worker.Run(context.Background(), task)
	require.NoError(t, err)
	require.Equal(t, domain.EndReasonNoAccount+"ghost", got.EndReason)
}

func TestRunDebugLimit(t *testing.T) {
	f := newFixture(t, Config{SkipAI: true, DebugLimit: 1}, true)

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.Equal(t, domain.EndReasonDebugLimit, got.EndReason)
	require.Equal(t, 1, got.Processed)
}

func TestRunAIFailureTripsAfterThree(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.classifier.err = errors.New("upstream 500")

	// three fresh listings so the counter can climb to the threshold
	f.sess.searchPages = [][]byte{[]byte(`{
	  "ret": ["SUCCESS::调用成功"],
	  "data": {"resultList": [
	    {"data": {"item": {"main": {"exContent": {"title": "a"}, "clickParam": {"args": {"id": "1"}}}}}},
	    {"data": {"item": {"main": {"exContent": {"title": "b"}, "clickParam": {"args": {"id": "2"}}}}}},
	    {"data": {"item": {"main": {"exContent": {"title": "c"}, "clickParam": {"args": {"id": "3"}}}}}}
	  ]}
	}`)}

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(got.EndReason, domain.EndReasonAIFailure))
	require.Equal(t, 2, got.Processed, "listings before the trip still persist")
	require.Empty(t, f.notifier.products)
}

func TestRunNotifiesOnlyAfterRecordPersisted(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.notifier.resultPath = filepath.Join(f.resultDir, "富士相机_full_data.jsonl")

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.Equal(t, 2, got.Recommended)

	f.notifier.mu.Lock()
	defer f.notifier.mu.Unlock()
	require.Len(t, f.notifier.persisted, 2)
	for _, onDisk := range f.notifier.persisted {
		require.True(t, onDisk, "notification fired before the record was written")
	}
}

func TestRunAppendFailureLeavesListingForRetry(t *testing.T) {
	f := newFixture(t, Config{}, true)

	// a dangling symlink makes every append fail while the seen-set scan
	// still reads as empty
	require.NoError(t, os.MkdirAll(f.resultDir, 0o755))
	require.NoError(t, os.Symlink(
		filepath.Join(f.resultDir, "missing", "out.jsonl"),
		filepath.Join(f.resultDir, "富士相机_full_data.jsonl")))

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.Equal(t, domain.EndReasonDone, got.EndReason)
	require.Zero(t, got.Processed)
	require.Zero(t, got.Recommended)
	require.Empty(t, f.notifier.products)
}

func TestRunRecordCarriesTaskCriteria(t *testing.T) {
	f := newFixture(t, Config{}, true)
	task := sampleTask()
	task.AIPromptCriteriaFile = "prompts/camera_criteria.txt"

	_, err := f.worker.Run(context.Background(), task)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.resultDir, "富士相机_full_data.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"AI标准":"prompts/camera_criteria.txt"`)
}

func TestRunClassifierErrorMarkedOnRecord(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.classifier.err = errors.New("schema mismatch")

	got, err := f.worker.Run(context.Background(), sampleTask())
	require.NoError(t, err)
	require.Equal(t, domain.EndReasonDone, got.EndReason)
	require.Equal(t, 2, got.Processed)
	require.Empty(t, f.notifier.products)

	data, err := os.ReadFile(filepath.Join(f.resultDir, "富士相机_full_data.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"error":"schema mismatch"`)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, Config{}, true)
	f.worker.dwellFactor = 1

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := f.worker.Run(ctx, sampleTask())
	require.NoError(t, err)
	require.Equal(t, domain.EndReasonManualStop, got.EndReason)
}
