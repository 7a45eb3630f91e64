// Package pipeline implements the per-task fetch worker: one browser
// session driven serially through search, harvest, classification, scoring
// and notification.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/ai"
	"github.com/tigerliu/idlewatch/internal/dedup"
	"github.com/tigerliu/idlewatch/internal/domain"
	"github.com/tigerliu/idlewatch/internal/images"
	"github.com/tigerliu/idlewatch/internal/notify"
	"github.com/tigerliu/idlewatch/internal/parse"
	"github.com/tigerliu/idlewatch/internal/resultlog"
	"github.com/tigerliu/idlewatch/internal/score"
	"github.com/tigerliu/idlewatch/internal/session"
)

const skipAINotifyReason = "商品已跳过AI分析，直接通知"

const (
	searchWaitTimeout = 20 * time.Second
	detailWaitTimeout = 20 * time.Second
	riskCheckDelay    = 2 * time.Second

	listingDwellMin = 15 * time.Second
	listingDwellMax = 30 * time.Second
	pageDwellMin    = 25 * time.Second
	pageDwellMax    = 50 * time.Second
	homeDwellMin    = 3 * time.Second
	homeDwellMax    = 6 * time.Second
)

// LaunchFunc opens a logged-in browser session for a snapshot.
type LaunchFunc func(ctx context.Context, snapshot *domain.AccountSnapshot) (domain.BrowserSession, error)

// Config carries the per-process knobs a worker needs.
type Config struct {
	ResultDir     string
	ImageRoot     string
	DebugLimit    int
	SkipAI        bool
	VisionEnabled bool
	ProxyURL      string
}

// Worker runs one task end to end. All browser access is serial; the only
// concurrency inside a run is the notification fan-out.
type Worker struct {
	cfg        Config
	accounts   *session.Store
	launch     LaunchFunc
	classifier domain.Classifier
	scorer     *score.Scorer
	hub        *notify.Hub
	stats      *resultlog.StatsWriter
	clock      domain.Clock
	logger     *zap.Logger
	photos     *images.Store

	rngMu sync.Mutex
	rng   *rand.Rand

	// dwellFactor scales every dwell; tests shrink it to zero
	dwellFactor float64

	stopped atomic.Bool
}

// New builds a worker.
func New(cfg Config, accounts *session.Store, launch LaunchFunc, classifier domain.Classifier,
	scorer *score.Scorer, hub *notify.Hub, stats *resultlog.StatsWriter,
	clock domain.Clock, logger *zap.Logger) *Worker {
	if cfg.ImageRoot == "" {
		cfg.ImageRoot = "images"
	}
	w := &Worker{
		cfg:         cfg,
		accounts:    accounts,
		launch:      launch,
		classifier:  classifier,
		scorer:      scorer,
		hub:         hub,
		stats:       stats,
		clock:       clock,
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		dwellFactor: 1,
	}
	if cfg.VisionEnabled {
		w.photos = images.NewStore(cfg.ProxyURL, logger)
	}
	return w
}

// Stop requests a cooperative stop. The worker exits at its next
// suspension point.
func (w *Worker) Stop() {
	w.stopped.Store(true)
}

// run state threaded through the per-page and per-listing steps.
type runState struct {
	task        domain.Task
	account     string
	sess        domain.BrowserSession
	results     *resultlog.Log
	imagesDir   string
	seen        map[string]struct{}
	processed   int
	recommended int
}

// Run executes the task once and reports counters plus the end reason. The
// returned error is non-nil only for environment problems (bad result dir,
// browser launch failure); everything run-level is encoded in EndReason.
func (w *Worker) Run(ctx context.Context, task domain.Task) (domain.RunResult, error) {
	w.stopped.Store(false)
	w.classifier.ResetFailures()

	account, snapshot, failReason := w.resolveAccount(task)
	if failReason != "" {
		return domain.RunResult{EndReason: failReason}, nil
	}
	snapshot.Cookies = session.CanonicalizeCookies(snapshot.Cookies)
	if err := w.accounts.TouchLastUsed(account); err != nil {
		w.logger.Warn("touch last-used failed", zap.String("account", account), zap.Error(err))
	}

	results, err := resultlog.Open(w.cfg.ResultDir, task.Keyword, w.logger)
	if err != nil {
		return domain.RunResult{EndReason: domain.EndReasonAborted + err.Error()}, err
	}
	seen, err := results.SeenIDs()
	if err != nil {
		return domain.RunResult{EndReason: domain.EndReasonAborted + err.Error()}, err
	}

	sess, err := w.launch(ctx, &snapshot)
	if err != nil {
		return domain.RunResult{EndReason: domain.EndReasonAborted + err.Error()}, err
	}
	defer sess.Close()

	imageDir := filepath.Join(w.cfg.ImageRoot, "task_images_"+resultlog.SanitizeName(task.TaskName))
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		w.logger.Warn("temp image dir", zap.Error(err))
	}
	defer os.RemoveAll(imageDir)

	state := &runState{
		task:      task,
		account:   account,
		sess:      sess,
		results:   results,
		imagesDir: imageDir,
		seen:      seen,
	}

	endReason := w.crawl(ctx, state)

	if err := w.stats.Write(task.TaskName, state.processed, state.recommended); err != nil {
		w.logger.Warn("final stats write failed", zap.Error(err))
	}
	return domain.RunResult{
		Processed:   state.processed,
		Recommended: state.recommended,
		EndReason:   endReason,
	}, nil
}

// resolveAccount applies the bound-account override or picks a random valid
// one. An empty failReason means success.
func (w *Worker) resolveAccount(task domain.Task) (string, domain.AccountSnapshot, string) {
	name := task.BoundAccount
	if name == "" {
		selected, err := w.accounts.SelectRandomValid()
		if err != nil {
			return "", domain.AccountSnapshot{}, domain.EndReasonNoValidCookie + err.Error()
		}
		if selected == "" {
			return "", domain.AccountSnapshot{}, domain.EndReasonNoValidCookie + "无可用的有效登录账号"
		}
		name = selected
	}
	snapshot, err := w.accounts.Load(name)
	if err != nil {
		return "", domain.AccountSnapshot{}, domain.EndReasonNoAccount + name
	}
	if len(snapshot.Cookies) == 0 {
		return "", domain.AccountSnapshot{}, domain.EndReasonNoAccount + name
	}
	if !session.CookiesValidAt(snapshot.Cookies, w.clock.Now()) {
		return "", domain.AccountSnapshot{}, domain.EndReasonNoValidCookie + name
	}
	return name, snapshot, ""
}

// crawl performs the browsing portion of the run and maps every outcome to
// an end reason.
func (w *Worker) crawl(ctx context.Context, state *runState) string {
	err := w.crawlPages(ctx, state)
	switch {
	case err == nil:
		return domain.EndReasonDone
	case errors.Is(err, domain.ErrStopped):
		return domain.EndReasonManualStop
	case errors.Is(err, domain.ErrDebugLimit):
		return domain.EndReasonDebugLimit
	case errors.Is(err, domain.ErrRiskControl):
		marker := riskMarkerOf(err)
		if recErr := w.accounts.RecordRisk(state.account, marker, state.task.TaskName); recErr != nil {
			w.logger.Warn("record risk failed", zap.Error(recErr))
		}
		return domain.EndReasonRiskControl + marker
	case errors.Is(err, domain.ErrAICallFailure):
		return domain.EndReasonAIFailure + err.Error()
	default:
		return domain.EndReasonAborted + err.Error()
	}
}

// riskError tags a risk abort with its DOM or API marker.
type riskError struct{ marker string }

func (e *riskError) Error() string { return "risk control: " + e.marker }
func (e *riskError) Unwrap() error { return domain.ErrRiskControl }

func riskMarkerOf(err error) string {
	var re *riskError
	if errors.As(err, &re) {
		return re.marker
	}
	return "UNKNOWN"
}

func (w *Worker) crawlPages(ctx context.Context, state *runState) error {
	sess := state.sess

	// simulated browsing before the search
	if err := sess.Navigate(ctx, homeURL); err != nil {
		return fmt.Errorf("home page: %w", err)
	}
	if err := w.browseDwell(ctx, sess, homeDwellMin, homeDwellMax); err != nil {
		return err
	}

	searchBodies, cancelSearch := sess.Subscribe(apiSearch)
	defer cancelSearch()

	searchURL := fmt.Sprintf(searchURLFormat, url.QueryEscape(state.task.Keyword))
	if err := sess.Navigate(ctx, searchURL); err != nil {
		return fmt.Errorf("search page: %w", err)
	}
	pageBody, err := waitBody(ctx, searchBodies, searchWaitTimeout)
	if err != nil {
		return fmt.Errorf("first search response: %w", err)
	}
	if err := sess.WaitVisible(ctx, selNewPublishTab, 10*time.Second); err != nil {
		w.logger.Warn("filter bar not visible", zap.Error(err))
	}
	if err := w.checkRiskMarkers(ctx, sess); err != nil {
		return err
	}

	if latest, err := w.applyFilters(ctx, state.task, sess, searchBodies); err != nil {
		return err
	} else if latest != nil {
		pageBody = latest
	}

	maxPages := state.task.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}
	for page := 1; page <= maxPages; page++ {
		items, err := parse.ParseSearch(pageBody)
		if err != nil {
			w.logger.Warn("search page unparsable", zap.Int("page", page), zap.Error(err))
			items = nil
		}
		w.logger.Info("page parsed", zap.Int("page", page), zap.Int("items", len(items)))

		for _, item := range items {
			if err := w.checkStop(ctx); err != nil {
				return err
			}
			if err := w.processListing(ctx, state, item); err != nil {
				return err
			}
			if w.cfg.DebugLimit > 0 && state.processed >= w.cfg.DebugLimit {
				return domain.ErrDebugLimit
			}
		}

		if page == maxPages {
			break
		}
		next, err := w.nextPage(ctx, state.sess, searchBodies)
		if err != nil {
			if errors.Is(err, domain.ErrStopped) {
				return err
			}
			// pagination trouble ends the run cleanly
			w.logger.Info("pagination stopped", zap.Int("page", page), zap.Error(err))
			return nil
		}
		if next == nil {
			return nil
		}
		pageBody = next
		if err := w.dwell(ctx, pageDwellMin, pageDwellMax); err != nil {
			return err
		}
	}
	return nil
}

// checkRiskMarkers gives the anti-automation overlay its appearance window
// and fails the run when either marker shows up.
func (w *Worker) checkRiskMarkers(ctx context.Context, sess domain.BrowserSession) error {
	timer := time.NewTimer(time.Duration(float64(riskCheckDelay) * w.dwellFactor))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return domain.ErrStopped
	}
	for selector, marker := range map[string]string{
		selBaxiaDialog:      domain.RiskMarkerBaxia,
		selMiddlewareWidget: domain.RiskMarkerMiddleware,
	} {
		present, err := sess.IsPresent(ctx, selector)
		if err != nil {
			w.logger.Warn("risk marker probe failed", zap.String("selector", selector), zap.Error(err))
			continue
		}
		if present {
			return &riskError{marker: marker}
		}
	}
	return nil
}

// nextPage clicks the pagination arrow when it is present and enabled.
// A nil, nil return means the listing pages are exhausted.
func (w *Worker) nextPage(ctx context.Context, sess domain.BrowserSession, bodies <-chan []byte) ([]byte, error) {
	disabled, err := sess.IsPresent(ctx, selNextDisabled)
	if err == nil && disabled {
		return nil, nil
	}
	present, err := sess.IsPresent(ctx, selNextPage)
	if err != nil || !present {
		return nil, nil
	}
	drain(bodies)
	if err := sess.Click(ctx, selNextPage); err != nil {
		return nil, fmt.Errorf("next page click: %w", err)
	}
	body, err := waitBody(ctx, bodies, searchWaitTimeout)
	if err != nil {
		return nil, fmt.Errorf("next page response: %w", err)
	}
	return body, nil
}

func (w *Worker) processListing(ctx context.Context, state *runState, item parse.SearchItem) error {
	listingID := item.ListingID
	if listingID == "" {
		listingID = dedup.ListingID(item.Link)
	}
	if listingID == "" {
		return nil
	}
	if _, ok := state.seen[listingID]; ok {
		return nil
	}
	log := w.logger.With(zap.String("listing_id", listingID))

	detail, err := w.fetchDetail(ctx, state.sess, item.Link)
	if err != nil {
		if errors.Is(err, domain.ErrRiskControl) || errors.Is(err, domain.ErrStopped) {
			return err
		}
		log.Warn("detail fetch failed, skipping listing", zap.Error(err))
		return nil
	}

	seller := w.harvestSeller(ctx, state.sess, detail.SellerID)
	seller.ZhimaCredit = detail.ZhimaCredit
	seller.RegisterDuration = parse.RegisterDurationLabel(detail.RegisterDays)
	if seller.Nickname == "" {
		seller.Nickname = detail.SellerNick
	}

	record := w.composeRecord(state.task, item, detail, seller)

	if w.photos != nil && len(detail.ImageURLs) > 0 {
		saved := w.photos.Fetch(ctx, state.imagesDir, detail.ImageURLs)
		log.Debug("listing images saved", zap.Int("count", len(saved)))
	}

	recommend := false
	notifyReason := skipAINotifyReason
	if !w.cfg.SkipAI {
		analysis, err := w.classify(ctx, state.task, record, detail)
		if err != nil {
			if errors.Is(err, domain.ErrAICallFailure) {
				return err
			}
			log.Warn("ai analysis failed", zap.Error(err))
			record.AIAnalysis = &domain.AIAnalysis{Error: err.Error()}
		} else {
			record.AIAnalysis = analysis
			record.ScoreV2 = w.scorer.Score(record, analysis)
			recommend = analysis.IsRecommended
			notifyReason = analysis.Reason
		}
	} else {
		recommend = true
	}

	// The record must be on disk before anyone hears about it; a listing
	// that never reached the log is retried next run, not notified.
	if err := state.results.Append(record); err != nil {
		log.Error("record append failed, listing left for next run", zap.Error(err))
		return w.dwell(ctx, listingDwellMin, listingDwellMax)
	}
	state.seen[listingID] = struct{}{}
	state.processed++
	if recommend {
		w.hub.SendProduct(ctx, record, notifyReason)
		state.recommended++
	}
	if err := w.stats.Write(state.task.TaskName, state.processed, state.recommended); err != nil {
		log.Warn("stats write failed", zap.Error(err))
	}

	w.refreshSessionCookies(ctx, state)

	return w.dwell(ctx, listingDwellMin, listingDwellMax)
}

// fetchDetail opens the listing page and intercepts its detail payload.
func (w *Worker) fetchDetail(ctx context.Context, sess domain.BrowserSession, link string) (*parse.Detail, error) {
	bodies, cancel := sess.Subscribe(apiDetail)
	defer cancel()

	if err := sess.Navigate(ctx, link); err != nil {
		return nil, fmt.Errorf("detail page: %w", err)
	}
	body, err := waitBody(ctx, bodies, detailWaitTimeout)
	if err != nil {
		return nil, fmt.Errorf("detail response: %w", err)
	}
	if parse.RetContains(body, domain.RiskMarkerValidate) {
		return nil, &riskError{marker: domain.RiskMarkerValidate}
	}
	detail, err := parse.ParseDetail(body)
	if err != nil {
		return nil, fmt.Errorf("detail payload: %w", err)
	}
	return detail, nil
}

func (w *Worker) composeRecord(task domain.Task, item parse.SearchItem, detail *parse.Detail, seller domain.SellerInfo) *domain.FinalRecord {
	title := detail.Title
	if title == "" {
		title = item.Title
	}
	price := detail.Price
	if price == "" {
		price = item.Price
	}
	link := item.Link
	if link == "" {
		link = "https://www.goofish.com/item?id=" + detail.ListingID
	}
	return &domain.FinalRecord{
		ObservedAt: w.clock.Now().Format(domain.TimeFormat),
		Keyword:    task.Keyword,
		TaskName:   task.TaskName,
		AICriteria: task.AIPromptCriteriaFile,
		Filters:    domain.FiltersOf(task),
		Item: domain.ItemInfo{
			ListingID:   detail.ListingID,
			Title:       title,
			Price:       price,
			PublishTime: detail.PublishTime,
			ViewCount:   detail.ViewCount,
			WantCount:   detail.WantCount,
			ImageURLs:   detail.ImageURLs,
			MainImage:   detail.MainImage,
			Link:        link,
		},
		Seller: seller,
	}
}

// classify calls the LLM and trips the run-fatal error once the
// consecutive-failure threshold is reached.
func (w *Worker) classify(ctx context.Context, task domain.Task, record *domain.FinalRecord, detail *parse.Detail) (*domain.AIAnalysis, error) {
	var photoURLs []string
	if w.cfg.VisionEnabled {
		photoURLs = detail.ImageURLs
	}
	analysis, err := w.classifier.Classify(ctx, record, task.AIPromptText, photoURLs)
	if err != nil {
		if w.classifier.ConsecutiveFailures() >= ai.FailureThreshold {
			return nil, fmt.Errorf("%w: %s", domain.ErrAICallFailure, err.Error())
		}
		return nil, err
	}
	return analysis, nil
}

// refreshSessionCookies writes the browser's cookie jar back to the account
// snapshot when the fingerprint changed.
func (w *Worker) refreshSessionCookies(ctx context.Context, state *runState) {
	cookies, err := state.sess.Cookies(ctx)
	if err != nil {
		w.logger.Warn("cookie read failed", zap.Error(err))
		return
	}
	wrote, err := w.accounts.RefreshCookies(state.account, cookies)
	if err != nil {
		w.logger.Warn("cookie refresh failed", zap.Error(err))
		return
	}
	if wrote {
		w.logger.Info("session cookies refreshed", zap.String("account", state.account))
	}
}

// browseDwell scrolls a random amount while dwelling, mimicking a person
// skimming the page.
func (w *Worker) browseDwell(ctx context.Context, sess domain.BrowserSession, min, max time.Duration) error {
	if err := sess.ScrollBy(ctx, 300+w.intn(500)); err != nil {
		w.logger.Debug("browse scroll failed", zap.Error(err))
	}
	return w.dwell(ctx, min, max)
}

// dwell sleeps a random duration in [min, max], honoring stop requests.
func (w *Worker) dwell(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d += time.Duration(w.intn(int(max - min)))
	}
	d = time.Duration(float64(d) * w.dwellFactor)
	timer := time.NewTimer(d)
	defer timer.Stop()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return domain.ErrStopped
		case <-ticker.C:
			if w.stopped.Load() {
				return domain.ErrStopped
			}
		}
	}
}

func (w *Worker) checkStop(ctx context.Context) error {
	if w.stopped.Load() || ctx.Err() != nil {
		return domain.ErrStopped
	}
	return nil
}

func (w *Worker) intn(n int) int {
	if n <= 0 {
		return 0
	}
	w.rngMu.Lock()
	defer w.rngMu.Unlock()
	return w.rng.Intn(n)
}

func waitBody(ctx context.Context, bodies <-chan []byte, timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case body := <-bodies:
		return body, nil
	case <-timer.C:
		return nil, errors.New("timeout waiting for response")
	case <-ctx.Done():
		return nil, domain.ErrStopped
	}
}

// drain discards buffered bodies so the next wait sees a fresh response.
func drain(bodies <-chan []byte) {
	for {
		select {
		case <-bodies:
		default:
			return
		}
	}
}
