// Package browser adapts chromedp to the session capability used by the
// fetch pipeline.
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
)

// Default device profile when the snapshot carries no usable hints. The
// values mimic a current iPhone so the marketplace serves its mobile API.
const (
	defaultUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_6 like Mac OS X) " +
		"AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Mobile/15E148 Safari/604.1"
	defaultScreenWidth  = 390
	defaultScreenHeight = 844
	defaultPixelRatio   = 3.0
	defaultTouchPoints  = 5
	defaultTimezone     = "Asia/Shanghai"
	defaultLocale       = "zh-CN"

	defaultNavTimeout = 30 * time.Second
	// intercepted bodies per subscription before older ones are dropped
	subscriptionBuffer = 8
)

// Config controls browser launch.
type Config struct {
	Headless          bool
	EdgePath          string
	InDocker          bool
	NavigationTimeout time.Duration
}

// Session implements domain.BrowserSession over one chromedp tab.
type Session struct {
	cfg    Config
	logger *zap.Logger

	allocCancel context.CancelFunc
	tabCtx      context.Context
	tabCancel   context.CancelFunc

	mu      sync.Mutex
	subs    []*subscription
	pending map[network.RequestID]string
}

type subscription struct {
	urlPart string
	bodies  chan []byte
	done    chan struct{}
}

// New launches the browser, installs the device profile derived from the
// snapshot and loads its cookies into the tab.
func New(ctx context.Context, cfg Config, snapshot *domain.AccountSnapshot, logger *zap.Logger) (*Session, error) {
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", "new"), chromedp.Flag("disable-gpu", true))
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if cfg.EdgePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.EdgePath))
	}
	if cfg.InDocker {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		allocCancel: allocCancel,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		pending:     map[network.RequestID]string{},
	}
	chromedp.ListenTarget(tabCtx, s.handleEvent)

	profile := deviceProfile(snapshot)
	actions := []chromedp.Action{
		network.Enable(),
		profile.apply(),
		stealthScript(),
	}
	if snapshot != nil && len(snapshot.Cookies) > 0 {
		actions = append(actions, setCookieAction(snapshot.Cookies))
	}
	if err := chromedp.Run(tabCtx, actions...); err != nil {
		s.Close()
		return nil, fmt.Errorf("browser setup: %w", err)
	}
	return s, nil
}

// profile is the resolved device emulation, defaults overlaid with hints.
type profile struct {
	userAgent   string
	width       int
	height      int
	pixelRatio  float64
	touchPoints int
	mobile      bool
	timezone    string
	locale      string
	headers     map[string]string
}

// deviceProfile applies the overlay rules: user agent and screen metrics
// come from the snapshot only when it was captured on a mobile browser,
// locale and timezone whenever present.
func deviceProfile(snapshot *domain.AccountSnapshot) profile {
	p := profile{
		userAgent:   defaultUserAgent,
		width:       defaultScreenWidth,
		height:      defaultScreenHeight,
		pixelRatio:  defaultPixelRatio,
		touchPoints: defaultTouchPoints,
		mobile:      true,
		timezone:    defaultTimezone,
		locale:      defaultLocale,
	}
	if snapshot == nil || snapshot.Env == nil {
		return p
	}
	env := snapshot.Env
	if env.IsMobile {
		if env.UserAgent != "" {
			p.userAgent = env.UserAgent
		}
		if env.ScreenWidth > 0 && env.ScreenHeight > 0 {
			p.width = env.ScreenWidth
			p.height = env.ScreenHeight
		}
		if env.PixelRatio > 0 {
			p.pixelRatio = env.PixelRatio
		}
		if env.TouchPoints > 0 {
			p.touchPoints = env.TouchPoints
		}
	}
	if env.Timezone != "" {
		p.timezone = env.Timezone
	}
	if env.Locale != "" {
		p.locale = env.Locale
	} else if env.Language != "" {
		p.locale = env.Language
	}
	if len(env.Headers) > 0 {
		p.headers = env.Headers
	}
	return p
}

func (p profile) apply() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := emulation.SetUserAgentOverride(p.userAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(int64(p.width), int64(p.height), p.pixelRatio, p.mobile).Do(ctx); err != nil {
			return fmt.Errorf("set device metrics: %w", err)
		}
		if err := emulation.SetTouchEmulationEnabled(p.mobile).
			WithMaxTouchPoints(int64(p.touchPoints)).Do(ctx); err != nil {
			return fmt.Errorf("set touch emulation: %w", err)
		}
		if err := emulation.SetTimezoneOverride(p.timezone).Do(ctx); err != nil {
			return fmt.Errorf("set timezone: %w", err)
		}
		if err := emulation.SetLocaleOverride().WithLocale(p.locale).Do(ctx); err != nil {
			return fmt.Errorf("set locale: %w", err)
		}
		if len(p.headers) > 0 {
			extra := make(network.Headers, len(p.headers))
			for k, v := range p.headers {
				extra[k] = v
			}
			if err := network.SetExtraHTTPHeaders(extra).Do(ctx); err != nil {
				return fmt.Errorf("set captured headers: %w", err)
			}
		}
		return nil
	})
}

// stealthScript neutralizes the automation tells the marketplace checks
// before the mtop endpoints return real data.
func stealthScript() chromedp.Action {
	const script = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3, 4, 5]});
Object.defineProperty(navigator, 'languages', {get: () => ['zh-CN', 'zh']});
const origQuery = window.navigator.permissions.query;
window.navigator.permissions.query = (parameters) => (
  parameters.name === 'notifications'
    ? Promise.resolve({state: Notification.permission})
    : origQuery(parameters)
);
`
	return chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
		if err != nil {
			return fmt.Errorf("install stealth script: %w", err)
		}
		return nil
	})
}

func setCookieAction(cookies []domain.Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		for _, c := range cookies {
			param := network.SetCookie(c.Name, c.Value).
				WithDomain(c.Domain).
				WithPath(c.Path).
				WithHTTPOnly(c.HTTPOnly).
				WithSecure(c.Secure)
			if c.Expires > 0 {
				expiry := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
				param = param.WithExpires(&expiry)
			}
			switch c.SameSite {
			case "None":
				param = param.WithSameSite(network.CookieSameSiteNone)
			case "Strict":
				param = param.WithSameSite(network.CookieSameSiteStrict)
			default:
				param = param.WithSameSite(network.CookieSameSiteLax)
			}
			if err := param.Do(ctx); err != nil {
				return fmt.Errorf("set cookie %s: %w", c.Name, err)
			}
		}
		return nil
	})
}

// handleEvent feeds the interception machinery. Bodies are fetched only
// after loadingFinished so partial reads never reach subscribers.
func (s *Session) handleEvent(ev any) {
	switch event := ev.(type) {
	case *network.EventResponseReceived:
		if event.Response == nil {
			return
		}
		url := event.Response.URL
		s.mu.Lock()
		for _, sub := range s.subs {
			if strings.Contains(url, sub.urlPart) {
				s.pending[event.RequestID] = url
				break
			}
		}
		s.mu.Unlock()
	case *network.EventLoadingFinished:
		s.mu.Lock()
		url, ok := s.pending[event.RequestID]
		if ok {
			delete(s.pending, event.RequestID)
		}
		s.mu.Unlock()
		if ok {
			go s.fetchBody(event.RequestID, url)
		}
	}
}

func (s *Session) fetchBody(requestID network.RequestID, url string) {
	c := chromedp.FromContext(s.tabCtx)
	if c == nil {
		return
	}
	execCtx := cdp.WithExecutor(s.tabCtx, c.Target)
	body, err := network.GetResponseBody(requestID).Do(execCtx)
	if err != nil {
		s.logger.Debug("response body unavailable", zap.String("url", url), zap.Error(err))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if !strings.Contains(url, sub.urlPart) {
			continue
		}
		select {
		case <-sub.done:
		case sub.bodies <- body:
		default:
			// buffer full, drop the oldest so fresh pages win
			select {
			case <-sub.bodies:
			default:
			}
			select {
			case sub.bodies <- body:
			default:
			}
		}
	}
}

// Subscribe registers a standing interceptor for responses whose URL
// contains urlPart.
func (s *Session) Subscribe(urlPart string) (<-chan []byte, func()) {
	sub := &subscription{
		urlPart: urlPart,
		bodies:  make(chan []byte, subscriptionBuffer),
		done:    make(chan struct{}),
	}
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		select {
		case <-sub.done:
			return
		default:
		}
		close(sub.done)
		for i, existing := range s.subs {
			if existing == sub {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
	}
	return sub.bodies, cancel
}

func (s *Session) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithTimeout(s.tabCtx, timeout)
	defer cancel()
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads url and waits for the document body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	err := s.run(ctx, s.cfg.NavigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if err := s.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("wait visible %q: %w", selector, err)
	}
	return nil
}

func (s *Session) IsPresent(ctx context.Context, selector string) (bool, error) {
	var present bool
	expr := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	if err := s.run(ctx, 5*time.Second, chromedp.Evaluate(expr, &present)); err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	return present, nil
}

func (s *Session) Click(ctx context.Context, selector string) error {
	if err := s.run(ctx, 10*time.Second, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	return nil
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	err := s.run(ctx, 10*time.Second,
		chromedp.Focus(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
	if err != nil {
		return fmt.Errorf("fill %q: %w", selector, err)
	}
	return nil
}

func (s *Session) PressKey(ctx context.Context, key string) error {
	seq := key
	switch key {
	case "Tab":
		seq = kb.Tab
	case "Enter":
		seq = kb.Enter
	case "Escape":
		seq = kb.Escape
	}
	if err := s.run(ctx, 5*time.Second, chromedp.KeyEvent(seq)); err != nil {
		return fmt.Errorf("press key %q: %w", key, err)
	}
	return nil
}

func (s *Session) Evaluate(ctx context.Context, expr string, out any) error {
	if err := s.run(ctx, 10*time.Second, chromedp.Evaluate(expr, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

func (s *Session) ScrollBy(ctx context.Context, deltaY int) error {
	expr := fmt.Sprintf("window.scrollBy(0, %d); undefined", deltaY)
	var ignored any
	if err := s.run(ctx, 5*time.Second, chromedp.Evaluate(expr, &ignored)); err != nil {
		return fmt.Errorf("scroll: %w", err)
	}
	return nil
}

// Cookies reads the tab's current cookie jar.
func (s *Session) Cookies(ctx context.Context) ([]domain.Cookie, error) {
	var raw []*network.Cookie
	err := s.run(ctx, 10*time.Second, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	cookies := make([]domain.Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, domain.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: sameSiteLabel(c.SameSite),
		})
	}
	return cookies, nil
}

func sameSiteLabel(v network.CookieSameSite) string {
	switch v {
	case network.CookieSameSiteNone:
		return "None"
	case network.CookieSameSiteStrict:
		return "Strict"
	case network.CookieSameSiteLax:
		return "Lax"
	default:
		return ""
	}
}

// Close tears down the tab and the browser process.
func (s *Session) Close() error {
	s.mu.Lock()
	for _, sub := range s.subs {
		select {
		case <-sub.done:
		default:
			close(sub.done)
		}
	}
	s.subs = nil
	s.mu.Unlock()

	s.tabCancel()
	s.allocCancel()
	return nil
}
