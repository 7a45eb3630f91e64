package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tigerliu/idlewatch/internal/domain"
)

func sampleRecord() *domain.FinalRecord {
	return &domain.FinalRecord{
		TaskName: "捡漏相机",
		Keyword:  "富士相机",
		Item: domain.ItemInfo{
			ListingID: "912345678",
			Title:     "富士X100V 95新 国行带包装 快门数不到3000 诚心出",
			Price:     "¥6800",
			MainImage: "https://img.example.com/main.jpg",
			Link:      "https://www.goofish.com/item?id=912345678",
		},
		AIAnalysis: &domain.AIAnalysis{
			IsRecommended:       true,
			RecommendationLevel: domain.LevelStrongBuy,
			Reason:              "卖家信用良好，价格低于市场价",
		},
	}
}

func TestBuildProductTruncatesTitle(t *testing.T) {
	msg := BuildProduct(sampleRecord(), "fallback", true)

	require.True(t, strings.HasPrefix(msg.Title, "🚨 新推荐! "))
	require.Contains(t, msg.Title, "...")
	require.LessOrEqual(t, len([]rune(strings.TrimSuffix(strings.TrimPrefix(msg.Title, "🚨 新推荐! "), "..."))), 30)
	require.Contains(t, msg.Content, "卖家信用良好")
	require.NotContains(t, msg.Content, "fallback")
	require.Equal(t, "https://m.goofish.com/item?id=912345678", msg.JumpURL)
	require.Equal(t, "https://img.example.com/main.jpg", msg.ImageURL)
	// pcToMobile drops the PC link from the body
	require.NotContains(t, msg.Content, "www.goofish.com")
}

func TestBuildProductKeepsPCLink(t *testing.T) {
	msg := BuildProduct(sampleRecord(), "", false)
	require.Contains(t, msg.Content, "https://www.goofish.com/item?id=912345678")
}

func TestCanonicalEndReason(t *testing.T) {
	require.Equal(t, "触发风控：滑块验证（BAXIA_DIALOG）",
		CanonicalEndReason("RISK_CONTROL:BAXIA_DIALOG"))
	require.Equal(t, "触发风控：系统验证（FAIL_SYS_USER_VALIDATE）",
		CanonicalEndReason("RISK_CONTROL:FAIL_SYS_USER_VALIDATE"))
	require.Equal(t, "AI调用失败：连续3次失败",
		CanonicalEndReason("AI_CALL_FAILURE:连续3次失败"))
	require.Equal(t, domain.EndReasonDone, CanonicalEndReason(domain.EndReasonDone))
}

// stubChannel records calls and fails on demand.
type stubChannel struct {
	name    string
	enabled bool
	fail    bool
	calls   atomic.Int32
}

func (s *stubChannel) Name() string  { return s.name }
func (s *stubChannel) Enabled() bool { return s.enabled }
func (s *stubChannel) send() error {
	s.calls.Add(1)
	if s.fail {
		return errors.New("boom")
	}
	return nil
}
func (s *stubChannel) SendTest(context.Context) error { return s.send() }
func (s *stubChannel) SendProduct(context.Context, *domain.FinalRecord, string) error {
	return s.send()
}
func (s *stubChannel) SendTaskStart(context.Context, string, string) error { return s.send() }
func (s *stubChannel) SendTaskComplete(context.Context, string, string, int, int) error {
	return s.send()
}

func TestHubFanOutIsolatesFailures(t *testing.T) {
	good := &stubChannel{name: "good", enabled: true}
	bad := &stubChannel{name: "bad", enabled: true, fail: true}
	off := &stubChannel{name: "off", enabled: false}
	hub := NewHub([]domain.Notifier{good, bad, off}, true, zap.NewNop())

	results := hub.SendProduct(context.Background(), sampleRecord(), "")

	require.Equal(t, map[string]bool{"good": true, "bad": false}, results)
	require.EqualValues(t, 1, good.calls.Load())
	require.Zero(t, off.calls.Load())
	require.Equal(t, []string{"good", "bad"}, hub.Enabled())
}

func TestHubSuppressesLifecycleNotMerchandise(t *testing.T) {
	ch := &stubChannel{name: "ch", enabled: true}
	hub := NewHub([]domain.Notifier{ch}, false, zap.NewNop())

	require.Nil(t, hub.SendTaskStart(context.Background(), "task", "scheduled"))
	require.Nil(t, hub.SendTaskComplete(context.Background(), "task", domain.EndReasonDone, 3, 1))
	require.Zero(t, ch.calls.Load())

	hub.SendProduct(context.Background(), sampleRecord(), "")
	require.EqualValues(t, 1, ch.calls.Load())
}

func TestWebhookPostTemplate(t *testing.T) {
	var gotBody string
	var gotHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		gotHeader = r.Header.Get("X-Auth")
	}))
	defer srv.Close()

	wh := NewWebhook(map[string]string{
		"WEBHOOK_ENABLED":      "true",
		"WEBHOOK_URL":          srv.URL,
		"WEBHOOK_METHOD":       "POST",
		"WEBHOOK_CONTENT_TYPE": "JSON",
		"WEBHOOK_HEADERS":      "X-Auth:secret",
		"WEBHOOK_BODY":         `{"t":"${title}","c":"{{content}}"}`,
	})
	require.True(t, wh.Enabled())
	require.NoError(t, wh.deliver(context.Background(), Message{Title: "hello", Content: "world"}))
	require.Equal(t, "secret", gotHeader)
	require.JSONEq(t, `{"t":"hello","c":"world"}`, gotBody)
}

func TestWebhookGetUsesQueryParams(t *testing.T) {
	var gotTitle, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTitle = r.URL.Query().Get("title")
		gotContent = r.URL.Query().Get("content")
	}))
	defer srv.Close()

	wh := NewWebhook(map[string]string{
		"WEBHOOK_ENABLED": "true",
		"WEBHOOK_URL":     srv.URL,
		"WEBHOOK_METHOD":  "GET",
	})
	require.NoError(t, wh.deliver(context.Background(), Message{Title: "标题", Content: "内容"}))
	require.Equal(t, "标题", gotTitle)
	require.Equal(t, "内容", gotContent)
}

func TestChannelsDisabledWithoutCredentials(t *testing.T) {
	channels := Channels(map[string]string{
		"NTFY_ENABLED":   "true", // enabled but no topic URL
		"GOTIFY_ENABLED": "true",
		"GOTIFY_URL":     "https://gotify.example.com",
		"GOTIFY_TOKEN":   "tok",
		"BARK_URL":       "https://bark.example.com/key", // creds but not enabled
	})
	enabled := map[string]bool{}
	for _, ch := range channels {
		enabled[ch.Name()] = ch.Enabled()
	}
	require.False(t, enabled["ntfy"])
	require.True(t, enabled["gotify"])
	require.False(t, enabled["bark"])
	require.Len(t, channels, 8)
}

func TestWxAppCachesAccessToken(t *testing.T) {
	var tokenCalls, sendCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/cgi-bin/gettoken":
			tokenCalls.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"errcode": 0, "access_token": "tok-1", "expires_in": 7200,
			})
		case "/cgi-bin/message/send":
			sendCalls.Add(1)
			require.Equal(t, "tok-1", r.URL.Query().Get("access_token"))
			json.NewEncoder(w).Encode(map[string]any{"errcode": 0, "errmsg": "ok"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	app := NewWxApp(map[string]string{
		"WX_APP_ENABLED": "true",
		"WX_APP_CORPID":  "corp",
		"WX_APP_SECRET":  "sec",
		"WX_APP_AGENTID": "1000002",
	})
	app.apiBase = srv.URL
	require.True(t, app.Enabled())

	msg := Message{Title: "t", Content: "c", JumpURL: "https://m.goofish.com/item?id=1"}
	require.NoError(t, app.deliver(context.Background(), msg))
	require.NoError(t, app.deliver(context.Background(), msg))
	require.EqualValues(t, 1, tokenCalls.Load())
	require.EqualValues(t, 2, sendCalls.Load())
}

func TestTelegramSendsHTML(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bottok123/sendMessage", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&payload)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	tg := NewTelegram(map[string]string{
		"TELEGRAM_ENABLED":   "true",
		"TELEGRAM_BOT_TOKEN": "tok123",
		"TELEGRAM_CHAT_ID":   "42",
	})
	tg.apiBase = srv.URL
	require.NoError(t, tg.deliver(context.Background(), Message{Title: "a<b", Content: "c"}))
	require.Equal(t, "HTML", payload["parse_mode"])
	require.Contains(t, payload["text"], "a&lt;b")
}
