package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// WxBot posts markdown messages to a corp WeChat group robot webhook.
type WxBot struct {
	*channel
	webhookURL string
}

func NewWxBot(settings map[string]string) *WxBot {
	webhookURL := strings.TrimSpace(settings["WX_BOT_URL"])
	w := &WxBot{
		channel:    newChannel("wx_bot", settings, channelEnabled(settings, "wx_bot", webhookURL != "")),
		webhookURL: webhookURL,
	}
	w.deliver = w.post
	return w
}

func (w *WxBot) post(ctx context.Context, msg Message) error {
	content := "**" + msg.Title + "**\n" + msg.Content
	if msg.JumpURL != "" {
		content += "\n[查看详情](" + msg.JumpURL + ")"
	}
	resp, err := w.http.R().SetContext(ctx).
		SetBody(map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]string{"content": content},
		}).
		Post(w.webhookURL)
	if err != nil {
		return fmt.Errorf("wx_bot post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("wx_bot post: status %d: %s", resp.StatusCode(), resp.String())
	}
	var body struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.ErrCode != 0 {
		return fmt.Errorf("wx_bot post: errcode %d: %s", body.ErrCode, body.ErrMsg)
	}
	return nil
}

// WxApp sends news-card messages through a corp WeChat application. Access
// tokens are cached until shortly before expiry.
type WxApp struct {
	*channel
	apiBase string
	corpID  string
	secret  string
	agentID string
	toUser  string

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

func NewWxApp(settings map[string]string) *WxApp {
	corpID := strings.TrimSpace(settings["WX_APP_CORPID"])
	secret := strings.TrimSpace(settings["WX_APP_SECRET"])
	agentID := strings.TrimSpace(settings["WX_APP_AGENTID"])
	toUser := strings.TrimSpace(settings["WX_APP_TOUSER"])
	if toUser == "" {
		toUser = "@all"
	}
	creds := corpID != "" && secret != "" && agentID != ""
	w := &WxApp{
		channel: newChannel("wx_app", settings, channelEnabled(settings, "wx_app", creds)),
		apiBase: "https://qyapi.weixin.qq.com",
		corpID:  corpID,
		secret:  secret,
		agentID: agentID,
		toUser:  toUser,
	}
	w.deliver = w.post
	return w
}

type wxTokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (w *WxApp) token(ctx context.Context) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.accessToken != "" && time.Now().Before(w.tokenExpiry) {
		return w.accessToken, nil
	}
	var body wxTokenResponse
	resp, err := w.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"corpid": w.corpID, "corpsecret": w.secret}).
		SetResult(&body).
		Get(w.apiBase + "/cgi-bin/gettoken")
	if err != nil {
		return "", fmt.Errorf("wx_app token: %w", err)
	}
	if resp.IsError() || body.ErrCode != 0 || body.AccessToken == "" {
		return "", fmt.Errorf("wx_app token: errcode %d: %s", body.ErrCode, body.ErrMsg)
	}
	w.accessToken = body.AccessToken
	// refresh one minute early so in-flight sends never race expiry
	w.tokenExpiry = time.Now().Add(time.Duration(body.ExpiresIn-60) * time.Second)
	return w.accessToken, nil
}

func (w *WxApp) post(ctx context.Context, msg Message) error {
	token, err := w.token(ctx)
	if err != nil {
		return err
	}
	article := map[string]string{
		"title":       msg.Title,
		"description": msg.Content,
	}
	if msg.JumpURL != "" {
		article["url"] = msg.JumpURL
	}
	if msg.ImageURL != "" {
		article["picurl"] = msg.ImageURL
	}
	var body struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	resp, err := w.http.R().SetContext(ctx).
		SetQueryParam("access_token", token).
		SetBody(map[string]any{
			"touser":  w.toUser,
			"msgtype": "news",
			"agentid": w.agentID,
			"news":    map[string]any{"articles": []map[string]string{article}},
		}).
		SetResult(&body).
		Post(w.apiBase + "/cgi-bin/message/send")
	if err != nil {
		return fmt.Errorf("wx_app send: %w", err)
	}
	if resp.IsError() || body.ErrCode != 0 {
		// token may have been revoked server side, drop the cache
		if body.ErrCode == 40014 || body.ErrCode == 42001 {
			w.mu.Lock()
			w.accessToken = ""
			w.mu.Unlock()
		}
		return fmt.Errorf("wx_app send: errcode %d: %s", body.ErrCode, body.ErrMsg)
	}
	return nil
}
