package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
)

// Telegram sends HTML-formatted messages through the Bot API.
type Telegram struct {
	*channel
	apiBase  string
	botToken string
	chatID   string
}

func NewTelegram(settings map[string]string) *Telegram {
	botToken := strings.TrimSpace(settings["TELEGRAM_BOT_TOKEN"])
	chatID := strings.TrimSpace(settings["TELEGRAM_CHAT_ID"])
	t := &Telegram{
		channel:  newChannel("telegram", settings, channelEnabled(settings, "telegram", botToken != "" && chatID != "")),
		apiBase:  "https://api.telegram.org",
		botToken: botToken,
		chatID:   chatID,
	}
	t.deliver = t.post
	return t
}

func (t *Telegram) post(ctx context.Context, msg Message) error {
	text := "<b>" + html.EscapeString(msg.Title) + "</b>\n\n" + html.EscapeString(msg.Content)
	if msg.JumpURL != "" {
		text += "\n\n<a href=\"" + msg.JumpURL + "\">查看详情</a>"
	}
	var body struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	resp, err := t.http.R().SetContext(ctx).
		SetBody(map[string]any{
			"chat_id":                  t.chatID,
			"text":                     text,
			"parse_mode":               "HTML",
			"disable_web_page_preview": msg.ImageURL == "",
		}).
		SetResult(&body).
		Post(t.apiBase + "/bot" + t.botToken + "/sendMessage")
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if resp.IsError() || !body.OK {
		return fmt.Errorf("telegram send: status %d: %s", resp.StatusCode(), body.Description)
	}
	return nil
}
