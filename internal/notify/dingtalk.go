package notify

import (
	"context"
	"fmt"
	"strings"
)

// DingTalk posts markdown messages to a DingTalk group robot webhook.
type DingTalk struct {
	*channel
	webhookURL string
}

func NewDingTalk(settings map[string]string) *DingTalk {
	webhookURL := strings.TrimSpace(settings["DINGTALK_WEBHOOK_URL"])
	d := &DingTalk{
		channel:    newChannel("dingtalk", settings, channelEnabled(settings, "dingtalk", webhookURL != "")),
		webhookURL: webhookURL,
	}
	d.deliver = d.post
	return d
}

func (d *DingTalk) post(ctx context.Context, msg Message) error {
	text := "### " + msg.Title + "\n\n" + msg.Content
	if msg.ImageURL != "" {
		text += "\n\n![](" + msg.ImageURL + ")"
	}
	if msg.JumpURL != "" {
		text += "\n\n[查看详情](" + msg.JumpURL + ")"
	}
	var body struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	resp, err := d.http.R().SetContext(ctx).
		SetBody(map[string]any{
			"msgtype":  "markdown",
			"markdown": map[string]string{"title": msg.Title, "text": text},
		}).
		SetResult(&body).
		Post(d.webhookURL)
	if err != nil {
		return fmt.Errorf("dingtalk post: %w", err)
	}
	if resp.IsError() || body.ErrCode != 0 {
		return fmt.Errorf("dingtalk post: errcode %d: %s", body.ErrCode, body.ErrMsg)
	}
	return nil
}
