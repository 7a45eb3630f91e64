package notify

import (
	"context"
	"fmt"
	"strings"
)

// Bark pushes to the iOS Bark app via its device URL.
type Bark struct {
	*channel
	deviceURL string
}

func NewBark(settings map[string]string) *Bark {
	deviceURL := strings.TrimRight(strings.TrimSpace(settings["BARK_URL"]), "/")
	b := &Bark{
		channel:   newChannel("bark", settings, channelEnabled(settings, "bark", deviceURL != "")),
		deviceURL: deviceURL,
	}
	b.deliver = b.post
	return b
}

func (b *Bark) post(ctx context.Context, msg Message) error {
	body := map[string]any{
		"title": msg.Title,
		"body":  msg.Content,
		"group": "idlewatch",
	}
	if msg.JumpURL != "" {
		body["url"] = msg.JumpURL
	}
	if msg.ImageURL != "" {
		body["icon"] = msg.ImageURL
	}
	resp, err := b.http.R().SetContext(ctx).SetBody(body).Post(b.deviceURL)
	if err != nil {
		return fmt.Errorf("bark post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("bark post: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
