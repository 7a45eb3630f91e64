package notify

import (
	"context"
	"fmt"
	"strings"
)

// Ntfy posts plain-text messages to an ntfy topic URL. The jump link rides
// along as a Click action header so the mobile app opens the listing.
type Ntfy struct {
	*channel
	topicURL string
}

func NewNtfy(settings map[string]string) *Ntfy {
	topicURL := strings.TrimSpace(settings["NTFY_TOPIC_URL"])
	n := &Ntfy{
		channel:  newChannel("ntfy", settings, channelEnabled(settings, "ntfy", topicURL != "")),
		topicURL: topicURL,
	}
	n.deliver = n.post
	return n
}

func (n *Ntfy) post(ctx context.Context, msg Message) error {
	req := n.http.R().SetContext(ctx).
		SetHeader("Title", msg.Title).
		SetBody(msg.Content)
	if msg.JumpURL != "" {
		req.SetHeader("Click", msg.JumpURL)
	}
	if msg.ImageURL != "" {
		req.SetHeader("Attach", msg.ImageURL)
	}
	resp, err := req.Post(n.topicURL)
	if err != nil {
		return fmt.Errorf("ntfy post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("ntfy post: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
