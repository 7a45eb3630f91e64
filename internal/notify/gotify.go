package notify

import (
	"context"
	"fmt"
	"strings"
)

// Gotify pushes to a Gotify server using the application token.
type Gotify struct {
	*channel
	serverURL string
	token     string
}

func NewGotify(settings map[string]string) *Gotify {
	serverURL := strings.TrimRight(strings.TrimSpace(settings["GOTIFY_URL"]), "/")
	token := strings.TrimSpace(settings["GOTIFY_TOKEN"])
	g := &Gotify{
		channel:   newChannel("gotify", settings, channelEnabled(settings, "gotify", serverURL != "" && token != "")),
		serverURL: serverURL,
		token:     token,
	}
	g.deliver = g.post
	return g
}

func (g *Gotify) post(ctx context.Context, msg Message) error {
	content := msg.Content
	if msg.JumpURL != "" {
		content += "\n\n" + msg.JumpURL
	}
	resp, err := g.http.R().SetContext(ctx).
		SetQueryParam("token", g.token).
		SetBody(map[string]any{
			"title":    msg.Title,
			"message":  content,
			"priority": 5,
		}).
		Post(g.serverURL + "/message")
	if err != nil {
		return fmt.Errorf("gotify post: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("gotify post: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
