package notify

import (
	"context"
	"fmt"
	"strings"
)

// Webhook is the operator-defined escape hatch: arbitrary URL, GET or POST,
// custom headers and a body template with ${title}/${content} placeholders
// ({{title}}/{{content}} accepted as well).
type Webhook struct {
	*channel
	url         string
	method      string
	contentType string
	headers     map[string]string
	template    string
}

func NewWebhook(settings map[string]string) *Webhook {
	url := strings.TrimSpace(settings["WEBHOOK_URL"])
	method := strings.ToUpper(strings.TrimSpace(settings["WEBHOOK_METHOD"]))
	if method != "GET" {
		method = "POST"
	}
	contentType := strings.ToUpper(strings.TrimSpace(settings["WEBHOOK_CONTENT_TYPE"]))
	if contentType != "FORM" {
		contentType = "JSON"
	}
	w := &Webhook{
		channel:     newChannel("webhook", settings, channelEnabled(settings, "webhook", url != "")),
		url:         url,
		method:      method,
		contentType: contentType,
		headers:     parseHeaderList(settings["WEBHOOK_HEADERS"]),
		template:    settings["WEBHOOK_BODY"],
	}
	w.deliver = w.send
	return w
}

// parseHeaderList accepts "Key1:Val1;Key2:Val2".
func parseHeaderList(raw string) map[string]string {
	headers := map[string]string{}
	for _, pair := range strings.Split(raw, ";") {
		key, value, ok := strings.Cut(pair, ":")
		key = strings.TrimSpace(key)
		if ok && key != "" {
			headers[key] = strings.TrimSpace(value)
		}
	}
	return headers
}

func expandTemplate(template, title, content string) string {
	replacer := strings.NewReplacer(
		"${title}", title,
		"${content}", content,
		"{{title}}", title,
		"{{content}}", content,
	)
	return replacer.Replace(template)
}

func (w *Webhook) send(ctx context.Context, msg Message) error {
	content := msg.Content
	if msg.JumpURL != "" {
		content += "\n" + msg.JumpURL
	}
	req := w.http.R().SetContext(ctx).SetHeaders(w.headers)

	if w.method == "GET" {
		req.SetQueryParams(map[string]string{"title": msg.Title, "content": content})
	} else if w.template != "" {
		body := expandTemplate(w.template, msg.Title, content)
		if w.contentType == "FORM" {
			req.SetHeader("Content-Type", "application/x-www-form-urlencoded").SetBody(body)
		} else {
			req.SetHeader("Content-Type", "application/json").SetBody(body)
		}
	} else if w.contentType == "FORM" {
		req.SetFormData(map[string]string{"title": msg.Title, "content": content})
	} else {
		req.SetBody(map[string]string{"title": msg.Title, "content": content})
	}

	resp, err := req.Execute(w.method, w.url)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.method, err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook %s: status %d: %s", w.method, resp.StatusCode(), resp.String())
	}
	return nil
}
