package notify

import (
	"context"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tigerliu/idlewatch/internal/domain"
	"github.com/tigerliu/idlewatch/internal/taskcfg"
)

// channel carries the plumbing shared by every adapter: enable flag,
// per-channel proxy scoping and the message templates. The concrete adapter
// supplies deliver.
type channel struct {
	name       string
	enabled    bool
	pcToMobile bool
	http       *resty.Client
	deliver    func(ctx context.Context, msg Message) error
}

// newChannel wires the shared plumbing. The channel uses the configured
// proxy only when its own PROXY_<CHANNEL>_ENABLED flag is set.
func newChannel(name string, settings map[string]string, enabled bool) *channel {
	client := resty.New().SetTimeout(10 * time.Second)
	proxyKey := "PROXY_" + strings.ToUpper(name) + "_ENABLED"
	if taskcfg.EnvBool(settings, proxyKey) {
		if proxy := settings["PROXY_URL"]; proxy != "" {
			client.SetProxy(proxy)
		}
	}
	return &channel{
		name:       name,
		enabled:    enabled,
		pcToMobile: taskcfg.EnvBool(settings, "PCURL_TO_MOBILE"),
		http:       client,
	}
}

func (c *channel) Name() string  { return c.name }
func (c *channel) Enabled() bool { return c.enabled }

func (c *channel) SendTest(ctx context.Context) error {
	return c.deliver(ctx, Message{
		Title:   "测试通知",
		Content: "通知渠道 " + c.name + " 配置正确。",
	})
}

func (c *channel) SendProduct(ctx context.Context, record *domain.FinalRecord, reason string) error {
	return c.deliver(ctx, BuildProduct(record, reason, c.pcToMobile))
}

func (c *channel) SendTaskStart(ctx context.Context, taskName, reason string) error {
	return c.deliver(ctx, BuildTaskStart(taskName, reason))
}

func (c *channel) SendTaskComplete(ctx context.Context, taskName, reason string, processed, recommended int) error {
	return c.deliver(ctx, BuildTaskComplete(taskName, reason, processed, recommended))
}

// Channels builds all adapters from the settings map. Channels missing
// credentials construct disabled so the hub can report them.
func Channels(settings map[string]string) []domain.Notifier {
	return []domain.Notifier{
		NewNtfy(settings),
		NewGotify(settings),
		NewBark(settings),
		NewWxBot(settings),
		NewWxApp(settings),
		NewTelegram(settings),
		NewWebhook(settings),
		NewDingTalk(settings),
	}
}

func channelEnabled(settings map[string]string, name string, credsSet bool) bool {
	return credsSet && taskcfg.EnvBool(settings, strings.ToUpper(name)+"_ENABLED")
}
