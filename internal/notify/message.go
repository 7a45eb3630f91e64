// Package notify implements the outbound notification hub and its channel
// adapters.
package notify

import (
	"fmt"
	"strings"

	"github.com/tigerliu/idlewatch/internal/domain"
)

// Message is the channel-independent rendering of one notification.
type Message struct {
	Title   string
	Content string
	// JumpURL is the preferred click-through link, when one exists.
	JumpURL string
	// ImageURL decorates channels that support a cover image.
	ImageURL string
}

const titleRunes = 30

// BuildProduct renders a listing card. When the classifier produced a reason
// it wins over the caller-supplied one. pcToMobile controls whether the PC
// link is attached alongside the mobile link.
func BuildProduct(record *domain.FinalRecord, reason string, pcToMobile bool) Message {
	title := []rune(record.Item.Title)
	if len(title) > titleRunes {
		title = title[:titleRunes]
	}

	if record.AIAnalysis != nil && record.AIAnalysis.Reason != "" {
		reason = record.AIAnalysis.Reason
	}

	mobileLink := mobileURL(record.Item.ListingID)
	var b strings.Builder
	fmt.Fprintf(&b, "价格: %s\n", record.Item.Price)
	if record.Item.PublishTime != "" {
		fmt.Fprintf(&b, "发布时间: %s\n", record.Item.PublishTime)
	}
	fmt.Fprintf(&b, "推荐理由: %s\n", reason)
	fmt.Fprintf(&b, "手机链接: %s\n", mobileLink)
	if !pcToMobile && record.Item.Link != "" {
		fmt.Fprintf(&b, "电脑链接: %s\n", record.Item.Link)
	}

	return Message{
		Title:    fmt.Sprintf("🚨 新推荐! %s...", string(title)),
		Content:  strings.TrimRight(b.String(), "\n"),
		JumpURL:  mobileLink,
		ImageURL: record.Item.MainImage,
	}
}

func mobileURL(listingID string) string {
	if listingID == "" {
		return ""
	}
	return "https://m.goofish.com/item?id=" + listingID
}

// BuildTaskStart renders a task-start notice.
func BuildTaskStart(taskName, reason string) Message {
	return Message{
		Title:   fmt.Sprintf("任务启动: %s", taskName),
		Content: fmt.Sprintf("任务 %s 已启动（%s）", taskName, reason),
	}
}

// BuildTaskComplete renders a task-completion notice with the canonicalized
// end reason.
func BuildTaskComplete(taskName, reason string, processed, recommended int) Message {
	return Message{
		Title: fmt.Sprintf("任务完成: %s", taskName),
		Content: fmt.Sprintf("任务 %s 已结束\n结束原因: %s\n处理商品: %d\n推荐商品: %d",
			taskName, CanonicalEndReason(reason), processed, recommended),
	}
}

// riskReasonNames maps the risk markers to operator-readable labels.
var riskReasonNames = map[string]string{
	domain.RiskMarkerValidate:   "系统验证",
	domain.RiskMarkerBaxia:      "滑块验证",
	domain.RiskMarkerMiddleware: "中间页拦截",
}

// CanonicalEndReason maps machine end-reasons to the operator-facing labels
// carried in task-complete notifications. Unknown reasons pass through.
func CanonicalEndReason(reason string) string {
	switch {
	case strings.HasPrefix(reason, domain.EndReasonRiskControl):
		marker := strings.TrimPrefix(reason, domain.EndReasonRiskControl)
		if name, ok := riskReasonNames[marker]; ok {
			return fmt.Sprintf("触发风控：%s（%s）", name, marker)
		}
		return fmt.Sprintf("触发风控：%s", marker)
	case strings.HasPrefix(reason, domain.EndReasonAIFailure):
		return "AI调用失败：" + strings.TrimPrefix(reason, domain.EndReasonAIFailure)
	case strings.HasPrefix(reason, domain.EndReasonNoValidCookie):
		return "无有效登录账号：" + strings.TrimPrefix(reason, domain.EndReasonNoValidCookie)
	case strings.HasPrefix(reason, domain.EndReasonNoAccount):
		return "账号不存在：" + strings.TrimPrefix(reason, domain.EndReasonNoAccount)
	default:
		return reason
	}
}
