package domain

import "errors"

// Canonical end-reason strings carried into task-complete notifications.
const (
	EndReasonDone        = "完成了全部设置商品分析"
	EndReasonManualStop  = "手动停止-结束原因：用户手动停止任务"
	EndReasonDebugLimit  = "调试上限-结束原因：达到调试商品数量上限"
	EndReasonAborted     = "操作终止-结束原因："
)

// End-reason prefixes for failure classes; the concrete marker or message is
// appended after the colon.
const (
	EndReasonRiskControl   = "RISK_CONTROL:"
	EndReasonAIFailure     = "AI_CALL_FAILURE:"
	EndReasonNoValidCookie = "NO_VALID_COOKIE:"
	EndReasonNoAccount     = "NO_ACCOUNT:"
)

// Anti-automation markers recognized by the risk detector.
const (
	RiskMarkerBaxia      = "BAXIA_DIALOG"
	RiskMarkerMiddleware = "J_MIDDLEWARE_FRAME_WIDGET"
	RiskMarkerValidate   = "FAIL_SYS_USER_VALIDATE"
)

// Run-terminal sentinel errors.
var (
	ErrRiskControl    = errors.New("risk control triggered")
	ErrNoValidAccount = errors.New("no valid account")
	ErrAICallFailure  = errors.New("consecutive ai call failures")
	ErrStopped        = errors.New("task stopped by user")
	ErrDebugLimit     = errors.New("debug listing cap reached")
)
