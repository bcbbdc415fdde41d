// Package client 是 GaiYa 桌面端使用的云服务 SDK。
// 负责令牌生命周期、配额预检、支付编排和 AI 请求，
// 所有网络调用都接受 context，失败以带类别的错误返回。
package client

import "fmt"

// ErrorKind 失败类别。调用方按类别分流，而不是匹配错误文案。
type ErrorKind int

const (
	// KindNetwork 连接拒绝、超时、TLS 失败等传输层问题
	KindNetwork ErrorKind = iota + 1
	// KindSessionExpired 刷新令牌失效，需要重新登录
	KindSessionExpired
	// KindAuthDenied 密码错误、邮箱已注册等认证拒绝
	KindAuthDenied
	// KindQuotaExhausted 配额用尽
	KindQuotaExhausted
	// KindGatewayRejected 支付网关拒绝（签名、商户号、通道问题）
	KindGatewayRejected
	// KindBug 响应形状异常等预期之外的问题
	KindBug
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindSessionExpired:
		return "session_expired"
	case KindAuthDenied:
		return "auth_denied"
	case KindQuotaExhausted:
		return "quota_exhausted"
	case KindGatewayRejected:
		return "gateway_rejected"
	case KindBug:
		return "bug"
	default:
		return "unknown"
	}
}

// Error 带类别的 SDK 错误
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is 让 errors.Is 按类别匹配，哨兵错误可以匹配同类的具体错误
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ErrSessionExpired 会话过期哨兵。所有认证调用点对它的处理一致（回到登录页），
// 所以作为唯一的控制流信号错误。
var ErrSessionExpired = &Error{Kind: KindSessionExpired, Message: "会话已过期，请重新登录"}

// ErrQuotaExhausted 配额用尽哨兵，预检拒绝时返回，不发起网络请求
var ErrQuotaExhausted = &Error{Kind: KindQuotaExhausted, Message: "配额已用尽"}

func networkError(err error) *Error {
	return &Error{Kind: KindNetwork, Message: err.Error()}
}

func authDenied(msg string) *Error {
	return &Error{Kind: KindAuthDenied, Message: msg}
}

func bugError(msg string) *Error {
	return &Error{Kind: KindBug, Message: msg}
}
