package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"
)

// 功能标识，和后端约定一致
const (
	FeatureDailyPlan    = "daily_plan"
	FeatureWeeklyReport = "weekly_report"
	FeatureChat         = "chat"
)

const quotaCacheTTL = 60 * time.Second

// 默认配额表。网络不可用时的本地兜底，权威取值在服务端。
var defaultQuotas = map[string]QuotaRemaining{
	"free":     {DailyPlan: 3, WeeklyReport: 1, Chat: 10},
	"pro":      {DailyPlan: 50, WeeklyReport: 10, Chat: 100},
	"lifetime": {DailyPlan: 50, WeeklyReport: 10, Chat: 100},
}

// QuotaGuard 配额预检。回答"现在能不能调这个 AI 功能"，
// 结果缓存至多 60 秒，跨过重置边界的缓存直接作废。
type QuotaGuard struct {
	auth *AuthClient

	mu        sync.Mutex
	cached    *QuotaStatus
	fetchedAt time.Time

	now func() time.Time // 测试时替换
}

func NewQuotaGuard(auth *AuthClient) *QuotaGuard {
	return &QuotaGuard{
		auth: auth,
		now:  time.Now,
	}
}

// Preflight 预检。pro/lifetime 永远放行；free 看剩余次数。
// 网络失败时用最后已知的等级和默认配额表保守兜底，服务端仍会二次校验。
func (g *QuotaGuard) Preflight(ctx context.Context, feature string) error {
	status, err := g.status(ctx)
	if err != nil {
		if errors.Is(err, ErrSessionExpired) {
			return err
		}
		return g.fallback(feature, err)
	}

	if status.UserTier == "pro" || status.UserTier == "lifetime" {
		return nil
	}
	if remainingFor(status.Remaining, feature) > 0 {
		return nil
	}
	return ErrQuotaExhausted
}

// RefreshFromBackend 强制拉取最新配额状态
func (g *QuotaGuard) RefreshFromBackend(ctx context.Context) (*QuotaStatus, error) {
	return g.fetch(ctx)
}

// UpdateFromResponse 用其他接口捎带的剩余次数更新缓存，
// 避免 AI 调用后下一次预检再打一次后端。
func (g *QuotaGuard) UpdateFromResponse(remaining QuotaRemaining) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cached != nil {
		g.cached.Remaining = remaining
		g.fetchedAt = g.now()
	}
}

func (g *QuotaGuard) status(ctx context.Context) (*QuotaStatus, error) {
	g.mu.Lock()
	cached := g.cached
	fetchedAt := g.fetchedAt
	g.mu.Unlock()

	now := g.now()
	if cached != nil && now.Sub(fetchedAt) <= quotaCacheTTL && !crossedResetBoundary(fetchedAt, now) {
		return cached, nil
	}

	return g.fetch(ctx)
}

func (g *QuotaGuard) fetch(ctx context.Context) (*QuotaStatus, error) {
	data, err := g.auth.AuthenticatedRequest(ctx, http.MethodGet, "/api/quota-status", nil)
	if err != nil {
		return nil, err
	}

	var status QuotaStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, bugError("配额状态响应格式异常")
	}
	if !status.Success {
		return nil, bugError("配额查询失败: " + status.ErrorMsg)
	}

	g.mu.Lock()
	g.cached = &status
	g.fetchedAt = g.now()
	g.mu.Unlock()

	return &status, nil
}

// fallback 网络失败时的本地判定。拿最后已知等级查默认配额表，
// 次数未知时放行（计费以服务端为准）。
func (g *QuotaGuard) fallback(feature string, cause error) error {
	g.mu.Lock()
	cached := g.cached
	g.mu.Unlock()

	tier := ""
	if cached != nil {
		tier = cached.UserTier
	} else {
		session := g.auth.Session()
		tier = session.Tier
	}
	if tier == "" {
		tier = "free"
	}

	log.Printf("Quota preflight falling back to local table (tier=%s): %v", tier, cause)

	if tier == "pro" || tier == "lifetime" {
		return nil
	}
	if defaults, ok := defaultQuotas[tier]; ok && remainingFor(defaults, feature) > 0 {
		return nil
	}
	return ErrQuotaExhausted
}

func remainingFor(r QuotaRemaining, feature string) int {
	switch feature {
	case FeatureDailyPlan:
		return r.DailyPlan
	case FeatureWeeklyReport:
		return r.WeeklyReport
	case FeatureChat:
		return r.Chat
	default:
		return 0
	}
}

// crossedResetBoundary 判断从 fetchedAt 到 now 是否跨过了本地零点。
// 每日重置是最短的边界，跨过它就把缓存整个作废。
func crossedResetBoundary(fetchedAt, now time.Time) bool {
	y1, m1, d1 := fetchedAt.Local().Date()
	y2, m2, d2 := now.Local().Date()
	return y1 != y2 || m1 != m2 || d1 != d2
}
