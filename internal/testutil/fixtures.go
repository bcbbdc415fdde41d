package testutil

import (
	"fmt"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/gaiya-app/gaiya-cloud/internal/model"
)

// TestUser 创建测试用户
func TestUser(t *testing.T, db *gorm.DB, opts ...func(*model.User)) *model.User {
	t.Helper()

	nano := time.Now().UnixNano()
	email := fmt.Sprintf("test_%d@example.com", nano)
	passwordHash := "$2a$10$abcdefghijklmnopqrstuvwxyz123456" // bcrypt hash placeholder
	user := &model.User{
		ID:            fmt.Sprintf("u-%d", nano),
		Username:      fmt.Sprintf("testuser_%d", nano%100000),
		Email:         &email,
		PasswordHash:  &passwordHash,
		Tier:          model.TierFree,
		EmailVerified: true,
	}

	for _, opt := range opts {
		opt(user)
	}

	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create test user: %v", err)
	}

	return user
}

// WithEmail 设置邮箱
func WithEmail(email string) func(*model.User) {
	return func(u *model.User) {
		u.Email = &email
	}
}

// WithTier 设置会员等级
func WithTier(tier string) func(*model.User) {
	return func(u *model.User) {
		u.Tier = tier
	}
}

// WithMembershipExpireAt 设置会员到期时间
func WithMembershipExpireAt(at time.Time) func(*model.User) {
	return func(u *model.User) {
		u.MembershipExpireAt = &at
	}
}

// WithQuotaUsed 设置各功能已用配额
func WithQuotaUsed(dailyPlan, weeklyReport, chat int) func(*model.User) {
	return func(u *model.User) {
		u.DailyPlanUsed = dailyPlan
		u.WeeklyReportUsed = weeklyReport
		u.ChatUsed = chat
	}
}

// WithRefreshToken 设置刷新令牌哈希
func WithRefreshToken(hash string, expiresAt time.Time) func(*model.User) {
	return func(u *model.User) {
		u.RefreshTokenHash = &hash
		u.RefreshExpiresAt = &expiresAt
	}
}

// TestOrder 创建测试订单
func TestOrder(t *testing.T, db *gorm.DB, userID string, opts ...func(*model.Order)) *model.Order {
	t.Helper()

	order := &model.Order{
		OutTradeNo: fmt.Sprintf("GAIYA%d", time.Now().UnixNano()),
		UserID:     userID,
		PlanType:   "pro_monthly",
		Amount:     29.00,
		PayType:    model.PayTypeAlipay,
		Status:     model.OrderStatusCreated,
	}

	for _, opt := range opts {
		opt(order)
	}

	if err := db.Create(order).Error; err != nil {
		t.Fatalf("Failed to create test order: %v", err)
	}

	return order
}

// WithOutTradeNo 设置订单号
func WithOutTradeNo(no string) func(*model.Order) {
	return func(o *model.Order) {
		o.OutTradeNo = no
	}
}

// WithPlan 设置套餐与金额
func WithPlan(planType string, amount float64) func(*model.Order) {
	return func(o *model.Order) {
		o.PlanType = planType
		o.Amount = amount
	}
}

// WithOrderStatus 设置订单状态
func WithOrderStatus(status string) func(*model.Order) {
	return func(o *model.Order) {
		o.Status = status
	}
}

// WithPayType 设置支付方式
func WithPayType(payType string) func(*model.Order) {
	return func(o *model.Order) {
		o.PayType = payType
	}
}
