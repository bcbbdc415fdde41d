package dto

// SubscriptionStatusResponse 订阅状态响应
type SubscriptionStatusResponse struct {
	Success   bool   `json:"success"`
	UserTier  string `json:"user_tier"`
	IsActive  bool   `json:"is_active"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// QuotaRemaining 各 AI 功能剩余次数
type QuotaRemaining struct {
	DailyPlan    int `json:"daily_plan"`
	WeeklyReport int `json:"weekly_report"`
	Chat         int `json:"chat"`
}

// QuotaStatusResponse 配额状态响应
type QuotaStatusResponse struct {
	Success   bool           `json:"success"`
	UserTier  string         `json:"user_tier"`
	Remaining QuotaRemaining `json:"remaining"`
	ResetAt   string         `json:"reset_at,omitempty"`
}
