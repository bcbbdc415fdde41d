package client

// 后端接口的响应形状。后端失败时统一返回 {success:false, error:"..."}。

type authResponse struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"error,omitempty"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id,omitempty"`
	Email        string `json:"email,omitempty"`
	Username     string `json:"username,omitempty"`
	UserTier     string `json:"user_tier,omitempty"`
}

// SubscriptionStatus 订阅状态
type SubscriptionStatus struct {
	Success   bool   `json:"success"`
	ErrorMsg  string `json:"error,omitempty"`
	UserTier  string `json:"user_tier"`
	IsActive  bool   `json:"is_active"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// QuotaRemaining 各功能剩余次数
type QuotaRemaining struct {
	DailyPlan    int `json:"daily_plan"`
	WeeklyReport int `json:"weekly_report"`
	Chat         int `json:"chat"`
}

// QuotaStatus 配额状态
type QuotaStatus struct {
	Success   bool           `json:"success"`
	ErrorMsg  string         `json:"error,omitempty"`
	UserTier  string         `json:"user_tier"`
	Remaining QuotaRemaining `json:"remaining"`
	ResetAt   string         `json:"reset_at,omitempty"`
}

// OrderCreated 下单结果
type OrderCreated struct {
	Success    bool    `json:"success"`
	ErrorMsg   string  `json:"error,omitempty"`
	OutTradeNo string  `json:"out_trade_no"`
	TradeNo    string  `json:"trade_no,omitempty"`
	PaymentURL string  `json:"payment_url,omitempty"`
	QRCodeURL  string  `json:"qrcode_url,omitempty"`
	Amount     float64 `json:"amount"`
	PlanName   string  `json:"plan_name"`
	PayType    string  `json:"pay_type"`
}

// OrderInfo 网关侧订单信息，status 为 "1" 表示已支付
type OrderInfo struct {
	Status  string `json:"status"`
	Money   string `json:"money"`
	Type    string `json:"type"`
	AddTime string `json:"addtime,omitempty"`
	EndTime string `json:"endtime,omitempty"`
	Param   string `json:"param,omitempty"`
}

type orderQueryResponse struct {
	Success  bool       `json:"success"`
	ErrorMsg string     `json:"error,omitempty"`
	Order    *OrderInfo `json:"order,omitempty"`
}

// UpgradeResult 补单结果
type UpgradeResult struct {
	Success            bool   `json:"success"`
	ErrorMsg           string `json:"error,omitempty"`
	UserTier           string `json:"user_tier"`
	MembershipExpireAt string `json:"membership_expire_at,omitempty"`
}

// StripeCheckout Stripe 结账会话
type StripeCheckout struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"error,omitempty"`
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// Task AI 生成的单条任务
type Task struct {
	Name  string `json:"name"`
	Start string `json:"start"`
	End   string `json:"end"`
	Color string `json:"color,omitempty"`
	Note  string `json:"note,omitempty"`
}

type generateTasksResponse struct {
	Success   bool           `json:"success"`
	ErrorMsg  string         `json:"error,omitempty"`
	Tasks     []Task         `json:"tasks"`
	Remaining QuotaRemaining `json:"remaining"`
}
