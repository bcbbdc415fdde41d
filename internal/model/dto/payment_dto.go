package dto

// CreateOrderRequest 下单请求。金额不由客户端提供，服务端按套餐目录定价。
type CreateOrderRequest struct {
	UserID   string `json:"user_id" binding:"required"`
	PlanType string `json:"plan_type" binding:"required,oneof=pro_monthly pro_yearly lifetime"`
	PayType  string `json:"pay_type" binding:"required,oneof=alipay wxpay stripe"`
}

// CreateOrderResponse 下单响应
type CreateOrderResponse struct {
	Success    bool    `json:"success"`
	OutTradeNo string  `json:"out_trade_no"`
	TradeNo    string  `json:"trade_no,omitempty"`
	PaymentURL string  `json:"payment_url,omitempty"`
	QRCodeURL  string  `json:"qrcode_url,omitempty"`
	Amount     float64 `json:"amount"`
	PlanName   string  `json:"plan_name"`
	PayType    string  `json:"pay_type"`
}

// QueryOrderRequest 订单查询请求（POST 形式；GET 走 query 参数）
type QueryOrderRequest struct {
	OutTradeNo string `json:"out_trade_no" binding:"required"`
}

// OrderInfo 网关侧订单状态的代理视图。status 为 "1" 表示已支付。
type OrderInfo struct {
	Status  string `json:"status"`
	Money   string `json:"money"`
	Type    string `json:"type"`
	AddTime string `json:"addtime,omitempty"`
	EndTime string `json:"endtime,omitempty"`
	Param   string `json:"param,omitempty"`
}

// QueryOrderResponse 订单查询响应
type QueryOrderResponse struct {
	Success bool       `json:"success"`
	Order   *OrderInfo `json:"order,omitempty"`
}

// ManualUpgradeRequest 手动补单请求。回调丢失时客户端主动触发结算核验。
type ManualUpgradeRequest struct {
	OutTradeNo string `json:"out_trade_no" binding:"required"`
	UserID     string `json:"user_id" binding:"required"`
	PlanType   string `json:"plan_type" binding:"required"`
}

// ManualUpgradeResponse 手动补单响应
type ManualUpgradeResponse struct {
	Success            bool   `json:"success"`
	UserTier           string `json:"user_tier"`
	MembershipExpireAt string `json:"membership_expire_at,omitempty"`
}

// StripeCheckoutRequest Stripe 结账会话请求
type StripeCheckoutRequest struct {
	PlanType  string `json:"plan_type" binding:"required,oneof=pro_monthly pro_yearly lifetime"`
	UserID    string `json:"user_id" binding:"required"`
	UserEmail string `json:"user_email" binding:"required,email"`
}

// StripeCheckoutResponse Stripe 结账会话响应
type StripeCheckoutResponse struct {
	Success     bool   `json:"success"`
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}
