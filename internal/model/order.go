package model

import (
	"time"
)

// 订单状态。状态迁移单向：created → awaiting_payment → paid/failed/cancelled
const (
	OrderStatusCreated         = "created"
	OrderStatusAwaitingPayment = "awaiting_payment"
	OrderStatusPaid            = "paid"
	OrderStatusFailed          = "failed"
	OrderStatusCancelled       = "cancelled"
)

// 支付方式
const (
	PayTypeAlipay = "alipay"
	PayTypeWxpay  = "wxpay"
	PayTypeStripe = "stripe"
)

type Order struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	OutTradeNo string     `gorm:"size:64;uniqueIndex;not null" json:"out_trade_no"`
	UserID     string     `gorm:"size:36;not null;index" json:"user_id"`
	PlanType   string     `gorm:"size:20;not null" json:"plan_type"`
	Amount     float64    `gorm:"type:decimal(10,2)" json:"amount"`
	PayType    string     `gorm:"size:20;not null" json:"pay_type"`
	Status     string     `gorm:"size:20;default:created;index" json:"status"`
	TradeNo    string     `gorm:"size:100" json:"trade_no,omitempty"` // 网关侧订单号，下单成功后回填
	PaidAt     *time.Time `json:"paid_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// IsTerminal 终态订单不再参与轮询和对账。
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}
