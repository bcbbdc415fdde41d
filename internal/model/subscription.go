package model

import (
	"time"
)

// Subscription 一次成功结算产生的会员授予记录。
// OutTradeNo 唯一索引即幂等键：同一订单重复回调或重复补单只会产生一条记录。
type Subscription struct {
	ID         int64      `gorm:"primaryKey" json:"id"`
	UserID     string     `gorm:"size:36;not null;index" json:"user_id"`
	PlanType   string     `gorm:"size:20;not null" json:"plan_type"`
	Tier       string     `gorm:"size:20;not null" json:"tier"`
	Amount     float64    `gorm:"type:decimal(10,2)" json:"amount,omitempty"`
	PayType    string     `gorm:"size:20" json:"pay_type,omitempty"`
	OutTradeNo string     `gorm:"size:64;uniqueIndex;not null" json:"out_trade_no"`
	TradeNo    string     `gorm:"size:100" json:"trade_no,omitempty"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"` // lifetime 为 nil
	CreatedAt  time.Time  `json:"created_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
