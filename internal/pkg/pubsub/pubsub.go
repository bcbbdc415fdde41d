package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

const (
	ChannelPaymentEvents = "payment_events"
)

// 事件类型常量
const (
	EventOrderPaid      = "order_paid"
	EventOrderFailed    = "order_failed"
	EventOrderCancelled = "order_cancelled"
)

// PaymentEvent 结算事件。回调、补单、对账 worker 任一路径完成结算后都会发布，
// WebSocket 推给对应用户的桌面端，让轮询提前结束。
type PaymentEvent struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id"`
	OutTradeNo string `json:"out_trade_no"`
	PlanType   string `json:"plan_type"`
	UserTier   string `json:"user_tier,omitempty"`
	ExpiresAt  string `json:"expires_at,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Publisher Redis 发布者
type Publisher struct {
	client *redis.Client
}

// NewPublisher 创建发布者
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishPayment 发布结算事件
func (p *Publisher) PublishPayment(ctx context.Context, event *PaymentEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal payment event: %w", err)
	}

	return p.client.Publish(ctx, ChannelPaymentEvents, data).Err()
}

// Subscriber Redis 订阅者
type Subscriber struct {
	client *redis.Client
}

// NewSubscriber 创建订阅者
func NewSubscriber(client *redis.Client) *Subscriber {
	return &Subscriber{client: client}
}

// Subscribe 订阅结算事件
func (s *Subscriber) Subscribe(ctx context.Context, handler func(*PaymentEvent)) error {
	pubsub := s.client.Subscribe(ctx, ChannelPaymentEvents)
	defer pubsub.Close()

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var event PaymentEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue // 忽略解析错误
			}

			handler(&event)
		}
	}
}
