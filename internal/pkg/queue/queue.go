package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Queue 待对账订单队列。下单成功后入队，worker 拉取后主动查询网关，
// 补偿回调丢失的结算。
type Queue struct {
	client    *redis.Client
	queueName string
}

// ReconcileMessage 对账任务
type ReconcileMessage struct {
	OutTradeNo string    `json:"out_trade_no"`
	UserID     string    `json:"user_id"`
	PlanType   string    `json:"plan_type"`
	PayType    string    `json:"pay_type"`
	Attempts   int       `json:"attempts"`
	NotBefore  time.Time `json:"not_before"` // 未到时间的任务重新入队
}

func NewQueue(client *redis.Client, queueName string) *Queue {
	return &Queue{
		client:    client,
		queueName: queueName,
	}
}

// Push 将对账任务加入队列
func (q *Queue) Push(ctx context.Context, msg *ReconcileMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	return q.client.LPush(ctx, q.queueName, data).Err()
}

// Pop 从队列获取任务（阻塞）
func (q *Queue) Pop(ctx context.Context, timeout time.Duration) (*ReconcileMessage, error) {
	result, err := q.client.BRPop(ctx, timeout, q.queueName).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // 超时，无任务
		}
		return nil, fmt.Errorf("failed to pop from queue: %w", err)
	}

	if len(result) < 2 {
		return nil, nil
	}

	var msg ReconcileMessage
	if err := json.Unmarshal([]byte(result[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}

	return &msg, nil
}

// Length 获取队列长度
func (q *Queue) Length(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueName).Result()
}
