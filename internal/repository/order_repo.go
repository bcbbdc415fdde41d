package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/gaiya-app/gaiya-cloud/internal/model"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(order *model.Order) error {
	return r.db.Create(order).Error
}

func (r *OrderRepository) GetByOutTradeNo(outTradeNo string) (*model.Order, error) {
	var order model.Order
	err := r.db.Where("out_trade_no = ?", outTradeNo).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *OrderRepository) Update(order *model.Order) error {
	return r.db.Save(order).Error
}

// UpdateStatus 只在当前状态匹配时迁移，保证状态单向前进。
// 返回是否真的发生了迁移，调用方据此做幂等分支。
func (r *OrderRepository) UpdateStatus(outTradeNo string, from []string, to string) (bool, error) {
	result := r.db.Model(&model.Order{}).
		Where("out_trade_no = ? AND status IN ?", outTradeNo, from).
		Update("status", to)
	return result.RowsAffected > 0, result.Error
}

// MarkPaid 标记订单已支付，回填网关订单号与支付时间。
// 只有非终态订单会被更新，重复回调不会二次生效。
func (r *OrderRepository) MarkPaid(outTradeNo string, tradeNo string, paidAt time.Time) (bool, error) {
	result := r.db.Model(&model.Order{}).
		Where("out_trade_no = ? AND status IN ?", outTradeNo,
			[]string{model.OrderStatusCreated, model.OrderStatusAwaitingPayment}).
		Updates(map[string]interface{}{
			"status":   model.OrderStatusPaid,
			"trade_no": tradeNo,
			"paid_at":  paidAt,
		})
	return result.RowsAffected > 0, result.Error
}

// ListByUser 用户订单列表，最新在前
func (r *OrderRepository) ListByUser(userID string, limit int) ([]*model.Order, error) {
	var orders []*model.Order
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").Limit(limit).Find(&orders).Error
	return orders, err
}

// CancelStale 取消超时未支付的订单，返回取消数量
func (r *OrderRepository) CancelStale(olderThan time.Time) (int64, error) {
	result := r.db.Model(&model.Order{}).
		Where("status IN ? AND created_at < ?",
			[]string{model.OrderStatusCreated, model.OrderStatusAwaitingPayment}, olderThan).
		Update("status", model.OrderStatusCancelled)
	return result.RowsAffected, result.Error
}
