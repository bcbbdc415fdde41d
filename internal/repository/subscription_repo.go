package repository

import (
	"gorm.io/gorm"

	"github.com/gaiya-app/gaiya-cloud/internal/model"
)

type SubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(sub *model.Subscription) error {
	return r.db.Create(sub).Error
}

func (r *SubscriptionRepository) GetByOutTradeNo(outTradeNo string) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.Where("out_trade_no = ?", outTradeNo).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// ExistsByOutTradeNo 该订单是否已经授予过会员（幂等检查）
func (r *SubscriptionRepository) ExistsByOutTradeNo(outTradeNo string) (bool, error) {
	var count int64
	err := r.db.Model(&model.Subscription{}).
		Where("out_trade_no = ?", outTradeNo).Count(&count).Error
	return count > 0, err
}

// ListByUser 用户的授予记录，最新在前
func (r *SubscriptionRepository) ListByUser(userID string) ([]*model.Subscription, error) {
	var subs []*model.Subscription
	err := r.db.Where("user_id = ?", userID).
		Order("created_at DESC").Find(&subs).Error
	return subs, err
}
