package service

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/model"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
)

var (
	ErrUnknownPlan = errors.New("未知的套餐类型")
)

type SubscriptionService struct {
	userRepo *repository.UserRepository
	subRepo  *repository.SubscriptionRepository
	cfg      *config.Config
}

func NewSubscriptionService(userRepo *repository.UserRepository, subRepo *repository.SubscriptionRepository, cfg *config.Config) *SubscriptionService {
	return &SubscriptionService{
		userRepo: userRepo,
		subRepo:  subRepo,
		cfg:      cfg,
	}
}

// GetStatus 获取订阅状态。过期会员顺手降级落库。
func (s *SubscriptionService) GetStatus(userID string) (*dto.SubscriptionStatusResponse, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	now := time.Now()
	tier := user.EffectiveTier(now)
	if tier == model.TierFree && user.Tier == model.TierPro {
		// 到期降级。失败不影响本次查询结果。
		_ = s.userRepo.UpgradeMembership(userID, model.TierFree, nil)
	}

	resp := &dto.SubscriptionStatusResponse{
		Success:  true,
		UserTier: tier,
		IsActive: tier != model.TierFree,
	}
	if tier == model.TierPro && user.MembershipExpireAt != nil {
		resp.ExpiresAt = user.MembershipExpireAt.Format(time.RFC3339)
	}
	return resp, nil
}

// Grant 结算成功后授予会员。以 out_trade_no 幂等：重复回调、重复补单
// 都只产生一次授予。返回授予后的等级与到期时间。
func (s *SubscriptionService) Grant(order *model.Order) (string, *time.Time, error) {
	plan, ok := s.cfg.Subscription.Plans[order.PlanType]
	if !ok {
		return "", nil, ErrUnknownPlan
	}

	exists, err := s.subRepo.ExistsByOutTradeNo(order.OutTradeNo)
	if err != nil {
		return "", nil, err
	}
	if exists {
		// 已授予过，直接返回当前会员状态
		user, err := s.userRepo.GetByID(order.UserID)
		if err != nil {
			return "", nil, err
		}
		return user.Tier, user.MembershipExpireAt, nil
	}

	user, err := s.userRepo.GetByID(order.UserID)
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	var expireAt *time.Time

	switch plan.Tier {
	case model.TierLifetime:
		expireAt = nil
	default:
		// 续费从当前到期时间往后顺延，而不是从支付时刻重算
		base := now
		if user.Tier == model.TierPro && user.MembershipExpireAt != nil && user.MembershipExpireAt.After(now) {
			base = *user.MembershipExpireAt
		}
		t := base.AddDate(0, 0, plan.DurationDays)
		expireAt = &t
	}

	// lifetime 不会被后续的 pro 购买覆盖降级
	targetTier := plan.Tier
	if user.Tier == model.TierLifetime {
		targetTier = model.TierLifetime
		expireAt = nil
	}

	sub := &model.Subscription{
		UserID:     order.UserID,
		PlanType:   order.PlanType,
		Tier:       targetTier,
		Amount:     order.Amount,
		PayType:    order.PayType,
		OutTradeNo: order.OutTradeNo,
		TradeNo:    order.TradeNo,
		StartedAt:  now,
		ExpiresAt:  expireAt,
	}
	if err := s.subRepo.Create(sub); err != nil {
		// 唯一索引冲突说明并发路径已经授予过
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			user, err := s.userRepo.GetByID(order.UserID)
			if err != nil {
				return "", nil, err
			}
			return user.Tier, user.MembershipExpireAt, nil
		}
		return "", nil, err
	}

	if err := s.userRepo.UpgradeMembership(order.UserID, targetTier, expireAt); err != nil {
		return "", nil, err
	}

	return targetTier, expireAt, nil
}

// DowngradeExpired 把已过期的 pro 用户降回 free，定时任务调用
func (s *SubscriptionService) DowngradeExpired() (int, error) {
	users, err := s.userRepo.ListExpiredMemberships(time.Now())
	if err != nil {
		return 0, err
	}

	count := 0
	for _, user := range users {
		if err := s.userRepo.UpgradeMembership(user.ID, model.TierFree, nil); err != nil {
			continue
		}
		count++
	}
	return count, nil
}
