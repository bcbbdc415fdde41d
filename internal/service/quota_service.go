package service

import (
	"errors"
	"time"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/model"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
)

var (
	ErrQuotaExceeded  = errors.New("配额已用完")
	ErrUnknownFeature = errors.New("未知的 AI 功能")
)

// 功能到配额字段的白名单映射，防止把任意列名传进 SQL
var featureColumns = map[string]string{
	dto.FeatureDailyPlan:    "daily_plan_used",
	dto.FeatureWeeklyReport: "weekly_report_used",
	dto.FeatureChat:         "chat_used",
}

type QuotaService struct {
	userRepo *repository.UserRepository
	cfg      *config.Config
}

func NewQuotaService(userRepo *repository.UserRepository, cfg *config.Config) *QuotaService {
	return &QuotaService{
		userRepo: userRepo,
		cfg:      cfg,
	}
}

// CheckQuota 扣减前的配额核验。周期已到先重置计数再判断。
func (s *QuotaService) CheckQuota(userID string, feature string) error {
	if _, ok := featureColumns[feature]; !ok {
		return ErrUnknownFeature
	}

	user, err := s.resetIfDue(userID)
	if err != nil {
		return err
	}

	limit := s.featureLimit(user.EffectiveTier(time.Now()), feature)
	if s.featureUsed(user, feature) >= limit {
		return ErrQuotaExceeded
	}
	return nil
}

// UseQuota 使用一次配额
func (s *QuotaService) UseQuota(userID string, feature string) error {
	column, ok := featureColumns[feature]
	if !ok {
		return ErrUnknownFeature
	}
	return s.userRepo.IncrementFeatureUsed(userID, column)
}

// RefundQuota AI 调用失败时退还配额
func (s *QuotaService) RefundQuota(userID string, feature string) error {
	column, ok := featureColumns[feature]
	if !ok {
		return ErrUnknownFeature
	}
	return s.userRepo.DecrementFeatureUsed(userID, column)
}

// GetQuotaStatus 获取三项功能的剩余次数
func (s *QuotaService) GetQuotaStatus(userID string) (*dto.QuotaStatusResponse, error) {
	user, err := s.resetIfDue(userID)
	if err != nil {
		return nil, err
	}

	tier := user.EffectiveTier(time.Now())
	resp := &dto.QuotaStatusResponse{
		Success:  true,
		UserTier: tier,
		Remaining: dto.QuotaRemaining{
			DailyPlan:    clampRemaining(s.featureLimit(tier, dto.FeatureDailyPlan) - user.DailyPlanUsed),
			WeeklyReport: clampRemaining(s.featureLimit(tier, dto.FeatureWeeklyReport) - user.WeeklyReportUsed),
			Chat:         clampRemaining(s.featureLimit(tier, dto.FeatureChat) - user.ChatUsed),
		},
	}
	if user.DailyResetAt != nil {
		resp.ResetAt = user.DailyResetAt.Format(time.RFC3339)
	}
	return resp, nil
}

// Remaining 扣减后刷新一次剩余次数，随 AI 响应带回客户端
func (s *QuotaService) Remaining(userID string) (dto.QuotaRemaining, error) {
	status, err := s.GetQuotaStatus(userID)
	if err != nil {
		return dto.QuotaRemaining{}, err
	}
	return status.Remaining, nil
}

// resetIfDue 周期到点的惰性重置。定时任务兜底，读路径也可触发。
func (s *QuotaService) resetIfDue(userID string) (*model.User, error) {
	user, err := s.userRepo.GetByID(userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	dirty := false

	if user.DailyResetAt == nil || now.After(*user.DailyResetAt) {
		if err := s.userRepo.ResetDailyQuota(userID, NextDailyReset(now)); err != nil {
			return nil, err
		}
		dirty = true
	}
	if user.WeeklyResetAt == nil || now.After(*user.WeeklyResetAt) {
		if err := s.userRepo.ResetWeeklyQuota(userID, NextWeeklyReset(now, s.weeklyResetDay())); err != nil {
			return nil, err
		}
		dirty = true
	}

	if dirty {
		return s.userRepo.GetByID(userID)
	}
	return user, nil
}

// ResetAllDailyQuotas 重置所有用户的每日配额
func (s *QuotaService) ResetAllDailyQuotas() error {
	return s.userRepo.ResetAllDailyQuotas(NextDailyReset(time.Now()))
}

// ResetAllWeeklyQuotas 重置所有用户的每周配额
func (s *QuotaService) ResetAllWeeklyQuotas() error {
	return s.userRepo.ResetAllWeeklyQuotas(NextWeeklyReset(time.Now(), s.weeklyResetDay()))
}

func (s *QuotaService) weeklyResetDay() time.Weekday {
	return time.Weekday(s.cfg.Subscription.WeeklyResetDay)
}

func (s *QuotaService) featureLimit(tier string, feature string) int {
	levels, ok := s.cfg.Subscription.Quotas[tier]
	if !ok {
		levels = s.cfg.Subscription.Quotas[model.TierFree]
	}
	switch feature {
	case dto.FeatureDailyPlan:
		return levels.DailyPlan
	case dto.FeatureWeeklyReport:
		return levels.WeeklyReport
	case dto.FeatureChat:
		return levels.Chat
	}
	return 0
}

func (s *QuotaService) featureUsed(user *model.User, feature string) int {
	switch feature {
	case dto.FeatureDailyPlan:
		return user.DailyPlanUsed
	case dto.FeatureWeeklyReport:
		return user.WeeklyReportUsed
	case dto.FeatureChat:
		return user.ChatUsed
	}
	return 0
}

func clampRemaining(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// NextDailyReset 下一个本地零点
func NextDailyReset(now time.Time) time.Time {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location())
}

// NextWeeklyReset 下一个重置日的本地零点（默认周一）
func NextWeeklyReset(now time.Time, day time.Weekday) time.Time {
	y, m, d := now.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	days := (int(day) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return midnight.AddDate(0, 0, days)
}
