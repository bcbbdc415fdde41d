package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/gaiya-app/gaiya-cloud/internal/model"
)

type UserRepository struct {
	db *gorm.DB
}

func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *model.User) error {
	return r.db.Create(user).Error
}

func (r *UserRepository) GetByID(id string) (*model.User, error) {
	var user model.User
	err := r.db.Where("id = ?", id).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	var user model.User
	err := r.db.Where("email = ?", email).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByGithubID(githubID string) (*model.User, error) {
	var user model.User
	err := r.db.Where("github_id = ?", githubID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetByRefreshTokenHash 刷新令牌轮换时按哈希反查持有者
func (r *UserRepository) GetByRefreshTokenHash(hash string) (*model.User, error) {
	var user model.User
	err := r.db.Where("refresh_token_hash = ?", hash).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) Update(user *model.User) error {
	return r.db.Save(user).Error
}

func (r *UserRepository) UpdateFields(id string, fields map[string]interface{}) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(fields).Error
}

func (r *UserRepository) ExistsByEmail(email string) (bool, error) {
	var count int64
	err := r.db.Model(&model.User{}).Where("email = ?", email).Count(&count).Error
	return count > 0, err
}

// SetRefreshToken 写入刷新令牌哈希，登出时传 nil 撤销
func (r *UserRepository) SetRefreshToken(id string, hash *string, expiresAt *time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"refresh_token_hash": hash,
		"refresh_expires_at": expiresAt,
	}).Error
}

// SetResetToken 写入重置令牌哈希，确认或失效后传 nil 清除
func (r *UserRepository) SetResetToken(id string, hash *string, expiresAt *time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"reset_token_hash": hash,
		"reset_expires_at": expiresAt,
	}).Error
}

// GetByResetTokenHash 确认重置时按哈希反查持有者
func (r *UserRepository) GetByResetTokenHash(hash string) (*model.User, error) {
	var user model.User
	err := r.db.Where("reset_token_hash = ?", hash).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// CompletePasswordReset 写入新密码哈希，同时清掉重置令牌并撤销刷新令牌
func (r *UserRepository) CompletePasswordReset(id string, passwordHash string) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"password_hash":      passwordHash,
		"reset_token_hash":   nil,
		"reset_expires_at":   nil,
		"refresh_token_hash": nil,
		"refresh_expires_at": nil,
	}).Error
}

// IncrementFeatureUsed 功能配额计数 +1。column 必须来自配额字段白名单，由 service 层保证。
func (r *UserRepository) IncrementFeatureUsed(id string, column string) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).
		Update(column, gorm.Expr(column+" + 1")).Error
}

// DecrementFeatureUsed 功能配额计数 -1（AI 调用失败时退还）
func (r *UserRepository) DecrementFeatureUsed(id string, column string) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).
		Update(column, gorm.Expr("CASE WHEN "+column+" > 0 THEN "+column+" - 1 ELSE 0 END")).Error
}

// ResetDailyQuota 重置单个用户的每日配额（daily_plan 与 chat）
func (r *UserRepository) ResetDailyQuota(id string, nextResetAt time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"daily_plan_used": 0,
		"chat_used":       0,
		"daily_reset_at":  nextResetAt,
	}).Error
}

// ResetWeeklyQuota 重置单个用户的每周配额（weekly_report）
func (r *UserRepository) ResetWeeklyQuota(id string, nextResetAt time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"weekly_report_used": 0,
		"weekly_reset_at":    nextResetAt,
	}).Error
}

// ResetAllDailyQuotas 重置所有用户的每日配额
func (r *UserRepository) ResetAllDailyQuotas(nextResetAt time.Time) error {
	return r.db.Model(&model.User{}).Where("1 = 1").Updates(map[string]interface{}{
		"daily_plan_used": 0,
		"chat_used":       0,
		"daily_reset_at":  nextResetAt,
	}).Error
}

// ResetAllWeeklyQuotas 重置所有用户的每周配额
func (r *UserRepository) ResetAllWeeklyQuotas(nextResetAt time.Time) error {
	return r.db.Model(&model.User{}).Where("1 = 1").Updates(map[string]interface{}{
		"weekly_report_used": 0,
		"weekly_reset_at":    nextResetAt,
	}).Error
}

// UpgradeMembership 更新会员等级与到期时间
func (r *UserRepository) UpgradeMembership(id string, tier string, expireAt *time.Time) error {
	return r.db.Model(&model.User{}).Where("id = ?", id).Updates(map[string]interface{}{
		"tier":                 tier,
		"membership_expire_at": expireAt,
	}).Error
}

// ListExpiredMemberships 查出已过期但仍标记为 pro 的用户
func (r *UserRepository) ListExpiredMemberships(now time.Time) ([]*model.User, error) {
	var users []*model.User
	err := r.db.Where("tier = ? AND membership_expire_at IS NOT NULL AND membership_expire_at < ?",
		model.TierPro, now).Find(&users).Error
	return users, err
}
