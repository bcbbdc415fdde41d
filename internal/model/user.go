package model

import (
	"time"
)

// 会员等级
const (
	TierFree     = "free"
	TierPro      = "pro"
	TierLifetime = "lifetime"
)

type User struct {
	ID                  string     `gorm:"primaryKey;size:36" json:"id"`
	Username            string     `gorm:"size:50" json:"username"`
	Email               *string    `gorm:"size:100;uniqueIndex" json:"email,omitempty"`
	PasswordHash        *string    `gorm:"size:255" json:"-"`
	GithubID            *string    `gorm:"column:github_id;size:50;uniqueIndex" json:"-"`
	Tier                string     `gorm:"size:20;default:free" json:"tier"`
	MembershipExpireAt  *time.Time `json:"membership_expire_at,omitempty"` // lifetime 为 nil
	DailyPlanUsed       int        `gorm:"default:0" json:"-"`
	WeeklyReportUsed    int        `gorm:"default:0" json:"-"`
	ChatUsed            int        `gorm:"default:0" json:"-"`
	DailyResetAt        *time.Time `json:"-"`
	WeeklyResetAt       *time.Time `json:"-"`
	RefreshTokenHash    *string    `gorm:"size:64" json:"-"`
	RefreshExpiresAt    *time.Time `json:"-"`
	ResetTokenHash      *string    `gorm:"size:64" json:"-"`
	ResetExpiresAt      *time.Time `json:"-"`
	EmailVerified       bool       `gorm:"default:false" json:"email_verified"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

// EffectiveTier 过期的付费会员按 free 对待。lifetime 永不过期。
func (u *User) EffectiveTier(now time.Time) string {
	if u.Tier == TierLifetime {
		return TierLifetime
	}
	if u.Tier == TierPro {
		if u.MembershipExpireAt != nil && now.After(*u.MembershipExpireAt) {
			return TierFree
		}
		return TierPro
	}
	return TierFree
}
