package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/model"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/jwt"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/oauth"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
)

var (
	ErrEmailExists        = errors.New("邮箱已被注册")
	ErrInvalidCredentials = errors.New("邮箱或密码错误")
	ErrEmailNotVerified   = errors.New("邮箱尚未验证")
	ErrInvalidRefresh     = errors.New("刷新令牌无效或已过期")
	ErrInvalidResetToken  = errors.New("重置链接无效或已过期")
	ErrUserNotFound       = errors.New("用户不存在")
)

// 重置链接有效期
const resetTokenTTL = 30 * time.Minute

// Mailer 发信能力。未配置 SMTP 时为 nil，相关流程降级为只记日志。
type Mailer interface {
	SendPasswordReset(to, resetLink string) error
	SendWelcome(to, username string) error
}

type AuthService struct {
	userRepo    *repository.UserRepository
	mailer      Mailer
	cfg         *config.Config
	githubOAuth *oauth.GithubOAuth
}

func NewAuthService(userRepo *repository.UserRepository, mailer Mailer, cfg *config.Config) *AuthService {
	return &AuthService{
		userRepo:    userRepo,
		mailer:      mailer,
		cfg:         cfg,
		githubOAuth: oauth.NewGithubOAuth(cfg.OAuth.Github),
	}
}

// Signup 邮箱注册，成功后直接签发令牌对
func (s *AuthService) Signup(req *dto.SignupRequest) (*dto.TokenPairResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	exists, err := s.userRepo.ExistsByEmail(email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrEmailExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	username := req.Username
	if username == "" {
		username = email[:strings.Index(email, "@")]
	}

	passwordStr := string(hashedPassword)
	user := &model.User{
		ID:           newUserID(),
		Username:     username,
		Email:        &email,
		PasswordHash: &passwordStr,
		Tier:         model.TierFree,
	}

	// 桌面端不强制邮箱验证，注册即视为已验证
	user.EmailVerified = true

	if err := s.userRepo.Create(user); err != nil {
		return nil, err
	}

	if s.mailer != nil {
		// 欢迎邮件不阻塞注册，失败只记日志
		go func(to, name string) {
			if err := s.mailer.SendWelcome(to, name); err != nil {
				log.Printf("发送欢迎邮件失败: %v", err)
			}
		}(email, username)
	}

	return s.issueTokenPair(user)
}

// Signin 邮箱登录
func (s *AuthService) Signin(req *dto.SigninRequest) (*dto.TokenPairResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if user.PasswordHash == nil {
		// OAuth 用户没有密码，不允许密码登录
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issueTokenPair(user)
}

// Signout 撤销刷新令牌。重复登出是幂等的。
func (s *AuthService) Signout(userID string) error {
	return s.userRepo.SetRefreshToken(userID, nil, nil)
}

// Refresh 校验并轮换刷新令牌。旧令牌在此后立即失效。
func (s *AuthService) Refresh(refreshToken string) (*dto.TokenPairResponse, error) {
	if refreshToken == "" {
		return nil, ErrInvalidRefresh
	}

	hash := hashRefreshToken(refreshToken)
	user, err := s.userRepo.GetByRefreshTokenHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidRefresh
		}
		return nil, err
	}

	if user.RefreshTokenHash == nil ||
		subtle.ConstantTimeCompare([]byte(*user.RefreshTokenHash), []byte(hash)) != 1 {
		return nil, ErrInvalidRefresh
	}
	if user.RefreshExpiresAt == nil || time.Now().After(*user.RefreshExpiresAt) {
		return nil, ErrInvalidRefresh
	}

	return s.issueTokenPair(user)
}

// ResetPassword 触发找回密码流程。为避免探测，无论邮箱是否存在都返回成功。
// 库里只存重置令牌的 sha256 哈希，明文只出现在邮件链接里。
func (s *AuthService) ResetPassword(req *dto.ResetPasswordRequest) error {
	email := strings.ToLower(strings.TrimSpace(req.Email))

	user, err := s.userRepo.GetByEmail(email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}

	token, err := generateRandomToken(64)
	if err != nil {
		return err
	}

	hash := hashRefreshToken(token)
	expiresAt := time.Now().Add(resetTokenTTL)
	if err := s.userRepo.SetResetToken(user.ID, &hash, &expiresAt); err != nil {
		return err
	}

	resetLink := fmt.Sprintf("%s/reset-password?token=%s",
		strings.TrimRight(s.cfg.Server.PublicURL, "/"), token)

	if s.mailer == nil {
		log.Printf("未配置 SMTP，跳过发送重置邮件: user=%s", user.ID)
		return nil
	}
	if err := s.mailer.SendPasswordReset(email, resetLink); err != nil {
		return fmt.Errorf("failed to send reset email: %w", err)
	}
	return nil
}

// ConfirmReset 用邮件里的令牌设置新密码。成功后令牌一次性作废，并撤销刷新令牌。
func (s *AuthService) ConfirmReset(req *dto.ResetConfirmRequest) error {
	hash := hashRefreshToken(req.Token)
	user, err := s.userRepo.GetByResetTokenHash(hash)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrInvalidResetToken
		}
		return err
	}

	if user.ResetTokenHash == nil ||
		subtle.ConstantTimeCompare([]byte(*user.ResetTokenHash), []byte(hash)) != 1 {
		return ErrInvalidResetToken
	}
	if user.ResetExpiresAt == nil || time.Now().After(*user.ResetExpiresAt) {
		return ErrInvalidResetToken
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return s.userRepo.CompletePasswordReset(user.ID, string(hashedPassword))
}

// CheckVerification 查询邮箱验证状态
func (s *AuthService) CheckVerification(req *dto.CheckVerificationRequest) (bool, error) {
	user, err := s.userRepo.GetByID(req.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrUserNotFound
		}
		return false, err
	}
	return user.EmailVerified, nil
}

// GetUserByID 根据 ID 获取用户
func (s *AuthService) GetUserByID(id string) (*model.User, error) {
	user, err := s.userRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

// GetGithubAuthURL 获取 GitHub 授权 URL
func (s *AuthService) GetGithubAuthURL(state string) string {
	return s.githubOAuth.AuthURL(state)
}

// GithubCallback 处理 GitHub OAuth 回调，首次登录自动建号
func (s *AuthService) GithubCallback(ctx context.Context, code string) (*dto.TokenPairResponse, error) {
	token, err := s.githubOAuth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	githubUser, err := s.githubOAuth.FetchUser(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to get github user: %w", err)
	}

	githubIDStr := fmt.Sprintf("%d", githubUser.ID)

	user, err := s.userRepo.GetByGithubID(githubIDStr)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	if user == nil || errors.Is(err, gorm.ErrRecordNotFound) {
		user = &model.User{
			ID:            newUserID(),
			Username:      githubUser.Login,
			GithubID:      &githubIDStr,
			Tier:          model.TierFree,
			EmailVerified: true, // OAuth 用户默认已验证
		}
		if githubUser.Email != "" {
			email := strings.ToLower(githubUser.Email)
			user.Email = &email
		}

		if err := s.userRepo.Create(user); err != nil {
			return nil, fmt.Errorf("failed to create user: %w", err)
		}
	}

	return s.issueTokenPair(user)
}

// issueTokenPair 签发访问令牌并轮换刷新令牌。
// 刷新令牌是不透明随机串，库里只存 sha256 哈希。
func (s *AuthService) issueTokenPair(user *model.User) (*dto.TokenPairResponse, error) {
	accessToken, err := jwt.GenerateToken(user.ID, s.cfg.JWT.Secret, s.cfg.JWT.AccessExpireHours)
	if err != nil {
		return nil, err
	}

	refreshToken, err := generateRandomToken(64)
	if err != nil {
		return nil, err
	}

	hash := hashRefreshToken(refreshToken)
	expiresAt := time.Now().Add(time.Duration(s.cfg.JWT.RefreshExpireHours) * time.Hour)
	if err := s.userRepo.SetRefreshToken(user.ID, &hash, &expiresAt); err != nil {
		return nil, err
	}

	resp := &dto.TokenPairResponse{
		Success:      true,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		UserID:       user.ID,
		Username:     user.Username,
		UserTier:     user.EffectiveTier(time.Now()),
	}
	if user.Email != nil {
		resp.Email = *user.Email
	}
	return resp, nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newUserID() string {
	return "u-" + mustRandomToken(16)
}

func generateRandomToken(length int) (string, error) {
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func mustRandomToken(length int) string {
	token, err := generateRandomToken(length)
	if err != nil {
		panic(err)
	}
	return token
}
