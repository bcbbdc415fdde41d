package service

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
	"github.com/gaiya-app/gaiya-cloud/internal/testutil"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			PublicURL: "https://api.gaiya.test",
		},
		JWT: config.JWTConfig{
			Secret:             "test-secret-key-for-testing",
			AccessExpireHours:  1,
			RefreshExpireHours: 24 * 30,
		},
		Subscription: config.SubscriptionConfig{
			Plans:           config.DefaultPlans(),
			Quotas:          config.DefaultQuotas(),
			WeeklyResetDay:  1,
			OrderExpireHour: 2,
		},
		OAuth: config.OAuthConfig{
			Github: config.GithubOAuthConfig{
				ClientID:     "test-client-id",
				ClientSecret: "test-client-secret",
				RedirectURI:  "http://localhost:8080/callback",
			},
		},
	}
}

// fakeMailer 捕获发出的邮件，欢迎邮件是异步发的，所以要加锁
type fakeMailer struct {
	mu         sync.Mutex
	resetLinks map[string]string
	welcomes   []string
}

func newFakeMailer() *fakeMailer {
	return &fakeMailer{resetLinks: make(map[string]string)}
}

func (m *fakeMailer) SendPasswordReset(to, resetLink string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLinks[to] = resetLink
	return nil
}

func (m *fakeMailer) SendWelcome(to, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.welcomes = append(m.welcomes, to)
	return nil
}

func (m *fakeMailer) resetLink(to string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetLinks[to]
}

func setupAuthService(t *testing.T) (*AuthService, *repository.UserRepository, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	userRepo := repository.NewUserRepository(db)
	service := NewAuthService(userRepo, newFakeMailer(), testConfig())

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return service, userRepo, cleanup
}

func setupAuthServiceWithMailer(t *testing.T) (*AuthService, *repository.UserRepository, *fakeMailer, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	userRepo := repository.NewUserRepository(db)
	mailer := newFakeMailer()
	service := NewAuthService(userRepo, mailer, testConfig())

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return service, userRepo, mailer, cleanup
}

func TestAuthService_Signup_Success(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	req := &dto.SignupRequest{
		Email:    "newuser@example.com",
		Password: "password123",
	}

	resp, err := service.Signup(req)
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.Contains(t, resp.UserID, "u-")
	assert.Equal(t, "free", resp.UserTier)
	// 未提供用户名时取邮箱前缀
	assert.Equal(t, "newuser", resp.Username)
}

func TestAuthService_Signup_DuplicateEmail(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	req := &dto.SignupRequest{
		Email:    "duplicate@example.com",
		Password: "password123",
	}
	_, err := service.Signup(req)
	require.NoError(t, err)

	// 邮箱大小写不同也算重复
	req2 := &dto.SignupRequest{
		Email:    "Duplicate@Example.com",
		Password: "password456",
	}
	_, err = service.Signup(req2)
	assert.Equal(t, ErrEmailExists, err)
}

func TestAuthService_Signin_Success(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	_, err := service.Signup(&dto.SignupRequest{
		Email:    "signin@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	resp, err := service.Signin(&dto.SigninRequest{
		Email:    "signin@example.com",
		Password: "password123",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
}

func TestAuthService_Signin_WrongPassword(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	_, err := service.Signup(&dto.SignupRequest{
		Email:    "wrongpass@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	_, err = service.Signin(&dto.SigninRequest{
		Email:    "wrongpass@example.com",
		Password: "not-the-password",
	})
	assert.Equal(t, ErrInvalidCredentials, err)
}

func TestAuthService_Signin_UnknownEmail(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	_, err := service.Signin(&dto.SigninRequest{
		Email:    "nobody@example.com",
		Password: "password123",
	})
	assert.Equal(t, ErrInvalidCredentials, err)
}

func TestAuthService_Refresh_RotatesToken(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	signupResp, err := service.Signup(&dto.SignupRequest{
		Email:    "refresh@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	refreshResp, err := service.Refresh(signupResp.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshResp.AccessToken)
	assert.NotEqual(t, signupResp.RefreshToken, refreshResp.RefreshToken)

	// 旧刷新令牌已被轮换，再用必须失败
	_, err = service.Refresh(signupResp.RefreshToken)
	assert.Equal(t, ErrInvalidRefresh, err)

	// 新令牌可以继续用
	_, err = service.Refresh(refreshResp.RefreshToken)
	assert.NoError(t, err)
}

func TestAuthService_Refresh_InvalidToken(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	_, err := service.Refresh("not-a-real-token")
	assert.Equal(t, ErrInvalidRefresh, err)

	_, err = service.Refresh("")
	assert.Equal(t, ErrInvalidRefresh, err)
}

func TestAuthService_Refresh_ExpiredToken(t *testing.T) {
	service, userRepo, cleanup := setupAuthService(t)
	defer cleanup()

	signupResp, err := service.Signup(&dto.SignupRequest{
		Email:    "expired@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	// 把刷新令牌的过期时间改到过去
	user, err := userRepo.GetByID(signupResp.UserID)
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, userRepo.SetRefreshToken(user.ID, user.RefreshTokenHash, &past))

	_, err = service.Refresh(signupResp.RefreshToken)
	assert.Equal(t, ErrInvalidRefresh, err)
}

func TestAuthService_Signout_RevokesRefresh(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	signupResp, err := service.Signup(&dto.SignupRequest{
		Email:    "signout@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	require.NoError(t, service.Signout(signupResp.UserID))

	_, err = service.Refresh(signupResp.RefreshToken)
	assert.Equal(t, ErrInvalidRefresh, err)

	// 重复登出是幂等的
	assert.NoError(t, service.Signout(signupResp.UserID))
}

func TestAuthService_ResetPassword_UnknownEmailStillOK(t *testing.T) {
	service, _, mailer, cleanup := setupAuthServiceWithMailer(t)
	defer cleanup()

	// 不暴露邮箱是否注册过，也不给未注册邮箱发信
	err := service.ResetPassword(&dto.ResetPasswordRequest{Email: "nobody@example.com"})
	assert.NoError(t, err)
	assert.Empty(t, mailer.resetLink("nobody@example.com"))
}

func TestAuthService_ResetPassword_FullFlow(t *testing.T) {
	service, _, mailer, cleanup := setupAuthServiceWithMailer(t)
	defer cleanup()

	signupResp, err := service.Signup(&dto.SignupRequest{
		Email:    "reset@example.com",
		Password: "oldpassword1",
	})
	require.NoError(t, err)

	require.NoError(t, service.ResetPassword(&dto.ResetPasswordRequest{Email: "reset@example.com"}))

	link := mailer.resetLink("reset@example.com")
	require.Contains(t, link, "https://api.gaiya.test/reset-password?token=")
	token := strings.TrimPrefix(link, "https://api.gaiya.test/reset-password?token=")
	require.NotEmpty(t, token)

	require.NoError(t, service.ConfirmReset(&dto.ResetConfirmRequest{
		Token:       token,
		NewPassword: "newpassword1",
	}))

	// 新密码可以登录，旧密码不行
	_, err = service.Signin(&dto.SigninRequest{Email: "reset@example.com", Password: "newpassword1"})
	assert.NoError(t, err)
	_, err = service.Signin(&dto.SigninRequest{Email: "reset@example.com", Password: "oldpassword1"})
	assert.Equal(t, ErrInvalidCredentials, err)

	// 重置同时撤销旧刷新令牌
	_, err = service.Refresh(signupResp.RefreshToken)
	assert.Equal(t, ErrInvalidRefresh, err)

	// 令牌一次性，再用必须失败
	err = service.ConfirmReset(&dto.ResetConfirmRequest{
		Token:       token,
		NewPassword: "anotherpass1",
	})
	assert.Equal(t, ErrInvalidResetToken, err)
}

func TestAuthService_ConfirmReset_BogusToken(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	err := service.ConfirmReset(&dto.ResetConfirmRequest{
		Token:       "not-a-real-token",
		NewPassword: "newpassword1",
	})
	assert.Equal(t, ErrInvalidResetToken, err)
}

func TestAuthService_ConfirmReset_ExpiredToken(t *testing.T) {
	service, userRepo, mailer, cleanup := setupAuthServiceWithMailer(t)
	defer cleanup()

	signupResp, err := service.Signup(&dto.SignupRequest{
		Email:    "lateuser@example.com",
		Password: "oldpassword1",
	})
	require.NoError(t, err)

	require.NoError(t, service.ResetPassword(&dto.ResetPasswordRequest{Email: "lateuser@example.com"}))
	link := mailer.resetLink("lateuser@example.com")
	token := strings.TrimPrefix(link, "https://api.gaiya.test/reset-password?token=")

	// 把重置令牌的过期时间改到过去
	user, err := userRepo.GetByID(signupResp.UserID)
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	require.NoError(t, userRepo.SetResetToken(user.ID, user.ResetTokenHash, &past))

	err = service.ConfirmReset(&dto.ResetConfirmRequest{
		Token:       token,
		NewPassword: "newpassword1",
	})
	assert.Equal(t, ErrInvalidResetToken, err)
}

func TestAuthService_CheckVerification(t *testing.T) {
	service, _, cleanup := setupAuthService(t)
	defer cleanup()

	signupResp, err := service.Signup(&dto.SignupRequest{
		Email:    "verify@example.com",
		Password: "password123",
	})
	require.NoError(t, err)

	verified, err := service.CheckVerification(&dto.CheckVerificationRequest{
		Email:  "verify@example.com",
		UserID: signupResp.UserID,
	})
	require.NoError(t, err)
	assert.True(t, verified)

	_, err = service.CheckVerification(&dto.CheckVerificationRequest{
		Email:  "ghost@example.com",
		UserID: "u-ghost",
	})
	assert.Equal(t, ErrUserNotFound, err)
}
