package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/gaiya-app/gaiya-cloud/internal/api/middleware"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/oauth"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/response"
	"github.com/gaiya-app/gaiya-cloud/internal/service"
)

type AuthHandler struct {
	authService *service.AuthService
	stateStore  *oauth.StateStore
}

func NewAuthHandler(authService *service.AuthService, stateStore *oauth.StateStore) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		stateStore:  stateStore,
	}
}

// Signup 邮箱注册
// POST /api/auth-signup
func (h *AuthHandler) Signup(c *gin.Context) {
	var req dto.SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Signup(&req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailExists):
			response.ParamError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.OKData(c, resp)
}

// Signin 邮箱登录
// POST /api/auth-signin
func (h *AuthHandler) Signin(c *gin.Context) {
	var req dto.SigninRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Signin(&req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidCredentials):
			response.AuthError(c, err.Error())
		case errors.Is(err, service.ErrEmailNotVerified):
			response.AuthError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.OKData(c, resp)
}

// Signout 登出，撤销刷新令牌
// POST /api/auth-signout
func (h *AuthHandler) Signout(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	if err := h.authService.Signout(userID); err != nil {
		response.ServerError(c, "")
		return
	}

	response.OK(c, nil)
}

// Refresh 刷新令牌对。刷新令牌无效必须回 401，客户端据此判定会话终止。
// POST /api/auth-refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req dto.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.authService.Refresh(req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRefresh):
			response.AuthError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.OKData(c, resp)
}

// ResetPassword 找回密码
// POST /api/auth-reset-password
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req dto.ResetPasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.authService.ResetPassword(&req); err != nil {
		response.ServerError(c, "")
		return
	}

	response.OK(c, gin.H{"message": "如果该邮箱已注册，重置邮件将发送到邮箱"})
}

// ResetConfirm 用邮件里的令牌设置新密码
// POST /api/auth-reset-confirm
func (h *AuthHandler) ResetConfirm(c *gin.Context) {
	var req dto.ResetConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	if err := h.authService.ConfirmReset(&req); err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidResetToken):
			response.AuthError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.OK(c, gin.H{"message": "密码已重置，请用新密码登录"})
}

// CheckVerification 查询邮箱验证状态
// POST /api/auth-check-verification
func (h *AuthHandler) CheckVerification(c *gin.Context) {
	var req dto.CheckVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	verified, err := h.authService.CheckVerification(&req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			response.NotFoundError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.OK(c, gin.H{"verified": verified})
}

// GithubAuth 跳转 GitHub 授权页。state 服务端生成并存入 Redis，
// redirect_uri 是桌面端的回跳地址，回调时取回。
// GET /api/auth/github
func (h *AuthHandler) GithubAuth(c *gin.Context) {
	redirectURI := c.Query("redirect_uri")

	state, err := h.stateStore.GenerateState(c.Request.Context(), redirectURI)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	c.Redirect(302, h.authService.GetGithubAuthURL(state))
}

// GithubCallback GitHub OAuth 回调。state 一次性校验失败直接拒绝。
// GET /api/auth/github/callback
func (h *AuthHandler) GithubCallback(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		response.ParamError(c, "缺少 code 参数")
		return
	}

	redirectURI, err := h.stateStore.ValidateState(c.Request.Context(), c.Query("state"))
	if err != nil {
		response.AuthError(c, "state 校验失败")
		return
	}

	resp, err := h.authService.GithubCallback(c.Request.Context(), code)
	if err != nil {
		response.ServerError(c, "GitHub 登录失败")
		return
	}

	// 桌面端提供了回跳地址时带着令牌跳回去，否则直接返回 JSON
	if redirectURI != "" {
		c.Redirect(302, redirectURI+"#access_token="+resp.AccessToken+"&refresh_token="+resp.RefreshToken)
		return
	}
	response.OKData(c, resp)
}
