package dto

// SignupRequest 注册请求
type SignupRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=64"`
	Username string `json:"username" binding:"omitempty,max=50"`
}

// SigninRequest 登录请求
type SigninRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest 刷新令牌请求
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// ResetPasswordRequest 找回密码请求
type ResetPasswordRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// ResetConfirmRequest 用邮件里的令牌设置新密码
type ResetConfirmRequest struct {
	Token       string `json:"token" binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=8,max=64"`
}

// CheckVerificationRequest 邮箱验证状态查询
type CheckVerificationRequest struct {
	Email  string `json:"email" binding:"required,email"`
	UserID string `json:"user_id" binding:"required"`
}

// TokenPairResponse 登录/注册/刷新统一返回的令牌对
type TokenPairResponse struct {
	Success      bool   `json:"success"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	UserID       string `json:"user_id,omitempty"`
	Email        string `json:"email,omitempty"`
	Username     string `json:"username,omitempty"`
	UserTier     string `json:"user_tier,omitempty"`
}
