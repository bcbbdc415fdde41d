package api

import (
	"github.com/gin-gonic/gin"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/api/handler"
	"github.com/gaiya-app/gaiya-cloud/internal/api/middleware"
)

type Router struct {
	authHandler      *handler.AuthHandler
	subHandler       *handler.SubscriptionHandler
	paymentHandler   *handler.PaymentHandler
	aiHandler        *handler.AIHandler
	websocketHandler *handler.WebSocketHandler
	cfg              *config.Config
}

func NewRouter(
	authHandler *handler.AuthHandler,
	subHandler *handler.SubscriptionHandler,
	paymentHandler *handler.PaymentHandler,
	aiHandler *handler.AIHandler,
	websocketHandler *handler.WebSocketHandler,
	cfg *config.Config,
) *Router {
	return &Router{
		authHandler:      authHandler,
		subHandler:       subHandler,
		paymentHandler:   paymentHandler,
		aiHandler:        aiHandler,
		websocketHandler: websocketHandler,
		cfg:              cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	api := engine.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(200, gin.H{"success": true, "status": "ok"})
		})

		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 认证
		api.POST("/auth-signup", r.authHandler.Signup)
		api.POST("/auth-signin", r.authHandler.Signin)
		api.POST("/auth-refresh", r.authHandler.Refresh)
		api.POST("/auth-reset-password", r.authHandler.ResetPassword)
		api.POST("/auth-reset-confirm", r.authHandler.ResetConfirm)
		api.POST("/auth-check-verification", r.authHandler.CheckVerification)
		api.GET("/auth/github", r.authHandler.GithubAuth)
		api.GET("/auth/github/callback", r.authHandler.GithubCallback)

		// 支付网关回调，无认证，靠签名校验
		api.POST("/payment/notify/zpay", r.paymentHandler.NotifyZPay)
		api.GET("/payment/notify/zpay", r.paymentHandler.NotifyZPay)
		api.POST("/payment/notify/stripe", r.paymentHandler.NotifyStripe)

		// 需要认证的接口
		authenticated := api.Group("")
		authenticated.Use(middleware.Auth(r.cfg.JWT.Secret))
		{
			authenticated.POST("/auth-signout", r.authHandler.Signout)

			authenticated.GET("/subscription-status", r.subHandler.GetStatus)
			authenticated.GET("/quota-status", r.subHandler.GetQuotaStatus)

			authenticated.POST("/payment-create-order", r.paymentHandler.CreateOrder)
			authenticated.GET("/payment-query", r.paymentHandler.QueryOrder)
			authenticated.POST("/payment-query", r.paymentHandler.QueryOrderPost)
			authenticated.POST("/payment-manual-upgrade", r.paymentHandler.ManualUpgrade)
			authenticated.POST("/stripe-create-checkout", r.paymentHandler.StripeCheckout)

			authenticated.POST("/ai-generate-tasks", r.aiHandler.GenerateTasks)
		}
	}

	return engine
}
