package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/api"
	"github.com/gaiya-app/gaiya-cloud/internal/api/handler"
	"github.com/gaiya-app/gaiya-cloud/internal/database"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/ai"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/cron"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/email"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/oauth"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/pubsub"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/queue"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/ws"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/zpay"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
	"github.com/gaiya-app/gaiya-cloud/internal/service"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化对账队列与结算事件发布
	reconcileQueue := queue.NewQueue(rdb, cfg.Queue.ReconcileQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()

	// 初始化支付网关和 AI 客户端
	zpayClient := zpay.NewClient(
		cfg.ZPay.Gateway,
		cfg.ZPay.PID,
		cfg.ZPay.PKey,
		cfg.ZPay.CID,
		time.Duration(cfg.ZPay.Timeout)*time.Second,
	)
	aiClient := ai.NewClient(cfg.AI)

	// 初始化 Repository
	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)

	// 未配置 SMTP 时不发邮件，找回密码降级为只记日志
	var mailer service.Mailer
	if cfg.Email.SMTPHost != "" {
		mailer = email.NewService(&cfg.Email)
	}

	// 初始化 Service
	authService := service.NewAuthService(userRepo, mailer, cfg)
	quotaService := service.NewQuotaService(userRepo, cfg)
	subService := service.NewSubscriptionService(userRepo, subRepo, cfg)
	paymentService := service.NewPaymentService(orderRepo, subService, zpayClient, reconcileQueue, publisher, cfg)
	aiService := service.NewAIService(quotaService, aiClient, cfg)

	// 初始化 Handler
	authHandler := handler.NewAuthHandler(authService, oauth.NewStateStore(rdb))
	subHandler := handler.NewSubscriptionHandler(subService, quotaService)
	paymentHandler := handler.NewPaymentHandler(paymentService)
	aiHandler := handler.NewAIHandler(aiService)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret)

	// 结算事件桥：Redis 订阅转发到 WebSocket，让轮询中的桌面端提前收到结果
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(context.Background(), func(event *pubsub.PaymentEvent) {
			if err := wsHub.SendToUser(event.UserID, &ws.Message{
				Type: event.Type,
				Data: event,
			}); err != nil {
				log.Printf("Failed to push payment event to user %s: %v", event.UserID, err)
			}
		})
		if err != nil {
			log.Printf("Payment event subscriber exited: %v", err)
		}
	}()

	// 启动定时任务（配额重置 + 滞留订单清理 + 过期降级）
	cronService := cron.NewService(quotaService, subService, paymentService, time.Weekday(cfg.Subscription.WeeklyResetDay))
	cronService.Start()
	defer cronService.Stop()

	// 初始化 Router
	router := api.NewRouter(
		authHandler,
		subHandler,
		paymentHandler,
		aiHandler,
		websocketHandler,
		cfg,
	)
	engine := router.Setup()

	// 启动服务器
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Server starting on %s", addr)
	if err := engine.Run(addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
