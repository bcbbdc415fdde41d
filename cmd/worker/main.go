package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/database"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/pubsub"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/queue"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/zpay"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
	"github.com/gaiya-app/gaiya-cloud/internal/service"
)

// 对账任务最多重试次数。超过后放弃，滞留订单由定时清理兜底取消。
const maxReconcileAttempts = 10

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

	// 初始化 Queue 和 Pub/Sub
	reconcileQueue := queue.NewQueue(rdb, cfg.Queue.ReconcileQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化支付网关
	zpayClient := zpay.NewClient(
		cfg.ZPay.Gateway,
		cfg.ZPay.PID,
		cfg.ZPay.PKey,
		cfg.ZPay.CID,
		time.Duration(cfg.ZPay.Timeout)*time.Second,
	)

	// 初始化 Repository 和 Service
	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)

	subService := service.NewSubscriptionService(userRepo, subRepo, cfg)
	paymentService := service.NewPaymentService(orderRepo, subService, zpayClient, reconcileQueue, publisher, cfg)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	maxWorkers := cfg.Queue.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 2
	}
	log.Printf("Reconcile worker started, max workers: %d", maxWorkers)

	// 启动 worker 循环
	for i := 0; i < maxWorkers; i++ {
		go func(workerID int) {
			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %d shutting down", workerID)
					return
				default:
					msg, err := reconcileQueue.Pop(ctx, 5*time.Second)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Worker %d: failed to pop task: %v", workerID, err)
						continue
					}

					if msg == nil {
						continue // 超时，继续等待
					}

					handleTask(ctx, workerID, paymentService, reconcileQueue, msg)
				}
			}
		}(i)
	}

	// 等待 context 取消
	<-ctx.Done()
	log.Println("Worker shutdown complete")
}

// handleTask 处理单条对账任务。未到查询时间的任务原样回队，
// 需要继续对账的任务按指数退避重新入队。
func handleTask(ctx context.Context, workerID int, paymentService *service.PaymentService, q *queue.Queue, msg *queue.ReconcileMessage) {
	if time.Now().Before(msg.NotBefore) {
		if err := q.Push(ctx, msg); err != nil {
			log.Printf("Worker %d: failed to requeue order %s: %v", workerID, msg.OutTradeNo, err)
		}
		// 避免和唯一一条未到期任务空转
		time.Sleep(time.Second)
		return
	}

	log.Printf("Worker %d: reconciling order %s (attempt %d)", workerID, msg.OutTradeNo, msg.Attempts+1)

	requeue, err := paymentService.Reconcile(ctx, msg)
	if err != nil {
		log.Printf("Worker %d: reconcile order %s failed: %v", workerID, msg.OutTradeNo, err)
	}

	if !requeue {
		return
	}

	msg.Attempts++
	if msg.Attempts >= maxReconcileAttempts {
		log.Printf("Worker %d: order %s still unsettled after %d attempts, giving up", workerID, msg.OutTradeNo, msg.Attempts)
		return
	}

	// 指数退避：1min、2min、4min……上限 30min
	backoff := time.Duration(1<<uint(msg.Attempts)) * time.Minute / 2
	if backoff > 30*time.Minute {
		backoff = 30 * time.Minute
	}
	msg.NotBefore = time.Now().Add(backoff)

	if err := q.Push(ctx, msg); err != nil {
		log.Printf("Worker %d: failed to requeue order %s: %v", workerID, msg.OutTradeNo, err)
	}
}
