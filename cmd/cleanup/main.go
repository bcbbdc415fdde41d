package main

import (
	"flag"
	"log"
	"os"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/database"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
	"github.com/gaiya-app/gaiya-cloud/internal/service"
)

var (
	cancelOrders = flag.Bool("cancel-orders", true, "Cancel stale unpaid orders")
	downgrade    = flag.Bool("downgrade", true, "Downgrade expired pro memberships")
)

// 一次性维护任务。正常情况由 server 内置的定时任务覆盖，
// 这里留一个可以手工或 crontab 触发的入口。
func main() {
	flag.Parse()

	log.Println("Starting maintenance task...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)

	subService := service.NewSubscriptionService(userRepo, subRepo, cfg)
	// 维护路径不下单、不查网关，支付网关和队列留空即可
	paymentService := service.NewPaymentService(orderRepo, subService, nil, nil, nil, cfg)

	if *cancelOrders {
		cancelled, err := paymentService.CancelStaleOrders()
		if err != nil {
			log.Printf("Failed to cancel stale orders: %v", err)
		} else {
			log.Printf("Cancelled %d stale orders (older than %dh)", cancelled, cfg.Subscription.OrderExpireHour)
		}
	}

	if *downgrade {
		downgraded, err := subService.DowngradeExpired()
		if err != nil {
			log.Printf("Failed to downgrade expired memberships: %v", err)
		} else {
			log.Printf("Downgraded %d expired memberships", downgraded)
		}
	}

	log.Println("Maintenance task completed")
}
