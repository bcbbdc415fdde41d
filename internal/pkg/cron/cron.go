package cron

import (
	"log"
	"time"

	"github.com/gaiya-app/gaiya-cloud/internal/service"
)

type Service struct {
	quotaService   *service.QuotaService
	subService     *service.SubscriptionService
	paymentService *service.PaymentService
	weeklyResetDay time.Weekday
	stopChan       chan struct{}
}

func NewService(
	quotaService *service.QuotaService,
	subService *service.SubscriptionService,
	paymentService *service.PaymentService,
	weeklyResetDay time.Weekday,
) *Service {
	return &Service{
		quotaService:   quotaService,
		subService:     subService,
		paymentService: paymentService,
		weeklyResetDay: weeklyResetDay,
		stopChan:       make(chan struct{}),
	}
}

// Start 启动定时任务
func (s *Service) Start() {
	go s.runDailyQuotaReset()
	go s.runWeeklyQuotaReset()
	go s.runHourlyMaintenance()
	log.Println("Cron service started (quota reset + order cleanup)")
}

// Stop 停止定时任务
func (s *Service) Stop() {
	close(s.stopChan)
	log.Println("Cron service stopped")
}

// runDailyQuotaReset 本地零点重置每日配额
func (s *Service) runDailyQuotaReset() {
	timer := time.NewTimer(time.Until(service.NextDailyReset(time.Now())))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.resetDailyQuotas()
			timer.Reset(time.Until(service.NextDailyReset(time.Now())))
		}
	}
}

// runWeeklyQuotaReset 每周重置日零点重置每周配额
func (s *Service) runWeeklyQuotaReset() {
	timer := time.NewTimer(time.Until(service.NextWeeklyReset(time.Now(), s.weeklyResetDay)))

	for {
		select {
		case <-s.stopChan:
			timer.Stop()
			return
		case <-timer.C:
			s.resetWeeklyQuotas()
			timer.Reset(time.Until(service.NextWeeklyReset(time.Now(), s.weeklyResetDay)))
		}
	}
}

func (s *Service) resetDailyQuotas() {
	log.Println("Starting daily quota reset...")
	if err := s.quotaService.ResetAllDailyQuotas(); err != nil {
		log.Printf("Failed to reset daily quotas: %v", err)
		return
	}
	log.Println("Daily quota reset completed")
}

func (s *Service) resetWeeklyQuotas() {
	log.Println("Starting weekly quota reset...")
	if err := s.quotaService.ResetAllWeeklyQuotas(); err != nil {
		log.Printf("Failed to reset weekly quotas: %v", err)
		return
	}
	log.Println("Weekly quota reset completed")
}

// runHourlyMaintenance 每小时取消超时订单、降级过期会员
func (s *Service) runHourlyMaintenance() {
	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.maintain()
		}
	}
}

func (s *Service) maintain() {
	cancelled, err := s.paymentService.CancelStaleOrders()
	if err != nil {
		log.Printf("Failed to cancel stale orders: %v", err)
	}

	downgraded, err := s.subService.DowngradeExpired()
	if err != nil {
		log.Printf("Failed to downgrade expired memberships: %v", err)
	}

	if cancelled > 0 || downgraded > 0 {
		log.Printf("Maintenance summary: cancelled=%d, downgraded=%d", cancelled, downgraded)
	}
}

// RunNow 立即执行一轮维护（清理命令或手动触发用）
func (s *Service) RunNow() {
	s.maintain()
}
