package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/model"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/pubsub"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/queue"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/zpay"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
)

var (
	ErrOrderNotFound   = errors.New("订单不存在")
	ErrOrderMismatch   = errors.New("订单与用户不匹配")
	ErrOrderNotPaid    = errors.New("网关侧订单未支付")
	ErrInvalidSign     = errors.New("回调签名校验失败")
	ErrAmountMismatch  = errors.New("回调金额与订单不符")
	ErrStripeNoPriceID = errors.New("该套餐未配置 Stripe 价格")
)

// 回调支付成功的状态值
const tradeStatusSuccess = "TRADE_SUCCESS"

type PaymentService struct {
	orderRepo *repository.OrderRepository
	subSvc    *SubscriptionService
	zpay      *zpay.Client
	queue     *queue.Queue
	publisher *pubsub.Publisher
	cfg       *config.Config
}

func NewPaymentService(
	orderRepo *repository.OrderRepository,
	subSvc *SubscriptionService,
	zpayClient *zpay.Client,
	q *queue.Queue,
	publisher *pubsub.Publisher,
	cfg *config.Config,
) *PaymentService {
	return &PaymentService{
		orderRepo: orderRepo,
		subSvc:    subSvc,
		zpay:      zpayClient,
		queue:     q,
		publisher: publisher,
		cfg:       cfg,
	}
}

// CreateOrder 创建支付订单。金额一律取服务端套餐目录，请求里的金额不可信。
// 优先走 API 下单拿支付链接，网关拒绝时回退跳转流程。
func (s *PaymentService) CreateOrder(ctx context.Context, req *dto.CreateOrderRequest, clientIP string) (*dto.CreateOrderResponse, error) {
	plan, ok := s.cfg.Subscription.Plans[req.PlanType]
	if !ok {
		return nil, ErrUnknownPlan
	}

	order := &model.Order{
		OutTradeNo: newOutTradeNo(),
		UserID:     req.UserID,
		PlanType:   req.PlanType,
		Amount:     plan.Price,
		PayType:    req.PayType,
		Status:     model.OrderStatusCreated,
	}
	if err := s.orderRepo.Create(order); err != nil {
		return nil, err
	}

	gwReq := &zpay.OrderRequest{
		PayType:    req.PayType,
		OutTradeNo: order.OutTradeNo,
		Name:       plan.DisplayName,
		Money:      formatMoney(plan.Price),
		NotifyURL:  s.cfg.Server.PublicURL + "/api/payment/notify/zpay",
		ReturnURL:  s.cfg.Server.PublicURL + "/payment/result",
		ClientIP:   clientIP,
		Param:      req.UserID,
	}

	resp := &dto.CreateOrderResponse{
		Success:    true,
		OutTradeNo: order.OutTradeNo,
		Amount:     plan.Price,
		PlanName:   plan.DisplayName,
		PayType:    req.PayType,
	}

	result, err := s.zpay.CreateOrder(ctx, gwReq)
	if err != nil {
		var gwErr *zpay.GatewayError
		if !errors.As(err, &gwErr) {
			return nil, err
		}
		// API 流程不可用时退回跳转流程，由客户端打开浏览器完成支付
		log.Printf("Order %s: api flow rejected (%v), falling back to submit url", order.OutTradeNo, gwErr)
		resp.PaymentURL = s.zpay.SubmitURL(gwReq)
	} else {
		resp.TradeNo = result.TradeNo
		resp.PaymentURL = result.PayURL
		resp.QRCodeURL = result.QRCode
		if resp.QRCodeURL == "" {
			resp.QRCodeURL = result.Img
		}
	}

	if _, err := s.orderRepo.UpdateStatus(order.OutTradeNo,
		[]string{model.OrderStatusCreated}, model.OrderStatusAwaitingPayment); err != nil {
		return nil, err
	}

	// 入队对账任务，兜底回调丢失的情况
	msg := &queue.ReconcileMessage{
		OutTradeNo: order.OutTradeNo,
		UserID:     order.UserID,
		PlanType:   order.PlanType,
		PayType:    order.PayType,
		NotBefore:  time.Now().Add(5 * time.Minute),
	}
	if err := s.queue.Push(ctx, msg); err != nil {
		log.Printf("Order %s: failed to enqueue reconcile task: %v", order.OutTradeNo, err)
	}

	return resp, nil
}

// QueryOrder 代理查询网关侧订单状态。发现已支付但本地未结算时顺手补结算。
func (s *PaymentService) QueryOrder(ctx context.Context, outTradeNo string) (*dto.QueryOrderResponse, error) {
	status, err := s.zpay.QueryOrder(ctx, outTradeNo)
	if err != nil {
		return nil, err
	}

	if status.Status == "1" {
		if err := s.settleIfNeeded(ctx, outTradeNo, status.TradeNo); err != nil {
			log.Printf("Order %s: settle on query failed: %v", outTradeNo, err)
		}
	}

	return &dto.QueryOrderResponse{
		Success: true,
		Order: &dto.OrderInfo{
			Status:  status.Status,
			Money:   status.Money,
			Type:    status.Type,
			AddTime: status.AddTime,
			EndTime: status.EndTime,
			Param:   status.Param,
		},
	}, nil
}

// HandleNotify 处理易支付异步回调。
// 验签、金额核对、幂等结算，全部通过才返回 "success" 告知网关停止重试。
func (s *PaymentService) HandleNotify(ctx context.Context, params map[string]string) (string, error) {
	if !zpay.Verify(params, s.cfg.ZPay.PKey) {
		return "", ErrInvalidSign
	}

	outTradeNo := params["out_trade_no"]
	order, err := s.orderRepo.GetByOutTradeNo(outTradeNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrOrderNotFound
		}
		return "", err
	}

	if params["trade_status"] != tradeStatusSuccess {
		// 非成功状态只确认收到，不改订单
		return "success", nil
	}

	if !moneyEqual(params["money"], order.Amount) {
		log.Printf("Order %s: notify money %s != order amount %.2f", outTradeNo, params["money"], order.Amount)
		return "", ErrAmountMismatch
	}

	if err := s.settle(ctx, order, params["trade_no"]); err != nil {
		return "", err
	}
	return "success", nil
}

// ManualUpgrade 手动补单。回调丢失时客户端带着订单号来结算，
// 服务端用商户密钥直查网关核实支付后再授予。
func (s *PaymentService) ManualUpgrade(ctx context.Context, req *dto.ManualUpgradeRequest) (*dto.ManualUpgradeResponse, error) {
	order, err := s.orderRepo.GetByOutTradeNo(req.OutTradeNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	if order.UserID != req.UserID || order.PlanType != req.PlanType {
		return nil, ErrOrderMismatch
	}

	if order.Status != model.OrderStatusPaid {
		status, err := s.zpay.QueryOrder(ctx, req.OutTradeNo)
		if err != nil {
			return nil, err
		}
		if status.Status != "1" {
			return nil, ErrOrderNotPaid
		}
		if err := s.settle(ctx, order, status.TradeNo); err != nil {
			return nil, err
		}
	}

	// 已支付订单重复补单是幂等的，Grant 内部按 out_trade_no 去重
	tier, expireAt, err := s.subSvc.Grant(order)
	if err != nil {
		return nil, err
	}

	resp := &dto.ManualUpgradeResponse{
		Success:  true,
		UserTier: tier,
	}
	if expireAt != nil {
		resp.MembershipExpireAt = expireAt.Format(time.RFC3339)
	}
	return resp, nil
}

// CreateStripeCheckout 创建 Stripe 结账会话，海外用户走这条路
func (s *PaymentService) CreateStripeCheckout(req *dto.StripeCheckoutRequest) (*dto.StripeCheckoutResponse, error) {
	plan, ok := s.cfg.Subscription.Plans[req.PlanType]
	if !ok {
		return nil, ErrUnknownPlan
	}
	priceID, ok := s.cfg.Stripe.PriceIDs[req.PlanType]
	if !ok {
		return nil, ErrStripeNoPriceID
	}

	order := &model.Order{
		OutTradeNo: newOutTradeNo(),
		UserID:     req.UserID,
		PlanType:   req.PlanType,
		Amount:     plan.Price,
		PayType:    model.PayTypeStripe,
		Status:     model.OrderStatusAwaitingPayment,
	}
	if err := s.orderRepo.Create(order); err != nil {
		return nil, err
	}

	stripe.Key = s.cfg.Stripe.SecretKey
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(s.cfg.Stripe.SuccessURL),
		CancelURL:         stripe.String(s.cfg.Stripe.CancelURL),
		CustomerEmail:     stripe.String(req.UserEmail),
		ClientReferenceID: stripe.String(order.OutTradeNo),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"out_trade_no": order.OutTradeNo,
			"user_id":      req.UserID,
			"plan_type":    req.PlanType,
		},
	}

	sess, err := session.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return nil, fmt.Errorf("stripe error: %s - %s", stripeErr.Code, stripeErr.Msg)
		}
		return nil, err
	}

	return &dto.StripeCheckoutResponse{
		Success:     true,
		CheckoutURL: sess.URL,
		SessionID:   sess.ID,
	}, nil
}

// HandleStripeWebhook 处理 Stripe 回调，checkout.session.completed 触发结算
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) error {
	event, err := webhook.ConstructEvent(payload, sigHeader, s.cfg.Stripe.WebhookSecret)
	if err != nil {
		return ErrInvalidSign
	}

	if event.Type != "checkout.session.completed" {
		return nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return err
	}
	if sess.ClientReferenceID == "" {
		return ErrOrderNotFound
	}

	return s.settleIfNeeded(ctx, sess.ClientReferenceID, sess.ID)
}

// Reconcile 对账一单。返回 true 表示任务应重新入队继续等。
func (s *PaymentService) Reconcile(ctx context.Context, msg *queue.ReconcileMessage) (bool, error) {
	order, err := s.orderRepo.GetByOutTradeNo(msg.OutTradeNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrOrderNotFound
		}
		return false, err
	}
	if order.IsTerminal() {
		return false, nil
	}

	status, err := s.zpay.QueryOrder(ctx, msg.OutTradeNo)
	if err != nil {
		var gwErr *zpay.GatewayError
		if errors.As(err, &gwErr) {
			// 网关查不到订单，多半还没支付，继续等
			return true, nil
		}
		return true, err
	}

	if status.Status == "1" {
		if err := s.settle(ctx, order, status.TradeNo); err != nil {
			return true, err
		}
		return false, nil
	}
	return true, nil
}

// CancelStaleOrders 取消超时未支付的订单，定时任务调用
func (s *PaymentService) CancelStaleOrders() (int64, error) {
	cutoff := time.Now().Add(-time.Duration(s.cfg.Subscription.OrderExpireHour) * time.Hour)
	return s.orderRepo.CancelStale(cutoff)
}

// ListOrders 查询用户的历史订单
func (s *PaymentService) ListOrders(userID string, limit int) ([]*model.Order, error) {
	return s.orderRepo.ListByUser(userID, limit)
}

func (s *PaymentService) settleIfNeeded(ctx context.Context, outTradeNo string, tradeNo string) error {
	order, err := s.orderRepo.GetByOutTradeNo(outTradeNo)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrOrderNotFound
		}
		return err
	}
	return s.settle(ctx, order, tradeNo)
}

// settle 结算的唯一入口。回调、查询、补单、对账 worker 都汇到这里，
// MarkPaid 的状态机保证只有第一次真正落账，之后的调用是空操作。
func (s *PaymentService) settle(ctx context.Context, order *model.Order, tradeNo string) error {
	moved, err := s.orderRepo.MarkPaid(order.OutTradeNo, tradeNo, time.Now())
	if err != nil {
		return err
	}
	if !moved && order.Status != model.OrderStatusPaid {
		// 订单已进入 failed/cancelled 终态，不再授予
		return nil
	}

	order.TradeNo = tradeNo
	tier, expireAt, err := s.subSvc.Grant(order)
	if err != nil {
		return err
	}

	if moved {
		event := &pubsub.PaymentEvent{
			Type:       pubsub.EventOrderPaid,
			UserID:     order.UserID,
			OutTradeNo: order.OutTradeNo,
			PlanType:   order.PlanType,
			UserTier:   tier,
		}
		if expireAt != nil {
			event.ExpiresAt = expireAt.Format(time.RFC3339)
		}
		if err := s.publisher.PublishPayment(ctx, event); err != nil {
			log.Printf("Order %s: failed to publish paid event: %v", order.OutTradeNo, err)
		}
		log.Printf("Order %s: settled, user %s upgraded to %s", order.OutTradeNo, order.UserID, tier)
	}
	return nil
}

func newOutTradeNo() string {
	return fmt.Sprintf("GAIYA%s%04d", time.Now().Format("20060102150405"), rand.Intn(10000))
}

func formatMoney(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

func moneyEqual(money string, amount float64) bool {
	parsed, err := strconv.ParseFloat(money, 64)
	if err != nil {
		return false
	}
	return math.Abs(parsed-amount) < 0.005
}
