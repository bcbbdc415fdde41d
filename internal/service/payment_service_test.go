package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gaiya-app/gaiya-cloud/internal/model"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/pubsub"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/queue"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/zpay"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
	"github.com/gaiya-app/gaiya-cloud/internal/testutil"
)

const testPKey = "test-merchant-key"

// fakeGateway 可编程的易支付网关替身
type fakeGateway struct {
	server      *httptest.Server
	createCode  int    // mapi.php 返回的 code
	queryStatus string // api.php 返回的订单状态
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()

	g := &fakeGateway{createCode: 1, queryStatus: "0"}
	g.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mapi.php":
			if g.createCode != 1 {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"code": g.createCode, "msg": "channel unavailable",
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code":     1,
				"trade_no": "GW20250601001",
				"payurl":   "https://pay.example.com/p/abc",
				"qrcode":   "https://pay.example.com/qr/abc",
			})
		case "/api.php":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code":     1,
				"status":   g.queryStatus,
				"money":    "29.00",
				"type":     "alipay",
				"trade_no": "GW20250601001",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(g.server.Close)
	return g
}

type paymentDeps struct {
	db        *gorm.DB
	orderRepo *repository.OrderRepository
	subRepo   *repository.SubscriptionRepository
	userRepo  *repository.UserRepository
	queue     *queue.Queue
	redis     *redis.Client
	gateway   *fakeGateway
}

func setupPaymentService(t *testing.T) (*PaymentService, *paymentDeps) {
	t.Helper()

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	gateway := newFakeGateway(t)

	cfg := testConfig()
	cfg.Server.PublicURL = "https://cloud.gaiya.example.com"
	cfg.ZPay.Gateway = gateway.server.URL
	cfg.ZPay.PID = "1001"
	cfg.ZPay.PKey = testPKey

	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	subSvc := NewSubscriptionService(userRepo, subRepo, cfg)

	q := queue.NewQueue(rdb, "test_reconcile")
	publisher := pubsub.NewPublisher(rdb)
	zpayClient := zpay.NewClient(gateway.server.URL, "1001", testPKey, "", 5*time.Second)

	svc := NewPaymentService(orderRepo, subSvc, zpayClient, q, publisher, cfg)

	return svc, &paymentDeps{
		db:        db,
		orderRepo: orderRepo,
		subRepo:   subRepo,
		userRepo:  userRepo,
		queue:     q,
		redis:     rdb,
		gateway:   gateway,
	}
}

// signedNotifyParams 按网关规则生成一组带合法签名的回调参数
func signedNotifyParams(outTradeNo, money, tradeStatus string) map[string]string {
	params := map[string]string{
		"pid":          "1001",
		"out_trade_no": outTradeNo,
		"trade_no":     "GW20250601001",
		"money":        money,
		"trade_status": tradeStatus,
		"type":         "alipay",
	}
	params["sign"] = zpay.Sign(params, testPKey)
	params["sign_type"] = "MD5"
	return params
}

func TestPaymentService_CreateOrder_APIFlow(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)

	resp, err := svc.CreateOrder(context.Background(), &dto.CreateOrderRequest{
		UserID:   user.ID,
		PlanType: "pro_monthly",
		PayType:  model.PayTypeAlipay,
	}, "1.2.3.4")
	require.NoError(t, err)

	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.OutTradeNo)
	assert.Equal(t, "https://pay.example.com/p/abc", resp.PaymentURL)
	assert.Equal(t, "https://pay.example.com/qr/abc", resp.QRCodeURL)
	// 金额以服务端套餐目录为准
	assert.Equal(t, 29.00, resp.Amount)

	order, err := deps.orderRepo.GetByOutTradeNo(resp.OutTradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusAwaitingPayment, order.Status)

	// 对账任务已入队
	length, err := deps.queue.Length(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)
}

func TestPaymentService_CreateOrder_FallbackToSubmitURL(t *testing.T) {
	svc, deps := setupPaymentService(t)
	deps.gateway.createCode = 0
	user := testutil.TestUser(t, deps.db)

	resp, err := svc.CreateOrder(context.Background(), &dto.CreateOrderRequest{
		UserID:   user.ID,
		PlanType: "pro_yearly",
		PayType:  model.PayTypeWxpay,
	}, "1.2.3.4")
	require.NoError(t, err)

	// API 被拒后退回跳转流程
	assert.Contains(t, resp.PaymentURL, "/submit.php?")
	assert.Contains(t, resp.PaymentURL, "sign=")
	assert.Equal(t, 199.00, resp.Amount)
}

func TestPaymentService_CreateOrder_UnknownPlan(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)

	_, err := svc.CreateOrder(context.Background(), &dto.CreateOrderRequest{
		UserID:   user.ID,
		PlanType: "mystery_plan",
		PayType:  model.PayTypeAlipay,
	}, "1.2.3.4")
	assert.Equal(t, ErrUnknownPlan, err)
}

func TestPaymentService_HandleNotify_Success(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	ack, err := svc.HandleNotify(context.Background(),
		signedNotifyParams(order.OutTradeNo, "29.00", "TRADE_SUCCESS"))
	require.NoError(t, err)
	assert.Equal(t, "success", ack)

	got, err := deps.orderRepo.GetByOutTradeNo(order.OutTradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, got.Status)
	assert.Equal(t, "GW20250601001", got.TradeNo)
	require.NotNil(t, got.PaidAt)

	// 会员已授予
	u, err := deps.userRepo.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TierPro, u.Tier)
}

func TestPaymentService_HandleNotify_BadSign(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	params := signedNotifyParams(order.OutTradeNo, "29.00", "TRADE_SUCCESS")
	params["money"] = "0.01" // 篡改金额，签名随即失效

	_, err := svc.HandleNotify(context.Background(), params)
	assert.Equal(t, ErrInvalidSign, err)

	got, _ := deps.orderRepo.GetByOutTradeNo(order.OutTradeNo)
	assert.Equal(t, model.OrderStatusAwaitingPayment, got.Status)
}

func TestPaymentService_HandleNotify_AmountMismatch(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	// 签名合法但金额与订单不符
	_, err := svc.HandleNotify(context.Background(),
		signedNotifyParams(order.OutTradeNo, "0.01", "TRADE_SUCCESS"))
	assert.Equal(t, ErrAmountMismatch, err)
}

func TestPaymentService_HandleNotify_NonSuccessStatus(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	ack, err := svc.HandleNotify(context.Background(),
		signedNotifyParams(order.OutTradeNo, "29.00", "WAIT_BUYER_PAY"))
	require.NoError(t, err)
	assert.Equal(t, "success", ack)

	got, _ := deps.orderRepo.GetByOutTradeNo(order.OutTradeNo)
	assert.Equal(t, model.OrderStatusAwaitingPayment, got.Status)
}

func TestPaymentService_HandleNotify_DuplicateIsIdempotent(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	params := signedNotifyParams(order.OutTradeNo, "29.00", "TRADE_SUCCESS")
	for i := 0; i < 3; i++ {
		ack, err := svc.HandleNotify(context.Background(), params)
		require.NoError(t, err)
		assert.Equal(t, "success", ack)
	}

	subs, err := deps.subRepo.ListByUser(user.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestPaymentService_HandleNotify_UnknownOrder(t *testing.T) {
	svc, _ := setupPaymentService(t)

	_, err := svc.HandleNotify(context.Background(),
		signedNotifyParams("GAIYA_GHOST", "29.00", "TRADE_SUCCESS"))
	assert.Equal(t, ErrOrderNotFound, err)
}

func TestPaymentService_ManualUpgrade_PaidAtGateway(t *testing.T) {
	svc, deps := setupPaymentService(t)
	deps.gateway.queryStatus = "1"
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	resp, err := svc.ManualUpgrade(context.Background(), &dto.ManualUpgradeRequest{
		OutTradeNo: order.OutTradeNo,
		UserID:     user.ID,
		PlanType:   order.PlanType,
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, model.TierPro, resp.UserTier)
	assert.NotEmpty(t, resp.MembershipExpireAt)

	got, _ := deps.orderRepo.GetByOutTradeNo(order.OutTradeNo)
	assert.Equal(t, model.OrderStatusPaid, got.Status)
}

func TestPaymentService_ManualUpgrade_NotPaidAtGateway(t *testing.T) {
	svc, deps := setupPaymentService(t)
	deps.gateway.queryStatus = "0"
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	_, err := svc.ManualUpgrade(context.Background(), &dto.ManualUpgradeRequest{
		OutTradeNo: order.OutTradeNo,
		UserID:     user.ID,
		PlanType:   order.PlanType,
	})
	assert.Equal(t, ErrOrderNotPaid, err)
}

func TestPaymentService_ManualUpgrade_OrderMismatch(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)
	other := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	// 拿别人的订单号补单
	_, err := svc.ManualUpgrade(context.Background(), &dto.ManualUpgradeRequest{
		OutTradeNo: order.OutTradeNo,
		UserID:     other.ID,
		PlanType:   order.PlanType,
	})
	assert.Equal(t, ErrOrderMismatch, err)

	// 套餐对不上也不行
	_, err = svc.ManualUpgrade(context.Background(), &dto.ManualUpgradeRequest{
		OutTradeNo: order.OutTradeNo,
		UserID:     user.ID,
		PlanType:   "lifetime",
	})
	assert.Equal(t, ErrOrderMismatch, err)
}

func TestPaymentService_ManualUpgrade_AlreadyPaidIsIdempotent(t *testing.T) {
	svc, deps := setupPaymentService(t)
	deps.gateway.queryStatus = "1"
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	req := &dto.ManualUpgradeRequest{
		OutTradeNo: order.OutTradeNo,
		UserID:     user.ID,
		PlanType:   order.PlanType,
	}
	first, err := svc.ManualUpgrade(context.Background(), req)
	require.NoError(t, err)

	second, err := svc.ManualUpgrade(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.UserTier, second.UserTier)
	assert.Equal(t, first.MembershipExpireAt, second.MembershipExpireAt)

	subs, _ := deps.subRepo.ListByUser(user.ID)
	assert.Len(t, subs, 1)
}

func TestPaymentService_QueryOrder_SettlesWhenPaid(t *testing.T) {
	svc, deps := setupPaymentService(t)
	deps.gateway.queryStatus = "1"
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	resp, err := svc.QueryOrder(context.Background(), order.OutTradeNo)
	require.NoError(t, err)
	assert.Equal(t, "1", resp.Order.Status)

	// 查询发现已支付，本地顺手结算
	got, _ := deps.orderRepo.GetByOutTradeNo(order.OutTradeNo)
	assert.Equal(t, model.OrderStatusPaid, got.Status)
}

func TestPaymentService_Reconcile(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	msg := &queue.ReconcileMessage{
		OutTradeNo: order.OutTradeNo,
		UserID:     user.ID,
		PlanType:   order.PlanType,
	}

	// 未支付时任务重新入队
	requeue, err := svc.Reconcile(context.Background(), msg)
	require.NoError(t, err)
	assert.True(t, requeue)

	// 支付后对账完成结算
	deps.gateway.queryStatus = "1"
	requeue, err = svc.Reconcile(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, requeue)

	got, _ := deps.orderRepo.GetByOutTradeNo(order.OutTradeNo)
	assert.Equal(t, model.OrderStatusPaid, got.Status)

	// 终态订单不再对账
	requeue, err = svc.Reconcile(context.Background(), msg)
	require.NoError(t, err)
	assert.False(t, requeue)
}

func TestPaymentService_CancelStaleOrders(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)

	stale := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment),
		testutil.WithOutTradeNo("GAIYA_STALE"))
	// 手工把创建时间拨回超时线之外
	require.NoError(t, deps.db.Model(stale).
		Update("created_at", time.Now().Add(-3*time.Hour)).Error)

	fresh := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment),
		testutil.WithOutTradeNo("GAIYA_FRESH"))

	count, err := svc.CancelStaleOrders()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	got, _ := deps.orderRepo.GetByOutTradeNo(stale.OutTradeNo)
	assert.Equal(t, model.OrderStatusCancelled, got.Status)
	got, _ = deps.orderRepo.GetByOutTradeNo(fresh.OutTradeNo)
	assert.Equal(t, model.OrderStatusAwaitingPayment, got.Status)
}

func TestPaymentService_SettlePublishesEvent(t *testing.T) {
	svc, deps := setupPaymentService(t)
	user := testutil.TestUser(t, deps.db)
	order := testutil.TestOrder(t, deps.db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	events := make(chan *pubsub.PaymentEvent, 1)
	sub := pubsub.NewSubscriber(deps.redis)
	go func() {
		_ = sub.Subscribe(ctx, func(e *pubsub.PaymentEvent) {
			events <- e
		})
	}()
	time.Sleep(100 * time.Millisecond) // 等订阅建立

	_, err := svc.HandleNotify(ctx,
		signedNotifyParams(order.OutTradeNo, "29.00", "TRADE_SUCCESS"))
	require.NoError(t, err)

	select {
	case e := <-events:
		assert.Equal(t, pubsub.EventOrderPaid, e.Type)
		assert.Equal(t, user.ID, e.UserID)
		assert.Equal(t, order.OutTradeNo, e.OutTradeNo)
		assert.Equal(t, model.TierPro, e.UserTier)
	case <-ctx.Done():
		t.Fatal("timed out waiting for payment event")
	}
}

func TestNewOutTradeNo_Format(t *testing.T) {
	no := newOutTradeNo()
	assert.Regexp(t, fmt.Sprintf("^GAIYA%s", time.Now().Format("2006")), no)
	assert.Len(t, no, len("GAIYA")+14+4)
}
