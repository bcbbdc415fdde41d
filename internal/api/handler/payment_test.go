package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gaiya-app/gaiya-cloud/internal/api/middleware"
	"github.com/gaiya-app/gaiya-cloud/internal/model"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/pubsub"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/queue"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/zpay"
	"github.com/gaiya-app/gaiya-cloud/internal/repository"
	"github.com/gaiya-app/gaiya-cloud/internal/service"
	"github.com/gaiya-app/gaiya-cloud/internal/testutil"
)

const testMerchantKey = "test-merchant-key"

func setupPaymentRouter(t *testing.T) (*gin.Engine, *gorm.DB, *repository.OrderRepository, func()) {
	t.Helper()

	db := testutil.SetupTestDB(t)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	// 网关替身：下单成功，查询返回已支付
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/mapi.php":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 1, "trade_no": "GW001", "payurl": "https://pay.example.com/p/1",
			})
		case "/api.php":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"code": 1, "status": "1", "money": "29.00", "type": "alipay", "trade_no": "GW001",
			})
		}
	}))
	t.Cleanup(gateway.Close)

	cfg := handlerTestConfig()
	cfg.Server.PublicURL = "https://cloud.gaiya.example.com"
	cfg.ZPay.Gateway = gateway.URL
	cfg.ZPay.PID = "1001"
	cfg.ZPay.PKey = testMerchantKey

	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	subRepo := repository.NewSubscriptionRepository(db)
	subService := service.NewSubscriptionService(userRepo, subRepo, cfg)
	paymentService := service.NewPaymentService(
		orderRepo, subService,
		zpay.NewClient(gateway.URL, "1001", testMerchantKey, "", 5*time.Second),
		queue.NewQueue(rdb, "test_reconcile"),
		pubsub.NewPublisher(rdb),
		cfg,
	)
	h := NewPaymentHandler(paymentService)

	router := gin.New()
	router.POST("/api/payment/notify/zpay", h.NotifyZPay)
	authed := router.Group("")
	authed.Use(middleware.Auth(testJWTSecret))
	authed.POST("/api/payment-create-order", h.CreateOrder)
	authed.GET("/api/payment-query", h.QueryOrder)
	authed.POST("/api/payment-manual-upgrade", h.ManualUpgrade)

	cleanup := func() {
		testutil.CleanupTestDB(t, db)
	}

	return router, db, orderRepo, cleanup
}

func signedForm(outTradeNo, money, tradeStatus string) url.Values {
	params := map[string]string{
		"pid":          "1001",
		"out_trade_no": outTradeNo,
		"trade_no":     "GW001",
		"money":        money,
		"trade_status": tradeStatus,
		"type":         "alipay",
	}
	sign := zpay.Sign(params, testMerchantKey)

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("sign", sign)
	form.Set("sign_type", "MD5")
	return form
}

func postForm(router http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPaymentHandler_CreateOrder(t *testing.T) {
	router, db, orderRepo, cleanup := setupPaymentRouter(t)
	defer cleanup()

	user := testutil.TestUser(t, db)

	w := performAuthedRequest(router, "POST", "/api/payment-create-order",
		tokenFor(t, user.ID), dto.CreateOrderRequest{
			UserID:   "u-someone-else", // 会被令牌里的身份覆盖
			PlanType: "pro_monthly",
			PayType:  model.PayTypeAlipay,
		})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.CreateOrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 29.00, resp.Amount)
	assert.NotEmpty(t, resp.PaymentURL)

	order, err := orderRepo.GetByOutTradeNo(resp.OutTradeNo)
	require.NoError(t, err)
	assert.Equal(t, user.ID, order.UserID)
}

func TestPaymentHandler_CreateOrder_Unauthorized(t *testing.T) {
	router, _, _, cleanup := setupPaymentRouter(t)
	defer cleanup()

	w := performRequest(router, "POST", "/api/payment-create-order", dto.CreateOrderRequest{
		UserID:   "u-x",
		PlanType: "pro_monthly",
		PayType:  model.PayTypeAlipay,
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPaymentHandler_CreateOrder_BadPlan(t *testing.T) {
	router, db, _, cleanup := setupPaymentRouter(t)
	defer cleanup()

	user := testutil.TestUser(t, db)

	// oneof 绑定校验直接拦下
	w := performAuthedRequest(router, "POST", "/api/payment-create-order",
		tokenFor(t, user.ID), dto.CreateOrderRequest{
			UserID:   user.ID,
			PlanType: "mystery_plan",
			PayType:  model.PayTypeAlipay,
		})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandler_NotifyZPay_AnswersLiteralSuccess(t *testing.T) {
	router, db, orderRepo, cleanup := setupPaymentRouter(t)
	defer cleanup()

	user := testutil.TestUser(t, db)
	order := testutil.TestOrder(t, db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	w := postForm(router, "/api/payment/notify/zpay",
		signedForm(order.OutTradeNo, "29.00", "TRADE_SUCCESS"))

	// 网关只认纯文本 success
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())

	got, err := orderRepo.GetByOutTradeNo(order.OutTradeNo)
	require.NoError(t, err)
	assert.Equal(t, model.OrderStatusPaid, got.Status)
}

func TestPaymentHandler_NotifyZPay_BadSign(t *testing.T) {
	router, db, orderRepo, cleanup := setupPaymentRouter(t)
	defer cleanup()

	user := testutil.TestUser(t, db)
	order := testutil.TestOrder(t, db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	form := signedForm(order.OutTradeNo, "29.00", "TRADE_SUCCESS")
	form.Set("money", "0.01")

	w := postForm(router, "/api/payment/notify/zpay", form)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEqual(t, "success", w.Body.String())

	got, _ := orderRepo.GetByOutTradeNo(order.OutTradeNo)
	assert.Equal(t, model.OrderStatusAwaitingPayment, got.Status)
}

func TestPaymentHandler_QueryOrder_MissingParam(t *testing.T) {
	router, db, _, cleanup := setupPaymentRouter(t)
	defer cleanup()

	user := testutil.TestUser(t, db)
	w := performAuthedRequest(router, "GET", "/api/payment-query", tokenFor(t, user.ID), nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPaymentHandler_ManualUpgrade(t *testing.T) {
	router, db, _, cleanup := setupPaymentRouter(t)
	defer cleanup()

	user := testutil.TestUser(t, db)
	order := testutil.TestOrder(t, db, user.ID,
		testutil.WithOrderStatus(model.OrderStatusAwaitingPayment))

	w := performAuthedRequest(router, "POST", "/api/payment-manual-upgrade",
		tokenFor(t, user.ID), dto.ManualUpgradeRequest{
			OutTradeNo: order.OutTradeNo,
			UserID:     user.ID,
			PlanType:   order.PlanType,
		})
	assert.Equal(t, http.StatusOK, w.Code)

	var resp dto.ManualUpgradeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, model.TierPro, resp.UserTier)
}

func TestPaymentHandler_ManualUpgrade_NotFound(t *testing.T) {
	router, db, _, cleanup := setupPaymentRouter(t)
	defer cleanup()

	user := testutil.TestUser(t, db)
	w := performAuthedRequest(router, "POST", "/api/payment-manual-upgrade",
		tokenFor(t, user.ID), dto.ManualUpgradeRequest{
			OutTradeNo: "GAIYA_GHOST",
			UserID:     user.ID,
			PlanType:   "pro_monthly",
		})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
