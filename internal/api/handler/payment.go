package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gaiya-app/gaiya-cloud/internal/api/middleware"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/response"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/zpay"
	"github.com/gaiya-app/gaiya-cloud/internal/service"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

// CreateOrder 创建支付订单
// POST /api/payment-create-order
func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	// 订单归属以令牌为准，请求体里的 user_id 不可信
	req.UserID = userID

	resp, err := h.paymentService.CreateOrder(c.Request.Context(), &req, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownPlan):
			response.ParamError(c, err.Error())
		default:
			var gwErr *zpay.GatewayError
			if errors.As(err, &gwErr) {
				response.GatewayError(c, "")
				return
			}
			response.ServerError(c, "")
		}
		return
	}

	response.OKData(c, resp)
}

// QueryOrder 查询订单状态，GET 走 query 参数
// GET /api/payment-query?out_trade_no=xxx
func (h *PaymentHandler) QueryOrder(c *gin.Context) {
	outTradeNo := c.Query("out_trade_no")
	if outTradeNo == "" {
		response.ParamError(c, "缺少 out_trade_no 参数")
		return
	}
	h.queryOrder(c, outTradeNo)
}

// QueryOrderPost 查询订单状态，POST 走请求体
// POST /api/payment-query
func (h *PaymentHandler) QueryOrderPost(c *gin.Context) {
	var req dto.QueryOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	h.queryOrder(c, req.OutTradeNo)
}

func (h *PaymentHandler) queryOrder(c *gin.Context, outTradeNo string) {
	resp, err := h.paymentService.QueryOrder(c.Request.Context(), outTradeNo)
	if err != nil {
		var gwErr *zpay.GatewayError
		if errors.As(err, &gwErr) {
			response.GatewayError(c, gwErr.Msg)
			return
		}
		response.ServerError(c, "")
		return
	}

	response.OKData(c, resp)
}

// ManualUpgrade 手动补单
// POST /api/payment-manual-upgrade
func (h *PaymentHandler) ManualUpgrade(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.ManualUpgradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	req.UserID = userID

	resp, err := h.paymentService.ManualUpgrade(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrOrderNotFound):
			response.NotFoundError(c, err.Error())
		case errors.Is(err, service.ErrOrderMismatch):
			response.ParamError(c, err.Error())
		case errors.Is(err, service.ErrOrderNotPaid):
			response.ParamError(c, err.Error())
		default:
			var gwErr *zpay.GatewayError
			if errors.As(err, &gwErr) {
				response.GatewayError(c, "")
				return
			}
			response.ServerError(c, "")
		}
		return
	}

	response.OKData(c, resp)
}

// NotifyZPay 易支付异步回调。网关要求返回纯文本 "success"，
// 其他任何响应体都会触发网关重试。
// POST /api/payment/notify/zpay
func (h *PaymentHandler) NotifyZPay(c *gin.Context) {
	params := collectNotifyParams(c)

	ack, err := h.paymentService.HandleNotify(c.Request.Context(), params)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSign),
			errors.Is(err, service.ErrAmountMismatch):
			c.String(http.StatusBadRequest, "fail")
		case errors.Is(err, service.ErrOrderNotFound):
			c.String(http.StatusNotFound, "fail")
		default:
			c.String(http.StatusInternalServerError, "fail")
		}
		return
	}

	c.String(http.StatusOK, ack)
}

// collectNotifyParams 网关回调可能走 GET query 也可能走 POST form，统一收成 map
func collectNotifyParams(c *gin.Context) map[string]string {
	params := make(map[string]string)
	for k, v := range c.Request.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	if err := c.Request.ParseForm(); err == nil {
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}
	}
	return params
}

// StripeCheckout 创建 Stripe 结账会话
// POST /api/stripe-create-checkout
func (h *PaymentHandler) StripeCheckout(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.StripeCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}
	req.UserID = userID

	resp, err := h.paymentService.CreateStripeCheckout(&req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownPlan),
			errors.Is(err, service.ErrStripeNoPriceID):
			response.ParamError(c, err.Error())
		default:
			response.GatewayError(c, "")
		}
		return
	}

	response.OKData(c, resp)
}

// NotifyStripe Stripe Webhook
// POST /api/payment/notify/stripe
func (h *PaymentHandler) NotifyStripe(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, "fail")
		return
	}

	err = h.paymentService.HandleStripeWebhook(c.Request.Context(),
		payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidSign):
			c.String(http.StatusBadRequest, "fail")
		case errors.Is(err, service.ErrOrderNotFound):
			c.String(http.StatusNotFound, "fail")
		default:
			c.String(http.StatusInternalServerError, "fail")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
