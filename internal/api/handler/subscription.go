package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/gaiya-app/gaiya-cloud/internal/api/middleware"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/response"
	"github.com/gaiya-app/gaiya-cloud/internal/service"
)

type SubscriptionHandler struct {
	subService   *service.SubscriptionService
	quotaService *service.QuotaService
}

func NewSubscriptionHandler(subService *service.SubscriptionService, quotaService *service.QuotaService) *SubscriptionHandler {
	return &SubscriptionHandler{
		subService:   subService,
		quotaService: quotaService,
	}
}

// GetStatus 查询订阅状态
// GET /api/subscription-status
func (h *SubscriptionHandler) GetStatus(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	resp, err := h.subService.GetStatus(userID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUserNotFound):
			response.NotFoundError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.OKData(c, resp)
}

// GetQuotaStatus 查询各功能剩余配额
// GET /api/quota-status
func (h *SubscriptionHandler) GetQuotaStatus(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	resp, err := h.quotaService.GetQuotaStatus(userID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.OKData(c, resp)
}
