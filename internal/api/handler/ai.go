package handler

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/gaiya-app/gaiya-cloud/internal/api/middleware"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/response"
	"github.com/gaiya-app/gaiya-cloud/internal/service"
)

type AIHandler struct {
	aiService *service.AIService
}

func NewAIHandler(aiService *service.AIService) *AIHandler {
	return &AIHandler{
		aiService: aiService,
	}
}

// GenerateTasks 生成日程任务
// POST /api/ai-generate-tasks
func (h *AIHandler) GenerateTasks(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.AuthError(c, "")
		return
	}

	var req dto.GenerateTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	resp, err := h.aiService.GenerateTasks(c.Request.Context(), userID, &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrQuotaExceeded):
			response.QuotaError(c, err.Error())
		case errors.Is(err, service.ErrUnknownFeature):
			response.ParamError(c, err.Error())
		case errors.Is(err, service.ErrAIUnavailable):
			response.GatewayError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	response.OKData(c, resp)
}
