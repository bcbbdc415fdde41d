package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// 桌面端约定的扁平响应：成功为 {success:true, ...}，失败为 {success:false, error:...}。
// 认证失败必须是 HTTP 401，客户端的刷新重试依赖这个状态码。

// OK 成功响应，payload 中的字段平铺在响应体里
func OK(c *gin.Context, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(http.StatusOK, body)
}

// OKData 成功响应（已带 success 字段的 DTO 直接序列化）
func OKData(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, data)
}

// Fail 错误响应
func Fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// ParamError 参数错误
func ParamError(c *gin.Context, message string) {
	if message == "" {
		message = "参数错误"
	}
	Fail(c, http.StatusBadRequest, message)
}

// AuthError 认证失败
func AuthError(c *gin.Context, message string) {
	if message == "" {
		message = "认证失败"
	}
	Fail(c, http.StatusUnauthorized, message)
}

// NotFoundError 资源不存在
func NotFoundError(c *gin.Context, message string) {
	if message == "" {
		message = "资源不存在"
	}
	Fail(c, http.StatusNotFound, message)
}

// QuotaError 配额不足
func QuotaError(c *gin.Context, message string) {
	if message == "" {
		message = "配额已用完"
	}
	Fail(c, http.StatusTooManyRequests, message)
}

// GatewayError 支付网关拒绝
func GatewayError(c *gin.Context, message string) {
	if message == "" {
		message = "支付网关处理失败，请稍后重试"
	}
	Fail(c, http.StatusBadGateway, message)
}

// ServerError 服务器错误
func ServerError(c *gin.Context, message string) {
	if message == "" {
		message = "服务器内部错误"
	}
	Fail(c, http.StatusInternalServerError, message)
}
