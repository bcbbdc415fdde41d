package client

import (
	"context"
	"encoding/json"
	"net/http"
)

// AIGateway 发起配额预检过的任务生成请求。
// 预检被拒时不发起网络请求；AI 调用由用户触发且成本高，失败不做静默重试。
type AIGateway struct {
	auth  *AuthClient
	quota *QuotaGuard
}

func NewAIGateway(auth *AuthClient, quota *QuotaGuard) *AIGateway {
	return &AIGateway{auth: auth, quota: quota}
}

// GenerateTasks 生成任务列表。feature 为空时默认 daily_plan。
func (g *AIGateway) GenerateTasks(ctx context.Context, prompt, feature string) ([]Task, error) {
	if feature == "" {
		feature = FeatureDailyPlan
	}

	if err := g.quota.Preflight(ctx, feature); err != nil {
		return nil, err
	}

	data, err := g.auth.AuthenticatedRequest(ctx, http.MethodPost, "/api/ai-generate-tasks", map[string]string{
		"prompt":  prompt,
		"feature": feature,
	})
	if err != nil {
		return nil, err
	}

	var resp generateTasksResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, bugError("任务生成响应格式异常")
	}
	if !resp.Success {
		return nil, bugError("任务生成失败: " + resp.ErrorMsg)
	}

	// 服务端捎带了扣减后的剩余次数，更新本地缓存
	g.quota.UpdateFromResponse(resp.Remaining)

	return resp.Tasks, nil
}
