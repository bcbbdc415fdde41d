package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gaiya-app/gaiya-cloud/config"
	"github.com/gaiya-app/gaiya-cloud/internal/model/dto"
	"github.com/gaiya-app/gaiya-cloud/internal/pkg/ai"
)

var (
	ErrAIUnavailable = errors.New("AI 服务暂时不可用")
)

const taskSystemPrompt = `你是一个日程规划助手。根据用户的描述生成当天的任务安排。
只输出 JSON 数组，不要输出其他内容。每个元素的格式为：
{"name":"任务名","start":"HH:MM","end":"HH:MM","color":"#RRGGBB","note":"备注"}
时间段不要重叠，按开始时间排序。`

type AIService struct {
	quotaSvc *QuotaService
	client   *ai.Client
	cfg      *config.Config
}

func NewAIService(quotaSvc *QuotaService, client *ai.Client, cfg *config.Config) *AIService {
	return &AIService{
		quotaSvc: quotaSvc,
		client:   client,
		cfg:      cfg,
	}
}

// GenerateTasks 生成日程任务。先扣配额再调模型，失败退还。
func (s *AIService) GenerateTasks(ctx context.Context, userID string, req *dto.GenerateTasksRequest) (*dto.GenerateTasksResponse, error) {
	feature := req.Feature
	if feature == "" {
		feature = dto.FeatureDailyPlan
	}

	if err := s.quotaSvc.CheckQuota(userID, feature); err != nil {
		return nil, err
	}
	if err := s.quotaSvc.UseQuota(userID, feature); err != nil {
		return nil, err
	}

	tasks, err := s.generate(ctx, req)
	if err != nil {
		if refundErr := s.quotaSvc.RefundQuota(userID, feature); refundErr != nil {
			log.Printf("User %s: failed to refund %s quota: %v", userID, feature, refundErr)
		}
		log.Printf("User %s: ai generation failed: %v", userID, err)
		return nil, ErrAIUnavailable
	}

	remaining, err := s.quotaSvc.Remaining(userID)
	if err != nil {
		return nil, err
	}

	return &dto.GenerateTasksResponse{
		Success:   true,
		Tasks:     tasks,
		Remaining: remaining,
	}, nil
}

func (s *AIService) generate(ctx context.Context, req *dto.GenerateTasksRequest) ([]dto.TaskItem, error) {
	date := req.Date
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	userPrompt := fmt.Sprintf("日期：%s\n%s", date, req.Prompt)

	content, err := s.client.Complete(ctx, taskSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	tasks, err := parseTasks(content)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// parseTasks 解析模型输出。模型偶尔会把 JSON 包在代码块里，先剥掉围栏。
func parseTasks(content string) ([]dto.TaskItem, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSuffix(strings.TrimSpace(content), "```")
		content = strings.TrimSpace(content)
	}

	var tasks []dto.TaskItem
	if err := json.Unmarshal([]byte(content), &tasks); err != nil {
		return nil, fmt.Errorf("failed to parse model output: %w", err)
	}
	return tasks, nil
}
