package dto

// AI 功能标识，与配额字段一一对应
const (
	FeatureDailyPlan    = "daily_plan"
	FeatureWeeklyReport = "weekly_report"
	FeatureChat         = "chat"
)

// GenerateTasksRequest AI 任务生成请求
type GenerateTasksRequest struct {
	Prompt  string `json:"prompt" binding:"required,max=2000"`
	Feature string `json:"feature" binding:"omitempty,oneof=daily_plan weekly_report chat"`
	Date    string `json:"date" binding:"omitempty"` // 生成哪一天的日程，默认今天
}

// TaskItem 进度条上的一个任务段
type TaskItem struct {
	Name  string `json:"name"`
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`   // HH:MM
	Color string `json:"color,omitempty"`
	Note  string `json:"note,omitempty"`
}

// GenerateTasksResponse AI 任务生成响应，附带扣减后的剩余配额供客户端缓存
type GenerateTasksResponse struct {
	Success   bool           `json:"success"`
	Tasks     []TaskItem     `json:"tasks"`
	Remaining QuotaRemaining `json:"remaining"`
}
