package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	ZPay         ZPayConfig         `mapstructure:"zpay"`
	Stripe       StripeConfig       `mapstructure:"stripe"`
	OAuth        OAuthConfig        `mapstructure:"oauth"`
	Queue        QueueConfig        `mapstructure:"queue"`
	CORS         CORSConfig         `mapstructure:"cors"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	AI           AIConfig           `mapstructure:"ai"`
	Email        EmailConfig        `mapstructure:"email"`
}

type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`
	PublicURL string `mapstructure:"public_url"` // 对外地址，用于拼 notify_url / return_url
}

type DatabaseConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Username     string `mapstructure:"username"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type JWTConfig struct {
	Secret             string `mapstructure:"secret"`
	AccessExpireHours  int    `mapstructure:"access_expire_hours"`
	RefreshExpireHours int    `mapstructure:"refresh_expire_hours"`
}

// ZPayConfig 易支付（Z-Pay 兼容）网关配置。PID/PKey 只存在于服务端，绝不下发客户端。
type ZPayConfig struct {
	Gateway string `mapstructure:"gateway"`
	PID     string `mapstructure:"pid"`
	PKey    string `mapstructure:"pkey"`
	CID     string `mapstructure:"cid"` // 可选的通道固定路由，留空走网关默认
	Timeout int    `mapstructure:"timeout"`
}

type StripeConfig struct {
	SecretKey     string            `mapstructure:"secret_key"`
	WebhookSecret string            `mapstructure:"webhook_secret"`
	SuccessURL    string            `mapstructure:"success_url"`
	CancelURL     string            `mapstructure:"cancel_url"`
	PriceIDs      map[string]string `mapstructure:"price_ids"` // plan_type -> stripe price id
}

type OAuthConfig struct {
	Github GithubOAuthConfig `mapstructure:"github"`
}

type GithubOAuthConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type QueueConfig struct {
	ReconcileQueue string `mapstructure:"reconcile_queue"`
	MaxWorkers     int    `mapstructure:"max_workers"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type SubscriptionConfig struct {
	Plans           map[string]PlanConfig  `mapstructure:"plans"`
	Quotas          map[string]QuotaLevels `mapstructure:"quotas"`
	WeeklyResetDay  int                    `mapstructure:"weekly_reset_day"` // time.Weekday，默认 1（周一）
	OrderExpireHour int                    `mapstructure:"order_expire_hour"`
}

// PlanConfig 套餐目录项。价格以服务端配置为准，客户端副本仅做展示。
type PlanConfig struct {
	DisplayName  string  `mapstructure:"display_name"`
	Price        float64 `mapstructure:"price"`
	DurationDays int     `mapstructure:"duration_days"` // 0 表示永久
	Tier         string  `mapstructure:"tier"`
}

type QuotaLevels struct {
	DailyPlan    int `mapstructure:"daily_plan"`
	WeeklyReport int `mapstructure:"weekly_report"`
	Chat         int `mapstructure:"chat"`
}

// EmailConfig SMTP 发信配置。smtp_host 留空时不发邮件，找回密码流程降级为只记日志。
type EmailConfig struct {
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type AIConfig struct {
	Provider string `mapstructure:"provider"`
	APIKey   string `mapstructure:"api_key"`
	Endpoint string `mapstructure:"endpoint"`
	Model    string `mapstructure:"model"`
	Timeout  int    `mapstructure:"timeout"`
}

func Load(configPath string) (*Config, error) {
	// 优先尝试读取 config.local.yaml（包含真实密钥，不提交到git）
	dir := filepath.Dir(configPath)
	localConfigPath := filepath.Join(dir, "config.local.yaml")

	// 检查 config.local.yaml 是否存在
	if _, err := os.Stat(localConfigPath); err == nil {
		configPath = localConfigPath
	}

	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	// 环境变量覆盖（ZPAY_PID / ZPAY_PKEY / JWT_SECRET 等）
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// applyDefaults 填充缺省的套餐目录、配额表与过期参数。
func applyDefaults(cfg *Config) {
	if cfg.Subscription.Plans == nil {
		cfg.Subscription.Plans = DefaultPlans()
	}
	if cfg.Subscription.Quotas == nil {
		cfg.Subscription.Quotas = DefaultQuotas()
	}
	if cfg.Subscription.WeeklyResetDay == 0 {
		cfg.Subscription.WeeklyResetDay = 1 // 周一
	}
	if cfg.Subscription.OrderExpireHour == 0 {
		cfg.Subscription.OrderExpireHour = 2
	}
	if cfg.JWT.AccessExpireHours == 0 {
		cfg.JWT.AccessExpireHours = 1
	}
	if cfg.JWT.RefreshExpireHours == 0 {
		cfg.JWT.RefreshExpireHours = 24 * 30
	}
	if cfg.ZPay.Timeout == 0 {
		cfg.ZPay.Timeout = 10
	}
	if cfg.Queue.ReconcileQueue == "" {
		cfg.Queue.ReconcileQueue = "payment_reconcile"
	}
}

// DefaultPlans 套餐目录的权威取值。
func DefaultPlans() map[string]PlanConfig {
	return map[string]PlanConfig{
		"pro_monthly": {DisplayName: "专业版·月付", Price: 29.00, DurationDays: 30, Tier: "pro"},
		"pro_yearly":  {DisplayName: "专业版·年付", Price: 199.00, DurationDays: 365, Tier: "pro"},
		"lifetime":    {DisplayName: "终身会员", Price: 599.00, DurationDays: 0, Tier: "lifetime"},
	}
}

// DefaultQuotas 各等级默认配额。
func DefaultQuotas() map[string]QuotaLevels {
	return map[string]QuotaLevels{
		"free":     {DailyPlan: 3, WeeklyReport: 1, Chat: 10},
		"pro":      {DailyPlan: 50, WeeklyReport: 10, Chat: 100},
		"lifetime": {DailyPlan: 50, WeeklyReport: 10, Chat: 100},
	}
}
