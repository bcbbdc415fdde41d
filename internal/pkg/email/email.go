package email

import (
	"fmt"
	"net/smtp"

	"github.com/gaiya-app/gaiya-cloud/config"
)

// Service 基于 SMTP 的邮件发送
type Service struct {
	cfg *config.EmailConfig
}

func NewService(cfg *config.EmailConfig) *Service {
	return &Service{cfg: cfg}
}

// SendPasswordReset 发送密码重置邮件
func (s *Service) SendPasswordReset(to, resetLink string) error {
	subject := "GaiYa - 重置密码"
	body := fmt.Sprintf(`
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
	<h2 style="color: #333;">重置密码</h2>
	<p>我们收到了重置你 GaiYa 账号密码的请求。点击下面的按钮设置新密码：</p>
	<p style="margin: 24px 0;">
		<a href="%s" style="background-color: #4F46E5; color: white; padding: 12px 24px;
			text-decoration: none; border-radius: 6px; display: inline-block;">重置密码</a>
	</p>
	<p style="color: #666; font-size: 14px;">如果按钮无法点击，请复制以下链接到浏览器打开：</p>
	<p style="color: #666; font-size: 13px; word-break: break-all;">%s</p>
	<p style="color: #999; font-size: 13px;">链接有效期为 30 分钟。如果这不是你本人的操作，请忽略此邮件，你的密码不会被修改。</p>
</body>
</html>`, resetLink, resetLink)

	return s.sendHTML(to, subject, body)
}

// SendWelcome 注册成功后的欢迎邮件
func (s *Service) SendWelcome(to, username string) error {
	subject := "欢迎使用 GaiYa"
	body := fmt.Sprintf(`
<html>
<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
	<h2 style="color: #333;">你好，%s</h2>
	<p>欢迎使用 GaiYa。桌面端登录后即可开始生成每日进度计划。</p>
	<p style="color: #999; font-size: 13px;">此邮件由系统自动发送，请勿回复。</p>
</body>
</html>`, username)

	return s.sendHTML(to, subject, body)
}

func (s *Service) sendHTML(to, subject, body string) error {
	headers := map[string]string{
		"From":         s.cfg.From,
		"To":           to,
		"Subject":      subject,
		"MIME-Version": "1.0",
		"Content-Type": `text/html; charset="UTF-8"`,
	}

	msg := ""
	for k, v := range headers {
		msg += fmt.Sprintf("%s: %s\r\n", k, v)
	}
	msg += "\r\n" + body

	addr := fmt.Sprintf("%s:%d", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.SMTPHost)

	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, []byte(msg))
}
