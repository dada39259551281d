package email

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/submitflow/submitflow-migrate/src/configs"
)

// SendEmail 通过 SMTP 发送一封纯文本邮件
func SendEmail(cfg *configs.EmailNotify, subject, body string) error {
	if cfg == nil || !cfg.Enable {
		return fmt.Errorf("email notification is not enabled")
	}

	m := gomail.NewMessage()
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	m.SetHeader("From", from)
	m.SetHeader("To", cfg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.Username, cfg.Password)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
