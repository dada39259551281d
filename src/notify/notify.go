// Package notify 在迁移结束后把结果摘要发给配置的通知渠道。
// 通知失败只记日志，永远不影响迁移本身的结果。
package notify

import (
	"fmt"

	"github.com/submitflow/submitflow-migrate/src/configs"
	blog "github.com/submitflow/submitflow-migrate/src/log"
	"github.com/submitflow/submitflow-migrate/src/notify/email"
)

// SendMigrationSummary 发送迁移结果摘要。
// success 决定主题前缀，body 为已经格式化好的文本摘要
func SendMigrationSummary(cfg *configs.Config, success bool, runID, body string) {
	if cfg == nil || !cfg.Notify.Email.Enable {
		return
	}

	verdict := "SUCCEEDED"
	if !success {
		verdict = "FAILED"
	}
	subject := fmt.Sprintf("[submitflow-migrate] migration %s (%s)", verdict, runID)

	if err := email.SendEmail(&cfg.Notify.Email, subject, body); err != nil {
		blog.GetLogger().WithError(err).Error("Failed to send migration summary email")
	}
}
