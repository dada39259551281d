// Package rollback 把一个备份恢复为在用的目标库。
// 流程是一个严格的状态机：校验备份 → 确认操作者意图 → 关闭所有句柄 →
// 备份当前库 → 覆盖 → 重开 → 快速验证。关闭句柄之后的失败对本次运行
// 是致命的，但两份备份都会完好留下供人工恢复。
package rollback

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/submitflow/submitflow-migrate/src/pkg/backup"
	"github.com/submitflow/submitflow-migrate/src/pkg/store"
	"github.com/submitflow/submitflow-migrate/src/pkg/utils"
	"github.com/submitflow/submitflow-migrate/src/pkg/verifier"
)

// ErrConfirmationRequired 未给 force 即执行回滚。
// 没有显式的操作者意图绝不视为同意，这个错误由设计保证不可被绕过
var ErrConfirmationRequired = errors.New("rollback requires explicit confirmation (use --force)")

// Options 回滚参数
type Options struct {
	// Verify 恢复后执行快速验证
	Verify bool
	// Force 操作者显式确认
	Force bool
}

// Result 回滚结果
type Result struct {
	Success           bool          `json:"success"`
	BackupUsed        string        `json:"backup_used"`
	PreRollbackBackup string        `json:"pre_rollback_backup,omitempty"`
	VerifyMessage     string        `json:"verify_message,omitempty"`
	Duration          time.Duration `json:"duration"`
	Errors            []string      `json:"errors,omitempty"`
	Warnings          []string      `json:"warnings,omitempty"`
}

// Tool 回滚工具。live 为当前打开的库句柄（可为 nil），
// 覆盖文件前一定先关掉它，防止旧句柄写进刚恢复的文件
type Tool struct {
	storePath string
	backups   *backup.Manager
	live      *store.Store
	logger    *logrus.Entry
}

// New 创建回滚工具
func New(storePath string, backups *backup.Manager, live *store.Store) *Tool {
	return &Tool{
		storePath: storePath,
		backups:   backups,
		live:      live,
		logger: logrus.WithFields(logrus.Fields{
			"component":  "rollback",
			"store_path": storePath,
		}),
	}
}

// ExecuteRollback 执行回滚状态机
func (t *Tool) ExecuteRollback(backupFile string, opts Options) *Result {
	start := time.Now()
	result := &Result{BackupUsed: backupFile}

	// 1. 校验备份：存在、非空、格式头正确
	if !utils.FileExists(backupFile) {
		result.Errors = append(result.Errors, fmt.Sprintf("backup file not found: %s", backupFile))
		result.Duration = time.Since(start)
		return result
	}
	if utils.FileSize(backupFile) == 0 {
		result.Errors = append(result.Errors, fmt.Sprintf("backup file is empty: %s", backupFile))
		result.Duration = time.Since(start)
		return result
	}
	if err := store.ValidateHeader(backupFile); err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("backup validation failed: %v", err))
		result.Duration = time.Since(start)
		return result
	}

	// 2. 没有显式确认就在动任何状态之前停下
	if !opts.Force {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("rollback cancelled: %v", ErrConfirmationRequired))
		result.Duration = time.Since(start)
		t.logger.Warn("rollback cancelled, --force not given")
		return result
	}

	// 3. 关闭所有在用句柄
	if t.live != nil {
		if err := t.live.Close(); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to close live store: %v", err))
			result.Duration = time.Since(start)
			return result
		}
		t.live = nil
	}

	// 4. 把当前库再备份一份（pre-rollback），此后两份备份都不再动。
	// 这一步必须跳过保留策略清理，否则清理可能删掉正要恢复的那个备份
	if utils.FileExists(t.storePath) {
		preBackup, err := t.backups.CreateBackupNoCleanup()
		if err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("failed to create pre-rollback backup: %v", err))
			result.Duration = time.Since(start)
			return result
		}
		result.PreRollbackBackup = preBackup
		t.logger.WithField("pre_rollback_backup", preBackup).Info("current store backed up")
	}

	// 5. 用选中的备份覆盖在用库文件
	if err := utils.CopyFile(backupFile, t.storePath); err != nil {
		msg := fmt.Sprintf("failed to restore backup over store: %v", err)
		// 只在两份备份确实都在时才这么说
		if utils.FileExists(backupFile) &&
			(result.PreRollbackBackup == "" || utils.FileExists(result.PreRollbackBackup)) {
			msg += fmt.Sprintf(" (both backups are intact: %s, %s)", backupFile, result.PreRollbackBackup)
		}
		result.Errors = append(result.Errors, msg)
		result.Duration = time.Since(start)
		return result
	}

	// 6. 重开句柄，按需快速验证
	st, err := store.Open(t.storePath)
	if err != nil {
		result.Errors = append(result.Errors,
			fmt.Sprintf("failed to reopen store after restore: %v", err))
		result.Duration = time.Since(start)
		return result
	}
	defer st.Close()

	if opts.Verify {
		ok, msg := verifier.New(st).QuickVerify()
		result.VerifyMessage = msg
		if !ok {
			result.Errors = append(result.Errors,
				fmt.Sprintf("post-rollback verification failed: %s", msg))
			result.Duration = time.Since(start)
			return result
		}
	}

	result.Success = true
	result.Duration = time.Since(start)
	t.logger.WithFields(logrus.Fields{
		"backup_used": backupFile,
		"duration":    result.Duration,
	}).Info("rollback completed")
	return result
}
