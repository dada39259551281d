// Package backup 负责目标库的备份管理。
// 任何破坏性写入前都必须先拿到一个经过校验的字节级副本。
package backup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/submitflow/submitflow-migrate/src/pkg/store"
	"github.com/submitflow/submitflow-migrate/src/pkg/utils"
)

var (
	// ErrSourceMissing 要备份的库文件不存在
	ErrSourceMissing = errors.New("store file does not exist, nothing to back up")
	// ErrBackupInvalid 备份文件校验失败
	ErrBackupInvalid = errors.New("backup verification failed")
)

// Manager 备份管理器
type Manager struct {
	storePath string
	folder    string
	prefix    string
	keep      int
	logger    *logrus.Entry
}

// NewManager 创建备份管理器。
// prefix 为备份文件名前缀，keep 为保留数量上限（<=0 不清理）
func NewManager(storePath, folder, prefix string, keep int) *Manager {
	return &Manager{
		storePath: storePath,
		folder:    folder,
		prefix:    prefix,
		keep:      keep,
		logger: logrus.WithFields(logrus.Fields{
			"component":  "backup",
			"store_path": storePath,
		}),
	}
}

// backupName 规范备份文件名：<prefix>-backup-<时间戳>.db
func (m *Manager) backupName(t time.Time) string {
	return fmt.Sprintf("%s-backup-%s.db", m.prefix, t.UTC().Format("2006-01-02T15-04-05Z"))
}

// CreateBackup 复制目标库到备份目录并校验格式头，返回备份路径。
// 绝不覆盖已有备份；校验失败的备份会被删掉并报错
func (m *Manager) CreateBackup() (string, error) {
	return m.createBackup(true)
}

// CreateBackupNoCleanup 同 CreateBackup，但跳过保留策略清理。
// 回滚前的备份必须走这里：清理可能恰好删掉即将被恢复的那个备份
func (m *Manager) CreateBackupNoCleanup() (string, error) {
	return m.createBackup(false)
}

func (m *Manager) createBackup(cleanup bool) (string, error) {
	if !utils.FileExists(m.storePath) {
		return "", ErrSourceMissing
	}

	if err := os.MkdirAll(m.folder, 0755); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	backupPath := filepath.Join(m.folder, m.backupName(time.Now()))
	for i := 1; utils.FileExists(backupPath); i++ {
		// 同一秒内的第二次备份：追加序号而不是覆盖
		backupPath = filepath.Join(m.folder,
			strings.TrimSuffix(m.backupName(time.Now()), ".db")+fmt.Sprintf("-%d.db", i))
	}

	if err := utils.CopyFile(m.storePath, backupPath); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	if err := m.VerifyBackup(backupPath); err != nil {
		os.Remove(backupPath)
		return "", err
	}

	// 清理旧备份（清理失败不影响主流程）
	if cleanup {
		_ = m.CleanupOldBackups()
	}

	m.logger.WithField("backup_path", backupPath).Info("backup created")
	return backupPath, nil
}

// VerifyBackup 校验备份：非空、与源文件等长、SQLite 格式头正确
func (m *Manager) VerifyBackup(backupPath string) error {
	size := utils.FileSize(backupPath)
	if size == 0 {
		return fmt.Errorf("%w: %s is empty", ErrBackupInvalid, backupPath)
	}
	if srcSize := utils.FileSize(m.storePath); srcSize != 0 && size != srcSize {
		return fmt.Errorf("%w: %s is %d bytes, store is %d bytes",
			ErrBackupInvalid, backupPath, size, srcSize)
	}
	if err := store.ValidateHeader(backupPath); err != nil {
		return fmt.Errorf("%w: %v", ErrBackupInvalid, err)
	}
	return nil
}

// ListBackups 列出备份目录中本库的所有备份，按时间排序（最新的在前）
func (m *Manager) ListBackups() ([]string, error) {
	entries, err := os.ReadDir(m.folder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	pattern := m.prefix + "-backup-"
	var backups []string
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() && strings.HasPrefix(name, pattern) && strings.HasSuffix(name, ".db") {
			backups = append(backups, filepath.Join(m.folder, name))
		}
	}

	sort.Slice(backups, func(i, j int) bool {
		ti, ni := m.backupSortKey(backups[i])
		tj, nj := m.backupSortKey(backups[j])
		if ti != tj {
			return ti > tj
		}
		return ni > nj
	})
	return backups, nil
}

// backupSortKey 解析备份文件名中的时间戳与同秒序号。
// 纯字典序会把 <ts>.db 排在 <ts>-2.db 前面（'-' < '.'），
// 而带序号的那个才是同一秒里更晚的备份
func (m *Manager) backupSortKey(path string) (string, int) {
	base := strings.TrimSuffix(filepath.Base(path), ".db")
	rest := strings.TrimPrefix(base, m.prefix+"-backup-")
	if i := strings.Index(rest, "Z-"); i >= 0 {
		if n, err := strconv.Atoi(rest[i+2:]); err == nil {
			return rest[:i+1], n
		}
	}
	return rest, 0
}

// GetLatestBackup 返回最新备份路径，没有备份时返回空串
func (m *Manager) GetLatestBackup() (string, error) {
	backups, err := m.ListBackups()
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", nil
	}
	return backups[0], nil
}

// CleanupOldBackups 清理旧备份，保留最近的 keep 个
func (m *Manager) CleanupOldBackups() error {
	if m.keep <= 0 {
		return nil
	}
	backups, err := m.ListBackups()
	if err != nil {
		return err
	}
	if len(backups) <= m.keep {
		return nil
	}
	for _, b := range backups[m.keep:] {
		if err := os.Remove(b); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove old backup %s: %w", b, err)
		}
	}
	return nil
}
