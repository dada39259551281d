package rollback

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submitflow/submitflow-migrate/src/pkg/backup"
	"github.com/submitflow/submitflow-migrate/src/pkg/store"
	"github.com/submitflow/submitflow-migrate/src/types"
)

// seedStore 建一个带结构的库，写入 n 个部门，返回库路径
func seedStore(t *testing.T, dir string, n int) string {
	t.Helper()
	storePath := filepath.Join(dir, "submitflow.db")

	st, err := store.Open(storePath)
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema())

	tx, err := st.Begin()
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		_, err = tx.Exec(`INSERT INTO departments (code, name, created_at) VALUES (?, ?, ?)`,
			"D"+string(rune('A'+i)), "Department", "2026-01-01T00:00:00Z")
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())
	require.NoError(t, st.Close())
	return storePath
}

func countDepartments(t *testing.T, storePath string) int {
	t.Helper()
	st, err := store.Open(storePath)
	require.NoError(t, err)
	defer st.Close()
	n, err := st.CountRows(types.EntityDepartments)
	require.NoError(t, err)
	return n
}

func TestExecuteRollback_RestoresBackupContent(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := seedStore(t, tmpDir, 2)
	backups := backup.NewManager(storePath, filepath.Join(tmpDir, "backups"), "submitflow", 5)

	// 先备份两行的状态，再往库里多写一行
	backupPath, err := backups.CreateBackup()
	require.NoError(t, err)

	st, err := store.Open(storePath)
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO departments (code, name, created_at) VALUES ('XX', 'Extra', '2026-01-02T00:00:00Z')`)
	require.NoError(t, err)
	require.Equal(t, 3, mustCount(t, st))

	result := New(storePath, backups, st).ExecuteRollback(backupPath, Options{Verify: true, Force: true})

	require.Empty(t, result.Errors)
	assert.True(t, result.Success)
	assert.Equal(t, backupPath, result.BackupUsed)
	assert.NotEmpty(t, result.PreRollbackBackup)
	assert.Contains(t, result.VerifyMessage, "healthy")

	// 回滚后第三行消失
	assert.Equal(t, 2, countDepartments(t, storePath))
	// 回滚前的状态被保留在 pre-rollback 备份里
	assert.FileExists(t, result.PreRollbackBackup)
}

func mustCount(t *testing.T, st *store.Store) int {
	t.Helper()
	n, err := st.CountRows(types.EntityDepartments)
	require.NoError(t, err)
	return n
}

func TestExecuteRollback_RetentionNeverEvictsRestoreTarget(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := seedStore(t, tmpDir, 2)
	// keep=3：目标备份之后再建两份，pre-rollback 备份是第四份，
	// 若 pre-rollback 备份触发清理，最老的目标备份会被删掉
	backups := backup.NewManager(storePath, filepath.Join(tmpDir, "backups"), "submitflow", 3)

	target, err := backups.CreateBackup()
	require.NoError(t, err)
	_, err = backups.CreateBackup()
	require.NoError(t, err)
	_, err = backups.CreateBackup()
	require.NoError(t, err)

	st, err := store.Open(storePath)
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO departments (code, name, created_at) VALUES ('XX', 'Extra', '2026-01-02T00:00:00Z')`)
	require.NoError(t, err)

	result := New(storePath, backups, st).ExecuteRollback(target, Options{Verify: true, Force: true})

	require.Empty(t, result.Errors)
	assert.True(t, result.Success)
	// 被恢复的备份与 pre-rollback 备份都必须完好
	assert.FileExists(t, target)
	assert.FileExists(t, result.PreRollbackBackup)
	assert.Equal(t, 2, countDepartments(t, storePath))
}

func TestExecuteRollback_RequiresForce(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := seedStore(t, tmpDir, 1)
	backups := backup.NewManager(storePath, filepath.Join(tmpDir, "backups"), "submitflow", 5)

	backupPath, err := backups.CreateBackup()
	require.NoError(t, err)

	before, err := os.ReadFile(storePath)
	require.NoError(t, err)

	result := New(storePath, backups, nil).ExecuteRollback(backupPath, Options{Verify: true})

	assert.False(t, result.Success)
	assert.Empty(t, result.Errors)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "--force")

	// 没有确认时库文件一个字节都不能动
	after, err := os.ReadFile(storePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// 也不应产生 pre-rollback 备份
	list, err := backups.ListBackups()
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestExecuteRollback_MissingBackup(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := seedStore(t, tmpDir, 1)
	backups := backup.NewManager(storePath, filepath.Join(tmpDir, "backups"), "submitflow", 5)

	result := New(storePath, backups, nil).ExecuteRollback(
		filepath.Join(tmpDir, "no-such-backup.db"), Options{Force: true})

	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "not found")
}

func TestExecuteRollback_EmptyBackup(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := seedStore(t, tmpDir, 1)
	backups := backup.NewManager(storePath, filepath.Join(tmpDir, "backups"), "submitflow", 5)

	empty := filepath.Join(tmpDir, "empty.db")
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	result := New(storePath, backups, nil).ExecuteRollback(empty, Options{Force: true})

	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "empty")
}

func TestExecuteRollback_RejectsNonSQLiteBackup(t *testing.T) {
	tmpDir := t.TempDir()
	storePath := seedStore(t, tmpDir, 1)
	backups := backup.NewManager(storePath, filepath.Join(tmpDir, "backups"), "submitflow", 5)

	bogus := filepath.Join(tmpDir, "bogus.db")
	require.NoError(t, os.WriteFile(bogus, []byte("this is a text file pretending"), 0644))

	before, err := os.ReadFile(storePath)
	require.NoError(t, err)

	result := New(storePath, backups, nil).ExecuteRollback(bogus, Options{Force: true})

	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "validation failed")

	// 校验失败发生在任何破坏性动作之前
	after, err := os.ReadFile(storePath)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
