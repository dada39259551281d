package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submitflow/submitflow-migrate/src/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema())
	t.Cleanup(func() { st.Close() })
	return st
}

func TestStore_EnsureSchemaCreatesAllTables(t *testing.T) {
	st := openTestStore(t)

	for _, et := range types.ImportOrder {
		n, err := st.CountRows(et)
		require.NoError(t, err, "table %s should exist", et)
		assert.Equal(t, 0, n)
	}
}

func TestStore_EnsureSchemaIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	assert.NoError(t, st.EnsureSchema())
}

func TestStore_TableColumns(t *testing.T) {
	st := openTestStore(t)

	cols, err := st.TableColumns(types.EntityUsers)
	require.NoError(t, err)
	assert.Contains(t, cols, "employee_id")
	assert.Contains(t, cols, "department_code")
}

func TestStore_ExistingKeys(t *testing.T) {
	st := openTestStore(t)

	tx, err := st.Begin()
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO departments (code, name, created_at) VALUES ('ENG', 'Engineering', '2026-01-01T00:00:00Z')`)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	keys, err := st.ExistingKeys(types.EntityDepartments)
	require.NoError(t, err)
	assert.Contains(t, keys, "ENG")
	assert.Len(t, keys, 1)
}

func TestStore_ForeignKeysEnforced(t *testing.T) {
	st := openTestStore(t)

	tx, err := st.Begin()
	require.NoError(t, err)
	_, err = tx.Exec(`INSERT INTO users (employee_id, email, role, department_code, active, created_at)
		VALUES ('E001', 'a@example.com', 'employee', 'NOPE', 1, '2026-01-01T00:00:00Z')`)
	assert.Error(t, err)
	tx.Rollback()
}

func TestValidateHeader(t *testing.T) {
	st := openTestStore(t)
	path := st.Path()
	// 确保文件头已经落盘
	require.NoError(t, st.Close())

	assert.NoError(t, ValidateHeader(path))
}

func TestValidateHeader_RejectsNonSQLite(t *testing.T) {
	tmpDir := t.TempDir()

	textFile := filepath.Join(tmpDir, "notes.txt")
	require.NoError(t, os.WriteFile(textFile, []byte("definitely not a database"), 0644))
	assert.ErrorIs(t, ValidateHeader(textFile), ErrNotSQLite)

	shortFile := filepath.Join(tmpDir, "short.db")
	require.NoError(t, os.WriteFile(shortFile, []byte("abc"), 0644))
	assert.ErrorIs(t, ValidateHeader(shortFile), ErrNotSQLite)
}

func TestNaturalKeyColumn(t *testing.T) {
	assert.Equal(t, "code", NaturalKeyColumn(types.EntityDepartments))
	assert.Equal(t, "employee_id", NaturalKeyColumn(types.EntityUsers))
	assert.Equal(t, "reference", NaturalKeyColumn(types.EntitySubmissions))
	assert.Equal(t, "legacy_id", NaturalKeyColumn(types.EntityNotifications))
	assert.Equal(t, "legacy_id", NaturalKeyColumn(types.EntityAuditLogs))
}
