package verifier

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submitflow/submitflow-migrate/src/pkg/backup"
	"github.com/submitflow/submitflow-migrate/src/pkg/importer"
	"github.com/submitflow/submitflow-migrate/src/pkg/snapshot"
	"github.com/submitflow/submitflow-migrate/src/pkg/store"
	"github.com/submitflow/submitflow-migrate/src/types"
)

func importedStore(t *testing.T) (*store.Store, *snapshot.Snapshot, string) {
	t.Helper()
	tmpDir := t.TempDir()
	storePath := filepath.Join(tmpDir, "submitflow.db")

	st, err := store.Open(storePath)
	require.NoError(t, err)
	require.NoError(t, st.EnsureSchema())
	t.Cleanup(func() { st.Close() })

	s := snapshot.New("supabase")
	s.Departments = []types.Department{
		{Code: "ENG", Name: "Engineering", CreatedAt: "2026-01-01T00:00:00Z"},
	}
	s.Users = []types.User{
		{EmployeeID: "E001", Email: "a@example.com", Role: types.RoleEmployee,
			DepartmentCode: "ENG", Active: true, CreatedAt: "2026-01-02T00:00:00Z"},
	}
	s.Submissions = []types.Submission{
		{Reference: "SUB-1", EmployeeID: "E001", Status: types.StatusSubmitted,
			Payload: `{"field": "value"}`, SubmittedAt: "2026-01-03T00:00:00Z"},
	}
	path, err := s.WriteFile(filepath.Join(tmpDir, "exports"))
	require.NoError(t, err)

	backups := backup.NewManager(storePath, filepath.Join(tmpDir, "backups"), "submitflow", 5)
	opts := importer.DefaultOptions()
	opts.CreateBackup = false
	result := importer.New(st, backups).ImportFromFile(path, opts)
	require.True(t, result.Success)

	return st, s, tmpDir
}

func TestVerifyMigration_CleanImportPasses(t *testing.T) {
	st, snap, _ := importedStore(t)

	result := New(st).VerifyMigration(snap)

	assert.True(t, result.Success)
	assert.Equal(t, 0, result.IntegrityIssues)
	assert.Equal(t, 3, result.TotalRecords)
	assert.Empty(t, result.Errors)
}

func TestVerifyMigration_DetectsCountShortfall(t *testing.T) {
	st, snap, _ := importedStore(t)

	// 快照声明的比库里实际有的多
	snap.Counts[string(types.EntityUsers)] = 5

	result := New(st).VerifyMigration(snap)
	assert.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0], "users")
}

func TestVerifyMigration_DetectsDanglingReference(t *testing.T) {
	st, snap, _ := importedStore(t)

	// 绕过外键开关制造一条悬挂引用
	_, err := st.DB().Exec("PRAGMA foreign_keys = OFF")
	require.NoError(t, err)
	_, err = st.DB().Exec(`INSERT INTO submissions (reference, employee_id, status, submitted_at)
		VALUES ('SUB-GHOST', 'E404', 'submitted', '2026-01-03T00:00:00Z')`)
	require.NoError(t, err)
	_, err = st.DB().Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)

	result := New(st).VerifyMigration(snap)
	assert.False(t, result.Success)
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "dangling") && strings.Contains(e, "submissions") {
			found = true
		}
	}
	assert.True(t, found, "expected a dangling reference error, got %v", result.Errors)
}

func TestVerifyMigration_BadPayloadIsIntegrityIssue(t *testing.T) {
	st, snap, _ := importedStore(t)

	_, err := st.DB().Exec(`UPDATE submissions SET payload = '{broken json' WHERE reference = 'SUB-1'`)
	require.NoError(t, err)

	result := New(st).VerifyMigration(snap)
	assert.False(t, result.Success)
}

func TestVerifyMigration_NilSnapshotOnlyChecksStore(t *testing.T) {
	st, _, _ := importedStore(t)

	result := New(st).VerifyMigration(nil)
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.TotalRecords)
}

func TestQuickVerify(t *testing.T) {
	st, _, _ := importedStore(t)

	ok, msg := New(st).QuickVerify()
	assert.True(t, ok)
	assert.Contains(t, msg, "healthy")
}

func TestWriteReport(t *testing.T) {
	_, _, tmpDir := importedStore(t)

	result := &Result{
		Success:         false,
		TotalRecords:    3,
		IntegrityIssues: 1,
		Errors:          []string{"users has 1 rows but snapshot declares 5"},
		Warnings:        []string{"optional index idx_users_department_code is missing"},
	}

	path, err := WriteReport(tmpDir, result)
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(path), "migration-verification-")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(content)
	assert.Contains(t, text, "Result: FAIL")
	assert.Contains(t, text, "snapshot declares 5")
	assert.Contains(t, text, "Warnings:")
}
