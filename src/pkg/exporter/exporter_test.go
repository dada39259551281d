package exporter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/submitflow/submitflow-migrate/src/pkg/snapshot"
	"github.com/submitflow/submitflow-migrate/src/types"
)

// fakeReader 内存里的源库
type fakeReader struct {
	departments   []types.Department
	users         []types.User
	submissions   []types.Submission
	notifications []types.Notification
	auditLogs     []types.AuditLog
	failOn        types.EntityType
	closed        bool
}

var errSourceDown = errors.New("source connection lost")

func (f *fakeReader) ListDepartments(ctx context.Context) ([]types.Department, error) {
	if f.failOn == types.EntityDepartments {
		return nil, errSourceDown
	}
	return f.departments, nil
}

func (f *fakeReader) ListUsers(ctx context.Context) ([]types.User, error) {
	if f.failOn == types.EntityUsers {
		return nil, errSourceDown
	}
	return f.users, nil
}

func (f *fakeReader) ListSubmissions(ctx context.Context) ([]types.Submission, error) {
	if f.failOn == types.EntitySubmissions {
		return nil, errSourceDown
	}
	return f.submissions, nil
}

func (f *fakeReader) ListNotifications(ctx context.Context) ([]types.Notification, error) {
	if f.failOn == types.EntityNotifications {
		return nil, errSourceDown
	}
	return f.notifications, nil
}

func (f *fakeReader) ListAuditLogs(ctx context.Context) ([]types.AuditLog, error) {
	if f.failOn == types.EntityAuditLogs {
		return nil, errSourceDown
	}
	return f.auditLogs, nil
}

func (f *fakeReader) Close() { f.closed = true }

func populatedReader() *fakeReader {
	return &fakeReader{
		departments: []types.Department{
			{Code: "ENG", Name: "Engineering", CreatedAt: "2026-01-01T00:00:00Z"},
			{Code: "HR", Name: "People", CreatedAt: "2026-01-01T00:00:00Z"},
		},
		users: []types.User{
			{EmployeeID: "E001", Email: "a@example.com", Role: types.RoleEmployee,
				DepartmentCode: "ENG", Active: true, CreatedAt: "2026-01-02T00:00:00Z"},
		},
		submissions: []types.Submission{
			{Reference: "SUB-1", EmployeeID: "E001", Status: types.StatusSubmitted,
				Payload: `{"amount": 12}`, SubmittedAt: "2026-01-03T00:00:00Z"},
		},
		notifications: []types.Notification{
			{LegacyID: "9c5e0a52-1111-4222-8333-abcdefabcdef", EmployeeID: "E001",
				Kind: "reminder", Message: "hi", CreatedAt: "2026-01-04T00:00:00Z"},
		},
		auditLogs: []types.AuditLog{
			{LegacyID: "0d1e2f3a-4444-4555-8666-abcdefabcdef", ActorEmployeeID: "E001",
				Action: "create", EntityType: "submission", EntityRef: "SUB-1",
				CreatedAt: "2026-01-05T00:00:00Z"},
		},
	}
}

func TestExportAll_WritesReadableSnapshot(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "exports")
	reader := populatedReader()

	path, snap, err := New(reader, "supabase", outDir).ExportAll(context.Background())
	require.NoError(t, err)
	require.NotNil(t, snap)

	assert.Contains(t, filepath.Base(path), "supabase-transformed-export-")
	assert.Equal(t, 6, snap.TotalRecords())

	// 写出的文件必须能被读回并通过校验
	loaded, err := snapshot.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.DeclaredCount(types.EntityDepartments))
	assert.Equal(t, 1, loaded.DeclaredCount(types.EntityUsers))
	assert.Equal(t, snap.TotalRecords(), loaded.TotalRecords())
	assert.Equal(t, "supabase", loaded.Source)
}

func TestExportAll_SealsCountsFromData(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "exports")
	reader := populatedReader()

	_, snap, err := New(reader, "supabase", outDir).ExportAll(context.Background())
	require.NoError(t, err)

	for _, et := range types.ImportOrder {
		assert.Equal(t, snap.ActualCount(et), snap.DeclaredCount(et), "counts for %s", et)
	}
}

func TestExportAll_FailsWholeExportOnReadError(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "exports")
	reader := populatedReader()
	reader.failOn = types.EntitySubmissions

	path, snap, err := New(reader, "supabase", outDir).ExportAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errSourceDown)
	assert.Contains(t, err.Error(), "submissions")
	assert.Empty(t, path)
	assert.Nil(t, snap)

	// 失败的导出不能留下任何文件
	matches, globErr := filepath.Glob(filepath.Join(outDir, "*"))
	require.NoError(t, globErr)
	assert.Empty(t, matches)
}

func TestExportAll_EmptySourceStillExports(t *testing.T) {
	outDir := filepath.Join(t.TempDir(), "exports")

	path, snap, err := New(&fakeReader{}, "supabase", outDir).ExportAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, snap.TotalRecords())

	loaded, err := snapshot.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.TotalRecords())
}
