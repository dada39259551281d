package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestImportOrder_ParentsBeforeChildren(t *testing.T) {
	pos := make(map[EntityType]int, len(ImportOrder))
	for i, et := range ImportOrder {
		pos[et] = i
	}

	assert.Len(t, ImportOrder, 5)
	assert.Less(t, pos[EntityDepartments], pos[EntityUsers])
	assert.Less(t, pos[EntityUsers], pos[EntitySubmissions])
	assert.Less(t, pos[EntityUsers], pos[EntityNotifications])
	assert.Less(t, pos[EntityUsers], pos[EntityAuditLogs])
}

func TestEnums_IsValid(t *testing.T) {
	assert.True(t, RoleEmployee.IsValid())
	assert.True(t, RoleManager.IsValid())
	assert.True(t, RoleAdmin.IsValid())
	assert.False(t, UserRole("superuser").IsValid())
	assert.False(t, UserRole("").IsValid())

	assert.True(t, StatusDraft.IsValid())
	assert.True(t, StatusRejected.IsValid())
	assert.False(t, SubmissionStatus("pending").IsValid())

	assert.True(t, KindReminder.IsValid())
	assert.False(t, NotificationKind("newsletter").IsValid())
}

func TestNaturalKeys(t *testing.T) {
	assert.Equal(t, "ENG", (&Department{Code: "ENG"}).NaturalKey())
	assert.Equal(t, "E001", (&User{EmployeeID: "E001"}).NaturalKey())
	assert.Equal(t, "SUB-2025-0001", (&Submission{Reference: "SUB-2025-0001"}).NaturalKey())
	assert.Equal(t, "uuid-n", (&Notification{LegacyID: "uuid-n"}).NaturalKey())
	assert.Equal(t, "uuid-a", (&AuditLog{LegacyID: "uuid-a"}).NaturalKey())
}
