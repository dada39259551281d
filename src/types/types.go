// Package types 定义迁移涉及的各实体类型（部门、用户、提交、通知、审计日志）
// 以及它们的自然键。快照文件与目标库均以这些显式字段为准，
// 不再使用松散的 map[string]interface{} 记录形态。
package types

// EntityType 实体类型标识，同时也是快照与目标库中的表名
type EntityType string

const (
	EntityDepartments   EntityType = "departments"
	EntityUsers         EntityType = "users"
	EntitySubmissions   EntityType = "submissions"
	EntityNotifications EntityType = "notifications"
	EntityAuditLogs     EntityType = "audit_logs"
)

// ImportOrder 导入顺序，按引用依赖排列：
// 部门 → 用户 → 提交/通知 → 审计日志
var ImportOrder = []EntityType{
	EntityDepartments,
	EntityUsers,
	EntitySubmissions,
	EntityNotifications,
	EntityAuditLogs,
}

// UserRole 用户角色枚举
type UserRole string

const (
	RoleEmployee UserRole = "employee"
	RoleManager  UserRole = "manager"
	RoleAdmin    UserRole = "admin"
)

// IsValid 判断角色是否为合法枚举值
func (r UserRole) IsValid() bool {
	switch r {
	case RoleEmployee, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// SubmissionStatus 提交状态枚举
type SubmissionStatus string

const (
	StatusDraft     SubmissionStatus = "draft"
	StatusSubmitted SubmissionStatus = "submitted"
	StatusApproved  SubmissionStatus = "approved"
	StatusRejected  SubmissionStatus = "rejected"
)

func (s SubmissionStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// NotificationKind 通知类型枚举
type NotificationKind string

const (
	KindSubmissionUpdate NotificationKind = "submission_update"
	KindReminder         NotificationKind = "reminder"
	KindSystem           NotificationKind = "system"
)

func (k NotificationKind) IsValid() bool {
	switch k {
	case KindSubmissionUpdate, KindReminder, KindSystem:
		return true
	}
	return false
}

// Department 部门记录。自然键为 Code
type Department struct {
	Code              string `json:"code"`
	Name              string `json:"name"`
	ManagerEmployeeID string `json:"manager_employee_id,omitempty"`
	CreatedAt         string `json:"created_at"`
}

// NaturalKey 返回用于重复检测的自然键
func (d *Department) NaturalKey() string { return d.Code }

// User 用户记录。自然键为 EmployeeID，DepartmentCode 引用 Department.Code
type User struct {
	EmployeeID     string   `json:"employee_id"`
	Email          string   `json:"email"`
	FullName       string   `json:"full_name"`
	Role           UserRole `json:"role"`
	DepartmentCode string   `json:"department_code"`
	Active         bool     `json:"active"`
	CreatedAt      string   `json:"created_at"`
}

func (u *User) NaturalKey() string { return u.EmployeeID }

// Submission 提交记录。自然键为 Reference（形如 SUB-2025-0001 的单号），
// EmployeeID 引用 User.EmployeeID，Payload 为表单内容的 JSON 文本
type Submission struct {
	Reference   string           `json:"reference"`
	EmployeeID  string           `json:"employee_id"`
	Title       string           `json:"title"`
	Status      SubmissionStatus `json:"status"`
	Payload     string           `json:"payload,omitempty"`
	SubmittedAt string           `json:"submitted_at"`
	UpdatedAt   string           `json:"updated_at,omitempty"`
}

func (s *Submission) NaturalKey() string { return s.Reference }

// Notification 通知记录。自然键为 LegacyID（源库的 UUID）
type Notification struct {
	LegacyID   string           `json:"legacy_id"`
	EmployeeID string           `json:"employee_id"`
	Kind       NotificationKind `json:"kind"`
	Message    string           `json:"message"`
	Read       bool             `json:"read"`
	CreatedAt  string           `json:"created_at"`
}

func (n *Notification) NaturalKey() string { return n.LegacyID }

// AuditLog 审计日志记录。自然键为 LegacyID。
// ActorEmployeeID 可为空（系统动作），非空时引用 User.EmployeeID
type AuditLog struct {
	LegacyID        string `json:"legacy_id"`
	ActorEmployeeID string `json:"actor_employee_id,omitempty"`
	Action          string `json:"action"`
	EntityType      string `json:"entity_type"`
	EntityRef       string `json:"entity_ref"`
	Detail          string `json:"detail,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func (a *AuditLog) NaturalKey() string { return a.LegacyID }
