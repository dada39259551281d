package importer

import (
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/submitflow/submitflow-migrate/src/pkg/snapshot"
	"github.com/submitflow/submitflow-migrate/src/types"
)

// resolvable 记录校验时可解析的外键目标集合。
// 目标 = 快照内通过校验的父记录自然键 ∪ 目标库中已存在的自然键，
// 按导入顺序逐实体累积，保证子记录只引用真实可达的父记录
type resolvable struct {
	departments map[string]struct{}
	users       map[string]struct{}
}

func newResolvable(existing map[types.EntityType]map[string]struct{}) *resolvable {
	r := &resolvable{
		departments: make(map[string]struct{}),
		users:       make(map[string]struct{}),
	}
	for k := range existing[types.EntityDepartments] {
		r.departments[k] = struct{}{}
	}
	for k := range existing[types.EntityUsers] {
		r.users[k] = struct{}{}
	}
	return r
}

// validationError 一条被排除记录的描述
type validationError struct {
	Entity types.EntityType
	Key    string
	Reason string
}

func (v validationError) String() string {
	return fmt.Sprintf("%s[%s]: %s", v.Entity, v.Key, v.Reason)
}

func validateDepartment(d *types.Department) string {
	if d.Code == "" {
		return "missing code"
	}
	if d.Name == "" {
		return "missing name"
	}
	if d.CreatedAt == "" {
		return "missing created_at"
	}
	return ""
}

func validateUser(u *types.User, r *resolvable) string {
	if u.EmployeeID == "" {
		return "missing employee_id"
	}
	if u.Email == "" {
		return "missing email"
	}
	if !u.Role.IsValid() {
		return fmt.Sprintf("invalid role %q", u.Role)
	}
	if u.DepartmentCode == "" {
		return "missing department_code"
	}
	if _, ok := r.departments[u.DepartmentCode]; !ok {
		return fmt.Sprintf("unresolved department_code %q", u.DepartmentCode)
	}
	return ""
}

func validateSubmission(s *types.Submission, r *resolvable) string {
	if s.Reference == "" {
		return "missing reference"
	}
	if !s.Status.IsValid() {
		return fmt.Sprintf("invalid status %q", s.Status)
	}
	if s.SubmittedAt == "" {
		return "missing submitted_at"
	}
	if s.EmployeeID == "" {
		return "missing employee_id"
	}
	if _, ok := r.users[s.EmployeeID]; !ok {
		return fmt.Sprintf("unresolved employee_id %q", s.EmployeeID)
	}
	if s.Payload != "" && !gjson.Valid(s.Payload) {
		return "payload is not valid JSON"
	}
	return ""
}

func validateNotification(n *types.Notification, r *resolvable) string {
	if n.LegacyID == "" {
		return "missing legacy_id"
	}
	if !n.Kind.IsValid() {
		return fmt.Sprintf("invalid kind %q", n.Kind)
	}
	if n.EmployeeID == "" {
		return "missing employee_id"
	}
	if _, ok := r.users[n.EmployeeID]; !ok {
		return fmt.Sprintf("unresolved employee_id %q", n.EmployeeID)
	}
	return ""
}

func validateAuditLog(a *types.AuditLog, r *resolvable) string {
	if a.LegacyID == "" {
		return "missing legacy_id"
	}
	if a.Action == "" {
		return "missing action"
	}
	if a.EntityType == "" {
		return "missing entity_type"
	}
	// actor 为空表示系统动作，非空时必须可解析
	if a.ActorEmployeeID != "" {
		if _, ok := r.users[a.ActorEmployeeID]; !ok {
			return fmt.Sprintf("unresolved actor_employee_id %q", a.ActorEmployeeID)
		}
	}
	if a.Detail != "" && !gjson.Valid(a.Detail) {
		return "detail is not valid JSON"
	}
	return ""
}

// validateSnapshot 逐实体校验快照记录，返回各实体通过校验的记录与排除清单。
// 被排除的记录只影响计数，不中断导入
func validateSnapshot(snap *snapshot.Snapshot, existing map[types.EntityType]map[string]struct{}) (map[types.EntityType][]record, []validationError) {
	r := newResolvable(existing)
	valid := make(map[types.EntityType][]record)
	var errs []validationError

	for i := range snap.Departments {
		d := &snap.Departments[i]
		if reason := validateDepartment(d); reason != "" {
			errs = append(errs, validationError{types.EntityDepartments, d.Code, reason})
			continue
		}
		r.departments[d.Code] = struct{}{}
		valid[types.EntityDepartments] = append(valid[types.EntityDepartments], d)
	}

	for i := range snap.Users {
		u := &snap.Users[i]
		if reason := validateUser(u, r); reason != "" {
			errs = append(errs, validationError{types.EntityUsers, u.EmployeeID, reason})
			continue
		}
		r.users[u.EmployeeID] = struct{}{}
		valid[types.EntityUsers] = append(valid[types.EntityUsers], u)
	}

	for i := range snap.Submissions {
		s := &snap.Submissions[i]
		if reason := validateSubmission(s, r); reason != "" {
			errs = append(errs, validationError{types.EntitySubmissions, s.Reference, reason})
			continue
		}
		valid[types.EntitySubmissions] = append(valid[types.EntitySubmissions], s)
	}

	for i := range snap.Notifications {
		n := &snap.Notifications[i]
		if reason := validateNotification(n, r); reason != "" {
			errs = append(errs, validationError{types.EntityNotifications, n.LegacyID, reason})
			continue
		}
		valid[types.EntityNotifications] = append(valid[types.EntityNotifications], n)
	}

	for i := range snap.AuditLogs {
		a := &snap.AuditLogs[i]
		if reason := validateAuditLog(a, r); reason != "" {
			errs = append(errs, validationError{types.EntityAuditLogs, a.LegacyID, reason})
			continue
		}
		valid[types.EntityAuditLogs] = append(valid[types.EntityAuditLogs], a)
	}

	return valid, errs
}

// collectRecords 不做校验时直接把快照记录按实体收集起来
func collectRecords(snap *snapshot.Snapshot) map[types.EntityType][]record {
	all := make(map[types.EntityType][]record)
	for i := range snap.Departments {
		all[types.EntityDepartments] = append(all[types.EntityDepartments], &snap.Departments[i])
	}
	for i := range snap.Users {
		all[types.EntityUsers] = append(all[types.EntityUsers], &snap.Users[i])
	}
	for i := range snap.Submissions {
		all[types.EntitySubmissions] = append(all[types.EntitySubmissions], &snap.Submissions[i])
	}
	for i := range snap.Notifications {
		all[types.EntityNotifications] = append(all[types.EntityNotifications], &snap.Notifications[i])
	}
	for i := range snap.AuditLogs {
		all[types.EntityAuditLogs] = append(all[types.EntityAuditLogs], &snap.AuditLogs[i])
	}
	return all
}
