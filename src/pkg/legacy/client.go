// Package legacy 封装对源库（托管 Postgres）的只读访问。
// 导出器只通过这里的枚举接口读取数据，不感知源库的表结构细节。
package legacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/submitflow/submitflow-migrate/src/types"
)

// ErrEmptyDSN 未提供源库连接串
var ErrEmptyDSN = errors.New("legacy store DSN is empty (set legacy.dsn or LEGACY_DATABASE_URL)")

// Reader 源库读取接口，导出器依赖的抽象（测试时用假实现替换）
type Reader interface {
	ListDepartments(ctx context.Context) ([]types.Department, error)
	ListUsers(ctx context.Context) ([]types.User, error)
	ListSubmissions(ctx context.Context) ([]types.Submission, error)
	ListNotifications(ctx context.Context) ([]types.Notification, error)
	ListAuditLogs(ctx context.Context) ([]types.AuditLog, error)
	Close()
}

// Client 基于 pgx 连接池的 Reader 实现
type Client struct {
	pool *pgxpool.Pool
}

var _ Reader = (*Client)(nil)

// Connect 连接源库并做一次连通性探测
func Connect(ctx context.Context, dsn string) (*Client, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create legacy pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping legacy store: %w", err)
	}
	return &Client{pool: pool}, nil
}

// Close 释放连接池
func (c *Client) Close() {
	c.pool.Close()
}

// normalizeTime 把源库时间统一为 RFC3339 UTC 文本
func normalizeTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// normalizeUUID 源库 UUID 统一转小写
func normalizeUUID(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (c *Client) ListDepartments(ctx context.Context) ([]types.Department, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT code, name, COALESCE(manager_employee_id, ''), created_at
		 FROM departments ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query departments: %w", err)
	}
	defer rows.Close()

	var out []types.Department
	for rows.Next() {
		var d types.Department
		var createdAt time.Time
		if err := rows.Scan(&d.Code, &d.Name, &d.ManagerEmployeeID, &createdAt); err != nil {
			return nil, fmt.Errorf("scan department: %w", err)
		}
		d.CreatedAt = normalizeTime(&createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *Client) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT u.employee_id, u.email, COALESCE(u.full_name, ''), u.role,
		        COALESCE(d.code, ''), u.active, u.created_at
		 FROM users u LEFT JOIN departments d ON d.id = u.department_id
		 ORDER BY u.employee_id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []types.User
	for rows.Next() {
		var u types.User
		var role string
		var createdAt time.Time
		if err := rows.Scan(&u.EmployeeID, &u.Email, &u.FullName, &role,
			&u.DepartmentCode, &u.Active, &createdAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		u.Role = types.UserRole(strings.ToLower(role))
		u.CreatedAt = normalizeTime(&createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

func (c *Client) ListSubmissions(ctx context.Context) ([]types.Submission, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT s.reference, u.employee_id, COALESCE(s.title, ''), s.status,
		        COALESCE(s.payload::text, ''), s.submitted_at, s.updated_at
		 FROM submissions s JOIN users u ON u.id = s.user_id
		 ORDER BY s.reference`)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var out []types.Submission
	for rows.Next() {
		var s types.Submission
		var status string
		var submittedAt time.Time
		var updatedAt *time.Time
		if err := rows.Scan(&s.Reference, &s.EmployeeID, &s.Title, &status,
			&s.Payload, &submittedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		s.Status = types.SubmissionStatus(strings.ToLower(status))
		s.SubmittedAt = normalizeTime(&submittedAt)
		s.UpdatedAt = normalizeTime(updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (c *Client) ListNotifications(ctx context.Context) ([]types.Notification, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT n.id::text, u.employee_id, n.kind, COALESCE(n.message, ''),
		        n.read, n.created_at
		 FROM notifications n JOIN users u ON u.id = n.user_id
		 ORDER BY n.created_at, n.id`)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	var out []types.Notification
	for rows.Next() {
		var n types.Notification
		var kind string
		var createdAt time.Time
		if err := rows.Scan(&n.LegacyID, &n.EmployeeID, &kind, &n.Message,
			&n.Read, &createdAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		n.LegacyID = normalizeUUID(n.LegacyID)
		n.Kind = types.NotificationKind(strings.ToLower(kind))
		n.CreatedAt = normalizeTime(&createdAt)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (c *Client) ListAuditLogs(ctx context.Context) ([]types.AuditLog, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT a.id::text, COALESCE(u.employee_id, ''), a.action, a.entity_type,
		        COALESCE(a.entity_ref, ''), COALESCE(a.detail::text, ''), a.created_at
		 FROM audit_logs a LEFT JOIN users u ON u.id = a.actor_id
		 ORDER BY a.created_at, a.id`)
	if err != nil {
		return nil, fmt.Errorf("query audit logs: %w", err)
	}
	defer rows.Close()

	var out []types.AuditLog
	for rows.Next() {
		var a types.AuditLog
		var createdAt time.Time
		if err := rows.Scan(&a.LegacyID, &a.ActorEmployeeID, &a.Action,
			&a.EntityType, &a.EntityRef, &a.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		a.LegacyID = normalizeUUID(a.LegacyID)
		a.CreatedAt = normalizeTime(&createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
