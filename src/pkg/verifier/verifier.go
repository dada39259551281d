// Package verifier 在导入后检查目标库：引用完整性、表结构形状、
// 行数与快照声明一致性，以及结构化字段抽样回读。
package verifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/submitflow/submitflow-migrate/src/pkg/snapshot"
	"github.com/submitflow/submitflow-migrate/src/pkg/store"
	"github.com/submitflow/submitflow-migrate/src/pkg/utils"
	"github.com/submitflow/submitflow-migrate/src/types"
)

// payloadSampleSize 结构化字段抽样回读的最大条数
const payloadSampleSize = 20

// Result 验证结果
type Result struct {
	Success         bool     `json:"success"`
	TotalRecords    int      `json:"total_records"`
	IntegrityIssues int      `json:"integrity_issues"`
	Errors          []string `json:"errors,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
}

func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.IntegrityIssues++
}

func (r *Result) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// expectedColumns 各表应有的列，与内嵌迁移文件保持一致
var expectedColumns = map[types.EntityType][]string{
	types.EntityDepartments:   {"id", "code", "name", "manager_employee_id", "created_at"},
	types.EntityUsers:         {"id", "employee_id", "email", "full_name", "role", "department_code", "active", "created_at"},
	types.EntitySubmissions:   {"id", "reference", "employee_id", "title", "status", "payload", "submitted_at", "updated_at"},
	types.EntityNotifications: {"id", "legacy_id", "employee_id", "kind", "message", "read", "created_at"},
	types.EntityAuditLogs:     {"id", "legacy_id", "actor_employee_id", "action", "entity_type", "entity_ref", "detail", "created_at"},
}

// optionalIndexes 期望存在的索引，缺失只算警告
var optionalIndexes = []string{
	"idx_users_department_code",
	"idx_submissions_employee_id",
	"idx_notifications_employee_id",
}

// danglingChecks 悬挂外键检查语句：子表中引用了父表不存在自然键的行数
var danglingChecks = map[string]string{
	"users->departments": `SELECT COUNT(*) FROM users u
		LEFT JOIN departments d ON d.code = u.department_code
		WHERE d.code IS NULL`,
	"submissions->users": `SELECT COUNT(*) FROM submissions s
		LEFT JOIN users u ON u.employee_id = s.employee_id
		WHERE u.employee_id IS NULL`,
	"notifications->users": `SELECT COUNT(*) FROM notifications n
		LEFT JOIN users u ON u.employee_id = n.employee_id
		WHERE u.employee_id IS NULL`,
	"audit_logs->users": `SELECT COUNT(*) FROM audit_logs a
		LEFT JOIN users u ON u.employee_id = a.actor_employee_id
		WHERE a.actor_employee_id IS NOT NULL AND u.employee_id IS NULL`,
}

// Verifier 迁移验证器
type Verifier struct {
	store  *store.Store
	logger *logrus.Entry
}

// New 创建验证器
func New(st *store.Store) *Verifier {
	return &Verifier{
		store:  st,
		logger: logrus.WithField("component", "verifier"),
	}
}

// VerifyMigration 对照快照做完整验证。
// 只有行数不符或约束违规才判失败；缺索引之类只记警告
func (v *Verifier) VerifyMigration(snap *snapshot.Snapshot) *Result {
	result := &Result{}

	v.checkShape(result)
	v.checkCounts(snap, result)
	v.checkDanglingReferences(result)
	v.samplePayloads(result)

	result.Success = result.IntegrityIssues == 0

	v.logger.WithFields(logrus.Fields{
		"total_records":    result.TotalRecords,
		"integrity_issues": result.IntegrityIssues,
		"warnings":         len(result.Warnings),
		"success":          result.Success,
	}).Info("verification finished")

	return result
}

// checkShape 检查期望的表与列是否存在
func (v *Verifier) checkShape(result *Result) {
	for et, want := range expectedColumns {
		cols, err := v.store.TableColumns(et)
		if err != nil {
			result.addError(fmt.Sprintf("cannot inspect table %s: %v", et, err))
			continue
		}
		if len(cols) == 0 {
			result.addError(fmt.Sprintf("table %s is missing", et))
			continue
		}
		have := make(map[string]struct{}, len(cols))
		for _, c := range cols {
			have[c] = struct{}{}
		}
		for _, w := range want {
			if _, ok := have[w]; !ok {
				result.addError(fmt.Sprintf("table %s is missing column %s", et, w))
			}
		}
	}

	for _, idx := range optionalIndexes {
		var n int
		err := v.store.DB().QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = ?`, idx).Scan(&n)
		if err != nil || n == 0 {
			result.addWarning(fmt.Sprintf("optional index %s is missing", idx))
		}
	}
}

// checkCounts 行数必须不少于快照声明的数量。
// 目标库允许已有历史数据，因此行数少于声明才是错误
func (v *Verifier) checkCounts(snap *snapshot.Snapshot, result *Result) {
	for _, et := range types.ImportOrder {
		rows, err := v.store.CountRows(et)
		if err != nil {
			result.addError(fmt.Sprintf("cannot count %s: %v", et, err))
			continue
		}
		result.TotalRecords += rows
		if snap == nil {
			continue
		}
		declared := snap.DeclaredCount(et)
		if rows < declared {
			result.addError(fmt.Sprintf(
				"%s has %d rows but snapshot declares %d", et, rows, declared))
		}
	}
}

// checkDanglingReferences 悬挂外键必须为零
func (v *Verifier) checkDanglingReferences(result *Result) {
	for name, query := range danglingChecks {
		var n int
		if err := v.store.DB().QueryRow(query).Scan(&n); err != nil {
			result.addError(fmt.Sprintf("dangling check %s failed: %v", name, err))
			continue
		}
		if n > 0 {
			result.addError(fmt.Sprintf("%d dangling references in %s", n, name))
		}
	}
}

// samplePayloads 抽样回读提交的 payload，确认 JSON 结构经存取后仍可解析
func (v *Verifier) samplePayloads(result *Result) {
	rows, err := v.store.DB().Query(
		`SELECT reference, payload FROM submissions
		 WHERE payload IS NOT NULL LIMIT ?`, payloadSampleSize)
	if err != nil {
		result.addWarning(fmt.Sprintf("payload sampling failed: %v", err))
		return
	}
	defer rows.Close()

	for rows.Next() {
		var reference, payload string
		if err := rows.Scan(&reference, &payload); err != nil {
			result.addWarning(fmt.Sprintf("payload sampling scan failed: %v", err))
			return
		}
		if !gjson.Valid(payload) {
			result.addError(fmt.Sprintf("submissions[%s]: payload did not round-trip as JSON", reference))
		}
	}
}

// QuickVerify 便宜的子集检查：完整性校验加表存在性。
// 回滚后用它确认恢复出的库可用
func (v *Verifier) QuickVerify() (bool, string) {
	var integrity string
	if err := v.store.DB().QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		return false, fmt.Sprintf("integrity_check failed: %v", err)
	}
	if integrity != "ok" {
		return false, fmt.Sprintf("integrity_check reported: %s", integrity)
	}

	total := 0
	for _, et := range types.ImportOrder {
		rows, err := v.store.CountRows(et)
		if err != nil {
			return false, fmt.Sprintf("table %s is not readable: %v", et, err)
		}
		total += rows
	}
	return true, fmt.Sprintf("store is healthy (%d rows across %d tables)", total, len(types.ImportOrder))
}

// WriteReport 把验证结果写成人类可读的文本报告，返回路径
func WriteReport(folder string, result *Result) (string, error) {
	var b strings.Builder
	now := time.Now()

	b.WriteString("Migration Verification Report\n")
	b.WriteString("Generated: " + now.UTC().Format(time.RFC3339) + "\n")
	b.WriteString(fmt.Sprintf("Result: %s\n", verdict(result.Success)))
	b.WriteString(fmt.Sprintf("Total records examined: %d\n", result.TotalRecords))
	b.WriteString(fmt.Sprintf("Integrity issues: %d\n\n", result.IntegrityIssues))

	if len(result.Errors) > 0 {
		b.WriteString("Errors:\n")
		for _, e := range result.Errors {
			b.WriteString("  - " + e + "\n")
		}
		b.WriteString("\n")
	}
	if len(result.Warnings) > 0 {
		b.WriteString("Warnings:\n")
		for _, w := range result.Warnings {
			b.WriteString("  - " + w + "\n")
		}
	}

	path := fmt.Sprintf("%s/migration-verification-%s.txt",
		folder, now.UTC().Format("2006-01-02T15-04-05Z"))
	if err := utils.AtomicWriteFile(path, []byte(b.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write verification report: %w", err)
	}
	return path, nil
}

func verdict(ok bool) string {
	if ok {
		return "PASS"
	}
	return "FAIL"
}
