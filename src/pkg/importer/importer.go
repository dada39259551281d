// Package importer 把快照按依赖顺序、分批、带重复检测地写入目标库。
// 每个批次是一个事务：要么整批提交，要么整批回滚。
package importer

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/submitflow/submitflow-migrate/src/pkg/backup"
	"github.com/submitflow/submitflow-migrate/src/pkg/snapshot"
	"github.com/submitflow/submitflow-migrate/src/pkg/store"
	"github.com/submitflow/submitflow-migrate/src/types"
)

// DefaultBatchSize 默认批次大小
const DefaultBatchSize = 100

// ErrBackupFailed 备份失败导致导入中止（绝不在要求备份却没有可靠备份时继续写）
var ErrBackupFailed = errors.New("backup failed, import aborted")

// Options 导入参数
type Options struct {
	BatchSize      int
	SkipDuplicates bool
	ValidateData   bool
	CreateBackup   bool
	DryRun         bool
}

// DefaultOptions 返回默认导入参数
func DefaultOptions() Options {
	return Options{
		BatchSize:      DefaultBatchSize,
		SkipDuplicates: true,
		ValidateData:   true,
		CreateBackup:   true,
		DryRun:         false,
	}
}

// EntityStats 单实体的导入计数
type EntityStats struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
	Errors   int `json:"errors"`
}

// Result 一次导入的结果。产生后不再修改，作为带时间戳的工件持久化
type Result struct {
	Success         bool                              `json:"success"`
	ImportedRecords int                               `json:"imported_records"`
	SkippedRecords  int                               `json:"skipped_records"`
	ErrorRecords    int                               `json:"error_records"`
	Duration        time.Duration                     `json:"duration"`
	BackupPath      string                            `json:"backup_path,omitempty"`
	DryRun          bool                              `json:"dry_run"`
	PerEntity       map[types.EntityType]*EntityStats `json:"per_entity"`
	Errors          []string                          `json:"errors,omitempty"`
	Warnings        []string                          `json:"warnings,omitempty"`
}

func newResult() *Result {
	per := make(map[types.EntityType]*EntityStats, len(types.ImportOrder))
	for _, et := range types.ImportOrder {
		per[et] = &EntityStats{}
	}
	return &Result{PerEntity: per}
}

func (r *Result) addError(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *Result) addWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// record 可导入的记录，所有实体类型都实现自然键访问
type record interface {
	NaturalKey() string
}

// Importer 快照导入器
type Importer struct {
	store   *store.Store
	backups *backup.Manager
	logger  *logrus.Entry
}

// New 创建导入器。backups 可为 nil（调用方已决定不备份时）
func New(st *store.Store, backups *backup.Manager) *Importer {
	return &Importer{
		store:   st,
		backups: backups,
		logger:  logrus.WithField("component", "importer"),
	}
}

// ImportFromFile 按参数把一个快照文件导入目标库。
// 文件不可读或快照不合法对本阶段是致命的；单条记录的问题只计数不中断
func (im *Importer) ImportFromFile(path string, opts Options) *Result {
	start := time.Now()
	result := newResult()
	result.DryRun = opts.DryRun
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}

	snap, err := snapshot.ReadFile(path)
	if err != nil {
		result.addError(fmt.Sprintf("cannot load snapshot %s: %v", path, err))
		result.Duration = time.Since(start)
		return result
	}

	im.logger.WithFields(logrus.Fields{
		"snapshot":   path,
		"records":    snap.TotalRecords(),
		"batch_size": opts.BatchSize,
		"dry_run":    opts.DryRun,
	}).Info("starting import")

	// 任何破坏性写入前先拿到经过校验的备份；拿不到就中止
	if opts.CreateBackup && !opts.DryRun {
		if im.backups == nil {
			result.addError(fmt.Sprintf("%v: no backup manager configured", ErrBackupFailed))
			result.Duration = time.Since(start)
			return result
		}
		backupPath, err := im.backups.CreateBackup()
		if err != nil {
			result.addError(fmt.Sprintf("%v: %v", ErrBackupFailed, err))
			result.Duration = time.Since(start)
			return result
		}
		result.BackupPath = backupPath
	}

	// 重复检测需要目标库中已有的自然键
	existing := make(map[types.EntityType]map[string]struct{}, len(types.ImportOrder))
	for _, et := range types.ImportOrder {
		keys, err := im.store.ExistingKeys(et)
		if err != nil {
			result.addError(fmt.Sprintf("cannot read existing %s keys: %v", et, err))
			result.Duration = time.Since(start)
			return result
		}
		existing[et] = keys
	}

	var toImport map[types.EntityType][]record
	if opts.ValidateData {
		var excluded []validationError
		toImport, excluded = validateSnapshot(snap, existing)
		for _, ve := range excluded {
			result.PerEntity[ve.Entity].Errors++
			result.ErrorRecords++
			result.addError("validation: " + ve.String())
		}
	} else {
		toImport = collectRecords(snap)
	}

	// 按依赖顺序逐实体导入：部门 → 用户 → 提交/通知 → 审计日志
	for _, et := range types.ImportOrder {
		im.importEntity(et, toImport[et], existing[et], opts, result)
	}

	result.Success = result.ErrorRecords == 0
	result.Duration = time.Since(start)

	im.logger.WithFields(logrus.Fields{
		"imported": result.ImportedRecords,
		"skipped":  result.SkippedRecords,
		"errors":   result.ErrorRecords,
		"success":  result.Success,
		"duration": result.Duration,
	}).Info("import finished")

	return result
}

// importEntity 导入单个实体类型的全部记录
func (im *Importer) importEntity(et types.EntityType, records []record,
	existingKeys map[string]struct{}, opts Options, result *Result) {
	stats := result.PerEntity[et]

	// 先做重复检测，批次只装真正要写的记录。
	// 不跳过重复时，重复在这里直接计为错误而不是留给唯一约束，
	// 干跑与真跑因此对同一份快照报出相同的计数
	var pending []record
	for _, rec := range records {
		key := rec.NaturalKey()
		if _, dup := existingKeys[key]; dup {
			if opts.SkipDuplicates {
				stats.Skipped++
				result.SkippedRecords++
			} else {
				stats.Errors++
				result.ErrorRecords++
				result.addError(fmt.Sprintf("%s[%s]: duplicate natural key", et, key))
			}
			continue
		}
		// 同一快照内的后续重复也会命中上面的检测
		existingKeys[key] = struct{}{}
		pending = append(pending, rec)
	}

	for offset := 0; offset < len(pending); offset += opts.BatchSize {
		end := offset + opts.BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		im.importBatch(et, pending[offset:end], opts, result)
	}
}

// importBatch 在一个事务里写入一个批次。
// 某条记录被拒绝时整批回滚，把这条记录计为错误后重试剩余记录，
// 保证错误计数只落在真正无效的记录上，且批次原子性不被破坏
func (im *Importer) importBatch(et types.EntityType, batch []record, opts Options, result *Result) {
	stats := result.PerEntity[et]

	if opts.DryRun {
		// 干跑：不发出任何写入，仅汇报将要发生的事
		stats.Imported += len(batch)
		result.ImportedRecords += len(batch)
		return
	}

	remaining := batch
	for len(remaining) > 0 {
		badIndex, err := im.tryBatch(et, remaining)
		if err == nil {
			stats.Imported += len(remaining)
			result.ImportedRecords += len(remaining)
			return
		}
		if badIndex < 0 {
			// 事务本身失败（begin/commit），整批计为错误
			for range remaining {
				stats.Errors++
				result.ErrorRecords++
			}
			result.addError(fmt.Sprintf("%s batch failed: %v", et, err))
			im.logger.WithError(err).WithField("entity", et).Error("batch transaction failed")
			return
		}

		bad := remaining[badIndex]
		stats.Errors++
		result.ErrorRecords++
		result.addError(fmt.Sprintf("%s[%s]: %v", et, bad.NaturalKey(), err))
		im.logger.WithError(err).WithFields(logrus.Fields{
			"entity": et,
			"key":    bad.NaturalKey(),
		}).Warn("record rejected by store, retrying batch without it")

		// 去掉被拒绝的记录后重试本批次
		remaining = append(append([]record{}, remaining[:badIndex]...), remaining[badIndex+1:]...)
	}
}

// tryBatch 尝试在一个事务中写入全部记录。
// 返回被拒绝记录的下标（无法归因到单条记录时为 -1）
func (im *Importer) tryBatch(et types.EntityType, batch []record) (int, error) {
	tx, err := im.store.Begin()
	if err != nil {
		return -1, fmt.Errorf("begin tx: %w", err)
	}

	for i, rec := range batch {
		if err := insertRecord(tx, et, rec); err != nil {
			tx.Rollback()
			return i, err
		}
	}

	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return -1, fmt.Errorf("commit tx: %w", err)
	}
	return -1, nil
}

// insertRecord 向目标库写入一条记录
func insertRecord(tx *sql.Tx, et types.EntityType, rec record) error {
	switch r := rec.(type) {
	case *types.Department:
		_, err := tx.Exec(
			`INSERT INTO departments (code, name, manager_employee_id, created_at)
			 VALUES (?, ?, ?, ?)`,
			r.Code, r.Name, nullable(r.ManagerEmployeeID), r.CreatedAt)
		return err
	case *types.User:
		_, err := tx.Exec(
			`INSERT INTO users (employee_id, email, full_name, role, department_code, active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.EmployeeID, r.Email, r.FullName, string(r.Role), r.DepartmentCode, r.Active, r.CreatedAt)
		return err
	case *types.Submission:
		_, err := tx.Exec(
			`INSERT INTO submissions (reference, employee_id, title, status, payload, submitted_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.Reference, r.EmployeeID, r.Title, string(r.Status), nullable(r.Payload),
			r.SubmittedAt, nullable(r.UpdatedAt))
		return err
	case *types.Notification:
		_, err := tx.Exec(
			`INSERT INTO notifications (legacy_id, employee_id, kind, message, read, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.LegacyID, r.EmployeeID, string(r.Kind), r.Message, r.Read, r.CreatedAt)
		return err
	case *types.AuditLog:
		_, err := tx.Exec(
			`INSERT INTO audit_logs (legacy_id, actor_employee_id, action, entity_type, entity_ref, detail, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.LegacyID, nullable(r.ActorEmployeeID), r.Action, r.EntityType, r.EntityRef,
			nullable(r.Detail), r.CreatedAt)
		return err
	}
	return fmt.Errorf("unknown record type for entity %s", et)
}

// nullable 空串落库为 NULL，保持外键与可选字段语义
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
