// Package snapshot 定义可移植的快照文件格式。
// 快照一经写出即不可变、自描述，可独立于导出时间与环境被任意次导入。
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/submitflow/submitflow-migrate/src/consts"
	"github.com/submitflow/submitflow-migrate/src/pkg/utils"
	"github.com/submitflow/submitflow-migrate/src/types"
)

var (
	// ErrBadFormat 文件不是本工具的快照格式
	ErrBadFormat = errors.New("not a submitflow snapshot")
	// ErrIncompatibleVersion 快照格式版本不被当前导入器支持
	ErrIncompatibleVersion = errors.New("incompatible snapshot format version")
	// ErrCountMismatch 声明的记录数与实际记录数不一致
	ErrCountMismatch = errors.New("declared record count mismatch")
)

// Snapshot 一次导出的全量数据，每种实体一个有类型的数组
type Snapshot struct {
	Format        string         `json:"format"`
	FormatVersion string         `json:"format_version"`
	Source        string         `json:"source"`
	ExportedAt    string         `json:"exported_at"`
	Counts        map[string]int `json:"counts"`

	Departments   []types.Department   `json:"departments"`
	Users         []types.User         `json:"users"`
	Submissions   []types.Submission   `json:"submissions"`
	Notifications []types.Notification `json:"notifications"`
	AuditLogs     []types.AuditLog     `json:"audit_logs"`
}

// New 创建一个空快照并填好格式头
func New(source string) *Snapshot {
	return &Snapshot{
		Format:        consts.SnapshotFormat,
		FormatVersion: consts.SnapshotFormatVersion,
		Source:        source,
		ExportedAt:    time.Now().UTC().Format(time.RFC3339),
		Counts:        map[string]int{},
	}
}

// SealCounts 按当前各数组长度写入声明计数。写文件前必须调用
func (s *Snapshot) SealCounts() {
	s.Counts = map[string]int{
		string(types.EntityDepartments):   len(s.Departments),
		string(types.EntityUsers):         len(s.Users),
		string(types.EntitySubmissions):   len(s.Submissions),
		string(types.EntityNotifications): len(s.Notifications),
		string(types.EntityAuditLogs):     len(s.AuditLogs),
	}
}

// ActualCount 返回某实体类型在快照中的实际记录数
func (s *Snapshot) ActualCount(et types.EntityType) int {
	switch et {
	case types.EntityDepartments:
		return len(s.Departments)
	case types.EntityUsers:
		return len(s.Users)
	case types.EntitySubmissions:
		return len(s.Submissions)
	case types.EntityNotifications:
		return len(s.Notifications)
	case types.EntityAuditLogs:
		return len(s.AuditLogs)
	}
	return 0
}

// DeclaredCount 返回格式头里声明的记录数
func (s *Snapshot) DeclaredCount(et types.EntityType) int {
	return s.Counts[string(et)]
}

// TotalRecords 返回快照内全部记录数
func (s *Snapshot) TotalRecords() int {
	total := 0
	for _, et := range types.ImportOrder {
		total += s.ActualCount(et)
	}
	return total
}

// Validate 校验格式标识、版本兼容性与声明计数
func (s *Snapshot) Validate() error {
	if s.Format != consts.SnapshotFormat {
		return fmt.Errorf("%w: format marker is %q", ErrBadFormat, s.Format)
	}

	ver, err := semver.NewVersion(s.FormatVersion)
	if err != nil {
		return fmt.Errorf("%w: cannot parse format version %q: %v",
			ErrIncompatibleVersion, s.FormatVersion, err)
	}
	current := semver.MustParse(consts.SnapshotFormatVersion)
	// 同一主版本内向后兼容，不支持来自更新导出器的快照
	if ver.Major() != current.Major() || ver.GreaterThan(current) {
		return fmt.Errorf("%w: snapshot is %s, importer supports up to %s",
			ErrIncompatibleVersion, s.FormatVersion, consts.SnapshotFormatVersion)
	}

	for _, et := range types.ImportOrder {
		if s.DeclaredCount(et) != s.ActualCount(et) {
			return fmt.Errorf("%w: %s declares %d but contains %d",
				ErrCountMismatch, et, s.DeclaredCount(et), s.ActualCount(et))
		}
	}
	return nil
}

// Filename 返回规范的快照文件名：<source>-transformed-export-<时间戳>.json
func Filename(source string, t time.Time) string {
	return fmt.Sprintf("%s-transformed-export-%s.json",
		source, t.UTC().Format("2006-01-02T15-04-05Z"))
}

// WriteFile 原子地把快照写入 folder，返回完整路径。
// 要么写出完整一致的快照，要么什么都不留下
func (s *Snapshot) WriteFile(folder string) (string, error) {
	s.SealCounts()
	if err := s.Validate(); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	path := filepath.Join(folder, Filename(s.Source, time.Now()))
	if err := utils.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}
	return path, nil
}

// ReadFile 读取并校验一个快照文件
func ReadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot file: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
