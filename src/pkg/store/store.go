// Package store 提供目标库（嵌入式 SQLite）的显式句柄。
// 句柄由调用方作用域化地 Open/Close，不存在隐式共享的全局连接，
// 回滚工具因此可以在换底层文件前关掉所有句柄、换完再重开。
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/submitflow/submitflow-migrate/src/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteHeader SQLite 数据库文件的格式签名（前 16 字节）
const SQLiteHeader = "SQLite format 3\x00"

// ErrNotSQLite 文件头不是 SQLite 格式签名
var ErrNotSQLite = errors.New("file is not a SQLite database")

// Store 目标库句柄
type Store struct {
	path   string
	db     *sql.DB
	logger *logrus.Entry
}

// Open 打开（必要时创建）目标库文件并启用外键约束
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	// 外键开关是连接级的，必须走 DSN 以覆盖连接池里的每一条连接
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// 目标库是单写者模型，串行化全部访问
	db.SetMaxOpenConns(1)

	return &Store{
		path: path,
		db:   db,
		logger: logrus.WithFields(logrus.Fields{
			"component": "store",
			"path":      path,
		}),
	}, nil
}

// Close 关闭句柄。关闭后句柄不可再用
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Path 返回底层数据库文件路径
func (s *Store) Path() string {
	return s.path
}

// DB 返回底层连接，供验证器做只读查询
func (s *Store) DB() *sql.DB {
	return s.db
}

// Begin 开启一个事务（一个导入批次对应一个事务）
func (s *Store) Begin() (*sql.Tx, error) {
	return s.db.Begin()
}

// EnsureSchema 用内嵌的迁移文件把库结构升到最新版本
func (s *Store) EnsureSchema() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create iofs source: %w", err)
	}

	dbDriver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	mig, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := mig.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply schema migrations: %w", err)
	}

	version, _, _ := mig.Version()
	s.logger.WithField("schema_version", version).Debug("schema is up to date")
	return nil
}

// CountRows 返回某张表的行数
func (s *Store) CountRows(table types.EntityType) (int, error) {
	var n int
	// 表名来自固定的实体枚举，不存在注入面
	if err := s.db.QueryRow("SELECT COUNT(*) FROM " + string(table)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// naturalKeyColumn 各实体在目标库中承载自然键的列
var naturalKeyColumn = map[types.EntityType]string{
	types.EntityDepartments:   "code",
	types.EntityUsers:         "employee_id",
	types.EntitySubmissions:   "reference",
	types.EntityNotifications: "legacy_id",
	types.EntityAuditLogs:     "legacy_id",
}

// NaturalKeyColumn 返回实体自然键列名
func NaturalKeyColumn(et types.EntityType) string {
	return naturalKeyColumn[et]
}

// ExistingKeys 返回某实体在目标库中已存在的全部自然键，
// 供导入器做重复检测（批次 N 必须能看到批次 N-1 已提交的键）
func (s *Store) ExistingKeys(et types.EntityType) (map[string]struct{}, error) {
	col := naturalKeyColumn[et]
	rows, err := s.db.Query("SELECT " + col + " FROM " + string(et))
	if err != nil {
		return nil, fmt.Errorf("list %s keys: %w", et, err)
	}
	defer rows.Close()

	keys := make(map[string]struct{})
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys[k] = struct{}{}
	}
	return keys, rows.Err()
}

// TableColumns 返回表的列名（PRAGMA table_info）
func (s *Store) TableColumns(table types.EntityType) ([]string, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("table_info %s: %w", table, err)
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notnull    int
			dfltValue  sql.NullString
			primaryKey int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dfltValue, &primaryKey); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// ValidateHeader 校验文件前 16 字节是否为 SQLite 格式签名。
// 备份与回滚都用它判定一个文件是否是合法的库副本
func ValidateHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	header := make([]byte, len(SQLiteHeader))
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("%w: %s (file too short)", ErrNotSQLite, path)
	}
	if string(header) != SQLiteHeader {
		return fmt.Errorf("%w: %s", ErrNotSQLite, path)
	}
	return nil
}
