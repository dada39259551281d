package configs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Legacy 源库（托管 Postgres）连接配置
type Legacy struct {
	// DSN 连接串，留空时取环境变量 LEGACY_DATABASE_URL
	DSN string `yaml:"dsn" json:"dsn"`
	// SourceName 源标识，会写入快照文件名与 source 字段
	SourceName string `yaml:"source_name" json:"source_name"`
}

var defaultLegacy = Legacy{
	SourceName: "supabase",
}

func (l *Legacy) verify() error {
	if l == nil {
		return nil
	}
	if l.SourceName == "" {
		return fmt.Errorf("legacy.source_name cannot be empty")
	}
	return nil
}

// EffectiveDSN 返回生效的 DSN，配置文件优先，其次环境变量
func (l *Legacy) EffectiveDSN() string {
	if l.DSN != "" {
		return l.DSN
	}
	return os.Getenv("LEGACY_DATABASE_URL")
}

// Store 目标库（嵌入式 SQLite）配置
type Store struct {
	Path string `yaml:"path" json:"path"`
}

var defaultStore = Store{
	Path: "data/submitflow.db",
}

func (s *Store) verify() error {
	if s == nil {
		return nil
	}
	if s.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	return nil
}

// Export 快照导出配置
type Export struct {
	OutputFolder string `yaml:"output_folder" json:"output_folder"`
}

var defaultExport = Export{
	OutputFolder: "exports",
}

// Backup 备份配置
type Backup struct {
	Folder string `yaml:"folder" json:"folder"`
	// Keep 保留的备份数量上限（<=0 表示不清理）
	Keep int `yaml:"keep" json:"keep"`
}

var defaultBackup = Backup{
	Folder: "backups",
	Keep:   5,
}

// Import 导入默认参数，可被命令行标志覆盖
type Import struct {
	BatchSize      int  `yaml:"batch_size" json:"batch_size"`
	SkipDuplicates bool `yaml:"skip_duplicates" json:"skip_duplicates"`
	ValidateData   bool `yaml:"validate_data" json:"validate_data"`
	CreateBackup   bool `yaml:"create_backup" json:"create_backup"`
}

var defaultImport = Import{
	BatchSize:      100,
	SkipDuplicates: true,
	ValidateData:   true,
	CreateBackup:   true,
}

func (i *Import) verify() error {
	if i == nil {
		return nil
	}
	if i.BatchSize <= 0 {
		return fmt.Errorf("import.batch_size must be positive, got %d", i.BatchSize)
	}
	return nil
}

type Log struct {
	OutPutFolder string `yaml:"out_put_folder" json:"out_put_folder"`
	SaveRunLog   bool   `yaml:"save_run_log" json:"save_run_log"`
}

var defaultLog = Log{
	OutPutFolder: ".",
	SaveRunLog:   false,
}

// EmailNotify 邮件通知配置，迁移结束后发送结果摘要
type EmailNotify struct {
	Enable   bool   `yaml:"enable" json:"enable"`
	SMTPHost string `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port" json:"smtp_port"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	From     string `yaml:"from" json:"from"`
	To       string `yaml:"to" json:"to"`
}

func (e *EmailNotify) verify() error {
	if e == nil || !e.Enable {
		return nil
	}
	if e.SMTPHost == "" || e.SMTPPort == 0 {
		return fmt.Errorf("notify.email requires smtp_host and smtp_port when enabled")
	}
	if e.To == "" {
		return fmt.Errorf("notify.email.to cannot be empty when enabled")
	}
	return nil
}

type Notify struct {
	Email EmailNotify `yaml:"email" json:"email"`
}

type Sentry struct {
	// DSN 留空时禁用上报
	DSN         string `yaml:"dsn" json:"dsn"`
	Environment string `yaml:"environment" json:"environment"`
}

type Config struct {
	File  string `yaml:"-" json:"-"`
	Debug bool   `yaml:"debug" json:"debug"`

	Legacy Legacy `yaml:"legacy" json:"legacy"`
	Store  Store  `yaml:"store" json:"store"`
	Export Export `yaml:"export" json:"export"`
	Backup Backup `yaml:"backup" json:"backup"`
	Import Import `yaml:"import" json:"import"`
	Log    Log    `yaml:"log" json:"log"`
	Notify Notify `yaml:"notify" json:"notify"`
	Sentry Sentry `yaml:"sentry" json:"sentry"`
}

var defaultConfig = Config{
	Debug:  false,
	Legacy: defaultLegacy,
	Store:  defaultStore,
	Export: defaultExport,
	Backup: defaultBackup,
	Import: defaultImport,
	Log:    defaultLog,
}

// NewConfig 返回一份默认配置
func NewConfig() *Config {
	config := defaultConfig
	return &config
}

func NewConfigWithBytes(b []byte) (*Config, error) {
	config := defaultConfig
	if err := yaml.Unmarshal(b, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

func NewConfigWithFile(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("can`t open file: %s: %w", file, err)
	}
	config, err := NewConfigWithBytes(b)
	if err != nil {
		return nil, err
	}
	config.File = file
	return config, nil
}

// LoadDotEnv 加载工作目录下的 .env 文件（不存在时静默忽略），
// 使 LEGACY_DATABASE_URL 等敏感项可以不写进配置文件
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Verify 校验整体配置
func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if err := c.Legacy.verify(); err != nil {
		return err
	}
	if err := c.Store.verify(); err != nil {
		return err
	}
	if err := c.Import.verify(); err != nil {
		return err
	}
	if err := c.Notify.Email.verify(); err != nil {
		return err
	}
	return nil
}

// BackupPrefix 备份文件名前缀，取目标库文件名（不含扩展名）
func (c *Config) BackupPrefix() string {
	base := filepath.Base(c.Store.Path)
	ext := filepath.Ext(base)
	return base[:len(base)-len(ext)]
}
