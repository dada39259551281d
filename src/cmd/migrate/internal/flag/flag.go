// Package flag 定义命令行界面：migrate 与 rollback 两个子命令。
package flag

import (
	"github.com/alecthomas/kingpin"

	"github.com/submitflow/submitflow-migrate/src/consts"
)

var (
	Conf  = kingpin.Flag("config", "Path to the yaml config file.").Short('c').String()
	Debug = kingpin.Flag("debug", "Enable debug logging.").Bool()

	// migrate 子命令：执行 导出 → 导入 → 验证 流水线
	CmdMigrate       = kingpin.Command("migrate", "Run the migration pipeline (export, import, verify).")
	ExportOnly       = CmdMigrate.Flag("export-only", "Only export a snapshot from the legacy store.").Bool()
	ImportOnly       = CmdMigrate.Flag("import-only", "Only import an existing snapshot file.").Bool()
	ImportFile       = CmdMigrate.Flag("import-file", "Snapshot file to import (defaults to the one just exported).").Short('f').String()
	SkipExport       = CmdMigrate.Flag("skip-export", "Skip the export phase.").Bool()
	SkipImport       = CmdMigrate.Flag("skip-import", "Skip the import phase.").Bool()
	SkipVerification = CmdMigrate.Flag("skip-verification", "Skip the verification phase.").Bool()
	BatchSize        = CmdMigrate.Flag("batch-size", "Records per import transaction.").Default("100").Int()
	NoSkipDuplicates = CmdMigrate.Flag("no-skip-duplicates", "Treat duplicate records as errors instead of skipping them.").Bool()
	NoValidation     = CmdMigrate.Flag("no-validation", "Do not validate records before import.").Bool()
	NoBackup         = CmdMigrate.Flag("no-backup", "Do not back up the destination store before import.").Bool()
	DryRun           = CmdMigrate.Flag("dry-run", "Validate and detect duplicates but write nothing.").Bool()

	// rollback 子命令：把备份恢复为在用库
	CmdRollback  = kingpin.Command("rollback", "Restore a backup as the live destination store.")
	RollbackFile = CmdRollback.Arg("backup-file", "Backup file to restore.").String()
	NoVerify     = CmdRollback.Flag("no-verify", "Skip post-rollback verification.").Bool()
	Force        = CmdRollback.Flag("force", "Confirm the rollback. Without this flag nothing is touched.").Bool()
	ListBackups  = CmdRollback.Flag("list-backups", "List available backups and exit.").Bool()
)

// Parse 解析命令行，返回选中的子命令名
func Parse() string {
	kingpin.Version(consts.AppVersion)
	return kingpin.Parse()
}
