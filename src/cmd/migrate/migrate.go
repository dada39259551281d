package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/submitflow/submitflow-migrate/src/cmd/migrate/internal/flag"
	"github.com/submitflow/submitflow-migrate/src/configs"
	"github.com/submitflow/submitflow-migrate/src/consts"
	"github.com/submitflow/submitflow-migrate/src/log"
	"github.com/submitflow/submitflow-migrate/src/pkg/backup"
	"github.com/submitflow/submitflow-migrate/src/pkg/importer"
	"github.com/submitflow/submitflow-migrate/src/pkg/orchestrator"
	"github.com/submitflow/submitflow-migrate/src/pkg/progress"
	"github.com/submitflow/submitflow-migrate/src/pkg/rollback"
	"github.com/submitflow/submitflow-migrate/src/pkg/sentry"
	"github.com/submitflow/submitflow-migrate/src/pkg/utils"
)

func getConfig() (*configs.Config, error) {
	var config *configs.Config
	if *flag.Conf != "" {
		c, err := configs.NewConfigWithFile(*flag.Conf)
		if err != nil {
			return nil, err
		}
		config = c
	} else {
		config = configs.NewConfig()
	}
	if *flag.Debug {
		config.Debug = true
	}
	return config, config.Verify()
}

func main() {
	cmd := flag.Parse()

	configs.LoadDotEnv()
	cfg, err := getConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg)

	if err := sentry.Init(cfg.Sentry.DSN, cfg.Sentry.Environment, consts.AppVersion); err != nil {
		logger.WithError(err).Warn("failed to initialize sentry, continuing without it")
	}
	defer sentry.Flush(2 * time.Second)

	var exitCode int
	switch cmd {
	case flag.CmdMigrate.FullCommand():
		exitCode = runMigrate(cfg)
	case flag.CmdRollback.FullCommand():
		exitCode = runRollback(cfg)
	}
	os.Exit(exitCode)
}

func runMigrate(cfg *configs.Config) int {
	if *flag.ExportOnly && *flag.ImportOnly {
		fmt.Fprintln(os.Stderr, "--export-only and --import-only are mutually exclusive")
		return 1
	}

	batchSize := *flag.BatchSize
	if batchSize <= 0 {
		batchSize = cfg.Import.BatchSize
	}
	flags := orchestrator.Flags{
		ExportOnly:       *flag.ExportOnly,
		ImportOnly:       *flag.ImportOnly,
		ImportFile:       *flag.ImportFile,
		SkipExport:       *flag.SkipExport,
		SkipImport:       *flag.SkipImport,
		SkipVerification: *flag.SkipVerification,
		Import: importer.Options{
			BatchSize:      batchSize,
			SkipDuplicates: cfg.Import.SkipDuplicates && !*flag.NoSkipDuplicates,
			ValidateData:   cfg.Import.ValidateData && !*flag.NoValidation,
			CreateBackup:   cfg.Import.CreateBackup && !*flag.NoBackup,
			DryRun:         *flag.DryRun,
		},
	}

	orch, err := orchestrator.New(cfg)
	if err != nil {
		log.GetLogger().WithError(err).Error("failed to set up migration pipeline")
		return 1
	}
	orch.Tracker().AddListener(func(e progress.Event) {
		line := fmt.Sprintf("[%5.1f%%] %s: %s", e.Percentage, e.Step, e.Status)
		if e.Message != "" {
			line += " (" + e.Message + ")"
		}
		fmt.Println(line)
	})

	result := orch.ExecuteMigration(context.Background(), flags)
	if !result.Success {
		return 1
	}
	return 0
}

func runRollback(cfg *configs.Config) int {
	backups := backup.NewManager(cfg.Store.Path, cfg.Backup.Folder,
		cfg.BackupPrefix(), cfg.Backup.Keep)

	if *flag.ListBackups {
		return listBackups(backups)
	}

	if *flag.RollbackFile == "" {
		fmt.Fprintln(os.Stderr, "a backup file is required (or use --list-backups)")
		return 1
	}

	tool := rollback.New(cfg.Store.Path, backups, nil)
	result := tool.ExecuteRollback(*flag.RollbackFile, rollback.Options{
		Verify: !*flag.NoVerify,
		Force:  *flag.Force,
	})

	for _, w := range result.Warnings {
		fmt.Println("warning: " + w)
	}
	for _, e := range result.Errors {
		fmt.Fprintln(os.Stderr, "error: "+e)
	}
	if result.Success {
		fmt.Printf("rollback completed in %.1fs", result.Duration.Seconds())
		if result.VerifyMessage != "" {
			fmt.Printf(", %s", result.VerifyMessage)
		}
		fmt.Println()
		if result.PreRollbackBackup != "" {
			fmt.Printf("pre-rollback state saved at %s\n", result.PreRollbackBackup)
		}
		return 0
	}
	return 1
}

func listBackups(backups *backup.Manager) int {
	list, err := backups.ListBackups()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cannot list backups: %v\n", err)
		return 1
	}
	if len(list) == 0 {
		fmt.Println("no backups found")
		return 0
	}
	for _, b := range list {
		fmt.Printf("%s  (%d bytes)\n", b, utils.FileSize(b))
	}
	return 0
}
