// Package orchestrator 按 导出 → 导入 → 验证 → 收尾 的顺序驱动整条迁移流水线。
// 各阶段严格串行，前一阶段的持久化产物是后一阶段的输入；
// 收尾阶段无论上游成败都会执行，保证每次运行都留下一份摘要。
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"
	uuid "github.com/satori/go.uuid"

	"github.com/submitflow/submitflow-migrate/src/configs"
	"github.com/submitflow/submitflow-migrate/src/notify"
	"github.com/submitflow/submitflow-migrate/src/pkg/backup"
	"github.com/submitflow/submitflow-migrate/src/pkg/exporter"
	"github.com/submitflow/submitflow-migrate/src/pkg/importer"
	"github.com/submitflow/submitflow-migrate/src/pkg/legacy"
	"github.com/submitflow/submitflow-migrate/src/pkg/progress"
	"github.com/submitflow/submitflow-migrate/src/pkg/sentry"
	"github.com/submitflow/submitflow-migrate/src/pkg/snapshot"
	"github.com/submitflow/submitflow-migrate/src/pkg/store"
	"github.com/submitflow/submitflow-migrate/src/pkg/utils"
	"github.com/submitflow/submitflow-migrate/src/pkg/verifier"
)

// 流水线步骤名与相对权重
const (
	StepExport   = "export"
	StepImport   = "import"
	StepVerify   = "verify"
	StepFinalize = "finalize"
)

// Flags 控制哪些阶段运行
type Flags struct {
	ExportOnly       bool
	ImportOnly       bool
	ImportFile       string
	SkipExport       bool
	SkipImport       bool
	SkipVerification bool
	Import           importer.Options
}

// PhaseStatus 单阶段结局
type PhaseStatus string

const (
	PhaseSucceeded PhaseStatus = "succeeded"
	PhaseFailed    PhaseStatus = "failed"
	PhaseSkipped   PhaseStatus = "skipped"
)

// PhaseOutcome 单阶段结果
type PhaseOutcome struct {
	Status PhaseStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

func (p PhaseOutcome) ran() bool { return p.Status != PhaseSkipped }

// MigrationResult 一次迁移运行的完整结果
type MigrationResult struct {
	RunID        string           `json:"run_id"`
	StartedAt    time.Time        `json:"started_at"`
	Duration     time.Duration    `json:"duration"`
	Success      bool             `json:"success"`
	SnapshotPath string           `json:"snapshot_path,omitempty"`
	Export       PhaseOutcome     `json:"export"`
	Import       PhaseOutcome     `json:"import"`
	Verify       PhaseOutcome     `json:"verify"`
	ImportResult *importer.Result `json:"import_result,omitempty"`
	VerifyResult *verifier.Result `json:"verify_result,omitempty"`
	Warnings     []string         `json:"warnings,omitempty"`
	SummaryPath  string           `json:"summary_path,omitempty"`
	ReportPath   string           `json:"report_path,omitempty"`
	Progress     *progress.Report `json:"progress,omitempty"`
}

// Orchestrator 迁移编排器
type Orchestrator struct {
	cfg     *configs.Config
	tracker *progress.Tracker
	logger  *logrus.Entry
}

// New 创建编排器并注册流水线步骤
func New(cfg *configs.Config) (*Orchestrator, error) {
	tracker := progress.New()
	for _, step := range []struct {
		name   string
		weight int
	}{
		{StepExport, 3},
		{StepImport, 5},
		{StepVerify, 2},
		{StepFinalize, 1},
	} {
		if err := tracker.RegisterStep(step.name, step.weight); err != nil {
			return nil, err
		}
	}

	return &Orchestrator{
		cfg:     cfg,
		tracker: tracker,
		logger:  logrus.WithField("component", "orchestrator"),
	}, nil
}

// Tracker 返回进度跟踪器，调用方可挂监听器做展示
func (o *Orchestrator) Tracker() *progress.Tracker {
	return o.tracker
}

// ExecuteMigration 执行整条迁移流水线。
// 只要一个实际运行的阶段（验证除外）失败，整次运行即失败；
// 验证失败按警告处理，因为数据此时已经导入
func (o *Orchestrator) ExecuteMigration(ctx context.Context, flags Flags) *MigrationResult {
	start := time.Now()
	result := &MigrationResult{
		RunID:     uuid.Must(uuid.NewV4()).String(),
		StartedAt: start,
	}
	o.logger = o.logger.WithField("run_id", result.RunID)
	o.logger.Info("migration run started")

	var snap *snapshot.Snapshot

	// ---- 导出阶段 ----
	if flags.ImportOnly || flags.SkipExport {
		result.Export = PhaseOutcome{Status: PhaseSkipped}
	} else {
		snap = o.runExport(ctx, result)
	}

	// ---- 导入阶段 ----
	importFile := flags.ImportFile
	if importFile == "" {
		importFile = result.SnapshotPath
	}
	switch {
	case flags.ExportOnly || flags.SkipImport:
		result.Import = PhaseOutcome{Status: PhaseSkipped}
	case result.Export.Status == PhaseFailed && flags.ImportFile == "":
		// 导出失败又没有指定快照文件，导入没有输入可用
		result.Import = PhaseOutcome{Status: PhaseSkipped}
		result.Warnings = append(result.Warnings, "import skipped: export failed and no --import-file given")
	case importFile == "":
		result.Import = PhaseOutcome{Status: PhaseSkipped}
		result.Warnings = append(result.Warnings, "import skipped: no snapshot available")
	default:
		snap = o.runImport(importFile, flags, result, snap)
	}

	// ---- 验证阶段 ----
	switch {
	case flags.SkipVerification || flags.ExportOnly:
		result.Verify = PhaseOutcome{Status: PhaseSkipped}
	case !result.Import.ran():
		result.Verify = PhaseOutcome{Status: PhaseSkipped}
	case flags.Import.DryRun:
		// 干跑没有写入任何数据，对照快照验证没有意义
		result.Verify = PhaseOutcome{Status: PhaseSkipped}
	default:
		o.runVerify(result, snap)
	}

	// 成功与否只看实际运行过的导出/导入阶段；验证失败已降级为警告
	result.Success = true
	for _, phase := range []PhaseOutcome{result.Export, result.Import} {
		if phase.ran() && phase.Status == PhaseFailed {
			result.Success = false
		}
	}
	if result.ImportResult != nil && !result.ImportResult.Success {
		result.Success = false
	}
	result.Duration = time.Since(start)

	// ---- 收尾阶段：永远执行，独立兜底，保证摘要一定存在 ----
	o.runFinalize(result)

	return result
}

func (o *Orchestrator) runExport(ctx context.Context, result *MigrationResult) *snapshot.Snapshot {
	if err := o.tracker.StartStep(StepExport); err != nil {
		o.logger.WithError(err).Error("progress tracking out of sync")
	}

	client, err := legacy.Connect(ctx, o.cfg.Legacy.EffectiveDSN())
	if err != nil {
		o.failPhase(StepExport, &result.Export, err)
		return nil
	}
	defer client.Close()

	exp := exporter.New(client, o.cfg.Legacy.SourceName, o.cfg.Export.OutputFolder)
	path, snap, err := exp.ExportAll(ctx)
	if err != nil {
		o.failPhase(StepExport, &result.Export, err)
		return nil
	}

	result.SnapshotPath = path
	result.Export = PhaseOutcome{Status: PhaseSucceeded}
	o.completeStep(StepExport, map[string]interface{}{
		"snapshot": path,
		"records":  snap.TotalRecords(),
	})
	return snap
}

func (o *Orchestrator) runImport(importFile string, flags Flags, result *MigrationResult, snap *snapshot.Snapshot) *snapshot.Snapshot {
	if err := o.tracker.StartStep(StepImport); err != nil {
		o.logger.WithError(err).Error("progress tracking out of sync")
	}

	if err := o.preflightDiskSpace(); err != nil {
		o.failPhase(StepImport, &result.Import, err)
		return snap
	}

	st, err := store.Open(o.cfg.Store.Path)
	if err != nil {
		o.failPhase(StepImport, &result.Import, err)
		return snap
	}
	defer st.Close()

	if err := st.EnsureSchema(); err != nil {
		o.failPhase(StepImport, &result.Import, err)
		return snap
	}

	backups := backup.NewManager(o.cfg.Store.Path, o.cfg.Backup.Folder,
		o.cfg.BackupPrefix(), o.cfg.Backup.Keep)
	importResult := importer.New(st, backups).ImportFromFile(importFile, flags.Import)
	result.ImportResult = importResult

	// 验证阶段对照的是实际导入的快照
	if snap == nil {
		if loaded, err := snapshot.ReadFile(importFile); err == nil {
			snap = loaded
		}
	}

	if importResult.Success {
		result.Import = PhaseOutcome{Status: PhaseSucceeded}
		o.completeStep(StepImport, map[string]interface{}{
			"imported": importResult.ImportedRecords,
			"skipped":  importResult.SkippedRecords,
			"dry_run":  importResult.DryRun,
		})
	} else {
		result.Import = PhaseOutcome{
			Status: PhaseFailed,
			Error:  fmt.Sprintf("%d records failed to import", importResult.ErrorRecords),
		}
		if err := o.tracker.FailStep(StepImport,
			fmt.Sprintf("%d error records", importResult.ErrorRecords)); err != nil {
			o.logger.WithError(err).Error("progress tracking out of sync")
		}
	}
	return snap
}

func (o *Orchestrator) runVerify(result *MigrationResult, snap *snapshot.Snapshot) {
	if err := o.tracker.StartStep(StepVerify); err != nil {
		o.logger.WithError(err).Error("progress tracking out of sync")
	}

	st, err := store.Open(o.cfg.Store.Path)
	if err != nil {
		o.failPhase(StepVerify, &result.Verify, err)
		return
	}
	defer st.Close()

	verifyResult := verifier.New(st).VerifyMigration(snap)
	result.VerifyResult = verifyResult

	if reportPath, err := verifier.WriteReport(o.cfg.Export.OutputFolder, verifyResult); err != nil {
		o.logger.WithError(err).Warn("failed to write verification report")
	} else {
		result.ReportPath = reportPath
	}

	if verifyResult.Success {
		result.Verify = PhaseOutcome{Status: PhaseSucceeded}
		o.completeStep(StepVerify, map[string]interface{}{
			"total_records": verifyResult.TotalRecords,
		})
	} else {
		// 数据已经导入，验证失败降级为警告而非整次失败
		result.Verify = PhaseOutcome{
			Status: PhaseFailed,
			Error:  fmt.Sprintf("%d integrity issues", verifyResult.IntegrityIssues),
		}
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("verification found %d integrity issues (data is already imported, run not failed)",
				verifyResult.IntegrityIssues))
		if err := o.tracker.FailStep(StepVerify,
			fmt.Sprintf("%d integrity issues", verifyResult.IntegrityIssues)); err != nil {
			o.logger.WithError(err).Error("progress tracking out of sync")
		}
	}
}

// runFinalize 收尾：写摘要、打印结果、发通知。自身的错误只记日志
func (o *Orchestrator) runFinalize(result *MigrationResult) {
	if err := o.tracker.StartStep(StepFinalize); err != nil {
		o.logger.WithError(err).Error("progress tracking out of sync")
	}

	result.Progress = o.tracker.Report()

	summaryPath := filepath.Join(o.cfg.Export.OutputFolder,
		fmt.Sprintf("migration-summary-%s.json", time.Now().UTC().Format("2006-01-02T15-04-05Z")))
	if data, err := json.MarshalIndent(result, "", "  "); err != nil {
		o.logger.WithError(err).Error("failed to marshal migration summary")
		sentry.CaptureException(err)
	} else if err := utils.AtomicWriteFile(summaryPath, data, 0644); err != nil {
		o.logger.WithError(err).Error("failed to write migration summary")
		sentry.CaptureException(err)
	} else {
		result.SummaryPath = summaryPath
	}

	o.completeStep(StepFinalize, map[string]interface{}{"summary": result.SummaryPath})
	// 收尾步骤完成后重新生成报告，让摘要里的百分比包含收尾本身
	result.Progress = o.tracker.Report()

	summary := FormatSummary(result)
	fmt.Println(summary)

	notify.SendMigrationSummary(o.cfg, result.Success, result.RunID, summary)

	o.logger.WithFields(logrus.Fields{
		"success":  result.Success,
		"duration": result.Duration,
	}).Info("migration run finished")
}

func (o *Orchestrator) failPhase(step string, phase *PhaseOutcome, err error) {
	*phase = PhaseOutcome{Status: PhaseFailed, Error: err.Error()}
	o.logger.WithError(err).Errorf("%s phase failed", step)
	sentry.CaptureException(err)
	if terr := o.tracker.FailStep(step, err.Error()); terr != nil {
		o.logger.WithError(terr).Error("progress tracking out of sync")
	}
}

func (o *Orchestrator) completeStep(step string, meta map[string]interface{}) {
	if err := o.tracker.CompleteStep(step, meta); err != nil {
		o.logger.WithError(err).Error("progress tracking out of sync")
	}
}

// preflightDiskSpace 导入前检查磁盘余量：至少要有两倍于当前库大小的空闲空间
// （一份备份加上最坏情况下翻倍的库文件）
func (o *Orchestrator) preflightDiskSpace() error {
	storeSize := utils.FileSize(o.cfg.Store.Path)
	if storeSize == 0 {
		return nil
	}
	usage, err := disk.Usage(filepath.Dir(o.cfg.Store.Path))
	if err != nil {
		// 拿不到磁盘信息不挡路，只提醒
		o.logger.WithError(err).Warn("cannot determine free disk space, skipping preflight")
		return nil
	}
	needed := uint64(storeSize) * 2
	if usage.Free < needed {
		return fmt.Errorf("not enough disk space: need %d bytes free, have %d", needed, usage.Free)
	}
	return nil
}

// FormatSummary 把运行结果格式化为人类可读的文本摘要，
// 部分导入失败时附上可直接执行的回滚命令
func FormatSummary(result *MigrationResult) string {
	verdict := "SUCCEEDED"
	if !result.Success {
		verdict = "FAILED"
	}

	s := fmt.Sprintf("Migration run %s: %s (%.1fs)\n", result.RunID, verdict, result.Duration.Seconds())
	s += fmt.Sprintf("  export: %s\n", phaseLine(result.Export))
	s += fmt.Sprintf("  import: %s\n", phaseLine(result.Import))
	s += fmt.Sprintf("  verify: %s\n", phaseLine(result.Verify))

	if ir := result.ImportResult; ir != nil {
		s += fmt.Sprintf("  records: imported=%d skipped=%d errors=%d\n",
			ir.ImportedRecords, ir.SkippedRecords, ir.ErrorRecords)
		if ir.BackupPath != "" {
			s += fmt.Sprintf("  backup: %s\n", ir.BackupPath)
		}
		if !ir.Success && ir.BackupPath != "" {
			s += fmt.Sprintf("  to roll back: submitflow-migrate rollback %s --force\n", ir.BackupPath)
		}
	}
	if result.SummaryPath != "" {
		s += fmt.Sprintf("  summary: %s\n", result.SummaryPath)
	}
	if result.ReportPath != "" {
		s += fmt.Sprintf("  verification report: %s\n", result.ReportPath)
	}
	for _, w := range result.Warnings {
		s += fmt.Sprintf("  warning: %s\n", w)
	}
	return s
}

func phaseLine(p PhaseOutcome) string {
	if p.Error != "" {
		return fmt.Sprintf("%s (%s)", p.Status, p.Error)
	}
	return string(p.Status)
}
