// Package exporter 从源库读取全部实体并写出一个不可变的快照文件。
package exporter

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/submitflow/submitflow-migrate/src/pkg/legacy"
	"github.com/submitflow/submitflow-migrate/src/pkg/snapshot"
)

// Exporter 快照导出器
type Exporter struct {
	reader       legacy.Reader
	source       string
	outputFolder string
	logger       *logrus.Entry
}

// New 创建导出器。source 为源标识（写入快照头与文件名）
func New(reader legacy.Reader, source, outputFolder string) *Exporter {
	return &Exporter{
		reader:       reader,
		source:       source,
		outputFolder: outputFolder,
		logger: logrus.WithFields(logrus.Fields{
			"component": "exporter",
			"source":    source,
		}),
	}
}

// ExportAll 读取源库的每一种实体，归一化后写出一个带时间戳的快照文件。
// 任何一种实体读取失败都会使整次导出失败，绝不落半个快照
func (e *Exporter) ExportAll(ctx context.Context) (string, *snapshot.Snapshot, error) {
	snap := snapshot.New(e.source)

	var err error
	if snap.Departments, err = e.reader.ListDepartments(ctx); err != nil {
		return "", nil, fmt.Errorf("export departments: %w", err)
	}
	if snap.Users, err = e.reader.ListUsers(ctx); err != nil {
		return "", nil, fmt.Errorf("export users: %w", err)
	}
	if snap.Submissions, err = e.reader.ListSubmissions(ctx); err != nil {
		return "", nil, fmt.Errorf("export submissions: %w", err)
	}
	if snap.Notifications, err = e.reader.ListNotifications(ctx); err != nil {
		return "", nil, fmt.Errorf("export notifications: %w", err)
	}
	if snap.AuditLogs, err = e.reader.ListAuditLogs(ctx); err != nil {
		return "", nil, fmt.Errorf("export audit logs: %w", err)
	}

	path, err := snap.WriteFile(e.outputFolder)
	if err != nil {
		return "", nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"path":          path,
		"departments":   len(snap.Departments),
		"users":         len(snap.Users),
		"submissions":   len(snap.Submissions),
		"notifications": len(snap.Notifications),
		"audit_logs":    len(snap.AuditLogs),
	}).Info("snapshot exported")

	return path, snap, nil
}
