package log

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/submitflow/submitflow-migrate/src/configs"
)

// New 按配置初始化全局 logrus Logger。
// 输出始终包含 stderr；开启 save_run_log 时每次运行额外写一个 run-*.log 文件。
func New(cfg *configs.Config) *logrus.Logger {
	logLevel := logrus.InfoLevel
	if cfg != nil && cfg.Debug {
		logLevel = logrus.DebugLevel
	}

	writers := []io.Writer{os.Stderr}
	if cfg != nil && cfg.Log.SaveRunLog {
		outputFolder := cfg.Log.OutPutFolder
		if outputFolder == "" {
			outputFolder = "."
		}
		if err := os.MkdirAll(outputFolder, 0755); err == nil {
			runID := time.Now().Format("run-2006-01-02-15-04-05")
			logLocation := filepath.Join(outputFolder, runID+".log")
			logFile, err := os.OpenFile(logLocation, os.O_CREATE|os.O_WRONLY, 0644)
			if err == nil {
				writers = append(writers, logFile)
			} else {
				logrus.WithError(err).Warnf("Failed to open log file %s for output", logLocation)
			}
		}
	}

	logrus.SetOutput(io.MultiWriter(writers...))
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	if cfg != nil && cfg.Debug {
		logrus.SetReportCaller(true)
	}
	logrus.SetLevel(logLevel)

	return logrus.StandardLogger()
}

// GetLogger 返回全局唯一的 logrus Logger。
// 便于在代码任意位置获取 Logger，而无需层层传递。
func GetLogger() *logrus.Logger {
	return logrus.StandardLogger()
}

// WithFields 是对全局 Logger 的便捷封装，返回带字段的 Entry。
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logrus.StandardLogger().WithFields(fields)
}
