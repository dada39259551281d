// Package sentry 提供 Sentry 错误监控的封装。
// 用于收集迁移过程中的致命错误，DSN 为空时完全禁用。
package sentry

import (
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

var (
	initialized bool
	initMu      sync.RWMutex
)

// 敏感关键字列表，命中时整条消息不上报，避免连接串、口令泄漏
var sensitiveKeywords = []string{
	"password", "passwd", "secret", "token", "dsn", "credential", "api_key",
}

// Init 初始化 Sentry SDK。dsn 为空时不初始化。
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          release,
		AttachStacktrace: true,
		BeforeSend:       beforeSendHook,
		SampleRate:       1.0,
	})
	if err != nil {
		return err
	}

	initMu.Lock()
	initialized = true
	initMu.Unlock()
	return nil
}

// IsInitialized 返回 Sentry 是否已初始化
func IsInitialized() bool {
	initMu.RLock()
	defer initMu.RUnlock()
	return initialized
}

// Flush 刷新所有待发送事件（程序退出前调用）
func Flush(timeout time.Duration) {
	if !IsInitialized() {
		return
	}
	sentry.Flush(timeout)
}

// CaptureException 上报错误（未初始化时为空操作）
func CaptureException(err error) {
	if err == nil || !IsInitialized() {
		return
	}
	sentry.CaptureException(err)
}

// Recover 用于 goroutine 的 panic 恢复，应在 goroutine 开始时 defer 调用。
// 注意：必须先调用 recover()，再检查 Sentry 状态，否则 panic 不会被捕获
func Recover() {
	err := recover()
	if err == nil {
		return
	}
	if IsInitialized() {
		sentry.CurrentHub().Recover(err)
		sentry.Flush(2 * time.Second)
	}
	panic(err)
}

// Go 启动带 panic 上报的 goroutine
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil && IsInitialized() {
				sentry.CurrentHub().Recover(r)
				sentry.Flush(2 * time.Second)
			}
		}()
		fn()
	}()
}

func beforeSendHook(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	lower := strings.ToLower(event.Message)
	for _, kw := range sensitiveKeywords {
		if strings.Contains(lower, kw) {
			return nil
		}
	}
	return event
}
