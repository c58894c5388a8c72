// Package errreport 把后台循环里的错误上报到 Sentry；未配置 DSN 时全部为空操作。
package errreport

import (
	"time"

	"github.com/getsentry/sentry-go"
)

// Init 初始化 Sentry 客户端；dsn 为空时不做任何事
func Init(dsn, environment, release string) error {
	if dsn == "" {
		return nil
	}
	return sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
		Release:     release,
	})
}

// Capture 带标签上报一个错误
func Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush 等待未发送的事件，退出前调用
func Flush(timeout time.Duration) {
	sentry.Flush(timeout)
}
