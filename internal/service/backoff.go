package service

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/d60-Lab/projtrack/internal/model"
)

// retrySchedule 按 attempt_count 取退避；超出后固定为最后一档
var retrySchedule = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	time.Minute,
	5 * time.Minute,
	15 * time.Minute,
}

// RetryDelay 返回第 attempt 次尝试失败后的等待时间（attempt 从 1 开始）
func RetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(retrySchedule) {
		return retrySchedule[len(retrySchedule)-1]
	}
	return retrySchedule[attempt-1]
}

const truncatedSuffix = "... (truncated)"

var credentialPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`), `$1:[REDACTED]@`},
	{regexp.MustCompile(`(?i)\bpassword\s*=\s*[^\s]+`), `password=[REDACTED]`},
	{regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*`), `Bearer [REDACTED]`},
}

// LastErrorText 生成写入 last_error 的文本：去掉凭据并截断到列宽
func LastErrorText(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.TrimSpace(err.Error())
	for _, p := range credentialPatterns {
		msg = p.re.ReplaceAllString(msg, p.repl)
	}
	if utf8.RuneCountInString(msg) <= model.MaxLastErrorLength {
		return msg
	}
	keep := model.MaxLastErrorLength - len(truncatedSuffix)
	runes := []rune(msg)
	return string(runes[:keep]) + truncatedSuffix
}

// sleepCtx 可取消的等待；被取消时返回 false
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
