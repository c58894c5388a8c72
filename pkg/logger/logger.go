package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init 构建全局 zap logger；未调用前为 no-op
func Init(level, format string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	zap.ReplaceGlobals(l)
	return nil
}

// L 返回当前全局 logger
func L() *zap.Logger { return zap.L() }

func Debug(msg string, fields ...zap.Field) { zap.L().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { zap.L().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { zap.L().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { zap.L().Error(msg, fields...) }

// Sync 刷新缓冲日志
func Sync() error { return zap.L().Sync() }
