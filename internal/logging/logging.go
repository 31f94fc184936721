// Package logging создаёт структурированный логгер сервиса.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New создаёт JSON-логгер, пишущий в stderr с указанным уровнем.
// Допустимые уровни: "debug", "info", "warn", "error"; пустая строка означает "info".
func New(level string) *zap.Logger {
	return NewWithWriter(level, os.Stderr)
}

// NewWithWriter создаёт JSON-логгер, пишущий в w с указанным уровнем.
func NewWithWriter(level string, w io.Writer) *zap.Logger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(w),
		ParseLevel(level),
	)

	return zap.New(core, zap.AddCaller())
}

// ParseLevel переводит строку в уровень zap. Для неизвестных значений возвращается info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
