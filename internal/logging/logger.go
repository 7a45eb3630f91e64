// Package logging provides zap logger helpers.
package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.MessageKey = "message"
	cfg.NameKey = "module"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func openAppend(path string) (zapcore.WriteSyncer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir for %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return zapcore.AddSync(f), nil
}

// New builds the process logger. JSON lines go to logs/system.log, errors are
// teed to logs/error.log, and a legacy plain-text mirror is appended to
// logs/fetcher.log. In development mode a colored console core mirrors to
// stderr.
func New(logDir string, development bool) (*zap.Logger, error) {
	systemWS, err := openAppend(filepath.Join(logDir, "system.log"))
	if err != nil {
		return nil, err
	}
	errorWS, err := openAppend(filepath.Join(logDir, "error.log"))
	if err != nil {
		return nil, err
	}
	legacyWS, err := openAppend(filepath.Join(logDir, "fetcher.log"))
	if err != nil {
		return nil, err
	}

	legacyCfg := zap.NewDevelopmentEncoderConfig()
	legacyCfg.TimeKey = "ts"
	legacyCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(jsonEncoder(), systemWS, zap.InfoLevel),
		zapcore.NewCore(jsonEncoder(), errorWS, zap.ErrorLevel),
		zapcore.NewCore(zapcore.NewConsoleEncoder(legacyCfg), legacyWS, zap.InfoLevel),
	}
	if development {
		devCfg := zap.NewDevelopmentEncoderConfig()
		devCfg.TimeKey = "ts"
		devCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(devCfg),
			zapcore.AddSync(os.Stderr),
			zap.DebugLevel,
		))
	}

	return zap.New(zapcore.NewTee(cores...)), nil
}

// ForTask derives a run logger that additionally appends JSON lines to
// logs/tasks/task_<id>.log. The returned close func flushes the file core.
func ForTask(base *zap.Logger, logDir string, taskID int, taskName string) (*zap.Logger, func(), error) {
	path := filepath.Join(logDir, "tasks", fmt.Sprintf("task_%d.log", taskID))
	ws, err := openAppend(path)
	if err != nil {
		return nil, nil, err
	}
	taskCore := zapcore.NewCore(jsonEncoder(), ws, zap.InfoLevel)
	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, taskCore)
	})).With(
		zap.Int("task_id", taskID),
		zap.String("task_name", taskName),
	)
	return logger, func() { _ = taskCore.Sync() }, nil
}
