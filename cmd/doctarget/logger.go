package main

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newRuntimeLogger builds the daemon's JSON logger writing to a rotated
// file, falling back to stderr when the file cannot be created. It installs
// the logger as zap's global.
func newRuntimeLogger(path, level string) (*zap.Logger, func()) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder

	var sink zapcore.WriteSyncer = zapcore.Lock(os.Stderr)
	var rotator *lumberjack.Logger
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err == nil {
			rotator = &lumberjack.Logger{
				Filename:   path,
				MaxSize:    50,
				MaxBackups: 5,
				MaxAge:     28,
				Compress:   true,
			}
			sink = zapcore.AddSync(rotator)
		}
	}

	logger := zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), sink, lvl), zap.AddCaller())
	restore := zap.ReplaceGlobals(logger)
	return logger, func() {
		_ = logger.Sync()
		restore()
		if rotator != nil {
			_ = rotator.Close()
		}
	}
}
