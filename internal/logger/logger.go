// Package logger
package logger

import (
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	log  *zap.Logger
	once sync.Once
)

// Init builds the global logger: a human-readable console core plus a
// rotating JSON file core under logDir.
func Init(logDir string, debug bool) {
	once.Do(func() {
		if logDir == "" {
			logDir = "logs"
		}
		if err := os.MkdirAll(logDir, 0755); err != nil {
			panic(err)
		}

		consoleCfg := zap.NewDevelopmentEncoderConfig()
		consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05")
		consoleCore := zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleCfg),
			zapcore.AddSync(os.Stdout),
			level(debug),
		)

		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		fileSync := zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(logDir, "exbot.json"),
			MaxSize:    10, // MB per file
			MaxBackups: 30,
			MaxAge:     30, // days
			Compress:   true,
		})
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), fileSync, zapcore.InfoLevel)

		log = zap.New(zapcore.NewTee(consoleCore, fileCore), zap.AddCaller())
		zap.ReplaceGlobals(log)
	})
}

func level(debug bool) zapcore.LevelEnabler {
	if debug {
		return zapcore.DebugLevel
	}
	return zapcore.InfoLevel
}

// Get returns the global logger, initializing it with defaults when Init was
// never called (tests mostly).
func Get() *zap.Logger {
	if log == nil {
		Init("logs", true)
	}
	return log
}

// Module returns a child logger tagged with a module field.
func Module(name string) *zap.Logger {
	return Get().With(zap.String("module", name))
}
