package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"tradeflow/conf"
)

// 全局日志，基于 zap + lumberjack 滚动
var l *zap.Logger = zap.NewNop()

type Field = zap.Field

// Pair 构造一个结构化字段
func Pair(key string, value interface{}) Field {
	return zap.Any(key, value)
}

func Init(cfg conf.LogConfig) {
	level := zapcore.InfoLevel
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var cores []zapcore.Core
	if cfg.FileName != "" {
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FileName,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), w, level))
	}
	if cfg.Console || cfg.FileName == "" {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stdout), level))
	}

	l = zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1))
}

func Debug(msg string, fields ...Field) { l.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { l.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { l.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { l.Error(msg, fields...) }

func Sync() { _ = l.Sync() }
