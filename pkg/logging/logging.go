// Package logging provides per-component structured loggers for the
// motion core: console output plus an optional rotating log file, built
// on zap and lumberjack rather than a hand-rolled formatter.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.
package logging

import (
	"os"
	"strings"
	"sync"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the small level set the motion core actually logs at.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func (l Level) zapLevel() zapcore.Level {
	switch l {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ParseLevel parses an environment-style level name, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// FileConfig configures the optional rotating log file sink.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

var (
	mu      sync.Mutex
	atomLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base    *zap.Logger
)

func init() {
	reconfigure(nil)
	if lvl := os.Getenv("MOTION_LOG_LEVEL"); lvl != "" {
		SetLevel(ParseLevel(lvl))
	}
}

func reconfigure(fileCfg *FileConfig) {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.TimeKey = "ts"

	consoleEnc := zapcore.NewConsoleEncoder(encCfg)
	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.Lock(os.Stderr), atomLvl),
	}

	if fileCfg != nil && fileCfg.Path != "" {
		jsonEnc := zapcore.NewJSONEncoder(encCfg)
		rotator := &lumberjack.Logger{
			Filename:   fileCfg.Path,
			MaxSize:    orDefault(fileCfg.MaxSizeMB, 50),
			MaxBackups: orDefault(fileCfg.MaxBackups, 5),
			MaxAge:     orDefault(fileCfg.MaxAgeDays, 14),
		}
		cores = append(cores, zapcore.NewCore(jsonEnc, zapcore.AddSync(rotator), atomLvl))
	}

	base = zap.New(zapcore.NewTee(cores...))
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// ConfigureFile (re)opens the rotating file sink in addition to the
// console sink. Call once during startup; safe to call again to rotate
// to a different path.
func ConfigureFile(cfg FileConfig) {
	mu.Lock()
	defer mu.Unlock()
	reconfigure(&cfg)
}

// SetLevel adjusts the minimum level across every existing and future
// component logger.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	atomLvl.SetLevel(level.zapLevel())
}

// Logger is a component-prefixed structured logger.
type Logger struct {
	z *zap.SugaredLogger
}

// For returns a logger scoped to the given component name, e.g.
// logging.For("ring") or logging.For("kinematics").
func For(component string) *Logger {
	mu.Lock()
	z := base
	mu.Unlock()
	return &Logger{z: z.Sugar().With("component", component)}
}

// With returns a derived logger carrying additional structured fields.
func (l *Logger) With(keyValues ...interface{}) *Logger {
	return &Logger{z: l.z.With(keyValues...)}
}

func (l *Logger) Debug(msg string, keyValues ...interface{}) { l.z.Debugw(msg, keyValues...) }
func (l *Logger) Info(msg string, keyValues ...interface{})  { l.z.Infow(msg, keyValues...) }
func (l *Logger) Warn(msg string, keyValues ...interface{})  { l.z.Warnw(msg, keyValues...) }
func (l *Logger) Error(msg string, keyValues ...interface{}) { l.z.Errorw(msg, keyValues...) }

// WithError is a convenience wrapper appending an "error" field.
func (l *Logger) WithError(err error) *Logger {
	return l.With("error", err)
}

// Sync flushes any buffered log entries; call before process exit.
func Sync() {
	mu.Lock()
	z := base
	mu.Unlock()
	_ = z.Sync()
}
