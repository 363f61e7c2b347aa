// Package log provides the module-scoped, leveled logger used throughout
// btcmine. It follows the key-value call shape used across the klaytn/
// go-ethereum family of codebases (logger.Info("msg", "key", val, ...))
// but is backed by go.uber.org/zap rather than a hand-rolled formatter.
package log

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

// Logger is the interface every package in btcmine logs through.
type Logger interface {
	Trace(msg string, ctx ...interface{})
	Debug(msg string, ctx ...interface{})
	Info(msg string, ctx ...interface{})
	Warn(msg string, ctx ...interface{})
	Error(msg string, ctx ...interface{})
	Crit(msg string, ctx ...interface{})
}

type zapLogger struct {
	module string
	sugar  *zap.SugaredLogger
}

var base = mustBuild()

func mustBuild() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "t"
	cfg.EncoderConfig.ConsoleSeparator = " "
	l, err := cfg.Build()
	if err != nil {
		// Logging setup itself must not be able to fail the process silently.
		fmt.Fprintf(os.Stderr, "log: failed to build zap logger: %v\n", err)
		l = zap.NewNop()
	}
	return l
}

// NewModuleLogger returns a Logger tagged with module, mirroring
// log.NewModuleLogger(log.CMDKCN) from the teacher's cmd/kcn/main.go.
func NewModuleLogger(module string) Logger {
	return &zapLogger{
		module: module,
		sugar:  base.Sugar().With("module", module),
	}
}

func (l *zapLogger) Trace(msg string, ctx ...interface{}) { l.sugar.Debugw(msg, ctx...) }
func (l *zapLogger) Debug(msg string, ctx ...interface{}) { l.sugar.Debugw(msg, ctx...) }
func (l *zapLogger) Info(msg string, ctx ...interface{})  { l.sugar.Infow(msg, ctx...) }
func (l *zapLogger) Warn(msg string, ctx ...interface{})  { l.sugar.Warnw(msg, ctx...) }
func (l *zapLogger) Error(msg string, ctx ...interface{}) { l.sugar.Errorw(msg, ctx...) }

// Crit logs at error level and then terminates the process, matching the
// "log then os.Exit(1)" shape of the teacher's cmd/utils.Fatalf.
func (l *zapLogger) Crit(msg string, ctx ...interface{}) {
	l.sugar.Errorw(msg, ctx...)
	os.Exit(1)
}
