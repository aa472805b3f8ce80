// Package logger wraps zap with the field-map API used across trafficwatch.
package logger

import (
	"io"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes structured JSON lines tagged with the app name and environment.
type Logger struct {
	appEnv  string
	appName string
	l       *zap.Logger
}

// Options tune a Logger. The zero value logs at debug level in UTC.
type Options struct {
	Env      string
	Level    string // debug, info, warn, error
	Location *time.Location
}

// NewZapLogger returns a JSON logger writing to writers, or stdout when none are given.
func NewZapLogger(appName string, opts Options, writers ...io.Writer) *Logger {
	var multiWriters []zapcore.WriteSyncer

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = timeEncoder("2006-01-02T15:04:05.000Z07:00", loc)
	cfg.TimeKey = "timestamp"

	if len(writers) == 0 {
		multiWriters = append(multiWriters, os.Stdout)
	} else {
		for _, writer := range writers {
			multiWriters = append(multiWriters, zapcore.AddSync(writer))
		}
	}

	level := zapcore.DebugLevel
	if opts.Level != "" {
		if parsed, err := zapcore.ParseLevel(opts.Level); err == nil {
			level = parsed
		}
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg),
		zapcore.NewMultiWriteSyncer(multiWriters...),
		level,
	)

	return &Logger{
		appEnv:  opts.Env,
		appName: appName,
		l:       zap.New(core),
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{l: zap.NewNop()}
}

// Stop flushes buffered entries.
func (l *Logger) Stop() error {
	return l.l.Sync()
}

func (l *Logger) Error(err error, fields ...map[string]any) {
	file, line, funcName := getRuntimeParams()
	l.l.WithOptions(zap.Fields(firstFields(fields)...)).Error(
		err.Error(),
		zap.String("app_env", l.appEnv),
		zap.String("app_name", l.appName),
		zap.String("error", err.Error()),
		zap.String("caller_file", file),
		zap.Int("caller_line", line),
		zap.String("caller_func", funcName),
	)
}

func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.l.WithOptions(zap.Fields(firstFields(fields)...)).Info(msg, l.common()...)
}

func (l *Logger) Warning(msg string, fields ...map[string]any) {
	l.l.WithOptions(zap.Fields(firstFields(fields)...)).Warn(msg, l.common()...)
}

func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.l.WithOptions(zap.Fields(firstFields(fields)...)).Debug(msg, l.common()...)
}

func (l *Logger) Fatal(msg string, fields ...map[string]any) {
	l.l.WithOptions(zap.Fields(firstFields(fields)...)).Fatal(msg, l.common()...)
}

// common returns the fields every entry carries. It must be called directly
// from a level method so the caller lookup lands on the right frame.
func (l *Logger) common() []zap.Field {
	file, line, funcName := callerParams(3)
	return []zap.Field{
		zap.String("app_env", l.appEnv),
		zap.String("app_name", l.appName),
		zap.String("caller_file", file),
		zap.Int("caller_line", line),
		zap.String("caller_func", funcName),
	}
}

func firstFields(fields []map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	return mapToZapFields(fields[0])
}

func mapToZapFields(data map[string]any) []zap.Field {
	zapFields := make([]zap.Field, 0, len(data))

	for k, v := range data {
		zapFields = append(zapFields, zap.Any(k, v))
	}

	return zapFields
}

func getRuntimeParams() (file string, line int, funcName string) {
	return callerParams(3)
}

func callerParams(skip int) (file string, line int, funcName string) {
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "not_defined", 0, "not_defined"
	}
	return file, line, runtime.FuncForPC(pc).Name()
}

func timeEncoder(layout string, location *time.Location) func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	return func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		t = t.In(location)
		type appendTimeEncoder interface {
			AppendTimeLayout(time.Time, string)
		}
		if enc, ok := enc.(appendTimeEncoder); ok {
			enc.AppendTimeLayout(t, layout)
			return
		}
		enc.AppendString(t.Format(layout))
	}
}
