// Package log is the process-wide leveled logger. Messages are printf-style
// and carry the caller's file and line, trimmed at the module root.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"
)

// LogLevel is an alias for slog's Level
type LogLevel = slog.Level

const (
	LevelTrace = slog.Level(-8)
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

const moduleRoot = "wbbaudit/"

var (
	level   slog.LevelVar
	handler atomic.Pointer[slog.TextHandler]
)

func init() {
	level.Set(LevelInfo)
	SetOutput(os.Stderr)
}

// SetLevel changes the minimum level of the global logger.
func SetLevel(l LogLevel) {
	level.Set(l)
}

// SetOutput points the global logger at w. Verification workers may keep
// logging while the output is swapped.
func SetOutput(w io.Writer) {
	handler.Store(slog.NewTextHandler(w, &slog.HandlerOptions{
		AddSource:   true,
		Level:       &level,
		ReplaceAttr: replaceAttr,
	}))
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.SourceKey:
		if src, ok := a.Value.Any().(*slog.Source); ok {
			if idx := strings.LastIndex(src.File, moduleRoot); idx > -1 {
				src.File = src.File[idx:]
			}
		}
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

// ParseLevel maps "trace", "debug", "info", "warn" or "error" to a level.
func ParseLevel(name string) (LogLevel, bool) {
	switch strings.ToLower(name) {
	case "trace":
		return LevelTrace, true
	case "debug":
		return LevelDebug, true
	case "info":
		return LevelInfo, true
	case "warn", "warning":
		return LevelWarn, true
	case "error":
		return LevelError, true
	}
	return LevelInfo, false
}

func log(l LogLevel, format string, v ...any) {
	h := handler.Load()
	if !h.Enabled(context.Background(), l) {
		return
	}
	// skip runtime.Callers, log and the exported helper
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])
	r := slog.NewRecord(time.Now(), l, fmt.Sprintf(format, v...), pcs[0])
	_ = h.Handle(context.Background(), r)
}

func Trace(format string, v ...any) { log(LevelTrace, format, v...) }
func Debug(format string, v ...any) { log(LevelDebug, format, v...) }
func Info(format string, v ...any)  { log(LevelInfo, format, v...) }
func Warn(format string, v ...any)  { log(LevelWarn, format, v...) }
func Error(format string, v ...any) { log(LevelError, format, v...) }
