package logx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	glogger "gorm.io/gorm/logger"
)

// GetLevelString returns the global level's lowercase name, in the shape
// the gorm bridge and config reporting expect.
func GetLevelString() string { return GetLevel().String() }

// levelWriter forwards to dst only while the global level admits min.
type levelWriter struct {
	min Level
	dst io.Writer
}

func (w levelWriter) Write(p []byte) (int, error) {
	if GetLevel() <= w.min {
		return w.dst.Write(p)
	}
	return len(p), nil
}

// HookGin redirects gin's default writers through this package so the
// admin API logs in the same line format as everything else. Call once
// before building the router.
func HookGin() {
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = ginLine{dst: levelWriter{min: Info, dst: infoW}, lvl: Info}
	gin.DefaultErrorWriter = ginLine{dst: levelWriter{min: Error, dst: errW}, lvl: Error}
}

type ginLine struct {
	dst io.Writer
	lvl Level
}

func (g ginLine) Write(p []byte) (int, error) {
	ts := time.Now().Format("2006/01/02 15:04:05.000000")
	for _, line := range strings.Split(strings.TrimRight(string(p), "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var b bytes.Buffer
		fmt.Fprintf(&b, "%s -: %s gin - %s\n", ts, levelTag(g.lvl), stripGinPrefix(line))
		if _, err := g.dst.Write(b.Bytes()); err != nil {
			return len(p), err
		}
	}
	return len(p), nil
}

func stripGinPrefix(s string) string {
	s = strings.TrimSpace(s)
	for _, pfx := range []string{"[GIN-debug]", "[GIN]"} {
		s = strings.TrimSpace(strings.TrimPrefix(s, pfx))
	}
	return s
}

// gormSplitLogger adapts gorm's logger interface onto this package's
// sinks: queries and slow-query warnings to stdout, errors to stderr.
type gormSplitLogger struct {
	level glogger.LogLevel
	slow  time.Duration
}

// NewGormLogger builds a gorm logger at level, flagging statements slower
// than slowThreshold.
func NewGormLogger(level string, slowThreshold time.Duration) glogger.Interface {
	return &gormSplitLogger{level: toGormLevel(level), slow: slowThreshold}
}

// GormLoggerDefault is NewGormLogger with the 500ms slow threshold used
// everywhere a caller has no reason to pick its own.
func GormLoggerDefault(level string) glogger.Interface {
	return NewGormLogger(level, 500*time.Millisecond)
}

func (l *gormSplitLogger) LogMode(level glogger.LogLevel) glogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func gormWrite(dst io.Writer, lvl Level, msg string) {
	ts := time.Now().Format("2006/01/02 15:04:05.000000")
	for _, line := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var b bytes.Buffer
		fmt.Fprintf(&b, "%s %s: %s gorm - %s\n", ts, site(3), levelTag(lvl), line)
		_, _ = dst.Write(b.Bytes())
	}
}

func (l *gormSplitLogger) Info(_ context.Context, s string, args ...any) {
	if l.level >= glogger.Info {
		gormWrite(infoW, Info, fmt.Sprintf(s, args...))
	}
}

func (l *gormSplitLogger) Warn(_ context.Context, s string, args ...any) {
	if l.level >= glogger.Warn {
		gormWrite(infoW, Warn, fmt.Sprintf(s, args...))
	}
}

func (l *gormSplitLogger) Error(_ context.Context, s string, args ...any) {
	if l.level >= glogger.Error {
		gormWrite(errW, Error, fmt.Sprintf(s, args...))
	}
}

func (l *gormSplitLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level == glogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	rowStr := "-"
	if rows >= 0 {
		rowStr = fmt.Sprintf("%d", rows)
	}
	ms := float64(elapsed.Microseconds()) / 1000.0
	switch {
	case err != nil && l.level >= glogger.Error:
		gormWrite(errW, Error, fmt.Sprintf("[%.3fms] rows=%s %s | err=%v", ms, rowStr, sql, err))
	case l.slow > 0 && elapsed > l.slow && l.level >= glogger.Warn:
		gormWrite(infoW, Warn, fmt.Sprintf("[SLOW >= %s] [%.3fms] rows=%s %s", l.slow, ms, rowStr, sql))
	case l.level >= glogger.Info:
		gormWrite(infoW, Debug, fmt.Sprintf("[%.3fms] rows=%s %s", ms, rowStr, sql))
	}
}

func toGormLevel(s string) glogger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "off":
		return glogger.Silent
	case "error":
		return glogger.Error
	case "warn", "warning":
		return glogger.Warn
	case "debug":
		return glogger.Info // debug prints SQL
	case "info":
		return glogger.Warn // info keeps only warnings and slow queries
	default:
		return glogger.Warn
	}
}
