// Package logging builds the tagged, bracketed loggers used throughout
// the pipeline, matching the convention webrtc/sfu.go and
// cvpipe/pipeline.go use in the teacher codebase
// (log.Printf("[TAG] ...")).
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/n0remac/video-compositor/internal/config"
)

// Level is a coarse severity filter matching LIVE_COMPOSITOR_LOGGER_LEVEL.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func parseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Logger is a tag-scoped wrapper around the process-wide *log.Logger.
// Subsystems hold one of these rather than the raw std logger so every
// line carries its origin and passes the configured level filter.
type Logger struct {
	tag    string
	level  Level
	format string
	out    *log.Logger
}

// New builds the process-wide base logger from cfg, writing to stdout
// with the standard date/time flags the teacher's log.Printf calls rely
// on implicitly (log package defaults).
func New(cfg config.Config) *Logger {
	return &Logger{
		level:  parseLevel(cfg.LoggerLevel),
		format: cfg.LoggerFormat,
		out:    log.New(os.Stdout, "", log.LstdFlags),
	}
}

// Tagged returns a Logger scoped to tag, e.g. "[pipeline]", "[queue]".
func (l *Logger) Tagged(tag string) *Logger {
	return &Logger{tag: tag, level: l.level, format: l.format, out: l.out}
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if level < l.level {
		return
	}
	if l.format == "json" {
		l.out.Printf("tag=%s level=%s msg=%q", l.tag, level, fmt.Sprintf(format, args...))
		return
	}
	l.out.Printf("[%s] "+format, append([]any{l.tag}, args...)...)
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }
