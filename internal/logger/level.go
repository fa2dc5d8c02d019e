package logger

import (
	"strings"

	"github.com/fatih/color"
)

// Level orders log messages by severity
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[string]Level{
	"trace": LevelTrace,
	"debug": LevelDebug,
	"info":  LevelInfo,
	"warn":  LevelWarn,
	"error": LevelError,
}

// String returns the upper-case label printed in log lines
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l Level) color() *color.Color {
	switch l {
	case LevelTrace:
		return color.New(color.FgHiBlack)
	case LevelDebug:
		return color.New(color.FgCyan)
	case LevelWarn:
		return color.New(color.FgYellow)
	case LevelError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgBlue)
	}
}

// IsValidLevel reports whether level is one of trace, debug, info, warn, error
func IsValidLevel(level string) bool {
	_, ok := levelNames[level]
	return ok
}

// ParseLevel reads a configured level, ignoring case and surrounding space.
// Empty or unknown values fall back to LevelInfo.
func ParseLevel(level string) Level {
	if l, ok := levelNames[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return LevelInfo
}
