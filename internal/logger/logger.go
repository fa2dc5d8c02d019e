package logger

import "github.com/makerGeek/claudiomiro/internal/models"

// Logger is the leveled logging interface accepted by server components.
type Logger interface {
	LogTrace(message string)
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// FrameLogger is implemented by loggers that render broadcast frames
type FrameLogger interface {
	LogFrame(projectPath string, frame models.Frame, recipients int)
}

// NoOpLogger discards everything. Used in tests and when no logger is configured.
type NoOpLogger struct{}

// NewNoOpLogger creates a new no-op logger
func NewNoOpLogger() *NoOpLogger {
	return &NoOpLogger{}
}

func (n *NoOpLogger) LogTrace(message string) {}
func (n *NoOpLogger) LogDebug(message string) {}
func (n *NoOpLogger) LogInfo(message string)  {}
func (n *NoOpLogger) LogWarn(message string)  {}
func (n *NoOpLogger) LogError(message string) {}

// OrNop returns l, or a no-op logger when l is nil
func OrNop(l Logger) Logger {
	if l == nil {
		return NewNoOpLogger()
	}
	return l
}

// Tee fans every message out to several loggers
type Tee []Logger

func (t Tee) LogTrace(message string) {
	for _, l := range t {
		l.LogTrace(message)
	}
}

func (t Tee) LogDebug(message string) {
	for _, l := range t {
		l.LogDebug(message)
	}
}

func (t Tee) LogInfo(message string) {
	for _, l := range t {
		l.LogInfo(message)
	}
}

func (t Tee) LogWarn(message string) {
	for _, l := range t {
		l.LogWarn(message)
	}
}

func (t Tee) LogError(message string) {
	for _, l := range t {
		l.LogError(message)
	}
}

// LogFrame forwards to every member that renders frames
func (t Tee) LogFrame(projectPath string, frame models.Frame, recipients int) {
	for _, l := range t {
		if fl, ok := l.(FrameLogger); ok {
			fl.LogFrame(projectPath, frame, recipients)
		}
	}
}
