// Package logger provides logging implementations for the dashboard server.
//
// The logger package offers leveled logging of server activity: connections,
// subscriptions, watcher lifecycle and broadcast frames. Implementations are
// thread-safe and support various output destinations (console, file, etc.).
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/makerGeek/claudiomiro/internal/models"
)

// ConsoleLogger writes "[HH:MM:SS] [LEVEL] message" lines to a writer.
// Levels are colored only when the writer is a terminal.
type ConsoleLogger struct {
	writer      io.Writer
	level       Level
	mutex       sync.Mutex
	colorOutput bool
}

// NewConsoleLogger creates a ConsoleLogger that writes to the provided io.Writer.
// If writer is nil, messages are silently discarded. An empty or unknown
// logLevel means info.
func NewConsoleLogger(writer io.Writer, logLevel string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:      writer,
		level:       ParseLevel(logLevel),
		colorOutput: isTerminal(writer),
	}
}

// isTerminal is true for os.Stdout and os.Stderr attached to a TTY, unless
// NO_COLOR is set.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || (f != os.Stdout && f != os.Stderr) {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (cl *ConsoleLogger) LogTrace(message string) { cl.log(LevelTrace, message) }
func (cl *ConsoleLogger) LogDebug(message string) { cl.log(LevelDebug, message) }
func (cl *ConsoleLogger) LogInfo(message string)  { cl.log(LevelInfo, message) }
func (cl *ConsoleLogger) LogWarn(message string)  { cl.log(LevelWarn, message) }
func (cl *ConsoleLogger) LogError(message string) { cl.log(LevelError, message) }

func (cl *ConsoleLogger) log(level Level, message string) {
	if cl.writer == nil || level < cl.level {
		return
	}

	label := level.String()
	if cl.colorOutput {
		label = level.color().Sprint(label)
	}
	line := fmt.Sprintf("[%s] [%s] %s\n", timestamp(), label, message)

	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	io.WriteString(cl.writer, line)
}

// LogFrame logs a frame broadcast to a project's subscribers at DEBUG level.
// Format: "[HH:MM:SS] <event> -> <project> (<n> clients)"
func (cl *ConsoleLogger) LogFrame(projectPath string, frame models.Frame, recipients int) {
	if cl.writer == nil || LevelDebug < cl.level {
		return
	}

	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	event := frame.Event
	if cl.colorOutput {
		event = EventColor(frame.Event).Sprint(frame.Event)
	}
	fmt.Fprintf(cl.writer, "[%s] %s -> %s (%d clients)\n", timestamp(), event, projectPath, recipients)
}

// EventColor returns the color used to render a frame's event name
func EventColor(event string) *color.Color {
	switch event {
	case models.EventTaskStatus:
		return color.New(color.FgGreen)
	case models.EventTaskBlueprint, models.EventTaskReview:
		return color.New(color.FgCyan)
	case models.EventPromptChanged:
		return color.New(color.FgMagenta)
	case models.EventProjectCompleted:
		return color.New(color.FgGreen, color.Bold)
	case models.EventProjectState:
		return color.New(color.FgBlue, color.Bold)
	case models.EventError:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}

// timestamp returns the current time formatted as HH:MM:SS.
func timestamp() string {
	return time.Now().Format("15:04:05")
}
