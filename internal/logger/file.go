package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/makerGeek/claudiomiro/internal/models"
)

// FileLogger writes server activity to a timestamped per-run log file and
// maintains a latest.log symlink pointing to the most recent run.
// It is thread-safe and supports log level filtering.
type FileLogger struct {
	logDir   string
	runLog   *os.File
	runFile  string
	level    Level
	mu       sync.Mutex
}

// NewFileLogger creates a FileLogger in logDir with the given level.
// The directory is created if missing.
func NewFileLogger(logDir string, logLevel string) (*FileLogger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Generate timestamped filename: server-YYYYMMDD-HHMMSS.log
	stamp := time.Now().Format("20060102-150405")
	runFile := filepath.Join(logDir, fmt.Sprintf("server-%s.log", stamp))

	file, err := os.OpenFile(runFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create run log file: %w", err)
	}

	symlinkPath := filepath.Join(logDir, "latest.log")
	if _, err := os.Lstat(symlinkPath); err == nil {
		if err := os.Remove(symlinkPath); err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to remove old symlink: %w", err)
		}
	}
	if err := os.Symlink(filepath.Base(runFile), symlinkPath); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to create symlink: %w", err)
	}

	fl := &FileLogger{
		logDir:   logDir,
		runLog:   file,
		runFile:  runFile,
		level:    ParseLevel(logLevel),
	}

	fl.writeRunLog("=== claudiomiro-ui server log ===\n")
	fl.writeRunLog(fmt.Sprintf("Started at: %s\n\n", time.Now().Format(time.RFC3339)))

	return fl, nil
}

// RunFile returns the path of the current run log
func (fl *FileLogger) RunFile() string {
	return fl.runFile
}

func (fl *FileLogger) LogTrace(message string) { fl.log(LevelTrace, message) }
func (fl *FileLogger) LogDebug(message string) { fl.log(LevelDebug, message) }
func (fl *FileLogger) LogInfo(message string)  { fl.log(LevelInfo, message) }
func (fl *FileLogger) LogWarn(message string)  { fl.log(LevelWarn, message) }
func (fl *FileLogger) LogError(message string) { fl.log(LevelError, message) }

func (fl *FileLogger) log(level Level, message string) {
	if level < fl.level {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] [%s] %s\n", timestamp(), level, message))
}

// LogFrame records a broadcast frame at DEBUG level
func (fl *FileLogger) LogFrame(projectPath string, frame models.Frame, recipients int) {
	if LevelDebug < fl.level {
		return
	}
	fl.writeRunLog(fmt.Sprintf("[%s] %s -> %s (%d clients)\n", timestamp(), frame.Event, projectPath, recipients))
}

// Close flushes and closes the run log
func (fl *FileLogger) Close() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog == nil {
		return nil
	}
	fmt.Fprintf(fl.runLog, "\nStopped at: %s\n", time.Now().Format(time.RFC3339))
	err := fl.runLog.Close()
	fl.runLog = nil
	return err
}

func (fl *FileLogger) writeRunLog(message string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.runLog == nil {
		return
	}
	fl.runLog.WriteString(message)
}
