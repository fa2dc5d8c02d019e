package watcher

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/makerGeek/claudiomiro/internal/models"
	"github.com/makerGeek/claudiomiro/internal/taskstate"
)

// Classify maps a settled file change under stateRoot to a semantic event.
// The second result is false when the event is suppressed: task documents
// outside any task directory, or paths outside the state root.
func Classify(stateRoot, path string) (models.Event, bool) {
	rel, err := filepath.Rel(stateRoot, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return models.Event{}, false
	}

	dir := filepath.Dir(path)
	atRoot := dir == filepath.Clean(stateRoot)

	switch filepath.Base(path) {
	case models.StatusFile:
		taskID := TaskIDFor(stateRoot, dir)
		if taskID == "" {
			return models.Event{}, false
		}
		event := models.Event{Kind: models.TaskStatusChanged, TaskID: taskID}
		status, err := readStatusFile(path)
		if err != nil {
			event.Err = models.ParseFailed
		} else {
			event.Status = status
		}
		return event, true

	case models.BlueprintFile:
		taskID := TaskIDFor(stateRoot, dir)
		if taskID == "" {
			return models.Event{}, false
		}
		return models.Event{Kind: models.TaskBlueprintChanged, TaskID: taskID}, true

	case models.ReviewFile:
		taskID := TaskIDFor(stateRoot, dir)
		if taskID == "" {
			return models.Event{}, false
		}
		return models.Event{Kind: models.TaskReviewChanged, TaskID: taskID}, true

	case models.PromptFile:
		if atRoot {
			return models.Event{Kind: models.PromptChanged}, true
		}

	case models.DoneFile:
		if atRoot {
			return models.Event{Kind: models.ProjectCompleted}, true
		}
	}

	return models.Event{Kind: models.FileChanged, Path: filepath.ToSlash(rel)}, true
}

// TaskIDFor returns the nearest directory name between dir and stateRoot
// that matches the task-ID pattern, or "" if there is none.
func TaskIDFor(stateRoot, dir string) string {
	root := filepath.Clean(stateRoot)
	for current := filepath.Clean(dir); current != root; {
		if models.IsTaskID(filepath.Base(current)) {
			return filepath.Base(current)
		}
		parent := filepath.Dir(current)
		if parent == current {
			return ""
		}
		current = parent
	}
	return ""
}

func readStatusFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return taskstate.ParseStatus(data)
}
