// Package taskstate reads task state from a claudiomiro state root.
//
// The directory tree is the database: every read goes straight to disk.
// The watcher and the snapshot share ReadStatus so a live task:status event
// and a fresh snapshot always agree on how a status document is parsed.
package taskstate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/makerGeek/claudiomiro/internal/models"
)

// TimestampFormat is ISO-8601 with millisecond precision
const TimestampFormat = "2006-01-02T15:04:05.000Z07:00"

var nowFunc = time.Now

// ReadStatus reads and parses a task's status document.
// A missing document returns an error matching os.ErrNotExist; anything that
// is not a JSON object is a parse error.
func ReadStatus(taskDir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(taskDir, models.StatusFile))
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	return ParseStatus(data)
}

// ParseStatus parses status document bytes into a JSON object
func ParseStatus(data []byte) (map[string]any, error) {
	var status map[string]any
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("parse status: %w", err)
	}
	if status == nil {
		return nil, errors.New("parse status: document is not a JSON object")
	}
	return status, nil
}

// TaskState pairs a task ID with its parsed status or error sentinel
type TaskState struct {
	ID    string
	State any
}

// TaskStates keeps tasks in natural order; it marshals to a JSON object
// whose keys appear in that order.
type TaskStates []TaskState

// MarshalJSON writes the states as an ordered JSON object
func (ts TaskStates) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range ts {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(s.ID)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.State)
		if err != nil {
			return nil, fmt.Errorf("marshal task %s: %w", s.ID, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Get returns the state recorded for id
func (ts TaskStates) Get(id string) (any, bool) {
	for _, s := range ts {
		if s.ID == id {
			return s.State, true
		}
	}
	return nil, false
}

// IDs returns the task IDs in order
func (ts TaskStates) IDs() []string {
	ids := make([]string, len(ts))
	for i, s := range ts {
		ids[i] = s.ID
	}
	return ids
}

// Snapshot is the full task state of a project at one moment
type Snapshot struct {
	ProjectPath string     `json:"projectPath"`
	Tasks       TaskStates `json:"tasks"`
	Timestamp   string     `json:"timestamp,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Frame wraps the snapshot in a project:state frame
func (s Snapshot) Frame() models.Frame {
	return models.Frame{Event: models.EventProjectState, Data: s}
}

// ReadSnapshot reads the status of every task under the project's state root.
// It never fails: a state root that cannot be listed yields an empty task set
// with Error filled in.
func ReadSnapshot(projectPath string) Snapshot {
	stateRoot := filepath.Join(projectPath, models.StateDirName)

	ids, err := ListTaskIDs(stateRoot)
	if err != nil {
		return Snapshot{
			ProjectPath: projectPath,
			Tasks:       TaskStates{},
			Error:       err.Error(),
		}
	}

	tasks := make(TaskStates, 0, len(ids))
	for _, id := range ids {
		status, err := ReadStatus(filepath.Join(stateRoot, id))
		switch {
		case err == nil:
			tasks = append(tasks, TaskState{ID: id, State: status})
		case errors.Is(err, os.ErrNotExist):
			// no status document yet
		default:
			tasks = append(tasks, TaskState{ID: id, State: map[string]string{"error": models.ParseFailed}})
		}
	}

	return Snapshot{
		ProjectPath: projectPath,
		Tasks:       tasks,
		Timestamp:   nowFunc().UTC().Format(TimestampFormat),
	}
}

// ListTaskIDs returns the task directories directly under stateRoot in
// natural order. Entries that cannot be stat'd are skipped.
func ListTaskIDs(stateRoot string) ([]string, error) {
	entries, err := os.ReadDir(stateRoot)
	if err != nil {
		return nil, fmt.Errorf("read state root: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !models.IsTaskID(entry.Name()) {
			continue
		}
		// Stat follows symlinks; broken links and permission errors drop out here
		info, err := os.Stat(filepath.Join(stateRoot, entry.Name()))
		if err != nil || !info.IsDir() {
			continue
		}
		ids = append(ids, entry.Name())
	}
	models.SortNatural(ids)
	return ids, nil
}
