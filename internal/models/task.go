package models

import (
	"errors"
	"fmt"
	"regexp"
)

// On-disk layout of a claudiomiro project. The state directory holds one
// directory per task plus a few project-level documents.
const (
	// StateDirName is the state root beneath a project directory
	StateDirName = ".claudiomiro"

	// StatusFile is the machine-written task status document
	StatusFile = "execution.json"

	// BlueprintFile is the task plan with a parsable dependency header
	BlueprintFile = "BLUEPRINT.md"

	// ReviewFile is the code review document, optionally carrying an approval marker
	ReviewFile = "CODE_REVIEW.md"

	// PromptFile is the project-level prompt, located directly in the state root
	PromptFile = "AI_PROMPT.md"

	// DoneFile marks the whole project as completed, located directly in the state root
	DoneFile = "done.txt"
)

// ParseFailed is the sentinel error text substituted for unreadable status documents
const ParseFailed = "parse failed"

// TaskIDPattern matches task directory names: TASK0, TASK12, TASK3.1, TASK3.1.2
var TaskIDPattern = regexp.MustCompile(`^TASK\d+(\.\d+)*$`)

// IsTaskID reports whether name is a valid task directory name
func IsTaskID(name string) bool {
	return TaskIDPattern.MatchString(name)
}

// Task status values written by the executor
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusBlocked    = "blocked"
)

var validStatuses = map[string]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusCompleted:  true,
	StatusFailed:     true,
	StatusBlocked:    true,
}

// Phase identifies the step of the pipeline a task is currently in
type Phase struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Completion holds the executor's summary once a task finishes
type Completion struct {
	Summary string `json:"summary,omitempty"`
}

// TaskStatus is the typed view of a task's status document.
// The dashboard forwards the raw document to clients untouched; this type is
// only used to validate writes coming through the REST layer.
type TaskStatus struct {
	Status       string           `json:"status"`
	Title        string           `json:"title,omitempty"`
	CurrentPhase *Phase           `json:"currentPhase,omitempty"`
	Completion   *Completion      `json:"completion,omitempty"`
	ErrorHistory []map[string]any `json:"errorHistory,omitempty"`
	Attempts     int              `json:"attempts,omitempty"`
}

// Validate checks the fields the dashboard relies on
func (s *TaskStatus) Validate() error {
	if s.Status == "" {
		return errors.New("status is required")
	}
	if !validStatuses[s.Status] {
		return fmt.Errorf("invalid status %q", s.Status)
	}
	if s.Attempts < 0 {
		return fmt.Errorf("attempts must be >= 0, got %d", s.Attempts)
	}
	return nil
}

// IsCompleted returns true if the task status is "completed"
func (s *TaskStatus) IsCompleted() bool {
	return s.Status == StatusCompleted
}

// TaskSummary is one row of the task list served to the dashboard
type TaskSummary struct {
	ID           string   `json:"id"`
	Status       string   `json:"status,omitempty"`
	Title        string   `json:"title,omitempty"`
	Error        string   `json:"error,omitempty"`
	Dependencies []string `json:"dependencies"`
	HasBlueprint bool     `json:"hasBlueprint"`
	HasReview    bool     `json:"hasReview"`
	Approved     bool     `json:"approved"`
}
