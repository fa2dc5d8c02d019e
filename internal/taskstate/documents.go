package taskstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/makerGeek/claudiomiro/internal/models"
)

var (
	dependencyRegex = regexp.MustCompile(`^@dependencies\s*:?\s*(.*)$`)
	approvalRegex   = regexp.MustCompile(`(?i)^[#>*_\s-]*status[*_\s]*:[*_\s]*approved\b`)
)

var markdown = goldmark.New()

// ParseDependencies extracts the task IDs listed in a blueprint's
// @dependencies header. The second result is false when no header exists.
// Headers inside code blocks are ignored.
func ParseDependencies(blueprint []byte) ([]string, bool) {
	doc := markdown.Parser().Parse(text.NewReader(blueprint))

	var deps []string
	found := false
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || found {
			return ast.WalkSkipChildren, nil
		}
		switch n.Kind() {
		case ast.KindFencedCodeBlock, ast.KindCodeBlock, ast.KindHTMLBlock:
			return ast.WalkSkipChildren, nil
		case ast.KindParagraph, ast.KindTextBlock, ast.KindHeading:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				line := strings.TrimSpace(string(seg.Value(blueprint)))
				if m := dependencyRegex.FindStringSubmatch(line); m != nil {
					deps = splitDependencies(m[1])
					found = true
					return ast.WalkStop, nil
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})

	return deps, found
}

func splitDependencies(list string) []string {
	list = strings.TrimSpace(list)
	list = strings.TrimPrefix(list, "[")
	list = strings.TrimSuffix(list, "]")

	deps := make([]string, 0)
	for _, part := range strings.FieldsFunc(list, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	}) {
		part = strings.Trim(part, "`\"'")
		if models.IsTaskID(part) {
			deps = append(deps, part)
		}
	}
	return deps
}

// IsApproved reports whether a review document carries the approval marker
func IsApproved(review []byte) bool {
	for _, line := range strings.Split(string(review), "\n") {
		if approvalRegex.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// TaskDir returns the directory of a task inside a project
func TaskDir(projectPath, taskID string) string {
	return filepath.Join(projectPath, models.StateDirName, taskID)
}

// ReadDocument reads one of the documents of a task. name must be one of
// the task-level basenames.
func ReadDocument(projectPath, taskID, name string) ([]byte, error) {
	if !models.IsTaskID(taskID) {
		return nil, fmt.Errorf("invalid task id %q", taskID)
	}
	return os.ReadFile(filepath.Join(TaskDir(projectPath, taskID), name))
}

// ListTasks summarizes every task of a project for the dashboard's task list
func ListTasks(projectPath string) ([]models.TaskSummary, error) {
	stateRoot := filepath.Join(projectPath, models.StateDirName)
	ids, err := ListTaskIDs(stateRoot)
	if err != nil {
		return nil, err
	}

	tasks := make([]models.TaskSummary, 0, len(ids))
	for _, id := range ids {
		dir := filepath.Join(stateRoot, id)
		summary := models.TaskSummary{ID: id, Dependencies: []string{}}

		status, err := ReadStatus(dir)
		switch {
		case err == nil:
			summary.Status, _ = status["status"].(string)
			summary.Title, _ = status["title"].(string)
		case errors.Is(err, os.ErrNotExist):
			summary.Status = models.StatusPending
		default:
			summary.Error = models.ParseFailed
		}

		if blueprint, err := os.ReadFile(filepath.Join(dir, models.BlueprintFile)); err == nil {
			summary.HasBlueprint = true
			if deps, ok := ParseDependencies(blueprint); ok {
				summary.Dependencies = deps
			}
		}

		if review, err := os.ReadFile(filepath.Join(dir, models.ReviewFile)); err == nil {
			summary.HasReview = true
			summary.Approved = IsApproved(review)
		}

		tasks = append(tasks, summary)
	}
	return tasks, nil
}
