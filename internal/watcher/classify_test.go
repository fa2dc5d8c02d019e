package watcher

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerGeek/claudiomiro/internal/models"
)

func TestClassify(t *testing.T) {
	root := t.TempDir()
	write := func(rel, content string) string {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	tests := []struct {
		name       string
		path       string
		wantOK     bool
		wantKind   models.EventKind
		wantTaskID string
		wantPath   string
		wantErr    string
		wantStatus map[string]any
	}{
		{
			name:       "status parsed",
			path:       write("TASK1/execution.json", `{"status":"in_progress"}`),
			wantOK:     true,
			wantKind:   models.TaskStatusChanged,
			wantTaskID: "TASK1",
			wantStatus: map[string]any{"status": "in_progress"},
		},
		{
			name:       "status malformed",
			path:       write("TASK0/execution.json", `{"status":`),
			wantOK:     true,
			wantKind:   models.TaskStatusChanged,
			wantTaskID: "TASK0",
			wantErr:    models.ParseFailed,
		},
		{
			name:       "status unreadable",
			path:       filepath.Join(root, "TASK7", "execution.json"),
			wantOK:     true,
			wantKind:   models.TaskStatusChanged,
			wantTaskID: "TASK7",
			wantErr:    models.ParseFailed,
		},
		{
			name:   "status outside task",
			path:   write("execution.json", `{"status":"completed"}`),
			wantOK: false,
		},
		{
			name:       "blueprint",
			path:       write("TASK2/BLUEPRINT.md", "plan"),
			wantOK:     true,
			wantKind:   models.TaskBlueprintChanged,
			wantTaskID: "TASK2",
		},
		{
			name:       "blueprint nested uses nearest task ancestor",
			path:       write("TASK3/TASK3.1/BLUEPRINT.md", "plan"),
			wantOK:     true,
			wantKind:   models.TaskBlueprintChanged,
			wantTaskID: "TASK3.1",
		},
		{
			name:       "blueprint below task subdirectory",
			path:       write("TASK4/notes/BLUEPRINT.md", "plan"),
			wantOK:     true,
			wantKind:   models.TaskBlueprintChanged,
			wantTaskID: "TASK4",
		},
		{
			name:   "blueprint outside task",
			path:   write("drafts/BLUEPRINT.md", "plan"),
			wantOK: false,
		},
		{
			name:       "review",
			path:       write("TASK5/CODE_REVIEW.md", "ok"),
			wantOK:     true,
			wantKind:   models.TaskReviewChanged,
			wantTaskID: "TASK5",
		},
		{
			name:   "review outside task",
			path:   write("CODE_REVIEW.md", "ok"),
			wantOK: false,
		},
		{
			name:     "prompt at root",
			path:     write("AI_PROMPT.md", "build it"),
			wantOK:   true,
			wantKind: models.PromptChanged,
		},
		{
			name:     "prompt inside task is a plain file",
			path:     write("TASK1/AI_PROMPT.md", "x"),
			wantOK:   true,
			wantKind: models.FileChanged,
			wantPath: "TASK1/AI_PROMPT.md",
		},
		{
			name:     "done marker",
			path:     write("done.txt", ""),
			wantOK:   true,
			wantKind: models.ProjectCompleted,
		},
		{
			name:     "other file",
			path:     write("TASK1/TODO.md", "- [ ] x"),
			wantOK:   true,
			wantKind: models.FileChanged,
			wantPath: "TASK1/TODO.md",
		},
		{
			name:     "other root file",
			path:     write("log.txt", "x"),
			wantOK:   true,
			wantKind: models.FileChanged,
			wantPath: "log.txt",
		},
		{
			name:   "outside state root",
			path:   filepath.Join(filepath.Dir(root), "elsewhere.txt"),
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, ok := Classify(root, tt.path)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantKind, event.Kind)
			assert.Equal(t, tt.wantTaskID, event.TaskID)
			assert.Equal(t, tt.wantPath, event.Path)
			assert.Equal(t, tt.wantErr, event.Err)
			if tt.wantStatus != nil {
				assert.Equal(t, tt.wantStatus, event.Status)
			}
		})
	}
}

func TestClassify_WireShape(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "TASK1")
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, models.StatusFile)
	require.NoError(t, os.WriteFile(path, []byte(`{"status":"in_progress","attempts":1}`), 0644))

	event, ok := Classify(root, path)
	require.True(t, ok)
	frame, err := event.Frame()
	require.NoError(t, err)
	data, err := frame.Marshal()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"task:status","data":{"taskId":"TASK1","status":"in_progress","attempts":1}}`, string(data))
}

func TestTaskIDFor(t *testing.T) {
	root := filepath.Join("/p", ".claudiomiro")
	assert.Equal(t, "TASK1", TaskIDFor(root, filepath.Join(root, "TASK1")))
	assert.Equal(t, "TASK1.2", TaskIDFor(root, filepath.Join(root, "TASK1", "TASK1.2", "x")))
	assert.Equal(t, "", TaskIDFor(root, root))
	assert.Equal(t, "", TaskIDFor(root, filepath.Join(root, "cache")))
	assert.Equal(t, "", TaskIDFor(root, "/other/TASK1/.."))
}
