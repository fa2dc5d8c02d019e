package taskstate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerGeek/claudiomiro/internal/models"
)

// writeTask creates a task directory and, when status is non-empty, its status document
func writeTask(t *testing.T, project, id, status string) string {
	t.Helper()
	dir := filepath.Join(project, models.StateDirName, id)
	require.NoError(t, os.MkdirAll(dir, 0755))
	if status != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, models.StatusFile), []byte(status), 0644))
	}
	return dir
}

func fixedNow(t *testing.T) {
	t.Helper()
	orig := nowFunc
	nowFunc = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC) }
	t.Cleanup(func() { nowFunc = orig })
}

func TestReadSnapshot(t *testing.T) {
	fixedNow(t)
	project := t.TempDir()
	writeTask(t, project, "TASK0", `{"status":"completed","title":"Setup"}`)
	writeTask(t, project, "TASK1", "")
	writeTask(t, project, "TASK2", `{not json`)
	writeTask(t, project, "TASK3", `[1,2,3]`)
	writeTask(t, project, "notes", `{"status":"completed"}`)

	snap := ReadSnapshot(project)

	assert.Equal(t, project, snap.ProjectPath)
	assert.Equal(t, "2026-01-02T03:04:05.006Z", snap.Timestamp)
	assert.Empty(t, snap.Error)
	assert.Equal(t, []string{"TASK0", "TASK2", "TASK3"}, snap.Tasks.IDs())

	state, ok := snap.Tasks.Get("TASK0")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"status": "completed", "title": "Setup"}, state)

	state, ok = snap.Tasks.Get("TASK2")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"error": models.ParseFailed}, state)

	state, ok = snap.Tasks.Get("TASK3")
	require.True(t, ok)
	assert.Equal(t, map[string]string{"error": models.ParseFailed}, state)

	_, ok = snap.Tasks.Get("TASK1")
	assert.False(t, ok, "task without status document is omitted")
}

func TestReadSnapshot_NaturalOrder(t *testing.T) {
	project := t.TempDir()
	for _, id := range []string{"TASK2", "TASK10", "TASK1"} {
		writeTask(t, project, id, `{"status":"pending"}`)
	}

	snap := ReadSnapshot(project)
	assert.Equal(t, []string{"TASK1", "TASK2", "TASK10"}, snap.Tasks.IDs())

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	raw := string(data)
	i1 := strings.Index(raw, `"TASK1"`)
	i2 := strings.Index(raw, `"TASK2"`)
	i10 := strings.Index(raw, `"TASK10"`)
	assert.True(t, i1 < i2 && i2 < i10, "keys keep natural order in JSON: %s", raw)
}

func TestReadSnapshot_MissingStateRoot(t *testing.T) {
	project := t.TempDir()

	snap := ReadSnapshot(project)

	assert.Equal(t, project, snap.ProjectPath)
	assert.NotEmpty(t, snap.Error)
	assert.Empty(t, snap.Timestamp)

	data, err := json.Marshal(snap)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, map[string]any{}, decoded["tasks"])
}

func TestReadSnapshot_SkipsBrokenEntries(t *testing.T) {
	project := t.TempDir()
	writeTask(t, project, "TASK0", `{"status":"pending"}`)

	// broken symlink shaped like a task directory
	link := filepath.Join(project, models.StateDirName, "TASK1")
	if err := os.Symlink(filepath.Join(project, "gone"), link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	// plain file shaped like a task directory
	require.NoError(t, os.WriteFile(filepath.Join(project, models.StateDirName, "TASK2"), []byte("x"), 0644))

	snap := ReadSnapshot(project)
	assert.Empty(t, snap.Error)
	assert.Equal(t, []string{"TASK0"}, snap.Tasks.IDs())
}

func TestSnapshotFrame(t *testing.T) {
	fixedNow(t)
	project := t.TempDir()
	writeTask(t, project, "TASK0", `{"status":"completed"}`)

	data, err := ReadSnapshot(project).Frame().Marshal()
	require.NoError(t, err)

	want := `{"event":"project:state","data":{"projectPath":` + mustJSON(t, project) +
		`,"tasks":{"TASK0":{"status":"completed"}},"timestamp":"2026-01-02T03:04:05.006Z"}}`
	assert.JSONEq(t, want, string(data))
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus([]byte(`{"status":"in_progress","attempts":2}`))
	require.NoError(t, err)
	assert.Equal(t, "in_progress", status["status"])

	_, err = ParseStatus([]byte(`null`))
	assert.Error(t, err)

	_, err = ParseStatus([]byte(`"text"`))
	assert.Error(t, err)

	_, err = ParseStatus([]byte(``))
	assert.Error(t, err)
}

func TestReadStatus_Missing(t *testing.T) {
	_, err := ReadStatus(t.TempDir())
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
