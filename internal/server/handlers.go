package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/makerGeek/claudiomiro/internal/filelock"
	"github.com/makerGeek/claudiomiro/internal/models"
	"github.com/makerGeek/claudiomiro/internal/projectpath"
	"github.com/makerGeek/claudiomiro/internal/taskstate"
)

const (
	maxDocumentSize = 1 << 20 // 1MB
	defaultEvents   = 100
	maxEvents       = 1000
)

// documentBody is the payload of blueprint and review writes
type documentBody struct {
	Content *string `json:"content"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
		"journal": s.journal != nil,
	})
}

func (s *Server) handleHubStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.Stats())
}

// project validates the path query parameter, writing a 400 on failure
func (s *Server) project(c *gin.Context) (string, bool) {
	project, err := s.validator.Validate(c.Query("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":  err.Error(),
			"reason": string(projectpath.ReasonOf(err)),
		})
		return "", false
	}
	return project, true
}

// task validates both the project and the :id parameter
func (s *Server) task(c *gin.Context) (project, taskID string, ok bool) {
	project, ok = s.project(c)
	if !ok {
		return "", "", false
	}
	taskID = c.Param("id")
	if !models.IsTaskID(taskID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id " + strconv.Quote(taskID)})
		return "", "", false
	}
	return project, taskID, true
}

func (s *Server) handleValidate(c *gin.Context) {
	project, ok := s.project(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": true, "path": project})
}

func (s *Server) handleState(c *gin.Context) {
	project, ok := s.project(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, taskstate.ReadSnapshot(project))
}

func (s *Server) handleListTasks(c *gin.Context) {
	project, ok := s.project(c)
	if !ok {
		return
	}
	tasks, err := taskstate.ListTasks(project)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projectPath": project, "tasks": tasks})
}

func (s *Server) handleGetStatus(c *gin.Context) {
	project, taskID, ok := s.task(c)
	if !ok {
		return
	}
	status, err := taskstate.ReadStatus(taskstate.TaskDir(project, taskID))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, status)
	case errors.Is(err, os.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{"error": "no status document for " + taskID})
	default:
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": models.ParseFailed})
	}
}

func (s *Server) handlePutStatus(c *gin.Context) {
	project, taskID, ok := s.task(c)
	if !ok {
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}

	if _, err := taskstate.ParseStatus(body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status document must be a JSON object"})
		return
	}
	var status models.TaskStatus
	if err := json.Unmarshal(body, &status); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := status.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// the raw body is written so unknown fields and key order survive
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out.WriteByte('\n')
	if s.writeDocument(c, project, taskID, models.StatusFile, out.Bytes()) && status.IsCompleted() {
		s.log.LogInfo("task " + taskID + " marked completed in " + project)
	}
}

func (s *Server) handleGetBlueprint(c *gin.Context) {
	project, taskID, ok := s.task(c)
	if !ok {
		return
	}
	content, ok := s.readDocument(c, project, taskID, models.BlueprintFile)
	if !ok {
		return
	}
	deps, declared := taskstate.ParseDependencies(content)
	if !declared {
		deps = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"taskId":       taskID,
		"content":      string(content),
		"dependencies": deps,
	})
}

func (s *Server) handlePutBlueprint(c *gin.Context) {
	s.putMarkdown(c, models.BlueprintFile)
}

func (s *Server) handleGetReview(c *gin.Context) {
	project, taskID, ok := s.task(c)
	if !ok {
		return
	}
	content, ok := s.readDocument(c, project, taskID, models.ReviewFile)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"taskId":   taskID,
		"content":  string(content),
		"approved": taskstate.IsApproved(content),
	})
}

func (s *Server) handlePutReview(c *gin.Context) {
	s.putMarkdown(c, models.ReviewFile)
}

func (s *Server) putMarkdown(c *gin.Context, name string) {
	project, taskID, ok := s.task(c)
	if !ok {
		return
	}
	body, ok := readBody(c)
	if !ok {
		return
	}
	var doc documentBody
	if err := json.Unmarshal(body, &doc); err != nil || doc.Content == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `body must be {"content": "..."}`})
		return
	}
	s.writeDocument(c, project, taskID, name, []byte(*doc.Content))
}

func (s *Server) handleGetPrompt(c *gin.Context) {
	project, ok := s.project(c)
	if !ok {
		return
	}
	content, err := os.ReadFile(filepath.Join(projectpath.StateRoot(project), models.PromptFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no prompt document"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": string(content)})
}

func (s *Server) handleEvents(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "event journal is disabled"})
		return
	}

	var project string
	if c.Query("path") != "" {
		var ok bool
		if project, ok = s.project(c); !ok {
			return
		}
	}

	limit := defaultEvents
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxEvents)
	}

	entries, err := s.journal.Recent(c.Request.Context(), project, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": entries})
}

// readDocument reads a task document, writing a 404 when it is missing
func (s *Server) readDocument(c *gin.Context, project, taskID, name string) ([]byte, bool) {
	content, err := taskstate.ReadDocument(project, taskID, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no " + name + " for " + taskID})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return content, true
}

// writeDocument replaces a document of an existing task under its lock, so
// the watcher reports exactly one settled change.
// writeDocument replaces name in the task directory and reports success
func (s *Server) writeDocument(c *gin.Context, project, taskID, name string, data []byte) bool {
	dir := taskstate.TaskDir(project, taskID)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown task " + taskID})
		return false
	}

	waited, err := filelock.LockAndWrite(filepath.Join(dir, name), data)
	if waited {
		s.log.LogDebug("waited for another writer of " + name + " of " + taskID)
	}
	if err != nil {
		s.log.LogError("write " + name + " of " + taskID + ": " + err.Error())
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}
	s.log.LogInfo("wrote " + name + " of " + taskID + " in " + project)
	c.JSON(http.StatusOK, gin.H{"ok": true, "taskId": taskID})
	return true
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxDocumentSize))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "document too large"})
		return nil, false
	}
	return body, true
}
