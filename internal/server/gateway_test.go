package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makerGeek/claudiomiro/internal/logger"
	"github.com/makerGeek/claudiomiro/internal/models"
	"github.com/makerGeek/claudiomiro/internal/projectpath"
)

// lockedBuffer collects log output written from handler goroutines
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func wsURL(httpURL, project string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/ws?project=" + url.QueryEscape(project)
}

func startHTTP(t *testing.T, s *Server) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func dial(t *testing.T, ts *httptest.Server, project string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL, project), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) models.InboundFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f models.InboundFrame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

// readUntil skips frames until one with the given event arrives
func readUntil(t *testing.T, conn *websocket.Conn, event string) models.InboundFrame {
	t.Helper()
	for {
		f := readFrame(t, conn)
		if f.Event == event {
			return f
		}
	}
}

func errorMessage(t *testing.T, f models.InboundFrame) string {
	t.Helper()
	require.Equal(t, models.EventError, f.Event)
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(f.Data, &body))
	return body.Message
}

func sendSubscribe(t *testing.T, conn *websocket.Conn, project string) {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"event": models.EventSubscribe,
		"data":  models.SubscribeRequest{ProjectPath: project},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
}

func writeStatus(t *testing.T, project, taskID, content string) {
	t.Helper()
	dir := filepath.Join(project, models.StateDirName, taskID)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, models.StatusFile), []byte(content), 0644))
}

func TestGateway_RejectsInvalidProject(t *testing.T) {
	allowed := testProject(t)
	s := newTestServer(t, Options{Validator: projectpath.NewValidator([]string{allowed})})
	ts := startHTTP(t, s)

	tests := []struct {
		name    string
		project string
		want    projectpath.Reason
	}{
		{"traversal", allowed + "/../../etc", projectpath.ReasonTraversal},
		{"outside allow-list", t.TempDir(), projectpath.ReasonNotAllowed},
		{"missing", filepath.Join(allowed, "gone"), projectpath.ReasonNotExist},
		{"empty", "", projectpath.ReasonEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dial(t, ts, tt.project)

			assert.Contains(t, errorMessage(t, readFrame(t, conn)), string(tt.want))

			conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			_, _, err := conn.ReadMessage()
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "want normal close, got %v", err)
		})
	}

	assert.Equal(t, 0, s.hub.Stats().Connections, "rejected clients never reach the registry")
}

func TestGateway_SnapshotThenLive(t *testing.T) {
	project := testProject(t)
	s := newTestServer(t, Options{})
	ts := startHTTP(t, s)

	conn := dial(t, ts, project)

	first := readFrame(t, conn)
	require.Equal(t, models.EventProjectState, first.Event)
	raw := string(first.Data)
	assert.Less(t, strings.Index(raw, `"TASK2"`), strings.Index(raw, `"TASK10"`))
	assert.Contains(t, raw, `"TASK10":{"error":"parse failed"}`)

	require.Eventually(t, func() bool { return s.hub.HasWatcher(project) }, time.Second, 10*time.Millisecond)

	writeStatus(t, project, "TASK2", `{"status":"completed","attempts":2}`)

	f := readUntil(t, conn, models.EventTaskStatus)
	assert.JSONEq(t, `{"taskId":"TASK2","status":"completed","attempts":2}`, string(f.Data))
}

func TestGateway_ReSubscribe(t *testing.T) {
	p1, p2 := testProject(t), testProject(t)
	s := newTestServer(t, Options{Validator: projectpath.NewValidator([]string{p1, p2})})
	ts := startHTTP(t, s)

	conn := dial(t, ts, p1)
	require.Equal(t, models.EventProjectState, readFrame(t, conn).Event)

	// unauthorized target: error frame, p1 subscription kept
	sendSubscribe(t, conn, t.TempDir())
	assert.Contains(t, errorMessage(t, readFrame(t, conn)), string(projectpath.ReasonNotAllowed))
	assert.Equal(t, 1, s.hub.SubscriberCount(p1))

	writeStatus(t, p1, "TASK1", `{"status":"failed"}`)
	f := readUntil(t, conn, models.EventTaskStatus)
	assert.Contains(t, string(f.Data), `"failed"`)

	// authorized target: snapshot of p2, p1 released
	sendSubscribe(t, conn, p2)
	snap := readUntil(t, conn, models.EventProjectState)
	var body struct {
		ProjectPath string `json:"projectPath"`
	}
	require.NoError(t, json.Unmarshal(snap.Data, &body))
	assert.Equal(t, p2, body.ProjectPath)
	assert.False(t, s.hub.HasWatcher(p1))
	assert.Equal(t, 1, s.hub.SubscriberCount(p2))

	// p1 changes no longer reach this client
	writeStatus(t, p1, "TASK1", `{"status":"completed"}`)
	writeStatus(t, p2, "TASK2", `{"status":"blocked"}`)
	f = readUntil(t, conn, models.EventTaskStatus)
	assert.JSONEq(t, `{"taskId":"TASK2","status":"blocked"}`, string(f.Data))
}

func TestGateway_ReSubscribeLogsPreviousProject(t *testing.T) {
	p1, p2 := testProject(t), testProject(t)
	var logs lockedBuffer
	s := newTestServer(t, Options{Logger: logger.NewConsoleLogger(&logs, "debug")})
	ts := startHTTP(t, s)

	conn := dial(t, ts, p1)
	require.Equal(t, models.EventProjectState, readFrame(t, conn).Event)

	sendSubscribe(t, conn, p1)
	require.Equal(t, models.EventProjectState, readUntil(t, conn, models.EventProjectState).Event)
	require.Eventually(t, func() bool { return strings.Contains(logs.String(), "re-subscribed to "+p1) }, time.Second, 10*time.Millisecond)
	assert.True(t, s.hub.HasWatcher(p1), "same-project re-subscribe keeps the watcher")

	sendSubscribe(t, conn, p2)
	readUntil(t, conn, models.EventProjectState)
	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), "switched from "+p1+" to "+p2)
	}, time.Second, 10*time.Millisecond)
}

func TestGateway_IgnoresMalformedInput(t *testing.T) {
	project := testProject(t)
	s := newTestServer(t, Options{})
	ts := startHTTP(t, s)

	conn := dial(t, ts, project)
	require.Equal(t, models.EventProjectState, readFrame(t, conn).Event)

	for _, msg := range []string{
		"not json {{{",
		`{"data":{}}`,
		`{"event":"unknown:thing","data":1}`,
		`{"event":"subscribe:project","data":"nope"}`,
	} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	}
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}))

	// the connection is still alive and subscribed
	writeStatus(t, project, "TASK1", `{"status":"in_progress"}`)
	f := readUntil(t, conn, models.EventTaskStatus)
	assert.Contains(t, string(f.Data), `"in_progress"`)
	assert.Equal(t, 1, s.hub.SubscriberCount(project))
}

func TestGateway_DisconnectReleasesWatcher(t *testing.T) {
	project := testProject(t)
	s := newTestServer(t, Options{})
	ts := startHTTP(t, s)

	a := dial(t, ts, project)
	b := dial(t, ts, project)
	readFrame(t, a)
	readFrame(t, b)
	require.Eventually(t, func() bool { return s.hub.SubscriberCount(project) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, len(s.hub.Stats().Projects))

	a.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.Close()
	require.Eventually(t, func() bool { return s.hub.SubscriberCount(project) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, s.hub.HasWatcher(project))

	b.Close()
	require.Eventually(t, func() bool { return !s.hub.HasWatcher(project) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, s.hub.SubscriberCount(project))
}

func TestServe_ShutdownClosesClients(t *testing.T) {
	project := testProject(t)
	s := newTestServer(t, Options{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws?project="+url.QueryEscape(project), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, models.EventProjectState, readFrame(t, conn).Event)
	require.Eventually(t, func() bool { return s.hub.HasWatcher(project) }, time.Second, 10*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "want close frame, got %v", err)
	assert.Equal(t, websocket.CloseGoingAway, closeErr.Code)
	assert.False(t, s.hub.HasWatcher(project))
}
