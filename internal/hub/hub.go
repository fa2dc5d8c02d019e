// Package hub keeps the subscription registry of the dashboard server: which
// connections follow which project, and the single watcher running for each
// project that has at least one follower.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/makerGeek/claudiomiro/internal/logger"
	"github.com/makerGeek/claudiomiro/internal/models"
	"github.com/makerGeek/claudiomiro/internal/taskstate"
	"github.com/makerGeek/claudiomiro/internal/watcher"
)

var (
	// ErrHubClosed is returned by Subscribe after Shutdown
	ErrHubClosed = errors.New("hub is shut down")

	// ErrConnClosed is returned by Conn.Send for a connection that already
	// went away. Broadcasts skip such connections silently.
	ErrConnClosed = errors.New("connection closed")
)

// Conn is one client connection as seen by the hub. Send must not block on
// network I/O; implementations queue the frame for their own writer.
type Conn interface {
	ID() string
	Send(data []byte) error
	Close() error
}

// ProjectWatcher is the part of watcher.Watcher the hub depends on
type ProjectWatcher interface {
	Start() error
	Stop() error
	Events() <-chan models.Event
}

// WatcherFactory builds an idle watcher for a project
type WatcherFactory func(projectPath string) ProjectWatcher

// Recorder receives every broadcast frame in emission order. Calls come from
// a single goroutine, so a slow Record never delays live delivery.
type Recorder interface {
	Record(ctx context.Context, projectPath string, frame models.Frame) error
}

// Options configures a Hub
type Options struct {
	Logger         logger.Logger
	WatcherFactory WatcherFactory
	Recorder       Recorder
}

// recordQueueSize bounds the frames waiting for the Recorder
const recordQueueSize = 1024

type record struct {
	projectPath string
	frame       models.Frame
}

// watchEntry identifies one watcher run. A pump only delivers while its
// entry is still the registered one for the project.
type watchEntry struct {
	watcher ProjectWatcher
}

// Hub is the subscription registry and broadcast fan-out
type Hub struct {
	log      logger.Logger
	factory  WatcherFactory
	recorder Recorder

	// records is nil without a Recorder; closed by Shutdown
	records    chan record
	recordDone chan struct{}

	mu            sync.Mutex
	closed        bool
	subscribers   map[string]map[string]Conn
	watchers      map[string]*watchEntry
	subscriptions map[string]string
}

// DefaultWatcherFactory returns a factory producing fsnotify watchers
func DefaultWatcherFactory(opts watcher.Options) WatcherFactory {
	return func(projectPath string) ProjectWatcher {
		return watcher.New(projectPath, opts)
	}
}

// New creates an empty Hub
func New(opts Options) *Hub {
	log := logger.OrNop(opts.Logger)
	factory := opts.WatcherFactory
	if factory == nil {
		factory = DefaultWatcherFactory(watcher.Options{Logger: log})
	}
	h := &Hub{
		log:           log,
		factory:       factory,
		recorder:      opts.Recorder,
		subscribers:   make(map[string]map[string]Conn),
		watchers:      make(map[string]*watchEntry),
		subscriptions: make(map[string]string),
	}
	if h.recorder != nil {
		h.records = make(chan record, recordQueueSize)
		h.recordDone = make(chan struct{})
		go h.drainRecords()
	}
	return h
}

// Subscribe moves conn to projectPath. projectPath must already be validated.
// Any previous subscription of conn is released first. The project snapshot is
// queued to conn before Subscribe returns, ahead of any live event for the
// project.
func (h *Hub) Subscribe(conn Conn, projectPath string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}

	id := conn.ID()
	if prev, ok := h.subscriptions[id]; ok && prev != projectPath {
		h.unsubscribeLocked(id, prev)
	}

	set, ok := h.subscribers[projectPath]
	if !ok {
		set = make(map[string]Conn)
		h.subscribers[projectPath] = set
	}
	set[id] = conn
	h.subscriptions[id] = projectPath

	var startErr error
	if _, watching := h.watchers[projectPath]; !watching {
		startErr = h.startWatcherLocked(projectPath)
	}

	h.sendLocked(conn, taskstate.ReadSnapshot(projectPath).Frame())
	if startErr != nil {
		h.sendLocked(conn, models.ErrorFrame(fmt.Sprintf("live updates unavailable: %v", startErr)))
	}

	h.log.LogDebug(fmt.Sprintf("client %s subscribed to %s (%d clients)", id, projectPath, len(set)))
	return nil
}

// Unsubscribe removes conn from projectPath. The project's watcher is stopped
// when its last subscriber leaves.
func (h *Hub) Unsubscribe(conn Conn, projectPath string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(conn.ID(), projectPath)
}

// Disconnect releases whatever subscription conn holds
func (h *Hub) Disconnect(conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if project, ok := h.subscriptions[conn.ID()]; ok {
		h.unsubscribeLocked(conn.ID(), project)
	}
}

func (h *Hub) unsubscribeLocked(id, projectPath string) {
	if h.subscriptions[id] == projectPath {
		delete(h.subscriptions, id)
	}

	set, ok := h.subscribers[projectPath]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) > 0 {
		return
	}

	delete(h.subscribers, projectPath)
	if entry, ok := h.watchers[projectPath]; ok {
		delete(h.watchers, projectPath)
		if err := entry.watcher.Stop(); err != nil {
			h.log.LogWarn(fmt.Sprintf("stop watcher for %s: %v", projectPath, err))
		}
		h.log.LogDebug(fmt.Sprintf("last client left %s, watcher stopped", projectPath))
	}
}

// startWatcherLocked starts and registers a watcher for projectPath. On
// failure nothing is registered and the error is returned for the client.
func (h *Hub) startWatcherLocked(projectPath string) error {
	w := h.factory(projectPath)
	if err := w.Start(); err != nil {
		h.log.LogWarn(fmt.Sprintf("live updates unavailable for %s: %v", projectPath, err))
		return err
	}

	entry := &watchEntry{watcher: w}
	h.watchers[projectPath] = entry
	go h.pump(projectPath, entry, w.Events())
	return nil
}

// pump forwards one watcher run's events until Stop closes the channel
func (h *Hub) pump(projectPath string, entry *watchEntry, events <-chan models.Event) {
	for event := range events {
		frame, err := event.Frame()
		if err != nil {
			h.log.LogError(fmt.Sprintf("drop event for %s: %v", projectPath, err))
			continue
		}
		h.deliver(projectPath, entry, frame)
	}
}

func (h *Hub) deliver(projectPath string, entry *watchEntry, frame models.Frame) {
	h.mu.Lock()
	if h.watchers[projectPath] != entry {
		h.mu.Unlock()
		return
	}
	recipients, ok := h.broadcastLocked(projectPath, frame)
	h.mu.Unlock()

	if ok {
		h.afterBroadcast(projectPath, frame, recipients)
	}
}

// Broadcast sends frame to every current subscriber of projectPath. It is a
// no-op when the project has no subscribers.
func (h *Hub) Broadcast(projectPath string, frame models.Frame) {
	h.mu.Lock()
	recipients, ok := h.broadcastLocked(projectPath, frame)
	h.mu.Unlock()

	if ok {
		h.afterBroadcast(projectPath, frame, recipients)
	}
}

// broadcastLocked serializes frame once and queues it to the live set.
// The second result is false when nothing was broadcast.
func (h *Hub) broadcastLocked(projectPath string, frame models.Frame) (int, bool) {
	set, ok := h.subscribers[projectPath]
	if !ok || len(set) == 0 {
		return 0, false
	}

	data, err := frame.Marshal()
	if err != nil {
		h.log.LogError(err.Error())
		return 0, false
	}

	recipients := 0
	for id, conn := range set {
		if err := conn.Send(data); err != nil {
			if !errors.Is(err, ErrConnClosed) {
				h.log.LogWarn(fmt.Sprintf("send %s to client %s: %v", frame.Event, id, err))
			}
			continue
		}
		recipients++
	}

	// queued under the lock so the journal sees emission order
	if h.records != nil && !h.closed {
		select {
		case h.records <- record{projectPath: projectPath, frame: frame}:
		default:
			h.log.LogWarn(fmt.Sprintf("journal queue full, %s for %s not recorded", frame.Event, projectPath))
		}
	}
	return recipients, true
}

func (h *Hub) afterBroadcast(projectPath string, frame models.Frame, recipients int) {
	if fl, ok := h.log.(logger.FrameLogger); ok {
		fl.LogFrame(projectPath, frame, recipients)
	}
}

// drainRecords hands queued frames to the Recorder until Shutdown
func (h *Hub) drainRecords() {
	defer close(h.recordDone)
	for r := range h.records {
		if err := h.recorder.Record(context.Background(), r.projectPath, r.frame); err != nil {
			h.log.LogWarn(fmt.Sprintf("record %s for %s: %v", r.frame.Event, r.projectPath, err))
		}
	}
}

func (h *Hub) sendLocked(conn Conn, frame models.Frame) {
	data, err := frame.Marshal()
	if err != nil {
		h.log.LogError(err.Error())
		return
	}
	if err := conn.Send(data); err != nil && !errors.Is(err, ErrConnClosed) {
		h.log.LogWarn(fmt.Sprintf("send %s to client %s: %v", frame.Event, conn.ID(), err))
	}
}

// Shutdown stops every watcher, closes every connection and clears the
// registry, then waits for queued frames to reach the Recorder. Safe to call
// more than once.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true

	for projectPath, entry := range h.watchers {
		if err := entry.watcher.Stop(); err != nil {
			h.log.LogWarn(fmt.Sprintf("stop watcher for %s: %v", projectPath, err))
		}
	}
	for _, set := range h.subscribers {
		for _, conn := range set {
			conn.Close()
		}
	}

	h.log.LogInfo(fmt.Sprintf("hub shut down: %d watchers stopped, %d clients closed",
		len(h.watchers), len(h.subscriptions)))

	h.subscribers = make(map[string]map[string]Conn)
	h.watchers = make(map[string]*watchEntry)
	h.subscriptions = make(map[string]string)

	if h.records != nil {
		close(h.records)
	}
	h.mu.Unlock()

	if h.recordDone != nil {
		<-h.recordDone
	}
}

// ProjectStats describes one followed project
type ProjectStats struct {
	ProjectPath string `json:"projectPath"`
	Subscribers int    `json:"subscribers"`
	Watching    bool   `json:"watching"`
}

// Stats is a point-in-time view of the registry
type Stats struct {
	Connections int            `json:"connections"`
	Projects    []ProjectStats `json:"projects"`
}

// Stats returns the registry contents sorted by project path
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := Stats{Connections: len(h.subscriptions), Projects: make([]ProjectStats, 0, len(h.subscribers))}
	for projectPath, set := range h.subscribers {
		_, watching := h.watchers[projectPath]
		stats.Projects = append(stats.Projects, ProjectStats{
			ProjectPath: projectPath,
			Subscribers: len(set),
			Watching:    watching,
		})
	}
	sort.Slice(stats.Projects, func(i, j int) bool {
		return stats.Projects[i].ProjectPath < stats.Projects[j].ProjectPath
	})
	return stats
}

// SubscriberCount returns the number of connections following projectPath
func (h *Hub) SubscriberCount(projectPath string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers[projectPath])
}

// HasWatcher reports whether a watcher is running for projectPath
func (h *Hub) HasWatcher(projectPath string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.watchers[projectPath]
	return ok
}

// ProjectOf returns the project conn follows, if any
func (h *Hub) ProjectOf(conn Conn) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.subscriptions[conn.ID()]
	return p, ok
}
