// Package watcher turns raw filesystem notifications under a project's state
// root into semantic task events.
//
// A Watcher is idle until Start and idle again after Stop. While running it
// debounces raw events per file, waits for the file to stop changing, then
// classifies the settled change and emits exactly one Event.
package watcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/makerGeek/claudiomiro/internal/filelock"
	"github.com/makerGeek/claudiomiro/internal/logger"
	"github.com/makerGeek/claudiomiro/internal/models"
)

const (
	// DefaultSettleWindow is the quiet period before a change is considered complete
	DefaultSettleWindow = 100 * time.Millisecond

	// DefaultStabilityPoll is how often a still-changing file is re-checked
	DefaultStabilityPoll = 50 * time.Millisecond

	eventBuffer = 256
)

var (
	// ErrAlreadyRunning is returned by Start on a running watcher
	ErrAlreadyRunning = errors.New("watcher already running")

	// ErrStateRootMissing is returned by Start when the project has no state root
	ErrStateRootMissing = errors.New("state root does not exist")
)

// Options configures a Watcher
type Options struct {
	SettleWindow  time.Duration
	StabilityPoll time.Duration
	Logger        logger.Logger
}

// pendingWrite is the debounce entry of one file
type pendingWrite struct {
	timer   *time.Timer
	size    int64
	modTime time.Time
}

// Watcher watches one project's state root
type Watcher struct {
	projectPath string
	stateRoot   string
	settle      time.Duration
	poll        time.Duration
	log         logger.Logger

	mu       sync.Mutex
	running  bool
	fsw      *fsnotify.Watcher
	events   chan models.Event
	done     chan struct{}
	loopDone chan struct{}
	pending  map[string]*pendingWrite
	inflight sync.WaitGroup
}

// New creates an idle Watcher for projectPath
func New(projectPath string, opts Options) *Watcher {
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = DefaultSettleWindow
	}
	if opts.StabilityPoll <= 0 {
		opts.StabilityPoll = DefaultStabilityPoll
	}
	return &Watcher{
		projectPath: projectPath,
		stateRoot:   filepath.Join(projectPath, models.StateDirName),
		settle:      opts.SettleWindow,
		poll:        opts.StabilityPoll,
		log:         logger.OrNop(opts.Logger),
	}
}

// ProjectPath returns the watched project
func (w *Watcher) ProjectPath() string {
	return w.projectPath
}

// Running reports whether the watcher is started
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start begins watching the state root recursively. Only changes made after
// Start returns are reported.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return ErrAlreadyRunning
	}

	info, err := os.Stat(w.stateRoot)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrStateRootMissing, w.stateRoot)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}

	if _, err := addRecursive(fsw, w.stateRoot); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", w.stateRoot, err)
	}

	w.fsw = fsw

	w.events = make(chan models.Event, eventBuffer)
	w.done = make(chan struct{})
	w.loopDone = make(chan struct{})
	w.pending = make(map[string]*pendingWrite)
	w.running = true

	go w.processEvents(fsw, w.done, w.loopDone)

	w.log.LogDebug(fmt.Sprintf("watching %s", w.stateRoot))
	return nil
}

// Events returns the channel of the current run. It is closed by Stop.
func (w *Watcher) Events() <-chan models.Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

// Stop releases the watch and cancels pending debounce timers. Events still
// buffered are discarded and the events channel is closed; nothing is emitted
// after Stop returns. Stopping an idle watcher is a no-op.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.done)
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = nil
	fsw, events, loopDone := w.fsw, w.events, w.loopDone
	w.fsw = nil
	w.mu.Unlock()

	err := fsw.Close()
	<-loopDone
	w.inflight.Wait()

drain:
	for {
		select {
		case <-events:
		default:
			break drain
		}
	}
	close(events)

	w.log.LogDebug(fmt.Sprintf("stopped watching %s", w.stateRoot))
	return err
}

func (w *Watcher) processEvents(fsw *fsnotify.Watcher, done <-chan struct{}, loopDone chan<- struct{}) {
	defer close(loopDone)
	for {
		select {
		case <-done:
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(fsw, event)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.log.LogWarn(fmt.Sprintf("watch error on %s: %v", w.stateRoot, err))
		}
	}
}

// handleEvent reacts to "add" and "change" only; removals and renames away
// produce no semantic event.
func (w *Watcher) handleEvent(fsw *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	path := event.Name
	info, err := os.Stat(path)
	if err != nil {
		return
	}

	if info.IsDir() {
		if !event.Has(fsnotify.Create) {
			return
		}
		// Files can land in a new directory before its watch exists
		files, err := addRecursive(fsw, path)
		if err != nil {
			w.log.LogWarn(fmt.Sprintf("watch new directory %s: %v", path, err))
		}
		for _, f := range files {
			w.schedule(f)
		}
		return
	}

	w.schedule(path)
}

// addRecursive watches dir and every directory beneath it, returning the
// regular files found along the way.
func addRecursive(fsw *fsnotify.Watcher, dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if err := fsw.Add(path); err != nil {
				if errors.Is(err, fs.ErrPermission) || errors.Is(err, fs.ErrNotExist) {
					return filepath.SkipDir
				}
				return err
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// isNoise filters lock files and the temp files of atomic writes
func isNoise(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, filelock.LockSuffix) ||
		strings.HasPrefix(base, strings.TrimSuffix(filelock.TempPattern, "*"))
}

// schedule restarts the debounce timer of path
func (w *Watcher) schedule(path string) {
	if isNoise(path) {
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	if prev, ok := w.pending[path]; ok {
		prev.timer.Stop()
	}

	p := &pendingWrite{size: info.Size(), modTime: info.ModTime()}
	p.timer = time.AfterFunc(w.settle, func() {
		w.settleWrite(path, p)
	})
	w.pending[path] = p
}

// settleWrite runs when a debounce timer fires. A file still changing since
// its last raw event is re-polled; a file that vanished is dropped.
func (w *Watcher) settleWrite(path string, p *pendingWrite) {
	w.mu.Lock()
	if !w.running || w.pending[path] != p {
		// stopped, or superseded by a newer raw event
		w.mu.Unlock()
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		w.mu.Unlock()
		return
	}

	if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
		p.size = info.Size()
		p.modTime = info.ModTime()
		p.timer = time.AfterFunc(w.poll, func() {
			w.settleWrite(path, p)
		})
		w.mu.Unlock()
		return
	}

	delete(w.pending, path)
	w.inflight.Add(1)
	events, done := w.events, w.done
	w.mu.Unlock()

	defer w.inflight.Done()

	event, ok := Classify(w.stateRoot, path)
	if !ok {
		w.log.LogTrace(fmt.Sprintf("suppressed event for %s", path))
		return
	}
	if event.Kind == models.TaskStatusChanged && event.Err != "" {
		w.log.LogWarn(fmt.Sprintf("status document of %s could not be parsed", event.TaskID))
	}

	select {
	case <-done:
		return
	default:
	}
	select {
	case events <- event:
	case <-done:
	}
}
