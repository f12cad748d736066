// Package hotreload watches configuration files and reapplies them on
// change, so safety switches like safe_mode take effect without a restart.
package hotreload

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader validates and applies one watched file.
type Reloader interface {
	Validate(path string) error
	Apply(path string) error
}

// ReloaderFunc adapts plain functions to the Reloader interface. Validate
// always passes.
type ReloaderFunc func(path string) error

func (f ReloaderFunc) Validate(string) error { return nil }

func (f ReloaderFunc) Apply(path string) error { return f(path) }

// Watcher watches a fixed set of files and pushes changes through their
// Reloaders. Each file's parent directory is watched rather than the file
// itself: editors and config writers typically replace files by rename,
// which would otherwise orphan the watch.
type Watcher struct {
	debounce time.Duration
	onApply  func(path string, err error)

	mu    sync.RWMutex
	files map[string]Reloader // absolute path -> reloader

	watcher    *fsnotify.Watcher
	running    atomic.Bool
	reloadChan chan string
	stats      Stats
}

// Stats tracks reload outcomes.
type Stats struct {
	mu            sync.RWMutex
	ReloadsTotal  int64     `json:"reloads_total"`
	ReloadsOK     int64     `json:"reloads_ok"`
	ReloadsFailed int64     `json:"reloads_failed"`
	LastReload    time.Time `json:"last_reload,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
}

// Config configures a Watcher.
type Config struct {
	Debounce time.Duration
	OnApply  func(path string, err error)
}

func New(cfg Config) *Watcher {
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		debounce:   debounce,
		onApply:    cfg.OnApply,
		files:      make(map[string]Reloader),
		reloadChan: make(chan string, 64),
	}
}

// Watch registers a file with its reloader. Must be called before Start.
func (w *Watcher) Watch(path string, r Reloader) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}
	if r == nil {
		return fmt.Errorf("nil reloader for %s", path)
	}
	w.mu.Lock()
	w.files[abs] = r
	w.mu.Unlock()
	return nil
}

// Start begins watching. It returns once the goroutines are running; they
// exit when ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.watcher = fsw

	dirs := make(map[string]struct{})
	w.mu.RLock()
	for path := range w.files {
		dirs[filepath.Dir(path)] = struct{}{}
	}
	w.mu.RUnlock()
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			w.running.Store(false)
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	go w.processEvents(ctx)
	go w.processReloads(ctx)
	return nil
}

func (w *Watcher) watched(path string) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.RLock()
	_, ok := w.files[abs]
	w.mu.RUnlock()
	return ok
}

func (w *Watcher) processEvents(ctx context.Context) {
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if w.watched(event.Name) {
					pending[event.Name] = time.Now()
				}
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.recordError(fmt.Sprintf("watch error: %v", err))

		case <-ticker.C:
			now := time.Now()
			for path, lastChange := range pending {
				if now.Sub(lastChange) >= w.debounce {
					delete(pending, path)
					select {
					case w.reloadChan <- path:
					default:
					}
				}
			}

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) processReloads(ctx context.Context) {
	for {
		select {
		case path := <-w.reloadChan:
			w.reload(path)
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) reload(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return
	}
	w.mu.RLock()
	r, ok := w.files[abs]
	w.mu.RUnlock()
	if !ok {
		return
	}

	w.stats.mu.Lock()
	w.stats.ReloadsTotal++
	w.stats.mu.Unlock()

	if err := r.Validate(abs); err == nil {
		err = r.Apply(abs)
	} else {
		w.recordError(fmt.Sprintf("invalid %s: %v", abs, err))
		if w.onApply != nil {
			w.onApply(abs, err)
		}
		return
	}

	if err != nil {
		w.recordError(fmt.Sprintf("applying %s: %v", abs, err))
	} else {
		w.stats.mu.Lock()
		w.stats.ReloadsOK++
		w.stats.LastReload = time.Now()
		w.stats.mu.Unlock()
	}
	if w.onApply != nil {
		w.onApply(abs, err)
	}
}

// Trigger queues a reload of every watched file.
func (w *Watcher) Trigger() error {
	if !w.running.Load() {
		return fmt.Errorf("watcher not running")
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	for path := range w.files {
		select {
		case w.reloadChan <- path:
		default:
			return fmt.Errorf("reload queue full")
		}
	}
	return nil
}

// Stop closes the underlying watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	if w.watcher != nil {
		return w.watcher.Close()
	}
	return nil
}

// Snapshot returns a copy of the current stats.
func (w *Watcher) Snapshot() Stats {
	w.stats.mu.RLock()
	defer w.stats.mu.RUnlock()
	return Stats{
		ReloadsTotal:  w.stats.ReloadsTotal,
		ReloadsOK:     w.stats.ReloadsOK,
		ReloadsFailed: w.stats.ReloadsFailed,
		LastReload:    w.stats.LastReload,
		LastError:     w.stats.LastError,
		LastErrorTime: w.stats.LastErrorTime,
	}
}

func (w *Watcher) recordError(msg string) {
	w.stats.mu.Lock()
	w.stats.ReloadsFailed++
	w.stats.LastError = msg
	w.stats.LastErrorTime = time.Now()
	w.stats.mu.Unlock()
}
