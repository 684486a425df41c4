package media

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/lightforgemedia/go-wabridge/pkg/event"
)

const defaultSettle = 200 * time.Millisecond

// Watcher reports files written into the media subdirectories once they have
// stopped changing for the settle interval.
type Watcher struct {
	layout  Layout
	fsw     *fsnotify.Watcher
	logger  *slog.Logger
	settle  time.Duration
	pattern []string

	handlersMu sync.RWMutex
	handlers   []func(raw []byte)

	changesMu sync.Mutex
	changes   map[string]time.Time

	stopOnce sync.Once
	done     chan struct{}
	stopped  chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSettle sets how long a file must stay unchanged before it is reported.
func WithSettle(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.settle = d
		}
	}
}

// WithPatterns restricts reports to base names matching one of patterns.
func WithPatterns(patterns ...string) WatcherOption {
	return func(w *Watcher) {
		if len(patterns) > 0 {
			w.pattern = patterns
		}
	}
}

// NewWatcher creates a watcher for l. The layout is created if needed.
func NewWatcher(l Layout, opts ...WatcherOption) (*Watcher, error) {
	if err := l.Ensure(); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("media: %w", err)
	}
	w := &Watcher{
		layout:  l,
		fsw:     fsw,
		logger:  slog.Default(),
		settle:  defaultSettle,
		pattern: []string{"*"},
		changes: make(map[string]time.Time),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// OnSaved registers fn to receive one mediaSaved event buffer per settled file.
func (w *Watcher) OnSaved(fn func(raw []byte)) {
	w.handlersMu.Lock()
	defer w.handlersMu.Unlock()
	w.handlers = append(w.handlers, fn)
}

// Start begins watching every media subdirectory.
func (w *Watcher) Start() error {
	for _, dir := range w.layout.Dirs() {
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("media: watch %s: %w", dir, err)
		}
		w.logger.Debug("watching media directory", "dir", dir)
	}
	go w.loop()
	return nil
}

// Stop ends the watch. Files still settling are not reported.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

// Done is closed once the watch loop has exited.
func (w *Watcher) Done() <-chan struct{} { return w.stopped }

func (w *Watcher) loop() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.settle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			if !w.matches(ev.Name) {
				continue
			}
			w.changesMu.Lock()
			w.changes[ev.Name] = time.Now()
			w.changesMu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("media watcher error", "error", err)
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) flush() {
	now := time.Now()
	var settled []string
	w.changesMu.Lock()
	for path, at := range w.changes {
		if now.Sub(at) >= w.settle {
			settled = append(settled, path)
			delete(w.changes, path)
		}
	}
	w.changesMu.Unlock()

	for _, path := range settled {
		kind, ok := w.layout.KindOf(path)
		if !ok {
			continue
		}
		raw, err := event.EncodeMediaSaved(string(kind), path)
		if err != nil {
			w.logger.Error("encode mediaSaved", "path", path, "error", err)
			continue
		}
		w.logger.Debug("media saved", "kind", kind, "path", path)
		w.notify(raw)
	}
}

func (w *Watcher) notify(raw []byte) {
	w.handlersMu.RLock()
	defer w.handlersMu.RUnlock()
	for _, fn := range w.handlers {
		fn(raw)
	}
}

func (w *Watcher) matches(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	for _, p := range w.pattern {
		ok, err := filepath.Match(p, base)
		if err != nil {
			w.logger.Error("bad media pattern", "pattern", p, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
