package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-hclog"

	"github.com/mantonx/vodforge/internal/config"
	"github.com/mantonx/vodforge/internal/jobs"
)

// Watcher enqueues files dropped into the incoming directory. Uploads
// arrive as a stream of write events, so each path gets a settle timer that
// resets on every event; the file is only enqueued once it has been quiet
// for the configured delay.
type Watcher struct {
	cfg      config.WatcherConfig
	pipeline *Pipeline
	log      hclog.Logger

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	pending map[string]*time.Timer

	done chan struct{}
}

// NewWatcher creates a watcher over cfg.IncomingDir.
func NewWatcher(cfg config.WatcherConfig, pipeline *Pipeline, log hclog.Logger) (*Watcher, error) {
	if err := os.MkdirAll(cfg.IncomingDir, 0o755); err != nil {
		return nil, fmt.Errorf("create incoming directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(cfg.IncomingDir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.IncomingDir, err)
	}

	return &Watcher{
		cfg:      cfg,
		pipeline: pipeline,
		log:      log.Named("watcher"),
		fsw:      fsw,
		pending:  make(map[string]*time.Timer),
		done:     make(chan struct{}),
	}, nil
}

// Start runs the event loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	w.log.Info("watching for uploads", "dir", w.cfg.IncomingDir, "settle_delay", w.cfg.SettleDelay)
	go w.loop(ctx)
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.touch(ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		}
	}
}

// touch resets the settle timer for path.
func (w *Watcher) touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Reset(w.cfg.SettleDelay)
		return
	}
	w.pending[path] = time.AfterFunc(w.cfg.SettleDelay, func() {
		w.settle(path)
	})
}

// settle fires once a path has been quiet for the settle delay.
func (w *Watcher) settle(path string) {
	w.mu.Lock()
	delete(w.pending, path)
	w.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	id, err := w.pipeline.Enqueue("", path)
	switch {
	case err == nil:
		w.log.Info("upload enqueued", "job_id", id, "path", path)
	case errors.Is(err, jobs.ErrDuplicate):
		// Already queued; nothing to do.
	default:
		w.log.Warn("failed to enqueue upload", "path", path, "error", err)
	}
}

// Close stops watching and cancels pending settle timers.
func (w *Watcher) Close() error {
	err := w.fsw.Close()

	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
	case <-time.After(time.Second):
	}
	return err
}
