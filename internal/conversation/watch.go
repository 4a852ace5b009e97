package conversation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ErrWatcherFailed indicates the filesystem watcher failed to initialize.
var ErrWatcherFailed = errors.New("failed to initialize flow watcher")

// FlowWatcher reloads an engine's flow when its file changes on disk. A file
// that fails to load or validate is logged and the engine keeps the texts it
// had.
type FlowWatcher struct {
	path    string
	engine  *Engine
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	stop    chan struct{}
	done    chan struct{}
}

// NewFlowWatcher creates a watcher for the flow file at path.
func NewFlowWatcher(path string, engine *Engine, logger *zap.Logger) (*FlowWatcher, error) {
	if engine == nil {
		return nil, errors.New("conversation: flow watcher needs an engine")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve flow file: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}
	return &FlowWatcher{
		path:    abs,
		engine:  engine,
		watcher: watcher,
		logger:  logger.Named("flow"),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Start watches the directory holding the flow file, so editors that save by
// renaming a temp file over it are seen too. Events are handled on a
// background goroutine until ctx ends or Stop is called.
func (w *FlowWatcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = w.watcher.Close()
		close(w.done)
		return fmt.Errorf("watching flow directory: %w", err)
	}
	go w.processEvents(ctx)
	return nil
}

// Stop ends the watcher and waits for the event loop to exit. It must follow
// a call to Start.
func (w *FlowWatcher) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *FlowWatcher) processEvents(ctx context.Context) {
	defer close(w.done)
	defer func() { _ = w.watcher.Close() }()
	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("flow watcher error", zap.Error(err))
		}
	}
}

func (w *FlowWatcher) reload() {
	// A truncating save shows the empty file before its content.
	if info, err := os.Stat(w.path); err == nil && info.Size() == 0 {
		return
	}
	f, err := LoadFlow(w.path)
	if err == nil {
		err = w.engine.SetFlow(f)
	}
	if err != nil {
		w.logger.Warn("flow reload rejected, keeping current texts", zap.String("path", w.path), zap.Error(err))
		return
	}
	w.logger.Info("flow reloaded", zap.String("path", w.path))
}
