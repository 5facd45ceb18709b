// Package ingest watches an inbox directory and feeds new documents into the
// extraction pipeline. Files are picked up once they settle (no writes for
// the configured delay) and moved aside after successful processing.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/facturio/factura-cli/internal/config"
)

// partialSuffixes mark in-progress downloads that must not be picked up.
var partialSuffixes = []string{".crdownload", ".part", ".tmp", ".download"}

// Handler processes one settled document.
type Handler func(ctx context.Context, path string) error

// Watcher drives the inbox directory.
type Watcher struct {
	cfg    config.WatchConfig
	exts   map[string]struct{}
	handle Handler

	mu      sync.Mutex
	timers  map[string]*time.Timer
	closing bool
	wg      sync.WaitGroup
}

// New creates a Watcher. extensions are matched case-insensitively and must
// include the leading dot.
func New(cfg config.WatchConfig, extensions []string, handle Handler) *Watcher {
	exts := make(map[string]struct{}, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = struct{}{}
	}
	return &Watcher{
		cfg:    cfg,
		exts:   exts,
		handle: handle,
		timers: map[string]*time.Timer{},
	}
}

// Run watches the inbox until the context is cancelled. Existing files are
// drained first when configured, so documents dropped while the watcher was
// down are not lost.
func (w *Watcher) Run(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.InboxDir, 0o755); err != nil {
		return eris.Wrap(err, "ingest: create inbox dir")
	}
	if w.cfg.MoveToProcessed {
		if err := os.MkdirAll(w.cfg.ProcessedDir, 0o755); err != nil {
			return eris.Wrap(err, "ingest: create processed dir")
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return eris.Wrap(err, "ingest: create watcher")
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.InboxDir); err != nil {
		return eris.Wrap(err, "ingest: watch inbox dir")
	}

	if w.cfg.DrainOnStartup {
		if err := w.drain(ctx); err != nil {
			return err
		}
	}

	zap.L().Info("ingest: watching inbox", zap.String("dir", w.cfg.InboxDir))

	for {
		select {
		case <-ctx.Done():
			w.stopTimers()
			w.wg.Wait()
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.eligible(event.Name) {
				continue
			}
			w.scheduleSettle(ctx, event.Name)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("ingest: watcher error", zap.Error(err))
		}
	}
}

// drain processes files already sitting in the inbox.
func (w *Watcher) drain(ctx context.Context) error {
	entries, err := os.ReadDir(w.cfg.InboxDir)
	if err != nil {
		return eris.Wrap(err, "ingest: read inbox dir")
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.InboxDir, entry.Name())
		if !w.eligible(path) {
			continue
		}
		w.process(ctx, path)
	}
	return nil
}

// eligible filters by extension and skips hidden and partial files.
func (w *Watcher) eligible(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	lower := strings.ToLower(base)
	for _, suffix := range partialSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	_, ok := w.exts[strings.ToLower(filepath.Ext(base))]
	return ok
}

// scheduleSettle (re)arms the per-file settle timer. Every write event resets
// the timer, so the file is only processed once writes stop.
func (w *Watcher) scheduleSettle(ctx context.Context, path string) {
	delay := time.Duration(w.cfg.SettleDelayMS) * time.Millisecond

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closing {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Reset(delay)
		return
	}
	w.timers[path] = time.AfterFunc(delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		if w.closing {
			w.mu.Unlock()
			return
		}
		w.wg.Add(1)
		w.mu.Unlock()

		defer w.wg.Done()
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, path)
	})
}

// stopTimers cancels pending settle timers and blocks new handler launches so
// Run can wait for in-flight work and return.
func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closing = true
	for path, t := range w.timers {
		t.Stop()
		delete(w.timers, path)
	}
}

// process runs the handler and moves the document aside on success. Failed
// documents stay in the inbox for inspection.
func (w *Watcher) process(ctx context.Context, path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}

	zap.L().Info("ingest: processing document", zap.String("file", filepath.Base(path)))
	if err := w.handle(ctx, path); err != nil {
		zap.L().Error("ingest: document failed",
			zap.String("file", filepath.Base(path)),
			zap.Error(err),
		)
		return
	}

	if w.cfg.MoveToProcessed {
		dest := filepath.Join(w.cfg.ProcessedDir, filepath.Base(path))
		if err := os.Rename(path, dest); err != nil {
			zap.L().Warn("ingest: move to processed failed",
				zap.String("file", filepath.Base(path)),
				zap.Error(err),
			)
		}
	}
}
