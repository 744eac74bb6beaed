// Package watch triggers sync runs when usage sources change on disk.
// fsnotify events and a polling fallback feed one debounce timer; at most one
// run is in flight and bursts during a run collapse into a single rerun.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/janekbaraniewski/usagesync/internal/sources/shared"
)

const (
	defaultDebounce = 10 * time.Second
	defaultPoll     = 30 * time.Second
)

// RunFunc performs one sync cycle.
type RunFunc func(ctx context.Context) error

type Options struct {
	Roots        []string
	Debounce     time.Duration
	PollInterval time.Duration
	// Exts limits which files count as changes. Empty accepts every file.
	Exts map[string]bool
	// PollOnly skips fsnotify entirely.
	PollOnly bool
	Logger   *zap.Logger
}

type Watcher struct {
	opts Options
	run  RunFunc
	log  *zap.Logger
}

func New(opts Options, run RunFunc) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPoll
	}
	w := &Watcher{opts: opts, run: run, log: opts.Logger}
	if w.log == nil {
		w.log = zap.NewNop()
	}
	return w
}

// Run performs an initial sync and then keeps syncing after changes until ctx
// is cancelled. It returns once the in-flight run has finished.
func (w *Watcher) Run(ctx context.Context) error {
	fsw := w.startFSNotify()
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if fsw != nil {
		defer fsw.Close()
		events, errs = fsw.Events, fsw.Errors
	}

	poll := time.NewTicker(w.opts.PollInterval)
	defer poll.Stop()

	debounce := time.NewTimer(w.opts.Debounce)
	debounce.Stop()
	defer debounce.Stop()

	var (
		running bool
		rerun   bool
		batch   int
		done    = make(chan error, 1)
		last    = w.fingerprint(ctx)
	)
	start := func() {
		running = true
		batch++
		w.log.Info("sync batch", zap.String("event", "watch_batch"), zap.Int("batch", batch))
		go func() { done <- w.run(ctx) }()
	}
	start()

	for {
		select {
		case <-ctx.Done():
			if running {
				<-done
			}
			return nil

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addRecursive(fsw, ev.Name)
					debounce.Reset(w.opts.Debounce)
					continue
				}
			}
			if ev.Op == fsnotify.Chmod || !w.relevant(ev.Name) {
				continue
			}
			debounce.Reset(w.opts.Debounce)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.Warn("fsnotify error", zap.String("event", "watch_error"), zap.Error(err))

		case <-poll.C:
			if fp := w.fingerprint(ctx); fp != last {
				last = fp
				debounce.Reset(w.opts.Debounce)
			}

		case <-debounce.C:
			if running {
				rerun = true
				continue
			}
			start()

		case err := <-done:
			running = false
			if err != nil {
				w.log.Warn("sync failed", zap.String("event", "watch_sync_failed"), zap.Error(err))
			}
			if rerun && ctx.Err() == nil {
				rerun = false
				start()
			}
		}
	}
}

func (w *Watcher) startFSNotify() *fsnotify.Watcher {
	if w.opts.PollOnly {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("fsnotify unavailable, polling only", zap.String("event", "watch_fallback"), zap.Error(err))
		return nil
	}
	for _, root := range w.opts.Roots {
		w.addRecursive(fsw, root)
	}
	return fsw
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) {
	if fsw == nil || root == "" {
		return
	}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fsw.Add(path); err != nil {
			w.log.Debug("watch add failed", zap.String("event", "watch_add_failed"),
				zap.String("path", path), zap.Error(err))
		}
		return nil
	})
}

func (w *Watcher) relevant(name string) bool {
	if len(w.opts.Exts) == 0 {
		return true
	}
	return w.opts.Exts[strings.ToLower(filepath.Ext(name))]
}

type fingerprint struct {
	files  int
	bytes  int64
	newest int64
}

// fingerprint summarizes the watched files so polling can detect changes
// fsnotify missed.
func (w *Watcher) fingerprint(ctx context.Context) fingerprint {
	var fp fingerprint
	files := shared.CollectFiles(ctx, w.opts.Roots, shared.WalkOptions{Exts: w.opts.Exts})
	for _, path := range files {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		fp.files++
		fp.bytes += info.Size()
		fp.newest = max(fp.newest, info.ModTime().UnixNano())
	}
	return fp
}
