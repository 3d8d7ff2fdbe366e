// Package watch polls a spool directory for new documents, waits for each
// file to settle, hands it to a handler and moves it to a done or failed
// directory afterwards.
//
// Typical usage:
//
//	w := watch.New("/var/spool/docpipeline", watch.Options{Interval: time.Second, Settle: 2 * time.Second})
//	go w.Run(ctx, func(ctx context.Context, path string) error { return process(ctx, path) })
package watch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Handler processes one settled file. A nil error moves the file to the
// done directory, anything else to the failed directory.
type Handler func(ctx context.Context, path string) error

// Options tunes the watcher behaviour.
type Options struct {
	// Interval is the polling frequency. Default: 1s.
	Interval time.Duration
	// Settle is how long a file's size and mtime must stay unchanged before
	// it is handed over. 0 means the next poll that sees it unchanged.
	Settle time.Duration
	// DoneDir receives handled files. Default: <dir>/done.
	DoneDir string
	// FailedDir receives files whose handler failed. Default: <dir>/failed.
	FailedDir string
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults(dir string) {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.DoneDir == "" {
		o.DoneDir = filepath.Join(dir, "done")
	}
	if o.FailedDir == "" {
		o.FailedDir = filepath.Join(dir, "failed")
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// fileState is what a poll observed about a pending file.
type fileState struct {
	size    int64
	modTime time.Time
	seen    time.Time
}

// Watcher polls one directory. Safe for concurrent use; handlers are called
// one at a time.
type Watcher struct {
	dir  string
	opts Options
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]fileState

	// doneMu + doneCond broadcast when a file has been handled,
	// enabling WaitHandled.
	doneMu   sync.Mutex
	doneCond *sync.Cond

	checks    atomic.Int64
	found     atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	errors    atomic.Int64
	handleNs  atomic.Int64
}

// Stats are point-in-time counters.
type Stats struct {
	Checks        int64         `json:"checks"`
	FilesFound    int64         `json:"files_found"`
	Processed     int64         `json:"processed"`
	Failed        int64         `json:"failed"`
	Errors        int64         `json:"errors"`
	AvgHandleTime time.Duration `json:"avg_handle_time"`
}

// New creates a Watcher for dir. Call Run to start the loop.
func New(dir string, opts Options) *Watcher {
	opts.defaults(dir)
	w := &Watcher{dir: dir, opts: opts, now: time.Now, pending: map[string]fileState{}}
	w.doneCond = sync.NewCond(&w.doneMu)
	return w
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	s := Stats{
		Checks:     w.checks.Load(),
		FilesFound: w.found.Load(),
		Processed:  w.processed.Load(),
		Failed:     w.failed.Load(),
		Errors:     w.errors.Load(),
	}
	if n := s.Processed + s.Failed; n > 0 {
		s.AvgHandleTime = time.Duration(w.handleNs.Load() / n)
	}
	return s
}

// Run blocks until ctx is cancelled, scanning the directory every
// opts.Interval.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	log := w.opts.Logger
	for _, d := range []string{w.dir, w.opts.DoneDir, w.opts.FailedDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return fmt.Errorf("watch: %w", err)
		}
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	log.Info("watch: started", "dir", w.dir, "interval", w.opts.Interval, "settle", w.opts.Settle)

	for {
		if _, err := w.Scan(ctx, handle); err != nil {
			w.errors.Add(1)
			log.Warn("watch: scan failed", "dir", w.dir, "error", err)
		}
		select {
		case <-ctx.Done():
			log.Info("watch: stopped", "dir", w.dir)
			return nil
		case <-ticker.C:
		}
	}
}

// Scan makes one pass over the directory and hands every settled file to
// handle. It returns how many files were handled.
func (w *Watcher) Scan(ctx context.Context, handle Handler) (int, error) {
	w.checks.Add(1)
	ready, err := w.settled()
	if err != nil {
		return 0, err
	}
	handled := 0
	for _, path := range ready {
		if ctx.Err() != nil {
			break
		}
		w.handle(ctx, handle, path)
		handled++
	}
	return handled, nil
}

// settled lists the regular files whose size and mtime have not changed
// since the previous poll and for at least opts.Settle.
func (w *Watcher) settled() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", w.dir, err)
	}
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()

	present := make(map[string]bool, len(entries))
	var ready []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(w.dir, e.Name())
		present[path] = true

		prev, ok := w.pending[path]
		if !ok || prev.size != info.Size() || !prev.modTime.Equal(info.ModTime()) {
			if !ok {
				w.found.Add(1)
			}
			w.pending[path] = fileState{size: info.Size(), modTime: info.ModTime(), seen: now}
			continue
		}
		if now.Sub(prev.seen) >= w.opts.Settle {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	for path := range w.pending {
		if !present[path] {
			delete(w.pending, path)
		}
	}
	slices.Sort(ready)
	return ready, nil
}

func (w *Watcher) handle(ctx context.Context, handle Handler, path string) {
	log := w.opts.Logger
	start := time.Now()
	err := safeHandle(ctx, handle, path)
	w.handleNs.Add(int64(time.Since(start)))

	dest := w.opts.DoneDir
	if err != nil {
		dest = w.opts.FailedDir
		w.failed.Add(1)
		log.Warn("watch: handler failed", "path", path, "error", err)
	} else {
		w.processed.Add(1)
	}
	moved, mvErr := MoveToDir(path, dest)
	if mvErr != nil {
		w.errors.Add(1)
		log.Error("watch: move failed", "path", path, "dest", dest, "error", mvErr)
	} else {
		log.Debug("watch: moved", "path", path, "to", moved)
	}

	w.doneMu.Lock()
	w.doneCond.Broadcast()
	w.doneMu.Unlock()
}

func safeHandle(ctx context.Context, handle Handler, path string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handle(ctx, path)
}

// WaitHandled blocks until at least n files have been handled, successfully
// or not, or ctx expires.
func (w *Watcher) WaitHandled(ctx context.Context, n int64) error {
	total := func() int64 { return w.processed.Load() + w.failed.Load() }
	if total() >= n {
		return nil
	}

	done := ctx.Done()
	w.doneMu.Lock()
	defer w.doneMu.Unlock()

	for total() < n {
		ch := make(chan struct{})
		go func() {
			select {
			case <-done:
				w.doneMu.Lock()
				w.doneCond.Broadcast()
				w.doneMu.Unlock()
			case <-ch:
			}
		}()

		w.doneCond.Wait()
		close(ch)

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// MoveToDir moves src into dir, keeping its base name unless a file with
// that name already exists there. Falls back to copy and remove across
// devices. Returns the destination path.
func MoveToDir(src, dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("watch: destination dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Base(src)
	dst := filepath.Join(dir, base)
	if _, err := os.Stat(dst); err == nil {
		ext := filepath.Ext(base)
		dst = filepath.Join(dir, fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), time.Now().UnixNano(), ext))
	}

	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}

	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		_ = os.Remove(dst)
		return "", copyErr
	}
	if closeErr != nil {
		_ = os.Remove(dst)
		return "", closeErr
	}
	if err := os.Remove(src); err != nil {
		return "", err
	}
	return dst, nil
}
