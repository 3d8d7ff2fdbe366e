package watch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

type recorder struct {
	mu    sync.Mutex
	paths []string
}

func (r *recorder) handle(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, filepath.Base(path))
	if filepath.Ext(path) == ".bad" {
		return errors.New("rejected")
	}
	return nil
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.paths)
}

func TestScan_NeedsTwoUnchangedPolls(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, Options{Logger: quiet()})
	rec := &recorder{}
	ctx := context.Background()

	writeFile(t, dir, "a.txt", "alpha")
	if n, err := w.Scan(ctx, rec.handle); err != nil || n != 0 {
		t.Fatalf("first scan handled %d, err %v; want 0", n, err)
	}
	if n, err := w.Scan(ctx, rec.handle); err != nil || n != 1 {
		t.Fatalf("second scan handled %d, err %v; want 1", n, err)
	}
	if got := rec.got(); !slices.Equal(got, []string{"a.txt"}) {
		t.Errorf("handled %v", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "done", "a.txt")); err != nil {
		t.Errorf("file not moved to done: %v", err)
	}
	if n, _ := w.Scan(ctx, rec.handle); n != 0 {
		t.Errorf("moved file handled again")
	}
}

func TestScan_FailedAndSkipped(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, Options{Logger: quiet()})
	rec := &recorder{}
	ctx := context.Background()

	writeFile(t, dir, "good.txt", "ok")
	writeFile(t, dir, "broken.bad", "no")
	writeFile(t, dir, ".partial", "hidden")
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	w.Scan(ctx, rec.handle)
	w.Scan(ctx, rec.handle)

	if got, want := rec.got(), []string{"broken.bad", "good.txt"}; !slices.Equal(got, want) {
		t.Errorf("handled %v, want %v", got, want)
	}
	if _, err := os.Stat(filepath.Join(dir, "failed", "broken.bad")); err != nil {
		t.Errorf("failed file not moved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".partial")); err != nil {
		t.Errorf("hidden file touched: %v", err)
	}
	s := w.Stats()
	if s.Processed != 1 || s.Failed != 1 || s.FilesFound != 2 || s.Checks != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestScan_SettleWindow(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, Options{Settle: time.Minute, Logger: quiet()})
	clock := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }
	rec := &recorder{}
	ctx := context.Background()

	path := writeFile(t, dir, "slow.txt", "part")
	w.Scan(ctx, rec.handle)

	clock = clock.Add(30 * time.Second)
	if n, _ := w.Scan(ctx, rec.handle); n != 0 {
		t.Fatal("handled before the settle window elapsed")
	}

	// A growing file restarts the window.
	if err := os.WriteFile(path, []byte("part and the rest"), 0o644); err != nil {
		t.Fatal(err)
	}
	clock = clock.Add(45 * time.Second)
	if n, _ := w.Scan(ctx, rec.handle); n != 0 {
		t.Fatal("handled a file that just changed")
	}

	clock = clock.Add(time.Minute)
	if n, _ := w.Scan(ctx, rec.handle); n != 1 {
		t.Fatal("settled file not handled")
	}
}

func TestScan_HandlerPanic(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, Options{Logger: quiet()})
	ctx := context.Background()
	writeFile(t, dir, "boom.txt", "x")

	panicky := func(context.Context, string) error { panic("boom") }
	w.Scan(ctx, panicky)
	w.Scan(ctx, panicky)

	if s := w.Stats(); s.Failed != 1 {
		t.Errorf("failed = %d, want 1", s.Failed)
	}
	if _, err := os.Stat(filepath.Join(dir, "failed", "boom.txt")); err != nil {
		t.Errorf("panicking file not moved to failed: %v", err)
	}
}

func TestRun_HandlesAndStops(t *testing.T) {
	dir := t.TempDir()
	w := New(dir, Options{Interval: 10 * time.Millisecond, Logger: quiet()})
	rec := &recorder{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, rec.handle) }()

	writeFile(t, dir, "one.txt", "1")
	writeFile(t, dir, "two.txt", "2")

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	if err := w.WaitHandled(waitCtx, 2); err != nil {
		t.Fatalf("WaitHandled: %v", err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
	if got := rec.got(); len(got) != 2 {
		t.Errorf("handled %v", got)
	}
}

func TestWaitHandled_ContextExpires(t *testing.T) {
	w := New(t.TempDir(), Options{Logger: quiet()})
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := w.WaitHandled(ctx, 1); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitHandled = %v, want deadline exceeded", err)
	}
}

func TestMoveToDir_NameCollision(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	writeFile(t, dst, "report.pdf", "old")
	path := writeFile(t, src, "report.pdf", "new")

	moved, err := MoveToDir(path, dst)
	if err != nil {
		t.Fatal(err)
	}
	if moved == filepath.Join(dst, "report.pdf") || filepath.Ext(moved) != ".pdf" {
		t.Errorf("moved to %q, want a renamed .pdf", moved)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("source still present")
	}
	if _, err := MoveToDir(moved, " "); err == nil {
		t.Error("empty destination accepted")
	}
}
