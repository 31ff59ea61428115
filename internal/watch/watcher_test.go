// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu    sync.Mutex
	calls [][]string
	fired chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) onChange(_ context.Context, changed []string) error {
	r.mu.Lock()
	r.calls = append(r.calls, changed)
	r.mu.Unlock()
	r.fired <- struct{}{}
	return nil
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.calls)
}

func startWatcher(t *testing.T, cfg Config) context.CancelFunc {
	t.Helper()
	w, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	})
	// Give the event loop a moment to start.
	time.Sleep(50 * time.Millisecond)
	return cancel
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFired(t *testing.T, r *recorder) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("OnChange was not called")
	}
}

func TestWatcher_CoalescesEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, Config{Dir: dir, Debounce: 150 * time.Millisecond, OnChange: rec.onChange})

	write(t, filepath.Join(dir, "a.c"), "a")
	write(t, filepath.Join(dir, "b.c"), "b")
	write(t, filepath.Join(dir, "a.c"), "a2")
	waitFired(t, rec)

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("OnChange called %d times, want 1: %v", len(calls), calls)
	}
	if !slices.Equal(calls[0], []string{"a.c", "b.c"}) {
		t.Errorf("changed = %v, want [a.c b.c]", calls[0])
	}
}

func TestWatcher_IgnoresOutputs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	write(t, filepath.Join(dir, "dist", "keep"), "")
	rec := newRecorder()
	startWatcher(t, Config{
		Dir:      dir,
		Ignore:   []string{"dist", "dist/**"},
		Debounce: 100 * time.Millisecond,
		OnChange: rec.onChange,
	})

	write(t, filepath.Join(dir, "demo-1.0.0-api6.0.185-x86_64-unknown-linux-gnu.spkg"), "pkg")
	write(t, filepath.Join(dir, "dist", "out.bin"), "x")
	write(t, filepath.Join(dir, ".git", "HEAD"), "ref")
	write(t, filepath.Join(dir, "src", "lib.c"), "int x;")
	waitFired(t, rec)

	for _, call := range rec.snapshot() {
		for _, p := range call {
			if p != "src" && p != "src/lib.c" {
				t.Errorf("unexpected change reported: %q", p)
			}
		}
	}
}

func TestWatcher_IgnoredWritesFromCallbackDoNotRetrigger(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, Config{
		Dir:      dir,
		Ignore:   []string{"libdemo.so"},
		Debounce: 100 * time.Millisecond,
		OnChange: func(ctx context.Context, changed []string) error {
			// The build command leaves its library in the source tree.
			if err := os.WriteFile(filepath.Join(dir, "libdemo.so"), []byte(time.Now().String()), 0o644); err != nil {
				return err
			}
			return rec.onChange(ctx, changed)
		},
	})

	write(t, filepath.Join(dir, "main.c"), "int main;")
	waitFired(t, rec)
	time.Sleep(600 * time.Millisecond)

	calls := rec.snapshot()
	if len(calls) != 1 {
		t.Fatalf("OnChange called %d times, want 1: %v", len(calls), calls)
	}
	if !slices.Equal(calls[0], []string{"main.c"}) {
		t.Errorf("changed = %v, want [main.c]", calls[0])
	}
}

func TestWatcher_NewDirectoriesAreWatched(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	rec := newRecorder()
	startWatcher(t, Config{Dir: dir, Debounce: 100 * time.Millisecond, OnChange: rec.onChange})

	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	waitFired(t, rec)

	write(t, filepath.Join(dir, "sub", "new.c"), "x")
	for {
		waitFired(t, rec)
		calls := rec.snapshot()
		if slices.Contains(calls[len(calls)-1], "sub/new.c") {
			return
		}
	}
}

func TestWatcher_CallbackErrorKeepsWatching(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fired := make(chan struct{}, 4)
	startWatcher(t, Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		OnChange: func(context.Context, []string) error {
			fired <- struct{}{}
			return errors.New("compile failed")
		},
	})

	for i := range 2 {
		write(t, filepath.Join(dir, "f.c"), fmt.Sprint(i))
		select {
		case <-fired:
		case <-time.After(5 * time.Second):
			t.Fatalf("rebuild %d not triggered", i)
		}
	}
}

func TestWatcher_RunTwice(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	if err := w.Run(ctx); !errors.Is(err, errAlreadyRunning) {
		t.Errorf("second Run() error = %v, want errAlreadyRunning", err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{}); err == nil {
		t.Error("New() without a directory should fail")
	}
	if _, err := New(Config{Dir: t.TempDir(), Ignore: []string{"[bad"}}); err == nil {
		t.Error("New() with an invalid pattern should fail")
	}
}

func TestIgnored(t *testing.T) {
	t.Parallel()

	w := &Watcher{ignores: append(slices.Clone(builtinIgnores), "build/**")}
	tests := []struct {
		rel  string
		want bool
	}{
		{".git", true},
		{".git/objects/ab", true},
		{"out/demo.spkg", true},
		{"out/.demo.spkg.tmp-123", true},
		{"build/obj.o", true},
		{"libdemo.so", false},
		{"src/lib.c", false},
		{"docs/guide.md", false},
	}
	for _, tt := range tests {
		if got := w.ignored(tt.rel); got != tt.want {
			t.Errorf("ignored(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}
