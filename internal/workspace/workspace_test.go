package workspace_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/workspace"
)

func newManager(t *testing.T, maxAge time.Duration) *workspace.Manager {
	t.Helper()

	mgr, err := workspace.New(slog.New(slog.DiscardHandler), config.Workspace{
		Root:   filepath.Join(t.TempDir(), "root"),
		MaxAge: maxAge,
	}, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return mgr
}

func assertGone(t *testing.T, dir string) {
	t.Helper()

	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("workspace %s still exists (stat err = %v)", dir, err)
	}
}

func TestRunRemovesDirectory(t *testing.T) {
	t.Parallel()

	errBackend := errors.New("backend failed")

	tests := []struct {
		name    string
		fn      func(dir string) error
		wantErr error
	}{
		{
			name: "success with nested files",
			fn: func(dir string) error {
				if err := os.MkdirAll(filepath.Join(dir, "a", "b"), 0o750); err != nil {
					return err
				}

				return os.WriteFile(filepath.Join(dir, "a", "b", "video.mp4"), []byte("x"), 0o600)
			},
		},
		{
			name:    "error",
			fn:      func(string) error { return errBackend },
			wantErr: errBackend,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mgr := newManager(t, time.Hour)

			var seen string

			err := mgr.Run(t.Context(), func(_ context.Context, dir string) error {
				seen = dir

				if !strings.HasPrefix(filepath.Base(dir), "ws-") || filepath.Dir(dir) != mgr.Root() {
					t.Errorf("dir = %q; want ws-* under %q", dir, mgr.Root())
				}

				if mgr.Active() != 1 {
					t.Errorf("Active() in fn = %d; want 1", mgr.Active())
				}

				return tt.fn(dir)
			})
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Run() error = %v; want %v", err, tt.wantErr)
			}

			assertGone(t, seen)

			if mgr.Active() != 0 {
				t.Fatalf("Active() after Run = %d; want 0", mgr.Active())
			}
		})
	}
}

func TestRunRemovesDirectoryOnPanic(t *testing.T) {
	t.Parallel()

	mgr := newManager(t, time.Hour)

	var seen string

	func() {
		defer func() {
			if recover() == nil {
				t.Error("panic was swallowed")
			}
		}()

		_ = mgr.Run(t.Context(), func(_ context.Context, dir string) error {
			seen = dir

			panic("boom")
		})
	}()

	assertGone(t, seen)
}

func TestRunCancelledContext(t *testing.T) {
	t.Parallel()

	mgr := newManager(t, time.Hour)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	called := false

	err := mgr.Run(ctx, func(context.Context, string) error {
		called = true

		return nil
	})
	if !errors.Is(err, context.Canceled) || called {
		t.Fatalf("Run() = %v, called = %v; want context.Canceled without call", err, called)
	}

	entries, _ := os.ReadDir(mgr.Root())
	if len(entries) != 0 {
		t.Fatalf("root has %d entries; want 0", len(entries))
	}
}

func TestRunUniqueDirectories(t *testing.T) {
	t.Parallel()

	mgr := newManager(t, time.Hour)

	_ = mgr.Run(t.Context(), func(_ context.Context, outer string) error {
		return mgr.Run(t.Context(), func(_ context.Context, inner string) error {
			if inner == outer {
				t.Errorf("nested workspaces share %q", inner)
			}

			if mgr.Active() != 2 {
				t.Errorf("Active() = %d; want 2", mgr.Active())
			}

			return nil
		})
	})
}

func TestSweepSkipsActiveAndForeign(t *testing.T) {
	t.Parallel()

	mgr := newManager(t, time.Hour)
	root := mgr.Root()

	stale := filepath.Join(root, "ws-stale")
	foreign := filepath.Join(root, "keep-me")

	for _, d := range []string{stale, foreign} {
		if err := os.Mkdir(d, 0o750); err != nil {
			t.Fatal(err)
		}
	}

	_ = mgr.Run(t.Context(), func(_ context.Context, dir string) error {
		if got := mgr.Sweep(t.Context(), 0); got != 1 {
			t.Errorf("Sweep() = %d; want 1", got)
		}

		if _, err := os.Stat(dir); err != nil {
			t.Errorf("active workspace swept: %v", err)
		}

		return nil
	})

	assertGone(t, stale)

	if _, err := os.Stat(foreign); err != nil {
		t.Fatalf("non-workspace dir removed: %v", err)
	}
}

func TestSweepRespectsAge(t *testing.T) {
	t.Parallel()

	mgr := newManager(t, time.Hour)
	root := mgr.Root()

	old := filepath.Join(root, "ws-old")
	fresh := filepath.Join(root, "ws-fresh")

	for _, d := range []string{old, fresh} {
		if err := os.Mkdir(d, 0o750); err != nil {
			t.Fatal(err)
		}
	}

	past := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(old, past, past); err != nil {
		t.Fatal(err)
	}

	if got := mgr.Sweep(t.Context(), time.Hour); got != 1 {
		t.Fatalf("Sweep() = %d; want 1", got)
	}

	assertGone(t, old)

	if _, err := os.Stat(fresh); err != nil {
		t.Fatalf("fresh workspace removed: %v", err)
	}
}

func TestStartSweeper(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		mgr := newManager(t, time.Minute)
		root := mgr.Root()

		// real mtimes are ahead of the bubble clock, pin them to it
		past := time.Now().Add(-time.Hour)

		leftover := filepath.Join(root, "ws-leftover")
		if err := os.Mkdir(leftover, 0o750); err != nil {
			t.Fatal(err)
		}

		if err := os.Chtimes(leftover, past, past); err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		mgr.StartSweeper(ctx, time.Minute)
		assertGone(t, leftover)

		late := filepath.Join(root, "ws-late")
		if err := os.Mkdir(late, 0o750); err != nil {
			t.Fatal(err)
		}

		if err := os.Chtimes(late, past, past); err != nil {
			t.Fatal(err)
		}

		time.Sleep(time.Minute)
		synctest.Wait()

		assertGone(t, late)

		cancel()
		synctest.Wait()
	})
}
