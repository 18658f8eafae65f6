// Package workspace hands out one ephemeral directory per download and
// guarantees it is gone once the download is delivered or abandoned.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/consts"
	"vidgrab/internal/observability"
)

const (
	dirPrefix   = "ws-"
	dirPermRoot = 0o750
)

// Manager owns the workspace root directory.
type Manager struct {
	log     *slog.Logger
	root    string
	maxAge  time.Duration
	metrics *observability.Metrics
	now     func() time.Time

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates the root directory if needed.
func New(log *slog.Logger, cfg config.Workspace, metrics *observability.Metrics) (*Manager, error) {
	if err := os.MkdirAll(cfg.Root, dirPermRoot); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}

	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = consts.DefaultWorkspaceMaxAge
	}

	return &Manager{
		log:     log.With(slog.String("package", "workspace")),
		root:    cfg.Root,
		maxAge:  maxAge,
		metrics: metrics,
		now:     time.Now,
		active:  make(map[string]struct{}),
	}, nil
}

// Root returns the parent directory of every workspace.
func (m *Manager) Root() string {
	return m.root
}

// Run creates a fresh directory, calls fn with it exactly once and removes it
// recursively when fn returns or panics.
func (m *Manager) Run(ctx context.Context, fn func(ctx context.Context, dir string) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}

	dir, err := m.open()
	if err != nil {
		return err
	}

	defer m.release(ctx, dir)

	return fn(ctx, dir)
}

func (m *Manager) open() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dir, err := os.MkdirTemp(m.root, dirPrefix)
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	m.active[dir] = struct{}{}
	m.metrics.SetWorkspacesActive(len(m.active))

	return dir, nil
}

func (m *Manager) release(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		m.log.ErrorContext(ctx, "failed to remove workspace", slog.String("dir", dir), slog.Any("error", err))
	}

	m.mu.Lock()
	delete(m.active, dir)
	m.metrics.SetWorkspacesActive(len(m.active))
	m.mu.Unlock()
}

// Active returns the number of live workspaces.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.active)
}

// Sweep removes inactive ws-* directories last modified more than olderThan ago.
// Zero olderThan removes every inactive workspace.
func (m *Manager) Sweep(ctx context.Context, olderThan time.Duration) int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		m.log.ErrorContext(ctx, "failed to list workspace root", slog.Any("error", err))

		return 0
	}

	cutoff := m.now().Add(-olderThan)
	removed := 0

	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), dirPrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		if m.sweepOne(ctx, filepath.Join(m.root, entry.Name())) {
			removed++
		}
	}

	if removed > 0 {
		m.log.InfoContext(ctx, "swept stale workspaces", slog.Int("count", removed))
		m.metrics.RecordSwept(removed)
	}

	return removed
}

func (m *Manager) sweepOne(ctx context.Context, dir string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, live := m.active[dir]; live {
		return false
	}

	if err := os.RemoveAll(dir); err != nil {
		m.log.ErrorContext(ctx, "failed to sweep workspace", slog.String("dir", dir), slog.Any("error", err))

		return false
	}

	return true
}

// StartSweeper removes leftovers from a previous process, then sweeps workspaces
// older than the configured max age every interval until ctx is done.
func (m *Manager) StartSweeper(ctx context.Context, interval time.Duration) {
	m.Sweep(ctx, 0)

	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.Sweep(ctx, m.maxAge)
			case <-ctx.Done():
				m.log.Info("workspace sweeper stopped")

				return
			}
		}
	}()
}
