package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"vidgrab/internal/consts"
)

const mockSteps = 10

// Mock pretends to download by waiting and then writing a fixed payload.
type Mock struct {
	log     *slog.Logger
	delay   time.Duration
	payload []byte
	calls   atomic.Int64
}

// NewMock creates a mock backend. Zero delay writes immediately.
func NewMock(log *slog.Logger, delay time.Duration, payload []byte) *Mock {
	if len(payload) == 0 {
		payload = []byte("\x00\x00\x00\x18ftypmp42mock video payload")
	}

	return &Mock{
		log:     log.With(slog.String("package", "downloader"), slog.String("backend", consts.BackendMock)),
		delay:   delay,
		payload: payload,
	}
}

// Name implements Backend.
func (m *Mock) Name() string {
	return consts.BackendMock
}

// Calls returns how many times Fetch ran.
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}

// Fetch implements Backend.
func (m *Mock) Fetch(ctx context.Context, t Target, dir string) (Artifact, error) {
	m.calls.Add(1)

	log := m.log.With(slog.String("url", t.URL))

	if err := simulateDownload(ctx, m.delay, func(progress int) {
		log.DebugContext(ctx, "mock progress", slog.Int("progress", progress))
	}); err != nil {
		return Artifact{}, err
	}

	out := filepath.Join(dir, "mock"+mp4Ext)
	if err := os.WriteFile(out, m.payload, filePermDownload); err != nil {
		return Artifact{}, fmt.Errorf("write mock payload: %w", err)
	}

	return Artifact{Path: out, Title: mockTitle(t.URL, t.Quality)}, nil
}

func mockTitle(raw string, q Quality) string {
	name := "video"

	if u, err := url.Parse(raw); err == nil && u.Path != "" && u.Path != "/" {
		name = path.Base(u.Path)
	}

	return fmt.Sprintf("mock %s %s", name, q)
}

func simulateDownload(ctx context.Context, duration time.Duration, progressFn func(progress int)) error {
	if duration <= 0 {
		return ctx.Err()
	}

	ticker := time.NewTicker(duration / mockSteps)
	defer ticker.Stop()

	for step := 1; step <= mockSteps; step++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			progressFn(step * (100 / mockSteps))
		}
	}

	return nil
}
