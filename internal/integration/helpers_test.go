//go:build integration

package integration_test

import (
	_ "embed"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/depmanager"
	"vidgrab/internal/downloader"
	"vidgrab/internal/service"
	"vidgrab/internal/workspace"
)

//go:embed testdata/fake-ytdlp.sh
var fakeYTDLPScript string

// bins resolves yt-dlp to the fake script and everything else from PATH.
type bins map[depmanager.Name]string

func (b bins) Path(name depmanager.Name) string {
	if p, ok := b[name]; ok {
		return p
	}

	return string(name)
}

type ytdlpIntegrationFixture struct {
	root      string
	downloads service.Downloads
}

func newYTdlpIntegrationFixture(t *testing.T, mode string, timeout time.Duration) *ytdlpIntegrationFixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("integration fake yt-dlp helper uses shell script")
	}

	baseDir := t.TempDir()
	binsDir := filepath.Join(baseDir, "bins")
	root := filepath.Join(baseDir, "workspaces")

	if err := os.MkdirAll(binsDir, 0o755); err != nil {
		t.Fatalf("mkdir bins dir: %v", err)
	}

	fakeBinaryPath := filepath.Join(binsDir, "yt-dlp")
	if err := os.WriteFile(fakeBinaryPath, []byte(fakeYTDLPScript), 0o755); err != nil {
		t.Fatalf("write fake yt-dlp: %v", err)
	}

	t.Setenv("VIDGRAB_FAKE_MODE", mode)

	log := slog.New(slog.DiscardHandler)

	ws, err := workspace.New(log, config.Workspace{Root: root}, nil)
	if err != nil {
		t.Fatalf("workspace new: %v", err)
	}

	generic := downloader.NewYTdlp(log, config.Dir{Cache: filepath.Join(baseDir, "cache")},
		bins{depmanager.YTdlp: fakeBinaryPath}, nil)
	orch := downloader.NewOrchestrator(log, nil, downloader.Routes(generic, generic))

	svc := service.NewDownloads(log, config.Job{Workers: 1, QueueSize: 1, Timeout: timeout}, nil, ws, orch)
	svc.Start(t.Context())

	return &ytdlpIntegrationFixture{root: root, downloads: svc}
}

func (fx *ytdlpIntegrationFixture) assertNoWorkspaces(t *testing.T) {
	t.Helper()

	entries, err := os.ReadDir(fx.root)
	if err != nil {
		t.Fatalf("read workspace root: %v", err)
	}

	if len(entries) != 0 {
		t.Fatalf("expected no workspaces left, got %d", len(entries))
	}
}
