//nolint:testpackage // using internal package access to cover private helpers
package depmanager

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/synctest"
	"time"

	"vidgrab/internal/config"
	"vidgrab/internal/errs"

	"github.com/ulikunitz/xz"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// routes answers requests by path; unknown paths get 404.
func routes(m map[string][]byte) *http.Client {
	return &http.Client{
		Transport: rtFunc(func(r *http.Request) (*http.Response, error) {
			body, ok := m[r.URL.Path]
			status := http.StatusOK

			if !ok {
				status = http.StatusNotFound
				body = []byte("nf")
			}

			return &http.Response{
				StatusCode: status,
				Body:       io.NopCloser(bytes.NewReader(body)),
				Header:     make(http.Header),
				Request:    r,
			}, nil
		}),
	}
}

func newTestManager(cfg config.DepManager) *Manager {
	mgr := New(slog.New(slog.DiscardHandler), cfg)
	mgr.platform = Platform{OS: "linux", Arch: "amd64"}

	return mgr
}

func tarXZ(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}

	tw := tar.NewWriter(xw)

	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}

		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func TestParseSHASums(t *testing.T) {
	t.Parallel()

	hashA := strings.Repeat("a", sha256HexLength)
	hashB := strings.Repeat("b", sha256HexLength)

	tests := []struct {
		name     string
		content  string
		wantHash map[string]string
	}{
		{
			name:     "valid sums",
			content:  hashA + "  yt-dlp_linux\n" + hashB + "  yt-dlp_linux_aarch64\n",
			wantHash: map[string]string{"yt-dlp_linux": hashA, "yt-dlp_linux_aarch64": hashB},
		},
		{
			name:     "binary mode marker is stripped",
			content:  hashA + " *ffmpeg-master-latest-linux64-gpl.tar.xz",
			wantHash: map[string]string{"ffmpeg-master-latest-linux64-gpl.tar.xz": hashA},
		},
		{
			name:     "empty content",
			content:  "",
			wantHash: map[string]string{},
		},
		{
			name:     "invalid lines are skipped",
			content:  "not a valid line\nshort  filename\n" + hashB + "  ok\n",
			wantHash: map[string]string{"ok": hashB},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(config.DepManager{})
			mgr.ParseSHASums(tc.content)

			if len(mgr.shaSums) != len(tc.wantHash) {
				t.Fatalf("got %d sums, want %d", len(mgr.shaSums), len(tc.wantHash))
			}

			for filename, want := range tc.wantHash {
				if got := mgr.shaSums[filename]; got != want {
					t.Errorf("hash for %s: got %s, want %s", filename, got, want)
				}
			}
		})
	}
}

func TestBinaryPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bin  Name
		os   string
		want string
	}{
		{"yt-dlp on linux", YTdlp, "linux", "/app/bins/yt-dlp"},
		{"ffmpeg on linux", FFmpeg, "linux", "/app/bins/ffmpeg"},
		{"ffprobe on windows", FFprobe, "windows", "/app/bins/ffprobe.exe"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(config.DepManager{BinsDir: "/app/bins"})
			mgr.platform.OS = tc.os

			if got := mgr.BinaryPath(tc.bin); got != filepath.FromSlash(tc.want) {
				t.Fatalf("BinaryPath(%s) = %q; want %q", tc.bin, got, tc.want)
			}
		})
	}
}

func TestPathFallsBackToName(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(config.DepManager{BinsDir: "/app/bins"})
	if got := mgr.Path(FFmpeg); got != "ffmpeg" {
		t.Fatalf("Path before install = %q; want ffmpeg", got)
	}

	mgr.setBinaryPath(FFmpeg)

	if got := mgr.Path(FFmpeg); got != filepath.FromSlash("/app/bins/ffmpeg") {
		t.Fatalf("Path after install = %q", got)
	}
}

func zipArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	zw := zip.NewWriter(&buf)

	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}

		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func tarGZ(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}

		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func TestInstallAll(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	hash := strings.Repeat("e", sha256HexLength)

	mgr := newTestManager(config.DepManager{
		BinsDir:            dir,
		YTdlpSHA256SumsURL: "http://deps.test/ytdlp.sha",
		YTdlpLinuxAMD64:    "http://deps.test/yt-dlp_linux",
		FFmpegLinuxAMD64:   "http://deps.test/ffmpeg-master-latest-linux64-gpl.tar.xz",
	})
	mgr.client = routes(map[string][]byte{
		"/ytdlp.sha":    []byte(hash + "  yt-dlp_linux\n"),
		"/yt-dlp_linux": []byte("#!/bin/sh\necho yt-dlp\n"),
		"/ffmpeg-master-latest-linux64-gpl.tar.xz": tarXZ(t, map[string]string{
			"ffmpeg-master-latest-linux64-gpl/bin/ffmpeg":  "ffmpeg-bin",
			"ffmpeg-master-latest-linux64-gpl/bin/ffprobe": "ffprobe-bin",
			"ffmpeg-master-latest-linux64-gpl/LICENSE.txt": "gpl",
		}),
	})

	if err := mgr.InstallAll(t.Context()); err != nil {
		t.Fatalf("InstallAll() error = %v", err)
	}

	for name, want := range map[Name]string{FFmpeg: "ffmpeg-bin", FFprobe: "ffprobe-bin"} {
		data, err := os.ReadFile(mgr.Path(name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}

		if string(data) != want {
			t.Errorf("%s content = %q; want %q", name, data, want)
		}
	}

	info, err := os.Stat(mgr.Path(YTdlp))
	if err != nil {
		t.Fatalf("stat yt-dlp: %v", err)
	}

	if info.Mode().Perm()&0o100 == 0 {
		t.Errorf("yt-dlp mode = %v; want executable", info.Mode())
	}

	if _, err := os.Stat(filepath.Join(dir, "LICENSE.txt")); !os.IsNotExist(err) {
		t.Errorf("unrequested archive member extracted: %v", err)
	}

	if got := mgr.savedSums["yt-dlp_linux"]; got != hash {
		t.Errorf("saved sum = %q; want %q", got, hash)
	}
}

func TestInstallAllSkipsExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	for _, name := range []string{"yt-dlp", "ffmpeg", "ffprobe"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	mgr := newTestManager(config.DepManager{BinsDir: dir})
	mgr.client = &http.Client{Transport: rtFunc(func(r *http.Request) (*http.Response, error) {
		t.Errorf("unexpected request to %s", r.URL)

		return nil, errors.New("offline")
	})}

	if err := mgr.InstallAll(t.Context()); err != nil {
		t.Fatalf("InstallAll() error = %v", err)
	}

	if got := mgr.Path(FFprobe); got != filepath.Join(dir, "ffprobe") {
		t.Fatalf("Path(ffprobe) = %q", got)
	}
}

func TestInstallUnsupportedPlatform(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(config.DepManager{BinsDir: t.TempDir(), YTdlpLinuxAMD64: "http://deps.test/yt"})
	mgr.platform = Platform{OS: "plan9", Arch: "386"}

	err := mgr.InstallAll(t.Context())
	if !errors.Is(err, errs.ErrUnsupportedPlatform) {
		t.Fatalf("InstallAll() error = %v; want ErrUnsupportedPlatform", err)
	}
}

func TestDownloadServerError(t *testing.T) {
	t.Parallel()

	mgr := newTestManager(config.DepManager{BinsDir: t.TempDir()})
	mgr.client = routes(nil)

	err := mgr.download(t.Context(), "http://deps.test/missing", []Name{YTdlp})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("download() error = %v; want status 404", err)
	}
}

func TestDownloadArchives(t *testing.T) {
	t.Parallel()

	both := map[string]string{"build/bin/ffmpeg": "ffmpeg-bin", "build/bin/ffprobe": "ffprobe-bin", "build/README": "docs"}
	onlyFFmpeg := map[string]string{"build/bin/ffmpeg": "ffmpeg-bin"}

	tests := []struct {
		name    string
		path    string
		body    func(t *testing.T) []byte
		wantErr bool
	}{
		{name: "zip", path: "/ffmpeg.zip", body: func(t *testing.T) []byte { return zipArchive(t, both) }},
		{name: "tar.gz", path: "/ffmpeg.tar.gz", body: func(t *testing.T) []byte { return tarGZ(t, both) }},
		{name: "tar.xz", path: "/ffmpeg.tar.xz", body: func(t *testing.T) []byte { return tarXZ(t, both) }},
		{name: "zip missing member", path: "/ffmpeg.zip", body: func(t *testing.T) []byte { return zipArchive(t, onlyFFmpeg) }, wantErr: true},
		{name: "tar.gz missing member", path: "/ffmpeg.tar.gz", body: func(t *testing.T) []byte { return tarGZ(t, onlyFFmpeg) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(config.DepManager{BinsDir: t.TempDir()})
			mgr.client = routes(map[string][]byte{tt.path: tt.body(t)})

			err := mgr.download(t.Context(), "http://deps.test"+tt.path, []Name{FFmpeg, FFprobe})
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "found 1 of 2 files") {
					t.Fatalf("download() error = %v; want missing member", err)
				}

				return
			}

			if err != nil {
				t.Fatalf("download() error = %v", err)
			}

			for name, want := range map[Name]string{FFmpeg: "ffmpeg-bin", FFprobe: "ffprobe-bin"} {
				data, err := os.ReadFile(mgr.BinaryPath(name))
				if err != nil {
					t.Fatalf("read %s: %v", name, err)
				}

				if string(data) != want {
					t.Errorf("%s content = %q; want %q", name, data, want)
				}
			}

			if _, err := os.Stat(filepath.Join(mgr.cfg.BinsDir, "README")); !os.IsNotExist(err) {
				t.Errorf("unrequested archive member extracted: %v", err)
			}
		})
	}
}

func TestFindUpdates(t *testing.T) {
	t.Parallel()

	hashA := strings.Repeat("a", sha256HexLength)
	hashB := strings.Repeat("b", sha256HexLength)

	tests := []struct {
		name  string
		fetch map[string]string
		saved map[string]string
		want  []Name
	}{
		{
			name:  "changed yt-dlp",
			fetch: map[string]string{"yt-dlp_linux": hashA},
			saved: map[string]string{"yt-dlp_linux": hashB},
			want:  []Name{YTdlp},
		},
		{
			name:  "new ffmpeg hash without saved one",
			fetch: map[string]string{"ffmpeg-master-latest-linux64-gpl.tar.xz": hashA},
			saved: map[string]string{},
			want:  []Name{FFmpeg},
		},
		{
			name:  "no changes",
			fetch: map[string]string{"yt-dlp_linux": hashA},
			saved: map[string]string{"yt-dlp_linux": hashA},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := newTestManager(config.DepManager{})
			mgr.shaSums = tc.fetch
			mgr.savedSums = tc.saved

			got := mgr.findUpdates()
			if len(got) != len(tc.want) {
				t.Fatalf("findUpdates() = %d artifacts; want %d", len(got), len(tc.want))
			}

			for i, a := range got {
				if a.provides[0] != tc.want[i] {
					t.Errorf("update %d = %s; want %s", i, a.provides[0], tc.want[i])
				}
			}
		})
	}
}

func TestSaveAndLoadSums(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	hash := strings.Repeat("f", sha256HexLength)

	mgr := newTestManager(config.DepManager{BinsDir: dir})
	mgr.shaSums = map[string]string{"yt-dlp_linux": hash}

	if err := mgr.saveSums(); err != nil {
		t.Fatalf("saveSums() error = %v", err)
	}

	other := newTestManager(config.DepManager{BinsDir: dir})
	if err := other.loadSavedSums(); err != nil {
		t.Fatalf("loadSavedSums() error = %v", err)
	}

	if got := other.savedSums["yt-dlp_linux"]; got != hash {
		t.Fatalf("loaded sum = %q; want %q", got, hash)
	}
}

func TestStartUpdateChecker_UsesTicker(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		dir := t.TempDir()

		const binaryContent = "ticker binary"

		newHash := strings.Repeat("c", sha256HexLength)

		mgr := newTestManager(config.DepManager{
			BinsDir:            dir,
			UpdateInterval:     time.Second,
			YTdlpSHA256SumsURL: "http://deps.test/sha",
			YTdlpLinuxAMD64:    "http://deps.test/bin",
		})
		mgr.savedSums = map[string]string{"yt-dlp_linux": strings.Repeat("d", sha256HexLength)}
		mgr.client = routes(map[string][]byte{
			"/sha": fmt.Appendf(nil, "%s  yt-dlp_linux\n", newHash),
			"/bin": []byte(binaryContent),
		})

		ctx, cancel := context.WithCancel(t.Context())
		defer cancel()

		mgr.StartUpdateChecker(ctx)

		time.Sleep(time.Second)
		synctest.Wait()

		data, err := os.ReadFile(filepath.Join(dir, "yt-dlp"))
		if err != nil {
			t.Fatalf("expected binary to be downloaded by ticker: %v", err)
		}

		if string(data) != binaryContent {
			t.Fatalf("downloaded binary content mismatch: got %q, want %q", data, binaryContent)
		}

		cancel()
		synctest.Wait()

		if got := mgr.savedSums["yt-dlp_linux"]; got != newHash {
			t.Fatalf("saved checksum mismatch: got %s, want %s", got, newHash)
		}
	})
}
