package downloader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vidgrab/internal/errs"

	"github.com/lrstanley/go-ytdlp"
)

func TestParseYtdlpStdout(t *testing.T) {
	t.Parallel()

	stdout := strings.Join([]string{
		`{"_type":"video","id":"abc","title":"First","ext":"mp4","extractor":"TikTok","_filename":"/tmp/ws/abc.webm"}`,
		`/tmp/ws-1/abc.mp4`,
		``,
		`[download] 100% of 1.00MiB`,
		`{"_type":"video","id":"def","fulltitle":"Second full","ext":"mp4","filename":"/tmp/ws-1/def.webm"}`,
		`{not json`,
	}, "\n")

	got, err := ParseYtdlpStdout(stdout)
	if err != nil {
		t.Fatalf("ParseYtdlpStdout() error = %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("len = %d; want 2: %+v", len(got), got)
	}

	if got[0].ID != "abc" || got[0].Filename != "/tmp/ws-1/abc.mp4" {
		t.Errorf("first = %+v", got[0])
	}

	if got[1].Filename != "" {
		t.Errorf("second filename = %q; want empty, json filename is ignored", got[1].Filename)
	}

	if got[1].DisplayTitle() != "Second full" {
		t.Errorf("second title = %q", got[1].DisplayTitle())
	}
}

func TestParseYtdlpStdoutPathBeforeJSONIgnored(t *testing.T) {
	t.Parallel()

	got, err := ParseYtdlpStdout("/tmp/stray.mp4\n")
	if err != nil || len(got) != 0 {
		t.Fatalf("got %+v, %v", got, err)
	}
}

func TestPickArtifact(t *testing.T) {
	t.Parallel()

	t.Run("reported file wins", func(t *testing.T) {
		t.Parallel()

		a, err := pickArtifact([]ResultJSON{{Title: "skip"}, {Title: "T", Filename: "/ws/a.mp4"}}, t.TempDir())
		if err != nil || a.Path != "/ws/a.mp4" || a.Title != "T" {
			t.Fatalf("got %+v, %v", a, err)
		}
	})

	t.Run("largest file fallback", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		mustWrite(t, filepath.Join(dir, "small.mp4"), "x")
		mustWrite(t, filepath.Join(dir, "big.mp4"), "xxxxxxxx")

		if err := os.Mkdir(filepath.Join(dir, "sub"), 0o700); err != nil {
			t.Fatal(err)
		}

		a, err := pickArtifact([]ResultJSON{{Title: "Fallback"}}, dir)
		if err != nil || filepath.Base(a.Path) != "big.mp4" || a.Title != "Fallback" {
			t.Fatalf("got %+v, %v", a, err)
		}
	})

	t.Run("empty dir", func(t *testing.T) {
		t.Parallel()

		if _, err := pickArtifact(nil, t.TempDir()); !errors.Is(err, errs.ErrNoOutput) {
			t.Fatalf("err = %v; want ErrNoOutput", err)
		}
	})
}

func TestStderrSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		res  *ytdlp.Result
		want string
	}{
		{"nil", nil, "no output"},
		{"error line", &ytdlp.Result{Stderr: "WARNING: x\nERROR: [tiktok] 1: Video unavailable\nmore"}, "[tiktok] 1: Video unavailable"},
		{"last line", &ytdlp.Result{Stderr: "first\nsecond\n"}, "second"},
		{"empty", &ytdlp.Result{}, "exited with error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := stderrSummary(tt.res); got != tt.want {
				t.Fatalf("stderrSummary() = %q; want %q", got, tt.want)
			}
		})
	}
}

func mustWrite(t *testing.T, path, data string) {
	t.Helper()

	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
}
