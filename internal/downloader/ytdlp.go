package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"vidgrab/internal/config"
	"vidgrab/internal/consts"
	"vidgrab/internal/depmanager"
	"vidgrab/internal/errs"
	"vidgrab/internal/proxymgr"
	"vidgrab/pkg/calc"
	"vidgrab/pkg/urls"

	"github.com/lrstanley/go-ytdlp"
)

var (
	maxJSONSize = 10 * 1024 * 1024                                       // 10 MiB scanner buffer
	bufSize     = 4096                                                   // 4 KiB buffer size
	reFilepath  = regexp.MustCompile(`(?i)^[^\{\[\n].*\.[a-z0-9]{1,6}$`) // file path

	// changing this may break ParseYtdlpStdout().
	defaultPrintAfterMove = "after_move:filepath"
)

const outputTemplate = "%(id)s.%(ext)s"

// Binaries resolves external executables.
type Binaries interface {
	Path(name depmanager.Name) string
}

// YTdlp is the generic backend driving the yt-dlp executable.
type YTdlp struct {
	log     *slog.Logger
	dirs    config.Dir
	bins    Binaries
	proxies *proxymgr.Manager
}

// NewYTdlp creates the generic backend.
func NewYTdlp(log *slog.Logger, dirs config.Dir, bins Binaries, proxies *proxymgr.Manager) *YTdlp {
	return &YTdlp{
		log:     log.With(slog.String("package", "downloader"), slog.String("backend", consts.BackendYTdlp)),
		dirs:    dirs,
		bins:    bins,
		proxies: proxies,
	}
}

// Name implements Backend.
func (d *YTdlp) Name() string {
	return consts.BackendYTdlp
}

// Fetch runs yt-dlp for the first entry of t.URL, merged and remuxed to mp4 inside dir.
func (d *YTdlp) Fetch(ctx context.Context, t Target, dir string) (Artifact, error) {
	log := d.log.With(slog.String("url", t.URL), slog.String("dir", dir))

	progressFn := func(prog ytdlp.ProgressUpdate) {
		log.DebugContext(ctx, "ytdlp progress",
			slog.Any("progress_update", ProgressUpdate{&prog}),
			slog.Int("percent", calc.Progress(prog.DownloadedBytes, prog.TotalBytes)))
	}

	command := d.command(t.Quality, dir).ProgressFunc(defaultProgressFreq, progressFn)

	proxy := d.proxies.Pick()
	if proxy != "" {
		log.InfoContext(ctx, "using proxy for download", slog.String("proxy", urls.Redact(proxy)))
		command = command.Proxy(proxy)
	}

	res, err := command.Run(ctx, t.URL)
	d.proxies.Report(proxy, err)

	if err != nil {
		log.ErrorContext(ctx, "ytdlp run", slog.Any("error", err), slog.Any("result", Result{res}))

		if ctxErr := ctx.Err(); ctxErr != nil {
			return Artifact{}, ctxErr
		}

		return Artifact{}, fmt.Errorf("yt-dlp: %s: %w", stderrSummary(res), err)
	}

	log.DebugContext(ctx, "ytdlp done", slog.Any("result", Result{res}))

	results, err := ParseYtdlpStdout(res.Stdout)
	if err != nil {
		return Artifact{}, err
	}

	return pickArtifact(results, dir)
}

func (d *YTdlp) command(q Quality, dir string) *ytdlp.Command {
	command := ytdlp.New().
		Format(q.FormatSelector()).
		MergeOutputFormat("mp4").
		RemuxVideo("mp4").
		NoPlaylist().
		PlaylistItems("1").
		NoWarnings().
		PrintJSON().
		Print(defaultPrintAfterMove).
		Output(filepath.Join(dir, outputTemplate)).
		SetWorkDir(dir)

	if d.dirs.Cache != "" {
		command = command.CacheDir(d.dirs.Cache)
	}

	if d.dirs.CookieFile != "" {
		command = command.Cookies(d.dirs.CookieFile)
	}

	if d.bins != nil {
		if bin := d.bins.Path(depmanager.YTdlp); filepath.IsAbs(bin) {
			command = command.SetExecutable(bin)
		}

		if bin := d.bins.Path(depmanager.FFmpeg); filepath.IsAbs(bin) {
			command = command.FFmpegLocation(bin)
		}
	}

	return command
}

// pickArtifact takes the first result that reported a file, falling back to the
// largest file written into dir.
func pickArtifact(results []ResultJSON, dir string) (Artifact, error) {
	for _, r := range results {
		if r.Filename != "" {
			return Artifact{Path: r.Filename, Title: r.DisplayTitle()}, nil
		}
	}

	title := ""
	if len(results) > 0 {
		title = results[0].DisplayTitle()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %w", errs.ErrNoOutput, err)
	}

	var (
		best string
		size int64
	)

	for _, e := range entries {
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		if info.Size() > size {
			best, size = filepath.Join(dir, e.Name()), info.Size()
		}
	}

	if best == "" {
		return Artifact{}, errs.ErrNoOutput
	}

	return Artifact{Path: best, Title: title}, nil
}

// ParseYtdlpStdout parses the stdout of yt-dlp and returns a slice of ResultJSON with their filenames.
// A file path line is attached to the JSON line printed before it.
func ParseYtdlpStdout(stdout string) ([]ResultJSON, error) {
	scanner := bufio.NewScanner(strings.NewReader(stdout))
	scanner.Buffer(make([]byte, bufSize), maxJSONSize)

	var res []ResultJSON

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "{") {
			var r ResultJSON
			if err := json.Unmarshal([]byte(line), &r); err == nil {
				r.Filename = ""
				res = append(res, r)

				continue
			}
		}

		if reFilepath.MatchString(line) && len(res) > 0 {
			res[len(res)-1].Filename = line
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan yt-dlp stdout: %w", err)
	}

	return res, nil
}

// stderrSummary returns the last ERROR line yt-dlp printed, or its last line.
func stderrSummary(res *ytdlp.Result) string {
	if res == nil {
		return "no output"
	}

	lines := strings.Split(strings.TrimSpace(res.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); strings.HasPrefix(line, "ERROR:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "ERROR:"))
		}
	}

	if last := strings.TrimSpace(lines[len(lines)-1]); last != "" {
		return last
	}

	return "exited with error"
}
