package downloader

import (
	"fmt"
	"log/slog"
	"strings"

	"vidgrab/pkg/calc"

	"github.com/lrstanley/go-ytdlp"
)

// Result wraps ytdlp.Result for custom logging.
type Result struct {
	*ytdlp.Result
}

// LogValue implements the slog.LogValuer interface for custom logging of Result.
func (r Result) LogValue() slog.Value {
	if r.Result == nil {
		return slog.GroupValue(slog.String("error", "nil result"))
	}

	var logs strings.Builder
	for _, l := range r.OutputLogs {
		fmt.Fprintf(&logs, "%s\n", l.Line)
	}

	return slog.GroupValue(
		slog.String("executable", r.Executable),
		slog.Any("args", r.Args),
		slog.Int("exit_code", r.ExitCode),
		slog.String("stderr", r.Stderr),
		slog.String("output_logs", logs.String()),
	)
}

// ProgressUpdate wraps ytdlp.ProgressUpdate for custom logging.
type ProgressUpdate struct {
	*ytdlp.ProgressUpdate
}

// LogValue implements the slog.LogValuer interface for custom logging of ProgressUpdate.
func (p ProgressUpdate) LogValue() slog.Value {
	if p.ProgressUpdate == nil {
		return slog.GroupValue(slog.String("error", "nil progress update"))
	}

	return slog.GroupValue(
		slog.String("filename", p.Filename),
		slog.String("status", string(p.Status)),
		slog.Int("downloaded_bytes", p.DownloadedBytes),
		slog.Int("total_bytes", p.TotalBytes),
		slog.Int("fragment_index", p.FragmentIndex),
		slog.Int("fragment_count", p.FragmentCount),
		slog.Int("progress", calc.Progress(p.DownloadedBytes, p.TotalBytes)),
		slog.String("eta", calc.ETA(p.DownloadedBytes, p.TotalBytes, p.Started).String()),
	)
}

// ResultJSON is the subset of the yt-dlp info JSON the generic backend reads.
type ResultJSON struct {
	Type       string  `json:"_type"`
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Fulltitle  string  `json:"fulltitle"`
	Ext        string  `json:"ext"`
	Extractor  string  `json:"extractor"`
	WebpageURL string  `json:"webpage_url"`
	Duration   float64 `json:"duration"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Filename   string  `json:"filename"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r ResultJSON) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("title", r.Title),
		slog.String("extractor", r.Extractor),
		slog.Int("width", r.Width),
		slog.Int("height", r.Height),
		slog.String("filename", r.Filename),
	)
}

// DisplayTitle prefers the full title yt-dlp reports.
func (r ResultJSON) DisplayTitle() string {
	if r.Fulltitle != "" {
		return r.Fulltitle
	}

	return r.Title
}
