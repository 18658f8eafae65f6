// Package downloader resolves a download request into a single mp4 file inside
// a workspace by routing it to the extraction backend registered for its platform.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vidgrab/internal/entity"
	"vidgrab/internal/errs"
	"vidgrab/internal/observability"
)

const (
	defaultProgressFreq = 500 * time.Millisecond
	mp4Ext              = ".mp4"
	maxReasonLen        = 512
)

// Backend is one extraction engine.
type Backend interface {
	Name() string
	// Fetch downloads t.URL into dir and returns the produced file.
	Fetch(ctx context.Context, t Target, dir string) (Artifact, error)
}

// Target is what a backend is asked to fetch.
type Target struct {
	URL     string
	Quality Quality
}

// Artifact is the file a backend reports after a successful fetch.
type Artifact struct {
	Path  string
	Title string
}

// Failure is the only error Resolve returns.
type Failure struct {
	Backend string
	Reason  string
	Err     error
}

func (f *Failure) Error() string {
	if f.Backend == "" {
		return f.Reason
	}

	return f.Backend + ": " + f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Orchestrator maps platforms to backends.
type Orchestrator struct {
	log      *slog.Logger
	metrics  *observability.Metrics
	backends map[entity.Platform]Backend
}

// Routes sends youtube to the youtube backend and every other platform to generic.
func Routes(youtube, generic Backend) map[entity.Platform]Backend {
	table := make(map[entity.Platform]Backend, len(entity.Platforms()))

	for _, p := range entity.Platforms() {
		table[p] = generic
	}

	table[entity.PlatformYouTube] = youtube

	return table
}

// NewOrchestrator creates an orchestrator over the given routing table.
func NewOrchestrator(log *slog.Logger, metrics *observability.Metrics, backends map[entity.Platform]Backend) *Orchestrator {
	return &Orchestrator{
		log:      log.With(slog.String("package", "downloader")),
		metrics:  metrics,
		backends: backends,
	}
}

// Backend returns the backend registered for p.
func (o *Orchestrator) Backend(p entity.Platform) (Backend, bool) {
	b, ok := o.backends[p]

	return b, ok && b != nil
}

// Resolve fetches req into dir and returns the path of <sanitized title>.mp4.
// Every error is a *Failure.
func (o *Orchestrator) Resolve(ctx context.Context, req entity.DownloadRequest, dir string) (string, error) {
	backend, ok := o.Backend(req.Platform)
	if !ok {
		return "", &Failure{
			Reason: fmt.Sprintf("unsupported platform %q", req.Platform),
			Err:    errs.ErrBackendNotFound,
		}
	}

	log := o.log.With(slog.String("backend", backend.Name()), slog.Any("request", req))
	quality := ParseQuality(req.Quality)

	log.InfoContext(ctx, "resolving", slog.String("format", quality.String()))

	done := o.metrics.DownloadTimer(backend.Name())
	path, err := o.fetch(ctx, backend, Target{URL: req.URL, Quality: quality}, dir)
	done()

	o.metrics.RecordResolved(backend.Name(), err)

	if err != nil {
		failure := newFailure(ctx, backend.Name(), err)
		log.WarnContext(ctx, "resolve failed", slog.String("reason", failure.Reason), slog.Any("error", err))

		return "", failure
	}

	log.InfoContext(ctx, "resolved", slog.String("path", path))

	return path, nil
}

func (o *Orchestrator) fetch(ctx context.Context, backend Backend, t Target, dir string) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: backend panic: %v", errs.ErrDownloadFailed, r)
		}
	}()

	artifact, err := backend.Fetch(ctx, t, dir)
	if err != nil {
		return "", err
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}

	return finalize(dir, artifact)
}

// finalize checks that the artifact is a non-empty regular mp4 inside dir and
// renames it to the sanitized title.
func finalize(dir string, a Artifact) (string, error) {
	if a.Path == "" {
		return "", errs.ErrNoOutput
	}

	path := a.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	path = filepath.Clean(path)

	if !within(dir, path) {
		return "", fmt.Errorf("%w: %s", errs.ErrOutsideWorkspace, path)
	}

	info, err := os.Lstat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrNoOutput, err)
	}

	if !info.Mode().IsRegular() || info.Size() == 0 {
		return "", fmt.Errorf("%w: %s is not a non-empty regular file", errs.ErrNoOutput, filepath.Base(path))
	}

	if ext := filepath.Ext(path); !strings.EqualFold(ext, mp4Ext) {
		return "", fmt.Errorf("%w: %q", errs.ErrUnexpectedFormat, ext)
	}

	title := a.Title
	if strings.TrimSpace(title) == "" {
		title = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	final := filepath.Join(filepath.Clean(dir), SanitizeFilename(title)+mp4Ext)
	if final == path {
		return path, nil
	}

	if err := os.Rename(path, final); err != nil {
		return "", fmt.Errorf("rename output: %w", err)
	}

	return final, nil
}

func within(dir, path string) bool {
	rel, err := filepath.Rel(filepath.Clean(dir), path)
	if err != nil {
		return false
	}

	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

func newFailure(ctx context.Context, backend string, err error) *Failure {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure
	}

	return &Failure{Backend: backend, Reason: reason(ctx, err), Err: err}
}

func reason(ctx context.Context, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "download timed out"
	case errors.Is(err, context.Canceled), errors.Is(ctx.Err(), context.Canceled):
		return "download cancelled"
	case errors.Is(err, errs.ErrOutsideWorkspace):
		return "backend wrote outside the workspace"
	case errors.Is(err, errs.ErrNoOutput):
		return "backend produced no file"
	case errors.Is(err, errs.ErrUnexpectedFormat):
		return "backend produced a non-mp4 file"
	case errors.Is(err, errs.ErrNoStreams):
		return "no downloadable streams found"
	}

	msg := strings.TrimSpace(err.Error())
	if len(msg) > maxReasonLen {
		msg = truncate(msg, maxReasonLen)
	}

	return msg
}
