package httprouter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"vidgrab/internal/consts"
	"vidgrab/internal/downloader"
	"vidgrab/internal/errs"
	"vidgrab/internal/infrastructure/delivery/http/middleware"
	"vidgrab/internal/infrastructure/delivery/http/request"
	"vidgrab/internal/infrastructure/delivery/http/response"
)

// countingWriter counts body bytes written by http.ServeContent and records
// whether the status line went out.
type countingWriter struct {
	http.ResponseWriter
	n         int64
	committed bool
}

func (c *countingWriter) WriteHeader(code int) {
	c.committed = true
	c.ResponseWriter.WriteHeader(code)
}

func (c *countingWriter) Write(b []byte) (int, error) {
	c.committed = true
	n, err := c.ResponseWriter.Write(b)
	c.n += int64(n)

	return n, err
}

func (c *countingWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

// Download resolves the requested video and streams it back as an attachment.
func (r *Router) Download(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	log := r.log.With(slog.String("handler", "Download"), slog.String("request_id", middleware.RequestIDFromContext(ctx)))

	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxBodyBytes)

	var in request.Download
	if err := request.DecodeJSON(req.Body, &in); err != nil {
		log.InfoContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	dr, err := in.Validate()
	if err != nil {
		log.InfoContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	cw := &countingWriter{ResponseWriter: w}

	err = r.deps.Downloads.Download(ctx, dr, func(ctx context.Context, path string) error {
		return r.serveFile(ctx, cw, req, path)
	})
	if err == nil {
		log.InfoContext(ctx, "download delivered", slog.Any("request", dr))

		return
	}

	var failure *downloader.Failure

	switch {
	case cw.committed:
		log.WarnContext(ctx, "delivery interrupted", slog.Any("error", err))
	case errors.Is(err, context.Canceled), errors.Is(err, errs.ErrJobAbandoned):
		log.InfoContext(ctx, "client went away", slog.Any("error", err))
	case errors.As(err, &failure):
		log.WarnContext(ctx, consts.RespDownloadFailed, slog.Any("request", dr), slog.String("reason", failure.Reason))
		response.BadRequest(w, consts.RespDownloadFailed, errors.New(failure.Reason))
	case errors.Is(err, errs.ErrJobQueueFull), errors.Is(err, errs.ErrServiceClosed):
		log.WarnContext(ctx, consts.RespServiceUnavailable, slog.Any("error", err))
		response.ServiceUnavailable(w, consts.RespServiceUnavailable, err)
	default:
		log.ErrorContext(ctx, consts.RespDownloadFailed, slog.Any("error", err))
		response.InternalServerError(w, consts.RespInternalError, nil)
	}
}

// serveFile writes path as an octet-stream attachment with range support.
func (r *Router) serveFile(ctx context.Context, cw *countingWriter, req *http.Request, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat artifact: %w", err)
	}

	name := filepath.Base(path)

	h := cw.Header()
	h.Set("Content-Type", "application/octet-stream")
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})
	if disposition == "" {
		disposition = "attachment"
	}

	h.Set("Content-Disposition", disposition)
	h.Set("Cache-Control", "no-store")

	http.ServeContent(cw, req.WithContext(ctx), name, info.ModTime(), f)

	r.deps.Metrics.RecordDelivered(cw.n)

	if cw.n < info.Size() && req.Header.Get("Range") == "" {
		if err := ctx.Err(); err != nil {
			return err
		}

		return fmt.Errorf("short write: %d of %d bytes: %w", cw.n, info.Size(), io.ErrShortWrite)
	}

	return nil
}
