package downloader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"vidgrab/internal/depmanager"
	"vidgrab/pkg/shellquote"
)

const stderrTail = 2048

// Muxer combines stream files into one mp4.
type Muxer interface {
	Mux(ctx context.Context, dst string, inputs ...string) error
}

// FFmpeg muxes with the ffmpeg executable, copying codecs without re-encoding.
type FFmpeg struct {
	log  *slog.Logger
	bins Binaries
}

// NewFFmpeg creates an ffmpeg muxer.
func NewFFmpeg(log *slog.Logger, bins Binaries) *FFmpeg {
	return &FFmpeg{
		log:  log.With(slog.String("package", "downloader"), slog.String("component", "ffmpeg")),
		bins: bins,
	}
}

// Args builds the ffmpeg command line. With two inputs the first supplies video
// and the second audio.
func (f *FFmpeg) Args(dst string, inputs ...string) []string {
	args := []string{"-hide_banner", "-nostdin", "-loglevel", "error", "-nostats", "-progress", "pipe:1", "-y"}

	for _, in := range inputs {
		args = append(args, "-i", in)
	}

	if len(inputs) > 1 {
		args = append(args, "-map", "0:v:0", "-map", "1:a:0")
	} else {
		args = append(args, "-map", "0")
	}

	return append(args, "-c", "copy", "-movflags", "+faststart", "-f", "mp4", dst)
}

// Mux implements Muxer.
func (f *FFmpeg) Mux(ctx context.Context, dst string, inputs ...string) error {
	if len(inputs) == 0 {
		return errors.New("mux: no inputs")
	}

	bin := string(depmanager.FFmpeg)
	if f.bins != nil {
		bin = f.bins.Path(depmanager.FFmpeg)
	}

	args := f.Args(dst, inputs...)
	log := f.log.With(slog.String("dst", dst))

	log.DebugContext(ctx, "executing ffmpeg", slog.String("command", shellquote.Join(bin, args)))

	cmd := exec.CommandContext(ctx, bin, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	var (
		stderrBuf strings.Builder
		wg        sync.WaitGroup
	)

	wg.Go(func() {
		f.handleProgress(ctx, log, stdout)
	})

	wg.Go(func() {
		io.Copy(&stderrBuf, stderr)
	})

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		msg := strings.TrimSpace(stderrBuf.String())
		if len(msg) > stderrTail {
			msg = msg[len(msg)-stderrTail:]
		}

		log.ErrorContext(ctx, "ffmpeg failed", slog.Any("error", err), slog.String("stderr", msg))

		return fmt.Errorf("ffmpeg: %s: %w", lastLine(msg), err)
	}

	return nil
}

// handleProgress reads "-progress pipe:1" key=value blocks and logs out_time at most every defaultProgressFreq.
func (f *FFmpeg) handleProgress(ctx context.Context, log *slog.Logger, r io.Reader) {
	scanner := bufio.NewScanner(r)
	lastUpdate := time.Time{}

	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || key != "out_time_us" {
			continue
		}

		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil || time.Since(lastUpdate) < defaultProgressFreq {
			continue
		}

		lastUpdate = time.Now()

		log.DebugContext(ctx, "mux progress", slog.Duration("out_time", time.Duration(us)*time.Microsecond))
	}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}

	if s == "" {
		return "exited with error"
	}

	return s
}
