package downloader

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"vidgrab/internal/consts"
	"vidgrab/internal/errs"
	"vidgrab/internal/proxymgr"
	"vidgrab/pkg/calc"
	"vidgrab/pkg/urls"

	"github.com/kkdai/youtube/v2"
)

// stream files are private to the workspace.
const filePermDownload = 0o600

// YouTube is the youtube backend. It picks streams itself and muxes
// separate video and audio with ffmpeg.
type YouTube struct {
	log     *slog.Logger
	base    *http.Client
	proxies *proxymgr.Manager
	muxer   Muxer
}

// NewYouTube creates the youtube backend.
func NewYouTube(log *slog.Logger, proxies *proxymgr.Manager, muxer Muxer) *YouTube {
	return &YouTube{
		log:     log.With(slog.String("package", "downloader"), slog.String("backend", consts.BackendYouTube)),
		base:    &http.Client{},
		proxies: proxies,
		muxer:   muxer,
	}
}

// Name implements Backend.
func (y *YouTube) Name() string {
	return consts.BackendYouTube
}

// Fetch implements Backend.
func (y *YouTube) Fetch(ctx context.Context, t Target, dir string) (_ Artifact, err error) {
	proxy := y.proxies.Pick()
	defer func() { y.proxies.Report(proxy, err) }()

	httpClient, err := proxymgr.HTTPClient(y.base, proxy)
	if err != nil {
		return Artifact{}, err
	}

	if proxy != "" {
		y.log.InfoContext(ctx, "using proxy for download", slog.String("proxy", urls.Redact(proxy)))
	}

	client := &youtube.Client{HTTPClient: httpClient}

	video, err := y.video(ctx, client, t.URL)
	if err != nil {
		return Artifact{}, err
	}

	log := y.log.With(slog.String("video_id", video.ID))

	vf, af, err := SelectStreams(video.Formats, t.Quality)
	if err != nil {
		return Artifact{}, err
	}

	log.InfoContext(ctx, "streams selected", slog.Any("video", formatValue{vf}), slog.Any("audio", formatValue{af}))

	videoPath := filepath.Join(dir, video.ID+".video."+mimeExt(vf.MimeType))
	if err := y.download(ctx, log, client, video, vf, videoPath); err != nil {
		return Artifact{}, err
	}

	out := filepath.Join(dir, video.ID+mp4Ext)
	inputs := []string{videoPath}

	if af != nil {
		audioPath := filepath.Join(dir, video.ID+".audio."+mimeExt(af.MimeType))
		if err := y.download(ctx, log, client, video, af, audioPath); err != nil {
			return Artifact{}, err
		}

		inputs = append(inputs, audioPath)
	}

	if len(inputs) == 1 && mimeExt(vf.MimeType) == "mp4" {
		if err := os.Rename(videoPath, out); err != nil {
			return Artifact{}, fmt.Errorf("rename stream: %w", err)
		}

		return Artifact{Path: out, Title: video.Title}, nil
	}

	if err := y.muxer.Mux(ctx, out, inputs...); err != nil {
		return Artifact{}, err
	}

	for _, in := range inputs {
		os.Remove(in)
	}

	return Artifact{Path: out, Title: video.Title}, nil
}

// video resolves a watch URL, or the first entry of a playlist URL.
func (y *YouTube) video(ctx context.Context, client *youtube.Client, raw string) (*youtube.Video, error) {
	if !IsPlaylistURL(raw) {
		video, err := client.GetVideoContext(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("get video: %w", err)
		}

		return video, nil
	}

	playlist, err := client.GetPlaylistContext(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("get playlist: %w", err)
	}

	if len(playlist.Videos) == 0 || playlist.Videos[0] == nil {
		return nil, fmt.Errorf("playlist %s: %w", playlist.ID, errs.ErrNoStreams)
	}

	video, err := client.VideoFromPlaylistEntryContext(ctx, playlist.Videos[0])
	if err != nil {
		return nil, fmt.Errorf("get playlist entry: %w", err)
	}

	return video, nil
}

func (y *YouTube) download(
	ctx context.Context,
	log *slog.Logger,
	client *youtube.Client,
	video *youtube.Video,
	format *youtube.Format,
	dst string,
) error {
	stream, size, err := client.GetStreamContext(ctx, video, format)
	if err != nil {
		return fmt.Errorf("open stream %d: %w", format.ItagNo, err)
	}
	defer stream.Close()

	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePermDownload)
	if err != nil {
		return fmt.Errorf("create stream file: %w", err)
	}
	defer file.Close()

	started := time.Now()
	pw := &progressWriter{log: log, ctx: ctx, total: size, started: started}

	written, err := io.Copy(io.MultiWriter(file, pw), stream)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return fmt.Errorf("copy stream %d: %w", format.ItagNo, err)
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("close stream file: %w", err)
	}

	log.DebugContext(ctx, "stream downloaded",
		slog.Int("itag", format.ItagNo),
		slog.Int64("bytes", written),
		slog.Duration("took", time.Since(started)))

	return nil
}

type progressWriter struct {
	log        *slog.Logger
	ctx        context.Context //nolint:containedctx // logging only
	total      int64
	written    int64
	started    time.Time
	lastUpdate time.Time
}

func (p *progressWriter) Write(b []byte) (int, error) {
	p.written += int64(len(b))

	if time.Since(p.lastUpdate) >= defaultProgressFreq {
		p.lastUpdate = time.Now()
		p.log.DebugContext(p.ctx, "youtube progress",
			slog.Int("progress", calc.Progress(p.written, p.total)),
			slog.Duration("eta", calc.ETA(p.written, p.total, p.started)))
	}

	return len(b), nil
}

// IsPlaylistURL reports whether raw points at a playlist rather than a single video.
func IsPlaylistURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	q := u.Query()

	return strings.HasPrefix(u.Path, "/playlist") || (q.Get("list") != "" && q.Get("v") == "")
}

// SelectStreams picks the tallest video stream within q, falling back to the
// tallest overall when nothing fits. Ties prefer progressive streams, then mp4,
// then bitrate. A video-only pick is paired with the best audio-only stream;
// without one the best progressive stream within the same bound is used, and
// failing that the video alone.
func SelectStreams(formats []youtube.Format, q Quality) (video, audio *youtube.Format, err error) {
	var videos, audios, progressive []*youtube.Format

	for i := range formats {
		f := &formats[i]

		switch {
		case hasVideo(f):
			videos = append(videos, f)
			if f.AudioChannels > 0 {
				progressive = append(progressive, f)
			}
		case f.AudioChannels > 0 || strings.HasPrefix(f.MimeType, "audio/"):
			audios = append(audios, f)
		}
	}

	if len(videos) == 0 {
		return nil, nil, errs.ErrNoStreams
	}

	video = slices.MaxFunc(withinBound(videos, q), compareVideo)
	if video.AudioChannels > 0 {
		return video, nil, nil
	}

	if len(audios) > 0 {
		return video, slices.MaxFunc(audios, compareAudio), nil
	}

	// a progressive stream must respect the bound the video pick respected
	if !q.Best() && video.Height <= q.MaxHeight {
		progressive = slices.DeleteFunc(progressive, func(f *youtube.Format) bool { return f.Height > q.MaxHeight })
	}

	if len(progressive) > 0 {
		return slices.MaxFunc(progressive, compareVideo), nil, nil
	}

	return video, nil, nil
}

// withinBound keeps the streams no taller than q, or all of them when none fit.
func withinBound(formats []*youtube.Format, q Quality) []*youtube.Format {
	if q.Best() {
		return formats
	}

	fit := slices.DeleteFunc(slices.Clone(formats), func(f *youtube.Format) bool { return f.Height > q.MaxHeight })
	if len(fit) == 0 {
		return formats
	}

	return fit
}

func hasVideo(f *youtube.Format) bool {
	return f.Height > 0 || f.Width > 0 || strings.HasPrefix(f.MimeType, "video/")
}

func compareVideo(a, b *youtube.Format) int {
	return cmp.Or(
		cmp.Compare(a.Height, b.Height),
		compareBool(a.AudioChannels > 0, b.AudioChannels > 0),
		compareBool(isMP4(a), isMP4(b)),
		cmp.Compare(bitrate(a), bitrate(b)),
	)
}

func compareAudio(a, b *youtube.Format) int {
	return cmp.Or(
		compareBool(isMP4(a), isMP4(b)),
		cmp.Compare(bitrate(a), bitrate(b)),
	)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case a:
		return 1
	default:
		return -1
	}
}

func isMP4(f *youtube.Format) bool {
	return strings.HasSuffix(strings.SplitN(f.MimeType, ";", 2)[0], "/mp4")
}

func bitrate(f *youtube.Format) int {
	if f.Bitrate > 0 {
		return f.Bitrate
	}

	return f.AverageBitrate
}

func mimeExt(mime string) string {
	base := strings.TrimSpace(strings.SplitN(mime, ";", 2)[0])

	switch base {
	case "video/mp4":
		return "mp4"
	case "audio/mp4":
		return "m4a"
	case "video/webm", "audio/webm":
		return "webm"
	case "video/3gpp":
		return "3gp"
	}

	return "bin"
}

type formatValue struct {
	*youtube.Format
}

func (f formatValue) LogValue() slog.Value {
	if f.Format == nil {
		return slog.StringValue("none")
	}

	return slog.GroupValue(
		slog.Int("itag", f.ItagNo),
		slog.String("mime", f.MimeType),
		slog.Int("height", f.Height),
		slog.Int("audio_channels", f.AudioChannels),
		slog.Int("bitrate", bitrate(f.Format)),
	)
}
