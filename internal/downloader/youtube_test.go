package downloader_test

import (
	"errors"
	"testing"

	"vidgrab/internal/downloader"
	"vidgrab/internal/errs"

	"github.com/kkdai/youtube/v2"
)

func TestSelectStreams(t *testing.T) {
	t.Parallel()

	var (
		prog360  = youtube.Format{ItagNo: 18, MimeType: `video/mp4; codecs="avc1, mp4a"`, Height: 360, Width: 640, AudioChannels: 2, Bitrate: 500}
		prog720  = youtube.Format{ItagNo: 22, MimeType: `video/mp4; codecs="avc1, mp4a"`, Height: 720, Width: 1280, AudioChannels: 2, Bitrate: 1500}
		prog1080 = youtube.Format{ItagNo: 37, MimeType: `video/mp4; codecs="avc1, mp4a"`, Height: 1080, Width: 1920, AudioChannels: 2, Bitrate: 3000}
		v720     = youtube.Format{ItagNo: 136, MimeType: `video/mp4; codecs="avc1"`, Height: 720, Width: 1280, Bitrate: 2000}
		v1080    = youtube.Format{ItagNo: 137, MimeType: `video/mp4; codecs="avc1"`, Height: 1080, Width: 1920, Bitrate: 4000}
		v1080web = youtube.Format{ItagNo: 248, MimeType: `video/webm; codecs="vp9"`, Height: 1080, Width: 1920, Bitrate: 5000}
		v2160    = youtube.Format{ItagNo: 313, MimeType: `video/webm; codecs="vp9"`, Height: 2160, Width: 3840, Bitrate: 9000}
		a128     = youtube.Format{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a"`, AudioChannels: 2, Bitrate: 128}
		aOpus    = youtube.Format{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2, Bitrate: 160}
	)

	all := []youtube.Format{prog360, prog720, v720, v1080, v1080web, v2160, a128, aOpus}

	tests := []struct {
		name      string
		formats   []youtube.Format
		quality   string
		wantVideo int
		wantAudio int // 0 means none
	}{
		{name: "best picks tallest with mp4 audio", formats: all, quality: "best", wantVideo: 313, wantAudio: 140},
		{name: "bound 1080 prefers mp4 on tie", formats: all, quality: "1080p", wantVideo: 137, wantAudio: 140},
		{name: "bound 720 prefers progressive on tie", formats: all, quality: "720p", wantVideo: 22},
		{name: "bound 480 picks progressive 360", formats: all, quality: "480", wantVideo: 18},
		{name: "bound below everything falls back to tallest", formats: []youtube.Format{v720, v1080, a128}, quality: "144p", wantVideo: 137, wantAudio: 140},
		{name: "only webm audio", formats: []youtube.Format{v1080, aOpus}, quality: "best", wantVideo: 137, wantAudio: 251},
		{name: "no audio uses progressive", formats: []youtube.Format{v1080, prog360}, quality: "best", wantVideo: 18},
		{name: "no audio keeps progressive within bound", formats: []youtube.Format{v720, prog360, prog1080}, quality: "720p", wantVideo: 18},
		{name: "no audio and no progressive within bound uses video alone", formats: []youtube.Format{v720, prog1080}, quality: "720p", wantVideo: 136},
		{name: "bound below everything picks tallest progressive", formats: []youtube.Format{v720, prog1080}, quality: "480p", wantVideo: 37},
		{name: "video only", formats: []youtube.Format{v720}, quality: "best", wantVideo: 136},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			video, audio, err := downloader.SelectStreams(tt.formats, downloader.ParseQuality(tt.quality))
			if err != nil {
				t.Fatalf("SelectStreams() error = %v", err)
			}

			if video.ItagNo != tt.wantVideo {
				t.Errorf("video itag = %d; want %d", video.ItagNo, tt.wantVideo)
			}

			gotAudio := 0
			if audio != nil {
				gotAudio = audio.ItagNo
			}

			if gotAudio != tt.wantAudio {
				t.Errorf("audio itag = %d; want %d", gotAudio, tt.wantAudio)
			}
		})
	}
}

func TestSelectStreamsNoVideo(t *testing.T) {
	t.Parallel()

	formats := []youtube.Format{{ItagNo: 140, MimeType: "audio/mp4", AudioChannels: 2}}

	if _, _, err := downloader.SelectStreams(formats, downloader.Quality{}); !errors.Is(err, errs.ErrNoStreams) {
		t.Fatalf("err = %v; want ErrNoStreams", err)
	}

	if _, _, err := downloader.SelectStreams(nil, downloader.Quality{}); !errors.Is(err, errs.ErrNoStreams) {
		t.Fatalf("err = %v; want ErrNoStreams", err)
	}
}

func TestIsPlaylistURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url  string
		want bool
	}{
		{"https://www.youtube.com/playlist?list=PL123", true},
		{"https://www.youtube.com/watch?list=PL123", true},
		{"https://www.youtube.com/watch?v=abc&list=PL123", false},
		{"https://www.youtube.com/watch?v=abc", false},
		{"https://youtu.be/abc", false},
		{"://bad", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()

			if got := downloader.IsPlaylistURL(tt.url); got != tt.want {
				t.Fatalf("IsPlaylistURL(%q) = %v; want %v", tt.url, got, tt.want)
			}
		})
	}
}
