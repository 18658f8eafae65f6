package shellquote_test

import (
	"testing"

	"vidgrab/pkg/shellquote"
)

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bin  string
		args []string
		want string
	}{
		{
			name: "no args",
			bin:  "/usr/bin/ffmpeg",
			want: "/usr/bin/ffmpeg",
		},
		{
			name: "simple args stay bare",
			bin:  "/usr/bin/ffmpeg",
			args: []string{"-hide_banner", "-c", "copy"},
			want: "/usr/bin/ffmpeg -hide_banner -c copy",
		},
		{
			name: "spaces are quoted",
			bin:  "ffmpeg",
			args: []string{"-i", "/tmp/ws-1/My Video.mp4"},
			want: `ffmpeg -i "/tmp/ws-1/My Video.mp4"`,
		},
		{
			name: "url with query chars",
			bin:  "yt-dlp",
			args: []string{"https://example.com/watch?v=a&b=1"},
			want: `yt-dlp "https://example.com/watch?v=a&b=1"`,
		},
		{
			name: "embedded double quote and dollar are escaped",
			bin:  "yt-dlp",
			args: []string{`a"b$c`},
			want: `yt-dlp "a\"b\$c"`,
		},
		{
			name: "backslashes are escaped",
			bin:  "yt-dlp",
			args: []string{`C:\temp`},
			want: `yt-dlp "C:\\temp"`,
		},
		{
			name: "empty arg",
			bin:  "yt-dlp",
			args: []string{""},
			want: `yt-dlp ""`,
		},
		{
			name: "newline becomes escape sequence",
			bin:  "yt-dlp",
			args: []string{"line1\nline2"},
			want: `yt-dlp "line1\nline2"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := shellquote.Join(tt.bin, tt.args)
			if got != tt.want {
				t.Fatalf("Join() mismatch\n got: %q\nwant: %q", got, tt.want)
			}
		})
	}
}
