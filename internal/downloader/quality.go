package downloader

import (
	"fmt"
	"strconv"
	"strings"

	"vidgrab/internal/entity"
)

const maxHeight = 10000

var namedHeights = map[string]int{
	"sd":     480,
	"hd":     720,
	"fhd":    1080,
	"fullhd": 1080,
	"2k":     1440,
	"qhd":    1440,
	"4k":     2160,
	"uhd":    2160,
	"8k":     4320,
}

// Quality is an upper bound on video height. Zero means best available.
type Quality struct {
	MaxHeight int
}

// ParseQuality reads hints like "best", "720p", "1080" or "4k".
// Anything it cannot read becomes best.
func ParseQuality(hint string) Quality {
	hint = strings.ToLower(strings.TrimSpace(hint))

	switch hint {
	case "", entity.QualityBest, "highest", "max":
		return Quality{}
	}

	if h, ok := namedHeights[hint]; ok {
		return Quality{MaxHeight: h}
	}

	h, err := strconv.Atoi(strings.TrimSuffix(hint, "p"))
	if err != nil || h <= 0 || h > maxHeight {
		return Quality{}
	}

	return Quality{MaxHeight: h}
}

// Best reports whether no height bound applies.
func (q Quality) Best() bool {
	return q.MaxHeight <= 0
}

func (q Quality) String() string {
	if q.Best() {
		return entity.QualityBest
	}

	return strconv.Itoa(q.MaxHeight) + "p"
}

// FormatSelector returns the yt-dlp -f expression. Bounded chains end with the
// unbounded ones so that a bound nothing satisfies degrades to best.
func (q Quality) FormatSelector() string {
	const best = "bestvideo[ext=mp4]+bestaudio[ext=m4a]/bestvideo+bestaudio/best[ext=mp4]/best"

	if q.Best() {
		return best
	}

	h := q.MaxHeight

	return fmt.Sprintf(
		"bestvideo[height<=%[1]d][ext=mp4]+bestaudio[ext=m4a]/bestvideo[height<=%[1]d]+bestaudio/"+
			"best[height<=%[1]d][ext=mp4]/best[height<=%[1]d]/bestvideo+bestaudio/best", h)
}
