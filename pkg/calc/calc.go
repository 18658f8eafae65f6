// Package calc holds progress arithmetic shared by the download backends.
package calc

import (
	"math"
	"time"
)

// Number is any integer byte counter.
type Number interface {
	~int | ~int64
}

// Progress returns downloaded/total as a rounded percentage, 0 when total is unknown.
func Progress[T Number](downloaded, total T) int {
	if total <= 0 {
		return 0
	}

	return int(math.Round(float64(downloaded) / float64(total) * 100))
}

// ETA extrapolates the remaining time from the elapsed time since started.
func ETA[T Number](downloaded, total T, started time.Time) time.Duration {
	if total <= 0 || downloaded <= 0 {
		return 0
	}

	elapsed := time.Since(started)

	return time.Duration(float64(elapsed) * (float64(total)/float64(downloaded) - 1))
}
