package librtm

import (
	"math"
	"time"
)

// BackoffFunc returns how long to wait before the next connection attempt
// after failures consecutive failures (failures >= 1).
type BackoffFunc func(failures int) time.Duration

// ExponentialBackoff returns 2^failures.
func ExponentialBackoff(failures int) float64 {
	return math.Pow(2.0, float64(failures))
}

// ExponentialBackoffSeconds waits 2^failures seconds: 2s, 4s, 8s... There
// is no upper bound; durations too large to represent saturate.
func ExponentialBackoffSeconds(failures int) time.Duration {
	secs := ExponentialBackoff(failures)
	if secs >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(secs * float64(time.Second))
}

// CappedBackoff bounds the delays of b to limit. A non positive limit leaves b unchanged.
func CappedBackoff(b BackoffFunc, limit time.Duration) BackoffFunc {
	if limit <= 0 {
		return b
	}
	return func(failures int) time.Duration {
		if d := b(failures); d < limit {
			return d
		}
		return limit
	}
}
