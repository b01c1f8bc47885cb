package outbox

import "time"

// Backoff returns base * 2^tries, capped at max.
func Backoff(base, max time.Duration, tries int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < tries; i++ {
		d *= 2
		if d >= max || d <= 0 {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
