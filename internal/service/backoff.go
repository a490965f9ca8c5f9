package service

import (
	"math"
	"time"
)

// Backoff computes retry delays as Base^attempts seconds
type Backoff struct {
	Base float64
	// Max caps the delay; zero means uncapped
	Max time.Duration
}

// Delay returns the wait before the next attempt, given the attempts
// already recorded for the job (including the one that just failed).
func (b Backoff) Delay(attempts int) time.Duration {
	base := b.Base
	if base <= 0 {
		base = 2
	}
	if attempts < 0 {
		attempts = 0
	}

	nanos := math.Pow(base, float64(attempts)) * float64(time.Second)

	var d time.Duration
	if math.IsInf(nanos, 0) || nanos >= math.MaxInt64 {
		d = time.Duration(math.MaxInt64)
	} else {
		d = time.Duration(nanos)
	}

	if b.Max > 0 && d > b.Max {
		return b.Max
	}
	return d
}
