package service

import (
	"context"
	"math"
	"queuectl/internal/models"
	"time"

	"golang.org/x/time/rate"
)

// SubmissionLimiter throttles enqueue calls with a token bucket.
// A rate of zero disables throttling.
type SubmissionLimiter struct {
	limiter *rate.Limiter
}

// NewSubmissionLimiter creates a limiter allowing perSecond submissions,
// with a burst of at least one.
func NewSubmissionLimiter(perSecond float64) *SubmissionLimiter {
	if perSecond <= 0 {
		return &SubmissionLimiter{}
	}
	burst := int(math.Ceil(perSecond))
	return &SubmissionLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// CheckSubmissionRate reports ErrRateLimitExceeded when no token is available.
// A cancelled request is refused without spending a token.
func (sl *SubmissionLimiter) CheckSubmissionRate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return sl.allowAt(time.Now())
}

func (sl *SubmissionLimiter) allowAt(now time.Time) error {
	if sl == nil || sl.limiter == nil {
		return nil
	}
	if !sl.limiter.AllowN(now, 1) {
		return models.ErrRateLimitExceeded
	}
	return nil
}
