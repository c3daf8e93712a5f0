package ratelimit

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/coursemart/internal/config"
)

const keyCheckoutLearner = "checkout:learner:%s"

// CheckoutLimiter throttles checkout attempts per learner. Limits are read
// from tuning on every call so reloads apply immediately.
type CheckoutLimiter struct {
	bucket *TokenBucket
	tuning *config.TuningHolder
}

func NewCheckoutLimiter(bucket *TokenBucket, tuning *config.TuningHolder) *CheckoutLimiter {
	return &CheckoutLimiter{bucket: bucket, tuning: tuning}
}

func (l *CheckoutLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *CheckoutLimiter) Allow(ctx context.Context, learnerID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	checkout := l.tuning.Get().Checkout
	key := fmt.Sprintf(keyCheckoutLearner, strings.TrimSpace(learnerID))
	return l.bucket.Allow(ctx, key, checkout.RateLimit, checkout.RateBurst)
}
