package server

import "golang.org/x/time/rate"

// NewRateLimiter builds a token bucket admitting up to rps new connections
// per second, with burst capacity for short spikes. Pass the result to
// WithRateLimiter; omitting it leaves a Server unlimited.
func NewRateLimiter(rps float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(rps), burst)
}
