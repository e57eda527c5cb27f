package inbound

import (
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultLimiterRequestsPerMinute = 60
	defaultLimiterMaxSources        = 1000
	defaultLimiterIdleTTL           = 5 * time.Minute
)

// SourceLimiter throttles inbound requests with one token bucket per source.
// Idle sources age out of the expirable LRU, so the table stays bounded while
// active sources keep their bucket. Requests without a source are not
// limited; the HTTP adapter keys sources by client address.
type SourceLimiter struct {
	limiters *expirable.LRU[string, *rate.Limiter]
	rate     rate.Limit
	burst    int
}

// NewSourceLimiter builds a limiter that admits requestsPerMinute sustained
// requests per source with a burst of one tenth of that (minimum one).
func NewSourceLimiter(requestsPerMinute int) *SourceLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = defaultLimiterRequestsPerMinute
	}
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &SourceLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](
			defaultLimiterMaxSources,
			nil,
			defaultLimiterIdleTTL,
		),
		rate:  rate.Limit(float64(requestsPerMinute) / 60.0),
		burst: burst,
	}
}

// Allow consumes one token for source, or reports a throttled error when the
// bucket is empty. Two goroutines racing on a cold source may each build a
// bucket; the LRU keeps one and the overcount is a single request.
func (l *SourceLimiter) Allow(source string) error {
	if l == nil || l.limiters == nil {
		return nil
	}
	source = strings.ToLower(strings.TrimSpace(source))
	if source == "" {
		return nil
	}
	limiter, ok := l.limiters.Get(source)
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters.Add(source, limiter)
	}
	if !limiter.Allow() {
		return inboundThrottled(source)
	}
	return nil
}
