package host

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiter keeps one token bucket per remote host. A nil limiter allows
// everything.
type limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

const limiterIdle = 10 * time.Minute

// WithRateLimit caps each remote host at perSecond requests with the given
// burst. Rejected calls fail with BadRequest.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(h *Host) {
		if perSecond <= 0 {
			h.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		h.limiter = &limiter{limit: rate.Limit(perSecond), burst: burst, buckets: make(map[string]*bucket)}
	}
}

func (l *limiter) allow(remote string) bool {
	if l == nil {
		return true
	}
	key := remote
	if host, _, err := net.SplitHostPort(remote); err == nil {
		key = host
	}
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		l.sweep(now)
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

func (l *limiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) > limiterIdle {
			delete(l.buckets, k)
		}
	}
}
