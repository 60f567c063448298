package oauth

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 5 * time.Minute

// clientLimiter rate-limits requests per client address using a token
// bucket per IP. Idle buckets are dropped periodically.
type clientLimiter struct {
	mu         sync.Mutex
	limiters   map[string]*clientBucket
	limit      rate.Limit
	burst      int
	trustProxy bool
	stop       chan struct{}
	stopOnce   sync.Once
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(limit float64, burst int, trustProxy bool) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	cl := &clientLimiter{
		limiters:   make(map[string]*clientBucket),
		limit:      rate.Limit(limit),
		burst:      burst,
		trustProxy: trustProxy,
		stop:       make(chan struct{}),
	}
	go cl.evictIdle()
	return cl
}

// Stop terminates the idle-bucket eviction goroutine. Safe to call
// more than once.
func (cl *clientLimiter) Stop() {
	cl.stopOnce.Do(func() {
		close(cl.stop)
	})
}

// Allow reports whether the request's client is within its rate.
func (cl *clientLimiter) Allow(r *http.Request) bool {
	ip := cl.clientIP(r)

	cl.mu.Lock()
	b, ok := cl.limiters[ip]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.limiters[ip] = b
	}
	b.lastSeen = time.Now()
	cl.mu.Unlock()

	return b.limiter.Allow()
}

func (cl *clientLimiter) clientIP(r *http.Request) string {
	if cl.trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			// First hop is the original client.
			if idx := strings.Index(fwd, ","); idx >= 0 {
				fwd = fwd[:idx]
			}
			return strings.TrimSpace(fwd)
		}
		if real := r.Header.Get("X-Real-IP"); real != "" {
			return real
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (cl *clientLimiter) evictIdle() {
	ticker := time.NewTicker(limiterIdleTTL)
	defer ticker.Stop()
	for {
		select {
		case <-cl.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-limiterIdleTTL)
			cl.mu.Lock()
			for ip, b := range cl.limiters {
				if b.lastSeen.Before(cutoff) {
					delete(cl.limiters, ip)
				}
			}
			cl.mu.Unlock()
		}
	}
}
