package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore keeps one token bucket per client address.
type limiterStore struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rate    rate.Limit
	burst   int
}

// newLimiterStore allows perMinute requests per client with the given burst.
// A non-positive perMinute disables limiting.
func newLimiterStore(perMinute, burst int) *limiterStore {
	r := rate.Inf
	if perMinute > 0 {
		r = rate.Limit(float64(perMinute) / 60)
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiterStore{
		entries: make(map[string]*limiterEntry, 64),
		rate:    r,
		burst:   burst,
	}
}

func (s *limiterStore) allow(key string) bool {
	now := time.Now()

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		if len(s.entries) >= 1024 {
			s.sweep(now)
		}
		e = &limiterEntry{limiter: rate.NewLimiter(s.rate, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	s.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// sweep drops idle entries. Callers hold mu.
func (s *limiterStore) sweep(now time.Time) {
	for k, e := range s.entries {
		if now.Sub(e.lastSeen) > limiterTTL {
			delete(s.entries, k)
		}
	}
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
