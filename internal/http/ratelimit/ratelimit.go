package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const defaultMaxKeys = 10000

// Limiter keeps one token bucket per key (client IP, email address, ...).
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    rate.Limit
	burst   int
	idle    time.Duration
	maxKeys int
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// New creates a Limiter allowing r events per second with the given burst.
// Keys unused for idle are forgotten by a background sweeper until Stop is
// called.
func New(r rate.Limit, burst int, idle time.Duration) *Limiter {
	l := &Limiter{
		buckets: make(map[string]*bucket),
		rate:    r,
		burst:   burst,
		idle:    idle,
		maxKeys: defaultMaxKeys,
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	if idle > 0 {
		go l.sweep()
	}
	return l
}

// Allow reports whether an event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	return l.bucketFor(key).Allow()
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Stop ends the background sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictOldest()
		}
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastAccess = now
	return b.limiter
}

func (l *Limiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, b := range l.buckets {
		if oldestKey == "" || b.lastAccess.Before(oldest) {
			oldestKey = key
			oldest = b.lastAccess
		}
	}
	if oldestKey != "" {
		delete(l.buckets, oldestKey)
	}
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.idle)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.forgetIdle()
		}
	}
}

func (l *Limiter) forgetIdle() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-l.idle)
	for key, b := range l.buckets {
		if b.lastAccess.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

// Middleware rejects requests whose client IP has exhausted its budget.
func (l *Limiter) Middleware(ips ClientIP) func(http.Handler) http.Handler {
	retryAfter := "1"
	if l.rate > 0 {
		if secs := int(math.Round(1 / float64(l.rate))); secs > 1 {
			retryAfter = strconv.Itoa(secs)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(ips.Of(r)) {
				w.Header().Set("Retry-After", retryAfter)
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP resolves the address of the browser behind a request, honouring
// forwarding headers only from trusted proxies.
type ClientIP struct {
	trusted []*net.IPNet
}

// NewClientIP parses trusted proxy CIDRs or single addresses. With no
// trusted proxies every forwarding header is believed.
func NewClientIP(trustedProxies []string) ClientIP {
	var c ClientIP
	for _, entry := range trustedProxies {
		entry = strings.TrimSpace(entry)
		if _, ipnet, err := net.ParseCIDR(entry); err == nil {
			c.trusted = append(c.trusted, ipnet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 128
		if ip.To4() != nil {
			ip = ip.To4()
			bits = 32
		}
		c.trusted = append(c.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return c
}

// Of returns the client IP of r.
func (c ClientIP) Of(r *http.Request) string {
	remote := parseIP(r.RemoteAddr)
	if len(c.trusted) > 0 && !c.isTrusted(remote) {
		return ipString(remote, r.RemoteAddr)
	}

	// X-Forwarded-For is "client, proxy1, proxy2"; the leftmost entry is the browser.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if parsed := net.ParseIP(strings.TrimSpace(first)); parsed != nil {
			return parsed.String()
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if parsed := net.ParseIP(strings.TrimSpace(xri)); parsed != nil {
			return parsed.String()
		}
	}
	return ipString(remote, r.RemoteAddr)
}

func (c ClientIP) isTrusted(ip net.IP) bool {
	if ip == nil {
		return false
	}
	for _, ipnet := range c.trusted {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func parseIP(addr string) net.IP {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return net.ParseIP(host)
	}
	return net.ParseIP(addr)
}

func ipString(ip net.IP, raw string) string {
	if ip == nil {
		return raw
	}
	return ip.String()
}
