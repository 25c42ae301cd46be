package main

import (
	"net"
	"net/http"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client IP. The LRU puts a hard
// ceiling on how many clients are tracked at once; idle clients fall out
// instead of accumulating forever.
type clientLimiter struct {
	mu      sync.Mutex
	clients *lru.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
}

func newClientLimiter(perMinute, maxClients int) *clientLimiter {
	cache, _ := lru.New[string, *rate.Limiter](maxClients)
	return &clientLimiter{
		clients: cache,
		limit:   rate.Limit(float64(perMinute) / 60.0),
		burst:   perMinute,
	}
}

func (l *clientLimiter) allow(ip string) bool {
	l.mu.Lock()
	limiter, ok := l.clients.Get(ip)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.clients.Add(ip, limiter)
	}
	l.mu.Unlock()
	return limiter.Allow()
}

// trackedClients reports how many client buckets are live.
func (l *clientLimiter) trackedClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clients.Len()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
