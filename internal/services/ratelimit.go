package services

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const clientIdleTTL = 15 * time.Minute

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter ограничивает частоту запросов к вебхукам с одного IP
type IPRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     rate.Limit
	burst   int
	// X-Forwarded-For учитывается только от этих адресов
	trusted []netip.Prefix
	log     *zap.Logger
}

func NewIPRateLimiter(rps float64, burst int, log *zap.Logger) *IPRateLimiter {
	if log == nil {
		log = zap.NewNop()
	}
	if burst <= 0 {
		burst = 1
	}
	return &IPRateLimiter{
		clients: make(map[string]*clientLimiter),
		rps:     rate.Limit(rps),
		burst:   burst,
		log:     log,
	}
}

// TrustProxies задаёт адреса или подсети обратных прокси (10.0.0.1, 10.0.0.0/8)
func (l *IPRateLimiter) TrustProxies(entries []string) error {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return fmt.Errorf("ratelimit: trusted proxy %q: %w", e, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(e)
		if err != nil {
			return fmt.Errorf("ratelimit: trusted proxy %q: %w", e, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(a.Unmap(), a.Unmap().BitLen()))
	}
	l.mu.Lock()
	l.trusted = prefixes
	l.mu.Unlock()
	return nil
}

func (l *IPRateLimiter) isTrusted(ip string) bool {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	a = a.Unmap()
	for _, p := range l.trusted {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func (l *IPRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	c, ok := l.clients[ip]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.clients[ip] = c
	}
	c.lastSeen = time.Now()
	lim := c.limiter
	l.mu.Unlock()
	return lim.Allow()
}

// Cleanup удаляет лимитеры неактивных клиентов, вызывается по расписанию
func (l *IPRateLimiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, c := range l.clients {
		if time.Since(c.lastSeen) > clientIdleTTL {
			delete(l.clients, ip)
		}
	}
}

func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := l.clientIP(r)
		if !l.allow(ip) {
			l.log.Warn("webhook rate limit exceeded", zap.String("ip", ip), zap.String("path", r.URL.Path))
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP адрес соединения. За доверенным прокси берётся самый правый
// недоверенный адрес из X-Forwarded-For, левые значения подделываются клиентом.
func (l *IPRateLimiter) clientIP(r *http.Request) string {
	remote, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		remote = r.RemoteAddr
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isTrusted(remote) {
		return remote
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if !l.isTrusted(hop) {
			return hop
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return remote
}
