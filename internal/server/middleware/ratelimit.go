package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/iudanet/ledgersync/internal/server/handlers"
	"github.com/iudanet/ledgersync/pkg/api"
)

// maxTrackedClients сколько клиентов limiter помнит одновременно.
// Давно не появлявшиеся вытесняются.
const maxTrackedClients = 10_000

// RateLimiter ограничивает частоту запросов по ключу (обычно IP):
// не больше requests за window, с возможностью всплеска до requests.
type RateLimiter struct {
	limiters *lru.Cache[string, *rate.Limiter]
	clock    clockwork.Clock
	limit    rate.Limit
	burst    int
	mu       sync.Mutex
}

// NewRateLimiter создает новый rate limiter
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	cache, _ := lru.New[string, *rate.Limiter](maxTrackedClients) // ошибка только при size <= 0
	return &RateLimiter{
		limiters: cache,
		clock:    clockwork.NewRealClock(),
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
	}
}

// Allow проверяет, разрешен ли запрос для данного ключа
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters.Get(key)
	if !ok {
		limiter = rate.NewLimiter(rl.limit, rl.burst)
		rl.limiters.Add(key, limiter)
	}
	rl.mu.Unlock()

	return limiter.AllowN(rl.clock.Now(), 1)
}

// PathRateLimit отдельный лимит для пути
type PathRateLimit struct {
	Path     string
	Requests int
	Window   time.Duration
}

// RateLimitMiddleware ограничивает частоту запросов с одного IP.
// Для путей из limits действуют свои лимиты, для остальных - общий.
func RateLimitMiddleware(logger *slog.Logger, requests int, window time.Duration, limits ...PathRateLimit) func(http.Handler) http.Handler {
	defaultLimiter := NewRateLimiter(requests, window)
	byPath := make(map[string]*RateLimiter, len(limits))
	for _, l := range limits {
		byPath[l.Path] = NewRateLimiter(l.Requests, l.Window)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter, ok := byPath[r.URL.Path]
			if !ok {
				limiter = defaultLimiter
			}

			key := getClientIP(r)
			if !limiter.Allow(key) {
				logger.Warn("Rate limit exceeded",
					"ip", key,
					"method", r.Method,
					"path", r.URL.Path,
				)
				handlers.WriteError(w, logger, http.StatusTooManyRequests, api.ReasonTooManyRequest, "rate limit exceeded, please try again later")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getClientIP извлекает IP адрес клиента из запроса
// Проверяет заголовки X-Forwarded-For и X-Real-IP для прокси
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// порт у клиента меняется от соединения к соединению
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
