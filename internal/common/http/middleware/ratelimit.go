package middleware

import (
	"context"
	"fmt"
	"time"

	"codejudge/internal/common/cache"
	pkgerrors "codejudge/pkg/errors"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures both limiter layers. Zero values disable a layer.
type RateLimitConfig struct {
	// Local token buckets, per process.
	GlobalRPS  float64 `yaml:"globalRPS"`
	PerIPRPS   float64 `yaml:"perIPRPS"`
	PerIPBurst int     `yaml:"perIPBurst"`

	// Shared fixed window in Redis, per user (or ip when anonymous).
	Window       time.Duration `yaml:"window"`
	UserMax      int           `yaml:"userMax"`
	RedisTimeout time.Duration `yaml:"redisTimeout"`
}

// LocalLimiter holds the in-process token buckets.
type LocalLimiter struct {
	global  *rate.Limiter
	perIP   *xsync.MapOf[string, *rate.Limiter]
	ipRate  rate.Limit
	ipBurst int
}

// NewLocalLimiter returns nil when both local limits are disabled.
func NewLocalLimiter(cfg RateLimitConfig) *LocalLimiter {
	if cfg.GlobalRPS <= 0 && cfg.PerIPRPS <= 0 {
		return nil
	}
	l := &LocalLimiter{perIP: xsync.NewMapOf[string, *rate.Limiter]()}
	if cfg.GlobalRPS > 0 {
		burst := int(cfg.GlobalRPS) * 2
		if burst < 1 {
			burst = 1
		}
		l.global = rate.NewLimiter(rate.Limit(cfg.GlobalRPS), burst)
	}
	if cfg.PerIPRPS > 0 {
		l.ipRate = rate.Limit(cfg.PerIPRPS)
		l.ipBurst = cfg.PerIPBurst
		if l.ipBurst <= 0 {
			l.ipBurst = 1
		}
	}
	return l
}

// Allow consumes one token from the global and per-ip buckets.
func (l *LocalLimiter) Allow(ip string) bool {
	if l.global != nil && !l.global.Allow() {
		return false
	}
	if l.ipRate <= 0 {
		return true
	}
	limiter, _ := l.perIP.LoadOrCompute(ip, func() *rate.Limiter {
		return rate.NewLimiter(l.ipRate, l.ipBurst)
	})
	return limiter.Allow()
}

// Sweep drops per-ip buckets that have refilled completely.
func (l *LocalLimiter) Sweep() {
	l.perIP.Range(func(ip string, limiter *rate.Limiter) bool {
		if limiter.Tokens() >= float64(l.ipBurst) {
			l.perIP.Delete(ip)
		}
		return true
	})
}

// RedisLimiter enforces a fixed window counter shared by all judge instances.
type RedisLimiter struct {
	cache   cache.BasicOps
	timeout time.Duration
}

func NewRedisLimiter(c cache.BasicOps, timeout time.Duration) *RedisLimiter {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &RedisLimiter{cache: c, timeout: timeout}
}

// Allow returns TooManyRequests once key exceeds max hits within window.
func (s *RedisLimiter) Allow(ctx context.Context, key string, max int, window time.Duration) error {
	if s == nil || s.cache == nil || max <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	acquired, err := s.cache.SetNX(ctx, key, 1, window)
	if err != nil {
		return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
	}
	count := int64(1)
	if !acquired {
		count, err = s.cache.Incr(ctx, key)
		if err != nil {
			return pkgerrors.Wrapf(err, pkgerrors.CacheError, "rate limit check failed")
		}
		if ttl, ttlErr := s.cache.TTL(ctx, key); ttlErr == nil && ttl < 0 {
			_ = s.cache.Expire(ctx, key, window)
		}
	}
	if int(count) > max {
		return pkgerrors.New(pkgerrors.TooManyRequests).WithDetail("retry_after_ms", window.Milliseconds())
	}
	return nil
}

// RateLimitMiddleware applies the local buckets then the shared window for routeKey.
// onLimited, when set, observes every rejection.
func RateLimitMiddleware(local *LocalLimiter, shared *RedisLimiter, cfg RateLimitConfig, routeKey string, onLimited func(route string)) gin.HandlerFunc {
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	reject := func(c *gin.Context, err error) {
		if onLimited != nil {
			onLimited(routeKey)
		}
		response.AbortWithError(c, err)
	}
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if local != nil && !local.Allow(ip) {
			reject(c, pkgerrors.New(pkgerrors.TooManyRequests))
			return
		}
		if shared != nil && cfg.UserMax > 0 {
			subject := "ip:" + ip
			if userID := UserID(c); userID != "" {
				subject = "user:" + userID
			}
			key := fmt.Sprintf("judge:rate:%s:%s", routeKey, subject)
			if err := shared.Allow(c.Request.Context(), key, cfg.UserMax, window); err != nil {
				if pkgerrors.Is(err, pkgerrors.TooManyRequests) {
					reject(c, err)
					return
				}
				// Redis trouble must not take the judge down with it.
				c.Next()
				return
			}
		}
		c.Next()
	}
}
