package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type CORSConfig struct {
	Enabled          bool     `yaml:"enabled"`
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowedMethods   []string `yaml:"allowedMethods"`
	AllowedHeaders   []string `yaml:"allowedHeaders"`
	ExposedHeaders   []string `yaml:"exposedHeaders"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           string   `yaml:"maxAge"`
}

// originSet matches request origins case-insensitively. "*" admits any.
type originSet struct {
	any   bool
	exact map[string]struct{}
}

func newOriginSet(origins []string) originSet {
	s := originSet{exact: map[string]struct{}{}}
	for _, o := range origins {
		switch o = strings.ToLower(strings.TrimSpace(o)); o {
		case "":
		case "*":
			s.any = true
		default:
			s.exact[o] = struct{}{}
		}
	}
	return s
}

func (s originSet) allows(origin string) bool {
	if s.any {
		return true
	}
	_, ok := s.exact[strings.ToLower(origin)]
	return ok
}

// CORSMiddleware answers preflights and decorates cross-origin responses.
// Preflights from unknown origins get 403; plain requests pass through
// without CORS headers and the browser blocks them.
func CORSMiddleware(cfg CORSConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}
	origins := newOriginSet(cfg.AllowedOrigins)
	onlyWildcard := origins.any && len(origins.exact) == 0 && !cfg.AllowCredentials
	static := http.Header{}
	for name, values := range map[string][]string{
		"Access-Control-Allow-Methods":  cfg.AllowedMethods,
		"Access-Control-Allow-Headers":  cfg.AllowedHeaders,
		"Access-Control-Expose-Headers": cfg.ExposedHeaders,
	} {
		if len(values) > 0 {
			static.Set(name, strings.Join(values, ","))
		}
	}
	if cfg.MaxAge != "" {
		static.Set("Access-Control-Max-Age", cfg.MaxAge)
	}
	if cfg.AllowCredentials {
		static.Set("Access-Control-Allow-Credentials", "true")
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		preflight := c.Request.Method == http.MethodOptions
		switch {
		case origin == "":
			c.Next()
			return
		case !origins.allows(origin):
			if preflight {
				c.AbortWithStatus(http.StatusForbidden)
				return
			}
			c.Next()
			return
		}

		h := c.Writer.Header()
		if onlyWildcard {
			h.Set("Access-Control-Allow-Origin", "*")
		} else {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Add("Vary", "Origin")
		}
		for name, values := range static {
			h[name] = values
		}
		if preflight {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
