package status

import (
	"time"

	"github.com/TheGojiOG/worldkeeper/internal/logging"
	"github.com/gin-gonic/gin"
)

// requestLogger logs each request except health probes
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		latency := time.Since(start)
		c.Writer.Header().Set("X-Response-Time", latency.String())

		if c.Request.URL.Path == "/health" && gin.Mode() != gin.DebugMode {
			return
		}
		logging.Component("status").Info("http_request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", latency.String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// securityHeaders marks every response as a non-cacheable JSON API
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Cache-Control", "no-store")
		c.Header("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		c.Next()
	}
}
