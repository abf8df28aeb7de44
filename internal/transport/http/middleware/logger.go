package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	appLogger "github.com/dota-pilot1/dota-admin-backend/internal/infra/logger"
)

// Logger writes one access log line per request. Emails and client IPs are
// masked; server errors and handler errors log at error level.
func Logger(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		fields := []zap.Field{
			zap.String("trace_id", GetTraceID(c)),
			zap.String("request_id", appLogger.RequestIDFromContext(c.Request.Context())),
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("route", route),
			zap.Duration("latency", time.Since(start)),
			zap.Int("bytes", c.Writer.Size()),
			zap.String("client_ip", appLogger.MaskIP(c.ClientIP())),
		}
		if ua := c.Request.UserAgent(); ua != "" {
			fields = append(fields, zap.String("user_agent", ua))
		}
		if principal, ok := GetPrincipal(c); ok {
			fields = append(fields,
				zap.String("principal", appLogger.MaskEmail(principal.Email)),
				zap.String("role", principal.Role),
			)
		}
		if remaining := c.Writer.Header().Get("X-RateLimit-Remaining"); remaining != "" {
			fields = append(fields, zap.String("rate_limit_remaining", remaining))
		}

		level := zapcore.InfoLevel
		message := "request completed"
		switch {
		case len(c.Errors) > 0:
			level, message = zapcore.ErrorLevel, "request failed"
			fields = append(fields, zap.String("errors", c.Errors.String()))
		case status >= http.StatusInternalServerError:
			level, message = zapcore.ErrorLevel, "request failed"
		case status == http.StatusTooManyRequests:
			level = zapcore.WarnLevel
		}

		if ce := log.Check(level, message); ce != nil {
			ce.Write(fields...)
		}
	}
}
