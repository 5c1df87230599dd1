package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLogger logs one line per request. Errors attached with c.Error
// are logged with the line.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path += "?" + raw
		}

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("client_ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
		}
		if claims, ok := GetAuthClaims(c); ok {
			fields = append(fields, zap.String("client_id", claims.Subject))
		}

		switch {
		case len(c.Errors) > 0:
			logger.Error(c.Errors.String(), fields...)
		case c.Writer.Status() >= 500:
			logger.Error("request failed", fields...)
		default:
			logger.Debug("request", fields...)
		}
	}
}
