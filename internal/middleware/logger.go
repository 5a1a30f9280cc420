package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/moovie-recommender/internal/logging"
)

// Logger 请求日志中间件
func Logger() gin.HandlerFunc {
	log := logging.Component("HTTP")
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		// 处理请求
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case status >= 500:
			event = log.Error()
		case status >= 400:
			event = log.Warn()
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", path).
			Str("ip", c.ClientIP()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("请求完成")
	}
}
