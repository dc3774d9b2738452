package middleware

import (
	"log"
	"time"

	"github.com/gin-gonic/gin"
)

// LoggingMiddleware 请求日志中间件
// 健康检查不记日志；流式端点的延迟覆盖从接收请求到流写完的全程
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		log.Printf("[%s] %s %s | Status: %d | Latency: %v | IP: %s",
			c.Request.Method,
			path,
			c.Request.URL.RawQuery,
			c.Writer.Status(),
			time.Since(start),
			c.ClientIP(),
		)
	}
}
