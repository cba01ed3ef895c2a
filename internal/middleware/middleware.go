// Package middleware 报价路由HTTP中间件
// 提供请求ID、请求日志、限流、安全头与panic恢复
package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"defi-aggregator/quote-router/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/imkira/go-ttlmap"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ========================================
// 请求ID中间件
// ========================================

// RequestID 请求ID中间件
// 为每个请求生成或传递唯一ID，便于链路追踪
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(types.HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set("request_id", requestID)
		c.Header(types.HeaderRequestID, requestID)

		c.Next()
	}
}

// ========================================
// 请求日志中间件
// ========================================

// RequestLogger 请求日志中间件
func RequestLogger(logger *logrus.Logger, config *types.MonitoringConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()
		requestID := c.GetString("request_id")

		if config.LogRequests {
			logger.WithFields(logrus.Fields{
				"request_id": requestID,
				"method":     c.Request.Method,
				"path":       c.Request.URL.Path,
				"client_ip":  c.ClientIP(),
			}).Info("请求开始")
		}

		c.Next()

		duration := time.Since(startTime)
		statusCode := c.Writer.Status()

		logLevel := logrus.InfoLevel
		if statusCode >= 400 {
			logLevel = logrus.WarnLevel
		}
		if statusCode >= 500 {
			logLevel = logrus.ErrorLevel
		}

		logger.WithFields(logrus.Fields{
			"request_id":    requestID,
			"method":        c.Request.Method,
			"path":          c.Request.URL.Path,
			"status_code":   statusCode,
			"duration_ms":   duration.Milliseconds(),
			"client_ip":     c.ClientIP(),
			"response_size": c.Writer.Size(),
		}).Log(logLevel, "请求完成")

		if config.SlowRequestMs > 0 && duration.Milliseconds() > int64(config.SlowRequestMs) {
			logger.WithFields(logrus.Fields{
				"request_id":  requestID,
				"duration_ms": duration.Milliseconds(),
				"threshold":   config.SlowRequestMs,
			}).Warn("检测到慢请求")
		}
	}
}

// ========================================
// 限流中间件
// ========================================

// limiterIdleFactor 限流器闲置多少个窗口后回收
const limiterIdleFactor = 10

// RateLimiter 基于IP的限流中间件
// 每个IP一个令牌桶，闲置的限流器自动过期
type RateLimiter struct {
	config   *types.RateLimitConfig
	limiters *ttlmap.Map
	mutex    sync.Mutex
	logger   *logrus.Logger
}

// NewRateLimiter 创建限流中间件
func NewRateLimiter(config *types.RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		config:   config,
		limiters: ttlmap.New(&ttlmap.Options{InitialCapacity: 256}),
		logger:   logger,
	}
}

// RateLimit 限流中间件函数
func (rl *RateLimiter) RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.config.Enabled {
			c.Next()
			return
		}

		requestID := c.GetString("request_id")
		clientIP := c.ClientIP()

		if !rl.allow(clientIP) {
			rl.logger.Warnf("[%s] IP限流触发: %s", requestID, clientIP)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, types.APIResponse{
				Success: false,
				Error: &types.APIError{
					Code:    types.ErrCodeRateLimitExceeded,
					Message: "请求频率过高，请稍后再试",
				},
				Timestamp: time.Now().Unix(),
				RequestID: requestID,
			})
			return
		}

		c.Next()
	}
}

// allow 检查IP限流
func (rl *RateLimiter) allow(ip string) bool {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	requests := rl.config.Requests
	if requests <= 0 {
		requests = 1
	}
	window := rl.config.Window
	if window <= 0 {
		window = time.Minute
	}

	var limiter *rate.Limiter
	if item, err := rl.limiters.Get(ip); err == nil {
		limiter = item.Value().(*rate.Limiter)
	} else {
		limiter = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
	}

	// 每次访问续期
	if err := rl.limiters.Set(ip, ttlmap.NewItem(limiter, ttlmap.WithTTL(window*limiterIdleFactor)), nil); err != nil {
		rl.logger.Debugf("限流器写入失败: %v", err)
	}
	return limiter.Allow()
}

// Close 释放限流器
func (rl *RateLimiter) Close() {
	rl.limiters.Drain()
}

// ========================================
// 安全中间件
// ========================================

// Security 安全头中间件
func Security() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")

		// 报价随时间失效，禁止缓存
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
			c.Header("Pragma", "no-cache")
		}

		c.Next()
	}
}

// ========================================
// 恢复中间件
// ========================================

// Recovery 恐慌恢复中间件
// 捕获panic并返回统一的错误响应
func Recovery(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				requestID := c.GetString("request_id")

				logger.WithFields(logrus.Fields{
					"request_id": requestID,
					"method":     c.Request.Method,
					"path":       c.Request.URL.Path,
					"panic":      err,
				}).Error("请求处理发生panic")

				c.AbortWithStatusJSON(http.StatusInternalServerError, types.APIResponse{
					Success: false,
					Error: &types.APIError{
						Code:    types.ErrCodeInternalError,
						Message: "内部服务错误",
					},
					Timestamp: time.Now().Unix(),
					RequestID: requestID,
				})
			}
		}()

		c.Next()
	}
}
