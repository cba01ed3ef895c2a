// Package handlers 报价路由HTTP处理器
// 提供RESTful API接口，处理报价请求和系统监控
// 实现标准的HTTP错误处理和响应格式
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"defi-aggregator/quote-router/internal/providers"
	"defi-aggregator/quote-router/internal/services"
	"defi-aggregator/quote-router/internal/types"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Version 服务版本
const Version = "1.0.0"

// QuoteService 处理器依赖的报价服务
type QuoteService interface {
	Quote(ctx context.Context, requests []types.Request) (*types.QuoteResult, error)
	GetRequests(requests []types.Request) ([]types.Request, error)
	GetStats() *services.ServiceStats
	Backends() map[string]string
	BackendStatus(ctx context.Context) map[string]string
}

// Pinger 可探活的依赖(缓存等)
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterHandler 报价路由处理器
// 处理报价相关的HTTP请求
type RouterHandler struct {
	service   QuoteService            // 报价服务
	tokens    providers.TokenResolver // 代币解析
	cache     Pinger                  // 缓存(可为nil)
	logger    *logrus.Logger          // 日志记录器
	startTime time.Time               // 启动时间
}

// NewRouterHandler 创建路由处理器实例
func NewRouterHandler(service QuoteService, tokens providers.TokenResolver, cache Pinger, logger *logrus.Logger) *RouterHandler {
	return &RouterHandler{
		service:   service,
		tokens:    tokens,
		cache:     cache,
		logger:    logger,
		startTime: time.Now(),
	}
}

// RegisterRoutes 注册路由
func (h *RouterHandler) RegisterRoutes(router gin.IRouter, healthPath string) {
	if healthPath == "" {
		healthPath = "/health"
	}
	router.GET(healthPath, h.HealthCheck)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/quote", h.GetQuote)
		v1.POST("/quote/requests", h.GetFetchPlan)
		v1.GET("/metrics", h.GetMetrics)
		v1.GET("/backends/status", h.GetBackendStatus)
	}
}

// ========================================
// 核心API接口
// ========================================

// GetQuote 获取最优报价
// POST /api/v1/quote
func (h *RouterHandler) GetQuote(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)
	startTime := time.Now()

	h.logger.Infof("[%s] 收到报价请求", requestID)

	requests, ok := h.bindRequests(c, requestID)
	if !ok {
		return
	}

	result, err := h.service.Quote(c.Request.Context(), requests)
	if err != nil {
		h.handleRouterError(c, err, requestID)
		return
	}

	response := &types.QuoteResponse{
		Quote:      types.NewQuoteView(result.Best),
		AllQuotes:  make([]*types.QuoteView, 0, len(result.Candidates)),
		Fetched:    len(result.Fetched),
		DurationMs: result.Duration.Milliseconds(),
	}
	for _, candidate := range result.Candidates {
		response.AllQuotes = append(response.AllQuotes, types.NewQuoteView(candidate))
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data:    response,
		Meta: map[string]interface{}{
			"processing_time": time.Since(startTime).Milliseconds(),
			"candidates":      len(result.Candidates),
		},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Infof("[%s] 报价请求处理完成: routing=%s, duration=%v",
		requestID, result.Best.RoutingType(), time.Since(startTime))
}

// GetFetchPlan 返回去重后实际会发出的请求，不访问后端
// POST /api/v1/quote/requests
func (h *RouterHandler) GetFetchPlan(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	requests, ok := h.bindRequests(c, requestID)
	if !ok {
		return
	}

	fetchSet, err := h.service.GetRequests(requests)
	if err != nil {
		h.handleRouterError(c, types.NewValidationError(err.Error()), requestID)
		return
	}

	plan := make([]json.RawMessage, 0, len(fetchSet))
	for _, req := range fetchSet {
		data, err := types.MarshalRequest(req)
		if err != nil {
			h.handleRouterError(c, err, requestID)
			return
		}
		plan = append(plan, data)
	}

	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      plan,
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})
}

// ========================================
// 监控和管理接口
// ========================================

// GetMetrics 获取服务统计
// GET /api/v1/metrics
func (h *RouterHandler) GetMetrics(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	c.JSON(http.StatusOK, types.APIResponse{
		Success: true,
		Data: map[string]interface{}{
			"router":    h.service.GetStats(),
			"backends":  h.service.Backends(),
			"timestamp": time.Now().Unix(),
		},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Debugf("[%s] 指标查询完成", requestID)
}

// HealthCheck 健康检查
// GET /health
// 缓存不可用时为降级状态，报价流程本身不依赖缓存
func (h *RouterHandler) HealthCheck(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	healthResponse := &types.HealthCheckResponse{
		Status:    types.StatusHealthy,
		Timestamp: time.Now(),
		Version:   Version,
		Uptime:    time.Since(h.startTime),
		Backends:  h.service.Backends(),
		Cache:     "disabled",
	}

	if h.cache != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warnf("[%s] 缓存探活失败: %v", requestID, err)
			healthResponse.Status = types.StatusDegraded
			healthResponse.Cache = types.StatusUnhealthy
		} else {
			healthResponse.Cache = types.StatusHealthy
		}
	}

	c.JSON(http.StatusOK, healthResponse)
	h.logger.Debugf("[%s] 健康检查完成", requestID)
}

// GetBackendStatus 获取后端健康状态
// GET /api/v1/backends/status
func (h *RouterHandler) GetBackendStatus(c *gin.Context) {
	requestID := h.getOrGenerateRequestID(c)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	c.JSON(http.StatusOK, types.APIResponse{
		Success:   true,
		Data:      h.service.BackendStatus(ctx),
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Debugf("[%s] 后端状态查询完成", requestID)
}

// ========================================
// 辅助方法
// ========================================

// bindRequests 绑定请求体，解析代币并构造顶层请求
// 失败时已写入响应
func (h *RouterHandler) bindRequests(c *gin.Context, requestID string) ([]types.Request, bool) {
	var body types.QuoteRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		h.logger.Warnf("[%s] 报价请求参数无效: %v", requestID, err)
		c.JSON(http.StatusBadRequest, types.APIResponse{
			Success: false,
			Error: &types.APIError{
				Code:    types.ErrCodeInvalidRequest,
				Message: "请求参数无效",
				Details: map[string]interface{}{"error": err.Error()},
			},
			Timestamp: time.Now().Unix(),
			RequestID: requestID,
		})
		return nil, false
	}

	if body.RequestID == "" {
		body.RequestID = requestID
	}

	ctx := c.Request.Context()
	tokenIn, err := h.tokens.ResolveTokenAddress(ctx, body.TokenInChainID, body.TokenIn)
	if err != nil {
		h.handleRouterError(c, err, requestID)
		return nil, false
	}
	tokenOut, err := h.tokens.ResolveTokenAddress(ctx, body.TokenOutChainID, body.TokenOut)
	if err != nil {
		h.handleRouterError(c, err, requestID)
		return nil, false
	}

	requests, err := body.ToRequests(tokenIn, tokenOut)
	if err != nil {
		h.handleRouterError(c, err, requestID)
		return nil, false
	}
	return requests, true
}

// getOrGenerateRequestID 获取或生成请求ID
func (h *RouterHandler) getOrGenerateRequestID(c *gin.Context) string {
	if requestID := c.GetHeader(types.HeaderRequestID); requestID != "" {
		return requestID
	}

	if requestID := c.GetString("request_id"); requestID != "" {
		return requestID
	}

	// 生成新的请求ID
	requestID := uuid.New().String()
	c.Set("request_id", requestID)
	return requestID
}

// statusCode 错误代码对应的HTTP状态码
func statusCode(code string) int {
	switch code {
	case types.ErrCodeInvalidRequest:
		return http.StatusBadRequest
	case types.ErrCodeNoQuotesAvailable:
		return http.StatusNotFound
	case types.ErrCodeQuoteFetchError:
		return http.StatusServiceUnavailable
	case types.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// handleRouterError 处理路由服务错误
func (h *RouterHandler) handleRouterError(c *gin.Context, err error, requestID string) {
	var routerErr *types.RouterError
	if errors.As(err, &routerErr) {
		code := statusCode(routerErr.Code)
		details := routerErr.Details
		if routerErr.Provider != "" {
			if details == nil {
				details = map[string]interface{}{}
			}
			details["provider"] = routerErr.Provider
		}

		c.JSON(code, types.APIResponse{
			Success: false,
			Error: &types.APIError{
				Code:    routerErr.Code,
				Message: routerErr.Message,
				Details: details,
			},
			Timestamp: time.Now().Unix(),
			RequestID: requestID,
		})

		if code >= 500 {
			h.logger.Errorf("[%s] 路由服务错误: %v", requestID, err)
		} else {
			h.logger.Warnf("[%s] 路由服务错误: %v", requestID, err)
		}
		return
	}

	// 未知错误
	c.JSON(http.StatusInternalServerError, types.APIResponse{
		Success: false,
		Error: &types.APIError{
			Code:    types.ErrCodeInternalError,
			Message: "内部服务错误",
		},
		Timestamp: time.Now().Unix(),
		RequestID: requestID,
	})

	h.logger.Errorf("[%s] 未知错误: %v", requestID, err)
}
