// Package adapters 报价后端适配器
// 提供统一的后端客户端接口，封装不同后端的API差异
// 所有适配器共享单次调用、超时与失败分类逻辑
package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"defi-aggregator/quote-router/internal/metrics"
	"defi-aggregator/quote-router/internal/types"

	"github.com/sirupsen/logrus"
)

// DefaultTimeout 单次调用默认超时
const DefaultTimeout = 750 * time.Millisecond

// SoftFailure 软失败
// 4xx(429除外)或响应体校验失败，调用方将其视为"无报价"
type SoftFailure struct {
	StatusCode int
	Reason     string
}

func (e *SoftFailure) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("软失败: status=%d, %s", e.StatusCode, e.Reason)
	}
	return "软失败: " + e.Reason
}

// HTTPStatusError 硬失败的HTTP状态错误(429、5xx)
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP错误: status=%d, body=%s", e.StatusCode, e.Body)
}

// BaseAdapter 基础适配器结构
// 提供所有适配器的通用功能和配置
type BaseAdapter struct {
	config     *types.BackendConfig // 后端配置
	httpClient *http.Client         // HTTP客户端
	logger     *logrus.Logger       // 日志记录器
	metrics    metrics.Metrics      // 指标端口
}

// NewBaseAdapter 创建基础适配器
// 初始化带超时的HTTP客户端
func NewBaseAdapter(config *types.BackendConfig, logger *logrus.Logger, m metrics.Metrics) *BaseAdapter {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if m == nil {
		m = metrics.Nop{}
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        50,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return &BaseAdapter{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    m,
	}
}

// ========================================
// 通用HTTP请求方法
// ========================================

// makeHTTPRequest 发送HTTP请求
// 单次调用，不重试；按状态码分类失败
// 返回:
//   - []byte: 2xx响应体
//   - error: *SoftFailure(4xx且非429) 或硬失败
func (b *BaseAdapter) makeHTTPRequest(ctx context.Context, method, url string, body io.Reader, headers map[string]string) ([]byte, error) {
	b.logger.Debugf("[%s] 开始请求: %s %s", b.config.Name, method, url)

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "DeFi-Aggregator-Quote-Router/1.0")
	if b.config.APIKey != "" {
		req.Header.Set("x-api-key", b.config.APIKey)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return responseBody, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, &SoftFailure{StatusCode: resp.StatusCode, Reason: truncate(string(responseBody), 256)}
	default:
		return nil, &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(responseBody), 256)}
	}
}

// executeQuote 执行一次报价调用
// 统一施加超时、记录耗时，并把软失败转换为 (nil, nil)
func (b *BaseAdapter) executeQuote(ctx context.Context, req types.Request, fetch func(ctx context.Context) (types.Quote, error)) (types.Quote, error) {
	startTime := time.Now()
	requestID := req.Info().RequestID

	callCtx, cancel := context.WithTimeout(ctx, b.config.Timeout)
	defer cancel()

	quote, err := fetch(callCtx)
	duration := time.Since(startTime)
	b.metrics.BackendLatency(b.config.Name, duration)

	if err != nil {
		var soft *SoftFailure
		if errors.As(err, &soft) {
			b.metrics.BackendRequest(b.config.Name, metrics.OutcomeSoftFailure)
			b.logger.Warnf("[%s] ⚠️ %s 无报价(%s): %v, 耗时=%v",
				requestID, b.config.Name, req.RoutingType(), err, duration)
			return nil, nil
		}

		b.metrics.BackendRequest(b.config.Name, metrics.OutcomeHardFailure)
		b.logger.Errorf("[%s] 💥 %s 调用失败(%s): %v, 耗时=%v",
			requestID, b.config.Name, req.RoutingType(), err, duration)
		return nil, err
	}

	b.metrics.BackendRequest(b.config.Name, metrics.OutcomeSuccess)
	b.logger.Infof("[%s] 🎯 %s 响应完成(%s): 耗时=%v", requestID, b.config.Name, req.RoutingType(), duration)
	return quote, nil
}

// ========================================
// 通用数据处理方法
// ========================================

// parseJSONResponse 解析JSON响应
// 响应体无法解析属于软失败
func (b *BaseAdapter) parseJSONResponse(data []byte, target interface{}) error {
	if err := json.Unmarshal(data, target); err != nil {
		b.logger.Errorf("[%s] JSON解析失败: %v, data=%s", b.config.Name, err, truncate(string(data), 256))
		return &SoftFailure{Reason: fmt.Sprintf("JSON解析失败: %v", err)}
	}
	return nil
}

// ========================================
// 配置管理
// ========================================

// Name 获取后端名称
func (b *BaseAdapter) Name() string {
	return b.config.Name
}

// RoutingTypes 负责的路由变体
func (b *BaseAdapter) RoutingTypes() []types.RoutingType {
	return b.config.RoutingTypes
}

// GetConfig 获取当前配置
func (b *BaseAdapter) GetConfig() *types.BackendConfig {
	return b.config
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
