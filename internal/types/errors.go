package types

import (
	"errors"
	"time"
)

// ========================================
// 错误类型定义
// ========================================

// RouterError 路由服务错误
// Code 决定传输层返回的状态码
type RouterError struct {
	Code      string                 `json:"code"`               // 错误代码
	Message   string                 `json:"message"`            // 错误消息
	Details   map[string]interface{} `json:"details,omitempty"`  // 错误详情
	Provider  string                 `json:"provider,omitempty"` // 相关后端
	Timestamp time.Time              `json:"timestamp"`          // 错误时间
	Err       error                  `json:"-"`                  // 原始错误
}

func (e *RouterError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *RouterError) Unwrap() error {
	return e.Err
}

// 预定义错误代码
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"     // 无效请求
	ErrCodeQuoteFetchError   = "QUOTE_FETCH_ERROR"   // 后端硬失败，可重试
	ErrCodeNoQuotesAvailable = "NO_QUOTES_AVAILABLE" // 无可用报价
	ErrCodeInternalError     = "INTERNAL_ERROR"      // 内部错误
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED" // 频率限制
)

// NewValidationError 输入校验失败
func NewValidationError(message string) *RouterError {
	return &RouterError{
		Code:      ErrCodeInvalidRequest,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewQuoteFetchError 后端硬失败(429、5xx、网络、超时)
func NewQuoteFetchError(provider string, err error) *RouterError {
	return &RouterError{
		Code:      ErrCodeQuoteFetchError,
		Message:   "报价获取失败",
		Provider:  provider,
		Timestamp: time.Now(),
		Err:       err,
	}
}

// NewNoQuotesAvailableError 校验后候选集为空
func NewNoQuotesAvailableError() *RouterError {
	return &RouterError{
		Code:      ErrCodeNoQuotesAvailable,
		Message:   "没有可用的报价",
		Timestamp: time.Now(),
	}
}

// ErrorCode 提取错误代码，非RouterError返回空字符串
func ErrorCode(err error) string {
	var routerErr *RouterError
	if errors.As(err, &routerErr) {
		return routerErr.Code
	}
	return ""
}

func IsValidationError(err error) bool   { return ErrorCode(err) == ErrCodeInvalidRequest }
func IsQuoteFetchError(err error) bool   { return ErrorCode(err) == ErrCodeQuoteFetchError }
func IsNoQuotesAvailable(err error) bool { return ErrorCode(err) == ErrCodeNoQuotesAvailable }
