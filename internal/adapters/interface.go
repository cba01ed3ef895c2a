// Package adapters 报价后端客户端接口定义
// 每个路由变体对应一个后端客户端，会话只通过此接口访问后端
package adapters

import (
	"context"

	"defi-aggregator/quote-router/internal/types"
)

// QuoteClient 报价后端客户端接口
//
// Quote 为单次调用，不做内部重试:
//   - 软失败(4xx且非429、响应体校验失败)返回 (nil, nil)
//   - 硬失败(429、5xx、网络错误、超时)返回 error，由会话决定是否作为可重试错误向上传播
type QuoteClient interface {
	// Name 后端名称
	Name() string
	// RoutingTypes 负责的路由变体
	RoutingTypes() []types.RoutingType
	// Quote 获取报价
	Quote(ctx context.Context, req types.Request) (types.Quote, error)
}

// HealthChecker 支持健康检查的后端
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
