// Package resolvers 路由变体解析器
// 每个顶层请求对应一个解析器：声明需要实际获取的依赖请求，
// 并在依赖报价全部返回后解析(必要时合成)出自己的最终报价
package resolvers

import (
	"context"
	"fmt"
	"time"

	"defi-aggregator/quote-router/internal/providers"
	"defi-aggregator/quote-router/internal/types"

	"github.com/sirupsen/logrus"
)

// Resolver 路由变体解析器
type Resolver interface {
	// Request 顶层请求
	Request() types.Request
	// Dependencies 需要获取的请求，第一个总是顶层请求本身
	Dependencies() []types.Request
	// Resolve 根据去重键到报价的映射解析最终报价，无可用报价时返回 (nil, nil)
	Resolve(ctx context.Context, quotes map[string]types.Quote) (types.Quote, error)
}

// Builder 解析器构造器
// 持有解析阶段共享的参数与外部查询
type Builder struct {
	Engine    types.EngineConfig
	Allowance providers.AllowanceProvider
	Portion   providers.FeePortionProvider
	Logger    *logrus.Logger

	// Now 当前时间，测试中可替换
	Now func() time.Time
}

// NewBuilder 创建解析器构造器
func NewBuilder(engine types.EngineConfig, allowance providers.AllowanceProvider, portion providers.FeePortionProvider, logger *logrus.Logger) *Builder {
	if portion == nil {
		portion = providers.NoPortionProvider{}
	}
	return &Builder{
		Engine:    engine,
		Allowance: allowance,
		Portion:   portion,
		Logger:    logger,
		Now:       time.Now,
	}
}

// Build 为顶层请求创建解析器
func (b *Builder) Build(req types.Request) (Resolver, error) {
	switch r := req.(type) {
	case *types.ClassicRequest:
		return NewClassicResolver(r, b), nil
	case *types.DutchV1Request:
		return NewDutchResolver(r, b), nil
	case *types.DutchV2Request:
		return NewDutchV2Resolver(r, b), nil
	case *types.RelayRequest:
		return NewRelayResolver(r, b), nil
	default:
		return nil, fmt.Errorf("未知的路由类型: %s", req.RoutingType())
	}
}

// BuildAll 为全部顶层请求创建解析器，顺序与输入一致
func (b *Builder) BuildAll(requests []types.Request) ([]Resolver, error) {
	resolvers := make([]Resolver, 0, len(requests))
	for _, req := range requests {
		resolver, err := b.Build(req)
		if err != nil {
			return nil, err
		}
		resolvers = append(resolvers, resolver)
	}
	return resolvers, nil
}

func (b *Builder) nowUnix() int64 {
	if b.Now == nil {
		return time.Now().Unix()
	}
	return b.Now().Unix()
}

// lookupQuote 按请求的去重键查找报价并断言具体类型
// 类型不符说明依赖集合被破坏，返回错误由管理器隔离
func lookupQuote[T types.Quote](quotes map[string]types.Quote, req types.Request) (T, bool, error) {
	var zero T
	quote, ok := quotes[req.Key()]
	if !ok || quote == nil {
		return zero, false, nil
	}
	typed, ok := quote.(T)
	if !ok {
		return zero, false, fmt.Errorf("依赖报价类型不符: 期望 %T, 实际 %T", zero, quote)
	}
	return typed, true, nil
}
