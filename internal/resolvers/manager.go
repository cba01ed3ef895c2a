package resolvers

import (
	"context"
	"fmt"
	"sync"

	"defi-aggregator/quote-router/internal/metrics"
	"defi-aggregator/quote-router/internal/types"

	"github.com/sirupsen/logrus"
)

// DependencyManager 依赖管理器
// 汇总所有解析器的依赖请求并去重，报价返回后分发给各解析器
type DependencyManager struct {
	logger  *logrus.Logger
	metrics metrics.Metrics
}

// NewDependencyManager 创建依赖管理器
func NewDependencyManager(logger *logrus.Logger, m metrics.Metrics) *DependencyManager {
	if m == nil {
		m = metrics.Nop{}
	}
	return &DependencyManager{logger: logger, metrics: m}
}

// GetRequests 生成去重后的请求集合
// 先登记所有顶层请求，再登记依赖请求；键冲突时按合并规则补齐，先登记者为base
// 返回顺序为首次登记顺序
func (d *DependencyManager) GetRequests(resolvers []Resolver) []types.Request {
	byKey := make(map[string]types.Request)
	var order []string

	register := func(req types.Request) {
		key := req.Key()
		existing, ok := byKey[key]
		if !ok {
			byKey[key] = req
			order = append(order, key)
			return
		}
		merged, err := types.MergeRequests(existing, req)
		if err != nil {
			// 相同键意味着路由类型相同，合并不会失败
			d.logger.Errorf("合并请求失败: %v", err)
			return
		}
		byKey[key] = merged
	}

	for _, resolver := range resolvers {
		register(resolver.Request())
	}
	for _, resolver := range resolvers {
		for _, dep := range resolver.Dependencies() {
			register(dep)
		}
	}

	requests := make([]types.Request, 0, len(order))
	for _, key := range order {
		requests = append(requests, byKey[key])
	}
	return requests
}

// ResolveQuotes 并发解析所有解析器的最终报价
// 结果顺序与解析器顺序一致(包括nil)；单个解析器的错误或panic只影响自身，
// 只有可重试的获取错误会向上传播
func (d *DependencyManager) ResolveQuotes(ctx context.Context, resolvers []Resolver, fetched []types.Quote) ([]types.Quote, error) {
	quotesByKey := make(map[string]types.Quote, len(fetched))
	for _, quote := range fetched {
		if quote == nil {
			continue
		}
		quotesByKey[quote.GetRequest().Key()] = quote
	}

	results := make([]types.Quote, len(resolvers))
	errs := make([]error, len(resolvers))

	var wg sync.WaitGroup
	for i, resolver := range resolvers {
		wg.Add(1)
		go func(index int, res Resolver) {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					errs[index] = fmt.Errorf("解析器panic: %v", p)
				}
			}()
			results[index], errs[index] = res.Resolve(ctx, quotesByKey)
		}(i, resolver)
	}
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if types.IsQuoteFetchError(err) {
			return nil, err
		}

		req := resolvers[i].Request()
		d.metrics.ResolverFailure(string(req.RoutingType()))
		d.logger.Warnf("[%s] ⚠️ %s 解析失败，忽略该变体: %v", req.Info().RequestID, req.RoutingType(), err)
		results[i] = nil
	}

	return results, nil
}
