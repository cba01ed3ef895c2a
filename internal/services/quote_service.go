// Package services 报价路由核心服务实现
// 驱动一次完整的报价流程：构建解析器、去重依赖请求、并发获取、解析、过滤与择优
package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"defi-aggregator/quote-router/internal/adapters"
	"defi-aggregator/quote-router/internal/metrics"
	"defi-aggregator/quote-router/internal/resolvers"
	"defi-aggregator/quote-router/internal/types"

	"github.com/sirupsen/logrus"
)

// QuoteService 报价会话服务
// 每个路由变体对应一个后端客户端；每次调用都是独立、无状态的一轮流程
type QuoteService struct {
	clients map[types.RoutingType]adapters.QuoteClient // 路由变体 -> 后端客户端
	builder *resolvers.Builder                         // 解析器构造器
	deps    *resolvers.DependencyManager               // 依赖管理器
	metrics metrics.Metrics                            // 指标端口
	logger  *logrus.Logger                             // 日志记录器
	stats   *ServiceStats                              // 服务统计
}

// ServiceStats 服务统计
type ServiceStats struct {
	TotalRequests   int64            `json:"total_requests"`
	NoQuotes        int64            `json:"no_quotes"`
	FetchFailures   int64            `json:"fetch_failures"`
	SelectedByType  map[string]int64 `json:"selected_by_type"`
	AvgQuoteTime    time.Duration    `json:"avg_quote_time"`
	LastRequestTime time.Time        `json:"last_request_time"`
	mutex           sync.RWMutex
}

// NewQuoteService 创建报价服务
func NewQuoteService(clients map[types.RoutingType]adapters.QuoteClient, builder *resolvers.Builder, m metrics.Metrics, logger *logrus.Logger) *QuoteService {
	if m == nil {
		m = metrics.Nop{}
	}
	return &QuoteService{
		clients: clients,
		builder: builder,
		deps:    resolvers.NewDependencyManager(logger, m),
		metrics: m,
		logger:  logger,
		stats:   &ServiceStats{SelectedByType: make(map[string]int64)},
	}
}

// ========================================
// 核心接口
// ========================================

// SelectBestQuote 选出最优报价
// 返回:
//   - types.Quote: 最优报价
//   - error: QUOTE_FETCH_ERROR(可重试) 或 NO_QUOTES_AVAILABLE
func (s *QuoteService) SelectBestQuote(ctx context.Context, requests []types.Request) (types.Quote, error) {
	result, err := s.Quote(ctx, requests)
	if err != nil {
		return nil, err
	}
	return result.Best, nil
}

// GetRequests 去重后的实际请求集合，用于诊断日志
func (s *QuoteService) GetRequests(requests []types.Request) ([]types.Request, error) {
	rs, err := s.builder.BuildAll(requests)
	if err != nil {
		return nil, err
	}
	return s.deps.GetRequests(rs), nil
}

// Quote 执行一轮完整的报价流程
func (s *QuoteService) Quote(ctx context.Context, requests []types.Request) (*types.QuoteResult, error) {
	startTime := time.Now()
	if len(requests) == 0 {
		return nil, types.NewValidationError("没有报价请求")
	}

	info := requests[0].Info()
	requestID := info.RequestID

	s.logger.Infof("[%s] 🚀 报价请求: %s->%s, 数量=%s, 方向=%s, 变体数=%d",
		requestID, info.TokenIn, info.TokenOut, types.AmountString(info.Amount), info.Type, len(requests))

	// 1. 构建解析器
	rs, err := s.builder.BuildAll(requests)
	if err != nil {
		return nil, types.NewValidationError(err.Error())
	}

	// 2. 去重依赖请求
	fetchSet := s.deps.GetRequests(rs)
	fetchedKeys := make([]string, 0, len(fetchSet))
	for _, req := range fetchSet {
		fetchedKeys = append(fetchedKeys, req.Key())
		s.logger.Debugf("[%s] 📋 依赖请求: %s", requestID, req.Key())
	}

	// 3. 并发获取
	fetched, err := s.fetchAll(ctx, requestID, fetchSet)
	if err != nil {
		s.recordFailure()
		return nil, err
	}

	// 4. 解析
	resolved, err := s.deps.ResolveQuotes(ctx, rs, fetched)
	if err != nil {
		s.recordFailure()
		return nil, err
	}

	// 5. 过滤与择优
	candidates := FilterQuotes(resolved)
	best := SelectBest(candidates, info.Type)
	if best == nil {
		s.metrics.NoQuotes()
		s.recordOutcome(startTime, "")
		s.logger.Warnf("[%s] ❌ 没有可用报价, 耗时=%v", requestID, time.Since(startTime))
		return nil, types.NewNoQuotesAvailableError()
	}

	s.metrics.QuoteSelected(string(best.RoutingType()))
	s.recordOutcome(startTime, string(best.RoutingType()))

	s.logger.Infof("[%s] 🎉 报价完成: 最优=%s, amountIn=%s, amountOut=%s, 候选=%d, 实际请求=%d, 总耗时=%v",
		requestID, best.RoutingType(), types.AmountString(best.GetAmountIn()), types.AmountString(best.GetAmountOut()),
		len(candidates), len(fetchSet), time.Since(startTime))

	return &types.QuoteResult{
		RequestID:  requestID,
		Best:       best,
		Candidates: candidates,
		Fetched:    fetchedKeys,
		Duration:   time.Since(startTime),
	}, nil
}

// ========================================
// 并发获取
// ========================================

// fetchResult 单个请求的获取结果
type fetchResult struct {
	index   int
	quote   types.Quote
	err     error
	backend string
}

// fetchAll 并发获取所有请求
// 等待全部完成后再处理结果；任一硬失败使本轮失败，软失败只是缺少报价
func (s *QuoteService) fetchAll(ctx context.Context, requestID string, requests []types.Request) ([]types.Quote, error) {
	resultChan := make(chan fetchResult, len(requests))
	var wg sync.WaitGroup

	s.logger.Infof("[%s] 🚀 并发获取 %d 个请求", requestID, len(requests))

	for i, req := range requests {
		client, ok := s.clients[req.RoutingType()]
		if !ok {
			// RELAY等变体没有后端，由解析器合成
			s.logger.Debugf("[%s] %s 没有注册后端，跳过", requestID, req.RoutingType())
			continue
		}

		wg.Add(1)
		go func(index int, r types.Request, c adapters.QuoteClient) {
			defer wg.Done()
			result := fetchResult{index: index, backend: c.Name()}
			defer func() {
				if p := recover(); p != nil {
					result.quote, result.err = nil, fmt.Errorf("后端客户端panic: %v", p)
				}
				resultChan <- result
			}()

			s.logger.Debugf("[%s] 📞 调用: %s (%s)", requestID, c.Name(), r.RoutingType())
			result.quote, result.err = c.Quote(ctx, r)
		}(i, req, client)
	}

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	quotes := make([]types.Quote, len(requests))
	var failures []fetchResult
	for result := range resultChan {
		if result.err != nil {
			failures = append(failures, result)
			continue
		}
		quotes[result.index] = result.quote
	}

	if len(failures) > 0 {
		// 按请求顺序报告第一个硬失败
		sort.Slice(failures, func(i, j int) bool { return failures[i].index < failures[j].index })
		first := failures[0]
		s.logger.Errorf("[%s] 💥 %d 个后端硬失败，本轮报价失败: %s: %v", requestID, len(failures), first.backend, first.err)
		return nil, types.NewQuoteFetchError(first.backend, first.err)
	}

	return quotes, nil
}

// ========================================
// 过滤与择优
// ========================================

// FilterQuotes 过滤无效报价，保持原有顺序
// 丢弃nil以及比较金额为0的拍卖类报价
func FilterQuotes(quotes []types.Quote) []types.Quote {
	candidates := make([]types.Quote, 0, len(quotes))
	for _, quote := range quotes {
		if quote == nil {
			continue
		}
		if quote.RoutingType().IsAuction() && types.IsZeroAmount(types.ResolvedAmount(quote)) {
			continue
		}
		candidates = append(candidates, quote)
	}
	return candidates
}

// SelectBest 选择最优报价
// EXACT_INPUT 输出最多者胜出，EXACT_OUTPUT 输入最少者胜出；
// 相同时CLASSIC优先，其次按请求顺序
func SelectBest(candidates []types.Quote, tradeType types.TradeType) types.Quote {
	var best types.Quote
	for _, quote := range candidates {
		if best == nil || better(quote, best, tradeType) {
			best = quote
		}
	}
	return best
}

// better q是否严格优于current
func better(q, current types.Quote, tradeType types.TradeType) bool {
	var qAmount, currentAmount = q.GetAmountOut(), current.GetAmountOut()
	if tradeType == types.ExactOutput {
		qAmount, currentAmount = q.GetAmountIn(), current.GetAmountIn()
	}
	if qAmount == nil {
		return false
	}
	if currentAmount == nil {
		return true
	}

	if !qAmount.Eq(currentAmount) {
		if tradeType == types.ExactOutput {
			return qAmount.Lt(currentAmount)
		}
		return qAmount.Gt(currentAmount)
	}
	return q.RoutingType() == types.RoutingClassic && current.RoutingType() != types.RoutingClassic
}

// ========================================
// 统计
// ========================================

func (s *QuoteService) recordOutcome(startTime time.Time, selected string) {
	s.stats.mutex.Lock()
	defer s.stats.mutex.Unlock()

	duration := time.Since(startTime)
	s.stats.TotalRequests++
	s.stats.LastRequestTime = time.Now()
	if selected == "" {
		s.stats.NoQuotes++
	} else {
		s.stats.SelectedByType[selected]++
	}
	// 简单的移动平均
	if s.stats.AvgQuoteTime == 0 {
		s.stats.AvgQuoteTime = duration
	} else {
		s.stats.AvgQuoteTime = (s.stats.AvgQuoteTime + duration) / 2
	}
}

func (s *QuoteService) recordFailure() {
	s.stats.mutex.Lock()
	defer s.stats.mutex.Unlock()

	s.stats.TotalRequests++
	s.stats.FetchFailures++
	s.stats.LastRequestTime = time.Now()
}

// GetStats 获取服务统计快照
func (s *QuoteService) GetStats() *ServiceStats {
	s.stats.mutex.RLock()
	defer s.stats.mutex.RUnlock()

	selected := make(map[string]int64, len(s.stats.SelectedByType))
	for k, v := range s.stats.SelectedByType {
		selected[k] = v
	}
	return &ServiceStats{
		TotalRequests:   s.stats.TotalRequests,
		NoQuotes:        s.stats.NoQuotes,
		FetchFailures:   s.stats.FetchFailures,
		SelectedByType:  selected,
		AvgQuoteTime:    s.stats.AvgQuoteTime,
		LastRequestTime: s.stats.LastRequestTime,
	}
}

// Backends 已注册的后端，名称 -> 路由类型
func (s *QuoteService) Backends() map[string]string {
	backends := make(map[string]string, len(s.clients))
	for routingType, client := range s.clients {
		if existing, ok := backends[client.Name()]; ok {
			backends[client.Name()] = existing + "," + string(routingType)
			continue
		}
		backends[client.Name()] = string(routingType)
	}
	return backends
}

// BackendStatus 检查支持健康检查的后端
func (s *QuoteService) BackendStatus(ctx context.Context) map[string]string {
	status := make(map[string]string)
	for _, client := range s.clients {
		if _, done := status[client.Name()]; done {
			continue
		}
		checker, ok := client.(adapters.HealthChecker)
		if !ok {
			status[client.Name()] = types.StatusHealthy
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			s.logger.Warnf("后端 %s 健康检查失败: %v", client.Name(), err)
			status[client.Name()] = types.StatusUnhealthy
			continue
		}
		status[client.Name()] = types.StatusHealthy
	}
	return status
}
