package types

import (
	"encoding/json"
	"time"
)

// ========================================
// HTTP请求响应类型
// ========================================

// QuoteRequestBody 报价请求体
// 一组公共交易信息加上每个路由变体的配置
type QuoteRequestBody struct {
	RequestID          string            `json:"requestId"`
	TokenInChainID     uint64            `json:"tokenInChainId" binding:"required"`
	TokenOutChainID    uint64            `json:"tokenOutChainId" binding:"required"`
	TokenIn            string            `json:"tokenIn" binding:"required"`
	TokenOut           string            `json:"tokenOut" binding:"required"`
	Amount             string            `json:"amount" binding:"required"`
	Type               string            `json:"type" binding:"required"`
	SlippageTolerance  string            `json:"slippageTolerance,omitempty"`
	Swapper            string            `json:"swapper,omitempty"`
	SendPortionEnabled bool              `json:"sendPortionEnabled,omitempty"`
	Configs            []json.RawMessage `json:"configs" binding:"required"`
}

// routingConfigHeader 用于读取配置的路由类型
type routingConfigHeader struct {
	RoutingType string `json:"routingType"`
}

// ToRequests 构造顶层请求列表
// tokenIn/tokenOut 为已解析的代币地址
func (b *QuoteRequestBody) ToRequests(tokenIn, tokenOut string) ([]Request, error) {
	tradeType, err := ParseTradeType(b.Type)
	if err != nil {
		return nil, err
	}
	amount, err := ParseAmount(b.Amount)
	if err != nil {
		return nil, err
	}
	info, err := NewRequestInfo(RequestInfo{
		RequestID:          b.RequestID,
		TokenInChainID:     b.TokenInChainID,
		TokenOutChainID:    b.TokenOutChainID,
		TokenIn:            tokenIn,
		TokenOut:           tokenOut,
		Amount:             amount,
		Type:               tradeType,
		SlippageTolerance:  b.SlippageTolerance,
		Swapper:            b.Swapper,
		SendPortionEnabled: b.SendPortionEnabled,
	})
	if err != nil {
		return nil, err
	}

	if len(b.Configs) == 0 {
		return nil, NewValidationError("至少需要一个路由配置")
	}

	seen := make(map[RoutingType]bool)
	requests := make([]Request, 0, len(b.Configs))
	for _, raw := range b.Configs {
		var header routingConfigHeader
		if err := json.Unmarshal(raw, &header); err != nil {
			return nil, NewValidationError("路由配置格式错误")
		}
		routingType, err := ParseRoutingType(header.RoutingType)
		if err != nil {
			return nil, err
		}
		if seen[routingType] {
			return nil, NewValidationError("重复的路由类型: " + string(routingType))
		}
		seen[routingType] = true

		req, err := NewRequest(routingType, info, raw)
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	return requests, nil
}

// QuoteResult 一次报价流程的结果
type QuoteResult struct {
	RequestID  string        `json:"requestId"`
	Best       Quote         `json:"-"`
	Candidates []Quote       `json:"-"`
	Fetched    []string      `json:"fetched"` // 实际请求的去重键
	Duration   time.Duration `json:"duration"`
}

// QuoteView 报价的对外展示形式
type QuoteView struct {
	RoutingType RoutingType            `json:"routing"`
	QuoteID     string                 `json:"quoteId"`
	RequestID   string                 `json:"requestId"`
	TradeType   TradeType              `json:"tradeType"`
	AmountIn    string                 `json:"amountIn"`
	AmountOut   string                 `json:"amountOut"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// QuoteResponse 报价接口响应
type QuoteResponse struct {
	Quote      *QuoteView   `json:"quote"`
	AllQuotes  []*QuoteView `json:"allQuotes"`
	Fetched    int          `json:"fetchedRequests"`
	DurationMs int64        `json:"durationMs"`
}

// NewQuoteView 构造报价展示
func NewQuoteView(q Quote) *QuoteView {
	info := q.GetRequest().Info()
	view := &QuoteView{
		RoutingType: q.RoutingType(),
		QuoteID:     q.GetQuoteID(),
		RequestID:   info.RequestID,
		TradeType:   info.Type,
		AmountIn:    AmountString(q.GetAmountIn()),
		AmountOut:   AmountString(q.GetAmountOut()),
		Details:     map[string]interface{}{},
	}

	switch quote := q.(type) {
	case *ClassicQuote:
		view.Details["amountInGasAdjusted"] = AmountString(quote.AmountInGasAdjusted)
		view.Details["amountOutGasAdjusted"] = AmountString(quote.AmountOutGasAdjusted)
		view.Details["gasUseEstimate"] = AmountString(quote.GasUseEstimate)
		view.Details["route"] = quote.Route
		if quote.Allowance != nil {
			view.Details["allowance"] = map[string]interface{}{
				"spender":    quote.Allowance.Spender,
				"amount":     AmountString(quote.Allowance.Amount),
				"sufficient": quote.Allowance.Sufficient,
			}
		}
		if quote.Portion != nil {
			view.Details["portion"] = quote.Portion
		}
	case *DutchQuote:
		addDutchDetails(view.Details, quote)
	case *DutchV2Quote:
		addDutchDetails(view.Details, quote.Inner)
	case *RelayQuote:
		view.Details["gasToken"] = quote.GasToken
		view.Details["feeAmountStart"] = AmountString(quote.FeeAmountStart)
		view.Details["feeAmountEnd"] = AmountString(quote.FeeAmountEnd)
		view.Details["approved"] = quote.Approved
		view.Details["classicQuoteId"] = quote.ClassicQuoteID
		view.Details["deadline"] = quote.Deadline
	}
	return view
}

func addDutchDetails(details map[string]interface{}, quote *DutchQuote) {
	details["source"] = quote.Source
	details["swapper"] = quote.Swapper
	details["filler"] = quote.Filler
	details["amountInStart"] = AmountString(quote.AmountInStart)
	details["amountInEnd"] = AmountString(quote.AmountInEnd)
	details["amountOutStart"] = AmountString(quote.AmountOutStart)
	details["amountOutEnd"] = AmountString(quote.AmountOutEnd)
	details["decayStartTime"] = quote.DecayStartTime
	details["decayEndTime"] = quote.DecayEndTime
	details["deadline"] = quote.Deadline
}

// APIResponse 统一API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`         // 是否成功
	Data      interface{} `json:"data,omitempty"`  // 响应数据
	Error     *APIError   `json:"error,omitempty"` // 错误信息
	Meta      interface{} `json:"meta,omitempty"`  // 元数据
	Timestamp int64       `json:"timestamp"`       // 时间戳
	RequestID string      `json:"request_id"`      // 请求ID
}

// APIError API错误信息
type APIError struct {
	Code    string                 `json:"code"`              // 错误代码
	Message string                 `json:"message"`           // 错误消息
	Details map[string]interface{} `json:"details,omitempty"` // 详细信息
}

// HealthCheckResponse 健康检查响应
type HealthCheckResponse struct {
	Status    string            `json:"status"`    // 整体状态
	Timestamp time.Time         `json:"timestamp"` // 检查时间
	Version   string            `json:"version"`   // 服务版本
	Uptime    time.Duration     `json:"uptime"`    // 运行时间
	Backends  map[string]string `json:"backends"`  // 已注册后端 -> 路由类型
	Cache     string            `json:"cache"`     // 缓存连接状态
}

// 健康状态
const (
	StatusHealthy   = "healthy"   // 健康状态
	StatusUnhealthy = "unhealthy" // 不健康状态
	StatusDegraded  = "degraded"  // 降级状态
)

// HeaderRequestID 请求ID头
const HeaderRequestID = "X-Request-ID"
