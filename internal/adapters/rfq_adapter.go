// Package adapters 做市商RFQ后端适配器
// 负责DUTCH_V1与DUTCH_V2请求，调用 POST /quote
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"defi-aggregator/quote-router/internal/metrics"
	"defi-aggregator/quote-router/internal/types"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// RFQ协议版本
const (
	rfqProtocolV1 = "v1"
	rfqProtocolV2 = "v2"
)

// RFQAdapter 做市商报价适配器
type RFQAdapter struct {
	*BaseAdapter

	defaultSlippageBps uint64
	now                func() time.Time
}

// NewRFQAdapter 创建RFQ适配器
// defaultSlippageBps 用于请求未携带滑点时计算拍卖终点
func NewRFQAdapter(config *types.BackendConfig, logger *logrus.Logger, m metrics.Metrics, defaultSlippageBps uint64) *RFQAdapter {
	if len(config.RoutingTypes) == 0 {
		config.RoutingTypes = []types.RoutingType{types.RoutingDutchV1, types.RoutingDutchV2}
	}
	return &RFQAdapter{
		BaseAdapter:        NewBaseAdapter(config, logger, m),
		defaultSlippageBps: defaultSlippageBps,
		now:                time.Now,
	}
}

// ========================================
// RFQ API结构定义
// ========================================

// RFQQuoteRequest RFQ报价请求体
type RFQQuoteRequest struct {
	RequestID       string `json:"requestId"`
	TokenInChainID  uint64 `json:"tokenInChainId"`
	TokenOutChainID uint64 `json:"tokenOutChainId"`
	TokenIn         string `json:"tokenIn"`
	TokenOut        string `json:"tokenOut"`
	Amount          string `json:"amount"`
	Type            string `json:"type"`
	Swapper         string `json:"swapper"`
	Protocol        string `json:"protocol"`
}

// RFQQuoteResponse RFQ报价响应
type RFQQuoteResponse struct {
	ChainID   uint64 `json:"chainId"`
	RequestID string `json:"requestId"`
	QuoteID   string `json:"quoteId"`
	TokenIn   string `json:"tokenIn"`
	AmountIn  string `json:"amountIn"`
	TokenOut  string `json:"tokenOut"`
	AmountOut string `json:"amountOut"`
	Swapper   string `json:"swapper"`
	Filler    string `json:"filler"`
	Nonce     string `json:"nonce,omitempty"`
}

// ========================================
// 核心接口实现
// ========================================

// Quote 获取做市商报价
func (a *RFQAdapter) Quote(ctx context.Context, req types.Request) (types.Quote, error) {
	var (
		v1Req    *types.DutchV1Request
		v2Req    *types.DutchV2Request
		protocol string
	)
	switch r := req.(type) {
	case *types.DutchV1Request:
		v1Req, protocol = r, rfqProtocolV1
	case *types.DutchV2Request:
		v1Req, v2Req, protocol = r.ToDutchV1(), r, rfqProtocolV2
	default:
		return nil, fmt.Errorf("%s 不支持路由类型: %s", a.config.Name, req.RoutingType())
	}

	return a.executeQuote(ctx, req, func(ctx context.Context) (types.Quote, error) {
		info := req.Info()
		body, err := json.Marshal(RFQQuoteRequest{
			RequestID:       info.RequestID,
			TokenInChainID:  info.TokenInChainID,
			TokenOutChainID: info.TokenOutChainID,
			TokenIn:         info.TokenIn,
			TokenOut:        info.TokenOut,
			Amount:          info.Amount.Dec(),
			Type:            string(info.Type),
			Swapper:         v1Req.Config.Swapper,
			Protocol:        protocol,
		})
		if err != nil {
			return nil, fmt.Errorf("序列化请求失败: %w", err)
		}

		apiURL := strings.TrimRight(a.config.BaseURL, "/") + "/quote"
		responseBody, err := a.makeHTTPRequest(ctx, "POST", apiURL, bytes.NewReader(body), nil)
		if err != nil {
			return nil, err
		}

		var quoteResp RFQQuoteResponse
		if err := a.parseJSONResponse(responseBody, &quoteResp); err != nil {
			return nil, err
		}

		inner, err := a.buildDutchQuote(v1Req, &quoteResp)
		if err != nil {
			return nil, err
		}
		if v2Req != nil {
			return types.NewDutchV2Quote(v2Req, inner, a.now().Unix()), nil
		}
		return inner, nil
	})
}

// HealthCheck RFQ服务健康检查
func (a *RFQAdapter) HealthCheck(ctx context.Context) error {
	if _, err := a.makeHTTPRequest(ctx, "GET", strings.TrimRight(a.config.BaseURL, "/")+"/healthcheck", nil, nil); err != nil {
		return fmt.Errorf("%s 健康检查失败: %w", a.config.Name, err)
	}
	return nil
}

// ========================================
// 辅助方法
// ========================================

// buildDutchQuote 由做市商报价构造拍卖区间
// EXACT_INPUT 输出从报价衰减到扣除滑点后的值；EXACT_OUTPUT 输入从报价递增到加上滑点后的值
func (a *RFQAdapter) buildDutchQuote(req *types.DutchV1Request, resp *RFQQuoteResponse) (*types.DutchQuote, error) {
	amountIn, err := parseResponseAmount("amountIn", resp.AmountIn)
	if err != nil {
		return nil, err
	}
	amountOut, err := parseResponseAmount("amountOut", resp.AmountOut)
	if err != nil {
		return nil, err
	}
	if amountIn.IsZero() || amountOut.IsZero() {
		return nil, &SoftFailure{Reason: "报价金额为0"}
	}

	info := req.Info()
	slippageBps := info.SlippageBps(a.defaultSlippageBps)

	quote := &types.DutchQuote{
		Request:        req,
		QuoteID:        resp.QuoteID,
		Swapper:        req.Config.Swapper,
		Filler:         types.NormalizeAddress(resp.Filler),
		Nonce:          resp.Nonce,
		AmountInStart:  amountIn,
		AmountInEnd:    amountIn.Clone(),
		AmountOutStart: amountOut,
		AmountOutEnd:   amountOut.Clone(),
		Source:         types.SourceRFQ,
	}
	if quote.QuoteID == "" {
		quote.QuoteID = uuid.New().String()
	}

	if info.Type == types.ExactInput {
		quote.AmountOutEnd = types.MulBps(amountOut, types.BpsDenominator-minBps(slippageBps, types.BpsDenominator))
	} else {
		quote.AmountInEnd = types.MulBps(amountIn, types.BpsDenominator+slippageBps)
	}

	quote.ApplyDecayWindow(a.now().Unix())

	if err := quote.Validate(); err != nil {
		return nil, &SoftFailure{Reason: err.Error()}
	}

	a.logger.Debugf("[%s] RFQ报价: in=%s..%s, out=%s..%s, filler=%s",
		a.config.Name, quote.AmountInStart.Dec(), quote.AmountInEnd.Dec(),
		quote.AmountOutStart.Dec(), quote.AmountOutEnd.Dec(), quote.Filler)
	return quote, nil
}

func minBps(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// 编译期接口检查
var (
	_ QuoteClient = (*RFQAdapter)(nil)
	_ QuoteClient = (*RoutingAPIAdapter)(nil)
)
