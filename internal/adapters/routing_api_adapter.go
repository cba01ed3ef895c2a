// Package adapters 链上AMM路由后端适配器
// 负责CLASSIC请求，调用路由服务 GET /quote
package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"defi-aggregator/quote-router/internal/metrics"
	"defi-aggregator/quote-router/internal/types"

	"github.com/gorilla/schema"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

var queryEncoder = schema.NewEncoder()

// RoutingAPIAdapter AMM路由后端适配器
type RoutingAPIAdapter struct {
	*BaseAdapter // 嵌入基础适配器
}

// NewRoutingAPIAdapter 创建AMM路由适配器
func NewRoutingAPIAdapter(config *types.BackendConfig, logger *logrus.Logger, m metrics.Metrics) *RoutingAPIAdapter {
	if len(config.RoutingTypes) == 0 {
		config.RoutingTypes = []types.RoutingType{types.RoutingClassic}
	}
	return &RoutingAPIAdapter{
		BaseAdapter: NewBaseAdapter(config, logger, m),
	}
}

// ========================================
// 路由服务API结构定义
// ========================================

// routingQuoteParams 报价查询参数
type routingQuoteParams struct {
	TokenInAddress        string `schema:"tokenInAddress"`
	TokenInChainID        uint64 `schema:"tokenInChainId"`
	TokenOutAddress       string `schema:"tokenOutAddress"`
	TokenOutChainID       uint64 `schema:"tokenOutChainId"`
	Amount                string `schema:"amount"`
	Type                  string `schema:"type"`
	SlippageTolerance     string `schema:"slippageTolerance,omitempty"`
	Protocols             string `schema:"protocols,omitempty"`
	GasPriceWei           string `schema:"gasPriceWei,omitempty"`
	Recipient             string `schema:"recipient,omitempty"`
	Deadline              string `schema:"deadline,omitempty"`
	SimulateFromAddress   string `schema:"simulateFromAddress,omitempty"`
	PermitSignature       string `schema:"permitSignature,omitempty"`
	PermitNonce           string `schema:"permitNonce,omitempty"`
	PermitExpiration      string `schema:"permitExpiration,omitempty"`
	PermitAmount          string `schema:"permitAmount,omitempty"`
	PermitSigDeadline     string `schema:"permitSigDeadline,omitempty"`
	EnableUniversalRouter bool   `schema:"enableUniversalRouter,omitempty"`
	Algorithm             string `schema:"algorithm,omitempty"`
	MinSplits             int    `schema:"minSplits,omitempty"`
	ForceCrossProtocol    bool   `schema:"forceCrossProtocol,omitempty"`
	ForceMixedRoutes      bool   `schema:"forceMixedRoutes,omitempty"`
	QuoteSpeed            string `schema:"quoteSpeed,omitempty"`
	EnableFeeOnTransfer   bool   `schema:"enableFeeOnTransferFeeFetching,omitempty"`
	GasToken              string `schema:"gasToken,omitempty"`
	SendPortionEnabled    bool   `schema:"portionEnabled,omitempty"`
}

// routingPool 路径中的单个池
type routingPool struct {
	Type     string `json:"type"`
	Address  string `json:"address"`
	AmountIn string `json:"amountIn,omitempty"`
}

// RoutingQuoteResponse 路由服务报价响应
// EXACT_INPUT时 quote 为输出数量；EXACT_OUTPUT时 quote 为输入数量
type RoutingQuoteResponse struct {
	QuoteID                string          `json:"quoteId"`
	Amount                 string          `json:"amount"`
	Quote                  string          `json:"quote"`
	QuoteGasAdjusted       string          `json:"quoteGasAdjusted"`
	GasUseEstimate         string          `json:"gasUseEstimate"`
	GasPriceWei            string          `json:"gasPriceWei"`
	GasUseEstimateGasToken string          `json:"gasUseEstimateGasToken,omitempty"`
	BlockNumber            string          `json:"blockNumber"`
	Route                  [][]routingPool `json:"route"`
}

// ========================================
// 核心接口实现
// ========================================

// Quote 获取AMM路由报价
func (a *RoutingAPIAdapter) Quote(ctx context.Context, req types.Request) (types.Quote, error) {
	classicReq, ok := req.(*types.ClassicRequest)
	if !ok {
		return nil, fmt.Errorf("%s 不支持路由类型: %s", a.config.Name, req.RoutingType())
	}

	return a.executeQuote(ctx, req, func(ctx context.Context) (types.Quote, error) {
		apiURL, err := a.buildQuoteURL(classicReq)
		if err != nil {
			return nil, fmt.Errorf("构建请求URL失败: %w", err)
		}

		headers := map[string]string{"x-request-id": classicReq.Info().RequestID}
		responseBody, err := a.makeHTTPRequest(ctx, "GET", apiURL, nil, headers)
		if err != nil {
			return nil, err
		}

		var quoteResp RoutingQuoteResponse
		if err := a.parseJSONResponse(responseBody, &quoteResp); err != nil {
			return nil, err
		}

		return a.convertToClassicQuote(classicReq, &quoteResp)
	})
}

// HealthCheck 路由服务健康检查
func (a *RoutingAPIAdapter) HealthCheck(ctx context.Context) error {
	if _, err := a.makeHTTPRequest(ctx, "GET", strings.TrimRight(a.config.BaseURL, "/")+"/healthcheck", nil, nil); err != nil {
		return fmt.Errorf("%s 健康检查失败: %w", a.config.Name, err)
	}
	return nil
}

// ========================================
// 辅助方法
// ========================================

// buildQuoteURL 构建报价请求URL
func (a *RoutingAPIAdapter) buildQuoteURL(req *types.ClassicRequest) (string, error) {
	u, err := url.Parse(strings.TrimRight(a.config.BaseURL, "/") + "/quote")
	if err != nil {
		return "", err
	}

	info := req.Info()
	cfg := req.Config
	params := routingQuoteParams{
		TokenInAddress:        info.TokenIn,
		TokenInChainID:        info.TokenInChainID,
		TokenOutAddress:       info.TokenOut,
		TokenOutChainID:       info.TokenOutChainID,
		Amount:                info.Amount.Dec(),
		Type:                  routingTradeType(info.Type),
		SlippageTolerance:     info.SlippageTolerance,
		Protocols:             strings.Join(cfg.Protocols, ","),
		GasPriceWei:           cfg.GasPriceWei,
		PermitSignature:       cfg.PermitSignature,
		PermitNonce:           cfg.PermitNonce,
		PermitExpiration:      cfg.PermitExpiration,
		PermitAmount:          cfg.PermitAmount,
		PermitSigDeadline:     cfg.PermitSigDeadline,
		EnableUniversalRouter: cfg.EnableUniversalRouter,
		Algorithm:             cfg.Algorithm,
		MinSplits:             cfg.MinSplits,
		ForceCrossProtocol:    cfg.ForceCrossProtocol,
		ForceMixedRoutes:      cfg.ForceMixedRoutes,
		QuoteSpeed:            cfg.QuoteSpeed,
		EnableFeeOnTransfer:   cfg.EnableFeeOnTransferFeeFetching,
		SendPortionEnabled:    info.SendPortionEnabled,
	}
	if cfg.Recipient != nil {
		params.Recipient = *cfg.Recipient
	}
	if cfg.Deadline != nil {
		params.Deadline = strconv.FormatInt(*cfg.Deadline, 10)
	}
	if cfg.SimulateFromAddress != nil {
		params.SimulateFromAddress = *cfg.SimulateFromAddress
	}
	if cfg.GasToken != nil {
		params.GasToken = *cfg.GasToken
	}

	values := url.Values{}
	if err := queryEncoder.Encode(params, values); err != nil {
		return "", err
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

// routingTradeType 路由服务使用 exactIn/exactOut
func routingTradeType(t types.TradeType) string {
	if t == types.ExactOutput {
		return "exactOut"
	}
	return "exactIn"
}

// convertToClassicQuote 转换为标准报价
// 金额字段缺失或非法属于软失败
func (a *RoutingAPIAdapter) convertToClassicQuote(req *types.ClassicRequest, resp *RoutingQuoteResponse) (types.Quote, error) {
	quoted, err := parseResponseAmount("quote", resp.Quote)
	if err != nil {
		return nil, err
	}
	adjusted, err := parseResponseAmount("quoteGasAdjusted", resp.QuoteGasAdjusted)
	if err != nil {
		return nil, err
	}

	quote := &types.ClassicQuote{
		Request: req,
		QuoteID: resp.QuoteID,
		Route:   convertRoute(resp.Route),
	}

	info := req.Info()
	if info.Type == types.ExactInput {
		quote.AmountIn = info.Amount.Clone()
		quote.AmountOut = quoted
		quote.AmountOutGasAdjusted = adjusted
	} else {
		quote.AmountIn = quoted
		quote.AmountOut = info.Amount.Clone()
		quote.AmountInGasAdjusted = adjusted
	}

	// gas相关字段为可选
	quote.GasUseEstimate = parseOptionalAmount(resp.GasUseEstimate)
	quote.GasPriceWei = parseOptionalAmount(resp.GasPriceWei)
	quote.GasUseEstimateGasToken = parseOptionalAmount(resp.GasUseEstimateGasToken)
	if resp.BlockNumber != "" {
		if block, err := strconv.ParseUint(resp.BlockNumber, 10, 64); err == nil {
			quote.BlockNumber = block
		}
	}

	a.logger.Debugf("[%s] 报价解析成功: quote=%s, gasAdjusted=%s, block=%d",
		a.config.Name, quoted.Dec(), adjusted.Dec(), quote.BlockNumber)
	return quote, nil
}

// convertRoute 转换路径，占比按每条路径首个池的输入数量计算
func convertRoute(routes [][]routingPool) []types.RouteStep {
	if len(routes) == 0 {
		return nil
	}

	total := new(uint256.Int)
	firstAmounts := make([]*uint256.Int, len(routes))
	for i, pools := range routes {
		if len(pools) == 0 {
			continue
		}
		if amount := parseOptionalAmount(pools[0].AmountIn); amount != nil {
			firstAmounts[i] = amount
			total.Add(total, amount)
		}
	}

	steps := make([]types.RouteStep, 0, len(routes))
	for i, pools := range routes {
		step := types.RouteStep{Protocol: "MIXED"}
		for j, pool := range pools {
			if j == 0 {
				step.Protocol = routeProtocol(pool.Type)
			} else if routeProtocol(pool.Type) != step.Protocol {
				step.Protocol = "MIXED"
			}
			step.Pools = append(step.Pools, pool.Address)
		}
		if firstAmounts[i] != nil {
			if bps, ok := types.RatioBps(firstAmounts[i], total); ok {
				step.Percent = int(bps.Uint64() / 100)
			}
		}
		steps = append(steps, step)
	}
	return steps
}

func routeProtocol(poolType string) string {
	switch poolType {
	case "v2-pool":
		return "V2"
	case "v3-pool":
		return "V3"
	case "v4-pool":
		return "V4"
	default:
		return "MIXED"
	}
}

func parseResponseAmount(field, raw string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, &SoftFailure{Reason: fmt.Sprintf("响应字段 %s 无效: %q", field, raw)}
	}
	return amount, nil
}

func parseOptionalAmount(raw string) *uint256.Int {
	if raw == "" {
		return nil
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil
	}
	return amount
}
