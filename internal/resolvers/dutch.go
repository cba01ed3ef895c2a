package resolvers

import (
	"context"

	"defi-aggregator/quote-router/internal/providers"
	"defi-aggregator/quote-router/internal/types"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// oneNativeUnit 1个原生代币(18位精度)
var oneNativeUnit = uint256.NewInt(1_000_000_000_000_000_000)

// DutchResolver 第一代荷兰拍卖解析器
//
// 依赖:
//   - 自身的RFQ请求
//   - 相同交易的CLASSIC请求，用于合成报价
//   - 以输出代币购买1个包装原生代币的CLASSIC请求，用于将gas换算为可比较的单位
type DutchResolver struct {
	request        *types.DutchV1Request
	builder        *Builder
	classicRequest *types.ClassicRequest
	routeToNative  *types.ClassicRequest

	// nativeOutput 输出即原生或包装原生代币，gas无需换算
	nativeOutput bool
}

// NewDutchResolver 创建荷兰拍卖解析器
func NewDutchResolver(req *types.DutchV1Request, builder *Builder) *DutchResolver {
	info := req.Info()
	r := &DutchResolver{
		request:        req,
		builder:        builder,
		classicRequest: types.NewClassicRequest(info, types.ClassicConfig{}),
	}

	wrapped, ok := providers.WrappedNativeAddress(info.TokenOutChainID)
	switch {
	case info.TokenOut == providers.NativeTokenAddress || (ok && info.TokenOut == wrapped):
		r.nativeOutput = true
	case ok:
		r.routeToNative = newRouteToNativeRequest(info, wrapped)
	}
	return r
}

// newRouteToNativeRequest 以交易输出代币精确买入1个包装原生代币
func newRouteToNativeRequest(info types.RequestInfo, wrapped string) *types.ClassicRequest {
	nativeInfo, err := types.NewRequestInfo(types.RequestInfo{
		RequestID:       info.RequestID,
		TokenInChainID:  info.TokenOutChainID,
		TokenOutChainID: info.TokenOutChainID,
		TokenIn:         info.TokenOut,
		TokenOut:        wrapped,
		Amount:          oneNativeUnit,
		Type:            types.ExactOutput,
		Swapper:         info.Swapper,
	})
	if err != nil {
		return nil
	}
	return types.NewClassicRequest(nativeInfo, types.ClassicConfig{})
}

func (r *DutchResolver) Request() types.Request { return r.request }

func (r *DutchResolver) Dependencies() []types.Request {
	deps := []types.Request{r.request, r.classicRequest}
	if r.routeToNative != nil {
		deps = append(deps, r.routeToNative)
	}
	return deps
}

// Resolve 解析荷兰拍卖报价
func (r *DutchResolver) Resolve(ctx context.Context, quotes map[string]types.Quote) (types.Quote, error) {
	rfq, _, err := lookupQuote[*types.DutchQuote](quotes, r.request)
	if err != nil {
		return nil, err
	}
	resolved, err := r.resolveWith(ctx, rfq, quotes)
	if err != nil || resolved == nil {
		return nil, err
	}
	return resolved, nil
}

// resolveWith 在RFQ报价(可为nil)与合成报价之间选择
func (r *DutchResolver) resolveWith(_ context.Context, rfq *types.DutchQuote, quotes map[string]types.Quote) (*types.DutchQuote, error) {
	requestID := r.request.Info().RequestID

	classic, _, err := lookupQuote[*types.ClassicQuote](quotes, r.classicRequest)
	if err != nil {
		return nil, err
	}

	var synthetic *types.DutchQuote
	if classic != nil {
		if !r.hasRouteToNative(quotes) {
			r.builder.Logger.Debugf("[%s] 缺少原生代币路由报价，不合成拍卖报价", requestID)
		} else if !r.gasAcceptable(classic) {
			r.builder.Logger.Infof("[%s] ⛽ gas占比超过阈值(%dbps)，不合成拍卖报价", requestID, r.builder.Engine.GasThresholdBps)
		} else {
			synthetic = r.synthesize(classic)
		}
	}

	switch {
	case rfq == nil && synthetic == nil:
		return nil, nil
	case rfq == nil:
		return synthetic, nil
	case synthetic == nil:
		return rfq, nil
	}

	// EXACT_INPUT 总是使用做市商报价；EXACT_OUTPUT 选择输入更少的一方
	if r.request.Info().Type == types.ExactInput {
		return rfq, nil
	}
	if synthetic.AmountInStart.Lt(rfq.AmountInStart) {
		return synthetic, nil
	}
	return rfq, nil
}

func (r *DutchResolver) hasRouteToNative(quotes map[string]types.Quote) bool {
	if r.nativeOutput {
		return true
	}
	if r.routeToNative == nil {
		return false
	}
	quote, ok := quotes[r.routeToNative.Key()]
	return ok && quote != nil
}

// gasAcceptable gas成本占报价比例低于阈值
// gas为0时不过滤；比例 >= 阈值时过滤
func (r *DutchResolver) gasAcceptable(classic *types.ClassicQuote) bool {
	gas := classic.GasCost()
	if gas.IsZero() {
		return true
	}

	quoted := classic.AmountOut
	if r.request.Info().Type == types.ExactOutput {
		quoted = classic.AmountIn
	}
	bps, ok := types.RatioBps(gas, quoted)
	if !ok {
		return false
	}
	return bps.Lt(uint256.NewInt(r.builder.Engine.GasThresholdBps))
}

// synthesize 由AMM报价合成拍卖报价
// 起点为报价加上价格改善，终点为计入gas后的报价再让出滑点
func (r *DutchResolver) synthesize(classic *types.ClassicQuote) *types.DutchQuote {
	info := r.request.Info()
	engine := r.builder.Engine
	slippageBps := info.SlippageBps(engine.DefaultSlippageBps)
	if slippageBps > types.BpsDenominator {
		slippageBps = types.BpsDenominator
	}

	if classic.AmountIn == nil || classic.AmountOut == nil {
		return nil
	}

	quote := &types.DutchQuote{
		Request: r.request,
		QuoteID: uuid.New().String(),
		Swapper: r.request.Config.Swapper,
		Source:  types.SourceSynthetic,
	}

	if info.Type == types.ExactInput {
		adjusted := classic.AmountOutGasAdjusted
		if adjusted == nil {
			adjusted = classic.AmountOut
		}
		quote.AmountInStart = classic.AmountIn.Clone()
		quote.AmountInEnd = classic.AmountIn.Clone()
		quote.AmountOutStart = types.MulBps(classic.AmountOut, types.BpsDenominator+engine.PriceImprovementBps)
		quote.AmountOutEnd = types.MulBps(adjusted, types.BpsDenominator-slippageBps)
	} else {
		adjusted := classic.AmountInGasAdjusted
		if adjusted == nil {
			adjusted = classic.AmountIn
		}
		quote.AmountInStart = types.MulBps(classic.AmountIn, types.BpsDenominator-engine.PriceImprovementBps)
		quote.AmountInEnd = types.MulBps(adjusted, types.BpsDenominator+slippageBps)
		quote.AmountOutStart = classic.AmountOut.Clone()
		quote.AmountOutEnd = classic.AmountOut.Clone()
	}
	quote.ApplyDecayWindow(r.builder.nowUnix())

	if err := quote.Validate(); err != nil {
		r.builder.Logger.Warnf("[%s] 合成拍卖报价无效: %v", info.RequestID, err)
		return nil
	}
	if types.IsZeroAmount(types.ResolvedAmount(quote)) {
		return nil
	}
	return quote
}
