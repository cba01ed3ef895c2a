package resolvers

import (
	"context"

	"defi-aggregator/quote-router/internal/providers"
	"defi-aggregator/quote-router/internal/types"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// RelayResolver 中继解析器
// 由携带gasToken的AMM报价重新参数化为手续费递增的中继报价
type RelayResolver struct {
	request        *types.RelayRequest
	builder        *Builder
	classicRequest *types.ClassicRequest
}

// NewRelayResolver 创建中继解析器
func NewRelayResolver(req *types.RelayRequest, builder *Builder) *RelayResolver {
	info := req.Info()
	cfg := req.Config

	deadline := builder.nowUnix() + int64(cfg.AuctionPeriodSecs+cfg.DeadlineBufferSecs)
	gasToken := cfg.GasToken
	classicConfig := types.ClassicConfig{
		Deadline: &deadline,
		GasToken: &gasToken,
	}
	if cfg.Swapper != "" {
		swapper := cfg.Swapper
		classicConfig.SimulateFromAddress = &swapper
		classicConfig.Recipient = &swapper
	}

	return &RelayResolver{
		request:        req,
		builder:        builder,
		classicRequest: types.NewClassicRequest(info, classicConfig),
	}
}

func (r *RelayResolver) Request() types.Request { return r.request }

func (r *RelayResolver) Dependencies() []types.Request {
	return []types.Request{r.request, r.classicRequest}
}

// Resolve 解析中继报价
func (r *RelayResolver) Resolve(ctx context.Context, quotes map[string]types.Quote) (types.Quote, error) {
	info := r.request.Info()

	classic, ok, err := lookupQuote[*types.ClassicQuote](quotes, r.classicRequest)
	if err != nil || !ok {
		return nil, err
	}
	if classic.AmountIn == nil || classic.AmountOut == nil {
		return nil, nil
	}
	if classic.GasUseEstimateGasToken == nil {
		r.builder.Logger.Debugf("[%s] AMM报价缺少gasToken计价的gas成本，跳过中继", info.RequestID)
		return nil, nil
	}

	approved := r.permitApproved(ctx, info)
	quote := r.reparameterize(classic, approved)

	if err := quote.Validate(); err != nil {
		r.builder.Logger.Warnf("[%s] 中继报价无效: %v", info.RequestID, err)
		return nil, nil
	}
	if types.IsZeroAmount(quote.AmountOut) {
		return nil, nil
	}
	return quote, nil
}

// permitApproved 请求方是否已向Permit2授权
// EXACT_INPUT 需要覆盖交易数量；EXACT_OUTPUT 事先不知道输入数量，要求至少为最大值的一半
func (r *RelayResolver) permitApproved(ctx context.Context, info types.RequestInfo) bool {
	swapper := r.request.Config.Swapper
	if swapper == "" || r.builder.Allowance == nil {
		return false
	}

	amount, ok := r.builder.Allowance.GetAllowance(ctx, info.TokenInChainID, swapper, info.TokenIn, providers.Permit2Address)
	if !ok {
		return false
	}

	required := info.Amount
	if info.Type == types.ExactOutput {
		required = types.HalfMaxUint256()
	}
	return covers(amount, required)
}

// reparameterize 构造中继报价
// 手续费起点为以gasToken计价的gas成本，未授权时加上授权交易的gas；终点按递增幅度放大
func (r *RelayResolver) reparameterize(classic *types.ClassicQuote, approved bool) *types.RelayQuote {
	engine := r.builder.Engine
	cfg := r.request.Config

	feeStart := classic.GasUseEstimateGasToken.Clone()
	if !approved && !types.IsZeroAmount(classic.GasUseEstimate) {
		overhead, overflow := new(uint256.Int).MulDivOverflow(
			classic.GasUseEstimateGasToken, uint256.NewInt(engine.ApprovalGasUnits), classic.GasUseEstimate)
		if overflow {
			overhead = types.MaxUint256()
		}
		if _, overflow := feeStart.AddOverflow(feeStart, overhead); overflow {
			feeStart = types.MaxUint256()
		}
	}
	feeEnd := types.MulBps(feeStart, types.BpsDenominator+engine.RelayFeeEscalationBps)

	now := r.builder.nowUnix()
	decayEnd := now + int64(cfg.AuctionPeriodSecs)

	return &types.RelayQuote{
		Request:        r.request,
		QuoteID:        uuid.New().String(),
		ClassicQuoteID: classic.QuoteID,
		AmountIn:       classic.AmountIn.Clone(),
		AmountOut:      classic.AmountOut.Clone(),
		GasToken:       cfg.GasToken,
		FeeAmountStart: feeStart,
		FeeAmountEnd:   feeEnd,
		Approved:       approved,
		DecayStartTime: now,
		DecayEndTime:   decayEnd,
		Deadline:       decayEnd + int64(cfg.DeadlineBufferSecs),
	}
}
