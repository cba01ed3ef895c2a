package resolvers

import (
	"context"

	"defi-aggregator/quote-router/internal/providers"
	"defi-aggregator/quote-router/internal/types"

	"github.com/holiman/uint256"
)

// ClassicResolver AMM路由解析器
// 直接使用获取到的报价，附加授权与分成信息
type ClassicResolver struct {
	request *types.ClassicRequest
	builder *Builder
}

// NewClassicResolver 创建AMM路由解析器
func NewClassicResolver(req *types.ClassicRequest, builder *Builder) *ClassicResolver {
	return &ClassicResolver{request: req, builder: builder}
}

func (r *ClassicResolver) Request() types.Request { return r.request }

func (r *ClassicResolver) Dependencies() []types.Request {
	return []types.Request{r.request}
}

// Resolve 查找自身报价并附加授权、分成
func (r *ClassicResolver) Resolve(ctx context.Context, quotes map[string]types.Quote) (types.Quote, error) {
	quote, ok, err := lookupQuote[*types.ClassicQuote](quotes, r.request)
	if err != nil || !ok {
		return nil, err
	}

	info := r.request.Info()
	var allowance *types.Allowance
	if info.Swapper != "" && r.builder.Allowance != nil {
		allowance = r.lookupAllowance(ctx, info, quote)
	}

	portion := r.builder.Portion.GetPortion(ctx, info.TokenInChainID, info.TokenIn, info.TokenOutChainID, info.TokenOut)

	// 共享的依赖报价不可修改，附加信息写入副本
	return quote.WithSideData(allowance, &portion), nil
}

// lookupAllowance 查询请求方对Permit2的授权
// EXACT_INPUT 需要覆盖输入数量，EXACT_OUTPUT 需要覆盖报价的输入数量
func (r *ClassicResolver) lookupAllowance(ctx context.Context, info types.RequestInfo, quote *types.ClassicQuote) *types.Allowance {
	amount, ok := r.builder.Allowance.GetAllowance(ctx, info.TokenInChainID, info.Swapper, info.TokenIn, providers.Permit2Address)
	if !ok {
		return nil
	}

	required := info.Amount
	if info.Type == types.ExactOutput && quote.AmountIn != nil {
		required = quote.AmountIn
	}
	return &types.Allowance{
		Spender:    providers.Permit2Address,
		Amount:     amount,
		Sufficient: covers(amount, required),
	}
}

// covers amount >= required
func covers(amount, required *uint256.Int) bool {
	if amount == nil || required == nil {
		return false
	}
	return !amount.Lt(required)
}
