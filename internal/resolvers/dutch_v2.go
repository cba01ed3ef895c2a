package resolvers

import (
	"context"

	"defi-aggregator/quote-router/internal/types"
)

// DutchV2Resolver 第二代荷兰拍卖解析器
// 依赖生成与基础解析委托给第一代解析器，结果转换为第二代形态
type DutchV2Resolver struct {
	request *types.DutchV2Request
	inner   *DutchResolver
	builder *Builder
}

// NewDutchV2Resolver 创建第二代荷兰拍卖解析器
func NewDutchV2Resolver(req *types.DutchV2Request, builder *Builder) *DutchV2Resolver {
	return &DutchV2Resolver{
		request: req,
		inner:   NewDutchResolver(req.ToDutchV1(), builder),
		builder: builder,
	}
}

func (r *DutchV2Resolver) Request() types.Request { return r.request }

// Dependencies 实际获取的是第二代RFQ请求，其余依赖与第一代相同
func (r *DutchV2Resolver) Dependencies() []types.Request {
	deps := r.inner.Dependencies()
	deps[0] = r.request
	return deps
}

func (r *DutchV2Resolver) Resolve(ctx context.Context, quotes map[string]types.Quote) (types.Quote, error) {
	fetched, ok, err := lookupQuote[*types.DutchV2Quote](quotes, r.request)
	if err != nil {
		return nil, err
	}

	var rfq *types.DutchQuote
	if ok {
		rfq = fetched.Inner
	}

	resolved, err := r.inner.resolveWith(ctx, rfq, quotes)
	if err != nil || resolved == nil {
		return nil, err
	}
	if ok && resolved == rfq {
		return fetched, nil
	}
	return types.NewDutchV2Quote(r.request, resolved, r.builder.nowUnix()), nil
}
