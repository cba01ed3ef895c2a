package resolvers

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"defi-aggregator/quote-router/internal/providers"
	"defi-aggregator/quote-router/internal/types"

	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWETH    = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
	testUSDC    = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	testSwapper = "0x0000000000000000000000000000000000000abc"
	testNow     = int64(1_700_000_000)
)

type fakeAllowance struct {
	amount *uint256.Int
	ok     bool
	calls  int32
}

func (f *fakeAllowance) GetAllowance(context.Context, uint64, string, string, string) (*uint256.Int, bool) {
	atomic.AddInt32(&f.calls, 1)
	return f.amount, f.ok
}

type fakePortion struct{}

func (fakePortion) GetPortion(context.Context, uint64, string, uint64, string) types.Portion {
	return types.Portion{HasPortion: true, Bips: 15, Recipient: "0x00000000000000000000000000000000000000aa"}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testBuilder(allowance providers.AllowanceProvider) *Builder {
	b := NewBuilder(types.DefaultEngineConfig(), allowance, fakePortion{}, testLogger())
	b.Now = func() time.Time { return time.Unix(testNow, 0) }
	return b
}

func testInfo(t *testing.T, tradeType types.TradeType) types.RequestInfo {
	t.Helper()
	info, err := types.NewRequestInfo(types.RequestInfo{
		RequestID:       "req-1",
		TokenInChainID:  1,
		TokenOutChainID: 1,
		TokenIn:         testWETH,
		TokenOut:        testUSDC,
		Amount:          uint256.NewInt(1_000_000),
		Type:            tradeType,
		Swapper:         testSwapper,
	})
	require.NoError(t, err)
	return info
}

func classicQuote(req *types.ClassicRequest, in, out, inAdjusted, outAdjusted uint64) *types.ClassicQuote {
	q := &types.ClassicQuote{
		Request:   req,
		QuoteID:   "classic",
		AmountIn:  uint256.NewInt(in),
		AmountOut: uint256.NewInt(out),
	}
	if inAdjusted != 0 {
		q.AmountInGasAdjusted = uint256.NewInt(inAdjusted)
	}
	if outAdjusted != 0 {
		q.AmountOutGasAdjusted = uint256.NewInt(outAdjusted)
	}
	return q
}

func nativeQuote(r *DutchResolver) *types.ClassicQuote {
	return classicQuote(r.routeToNative, 2_000_000_000, 1_000_000_000_000_000_000, 0, 0)
}

func rfqQuote(req *types.DutchV1Request, in, out uint64) *types.DutchQuote {
	q := &types.DutchQuote{
		Request:        req,
		QuoteID:        "rfq",
		AmountInStart:  uint256.NewInt(in),
		AmountInEnd:    uint256.NewInt(in),
		AmountOutStart: uint256.NewInt(out),
		AmountOutEnd:   uint256.NewInt(out),
		Source:         types.SourceRFQ,
	}
	q.ApplyDecayWindow(testNow)
	return q
}

func keyed(quotes ...types.Quote) map[string]types.Quote {
	m := make(map[string]types.Quote, len(quotes))
	for _, q := range quotes {
		m[q.GetRequest().Key()] = q
	}
	return m
}

func TestDutchDependencies(t *testing.T) {
	req := types.NewDutchV1Request(testInfo(t, types.ExactInput), types.DutchV1Config{})
	r := NewDutchResolver(req, testBuilder(nil))

	deps := r.Dependencies()
	require.Len(t, deps, 3)
	assert.Equal(t, req, deps[0])
	assert.Equal(t, types.RoutingClassic, deps[1].RoutingType())

	native := deps[2].Info()
	assert.Equal(t, types.ExactOutput, native.Type)
	assert.Equal(t, testUSDC, native.TokenIn)
	assert.Equal(t, testWETH, native.TokenOut)
	assert.Equal(t, "1000000000000000000", native.Amount.Dec())
}

func TestDutchDependenciesNativeOutput(t *testing.T) {
	info := testInfo(t, types.ExactInput)
	info.TokenIn, info.TokenOut = testUSDC, testWETH
	r := NewDutchResolver(types.NewDutchV1Request(info, types.DutchV1Config{}), testBuilder(nil))
	assert.Len(t, r.Dependencies(), 2)
}

func TestDutchGasThreshold(t *testing.T) {
	tests := []struct {
		name        string
		outAdjusted uint64
		synthesized bool
	}{
		{name: "gas占5%合成", outAdjusted: 9500, synthesized: true},
		{name: "gas占10%过滤", outAdjusted: 9000, synthesized: false},
		{name: "gas占25%过滤", outAdjusted: 7500, synthesized: false},
		{name: "gas为0不过滤", outAdjusted: 10000, synthesized: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := types.NewDutchV1Request(testInfo(t, types.ExactInput), types.DutchV1Config{})
			r := NewDutchResolver(req, testBuilder(nil))
			quotes := keyed(
				classicQuote(r.classicRequest, 1_000_000, 10_000, 0, tt.outAdjusted),
				nativeQuote(r),
			)

			quote, err := r.Resolve(context.Background(), quotes)
			require.NoError(t, err)
			if !tt.synthesized {
				assert.Nil(t, quote)
				return
			}
			require.NotNil(t, quote)
			assert.Equal(t, types.SourceSynthetic, quote.(*types.DutchQuote).Source)
		})
	}
}

func TestDutchRequiresRouteToNative(t *testing.T) {
	req := types.NewDutchV1Request(testInfo(t, types.ExactInput), types.DutchV1Config{})
	r := NewDutchResolver(req, testBuilder(nil))

	quote, err := r.Resolve(context.Background(), keyed(classicQuote(r.classicRequest, 1_000_000, 10_000, 0, 9500)))
	require.NoError(t, err)
	assert.Nil(t, quote)
}

func TestDutchSynthesisExactInput(t *testing.T) {
	req := types.NewDutchV1Request(testInfo(t, types.ExactInput), types.DutchV1Config{})
	r := NewDutchResolver(req, testBuilder(nil))
	quotes := keyed(classicQuote(r.classicRequest, 1_000_000, 10_000, 0, 9500), nativeQuote(r))

	quote, err := r.Resolve(context.Background(), quotes)
	require.NoError(t, err)

	dutch := quote.(*types.DutchQuote)
	assert.Equal(t, uint64(10_010), dutch.AmountOutStart.Uint64())
	// 9500 * (10000-50) / 10000
	assert.Equal(t, uint64(9452), dutch.AmountOutEnd.Uint64())
	assert.Equal(t, uint64(1_000_000), dutch.AmountInStart.Uint64())
	assert.Equal(t, dutch.AmountInStart, dutch.AmountInEnd)
	assert.Equal(t, testNow+45, dutch.DecayStartTime)
	assert.Equal(t, testNow+105, dutch.DecayEndTime)
	assert.Equal(t, testSwapper, dutch.Swapper)
}

func TestDutchSynthesisExactOutput(t *testing.T) {
	req := types.NewDutchV1Request(testInfo(t, types.ExactOutput), types.DutchV1Config{})
	r := NewDutchResolver(req, testBuilder(nil))
	quotes := keyed(classicQuote(r.classicRequest, 20_000, 1_000_000, 21_000, 0), nativeQuote(r))

	quote, err := r.Resolve(context.Background(), quotes)
	require.NoError(t, err)

	dutch := quote.(*types.DutchQuote)
	assert.Equal(t, uint64(19_980), dutch.AmountInStart.Uint64())
	assert.Equal(t, uint64(21_105), dutch.AmountInEnd.Uint64())
	assert.Equal(t, uint64(1_000_000), dutch.AmountOutStart.Uint64())
}

func TestDutchPrefersRFQForExactInput(t *testing.T) {
	req := types.NewDutchV1Request(testInfo(t, types.ExactInput), types.DutchV1Config{})
	r := NewDutchResolver(req, testBuilder(nil))
	// 合成报价的输出更高，但EXACT_INPUT仍然选择RFQ
	quotes := keyed(
		rfqQuote(req, 1_000_000, 9_000),
		classicQuote(r.classicRequest, 1_000_000, 10_000, 0, 9500),
		nativeQuote(r),
	)

	quote, err := r.Resolve(context.Background(), quotes)
	require.NoError(t, err)
	assert.Equal(t, "rfq", quote.GetQuoteID())
}

func TestDutchPrefersLowerInputForExactOutput(t *testing.T) {
	req := types.NewDutchV1Request(testInfo(t, types.ExactOutput), types.DutchV1Config{})
	r := NewDutchResolver(req, testBuilder(nil))

	cheapRFQ := keyed(rfqQuote(req, 19_000, 1_000_000), classicQuote(r.classicRequest, 20_000, 1_000_000, 21_000, 0), nativeQuote(r))
	quote, err := r.Resolve(context.Background(), cheapRFQ)
	require.NoError(t, err)
	assert.Equal(t, "rfq", quote.GetQuoteID())

	expensiveRFQ := keyed(rfqQuote(req, 25_000, 1_000_000), classicQuote(r.classicRequest, 20_000, 1_000_000, 21_000, 0), nativeQuote(r))
	quote, err = r.Resolve(context.Background(), expensiveRFQ)
	require.NoError(t, err)
	assert.Equal(t, types.SourceSynthetic, quote.(*types.DutchQuote).Source)
}

func TestDutchRejectsUnexpectedDependencyShape(t *testing.T) {
	req := types.NewDutchV1Request(testInfo(t, types.ExactInput), types.DutchV1Config{})
	r := NewDutchResolver(req, testBuilder(nil))

	// 以RFQ请求的键存放了AMM报价
	quotes := map[string]types.Quote{req.Key(): classicQuote(r.classicRequest, 1, 1, 0, 0)}
	_, err := r.Resolve(context.Background(), quotes)
	assert.Error(t, err)
}

func TestDutchV2Resolver(t *testing.T) {
	req := types.NewDutchV2Request(testInfo(t, types.ExactInput), types.DutchV2Config{})
	r := NewDutchV2Resolver(req, testBuilder(nil))

	deps := r.Dependencies()
	require.Len(t, deps, 3)
	assert.Equal(t, types.Request(req), deps[0])

	quotes := keyed(classicQuote(r.inner.classicRequest, 1_000_000, 10_000, 0, 9500), nativeQuote(r.inner))
	quote, err := r.Resolve(context.Background(), quotes)
	require.NoError(t, err)

	v2, ok := quote.(*types.DutchV2Quote)
	require.True(t, ok)
	assert.Equal(t, types.SourceSynthetic, v2.Inner.Source)
	assert.Equal(t, testNow+60, v2.Deadline)
	assert.Zero(t, v2.Inner.DecayStartTime)
}

func TestDutchV2ResolverKeepsFetchedQuote(t *testing.T) {
	req := types.NewDutchV2Request(testInfo(t, types.ExactInput), types.DutchV2Config{})
	r := NewDutchV2Resolver(req, testBuilder(nil))

	fetched := types.NewDutchV2Quote(req, rfqQuote(req.ToDutchV1(), 1_000_000, 9_000), testNow)
	quote, err := r.Resolve(context.Background(), keyed(fetched))
	require.NoError(t, err)
	assert.Same(t, fetched, quote)
}

func TestClassicResolverAttachesSideData(t *testing.T) {
	allowance := &fakeAllowance{amount: uint256.NewInt(2_000_000), ok: true}
	req := types.NewClassicRequest(testInfo(t, types.ExactInput), types.ClassicConfig{})
	r := NewClassicResolver(req, testBuilder(allowance))

	fetched := classicQuote(req, 1_000_000, 10_000, 0, 9500)
	quote, err := r.Resolve(context.Background(), keyed(fetched))
	require.NoError(t, err)

	classic := quote.(*types.ClassicQuote)
	require.NotNil(t, classic.Allowance)
	assert.True(t, classic.Allowance.Sufficient)
	assert.Equal(t, providers.Permit2Address, classic.Allowance.Spender)
	require.NotNil(t, classic.Portion)
	assert.Equal(t, uint64(15), classic.Portion.Bips)
	assert.Nil(t, fetched.Allowance, "fetched quote stays untouched")
}

func TestClassicResolverWithoutSwapper(t *testing.T) {
	allowance := &fakeAllowance{amount: uint256.NewInt(1), ok: true}
	info := testInfo(t, types.ExactInput)
	info.Swapper = ""
	req := types.NewClassicRequest(info, types.ClassicConfig{})
	r := NewClassicResolver(req, testBuilder(allowance))

	quote, err := r.Resolve(context.Background(), keyed(classicQuote(req, 1_000_000, 10_000, 0, 0)))
	require.NoError(t, err)
	assert.Nil(t, quote.(*types.ClassicQuote).Allowance)
	assert.Zero(t, atomic.LoadInt32(&allowance.calls))

	missing, err := r.Resolve(context.Background(), map[string]types.Quote{})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func relayFixture(t *testing.T, tradeType types.TradeType, allowance providers.AllowanceProvider) (*RelayResolver, map[string]types.Quote) {
	t.Helper()
	req, err := types.NewRelayRequest(testInfo(t, tradeType), types.RelayConfig{GasToken: testUSDC})
	require.NoError(t, err)
	r := NewRelayResolver(req, testBuilder(allowance))

	classic := classicQuote(r.classicRequest, 1_000_000, 10_000, 0, 0)
	classic.GasUseEstimate = uint256.NewInt(100_000)
	classic.GasUseEstimateGasToken = uint256.NewInt(2_000)
	return r, keyed(classic)
}

func TestRelayDependencies(t *testing.T) {
	r, _ := relayFixture(t, types.ExactInput, nil)
	deps := r.Dependencies()
	require.Len(t, deps, 2)

	classic := deps[1].(*types.ClassicRequest)
	require.NotNil(t, classic.Config.SimulateFromAddress)
	assert.Equal(t, testSwapper, *classic.Config.SimulateFromAddress)
	assert.Equal(t, testSwapper, *classic.Config.Recipient)
	assert.Equal(t, testUSDC, *classic.Config.GasToken)
	assert.Equal(t, testNow+72, *classic.Config.Deadline)
}

func TestRelayApproved(t *testing.T) {
	r, quotes := relayFixture(t, types.ExactInput, &fakeAllowance{amount: uint256.NewInt(1_000_000), ok: true})

	quote, err := r.Resolve(context.Background(), quotes)
	require.NoError(t, err)

	relay := quote.(*types.RelayQuote)
	assert.True(t, relay.Approved)
	assert.Equal(t, uint64(2_000), relay.FeeAmountStart.Uint64())
	assert.Equal(t, uint64(2_500), relay.FeeAmountEnd.Uint64())
	assert.Equal(t, uint64(10_000), relay.AmountOut.Uint64())
	assert.Equal(t, testNow+60, relay.DecayEndTime)
}

func TestRelayExactOutputNotApproved(t *testing.T) {
	// 额度足以覆盖交易数量，但EXACT_OUTPUT要求至少最大值的一半
	big := new(uint256.Int).Lsh(uint256.NewInt(1), 200)
	r, quotes := relayFixture(t, types.ExactOutput, &fakeAllowance{amount: big, ok: true})

	quote, err := r.Resolve(context.Background(), quotes)
	require.NoError(t, err)

	relay := quote.(*types.RelayQuote)
	assert.False(t, relay.Approved)
	// 2000 + 2000*46000/100000
	assert.Equal(t, uint64(2_920), relay.FeeAmountStart.Uint64())
	assert.Equal(t, uint64(3_650), relay.FeeAmountEnd.Uint64())
}

func TestRelayExactOutputApprovedWithHalfMax(t *testing.T) {
	r, quotes := relayFixture(t, types.ExactOutput, &fakeAllowance{amount: types.HalfMaxUint256(), ok: true})

	quote, err := r.Resolve(context.Background(), quotes)
	require.NoError(t, err)
	assert.True(t, quote.(*types.RelayQuote).Approved)
}

func TestRelayAllowanceLookupFailureIsNotApproved(t *testing.T) {
	r, quotes := relayFixture(t, types.ExactInput, &fakeAllowance{ok: false})

	quote, err := r.Resolve(context.Background(), quotes)
	require.NoError(t, err)
	assert.False(t, quote.(*types.RelayQuote).Approved)
}

func TestRelayDiscardsZeroOutput(t *testing.T) {
	r, quotes := relayFixture(t, types.ExactInput, nil)
	for _, q := range quotes {
		q.(*types.ClassicQuote).AmountOut = new(uint256.Int)
	}

	quote, err := r.Resolve(context.Background(), quotes)
	require.NoError(t, err)
	assert.Nil(t, quote)
}

// ========================================
// 依赖管理器
// ========================================

type stubResolver struct {
	request types.Request
	resolve func() (types.Quote, error)
}

func (s *stubResolver) Request() types.Request        { return s.request }
func (s *stubResolver) Dependencies() []types.Request { return []types.Request{s.request} }
func (s *stubResolver) Resolve(context.Context, map[string]types.Quote) (types.Quote, error) {
	return s.resolve()
}

func TestGetRequestsDeduplicates(t *testing.T) {
	b := testBuilder(nil)
	info := testInfo(t, types.ExactInput)
	classic := types.NewClassicRequest(info, types.ClassicConfig{})
	dutch := types.NewDutchV1Request(info, types.DutchV1Config{})

	resolvers, err := b.BuildAll([]types.Request{classic, dutch})
	require.NoError(t, err)

	requests := NewDependencyManager(testLogger(), nil).GetRequests(resolvers)
	require.Len(t, requests, 3)
	assert.Equal(t, classic.Key(), requests[0].Key())
	assert.Equal(t, dutch.Key(), requests[1].Key())
	assert.Equal(t, types.ExactOutput, requests[2].Info().Type, "route-to-native registered last")
}

func TestGetRequestsMergeKeepsBaseFields(t *testing.T) {
	info := testInfo(t, types.ExactInput)
	recipientA := "0x00000000000000000000000000000000000000a1"
	recipientB := "0x00000000000000000000000000000000000000b2"
	deadline := int64(123)

	first := types.NewClassicRequest(info, types.ClassicConfig{Recipient: &recipientA})
	second := types.NewClassicRequest(info, types.ClassicConfig{Recipient: &recipientB, Deadline: &deadline})

	b := testBuilder(nil)
	resolvers, err := b.BuildAll([]types.Request{first, second})
	require.NoError(t, err)

	requests := NewDependencyManager(testLogger(), nil).GetRequests(resolvers)
	require.Len(t, requests, 1)

	merged := requests[0].(*types.ClassicRequest)
	assert.Equal(t, recipientA, *merged.Config.Recipient)
	assert.Equal(t, deadline, *merged.Config.Deadline)
	assert.Nil(t, first.Config.Deadline, "base request is not mutated")
}

func TestResolveQuotesOrderAndIsolation(t *testing.T) {
	info := testInfo(t, types.ExactInput)
	req := types.NewClassicRequest(info, types.ClassicConfig{})
	good := classicQuote(req, 1_000_000, 10_000, 0, 0)

	resolvers := []Resolver{
		&stubResolver{request: req, resolve: func() (types.Quote, error) { return nil, nil }},
		&stubResolver{request: req, resolve: func() (types.Quote, error) { panic("boom") }},
		&stubResolver{request: req, resolve: func() (types.Quote, error) { return good, nil }},
		&stubResolver{request: req, resolve: func() (types.Quote, error) { return nil, errors.New("lookup failed") }},
	}

	results, err := NewDependencyManager(testLogger(), nil).ResolveQuotes(context.Background(), resolvers, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Nil(t, results[0])
	assert.Nil(t, results[1])
	assert.Same(t, good, results[2])
	assert.Nil(t, results[3])
}

func TestResolveQuotesPropagatesFetchError(t *testing.T) {
	req := types.NewClassicRequest(testInfo(t, types.ExactInput), types.ClassicConfig{})
	resolvers := []Resolver{
		&stubResolver{request: req, resolve: func() (types.Quote, error) {
			return nil, types.NewQuoteFetchError("rfq", errors.New("timeout"))
		}},
	}

	_, err := NewDependencyManager(testLogger(), nil).ResolveQuotes(context.Background(), resolvers, nil)
	assert.True(t, types.IsQuoteFetchError(err))
}

func TestResolveQuotesKeysFetchedByRequest(t *testing.T) {
	b := testBuilder(nil)
	req := types.NewClassicRequest(testInfo(t, types.ExactInput), types.ClassicConfig{})
	resolvers, err := b.BuildAll([]types.Request{req})
	require.NoError(t, err)

	results, err := NewDependencyManager(testLogger(), nil).ResolveQuotes(context.Background(), resolvers,
		[]types.Quote{classicQuote(req, 1_000_000, 10_000, 0, 0)})
	require.NoError(t, err)
	require.NotNil(t, results[0])
	assert.Equal(t, uint64(10_000), results[0].GetAmountOut().Uint64())
}
