package adapters

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"defi-aggregator/quote-router/internal/metrics"
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
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testInfo(t *testing.T, tradeType types.TradeType, slippage string) types.RequestInfo {
	t.Helper()
	info, err := types.NewRequestInfo(types.RequestInfo{
		RequestID:         "req-1",
		TokenInChainID:    1,
		TokenOutChainID:   1,
		TokenIn:           testWETH,
		TokenOut:          testUSDC,
		Amount:            uint256.NewInt(1_000_000),
		Type:              tradeType,
		SlippageTolerance: slippage,
		Swapper:           testSwapper,
	})
	require.NoError(t, err)
	return info
}

func newRoutingAdapter(url string, timeout time.Duration, m metrics.Metrics) *RoutingAPIAdapter {
	return NewRoutingAPIAdapter(&types.BackendConfig{
		Name:    "routing-api",
		BaseURL: url,
		APIKey:  "secret",
		Timeout: timeout,
	}, testLogger(), m)
}

func TestRoutingAPIAdapterExactInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/quote", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "req-1", r.Header.Get("x-request-id"))

		q := r.URL.Query()
		assert.Equal(t, testWETH, q.Get("tokenInAddress"))
		assert.Equal(t, testUSDC, q.Get("tokenOutAddress"))
		assert.Equal(t, "1000000", q.Get("amount"))
		assert.Equal(t, "exactIn", q.Get("type"))
		assert.Equal(t, "V3,V2", q.Get("protocols"))
		assert.Empty(t, q.Get("recipient"))

		_ = json.NewEncoder(w).Encode(RoutingQuoteResponse{
			QuoteID:          "classic-1",
			Amount:           "1000000",
			Quote:            "2000",
			QuoteGasAdjusted: "1900",
			GasUseEstimate:   "120000",
			GasPriceWei:      "30000000000",
			BlockNumber:      "18000000",
			Route: [][]routingPool{
				{{Type: "v3-pool", Address: "0xpool1", AmountIn: "750000"}},
				{{Type: "v2-pool", Address: "0xpool2", AmountIn: "250000"}},
			},
		})
	}))
	defer server.Close()

	adapter := newRoutingAdapter(server.URL, time.Second, nil)
	req := types.NewClassicRequest(testInfo(t, types.ExactInput, ""), types.ClassicConfig{Protocols: []string{"V3", "V2"}})

	quote, err := adapter.Quote(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, quote)

	classic, ok := quote.(*types.ClassicQuote)
	require.True(t, ok)
	assert.Equal(t, "classic-1", classic.QuoteID)
	assert.Equal(t, uint64(1_000_000), classic.AmountIn.Uint64())
	assert.Equal(t, uint64(2000), classic.AmountOut.Uint64())
	assert.Equal(t, uint64(1900), classic.AmountOutGasAdjusted.Uint64())
	assert.Equal(t, uint64(100), classic.GasCost().Uint64())
	assert.Equal(t, uint64(18_000_000), classic.BlockNumber)
	require.Len(t, classic.Route, 2)
	assert.Equal(t, "V3", classic.Route[0].Protocol)
	assert.Equal(t, 75, classic.Route[0].Percent)
	assert.Equal(t, 25, classic.Route[1].Percent)
}

func TestRoutingAPIAdapterExactOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "exactOut", r.URL.Query().Get("type"))
		_, _ = w.Write([]byte(`{"quoteId":"c-2","quote":"5000","quoteGasAdjusted":"5200"}`))
	}))
	defer server.Close()

	adapter := newRoutingAdapter(server.URL, time.Second, nil)
	req := types.NewClassicRequest(testInfo(t, types.ExactOutput, ""), types.ClassicConfig{})

	quote, err := adapter.Quote(context.Background(), req)
	require.NoError(t, err)

	classic := quote.(*types.ClassicQuote)
	assert.Equal(t, uint64(5000), classic.AmountIn.Uint64())
	assert.Equal(t, uint64(1_000_000), classic.AmountOut.Uint64())
	assert.Equal(t, uint64(5200), classic.AmountInGasAdjusted.Uint64())
	assert.Nil(t, classic.GasUseEstimate)
}

func TestRoutingAPIAdapterFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
		outcome string
	}{
		{name: "4xx为软失败", status: http.StatusNotFound, body: `{"errorCode":"NO_ROUTE"}`, outcome: metrics.OutcomeSoftFailure},
		{name: "响应体无法解析为软失败", status: http.StatusOK, body: `not json`, outcome: metrics.OutcomeSoftFailure},
		{name: "金额非法为软失败", status: http.StatusOK, body: `{"quote":"abc","quoteGasAdjusted":"1"}`, outcome: metrics.OutcomeSoftFailure},
		{name: "429为硬失败", status: http.StatusTooManyRequests, body: `slow down`, wantErr: true, outcome: metrics.OutcomeHardFailure},
		{name: "5xx为硬失败", status: http.StatusBadGateway, body: `upstream`, wantErr: true, outcome: metrics.OutcomeHardFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			m := &recordingMetrics{}
			adapter := newRoutingAdapter(server.URL, time.Second, m)
			req := types.NewClassicRequest(testInfo(t, types.ExactInput, ""), types.ClassicConfig{})

			quote, err := adapter.Quote(context.Background(), req)
			assert.Nil(t, quote)
			if tt.wantErr {
				require.Error(t, err)
				var statusErr *HTTPStatusError
				assert.ErrorAs(t, err, &statusErr)
			} else {
				assert.NoError(t, err)
			}

			assert.Equal(t, []string{tt.outcome}, m.outcomes)
		})
	}
}

func TestRoutingAPIAdapterTimeoutIsHardFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte(`{"quote":"1","quoteGasAdjusted":"1"}`))
	}))
	defer server.Close()

	adapter := newRoutingAdapter(server.URL, 50*time.Millisecond, nil)
	req := types.NewClassicRequest(testInfo(t, types.ExactInput, ""), types.ClassicConfig{})

	quote, err := adapter.Quote(context.Background(), req)
	assert.Nil(t, quote)
	assert.Error(t, err)
}

func TestRoutingAPIAdapterRejectsOtherVariants(t *testing.T) {
	adapter := newRoutingAdapter("http://127.0.0.1:0", time.Second, nil)
	_, err := adapter.Quote(context.Background(), types.NewDutchV1Request(testInfo(t, types.ExactInput, ""), types.DutchV1Config{}))
	assert.Error(t, err)
}

func newRFQAdapter(t *testing.T, handler http.HandlerFunc) (*RFQAdapter, func()) {
	t.Helper()
	server := httptest.NewServer(handler)
	adapter := NewRFQAdapter(&types.BackendConfig{Name: "rfq", BaseURL: server.URL, Timeout: time.Second}, testLogger(), nil, 50)
	adapter.now = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return adapter, server.Close
}

func TestRFQAdapterDutchV1ExactInput(t *testing.T) {
	adapter, closeFn := newRFQAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var body RFQQuoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v1", body.Protocol)
		assert.Equal(t, testSwapper, body.Swapper)
		assert.Equal(t, "EXACT_INPUT", body.Type)

		_ = json.NewEncoder(w).Encode(RFQQuoteResponse{
			QuoteID:   "rfq-1",
			AmountIn:  "1000000",
			AmountOut: "10000",
			Filler:    "0x00000000000000000000000000000000000000FF",
		})
	})
	defer closeFn()

	// 滑点1% = 100bps
	req := types.NewDutchV1Request(testInfo(t, types.ExactInput, "1"), types.DutchV1Config{})
	quote, err := adapter.Quote(context.Background(), req)
	require.NoError(t, err)

	dutch, ok := quote.(*types.DutchQuote)
	require.True(t, ok)
	assert.Equal(t, types.SourceRFQ, dutch.Source)
	assert.Equal(t, uint64(10000), dutch.AmountOutStart.Uint64())
	assert.Equal(t, uint64(9900), dutch.AmountOutEnd.Uint64())
	assert.Equal(t, dutch.AmountInStart, dutch.AmountInEnd)
	assert.Equal(t, "0x00000000000000000000000000000000000000ff", dutch.Filler)
	assert.Equal(t, int64(1_700_000_045), dutch.DecayStartTime)
	assert.Equal(t, int64(1_700_000_105), dutch.DecayEndTime)
	assert.Equal(t, int64(1_700_000_117), dutch.Deadline)
}

func TestRFQAdapterDutchV1ExactOutputDefaultSlippage(t *testing.T) {
	adapter, closeFn := newRFQAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quoteId":"rfq-2","amountIn":"20000","amountOut":"1000000"}`))
	})
	defer closeFn()

	req := types.NewDutchV1Request(testInfo(t, types.ExactOutput, ""), types.DutchV1Config{})
	quote, err := adapter.Quote(context.Background(), req)
	require.NoError(t, err)

	dutch := quote.(*types.DutchQuote)
	assert.Equal(t, uint64(20000), dutch.AmountInStart.Uint64())
	// 默认50bps
	assert.Equal(t, uint64(20100), dutch.AmountInEnd.Uint64())
	assert.Equal(t, dutch.AmountOutStart, dutch.AmountOutEnd)
}

func TestRFQAdapterDutchV2(t *testing.T) {
	adapter, closeFn := newRFQAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var body RFQQuoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v2", body.Protocol)
		_, _ = w.Write([]byte(`{"quoteId":"rfq-3","amountIn":"1000000","amountOut":"10000"}`))
	})
	defer closeFn()

	req := types.NewDutchV2Request(testInfo(t, types.ExactInput, ""), types.DutchV2Config{})
	quote, err := adapter.Quote(context.Background(), req)
	require.NoError(t, err)

	v2, ok := quote.(*types.DutchV2Quote)
	require.True(t, ok)
	assert.Equal(t, types.RoutingDutchV2, v2.RoutingType())
	assert.Equal(t, "rfq-3", v2.GetQuoteID())
	assert.Zero(t, v2.Inner.DecayStartTime)
	assert.Zero(t, v2.Inner.DecayEndTime)
	assert.Equal(t, int64(1_700_000_060), v2.Deadline)
}

func TestRFQAdapterZeroAmountIsSoftFailure(t *testing.T) {
	adapter, closeFn := newRFQAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quoteId":"rfq-4","amountIn":"1000000","amountOut":"0"}`))
	})
	defer closeFn()

	req := types.NewDutchV1Request(testInfo(t, types.ExactInput, ""), types.DutchV1Config{})
	quote, err := adapter.Quote(context.Background(), req)
	assert.NoError(t, err)
	assert.Nil(t, quote)
}

// recordingMetrics 记录后端调用结果
type recordingMetrics struct {
	metrics.Nop
	mu       sync.Mutex
	outcomes []string
}

func (m *recordingMetrics) BackendRequest(_ string, outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}
