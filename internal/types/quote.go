package types

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

// ========================================
// 报价类型定义
// ========================================

// Quote 报价(封闭接口)
// 具体类型: *ClassicQuote, *DutchQuote, *DutchV2Quote, *RelayQuote
type Quote interface {
	RoutingType() RoutingType
	GetRequest() Request
	GetQuoteID() string
	GetAmountIn() *uint256.Int
	GetAmountOut() *uint256.Int

	isQuote()
}

// QuoteSource 拍卖报价来源
type QuoteSource string

const (
	SourceRFQ       QuoteSource = "RFQ"       // 做市商直接报价
	SourceSynthetic QuoteSource = "SYNTHETIC" // 由AMM报价合成
)

// RouteStep 交易路径步骤
type RouteStep struct {
	Protocol string   `json:"protocol"`        // 协议名称 (V2, V3, MIXED)
	Pools    []string `json:"pools,omitempty"` // 流动性池地址
	Percent  int      `json:"percent"`         // 该路径占比
}

// Allowance 授权快照
type Allowance struct {
	Spender    string       `json:"spender"`    // 被授权地址
	Amount     *uint256.Int `json:"-"`          // 当前授权额度
	Sufficient bool         `json:"sufficient"` // 是否覆盖交易数量
}

// Portion 手续费分成信息
type Portion struct {
	HasPortion bool   `json:"hasPortion"`
	Bips       uint64 `json:"bips"`
	Recipient  string `json:"recipient,omitempty"`
}

// ClassicQuote AMM路由报价
type ClassicQuote struct {
	Request                *ClassicRequest
	QuoteID                string
	AmountIn               *uint256.Int
	AmountOut              *uint256.Int
	AmountInGasAdjusted    *uint256.Int // EXACT_OUTPUT时计入gas后的输入
	AmountOutGasAdjusted   *uint256.Int // EXACT_INPUT时扣除gas后的输出
	GasUseEstimate         *uint256.Int // gas单位
	GasPriceWei            *uint256.Int
	GasUseEstimateGasToken *uint256.Int // 以gasToken计价的gas成本(仅在请求携带gasToken时返回)
	BlockNumber            uint64
	Route                  []RouteStep

	// 延迟绑定的附加数据，返回前由解析器填充
	Allowance *Allowance
	Portion   *Portion
}

func (q *ClassicQuote) RoutingType() RoutingType   { return RoutingClassic }
func (q *ClassicQuote) GetRequest() Request        { return q.Request }
func (q *ClassicQuote) GetQuoteID() string         { return q.QuoteID }
func (q *ClassicQuote) GetAmountIn() *uint256.Int  { return q.AmountIn }
func (q *ClassicQuote) GetAmountOut() *uint256.Int { return q.AmountOut }
func (q *ClassicQuote) isQuote()                   {}

// WithSideData 返回附加了授权与分成信息的副本
func (q *ClassicQuote) WithSideData(allowance *Allowance, portion *Portion) *ClassicQuote {
	copied := *q
	copied.Allowance = allowance
	copied.Portion = portion
	return &copied
}

// GasCost 未调整与计入gas后报价的差值(绝对值)
// EXACT_INPUT 为损失的输出，EXACT_OUTPUT 为额外需要的输入
func (q *ClassicQuote) GasCost() *uint256.Int {
	var quoted, adjusted *uint256.Int
	if q.Request.Info().Type == ExactInput {
		quoted, adjusted = q.AmountOut, q.AmountOutGasAdjusted
	} else {
		quoted, adjusted = q.AmountIn, q.AmountInGasAdjusted
	}
	if quoted == nil || adjusted == nil {
		return new(uint256.Int)
	}
	return AbsDiff(quoted, adjusted)
}

// DutchQuote 第一代荷兰拍卖报价
type DutchQuote struct {
	Request        *DutchV1Request
	QuoteID        string
	Swapper        string
	Filler         string
	Nonce          string
	AmountInStart  *uint256.Int
	AmountInEnd    *uint256.Int
	AmountOutStart *uint256.Int
	AmountOutEnd   *uint256.Int
	DecayStartTime int64
	DecayEndTime   int64
	Deadline       int64
	Source         QuoteSource
}

func (q *DutchQuote) RoutingType() RoutingType   { return RoutingDutchV1 }
func (q *DutchQuote) GetRequest() Request        { return q.Request }
func (q *DutchQuote) GetQuoteID() string         { return q.QuoteID }
func (q *DutchQuote) GetAmountIn() *uint256.Int  { return q.AmountInStart }
func (q *DutchQuote) GetAmountOut() *uint256.Int { return q.AmountOutStart }
func (q *DutchQuote) isQuote()                   {}

// ApplyDecayWindow 按请求的拍卖参数设置衰减窗口与截止时间
// 只在构造报价时调用
func (q *DutchQuote) ApplyDecayWindow(nowUnix int64) {
	cfg := q.Request.Config
	q.DecayStartTime = nowUnix + int64(cfg.StartTimeBufferSecs)
	q.DecayEndTime = q.DecayStartTime + int64(cfg.AuctionPeriodSecs)
	q.Deadline = q.DecayEndTime + int64(cfg.DeadlineBufferSecs)
}

// Validate 校验衰减区间
func (q *DutchQuote) Validate() error {
	if q.AmountInStart == nil || q.AmountInEnd == nil || q.AmountOutStart == nil || q.AmountOutEnd == nil {
		return errors.New("拍卖金额不完整")
	}
	// EXACT_INPUT 输出从高到低衰减；EXACT_OUTPUT 输入从低到高衰减
	if q.AmountOutStart.Lt(q.AmountOutEnd) {
		return fmt.Errorf("输出衰减区间倒置: start=%s end=%s", q.AmountOutStart.Dec(), q.AmountOutEnd.Dec())
	}
	if q.AmountInStart.Gt(q.AmountInEnd) {
		return fmt.Errorf("输入衰减区间倒置: start=%s end=%s", q.AmountInStart.Dec(), q.AmountInEnd.Dec())
	}
	if q.DecayEndTime < q.DecayStartTime {
		return fmt.Errorf("衰减时间倒置: start=%d end=%d", q.DecayStartTime, q.DecayEndTime)
	}
	return nil
}

// DutchV2Quote 第二代荷兰拍卖报价
type DutchV2Quote struct {
	Request  *DutchV2Request
	Inner    *DutchQuote
	Deadline int64
}

func (q *DutchV2Quote) RoutingType() RoutingType   { return RoutingDutchV2 }
func (q *DutchV2Quote) GetRequest() Request        { return q.Request }
func (q *DutchV2Quote) GetQuoteID() string         { return q.Inner.QuoteID }
func (q *DutchV2Quote) GetAmountIn() *uint256.Int  { return q.Inner.AmountInStart }
func (q *DutchV2Quote) GetAmountOut() *uint256.Int { return q.Inner.AmountOutStart }
func (q *DutchV2Quote) isQuote()                   {}

// NewDutchV2Quote 由第一代报价转换为第二代形态
// 第二代订单的衰减时间由共同签名者决定，这里只保留金额区间与截止时间
func NewDutchV2Quote(req *DutchV2Request, inner *DutchQuote, nowUnix int64) *DutchV2Quote {
	converted := *inner
	converted.DecayStartTime = 0
	converted.DecayEndTime = 0
	converted.Deadline = nowUnix + int64(req.Config.DeadlineBufferSecs)
	if converted.Swapper == "" {
		converted.Swapper = req.Config.Swapper
	}
	return &DutchV2Quote{
		Request:  req,
		Inner:    &converted,
		Deadline: converted.Deadline,
	}
}

// RelayQuote 中继报价，gas费以gasToken支付并随时间递增
type RelayQuote struct {
	Request        *RelayRequest
	QuoteID        string
	ClassicQuoteID string
	AmountIn       *uint256.Int
	AmountOut      *uint256.Int
	GasToken       string
	FeeAmountStart *uint256.Int
	FeeAmountEnd   *uint256.Int
	Approved       bool // 请求方是否已向Permit2授权
	DecayStartTime int64
	DecayEndTime   int64
	Deadline       int64
}

func (q *RelayQuote) RoutingType() RoutingType   { return RoutingRelay }
func (q *RelayQuote) GetRequest() Request        { return q.Request }
func (q *RelayQuote) GetQuoteID() string         { return q.QuoteID }
func (q *RelayQuote) GetAmountIn() *uint256.Int  { return q.AmountIn }
func (q *RelayQuote) GetAmountOut() *uint256.Int { return q.AmountOut }
func (q *RelayQuote) isQuote()                   {}

// Validate 校验手续费递增区间
func (q *RelayQuote) Validate() error {
	if q.AmountIn == nil || q.AmountOut == nil || q.FeeAmountStart == nil || q.FeeAmountEnd == nil {
		return errors.New("中继报价金额不完整")
	}
	if q.FeeAmountStart.Gt(q.FeeAmountEnd) {
		return fmt.Errorf("手续费区间倒置: start=%s end=%s", q.FeeAmountStart.Dec(), q.FeeAmountEnd.Dec())
	}
	if q.DecayEndTime < q.DecayStartTime {
		return fmt.Errorf("衰减时间倒置: start=%d end=%d", q.DecayStartTime, q.DecayEndTime)
	}
	return nil
}

// ResolvedAmount 报价的比较金额
// EXACT_INPUT 为输出数量，EXACT_OUTPUT 为输入数量
func ResolvedAmount(q Quote) *uint256.Int {
	if q.GetRequest().Info().Type == ExactInput {
		return q.GetAmountOut()
	}
	return q.GetAmountIn()
}
