// Package types 定义报价路由服务中使用的所有数据类型
// 包含路由变体请求、报价、错误分类、配置等
// 请求与报价均为不可变值类型，构造完成后不再修改
package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ========================================
// 路由变体与交易方向
// ========================================

// RoutingType 路由变体
type RoutingType string

const (
	RoutingClassic RoutingType = "CLASSIC"  // 链上AMM路由
	RoutingDutchV1 RoutingType = "DUTCH_V1" // 第一代荷兰拍卖(RFQ)
	RoutingDutchV2 RoutingType = "DUTCH_V2" // 第二代荷兰拍卖
	RoutingRelay   RoutingType = "RELAY"    // Gas代付中继
)

// ParseRoutingType 解析路由变体字符串
func ParseRoutingType(raw string) (RoutingType, error) {
	switch RoutingType(strings.ToUpper(raw)) {
	case RoutingClassic:
		return RoutingClassic, nil
	case RoutingDutchV1, "DUTCH_LIMIT":
		return RoutingDutchV1, nil
	case RoutingDutchV2:
		return RoutingDutchV2, nil
	case RoutingRelay:
		return RoutingRelay, nil
	default:
		return "", NewValidationError(fmt.Sprintf("不支持的路由类型: %s", raw))
	}
}

// IsAuction 是否为拍卖类(可衰减)报价
func (r RoutingType) IsAuction() bool {
	return r == RoutingDutchV1 || r == RoutingDutchV2 || r == RoutingRelay
}

// TradeType 交易方向
type TradeType string

const (
	ExactInput  TradeType = "EXACT_INPUT"  // 固定输入数量
	ExactOutput TradeType = "EXACT_OUTPUT" // 固定输出数量
)

// ParseTradeType 解析交易方向
// 只接受 EXACT_INPUT, EXACT_OUTPUT, exactIn, exactOut
func ParseTradeType(raw string) (TradeType, error) {
	switch raw {
	case "EXACT_INPUT", "exactIn":
		return ExactInput, nil
	case "EXACT_OUTPUT", "exactOut":
		return ExactOutput, nil
	default:
		return "", NewValidationError(fmt.Sprintf("无效的交易方向: %q", raw))
	}
}

// ========================================
// 请求公共信息
// ========================================

// RequestInfo 请求公共信息
// 所有路由变体共享，构造后不可修改；派生请求总是复制而不是修改
type RequestInfo struct {
	RequestID          string       // 请求ID(不参与去重)
	TokenInChainID     uint64       // 输入代币所在链
	TokenOutChainID    uint64       // 输出代币所在链
	TokenIn            string       // 输入代币地址(小写)
	TokenOut           string       // 输出代币地址(小写)
	Amount             *uint256.Int // 数量(最小单位)
	Type               TradeType    // 交易方向
	SlippageTolerance  string       // 滑点容忍度百分比，例如"0.5"(可选，不参与去重)
	Swapper            string       // 请求方地址(可选，小写)
	SendPortionEnabled bool         // 是否允许收取分成
}

// NewRequestInfo 校验并构造请求信息
// 代币地址需已完成符号解析
func NewRequestInfo(info RequestInfo) (RequestInfo, error) {
	if info.TokenInChainID == 0 || info.TokenOutChainID == 0 {
		return RequestInfo{}, NewValidationError("链ID不能为空")
	}
	if !common.IsHexAddress(info.TokenIn) || !common.IsHexAddress(info.TokenOut) {
		return RequestInfo{}, NewValidationError(fmt.Sprintf("无效的代币地址: %s -> %s", info.TokenIn, info.TokenOut))
	}
	if info.Amount == nil || info.Amount.IsZero() {
		return RequestInfo{}, NewValidationError("数量必须大于0")
	}
	if info.Type != ExactInput && info.Type != ExactOutput {
		return RequestInfo{}, NewValidationError(fmt.Sprintf("无效的交易方向: %q", info.Type))
	}
	if info.Swapper != "" && !common.IsHexAddress(info.Swapper) {
		return RequestInfo{}, NewValidationError(fmt.Sprintf("无效的请求方地址: %s", info.Swapper))
	}
	if info.SlippageTolerance != "" {
		slippage, err := decimal.NewFromString(info.SlippageTolerance)
		if err != nil || slippage.IsNegative() || slippage.GreaterThan(decimal.NewFromInt(MaxSlippagePercent)) {
			return RequestInfo{}, NewValidationError(fmt.Sprintf("无效的滑点: %s", info.SlippageTolerance))
		}
	}

	info.TokenIn = NormalizeAddress(info.TokenIn)
	info.TokenOut = NormalizeAddress(info.TokenOut)
	info.Swapper = NormalizeAddress(info.Swapper)
	info.Amount = info.Amount.Clone()
	return info, nil
}

// SlippageBps 滑点转换为基点，未设置时返回默认值
func (i RequestInfo) SlippageBps(defaultBps uint64) uint64 {
	if i.SlippageTolerance == "" {
		return defaultBps
	}
	slippage, err := decimal.NewFromString(i.SlippageTolerance)
	if err != nil || slippage.IsNegative() {
		return defaultBps
	}
	// 百分比 -> 基点: 0.5% = 50bps
	return uint64(slippage.Mul(decimal.NewFromInt(100)).IntPart())
}

// NormalizeAddress 地址统一为小写，空字符串保持为空
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// ========================================
// 路由变体请求
// ========================================

// Request 路由变体请求(封闭接口)
// 具体类型: *ClassicRequest, *DutchV1Request, *DutchV2Request, *RelayRequest
type Request interface {
	RoutingType() RoutingType
	Info() RequestInfo
	// Key 去重键，相同的键代表可以合并为一次实际请求
	Key() string

	isRequest()
}

// ClassicConfig AMM路由配置
type ClassicConfig struct {
	Protocols                      []string `json:"protocols,omitempty"`
	GasPriceWei                    string   `json:"gasPriceWei,omitempty"`
	SimulateFromAddress            *string  `json:"simulateFromAddress,omitempty"`
	PermitSignature                string   `json:"permitSignature,omitempty"`
	PermitNonce                    string   `json:"permitNonce,omitempty"`
	PermitExpiration               string   `json:"permitExpiration,omitempty"`
	PermitAmount                   string   `json:"permitAmount,omitempty"`
	PermitSigDeadline              string   `json:"permitSigDeadline,omitempty"`
	EnableUniversalRouter          bool     `json:"enableUniversalRouter,omitempty"`
	Recipient                      *string  `json:"recipient,omitempty"`
	Algorithm                      string   `json:"algorithm,omitempty"`
	Deadline                       *int64   `json:"deadline,omitempty"`
	MinSplits                      int      `json:"minSplits,omitempty"`
	ForceCrossProtocol             bool     `json:"forceCrossProtocol,omitempty"`
	ForceMixedRoutes               bool     `json:"forceMixedRoutes,omitempty"`
	QuoteSpeed                     string   `json:"quoteSpeed,omitempty"`
	EnableFeeOnTransferFeeFetching bool     `json:"enableFeeOnTransferFeeFetching,omitempty"`
	GasToken                       *string  `json:"gasToken,omitempty"`
}

// DutchV1Config 第一代荷兰拍卖配置
type DutchV1Config struct {
	Swapper                string `json:"swapper,omitempty"`
	ExclusivityOverrideBps uint64 `json:"exclusivityOverrideBps,omitempty"`
	StartTimeBufferSecs    uint64 `json:"startTimeBufferSecs,omitempty"`
	AuctionPeriodSecs      uint64 `json:"auctionPeriodSecs,omitempty"`
	DeadlineBufferSecs     uint64 `json:"deadlineBufferSecs,omitempty"`
}

// DutchV2Config 第二代荷兰拍卖配置
type DutchV2Config struct {
	Swapper            string `json:"swapper,omitempty"`
	DeadlineBufferSecs uint64 `json:"deadlineBufferSecs,omitempty"`
}

// RelayConfig 中继配置
type RelayConfig struct {
	Swapper            string `json:"swapper,omitempty"`
	GasToken           string `json:"gasToken"`
	AuctionPeriodSecs  uint64 `json:"auctionPeriodSecs,omitempty"`
	DeadlineBufferSecs uint64 `json:"deadlineBufferSecs,omitempty"`
}

// 拍卖默认参数
const (
	DefaultExclusivityOverrideBps  uint64 = 100
	DefaultStartTimeBufferSecs     uint64 = 45
	DefaultAuctionPeriodSecs       uint64 = 60
	DefaultDeadlineBufferSecs      uint64 = 12
	DefaultV2DeadlineBufferSecs    uint64 = 60
	DefaultRelayAuctionPeriodSecs  uint64 = 60
	DefaultRelayDeadlineBufferSecs uint64 = 12

	MaxSlippagePercent = 20
)

// ClassicRequest AMM路由请求
type ClassicRequest struct {
	info   RequestInfo
	Config ClassicConfig
}

// NewClassicRequest 创建AMM路由请求
func NewClassicRequest(info RequestInfo, config ClassicConfig) *ClassicRequest {
	return &ClassicRequest{info: info, Config: config}
}

func (r *ClassicRequest) RoutingType() RoutingType { return RoutingClassic }
func (r *ClassicRequest) Info() RequestInfo        { return r.info }
func (r *ClassicRequest) Key() string              { return requestKey(r) }
func (r *ClassicRequest) isRequest()               {}

// DutchV1Request 第一代荷兰拍卖请求
type DutchV1Request struct {
	info   RequestInfo
	Config DutchV1Config
}

// NewDutchV1Request 创建荷兰拍卖请求，补齐默认拍卖参数
func NewDutchV1Request(info RequestInfo, config DutchV1Config) *DutchV1Request {
	if config.ExclusivityOverrideBps == 0 {
		config.ExclusivityOverrideBps = DefaultExclusivityOverrideBps
	}
	if config.StartTimeBufferSecs == 0 {
		config.StartTimeBufferSecs = DefaultStartTimeBufferSecs
	}
	if config.AuctionPeriodSecs == 0 {
		config.AuctionPeriodSecs = DefaultAuctionPeriodSecs
	}
	if config.DeadlineBufferSecs == 0 {
		config.DeadlineBufferSecs = DefaultDeadlineBufferSecs
	}
	if config.Swapper == "" {
		config.Swapper = info.Swapper
	}
	config.Swapper = NormalizeAddress(config.Swapper)
	return &DutchV1Request{info: info, Config: config}
}

func (r *DutchV1Request) RoutingType() RoutingType { return RoutingDutchV1 }
func (r *DutchV1Request) Info() RequestInfo        { return r.info }
func (r *DutchV1Request) Key() string              { return requestKey(r) }
func (r *DutchV1Request) isRequest()               {}

// DutchV2Request 第二代荷兰拍卖请求
type DutchV2Request struct {
	info   RequestInfo
	Config DutchV2Config
}

// NewDutchV2Request 创建第二代荷兰拍卖请求
func NewDutchV2Request(info RequestInfo, config DutchV2Config) *DutchV2Request {
	if config.DeadlineBufferSecs == 0 {
		config.DeadlineBufferSecs = DefaultV2DeadlineBufferSecs
	}
	if config.Swapper == "" {
		config.Swapper = info.Swapper
	}
	config.Swapper = NormalizeAddress(config.Swapper)
	return &DutchV2Request{info: info, Config: config}
}

func (r *DutchV2Request) RoutingType() RoutingType { return RoutingDutchV2 }
func (r *DutchV2Request) Info() RequestInfo        { return r.info }
func (r *DutchV2Request) Key() string              { return requestKey(r) }
func (r *DutchV2Request) isRequest()               {}

// ToDutchV1 转换为等价的第一代请求，拍卖参数使用默认值
func (r *DutchV2Request) ToDutchV1() *DutchV1Request {
	return NewDutchV1Request(r.info, DutchV1Config{
		Swapper:            r.Config.Swapper,
		DeadlineBufferSecs: r.Config.DeadlineBufferSecs,
	})
}

// RelayRequest 中继请求
type RelayRequest struct {
	info   RequestInfo
	Config RelayConfig
}

// NewRelayRequest 创建中继请求，gasToken为必填
func NewRelayRequest(info RequestInfo, config RelayConfig) (*RelayRequest, error) {
	if !common.IsHexAddress(config.GasToken) {
		return nil, NewValidationError(fmt.Sprintf("中继请求需要有效的gasToken: %q", config.GasToken))
	}
	if config.AuctionPeriodSecs == 0 {
		config.AuctionPeriodSecs = DefaultRelayAuctionPeriodSecs
	}
	if config.DeadlineBufferSecs == 0 {
		config.DeadlineBufferSecs = DefaultRelayDeadlineBufferSecs
	}
	if config.Swapper == "" {
		config.Swapper = info.Swapper
	}
	config.Swapper = NormalizeAddress(config.Swapper)
	config.GasToken = NormalizeAddress(config.GasToken)
	return &RelayRequest{info: info, Config: config}, nil
}

func (r *RelayRequest) RoutingType() RoutingType { return RoutingRelay }
func (r *RelayRequest) Info() RequestInfo        { return r.info }
func (r *RelayRequest) Key() string              { return requestKey(r) }
func (r *RelayRequest) isRequest()               {}

// ========================================
// 去重键与合并
// ========================================

// dedupKey 去重键的规范序列化结构，字段顺序固定
type dedupKey struct {
	RoutingType        RoutingType `json:"routingType"`
	TokenInChainID     uint64      `json:"tokenInChainId"`
	TokenOutChainID    uint64      `json:"tokenOutChainId"`
	TokenIn            string      `json:"tokenIn"`
	TokenOut           string      `json:"tokenOut"`
	Amount             string      `json:"amount"`
	Type               TradeType   `json:"type"`
	Swapper            string      `json:"swapper"`
	SendPortionEnabled bool        `json:"sendPortionEnabled"`
	GasToken           string      `json:"gasToken,omitempty"`
}

// requestKey 计算去重键
// 排除 requestId 与 slippageTolerance
// 携带gasToken的CLASSIC请求返回以gasToken计价的gas成本，单独成键
func requestKey(r Request) string {
	info := r.Info()
	key := dedupKey{
		RoutingType:        r.RoutingType(),
		TokenInChainID:     info.TokenInChainID,
		TokenOutChainID:    info.TokenOutChainID,
		TokenIn:            NormalizeAddress(info.TokenIn),
		TokenOut:           NormalizeAddress(info.TokenOut),
		Amount:             AmountString(info.Amount),
		Type:               info.Type,
		Swapper:            NormalizeAddress(info.Swapper),
		SendPortionEnabled: info.SendPortionEnabled,
	}
	if classic, ok := r.(*ClassicRequest); ok && classic.Config.GasToken != nil {
		key.GasToken = NormalizeAddress(*classic.Config.GasToken)
	}
	data, err := json.Marshal(key)
	if err != nil {
		// 纯值结构序列化不会失败
		panic(fmt.Sprintf("序列化去重键失败: %v", err))
	}
	return string(data)
}

// MergeRequests 将layer合并到base之上
// 只对同一路由变体有效；CLASSIC只补齐base未设置的 simulateFromAddress、deadline、recipient
// 其他变体直接返回base
func MergeRequests(base, layer Request) (Request, error) {
	if base.RoutingType() != layer.RoutingType() {
		return base, fmt.Errorf("无法合并不同路由类型的请求: %s 与 %s", base.RoutingType(), layer.RoutingType())
	}

	classicBase, ok := base.(*ClassicRequest)
	if !ok {
		return base, nil
	}
	classicLayer := layer.(*ClassicRequest)

	merged := classicBase.Config
	if merged.SimulateFromAddress == nil {
		merged.SimulateFromAddress = classicLayer.Config.SimulateFromAddress
	}
	if merged.Deadline == nil {
		merged.Deadline = classicLayer.Config.Deadline
	}
	if merged.Recipient == nil {
		merged.Recipient = classicLayer.Config.Recipient
	}
	return NewClassicRequest(classicBase.info, merged), nil
}

// ========================================
// 金额工具
// ========================================

// AmountString 金额的十进制表示，nil视为0
func AmountString(amount *uint256.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.Dec()
}

// ParseAmount 解析十进制金额字符串，拒绝负数与超过256位的值
func ParseAmount(raw string) (*uint256.Int, error) {
	amount, err := uint256.FromDecimal(strings.TrimSpace(raw))
	if err != nil {
		return nil, NewValidationError(fmt.Sprintf("无效的数量: %q", raw))
	}
	return amount, nil
}
