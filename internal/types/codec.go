package types

import (
	"encoding/json"
	"fmt"
)

// requestInfoJSON RequestInfo的JSON形式，金额使用十进制字符串
type requestInfoJSON struct {
	RequestID          string `json:"requestId"`
	TokenInChainID     uint64 `json:"tokenInChainId"`
	TokenOutChainID    uint64 `json:"tokenOutChainId"`
	TokenIn            string `json:"tokenIn"`
	TokenOut           string `json:"tokenOut"`
	Amount             string `json:"amount"`
	Type               string `json:"type"`
	SlippageTolerance  string `json:"slippageTolerance,omitempty"`
	Swapper            string `json:"swapper,omitempty"`
	SendPortionEnabled bool   `json:"sendPortionEnabled,omitempty"`
}

// MarshalJSON 实现json.Marshaler
func (i RequestInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(requestInfoJSON{
		RequestID:          i.RequestID,
		TokenInChainID:     i.TokenInChainID,
		TokenOutChainID:    i.TokenOutChainID,
		TokenIn:            i.TokenIn,
		TokenOut:           i.TokenOut,
		Amount:             AmountString(i.Amount),
		Type:               string(i.Type),
		SlippageTolerance:  i.SlippageTolerance,
		Swapper:            i.Swapper,
		SendPortionEnabled: i.SendPortionEnabled,
	})
}

// UnmarshalJSON 实现json.Unmarshaler，解析后执行与构造相同的校验
func (i *RequestInfo) UnmarshalJSON(data []byte) error {
	var raw requestInfoJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return NewValidationError(fmt.Sprintf("请求信息格式错误: %v", err))
	}

	tradeType, err := ParseTradeType(raw.Type)
	if err != nil {
		return err
	}
	amount, err := ParseAmount(raw.Amount)
	if err != nil {
		return err
	}

	info, err := NewRequestInfo(RequestInfo{
		RequestID:          raw.RequestID,
		TokenInChainID:     raw.TokenInChainID,
		TokenOutChainID:    raw.TokenOutChainID,
		TokenIn:            raw.TokenIn,
		TokenOut:           raw.TokenOut,
		Amount:             amount,
		Type:               tradeType,
		SlippageTolerance:  raw.SlippageTolerance,
		Swapper:            raw.Swapper,
		SendPortionEnabled: raw.SendPortionEnabled,
	})
	if err != nil {
		return err
	}
	*i = info
	return nil
}

// requestEnvelope 请求的带标签序列化形式
type requestEnvelope struct {
	RoutingType RoutingType     `json:"routingType"`
	Info        RequestInfo     `json:"info"`
	Config      json.RawMessage `json:"config"`
}

// MarshalRequest 序列化请求
func MarshalRequest(r Request) ([]byte, error) {
	var config interface{}
	switch req := r.(type) {
	case *ClassicRequest:
		config = req.Config
	case *DutchV1Request:
		config = req.Config
	case *DutchV2Request:
		config = req.Config
	case *RelayRequest:
		config = req.Config
	default:
		return nil, fmt.Errorf("未知的请求类型: %T", r)
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("序列化请求配置失败: %w", err)
	}
	return json.Marshal(requestEnvelope{
		RoutingType: r.RoutingType(),
		Info:        r.Info(),
		Config:      configJSON,
	})
}

// UnmarshalRequest 反序列化请求
func UnmarshalRequest(data []byte) (Request, error) {
	var envelope requestEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, err
	}
	return NewRequest(envelope.RoutingType, envelope.Info, envelope.Config)
}

// NewRequest 根据路由类型与原始配置构造请求
func NewRequest(routingType RoutingType, info RequestInfo, rawConfig json.RawMessage) (Request, error) {
	if len(rawConfig) == 0 {
		rawConfig = json.RawMessage("{}")
	}

	switch routingType {
	case RoutingClassic:
		var config ClassicConfig
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, NewValidationError(fmt.Sprintf("CLASSIC配置格式错误: %v", err))
		}
		return NewClassicRequest(info, config), nil
	case RoutingDutchV1:
		var config DutchV1Config
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, NewValidationError(fmt.Sprintf("DUTCH_V1配置格式错误: %v", err))
		}
		return NewDutchV1Request(info, config), nil
	case RoutingDutchV2:
		var config DutchV2Config
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, NewValidationError(fmt.Sprintf("DUTCH_V2配置格式错误: %v", err))
		}
		return NewDutchV2Request(info, config), nil
	case RoutingRelay:
		var config RelayConfig
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, NewValidationError(fmt.Sprintf("RELAY配置格式错误: %v", err))
		}
		return NewRelayRequest(info, config)
	default:
		return nil, NewValidationError(fmt.Sprintf("不支持的路由类型: %s", routingType))
	}
}
