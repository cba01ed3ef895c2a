package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"defi-aggregator/quote-router/internal/types"

	"github.com/ethereum/go-ethereum/common"
	"github.com/imkira/go-ttlmap"
	"github.com/sirupsen/logrus"
)

// NativeTokenAddress 原生代币的占位地址
const NativeTokenAddress = "0x0000000000000000000000000000000000000000"

// TokenResolver 代币符号解析
type TokenResolver interface {
	ResolveTokenAddress(ctx context.Context, chainID uint64, symbolOrAddress string) (string, error)
}

// 各链常用代币，键为大写符号
var defaultTokenLists = map[uint64]map[string]string{
	1: {
		"WETH": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
		"USDC": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		"USDT": "0xdac17f958d2ee523a2206206994597c13d831ec7",
		"DAI":  "0x6b175474e89094c44da98b954eedeac495271d0f",
		"WBTC": "0x2260fac5e5542a773aa44fbcfedf7c193bc2c599",
		"UNI":  "0x1f9840a85d5af5bf1d1762f925bdaddc4201f984",
	},
	10: {
		"WETH": "0x4200000000000000000000000000000000000006",
		"USDC": "0x0b2c639c533813f4aa9d7837caf62653d097ff85",
	},
	137: {
		"WMATIC": "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270",
		"WETH":   "0x7ceb23fd6bc0add59e62ac25578270cff1b9f619",
		"USDC":   "0x3c499c542cef5e3811e1192ce70d8cc03d5c3359",
	},
	8453: {
		"WETH": "0x4200000000000000000000000000000000000006",
		"USDC": "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913",
	},
	42161: {
		"WETH": "0x82af49447d8a07e3bd95bd0d56f35241523fbab1",
		"USDC": "0xaf88d065e77c8cc2239327c5edb3a432268e5831",
	},
}

// 各链原生代币符号
var nativeSymbols = map[uint64][]string{
	1:     {"ETH"},
	10:    {"ETH"},
	137:   {"MATIC", "POL"},
	8453:  {"ETH"},
	42161: {"ETH"},
}

// 各链包装原生代币
var wrappedNative = map[uint64]string{
	1:     "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2",
	10:    "0x4200000000000000000000000000000000000006",
	137:   "0x0d500b1d8e8ef31e21c99d1db9a6444d3adf1270",
	8453:  "0x4200000000000000000000000000000000000006",
	42161: "0x82af49447d8a07e3bd95bd0d56f35241523fbab1",
}

// WrappedNativeAddress 链上的包装原生代币地址
func WrappedNativeAddress(chainID uint64) (string, bool) {
	addr, ok := wrappedNative[chainID]
	return addr, ok
}

// StaticTokenResolver 基于静态代币表的解析，结果按TTL缓存
type StaticTokenResolver struct {
	lists  map[uint64]map[string]string
	memo   *ttlmap.Map
	ttl    time.Duration
	logger *logrus.Logger
}

// NewStaticTokenResolver 创建代币解析器
func NewStaticTokenResolver(ttl time.Duration, logger *logrus.Logger) *StaticTokenResolver {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &StaticTokenResolver{
		lists:  defaultTokenLists,
		memo:   ttlmap.New(&ttlmap.Options{InitialCapacity: 64}),
		ttl:    ttl,
		logger: logger,
	}
}

// ResolveTokenAddress 解析符号或地址
// 地址直接规范化返回；原生代币符号解析为零地址；未知符号返回校验错误
func (r *StaticTokenResolver) ResolveTokenAddress(_ context.Context, chainID uint64, symbolOrAddress string) (string, error) {
	raw := strings.TrimSpace(symbolOrAddress)
	if common.IsHexAddress(raw) {
		return types.NormalizeAddress(raw), nil
	}

	symbol := strings.ToUpper(raw)
	memoKey := fmt.Sprintf("%d:%s", chainID, symbol)
	if item, err := r.memo.Get(memoKey); err == nil {
		if addr, ok := item.Value().(string); ok {
			return addr, nil
		}
	}

	addr, ok := r.lookup(chainID, symbol)
	if !ok {
		return "", types.NewValidationError(fmt.Sprintf("无法解析代币: chain=%d token=%s", chainID, symbolOrAddress))
	}

	if err := r.memo.Set(memoKey, ttlmap.NewItem(addr, ttlmap.WithTTL(r.ttl)), nil); err != nil {
		r.logger.Debugf("代币解析缓存写入失败: %v", err)
	}
	return addr, nil
}

func (r *StaticTokenResolver) lookup(chainID uint64, symbol string) (string, bool) {
	for _, native := range nativeSymbols[chainID] {
		if native == symbol {
			return NativeTokenAddress, true
		}
	}
	addr, ok := r.lists[chainID][symbol]
	return addr, ok
}

// Close 释放缓存
func (r *StaticTokenResolver) Close() {
	r.memo.Drain()
}
