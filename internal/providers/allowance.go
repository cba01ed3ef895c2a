// Package providers 报价解析依赖的外部查询
// 包括链上授权额度、手续费分成与代币地址解析
package providers

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"
	"github.com/sirupsen/logrus"
)

// Permit2Address Permit2合约地址(所有链相同)
const Permit2Address = "0x000000000022d473030f116ddee9f6b43ac78ba3"

const erc20AllowanceABI = `[
  {"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"address","name":"spender","type":"address"}],"name":"allowance","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

// AllowanceProvider 授权额度查询
type AllowanceProvider interface {
	// GetAllowance 查询owner对spender的授权额度，查询失败返回 (nil, false)
	GetAllowance(ctx context.Context, chainID uint64, owner, token, spender string) (*uint256.Int, bool)
}

// ContractCaller 只读合约调用
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// OnChainAllowanceProvider 通过RPC读取ERC20授权额度
type OnChainAllowanceProvider struct {
	callers  map[uint64]ContractCaller
	clients  []*ethclient.Client
	erc20ABI abi.ABI
	timeout  time.Duration
	logger   *logrus.Logger
}

// NewOnChainAllowanceProvider 为每条配置了RPC的链建立连接
func NewOnChainAllowanceProvider(rpcURLs map[uint64]string, timeout time.Duration, logger *logrus.Logger) (*OnChainAllowanceProvider, error) {
	callers := make(map[uint64]ContractCaller, len(rpcURLs))
	clients := make([]*ethclient.Client, 0, len(rpcURLs))
	for chainID, rpcURL := range rpcURLs {
		client, err := ethclient.Dial(rpcURL)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, fmt.Errorf("连接链 %d RPC失败: %w", chainID, err)
		}
		callers[chainID] = client
		clients = append(clients, client)
		logger.Infof("✅ 链 %d RPC已连接", chainID)
	}

	provider, err := NewOnChainAllowanceProviderWithCallers(callers, timeout, logger)
	if err != nil {
		return nil, err
	}
	provider.clients = clients
	return provider, nil
}

// NewOnChainAllowanceProviderWithCallers 使用自定义调用方创建
func NewOnChainAllowanceProviderWithCallers(callers map[uint64]ContractCaller, timeout time.Duration, logger *logrus.Logger) (*OnChainAllowanceProvider, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20AllowanceABI))
	if err != nil {
		return nil, fmt.Errorf("解析ERC20 ABI失败: %w", err)
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &OnChainAllowanceProvider{
		callers:  callers,
		erc20ABI: parsed,
		timeout:  timeout,
		logger:   logger,
	}, nil
}

// GetAllowance 查询授权额度
// 原生代币无需授权，视为无限额度
func (p *OnChainAllowanceProvider) GetAllowance(ctx context.Context, chainID uint64, owner, token, spender string) (*uint256.Int, bool) {
	if common.HexToAddress(token) == (common.Address{}) {
		return new(uint256.Int).SetAllOne(), true
	}

	caller, ok := p.callers[chainID]
	if !ok {
		p.logger.Debugf("链 %d 未配置RPC，跳过授权查询", chainID)
		return nil, false
	}

	input, err := p.erc20ABI.Pack("allowance", common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		p.logger.Warnf("编码allowance调用失败: %v", err)
		return nil, false
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	tokenAddr := common.HexToAddress(token)
	raw, err := caller.CallContract(callCtx, ethereum.CallMsg{To: &tokenAddr, Data: input}, nil)
	if err != nil {
		p.logger.Warnf("⚠️ 授权查询失败: chain=%d token=%s owner=%s err=%v", chainID, token, owner, err)
		return nil, false
	}

	outs, err := p.erc20ABI.Methods["allowance"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		p.logger.Warnf("⚠️ 授权结果解码失败: chain=%d token=%s err=%v", chainID, token, err)
		return nil, false
	}
	value, ok := outs[0].(*big.Int)
	if !ok {
		return nil, false
	}
	amount, overflow := uint256.FromBig(value)
	if overflow {
		return nil, false
	}
	return amount, true
}

// Close 关闭RPC连接
func (p *OnChainAllowanceProvider) Close() {
	for _, c := range p.clients {
		c.Close()
	}
}
