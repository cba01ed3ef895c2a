package types

import (
	"github.com/holiman/uint256"
)

// BpsDenominator 基点分母
const BpsDenominator uint64 = 10000

// MaxUint256 2^256-1
func MaxUint256() *uint256.Int {
	return new(uint256.Int).SetAllOne()
}

// HalfMaxUint256 (2^256-1)/2，用于无法预知数量时的授权判断
func HalfMaxUint256() *uint256.Int {
	return new(uint256.Int).Rsh(MaxUint256(), 1)
}

// AbsDiff |a-b|
func AbsDiff(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Sub(b, a)
	}
	return new(uint256.Int).Sub(a, b)
}

// MulBps 计算 x*bps/10000，中间结果使用512位避免溢出
// 结果超过256位时返回最大值
func MulBps(x *uint256.Int, bps uint64) *uint256.Int {
	result, overflow := new(uint256.Int).MulDivOverflow(x, uint256.NewInt(bps), uint256.NewInt(BpsDenominator))
	if overflow {
		return MaxUint256()
	}
	return result
}

// RatioBps 计算 part/whole 的基点值(向下取整)
// whole为0或结果溢出时返回ok=false
func RatioBps(part, whole *uint256.Int) (bps *uint256.Int, ok bool) {
	if whole == nil || whole.IsZero() {
		return nil, false
	}
	result, overflow := new(uint256.Int).MulDivOverflow(part, uint256.NewInt(BpsDenominator), whole)
	if overflow {
		return nil, false
	}
	return result, true
}

// IsZeroAmount nil或0
func IsZeroAmount(x *uint256.Int) bool {
	return x == nil || x.IsZero()
}
