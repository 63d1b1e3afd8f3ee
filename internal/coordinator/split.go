package coordinator

import (
	"math/big"
)

const bpsDenominator = 10000

// SplitAmount 按万分比拆分：tax = amount*bps/10000（向下取整），pool = amount - tax。
// tax + pool 恒等于 amount。
func SplitAmount(amount *big.Int, taxBps int64) (tax, pool *big.Int, err error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	if taxBps < 0 || taxBps >= bpsDenominator {
		return nil, nil, ErrInvalidTaxRate
	}
	tax = new(big.Int).Mul(amount, big.NewInt(taxBps))
	tax.Quo(tax, big.NewInt(bpsDenominator))
	pool = new(big.Int).Sub(amount, tax)
	return tax, pool, nil
}
