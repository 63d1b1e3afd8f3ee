// Package payout 按奖池比例计算派彩。纯函数，全程整数运算。
package payout

import (
	"errors"
	"fmt"
	"math/big"

	"PoolBet/internal/model"
)

// ErrUnresolved 盘口尚未出结果，派彩无定义（不能当作 0）
var ErrUnresolved = errors.New("market not resolved")

// Input 计算所需的最小输入
type Input struct {
	Prediction      model.Prediction
	Amount          *big.Int // 下注金额（wei）
	Result          *model.Prediction
	YesPool         *big.Int
	NoPool          *big.Int
	TotalPool       *big.Int // nil 时取 YesPool+NoPool
	TotalFeePercent int64
}

// Result 派彩结果。ZeroWinningPool 表示获胜方奖池为 0 导致派彩被置 0，属于异常盘口状态。
type Result struct {
	Payout          *big.Int
	Won             bool
	ZeroWinningPool bool
}

// Calculate userBetInPool = amount*(100-fee)/100；猜错为 0；获胜方奖池或总奖池为 0 时为 0 并打标。
func Calculate(in Input) (Result, error) {
	if in.Result == nil {
		return Result{}, ErrUnresolved
	}
	if in.Amount == nil || in.Amount.Sign() < 0 {
		return Result{}, fmt.Errorf("invalid bet amount")
	}
	if in.TotalFeePercent < 0 || in.TotalFeePercent > 100 {
		return Result{}, fmt.Errorf("invalid fee percent %d", in.TotalFeePercent)
	}

	if in.Prediction != *in.Result {
		return Result{Payout: new(big.Int)}, nil
	}

	yes, no := orZero(in.YesPool), orZero(in.NoPool)
	total := in.TotalPool
	if total == nil {
		total = new(big.Int).Add(yes, no)
	}
	winning := no
	if *in.Result == model.PredictionYes {
		winning = yes
	}
	if winning.Sign() == 0 || total.Sign() == 0 {
		return Result{Payout: new(big.Int), Won: true, ZeroWinningPool: true}, nil
	}

	inPool := new(big.Int).Mul(in.Amount, big.NewInt(100-in.TotalFeePercent))
	inPool.Quo(inPool, big.NewInt(100))

	payout := new(big.Int).Mul(inPool, total)
	payout.Quo(payout, winning)
	return Result{Payout: payout, Won: true}, nil
}

// ForBet 用库中的 Bet / Market 组装输入。TotalPool 为 0 时退回 yes+no。
func ForBet(bet *model.Bet, market *model.Market, feePercent int64) (Result, error) {
	if !market.Resolved() {
		return Result{}, ErrUnresolved
	}
	amount, err := parseAmount(bet.Amount)
	if err != nil {
		return Result{}, fmt.Errorf("bet %s amount: %w", bet.ID, err)
	}
	yes, err := parseAmount(market.YesPoolOnChain)
	if err != nil {
		return Result{}, fmt.Errorf("market %s yes pool: %w", market.ID, err)
	}
	no, err := parseAmount(market.NoPoolOnChain)
	if err != nil {
		return Result{}, fmt.Errorf("market %s no pool: %w", market.ID, err)
	}
	in := Input{
		Prediction:      bet.Prediction,
		Amount:          amount,
		Result:          market.Result,
		YesPool:         yes,
		NoPool:          no,
		TotalFeePercent: feePercent,
	}
	if total, err := parseAmount(market.TotalPool); err == nil && total.Sign() > 0 {
		in.TotalPool = total
	}
	return Calculate(in)
}

func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
