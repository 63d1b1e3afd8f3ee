package chain

import (
	"fmt"
	"math/big"
	"strings"

	"PoolBet/internal/model"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// 下注池合约最小 ABI：下注入口、奖池读取
const poolABI = `[
	{"name":"placeBet","type":"function","stateMutability":"payable","inputs":[
		{"name":"marketId","type":"uint256"},
		{"name":"prediction","type":"bool"}
	],"outputs":[]},
	{"name":"getMarketPools","type":"function","stateMutability":"view","inputs":[
		{"name":"marketId","type":"uint256"}
	],"outputs":[
		{"name":"yesPool","type":"uint256"},
		{"name":"noPool","type":"uint256"}
	]}
]`

var (
	// BetPlaced(uint256 indexed marketId, address user, bool prediction, uint256 amount)
	SigBetPlaced = crypto.Keccak256Hash([]byte("BetPlaced(uint256,address,bool,uint256)"))
	// MarketResolved(uint256 indexed marketId, bool result)
	SigMarketResolved = crypto.Keccak256Hash([]byte("MarketResolved(uint256,bool)"))

	parsedPoolABI = mustParseABI(poolABI)
)

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(fmt.Sprintf("parse pool abi: %v", err))
	}
	return parsed
}

// ParseMarketID 合约 marketId 为 uint256，链下以十进制字符串保存
func ParseMarketID(marketID string) (*big.Int, error) {
	id, ok := new(big.Int).SetString(strings.TrimSpace(marketID), 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("marketId 须为非负十进制整数: %q", marketID)
	}
	return id, nil
}

// PackPlaceBet 组装 placeBet(marketId, prediction) 调用数据
func PackPlaceBet(marketID string, prediction model.Prediction) ([]byte, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return nil, err
	}
	if !prediction.Valid() {
		return nil, fmt.Errorf("invalid prediction %q", prediction)
	}
	data, err := parsedPoolABI.Pack("placeBet", id, prediction == model.PredictionYes)
	if err != nil {
		return nil, fmt.Errorf("pack placeBet: %w", err)
	}
	return data, nil
}

// PackGetMarketPools 组装 getMarketPools(marketId) 调用数据
func PackGetMarketPools(marketID string) ([]byte, error) {
	id, err := ParseMarketID(marketID)
	if err != nil {
		return nil, err
	}
	return parsedPoolABI.Pack("getMarketPools", id)
}

// UnpackMarketPools 解析 getMarketPools 返回值
func UnpackMarketPools(res []byte) (yesPool, noPool *big.Int, err error) {
	out, err := parsedPoolABI.Unpack("getMarketPools", res)
	if err != nil {
		return nil, nil, fmt.Errorf("unpack getMarketPools: %w", err)
	}
	if len(out) != 2 {
		return nil, nil, fmt.Errorf("getMarketPools returned %d values", len(out))
	}
	yes, ok1 := out[0].(*big.Int)
	no, ok2 := out[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("getMarketPools unexpected types")
	}
	return yes, no, nil
}

// ParseMarketResolved topic1 = marketId；data = result(bool)
func ParseMarketResolved(l *types.Log) (marketID string, result model.Prediction, err error) {
	if len(l.Topics) < 2 || l.Topics[0] != SigMarketResolved {
		return "", "", fmt.Errorf("not a MarketResolved log")
	}
	if len(l.Data) < 32 {
		return "", "", fmt.Errorf("MarketResolved data too short")
	}
	return l.Topics[1].Big().String(), WordPrediction(l.Data[0:32]), nil
}

// WordPrediction ABI 编码的 bool 字：非零为 yes
func WordPrediction(word []byte) model.Prediction {
	if new(big.Int).SetBytes(word).Sign() != 0 {
		return model.PredictionYes
	}
	return model.PredictionNo
}

// MarketResolution 在回执中查找由 contract 发出、针对 marketID 的 MarketResolved 事件
func (r *Receipt) MarketResolution(contract, marketID string) (model.Prediction, bool) {
	if r == nil {
		return "", false
	}
	want := common.HexToAddress(contract)
	for _, l := range r.Logs {
		if l == nil || l.Removed || l.Address != want {
			continue
		}
		id, result, err := ParseMarketResolved(l)
		if err != nil || id != strings.TrimSpace(marketID) {
			continue
		}
		return result, true
	}
	return "", false
}
