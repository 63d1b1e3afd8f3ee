package listener

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"PoolBet/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"
)

// LogSubscriber *ethclient.Client 实现（需 ws 连接）
type LogSubscriber interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// ChainSubscriber 订阅下注池合约的 BetPlaced / MarketResolved 并回调 ContractListener
type ChainSubscriber struct {
	chainID  int64
	contract common.Address
	client   LogSubscriber
	listener *ContractListener
	logger   *logrus.Logger
}

// NewChainSubscriber 创建链上订阅器（需传入已连接的客户端，便于测试）
func NewChainSubscriber(chainID int64, contractAddress string, client LogSubscriber, listener *ContractListener, logger *logrus.Logger) (*ChainSubscriber, error) {
	if !chain.IsHexAddress(contractAddress) {
		return nil, fmt.Errorf("chain %d: contract_address 无效: %q", chainID, contractAddress)
	}
	return &ChainSubscriber{
		chainID:  chainID,
		contract: common.HexToAddress(contractAddress),
		client:   client,
		listener: listener,
		logger:   logger,
	}, nil
}

// Run 订阅直到 ctx 取消或订阅出错
func (s *ChainSubscriber) Run(ctx context.Context) error {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{s.contract},
		Topics:    [][]common.Hash{{chain.SigBetPlaced, chain.SigMarketResolved}},
	}
	ch := make(chan types.Log)
	sub, err := s.client.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		return fmt.Errorf("SubscribeFilterLogs: %w", err)
	}
	defer sub.Unsubscribe()
	s.logger.WithField("chain_id", s.chainID).WithField("contract", s.contract.Hex()).Info("ChainSubscriber started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			s.logger.WithError(err).Error("ChainSubscriber subscription error")
			return err
		case vLog := <-ch:
			if err := s.handleLog(ctx, vLog); err != nil {
				s.logger.WithError(err).WithField("tx_hash", vLog.TxHash.Hex()).Warn("handleLog failed")
			}
		}
	}
}

// Loop 订阅断开后按退避重连
func (s *ChainSubscriber) Loop(ctx context.Context) {
	wait := time.Second
	for {
		err := s.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errors.New("subscription closed")
		}
		s.logger.WithError(err).WithField("retry_in", wait).Warn("ChainSubscriber 断开，稍后重连")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if wait < time.Minute {
			wait *= 2
		}
	}
}

func (s *ChainSubscriber) handleLog(ctx context.Context, vLog types.Log) error {
	if vLog.Removed || vLog.Address != s.contract || len(vLog.Topics) == 0 {
		return nil
	}
	switch vLog.Topics[0] {
	case chain.SigBetPlaced:
		ev, err := parseBetPlaced(vLog)
		if err != nil {
			return err
		}
		return s.listener.OnBetPlaced(ctx, ev)
	case chain.SigMarketResolved:
		ev, err := parseMarketResolved(s.chainID, vLog)
		if err != nil {
			return err
		}
		return s.listener.OnMarketResolved(ctx, ev)
	default:
		return nil
	}
}

// parseBetPlaced topic1 = marketId；data = user(address) + prediction(bool) + amount(uint256)
func parseBetPlaced(vLog types.Log) (*BetPlacedEvent, error) {
	if len(vLog.Topics) < 2 {
		return nil, fmt.Errorf("BetPlaced missing topic marketId")
	}
	if len(vLog.Data) < 96 {
		return nil, fmt.Errorf("BetPlaced data too short")
	}
	return &BetPlacedEvent{
		MarketID:    vLog.Topics[1].Big().String(),
		User:        chain.NormalizeAddress(common.BytesToAddress(vLog.Data[12:32]).Hex()),
		Prediction:  chain.WordPrediction(vLog.Data[32:64]),
		Amount:      new(big.Int).SetBytes(vLog.Data[64:96]),
		TxHash:      chain.NormalizeHash(vLog.TxHash.Hex()),
		BlockNumber: vLog.BlockNumber,
	}, nil
}

func parseMarketResolved(chainID int64, vLog types.Log) (*MarketResolvedEvent, error) {
	id, result, err := chain.ParseMarketResolved(&vLog)
	if err != nil {
		return nil, err
	}
	return &MarketResolvedEvent{
		ChainID:     chainID,
		MarketID:    id,
		Result:      result,
		TxHash:      chain.NormalizeHash(vLog.TxHash.Hex()),
		BlockNumber: vLog.BlockNumber,
	}, nil
}
