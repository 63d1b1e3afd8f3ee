package main

import (
	"context"
	"fmt"
	"math/big"
	"os"

	"PoolBet/internal/chain"
	"PoolBet/internal/config"
	"PoolBet/internal/coordinator"
	"PoolBet/internal/logging"
	"PoolBet/internal/outbox"
	"PoolBet/internal/recordclient"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// 全局标志
	configDir string
	logLevel  string
)

// rootCmd betctl 根命令
var rootCmd = &cobra.Command{
	Use:           "betctl",
	Short:         "PoolBet 客户端",
	Long:          "两阶段下注（税费 + 奖池）、outbox 补偿、下注历史查询与托管方退税",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "./config", "config.yaml 所在目录")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "覆盖 log.level")
	rootCmd.AddCommand(placeCmd, splitCmd, historyCmd, outboxCmd, refundCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}

// env 一次命令执行所需的全部依赖
type env struct {
	cfg      *config.Config
	logger   *logrus.Logger
	wallet   *chain.Wallet
	store    *outbox.Store
	records  *recordclient.Client
	coord    *coordinator.Coordinator
	chainCfg config.ChainConfig
}

func loadConfig() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.LoadConfigFrom(configDir)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, logging.New(cfg.Log), nil
}

// newEnv 连接钱包、打开 outbox、构建协调器
func newEnv(ctx context.Context, onTransition func(string, coordinator.Transition)) (*env, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	cc, ok := cfg.Chain(cfg.Client.ChainID)
	if !ok {
		return nil, fmt.Errorf("client.chain_id %d 未在 chains 中配置", cfg.Client.ChainID)
	}
	if cfg.Client.PrivateKey == "" {
		return nil, fmt.Errorf("未配置私钥（client.private_key 或 CLIENT_PRIVATE_KEY）")
	}
	wallet, err := chain.NewWallet(ctx, cc.RPCURL, cfg.Client.PrivateKey)
	if err != nil {
		return nil, err
	}
	if wallet.ChainID() != cfg.Client.ChainID {
		wallet.Close()
		return nil, fmt.Errorf("钱包连接的链为 %d，配置为 %d", wallet.ChainID(), cfg.Client.ChainID)
	}
	records, err := recordclient.New(cfg.Client, logger)
	if err != nil {
		wallet.Close()
		return nil, err
	}
	store, err := outbox.Open(cfg.Client.OutboxDir, logger)
	if err != nil {
		wallet.Close()
		return nil, err
	}

	var minBet *big.Int
	if cfg.Settlement.MinBetWei != "" {
		if minBet, err = chain.ParseWei(cfg.Settlement.MinBetWei); err != nil {
			_ = store.Close()
			wallet.Close()
			return nil, err
		}
	}
	coord, err := coordinator.New(coordinator.Config{
		ContractAddress: cc.ContractAddress,
		EscrowAddress:   cc.EscrowAddress,
		TaxRateBps:      cfg.Settlement.TaxRateBps,
		MinBet:          minBet,
		ConfirmTimeout:  cfg.Settlement.ConfirmTimeout,
		PollInterval:    cfg.Settlement.PollInterval,
	}, coordinator.Deps{
		Ledger:       wallet,
		Recorder:     records,
		Outbox:       store,
		Logger:       logger,
		OnTransition: onTransition,
	})
	if err != nil {
		_ = store.Close()
		wallet.Close()
		return nil, err
	}
	return &env{
		cfg:      cfg,
		logger:   logger,
		wallet:   wallet,
		store:    store,
		records:  records,
		coord:    coord,
		chainCfg: cc,
	}, nil
}

func (e *env) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.WithError(err).Warn("关闭 outbox 失败")
	}
	e.wallet.Close()
}
