package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"PoolBet/internal/chain"
	"PoolBet/internal/config"
	"PoolBet/internal/recordclient"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	refundLimit int
	refundBetID string
	refundAll   bool
)

// refundCmd 托管方退税
var refundCmd = &cobra.Command{
	Use:   "refund",
	Short: "待退款记录与退税（托管方私钥）",
}

var refundListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出待退款记录",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cc, ok := cfg.Chain(cfg.Client.ChainID)
		if !ok {
			return fmt.Errorf("client.chain_id %d 未在 chains 中配置", cfg.Client.ChainID)
		}
		client, err := recordclient.New(cfg.Client, logger)
		if err != nil {
			return err
		}
		list, err := client.ListRefunds(cmd.Context(), cc.EscrowAddress, refundLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCHAIN\tUSER\tMARKET\tREFUND\tTAX_TX")
		for _, r := range list {
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n",
				r.ID, r.ChainID, r.UserAddress, r.MarketID, formatRefund(r.RefundAmount), r.TransactionHash)
		}
		return w.Flush()
	},
}

var refundPayCmd = &cobra.Command{
	Use:   "pay",
	Short: "从托管地址退回税费并登记",
	RunE: func(cmd *cobra.Command, args []string) error {
		if refundBetID == "" && !refundAll {
			return fmt.Errorf("需指定 --bet 或 --all")
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cc, ok := cfg.Chain(cfg.Client.ChainID)
		if !ok {
			return fmt.Errorf("client.chain_id %d 未在 chains 中配置", cfg.Client.ChainID)
		}
		if cfg.Client.PrivateKey == "" {
			return fmt.Errorf("未配置私钥（client.private_key 或 CLIENT_PRIVATE_KEY）")
		}
		ctx := cmd.Context()
		wallet, err := chain.NewWallet(ctx, cc.RPCURL, cfg.Client.PrivateKey)
		if err != nil {
			return err
		}
		defer wallet.Close()
		if chain.NormalizeAddress(wallet.Address()) != chain.NormalizeAddress(cc.EscrowAddress) {
			return fmt.Errorf("私钥地址 %s 不是托管地址 %s", wallet.Address(), cc.EscrowAddress)
		}
		client, err := recordclient.New(cfg.Client, logger)
		if err != nil {
			return err
		}
		list, err := client.ListRefunds(ctx, wallet.Address(), 0)
		if err != nil {
			return err
		}

		paid := 0
		for _, r := range list {
			if r.ChainID != cfg.Client.ChainID || (!refundAll && r.ID != refundBetID) {
				continue
			}
			hash, err := payRefund(ctx, cfg.Settlement, wallet, client, r, logger)
			if err != nil {
				return fmt.Errorf("退款 %s: %w", r.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", r.ID, formatRefund(r.RefundAmount), hash)
			paid++
		}
		if paid == 0 && !refundAll {
			return fmt.Errorf("未找到待退款记录 %s", refundBetID)
		}
		return nil
	},
}

// payRefund 转账后等待确认，再向记录服务登记退款交易
func payRefund(ctx context.Context, st config.SettlementConfig, wallet *chain.Wallet, client *recordclient.Client, r recordclient.PendingRefund, logger *logrus.Logger) (string, error) {
	if r.RefundAmount == "" {
		return "", fmt.Errorf("税费交易未入审计日志，无法确定金额")
	}
	amount, err := chain.ParseWei(r.RefundAmount)
	if err != nil {
		return "", err
	}
	hash, err := wallet.Submit(ctx, r.UserAddress, amount, nil)
	if err != nil {
		return "", err
	}
	log := logger.WithFields(logrus.Fields{"bet_id": r.ID, "user": r.UserAddress, "tx_hash": hash})
	log.Info("退税交易已提交")

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), confirmTimeout(st))
	defer cancel()
	rc, err := wallet.WaitForReceipt(waitCtx, hash, st.PollInterval)
	if err != nil {
		log.WithError(err).Error("退税交易未确认，确认后用同一哈希重新登记")
		return hash, err
	}
	if !rc.Succeeded() {
		return hash, fmt.Errorf("退税交易 %s 链上失败", hash)
	}
	if _, err := client.CompleteRefund(context.WithoutCancel(ctx), wallet.Address(), r.ID, hash); err != nil {
		log.WithError(err).Error("退税已到账但登记失败")
		return hash, err
	}
	return hash, nil
}

func confirmTimeout(st config.SettlementConfig) time.Duration {
	if st.ConfirmTimeout > 0 {
		return st.ConfirmTimeout
	}
	return 3 * time.Minute
}

func formatRefund(wei string) string {
	v, err := chain.ParseWei(wei)
	if err != nil {
		return "-"
	}
	return chain.FormatUnits(v, chain.EtherDecimals)
}

func init() {
	refundListCmd.Flags().IntVar(&refundLimit, "limit", 0, "最多条数")
	refundPayCmd.Flags().StringVar(&refundBetID, "bet", "", "待退款记录 id")
	refundPayCmd.Flags().BoolVar(&refundAll, "all", false, "退回当前链全部待退款记录")
	refundCmd.AddCommand(refundListCmd, refundPayCmd)
}
