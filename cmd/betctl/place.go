package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PoolBet/internal/chain"
	"PoolBet/internal/coordinator"
	"PoolBet/internal/model"

	"github.com/spf13/cobra"
)

var (
	// place 标志
	placeMarket     string
	placePrediction string
	placeAmount     string
	placeIntent     string

	// split 标志
	splitAmount string
	splitBps    int64
)

// placeCmd 两阶段下注
var placeCmd = &cobra.Command{
	Use:   "place",
	Short: "下注",
	Long:  "先向托管地址转税费，确认后再向合约下注；下注失败自动登记退款",
	RunE: func(cmd *cobra.Command, args []string) error {
		if placeMarket == "" || placeAmount == "" {
			return fmt.Errorf("必须指定 --market 和 --amount")
		}
		amount, err := chain.ParseUnits(placeAmount, chain.EtherDecimals)
		if err != nil {
			return err
		}

		// Ctrl-C 只在税费交易提交前生效
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		e, err := newEnv(ctx, func(intentID string, t coordinator.Transition) {
			fmt.Fprintf(out, "[%s] %s -> %s\n", t.At.Format("15:04:05"), t.From, t.To)
		})
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := e.coord.NewSession().PlaceBet(ctx, coordinator.Request{
			IntentID:   placeIntent,
			MarketID:   placeMarket,
			Prediction: model.Prediction(placePrediction),
			Amount:     amount,
		})
		if res != nil {
			fmt.Fprintf(out, "结果: %s\n", res.Describe())
			fmt.Fprintf(out, "税费: %s  奖池: %s\n",
				chain.FormatUnits(res.TaxAmount, chain.EtherDecimals),
				chain.FormatUnits(res.PoolAmount, chain.EtherDecimals))
		}
		return err
	},
}

// splitCmd 只计算拆分，不发交易
var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "计算税费与奖池拆分",
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := chain.ParseUnits(splitAmount, chain.EtherDecimals)
		if err != nil {
			return err
		}
		bps := splitBps
		if bps < 0 {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			bps = cfg.Settlement.TaxRateBps
		}
		tax, pool, err := coordinator.SplitAmount(amount, bps)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tax=%s pool=%s (wei: %s / %s)\n",
			chain.FormatUnits(tax, chain.EtherDecimals),
			chain.FormatUnits(pool, chain.EtherDecimals),
			tax, pool)
		return nil
	},
}

func init() {
	placeCmd.Flags().StringVar(&placeMarket, "market", "", "合约 marketId（十进制）")
	placeCmd.Flags().StringVar(&placePrediction, "prediction", "yes", "yes 或 no")
	placeCmd.Flags().StringVar(&placeAmount, "amount", "", "下注总额（含税），单位为原生币，如 1.0")
	placeCmd.Flags().StringVar(&placeIntent, "intent", "", "意图 id，默认自动生成")

	splitCmd.Flags().StringVar(&splitAmount, "amount", "1", "下注总额（含税）")
	splitCmd.Flags().Int64Var(&splitBps, "bps", -1, "税率（万分比），默认读取配置")
}
