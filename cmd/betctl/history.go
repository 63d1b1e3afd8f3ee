package main

import (
	"fmt"
	"text/tabwriter"

	"PoolBet/internal/chain"
	"PoolBet/internal/recordclient"

	"github.com/spf13/cobra"
)

var historyAddress string

// historyCmd 查询下注历史
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "查询下注历史",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !chain.IsHexAddress(historyAddress) {
			return fmt.Errorf("--address 须为 0x + 40 位十六进制地址")
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := recordclient.New(cfg.Client, logger)
		if err != nil {
			return err
		}
		bets, err := client.ListBets(cmd.Context(), historyAddress)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TIME\tMARKET\tPREDICTION\tAMOUNT\tTAX\tCLAIMED\tTX")
		for _, b := range bets {
			amount, err := chain.ParseWei(b.Amount)
			if err != nil {
				amount = nil
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\t%s\n",
				b.Timestamp.Format("2006-01-02 15:04:05"), b.MarketID, b.Prediction,
				chain.FormatUnits(amount, chain.EtherDecimals), b.TaxStatus, b.Claimed, b.TransactionHash)
		}
		return w.Flush()
	},
}

func init() {
	historyCmd.Flags().StringVar(&historyAddress, "address", "", "钱包地址")
}
