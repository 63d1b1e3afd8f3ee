package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PoolBet/internal/outbox"

	"github.com/spf13/cobra"
)

var (
	// outbox run 标志
	outboxInterval time.Duration
)

// outboxCmd 本地补偿队列
var outboxCmd = &cobra.Command{
	Use:   "outbox",
	Short: "outbox 管理",
	Long:  "查看、投递链上已成功但未写入记录服务的条目，以及核对回执超时的交易",
}

// outboxListCmd 列出待投递与 dead 条目
var outboxListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出条目",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := outbox.Open(cfg.Client.OutboxDir, logger)
		if err != nil {
			return err
		}
		defer store.Close()

		out := cmd.OutOrStdout()
		pending, err := store.Pending()
		if err != nil {
			return err
		}
		dead, err := store.Dead()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "pending: %d\n", len(pending))
		printEntries(cmd, pending)
		fmt.Fprintf(out, "dead: %d\n", len(dead))
		printEntries(cmd, dead)
		return nil
	},
}

// outboxDrainCmd 投递一次
var outboxDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "投递所有到期条目一次",
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := newEnv(cmd.Context(), nil)
		if err != nil {
			return err
		}
		defer e.Close()
		delivered, failed, err := e.store.Drain(cmd.Context(), e.coord.HandleOutbox)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "delivered=%d failed=%d\n", delivered, failed)
		return nil
	},
}

// outboxRunCmd 常驻投递
var outboxRunCmd = &cobra.Command{
	Use:   "run",
	Short: "按间隔持续投递，直到中断",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		e, err := newEnv(ctx, nil)
		if err != nil {
			return err
		}
		defer e.Close()
		e.store.Run(ctx, outboxInterval, e.coord.HandleOutbox)
		return nil
	},
}

func printEntries(cmd *cobra.Command, entries []*outbox.Entry) {
	for _, e := range entries {
		fmt.Fprintf(cmd.OutOrStdout(), "  %s %-15s attempts=%d next=%s %s\n",
			e.ID, e.Kind, e.Attempts, e.NextAttempt.Format(time.RFC3339), e.LastError)
	}
}

func init() {
	outboxRunCmd.Flags().DurationVar(&outboxInterval, "interval", 30*time.Second, "投递间隔")
	outboxCmd.AddCommand(outboxListCmd, outboxDrainCmd, outboxRunCmd)
}
