// trade-report prints recent trades and today's totals from the trade log.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/you/flash-arb/internal/bot"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/tradelog"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	limit := flag.Int("n", 20, "number of recent trades to show")
	flag.Parse()

	logger, err := bot.NewLogger()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	if cfg.Redis.Addr == "" {
		fmt.Fprintln(os.Stderr, "no redis configured; trade history lives only in the local file")
		os.Exit(1)
	}

	trades := tradelog.New(cfg, logger)
	defer trades.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	day, err := trades.Today(ctx)
	if err != nil {
		logger.Fatal("daily stats unavailable", zap.Error(err))
	}

	header := color.New(color.FgCyan, color.Bold)
	good := color.New(color.FgGreen)
	bad := color.New(color.FgRed)

	header.Printf("today: %d trades (%d ok)  ", day.Trades, day.Successes)
	if day.NetUSD >= 0 {
		good.Printf("net +$%.2f\n", day.NetUSD)
	} else {
		bad.Printf("net -$%.2f\n", -day.NetUSD)
	}

	recent, err := trades.Recent(ctx, *limit)
	if err != nil {
		logger.Fatal("trade history unavailable", zap.Error(err))
	}
	for _, e := range recent {
		mark := good.Sprint("✔")
		if !e.Success {
			mark = bad.Sprint("✘")
		}
		fmt.Printf("%s %s  %-10s %-14s %6.2f ETH  $%8.2f  %s\n",
			mark, e.Timestamp.Format("2006-01-02 15:04:05"),
			e.Pair, e.Direction, e.BorrowETH, e.ActualUSD, e.TxHash)
		if e.Error != "" {
			fmt.Printf("    %s\n", e.Error)
		}
	}
}
