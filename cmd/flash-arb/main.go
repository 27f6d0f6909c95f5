package main

import (
	"context"
	"flag"
	"os"

	"github.com/you/flash-arb/internal/bot"
	"github.com/you/flash-arb/internal/config"
	"go.uber.org/zap"
)

func main() {
	cfgPath := flag.String("config", "./config.yaml", "path to config file")
	dryRun := flag.Bool("dry-run", false, "evaluate opportunities without sending transactions")
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
	if *dryRun {
		cfg.DryRun = true
	}

	b, err := bot.New(cfg, logger)
	if err != nil {
		logger.Error("initialization failed", zap.Error(err))
		os.Exit(1)
	}

	if err := b.Run(context.Background()); err != nil {
		logger.Error("bot exited with error", zap.Error(err))
		os.Exit(1)
	}
}
