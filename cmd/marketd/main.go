package main

import (
	"github.com/mintweave/nft-market-engine/internal/config"
	"github.com/mintweave/nft-market-engine/internal/config/di"
	"go.uber.org/zap"
)

var container *di.Container

func main() {
	config.Init()

	var err error
	container, err = di.NewContainer()
	if err != nil {
		zap.L().With(zap.Error(err)).Fatal("Failed to build container")
	}
	defer container.Delete()

	if config.Get().WebhookUrl != "" {
		container.GetMessenger().Subscribe()
	}

	zap.L().With(
		zap.String("ledger", config.Get().Ledger.Account),
		zap.String("market", config.Get().Market.Account),
	).Info("Engine started")

	if err := container.GetApi().Start(); err != nil {
		zap.L().With(zap.Error(err)).Fatal("Failed to start API server")
	}
}
