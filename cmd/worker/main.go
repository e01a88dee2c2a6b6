package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/db"
	"wekapay-settlement/pkg/logger"
	"wekapay-settlement/pkg/task"
	"wekapay-settlement/pkg/tokenwallet"
	"wekapay-settlement/services/wallet"
)

// The worker consumes queue tasks only; it shares the database but exposes
// no HTTP surface.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(provideSnowflakeNode),
		tokenwallet.Module,
		wallet.Worker,
		task.Server,
		fx.Invoke(migrate),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Server.NodeID)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(&wallet.WalletMapping{})
}
