package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/db"
	"wekapay-settlement/pkg/health"
	"wekapay-settlement/pkg/logger"
	"wekapay-settlement/pkg/momo"
	"wekapay-settlement/pkg/redis"
	"wekapay-settlement/pkg/server"
	"wekapay-settlement/pkg/task"
	"wekapay-settlement/pkg/tokenwallet"
	"wekapay-settlement/services/content"
	"wekapay-settlement/services/ledger"
	"wekapay-settlement/services/payment"
	"wekapay-settlement/services/payout"
	"wekapay-settlement/services/subscription"
	"wekapay-settlement/services/wallet"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		fx.Provide(
			provideTracerProvider,
			provideSnowflakeNode,
		),
		momo.Module,
		tokenwallet.Module,
		content.Module,
		ledger.Module,
		subscription.Module,
		payment.Module,
		payout.Module,
		wallet.Module,
		health.Module,
		server.ProvideHTTPServer,
		fx.Invoke(migrate, db.Otel, db.Metric),
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

func provideTracerProvider() trace.TracerProvider {
	return otel.GetTracerProvider()
}

func provideSnowflakeNode(cfg *config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.Server.NodeID)
}

func migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&content.Content{},
		&payment.PaymentIntent{},
		&payment.Entitlement{},
		&ledger.CreatorWallet{},
		&ledger.WalletTransaction{},
		&subscription.PlatformSubscription{},
		&wallet.WalletMapping{},
	)
}
