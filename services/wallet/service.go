package wallet

import (
	"context"
	"time"

	"wekapay-settlement/pkg/db"
	"wekapay-settlement/pkg/provider"
	"wekapay-settlement/pkg/repository"
	"wekapay-settlement/pkg/tokenwallet"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

type walletProvider interface {
	CreateUser(ctx context.Context, externalID, email string) (*tokenwallet.User, error)
	GetBalance(ctx context.Context, walletUserID string) (*tokenwallet.Balance, error)
	Deposit(ctx context.Context, walletUserID string, amount int64, reference string) (*tokenwallet.Transfer, error)
	Withdraw(ctx context.Context, walletUserID string, amount int64, reference string) (*tokenwallet.Transfer, error)
}

type Service struct {
	node     *snowflake.Node
	provider walletProvider

	mappings repository.Repository[WalletMapping]
	sf       singleflight.Group
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Provider *tokenwallet.Client
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:     p.Node,
		provider: p.Provider,

		mappings: repository.ProvideStore[WalletMapping](p.DB),
	}
}

// EnsureWallet resolves the account's custodial wallet, provisioning one on
// first use. Concurrent callers for the same account collapse into a single
// provisioning flight; the unique index catches races across processes.
func (s *Service) EnsureWallet(ctx context.Context, accountID string) (*WalletMapping, error) {
	mapping, err := s.mappings.FindOne(ctx, &WalletMapping{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if mapping != nil {
		return mapping, nil
	}

	v, err, _ := s.sf.Do(accountID, func() (any, error) {
		return s.provision(ctx, accountID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*WalletMapping), nil
}

func (s *Service) provision(ctx context.Context, accountID string) (*WalletMapping, error) {
	// The flight leader may have landed between our miss and the lock.
	mapping, err := s.mappings.FindOne(ctx, &WalletMapping{AccountID: accountID})
	if err != nil {
		return nil, err
	}
	if mapping != nil {
		return mapping, nil
	}

	// Email is optional on the wallet side; settlement only ever sees the
	// account ID and role from the gateway headers.
	user, err := s.provider.CreateUser(ctx, accountID, "")
	if err != nil {
		return nil, err
	}

	mapping = &WalletMapping{
		ID:           s.node.Generate().String(),
		AccountID:    accountID,
		WalletUserID: user.WalletUserID,
		Address:      user.Address,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if err := s.mappings.Create(ctx, mapping); err != nil {
		if db.IsUniqueViolation(err) {
			return s.mappings.FindOne(ctx, &WalletMapping{AccountID: accountID})
		}
		return nil, err
	}

	zap.L().Info("custodial wallet provisioned",
		zap.String("account_id", accountID),
		zap.String("wallet_user_id", user.WalletUserID))

	return mapping, nil
}

// OnchainBalance reports the account's token balance, provisioning the
// wallet first if the account never had one.
func (s *Service) OnchainBalance(ctx context.Context, accountID string) (*tokenwallet.Balance, error) {
	mapping, err := s.EnsureWallet(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.provider.GetBalance(ctx, mapping.WalletUserID)
}

// MirrorDeposit pushes a settled creator share onto the chain. The payment
// intent ID rides along as the idempotency reference, so a retried task
// lands on the same deposit. Retryable failures bubble up to the queue;
// permanent ones are logged and dropped so the queue does not spin on them.
func (s *Service) MirrorDeposit(ctx context.Context, creatorID string, amount int64, intentID string) error {
	opts := []zap.Field{
		zap.String("creator_id", creatorID),
		zap.Int64("amount", amount),
		zap.String("payment_intent_id", intentID),
	}

	mapping, err := s.EnsureWallet(ctx, creatorID)
	if err != nil {
		return err
	}

	if _, err := s.provider.Deposit(ctx, mapping.WalletUserID, amount, intentID); err != nil {
		if provider.IsRetryable(err) {
			return err
		}
		zap.L().With(opts...).Error("mirror deposit permanently failed, dropping", zap.Error(err))
		return nil
	}

	zap.L().With(opts...).Info("mirror deposit applied")
	return nil
}
