package payout

import (
	"context"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/errutil"
	"wekapay-settlement/pkg/momo"
	"wekapay-settlement/services/ledger"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Webhook event names the aggregator sends for payouts.
const (
	EventPayoutCompleted = "payout.completed"
	EventPayoutFailed    = "payout.failed"
)

type gateway interface {
	Payout(ctx context.Context, amount int64, phone, reference string) (string, error)
	VerifySignature(body []byte, signature string) bool
}

type ledgerStore interface {
	Debit(ctx context.Context, creatorID string, amount int64, description string) (string, error)
	CompleteWithdrawal(ctx context.Context, txID string) error
	ReverseWithdrawal(ctx context.Context, txID, reason string) error
	GetTransaction(ctx context.Context, txID string) (*ledger.WalletTransaction, error)
	GetWallet(ctx context.Context, creatorID string) (*ledger.CreatorWallet, error)
}

type Service struct {
	minWithdrawal int64

	gateway gateway
	ledger  ledgerStore
}

type ServiceParams struct {
	fx.In
	Config  *config.Config
	Gateway *momo.Client
	Ledger  *ledger.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		minWithdrawal: p.Config.Settlement.MinWithdrawalAmount,

		gateway: p.Gateway,
		ledger:  p.Ledger,
	}
}

// Result reports a dispatched withdrawal. The wallet transaction ID is the
// payout reference, so webhook events map straight back to the ledger row.
type Result struct {
	TransactionID string
	ProviderRef   string
	Status        string
}

// InitiateWithdrawal debits the creator's wallet, then asks the aggregator
// for a payout. The debit commits before the network call; a synchronous
// payout failure compensates by reversing the debit. If even the reversal
// fails the funds are stuck in a pending row and an operator has to step in,
// so that path logs at error with both IDs.
func (s *Service) InitiateWithdrawal(ctx context.Context, creatorID string, amount int64, phone string) (*Result, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("creator_id", creatorID),
		zap.Int64("amount", amount),
	}

	if !momo.ValidMSISDN(phone) {
		return nil, errutil.ValidationFailed("invalid mobile money phone number", nil)
	}
	if amount < s.minWithdrawal {
		return nil, errutil.UnprocessableEntity("amount below minimum withdrawal", nil)
	}

	txID, err := s.ledger.Debit(ctx, creatorID, amount, "mobile money withdrawal")
	if err != nil {
		return nil, err
	}

	providerRef, err := s.gateway.Payout(ctx, amount, phone, txID)
	if err != nil {
		zap.L().With(opts...).Warn("payout dispatch failed, reversing debit",
			zap.String("wallet_transaction_id", txID), zap.Error(err))

		if revErr := s.ledger.ReverseWithdrawal(ctx, txID, "payout dispatch failed"); revErr != nil {
			zap.L().With(opts...).Error("payout reversal failed, wallet transaction needs manual review",
				zap.String("wallet_transaction_id", txID), zap.Error(revErr))
		}
		return nil, err
	}

	zap.L().With(opts...).Info("payout dispatched",
		zap.String("wallet_transaction_id", txID),
		zap.String("provider_ref", providerRef))

	return &Result{
		TransactionID: txID,
		ProviderRef:   providerRef,
		Status:        ledger.StatusPending,
	}, nil
}

// HandleEvent folds one payout webhook event into the ledger. The reference
// is the wallet transaction ID issued at dispatch; unknown events are
// acknowledged and dropped.
func (s *Service) HandleEvent(ctx context.Context, event, reference, failureReason string) error {
	row, err := s.ledger.GetTransaction(ctx, reference)
	if err != nil {
		return err
	}
	if row.Type != ledger.TypeWithdrawal {
		return errutil.UnprocessableEntity("reference is not a withdrawal", nil)
	}

	switch event {
	case EventPayoutCompleted:
		return s.ledger.CompleteWithdrawal(ctx, reference)
	case EventPayoutFailed:
		if failureReason == "" {
			failureReason = "payout failed"
		}
		return s.ledger.ReverseWithdrawal(ctx, reference, failureReason)
	default:
		zap.L().Info("ignoring unknown payout event",
			zap.String("event", event), zap.String("reference", reference))
		return nil
	}
}

// GetWithdrawal exposes one withdrawal's ledger row for status checks. Rows
// belonging to another creator's wallet are reported as not found.
func (s *Service) GetWithdrawal(ctx context.Context, creatorID, txID string) (*ledger.WalletTransaction, error) {
	row, err := s.ledger.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}
	if row.Type != ledger.TypeWithdrawal {
		return nil, errutil.NotFound("withdrawal not found", nil)
	}

	wallet, err := s.ledger.GetWallet(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if wallet.ID == "" || wallet.ID != row.WalletID {
		return nil, errutil.NotFound("withdrawal not found", nil)
	}

	return row, nil
}
