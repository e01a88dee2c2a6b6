package ledger

import (
	"context"
	"errors"
	"time"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/db"
	"wekapay-settlement/pkg/db/option"
	"wekapay-settlement/pkg/errutil"
	"wekapay-settlement/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrInsufficientBalance is wrapped into the BaseError returned by Debit so
// callers can branch with errors.Is.
var ErrInsufficientBalance = errors.New("insufficient balance")

type Service struct {
	gdb        *gorm.DB
	node       *snowflake.Node
	feePercent int64

	wallets      repository.Repository[CreatorWallet]
	transactions repository.Repository[WalletTransaction]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		gdb:        p.DB,
		node:       p.Node,
		feePercent: p.Config.Settlement.PlatformFeePercent,

		wallets:      repository.ProvideStore[CreatorWallet](p.DB),
		transactions: repository.ProvideStore[WalletTransaction](p.DB),
	}
}

// CreditResult reports how a gross amount was split. Duplicate means the
// intent was already settled and nothing changed.
type CreditResult struct {
	WalletID  string
	Share     int64
	Fee       int64
	Duplicate bool
}

// Credit settles a confirmed payment into the creator's wallet: fee split,
// balance/earned/fees bump and two audit rows, all in one transaction.
// Calling it twice with the same intent ID is a no-op.
func (s *Service) Credit(ctx context.Context, creatorID string, gross int64, intentID string) (*CreditResult, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("creator_id", creatorID),
		zap.String("payment_intent_id", intentID),
	}

	if gross <= 0 {
		return nil, errutil.ValidationFailed("credit amount must be positive", nil)
	}

	fee := (gross*s.feePercent + 50) / 100
	share := gross - fee

	result := &CreditResult{Share: share, Fee: fee}

	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, creatorID, true)
		if err != nil {
			return err
		}
		result.WalletID = wallet.ID

		existing, err := s.transactions.WithTrx(tx).FindOne(ctx, &WalletTransaction{
			ReferenceType: RefPaymentIntent,
			ReferenceID:   intentID,
			Type:          TypeEarning,
		})
		if err != nil {
			return err
		}
		if existing != nil {
			result.Duplicate = true
			return nil
		}

		newBalance := wallet.Balance + share

		rows := []*WalletTransaction{
			{
				ID:            s.node.Generate().String(),
				WalletID:      wallet.ID,
				Type:          TypeEarning,
				Status:        StatusCompleted,
				Amount:        share,
				BalanceAfter:  newBalance,
				ReferenceType: RefPaymentIntent,
				ReferenceID:   intentID,
				Description:   "content sale",
				CreatedAt:     time.Now(),
				UpdatedAt:     time.Now(),
			},
			{
				ID:            s.node.Generate().String(),
				WalletID:      wallet.ID,
				Type:          TypeFee,
				Status:        StatusCompleted,
				Amount:        fee,
				BalanceAfter:  newBalance,
				ReferenceType: RefPaymentIntent,
				ReferenceID:   intentID,
				Description:   "platform fee",
				CreatedAt:     time.Now(),
				UpdatedAt:     time.Now(),
			},
		}
		if err := s.transactions.WithTrx(tx).BatchCreate(ctx, rows); err != nil {
			if db.IsUniqueViolation(err) {
				result.Duplicate = true
				return nil
			}
			return err
		}

		return s.wallets.WithTrx(tx).Update(ctx, wallet.ID, map[string]any{
			"balance":      gorm.Expr("balance + ?", share),
			"total_earned": gorm.Expr("total_earned + ?", share),
			"total_fees":   gorm.Expr("total_fees + ?", fee),
			"updated_at":   time.Now(),
		})
	})
	if err != nil {
		zap.L().With(opts...).Error("failed to credit wallet", zap.Error(err))
		return nil, err
	}

	if result.Duplicate {
		zap.L().With(opts...).Info("credit already settled, skipping")
	}

	return result, nil
}

// Debit reserves amount for a withdrawal: balance down, totals up, a pending
// withdrawal row appended. Returns the row's ID for later completion or
// reversal.
func (s *Service) Debit(ctx context.Context, creatorID string, amount int64, description string) (string, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("creator_id", creatorID),
		zap.Int64("amount", amount),
	}

	if amount <= 0 {
		return "", errutil.ValidationFailed("debit amount must be positive", nil)
	}

	txID := s.node.Generate().String()

	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		wallet, err := s.lockWallet(ctx, tx, creatorID, false)
		if err != nil {
			return err
		}
		if wallet == nil || wallet.Balance < amount {
			return errutil.UnprocessableEntity("insufficient balance", ErrInsufficientBalance)
		}

		row := &WalletTransaction{
			ID:            txID,
			WalletID:      wallet.ID,
			Type:          TypeWithdrawal,
			Status:        StatusPending,
			Amount:        -amount,
			BalanceAfter:  wallet.Balance - amount,
			ReferenceType: RefWithdrawal,
			ReferenceID:   txID,
			Description:   description,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		if err := s.transactions.WithTrx(tx).Create(ctx, row); err != nil {
			return err
		}

		return s.wallets.WithTrx(tx).Update(ctx, wallet.ID, map[string]any{
			"balance":         gorm.Expr("balance - ?", amount),
			"total_withdrawn": gorm.Expr("total_withdrawn + ?", amount),
			"updated_at":      time.Now(),
		})
	})
	if err != nil {
		if !errors.Is(err, ErrInsufficientBalance) {
			zap.L().With(opts...).Error("failed to debit wallet", zap.Error(err))
		}
		return "", err
	}

	return txID, nil
}

// CompleteWithdrawal marks a pending withdrawal settled. Any other starting
// status is left untouched.
func (s *Service) CompleteWithdrawal(ctx context.Context, txID string) error {
	return s.gdb.Transaction(func(tx *gorm.DB) error {
		row, err := s.lockTransaction(ctx, tx, txID)
		if err != nil {
			return err
		}
		if row.Status != StatusPending {
			return nil
		}

		return s.transactions.WithTrx(tx).Update(ctx, txID, map[string]any{
			"status":     StatusCompleted,
			"updated_at": time.Now(),
		})
	})
}

// ReverseWithdrawal compensates a failed payout: the pending row flips to
// failed, the balance and totals are restored, and a refund row of equal
// magnitude is appended. Idempotent for non-pending rows.
func (s *Service) ReverseWithdrawal(ctx context.Context, txID, reason string) error {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("wallet_transaction_id", txID),
	}

	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		row, err := s.lockTransaction(ctx, tx, txID)
		if err != nil {
			return err
		}
		if row.Status != StatusPending {
			zap.L().With(opts...).Info("withdrawal not pending, skipping reversal", zap.String("status", row.Status))
			return nil
		}

		amount := -row.Amount

		if err := s.transactions.WithTrx(tx).Update(ctx, txID, map[string]any{
			"status":      StatusFailed,
			"description": reason,
			"updated_at":  time.Now(),
		}); err != nil {
			return err
		}

		wallet, err := s.wallets.WithTrx(tx).FindOne(ctx, &CreatorWallet{ID: row.WalletID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if wallet == nil {
			return errutil.Internal("wallet missing for withdrawal reversal", nil)
		}

		refund := &WalletTransaction{
			ID:            s.node.Generate().String(),
			WalletID:      wallet.ID,
			Type:          TypeRefund,
			Status:        StatusCompleted,
			Amount:        amount,
			BalanceAfter:  wallet.Balance + amount,
			ReferenceType: RefWithdrawal,
			ReferenceID:   txID,
			Description:   reason,
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		}
		if err := s.transactions.WithTrx(tx).Create(ctx, refund); err != nil {
			if db.IsUniqueViolation(err) {
				return nil
			}
			return err
		}

		return s.wallets.WithTrx(tx).Update(ctx, wallet.ID, map[string]any{
			"balance":         gorm.Expr("balance + ?", amount),
			"total_withdrawn": gorm.Expr("total_withdrawn - ?", amount),
			"updated_at":      time.Now(),
		})
	})
	if err != nil {
		zap.L().With(opts...).Error("failed to reverse withdrawal", zap.Error(err))
		return err
	}

	return nil
}

// GetTransaction fetches one audit row. Empty IDs are rejected before the
// query: gorm drops zero-valued struct fields and would match an arbitrary
// row.
func (s *Service) GetTransaction(ctx context.Context, txID string) (*WalletTransaction, error) {
	if txID == "" {
		return nil, errutil.NotFound("wallet transaction not found", nil)
	}

	row, err := s.transactions.FindOne(ctx, &WalletTransaction{ID: txID})
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errutil.NotFound("wallet transaction not found", nil)
	}
	return row, nil
}

// GetWallet returns the creator's wallet, or a zero-valued one when nothing
// has been settled yet.
func (s *Service) GetWallet(ctx context.Context, creatorID string) (*CreatorWallet, error) {
	wallet, err := s.wallets.FindOne(ctx, &CreatorWallet{CreatorID: creatorID})
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return &CreatorWallet{CreatorID: creatorID}, nil
	}
	return wallet, nil
}

// ListTransactions returns the most recent audit rows for the wallet.
func (s *Service) ListTransactions(ctx context.Context, creatorID string, limit int) ([]*WalletTransaction, error) {
	wallet, err := s.wallets.FindOne(ctx, &CreatorWallet{CreatorID: creatorID})
	if err != nil {
		return nil, err
	}
	if wallet == nil {
		return nil, nil
	}

	return s.transactions.Find(ctx, &WalletTransaction{WalletID: wallet.ID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
		option.WithLimit(limit),
	)
}

func (s *Service) lockWallet(ctx context.Context, tx *gorm.DB, creatorID string, createMissing bool) (*CreatorWallet, error) {
	wallet, err := s.wallets.WithTrx(tx).FindOne(ctx, &CreatorWallet{CreatorID: creatorID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if wallet != nil || !createMissing {
		return wallet, nil
	}

	wallet = &CreatorWallet{
		ID:        s.node.Generate().String(),
		CreatorID: creatorID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.wallets.WithTrx(tx).Create(ctx, wallet); err != nil {
		if db.IsUniqueViolation(err) {
			return s.wallets.WithTrx(tx).FindOne(ctx, &CreatorWallet{CreatorID: creatorID}, option.WithLockingUpdate())
		}
		return nil, err
	}
	return wallet, nil
}

func (s *Service) lockTransaction(ctx context.Context, tx *gorm.DB, txID string) (*WalletTransaction, error) {
	row, err := s.transactions.WithTrx(tx).FindOne(ctx, &WalletTransaction{ID: txID}, option.WithLockingUpdate())
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, errutil.NotFound("wallet transaction not found", nil)
	}
	return row, nil
}
