package payment

import (
	"context"
	"time"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/db"
	"wekapay-settlement/pkg/db/option"
	"wekapay-settlement/pkg/errutil"
	"wekapay-settlement/pkg/momo"
	"wekapay-settlement/pkg/repository"
	"wekapay-settlement/pkg/task"
	"wekapay-settlement/services/content"
	"wekapay-settlement/services/ledger"
	"wekapay-settlement/services/subscription"
	paymenttask "wekapay-settlement/services/payment/task"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type gateway interface {
	InitiateCharge(ctx context.Context, amount int64, phone, reference string) (string, error)
	Status(ctx context.Context, providerRef string) (*momo.StatusResult, error)
	VerifySignature(body []byte, signature string) bool
}

type contentResolver interface {
	Resolve(ctx context.Context, contentID string) (*content.Content, error)
}

type ledgerStore interface {
	Credit(ctx context.Context, creatorID string, gross int64, intentID string) (*ledger.CreditResult, error)
}

type subscriptions interface {
	ActivateOrRenew(ctx context.Context, accountID, intentID string) (*subscription.PlatformSubscription, error)
}

type Service struct {
	gdb  *gorm.DB
	node *snowflake.Node

	weeklyPassPrice int64

	gateway  gateway
	resolver contentResolver
	ledger   ledgerStore
	subs     subscriptions
	enqueuer task.Enqueuer

	intents      repository.Repository[PaymentIntent]
	entitlements repository.Repository[Entitlement]
}

type ServiceParams struct {
	fx.In
	DB           *gorm.DB
	Node         *snowflake.Node
	Config       *config.Config
	Gateway      *momo.Client
	Resolver     *content.Resolver
	Ledger       *ledger.Service
	Subscription *subscription.Service
	Enqueuer     task.Enqueuer `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		gdb:  p.DB,
		node: p.Node,

		weeklyPassPrice: p.Config.Settlement.WeeklyPassPrice,

		gateway:  p.Gateway,
		resolver: p.Resolver,
		ledger:   p.Ledger,
		subs:     p.Subscription,
		enqueuer: p.Enqueuer,

		intents:      repository.ProvideStore[PaymentIntent](p.DB),
		entitlements: repository.ProvideStore[Entitlement](p.DB),
	}
}

// InitiatePurchase creates a pending intent for one content item and pushes
// the charge to the payer's phone. The intent ID is the charge reference, so
// webhook and poll evidence both resolve back to it.
func (s *Service) InitiatePurchase(ctx context.Context, payerID, contentID, phone string) (*PaymentIntent, error) {
	if !momo.ValidMSISDN(phone) {
		return nil, errutil.ValidationFailed("invalid mobile money phone number", nil)
	}

	item, err := s.resolver.Resolve(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if item.Price <= 0 {
		return nil, errutil.ValidationFailed("content has no purchasable price", nil)
	}

	// A payer who already owns the content has nothing to buy.
	existing, err := s.entitlements.FindOne(ctx, &Entitlement{PayerID: payerID, ContentID: contentID})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, errutil.Conflict("content already purchased", nil)
	}

	return s.initiate(ctx, &PaymentIntent{
		ID:        s.node.Generate().String(),
		PayerID:   payerID,
		ContentID: contentID,
		CreatorID: item.CreatorID,
		Purpose:   PurposeContent,
		Amount:    item.Price,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}, phone)
}

// InitiateSubscriptionPurchase charges the configured weekly pass price. The
// intent carries a subscription marker instead of a content ID.
func (s *Service) InitiateSubscriptionPurchase(ctx context.Context, payerID, phone string) (*PaymentIntent, error) {
	if !momo.ValidMSISDN(phone) {
		return nil, errutil.ValidationFailed("invalid mobile money phone number", nil)
	}

	return s.initiate(ctx, &PaymentIntent{
		ID:        s.node.Generate().String(),
		PayerID:   payerID,
		Purpose:   PurposeSubscription,
		Amount:    s.weeklyPassPrice,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}, phone)
}

// initiate persists the intent, then calls the aggregator. The row is
// committed before the network call so no transaction spans it.
func (s *Service) initiate(ctx context.Context, intent *PaymentIntent, phone string) (*PaymentIntent, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("payment_intent_id", intent.ID),
		zap.String("payer_id", intent.PayerID),
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, err
	}

	providerRef, err := s.gateway.InitiateCharge(ctx, intent.Amount, phone, intent.ID)
	if err != nil {
		zap.L().With(opts...).Error("charge initiation failed", zap.Error(err))
		if updateErr := s.intents.Update(ctx, intent.ID, map[string]any{
			"status":         StatusFailed,
			"failure_reason": "charge initiation failed",
			"updated_at":     time.Now(),
		}); updateErr != nil {
			zap.L().With(opts...).Error("failed to mark intent failed", zap.Error(updateErr))
		}
		return nil, err
	}

	if err := s.intents.Update(ctx, intent.ID, map[string]any{
		"provider_ref": providerRef,
		"updated_at":   time.Now(),
	}); err != nil {
		return nil, err
	}
	intent.ProviderRef = providerRef

	zap.L().With(opts...).Info("charge initiated", zap.String("provider_ref", providerRef))

	return intent, nil
}

// Confirm folds one piece of evidence into the intent. Both confirmation
// paths (webhook, poll) funnel through here; every step is idempotent so the
// loser of a race simply no-ops.
func (s *Service) Confirm(ctx context.Context, intentID string, ev Evidence) (*PaymentIntent, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("payment_intent_id", intentID),
		zap.String("evidence_status", ev.Status),
	}

	confirmed := ev.Status == momo.StatusPaid && ev.CompletedAt != nil
	failed := ev.Status == momo.StatusFailed

	if ev.Status == momo.StatusPaid && ev.CompletedAt == nil {
		// Aggregator quirk: intermediate states can report paid without a
		// completion timestamp. Not proof, stay pending.
		zap.L().With(opts...).Warn("paid status without completion timestamp, keeping intent pending")
	}

	var intent *PaymentIntent

	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		var err error
		intent, err = s.intents.WithTrx(tx).FindOne(ctx, &PaymentIntent{ID: intentID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}
		if intent == nil {
			return errutil.NotFound("payment intent not found", nil)
		}

		switch {
		case intent.Status == StatusFailed:
			return nil
		case failed && intent.Status == StatusPending:
			intent.Status = StatusFailed
			intent.FailureReason = ev.FailureReason
			return s.intents.WithTrx(tx).Update(ctx, intent.ID, map[string]any{
				"status":         StatusFailed,
				"failure_reason": ev.FailureReason,
				"updated_at":     time.Now(),
			})
		case confirmed && intent.Status == StatusPending:
			intent.Status = StatusPaid
			intent.PaidAt = ev.CompletedAt
			return s.intents.WithTrx(tx).Update(ctx, intent.ID, map[string]any{
				"status":     StatusPaid,
				"paid_at":    ev.CompletedAt,
				"updated_at": time.Now(),
			})
		default:
			return nil
		}
	})
	if err != nil {
		zap.L().With(opts...).Error("failed to apply payment evidence", zap.Error(err))
		return nil, err
	}

	// Settlement runs for confirmed evidence even when the intent was
	// already paid, so a crash between the status flip and the credit heals
	// on the next webhook replay or poll.
	if confirmed && intent.Status == StatusPaid {
		if err := s.settle(ctx, intent); err != nil {
			zap.L().With(opts...).Error("failed to settle confirmed payment", zap.Error(err))
			return nil, err
		}
	}

	return intent, nil
}

// PollStatus is the client-driven confirmation path: one aggregator status
// call per request, folded through Confirm. Terminal intents short-circuit.
func (s *Service) PollStatus(ctx context.Context, payerID, intentID string) (*PaymentIntent, error) {
	intent, err := s.intents.FindOne(ctx, &PaymentIntent{ID: intentID})
	if err != nil {
		return nil, err
	}
	if intent == nil || intent.PayerID != payerID {
		return nil, errutil.NotFound("payment intent not found", nil)
	}

	if intent.Status != StatusPending || intent.ProviderRef == "" {
		return intent, nil
	}

	result, err := s.gateway.Status(ctx, intent.ProviderRef)
	if err != nil {
		// The provider being unreachable does not fail the intent; the
		// client polls again or the webhook completes it later.
		zap.L().Warn("status poll failed",
			zap.String("payment_intent_id", intentID), zap.Error(err))
		return intent, nil
	}

	return s.Confirm(ctx, intentID, Evidence{
		Status:        result.Status,
		CompletedAt:   result.CompletedAt,
		FailureReason: result.FailureReason,
	})
}

// FindByReference locates an intent by its ID or, failing that, by the
// aggregator's reference. An empty reference must be rejected here: gorm
// drops zero-valued struct fields, so it would otherwise match an arbitrary
// row.
func (s *Service) FindByReference(ctx context.Context, reference string) (*PaymentIntent, error) {
	if reference == "" {
		return nil, errutil.NotFound("payment intent not found", nil)
	}

	intent, err := s.intents.FindOne(ctx, &PaymentIntent{ID: reference})
	if err != nil {
		return nil, err
	}
	if intent == nil {
		intent, err = s.intents.FindOne(ctx, &PaymentIntent{ProviderRef: reference})
		if err != nil {
			return nil, err
		}
	}
	if intent == nil {
		return nil, errutil.NotFound("payment intent not found", nil)
	}
	return intent, nil
}

// HasEntitlement reports whether the payer already owns the content item.
func (s *Service) HasEntitlement(ctx context.Context, payerID, contentID string) (bool, error) {
	existing, err := s.entitlements.FindOne(ctx, &Entitlement{PayerID: payerID, ContentID: contentID})
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

func (s *Service) settle(ctx context.Context, intent *PaymentIntent) error {
	if intent.Purpose == PurposeSubscription {
		_, err := s.subs.ActivateOrRenew(ctx, intent.PayerID, intent.ID)
		return err
	}

	if err := s.grantEntitlement(ctx, intent); err != nil {
		return err
	}

	result, err := s.ledger.Credit(ctx, intent.CreatorID, intent.Amount, intent.ID)
	if err != nil {
		return err
	}

	if !result.Duplicate {
		s.enqueueMirror(ctx, intent, result.Share)
	}

	return nil
}

func (s *Service) grantEntitlement(ctx context.Context, intent *PaymentIntent) error {
	err := s.entitlements.Create(ctx, &Entitlement{
		ID:              s.node.Generate().String(),
		PayerID:         intent.PayerID,
		ContentID:       intent.ContentID,
		PaymentIntentID: intent.ID,
		GrantedAt:       time.Now(),
	})
	if err != nil && !db.IsUniqueViolation(err) {
		return err
	}
	return nil
}

// enqueueMirror dispatches the on-chain mirror deposit after the ledger
// commit. Best-effort only: a broker failure is logged and never surfaces to
// the payer.
func (s *Service) enqueueMirror(ctx context.Context, intent *PaymentIntent, share int64) {
	if s.enqueuer == nil {
		return
	}

	t, err := paymenttask.NewMirrorDepositTask(paymenttask.MirrorDepositPayload{
		CreatorID:       intent.CreatorID,
		Amount:          share,
		PaymentIntentID: intent.ID,
	})
	if err == nil {
		_, err = s.enqueuer.Enqueue(ctx, t)
	}
	if err != nil {
		zap.L().Warn("failed to enqueue mirror deposit",
			zap.String("payment_intent_id", intent.ID), zap.Error(err))
	}
}
