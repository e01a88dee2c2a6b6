package subscription

import (
	"context"
	"time"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/db"
	"wekapay-settlement/pkg/db/option"
	"wekapay-settlement/pkg/errutil"
	"wekapay-settlement/pkg/middleware"
	"wekapay-settlement/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	gdb  *gorm.DB
	node *snowflake.Node

	passWindow  time.Duration
	trialWindow time.Duration
	graceWindow time.Duration

	subs repository.Repository[PlatformSubscription]

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewService(p ServiceParams) *Service {
	return &Service{
		gdb:  p.DB,
		node: p.Node,

		passWindow:  p.Config.Subscription.PassWindow,
		trialWindow: p.Config.Subscription.TrialWindow,
		graceWindow: p.Config.Subscription.GraceWindow,

		subs: repository.ProvideStore[PlatformSubscription](p.DB),

		now: time.Now,
	}
}

// ActivateTrial starts the one-time trial. It refuses if the trial was ever
// used or if the account already has access.
func (s *Service) ActivateTrial(ctx context.Context, accountID string) (*PlatformSubscription, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("account_id", accountID),
	}

	var result *PlatformSubscription

	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		now := s.now()

		sub, err := s.subs.WithTrx(tx).FindOne(ctx, &PlatformSubscription{AccountID: accountID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		if sub != nil {
			if sub.TrialUsed {
				return errutil.Conflict("trial already used", nil)
			}
			if deriveState(sub, now) != StateExpired {
				return errutil.Conflict("subscription already active", nil)
			}

			expires := now.Add(s.trialWindow)
			if err := s.subs.WithTrx(tx).Update(ctx, sub.ID, map[string]any{
				"status":        string(StateTrial),
				"starts_at":     now,
				"expires_at":    expires,
				"grace_ends_at": expires.Add(s.graceWindow),
				"trial_used":    true,
				"updated_at":    now,
			}); err != nil {
				return err
			}
			result, err = s.subs.WithTrx(tx).FindOne(ctx, &PlatformSubscription{ID: sub.ID})
			return err
		}

		expires := now.Add(s.trialWindow)
		result = &PlatformSubscription{
			ID:          s.node.Generate().String(),
			AccountID:   accountID,
			Status:      string(StateTrial),
			StartsAt:    now,
			ExpiresAt:   expires,
			GraceEndsAt: expires.Add(s.graceWindow),
			TrialUsed:   true,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.subs.WithTrx(tx).Create(ctx, result); err != nil {
			if db.IsUniqueViolation(err) {
				return errutil.Conflict("trial already used", nil)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().With(opts...).Info("trial activated", zap.Time("expires_at", result.ExpiresAt))

	return result, nil
}

// ActivateOrRenew applies one paid weekly pass. Renewing before expiry
// stacks on the old expiry; renewing during grace or after it starts a fresh
// window from now. Replays of the same payment intent are no-ops.
func (s *Service) ActivateOrRenew(ctx context.Context, accountID, intentID string) (*PlatformSubscription, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("account_id", accountID),
		zap.String("payment_intent_id", intentID),
	}

	var result *PlatformSubscription

	err := s.gdb.Transaction(func(tx *gorm.DB) error {
		now := s.now()

		sub, err := s.subs.WithTrx(tx).FindOne(ctx, &PlatformSubscription{AccountID: accountID}, option.WithLockingUpdate())
		if err != nil {
			return err
		}

		if sub == nil {
			expires := now.Add(s.passWindow)
			result = &PlatformSubscription{
				ID:                  s.node.Generate().String(),
				AccountID:           accountID,
				Status:              string(StateActive),
				StartsAt:            now,
				ExpiresAt:           expires,
				GraceEndsAt:         expires.Add(s.graceWindow),
				LastPaymentIntentID: intentID,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			return s.subs.WithTrx(tx).Create(ctx, result)
		}

		if sub.LastPaymentIntentID == intentID {
			zap.L().With(opts...).Info("renewal already applied, skipping")
			result = sub
			return nil
		}

		base := now
		if sub.ExpiresAt.After(now) {
			base = sub.ExpiresAt
		}
		expires := base.Add(s.passWindow)

		if err := s.subs.WithTrx(tx).Update(ctx, sub.ID, map[string]any{
			"status":                 string(StateActive),
			"expires_at":             expires,
			"grace_ends_at":          expires.Add(s.graceWindow),
			"last_payment_intent_id": intentID,
			"updated_at":             now,
		}); err != nil {
			return err
		}

		result, err = s.subs.WithTrx(tx).FindOne(ctx, &PlatformSubscription{ID: sub.ID})
		return err
	})
	if err != nil {
		zap.L().With(opts...).Error("failed to renew subscription", zap.Error(err))
		return nil, err
	}

	return result, nil
}

// Status derives the current state from the clock; the stored status column
// is last-known only.
func (s *Service) Status(ctx context.Context, accountID string) (State, *PlatformSubscription, error) {
	sub, err := s.subs.FindOne(ctx, &PlatformSubscription{AccountID: accountID})
	if err != nil {
		return StateNone, nil, err
	}
	if sub == nil {
		return StateNone, nil, nil
	}
	return deriveState(sub, s.now()), sub, nil
}

// HasAccess reports whether the account may view gated content. Creators are
// exempt from the subscription requirement.
func (s *Service) HasAccess(ctx context.Context, accountID, role string) (bool, error) {
	if role == middleware.RoleCreator {
		return true, nil
	}

	state, _, err := s.Status(ctx, accountID)
	if err != nil {
		return false, err
	}

	switch state {
	case StateTrial, StateActive, StateGrace:
		return true, nil
	default:
		return false, nil
	}
}

func deriveState(sub *PlatformSubscription, now time.Time) State {
	switch {
	case now.Before(sub.ExpiresAt):
		if sub.Status == string(StateTrial) {
			return StateTrial
		}
		return StateActive
	case now.Before(sub.GraceEndsAt):
		return StateGrace
	default:
		return StateExpired
	}
}
