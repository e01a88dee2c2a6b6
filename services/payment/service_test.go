package payment

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/momo"
	"wekapay-settlement/services/content"
	"wekapay-settlement/services/ledger"
	"wekapay-settlement/services/subscription"
	"wekapay-settlement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeGateway struct {
	chargeRef string
	chargeErr error
	charges   int

	statusResult *momo.StatusResult
	statusErr    error
}

func (f *fakeGateway) InitiateCharge(_ context.Context, _ int64, _, _ string) (string, error) {
	f.charges++
	if f.chargeErr != nil {
		return "", f.chargeErr
	}
	return f.chargeRef, nil
}

func (f *fakeGateway) Status(_ context.Context, _ string) (*momo.StatusResult, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	return f.statusResult, nil
}

func (f *fakeGateway) VerifySignature(_ []byte, _ string) bool { return true }

type fakeEnqueuer struct {
	tasks []*asynq.Task
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{}, nil
}

type testEnv struct {
	svc      *Service
	gateway  *fakeGateway
	enqueuer *fakeEnqueuer
	ledger   *ledger.Service
	subs     *subscription.Service
	db       *gorm.DB
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t,
		&PaymentIntent{}, &Entitlement{}, &content.Content{},
		&ledger.CreatorWallet{}, &ledger.WalletTransaction{},
		&subscription.PlatformSubscription{},
	)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Settlement.PlatformFeePercent = 15
	cfg.Settlement.WeeklyPassPrice = 2500
	cfg.Subscription.PassWindow = 7 * 24 * time.Hour
	cfg.Subscription.TrialWindow = 7 * 24 * time.Hour
	cfg.Subscription.GraceWindow = 3 * 24 * time.Hour

	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Config: cfg})
	subsSvc := subscription.NewService(subscription.ServiceParams{DB: db, Node: node, Config: cfg})

	gateway := &fakeGateway{chargeRef: "momo-ref-1"}
	enqueuer := &fakeEnqueuer{}

	svc := NewService(ServiceParams{
		DB:           db,
		Node:         node,
		Config:       cfg,
		Ledger:       ledgerSvc,
		Subscription: subsSvc,
	})
	svc.gateway = gateway
	svc.resolver = content.NewResolver(db)
	svc.enqueuer = enqueuer

	return &testEnv{
		svc:      svc,
		gateway:  gateway,
		enqueuer: enqueuer,
		ledger:   ledgerSvc,
		subs:     subsSvc,
		db:       db,
	}
}

func (e *testEnv) seedContent(t *testing.T, id, creatorID string, price int64) {
	t.Helper()
	require.NoError(t, e.db.Create(&content.Content{
		ID:        id,
		CreatorID: creatorID,
		Price:     price,
		Status:    content.StatusPublished,
	}).Error)
}

func (e *testEnv) seedIntent(t *testing.T, intent *PaymentIntent) {
	t.Helper()
	if intent.Status == "" {
		intent.Status = StatusPending
	}
	require.NoError(t, e.db.Create(intent).Error)
}

func paidEvidence(at time.Time) Evidence {
	return Evidence{Status: momo.StatusPaid, CompletedAt: &at}
}

func TestInitiatePurchaseCreatesPendingIntent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedContent(t, "content-1", "creator-1", 1000)

	intent, err := env.svc.InitiatePurchase(ctx, "fan-1", "content-1", "0712345678")
	require.NoError(t, err)
	require.Equal(t, StatusPending, intent.Status)
	require.Equal(t, PurposeContent, intent.Purpose)
	require.Equal(t, int64(1000), intent.Amount)
	require.Equal(t, "creator-1", intent.CreatorID)
	require.Equal(t, "momo-ref-1", intent.ProviderRef)
	require.Equal(t, 1, env.gateway.charges)
}

func TestInitiatePurchaseRejectsBadPhone(t *testing.T) {
	env := newTestEnv(t)
	env.seedContent(t, "content-1", "creator-1", 1000)

	_, err := env.svc.InitiatePurchase(context.Background(), "fan-1", "content-1", "12345")
	require.Error(t, err)
	require.Zero(t, env.gateway.charges)
}

func TestInitiatePurchaseRejectsUnknownContent(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.InitiatePurchase(context.Background(), "fan-1", "missing", "0712345678")
	require.Error(t, err)
	require.Zero(t, env.gateway.charges)
}

func TestInitiatePurchaseRejectsOwnedContent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedContent(t, "content-1", "creator-1", 1000)
	require.NoError(t, env.db.Create(&Entitlement{
		ID: "ent-1", PayerID: "fan-1", ContentID: "content-1",
		PaymentIntentID: "old-intent", GrantedAt: time.Now(),
	}).Error)

	_, err := env.svc.InitiatePurchase(ctx, "fan-1", "content-1", "0712345678")
	require.Error(t, err)
	require.Zero(t, env.gateway.charges)
}

func TestInitiatePurchaseChargeFailureMarksIntentFailed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedContent(t, "content-1", "creator-1", 1000)
	env.gateway.chargeErr = context.DeadlineExceeded

	_, err := env.svc.InitiatePurchase(ctx, "fan-1", "content-1", "0712345678")
	require.Error(t, err)

	var intent PaymentIntent
	require.NoError(t, env.db.First(&intent).Error)
	require.Equal(t, StatusFailed, intent.Status)
}

func TestConfirmPaidSettlesContentPurchase(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedIntent(t, &PaymentIntent{
		ID: "intent-1", PayerID: "fan-1", ContentID: "content-1",
		CreatorID: "creator-1", Purpose: PurposeContent, Amount: 1000,
	})

	intent, err := env.svc.Confirm(ctx, "intent-1", paidEvidence(time.Now()))
	require.NoError(t, err)
	require.Equal(t, StatusPaid, intent.Status)
	require.NotNil(t, intent.PaidAt)

	owned, err := env.svc.HasEntitlement(ctx, "fan-1", "content-1")
	require.NoError(t, err)
	require.True(t, owned)

	wallet, err := env.ledger.GetWallet(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, int64(850), wallet.Balance)
	require.Equal(t, int64(150), wallet.TotalFees)

	require.Len(t, env.enqueuer.tasks, 1)
}

func TestConfirmReplayIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedIntent(t, &PaymentIntent{
		ID: "intent-1", PayerID: "fan-1", ContentID: "content-1",
		CreatorID: "creator-1", Purpose: PurposeContent, Amount: 1000,
	})

	ev := paidEvidence(time.Now())
	for i := 0; i < 3; i++ {
		_, err := env.svc.Confirm(ctx, "intent-1", ev)
		require.NoError(t, err)
	}

	var entitlements int64
	require.NoError(t, env.db.Model(&Entitlement{}).Count(&entitlements).Error)
	require.Equal(t, int64(1), entitlements)

	wallet, err := env.ledger.GetWallet(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, int64(850), wallet.Balance)

	rows, err := env.ledger.ListTransactions(ctx, "creator-1", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Len(t, env.enqueuer.tasks, 1)
}

func TestConfirmPaidWithoutTimestampStaysPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedIntent(t, &PaymentIntent{
		ID: "intent-1", PayerID: "fan-1", ContentID: "content-1",
		CreatorID: "creator-1", Purpose: PurposeContent, Amount: 1000,
	})

	intent, err := env.svc.Confirm(ctx, "intent-1", Evidence{Status: momo.StatusPaid})
	require.NoError(t, err)
	require.Equal(t, StatusPending, intent.Status)

	owned, err := env.svc.HasEntitlement(ctx, "fan-1", "content-1")
	require.NoError(t, err)
	require.False(t, owned)
}

func TestConfirmFailedIsTerminal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedIntent(t, &PaymentIntent{
		ID: "intent-1", PayerID: "fan-1", ContentID: "content-1",
		CreatorID: "creator-1", Purpose: PurposeContent, Amount: 1000,
	})

	intent, err := env.svc.Confirm(ctx, "intent-1", Evidence{
		Status: momo.StatusFailed, FailureReason: "insufficient funds",
	})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, intent.Status)
	require.Equal(t, "insufficient funds", intent.FailureReason)

	// A later paid report cannot resurrect a failed intent.
	intent, err = env.svc.Confirm(ctx, "intent-1", paidEvidence(time.Now()))
	require.NoError(t, err)
	require.Equal(t, StatusFailed, intent.Status)

	owned, err := env.svc.HasEntitlement(ctx, "fan-1", "content-1")
	require.NoError(t, err)
	require.False(t, owned)

	wallet, err := env.ledger.GetWallet(ctx, "creator-1")
	require.NoError(t, err)
	require.Zero(t, wallet.Balance)
}

func TestConfirmSubscriptionActivates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedIntent(t, &PaymentIntent{
		ID: "intent-1", PayerID: "fan-1", Purpose: PurposeSubscription, Amount: 2500,
	})

	_, err := env.svc.Confirm(ctx, "intent-1", paidEvidence(time.Now()))
	require.NoError(t, err)

	state, sub, err := env.subs.Status(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, subscription.StateActive, state)
	expires := sub.ExpiresAt

	// Replay reuses the same intent ID so the pass window does not stack.
	_, err = env.svc.Confirm(ctx, "intent-1", paidEvidence(time.Now()))
	require.NoError(t, err)

	_, sub, err = env.subs.Status(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, expires.UTC(), sub.ExpiresAt.UTC())

	// Subscription purchases never touch the creator ledger or the mirror.
	require.Empty(t, env.enqueuer.tasks)
}

func TestFindByReferenceEmptyReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedIntent(t, &PaymentIntent{
		ID: "intent-1", PayerID: "fan-1", ContentID: "content-1",
		CreatorID: "creator-1", Purpose: PurposeContent, Amount: 1000,
	})

	// An empty reference must never resolve to a row; a signed webhook
	// carrying one would otherwise fail an unrelated pending intent.
	_, err := env.svc.FindByReference(ctx, "")
	require.Error(t, err)

	var intent PaymentIntent
	require.NoError(t, env.db.First(&intent, "id = ?", "intent-1").Error)
	require.Equal(t, StatusPending, intent.Status)
}

func TestPollStatusConfirms(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	completed := time.Now()
	env.seedIntent(t, &PaymentIntent{
		ID: "intent-1", PayerID: "fan-1", ContentID: "content-1",
		CreatorID: "creator-1", Purpose: PurposeContent, Amount: 1000,
		ProviderRef: "momo-ref-1",
	})
	env.gateway.statusResult = &momo.StatusResult{Status: momo.StatusPaid, CompletedAt: &completed}

	intent, err := env.svc.PollStatus(ctx, "fan-1", "intent-1")
	require.NoError(t, err)
	require.Equal(t, StatusPaid, intent.Status)

	owned, err := env.svc.HasEntitlement(ctx, "fan-1", "content-1")
	require.NoError(t, err)
	require.True(t, owned)
}

func TestPollStatusProviderErrorKeepsPending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedIntent(t, &PaymentIntent{
		ID: "intent-1", PayerID: "fan-1", ContentID: "content-1",
		CreatorID: "creator-1", Purpose: PurposeContent, Amount: 1000,
		ProviderRef: "momo-ref-1",
	})
	env.gateway.statusErr = context.DeadlineExceeded

	intent, err := env.svc.PollStatus(ctx, "fan-1", "intent-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, intent.Status)
}

func TestPollStatusHidesForeignIntent(t *testing.T) {
	env := newTestEnv(t)
	env.seedIntent(t, &PaymentIntent{
		ID: "intent-1", PayerID: "fan-1", ContentID: "content-1",
		CreatorID: "creator-1", Purpose: PurposeContent, Amount: 1000,
	})

	_, err := env.svc.PollStatus(context.Background(), "fan-2", "intent-1")
	require.Error(t, err)
}
