package payout

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/services/ledger"
	"wekapay-settlement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeGateway struct {
	payoutRef string
	payoutErr error
	payouts   int
}

func (f *fakeGateway) Payout(_ context.Context, _ int64, _, _ string) (string, error) {
	f.payouts++
	if f.payoutErr != nil {
		return "", f.payoutErr
	}
	return f.payoutRef, nil
}

func (f *fakeGateway) VerifySignature(_ []byte, _ string) bool { return true }

type testEnv struct {
	svc     *Service
	gateway *fakeGateway
	ledger  *ledger.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := testutil.NewTestDB(t, &ledger.CreatorWallet{}, &ledger.WalletTransaction{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Settlement.PlatformFeePercent = 15
	cfg.Settlement.MinWithdrawalAmount = 1000

	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node, Config: cfg})
	gateway := &fakeGateway{payoutRef: "momo-payout-1"}

	svc := NewService(ServiceParams{Config: cfg, Ledger: ledgerSvc})
	svc.gateway = gateway

	return &testEnv{svc: svc, gateway: gateway, ledger: ledgerSvc}
}

// fund credits the creator so the wallet carries the given net balance.
func (e *testEnv) fund(t *testing.T, creatorID string, net int64) {
	t.Helper()
	// Credit takes gross; 15% fee leaves 85%.
	gross := net * 100 / 85
	result, err := e.ledger.Credit(context.Background(), creatorID, gross, "intent-"+creatorID)
	require.NoError(t, err)
	require.Equal(t, net, result.Share)
}

func TestInitiateWithdrawalDispatchesPayout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "creator-1", 20400)

	result, err := env.svc.InitiateWithdrawal(ctx, "creator-1", 15000, "0712345678")
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, result.Status)
	require.Equal(t, "momo-payout-1", result.ProviderRef)
	require.Equal(t, 1, env.gateway.payouts)

	wallet, err := env.ledger.GetWallet(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, int64(5400), wallet.Balance)

	row, err := env.svc.GetWithdrawal(ctx, "creator-1", result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, row.Status)
	require.Equal(t, int64(-15000), row.Amount)
}

func TestInitiateWithdrawalBelowMinimum(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "creator-1", 20400)

	_, err := env.svc.InitiateWithdrawal(context.Background(), "creator-1", 500, "0712345678")
	require.Error(t, err)
	require.Zero(t, env.gateway.payouts)
}

func TestInitiateWithdrawalBadPhone(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, "creator-1", 20400)

	_, err := env.svc.InitiateWithdrawal(context.Background(), "creator-1", 5000, "not-a-phone")
	require.Error(t, err)
	require.Zero(t, env.gateway.payouts)
}

func TestInitiateWithdrawalInsufficientBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "creator-1", 850)

	// Above the withdrawal minimum so the request reaches the debit, which
	// is what must reject it.
	_, err := env.svc.InitiateWithdrawal(ctx, "creator-1", 1000, "0712345678")
	require.Error(t, err)
	require.True(t, errors.Is(err, ledger.ErrInsufficientBalance))
	require.Zero(t, env.gateway.payouts)
}

func TestInitiateWithdrawalPayoutFailureRestoresBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "creator-1", 20400)
	env.gateway.payoutErr = errors.New("payout rejected")

	_, err := env.svc.InitiateWithdrawal(ctx, "creator-1", 15000, "0712345678")
	require.Error(t, err)

	wallet, err := env.ledger.GetWallet(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, int64(20400), wallet.Balance)

	// The failed attempt stays in the audit trail alongside its refund.
	rows, err := env.ledger.ListTransactions(ctx, "creator-1", 10)
	require.NoError(t, err)
	var failed, refunded bool
	for _, row := range rows {
		if row.Type == ledger.TypeWithdrawal && row.Status == ledger.StatusFailed {
			failed = true
		}
		if row.Type == ledger.TypeRefund {
			refunded = true
		}
	}
	require.True(t, failed)
	require.True(t, refunded)
}

func TestHandleEventCompleted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "creator-1", 20400)

	result, err := env.svc.InitiateWithdrawal(ctx, "creator-1", 15000, "0712345678")
	require.NoError(t, err)

	require.NoError(t, env.svc.HandleEvent(ctx, EventPayoutCompleted, result.TransactionID, ""))

	row, err := env.svc.GetWithdrawal(ctx, "creator-1", result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusCompleted, row.Status)

	// Replays leave the settled row alone.
	require.NoError(t, env.svc.HandleEvent(ctx, EventPayoutCompleted, result.TransactionID, ""))
}

func TestHandleEventFailedReversesDebit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "creator-1", 20400)

	result, err := env.svc.InitiateWithdrawal(ctx, "creator-1", 15000, "0712345678")
	require.NoError(t, err)

	require.NoError(t, env.svc.HandleEvent(ctx, EventPayoutFailed, result.TransactionID, "subscriber barred"))

	wallet, err := env.ledger.GetWallet(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, int64(20400), wallet.Balance)

	row, err := env.svc.GetWithdrawal(ctx, "creator-1", result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, row.Status)

	// A completed event arriving after the reversal is a no-op.
	require.NoError(t, env.svc.HandleEvent(ctx, EventPayoutCompleted, result.TransactionID, ""))
	row, err = env.svc.GetWithdrawal(ctx, "creator-1", result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusFailed, row.Status)
}

func TestHandleEventUnknownEventIgnored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "creator-1", 20400)

	result, err := env.svc.InitiateWithdrawal(ctx, "creator-1", 15000, "0712345678")
	require.NoError(t, err)

	require.NoError(t, env.svc.HandleEvent(ctx, "payout.unknown", result.TransactionID, ""))

	row, err := env.svc.GetWithdrawal(ctx, "creator-1", result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, row.Status)
}

func TestHandleEventUnknownReference(t *testing.T) {
	env := newTestEnv(t)

	err := env.svc.HandleEvent(context.Background(), EventPayoutCompleted, "missing", "")
	require.Error(t, err)
}

func TestHandleEventEmptyReference(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "creator-1", 20400)

	result, err := env.svc.InitiateWithdrawal(ctx, "creator-1", 15000, "0712345678")
	require.NoError(t, err)

	// An empty reference must not resolve to the pending withdrawal row (or
	// any other row) through an unconditioned lookup.
	err = env.svc.HandleEvent(ctx, EventPayoutFailed, "", "bogus")
	require.Error(t, err)

	row, err := env.svc.GetWithdrawal(ctx, "creator-1", result.TransactionID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusPending, row.Status)
}

func TestGetWithdrawalHidesForeignRow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.fund(t, "creator-1", 20400)

	result, err := env.svc.InitiateWithdrawal(ctx, "creator-1", 15000, "0712345678")
	require.NoError(t, err)

	_, err = env.svc.GetWithdrawal(ctx, "creator-2", result.TransactionID)
	require.Error(t, err)
}
