package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wekapay-settlement/pkg/provider"
	"wekapay-settlement/pkg/tokenwallet"
	"wekapay-settlement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fakeProvider struct {
	mu          sync.Mutex
	createCalls int
	createErr   error
	depositErr  error
	deposits    []string
}

func (f *fakeProvider) CreateUser(_ context.Context, externalID, _ string) (*tokenwallet.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &tokenwallet.User{WalletUserID: "wu-" + externalID, Address: "0xabc"}, nil
}

func (f *fakeProvider) GetBalance(_ context.Context, walletUserID string) (*tokenwallet.Balance, error) {
	return &tokenwallet.Balance{BalanceMinorUnits: 850, Address: "0xabc"}, nil
}

func (f *fakeProvider) Deposit(_ context.Context, _ string, _ int64, reference string) (*tokenwallet.Transfer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.depositErr != nil {
		return nil, f.depositErr
	}
	f.deposits = append(f.deposits, reference)
	return &tokenwallet.Transfer{ID: "tr-1", Status: "confirmed"}, nil
}

func (f *fakeProvider) Withdraw(_ context.Context, _ string, _ int64, _ string) (*tokenwallet.Transfer, error) {
	return &tokenwallet.Transfer{ID: "tr-2", Status: "confirmed"}, nil
}

func newTestService(t *testing.T) (*Service, *fakeProvider) {
	t.Helper()

	db := testutil.NewTestDB(t, &WalletMapping{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fake := &fakeProvider{}
	svc := NewService(ServiceParams{DB: db, Node: node})
	svc.provider = fake

	return svc, fake
}

func TestEnsureWalletProvisionsOnce(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	first, err := svc.EnsureWallet(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, "wu-creator-1", first.WalletUserID)

	second, err := svc.EnsureWallet(ctx, "creator-1")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, fake.createCalls)
}

func TestEnsureWalletConcurrent(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mapping, err := svc.EnsureWallet(ctx, "creator-1")
			require.NoError(t, err)
			ids[i] = mapping.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		require.Equal(t, ids[0], id)
	}
	require.Equal(t, 1, fake.createCalls)
}

func TestEnsureWalletProviderFailure(t *testing.T) {
	svc, fake := newTestService(t)
	fake.createErr = errors.New("node unavailable")

	_, err := svc.EnsureWallet(context.Background(), "creator-1")
	require.Error(t, err)

	// Nothing persisted; a later retry provisions cleanly.
	fake.createErr = nil
	mapping, err := svc.EnsureWallet(context.Background(), "creator-1")
	require.NoError(t, err)
	require.Equal(t, "wu-creator-1", mapping.WalletUserID)
}

func TestMirrorDepositUsesIntentAsReference(t *testing.T) {
	svc, fake := newTestService(t)

	require.NoError(t, svc.MirrorDeposit(context.Background(), "creator-1", 850, "intent-1"))
	require.Equal(t, []string{"intent-1"}, fake.deposits)
}

func TestMirrorDepositRetryableErrorBubbles(t *testing.T) {
	svc, fake := newTestService(t)
	fake.depositErr = &provider.Error{Provider: "tokenwallet", Class: provider.ClassTransient, Message: "node unavailable"}

	err := svc.MirrorDeposit(context.Background(), "creator-1", 850, "intent-1")
	require.Error(t, err)
}

func TestMirrorDepositPermanentErrorDropped(t *testing.T) {
	svc, fake := newTestService(t)
	fake.depositErr = &provider.Error{Provider: "tokenwallet", Class: provider.ClassRestrictedAccount, Message: "wallet frozen"}

	require.NoError(t, svc.MirrorDeposit(context.Background(), "creator-1", 850, "intent-1"))
	require.Empty(t, fake.deposits)
}

func TestHandleMirrorDepositMalformedPayload(t *testing.T) {
	svc, _ := newTestService(t)

	task := asynq.NewTask("mirror:deposit", []byte("not json"))
	err := svc.HandleMirrorDeposit(context.Background(), task)
	require.Error(t, err)
	require.True(t, errors.Is(err, asynq.SkipRetry))
}
