package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wekapay-settlement/pkg/config"
	"wekapay-settlement/pkg/middleware"
	"wekapay-settlement/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &PlatformSubscription{})
	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Subscription.PassWindow = 7 * 24 * time.Hour
	cfg.Subscription.TrialWindow = 7 * 24 * time.Hour
	cfg.Subscription.GraceWindow = 3 * 24 * time.Hour

	return NewService(ServiceParams{DB: db, Node: node, Config: cfg})
}

func TestActivateTrial(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	sub, err := svc.ActivateTrial(ctx, "fan-1")
	require.NoError(t, err)
	require.True(t, sub.TrialUsed)
	require.WithinDuration(t, time.Now().Add(7*24*time.Hour), sub.ExpiresAt, time.Minute)
	require.Equal(t, sub.ExpiresAt.Add(3*24*time.Hour), sub.GraceEndsAt)

	state, _, err := svc.Status(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, StateTrial, state)
}

func TestActivateTrialTwiceRejected(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.ActivateTrial(ctx, "fan-1")
	require.NoError(t, err)

	_, err = svc.ActivateTrial(ctx, "fan-1")
	require.Error(t, err)
	require.Contains(t, err.Error(), "trial already used")
}

func TestRenewBeforeExpiryStacksTime(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	first, err := svc.ActivateOrRenew(ctx, "fan-1", "intent-1")
	require.NoError(t, err)
	require.Equal(t, start.Add(7*24*time.Hour), first.ExpiresAt.UTC())

	// two days before expiry
	svc.now = func() time.Time { return start.Add(5 * 24 * time.Hour) }

	second, err := svc.ActivateOrRenew(ctx, "fan-1", "intent-2")
	require.NoError(t, err)
	require.Equal(t, first.ExpiresAt.UTC().Add(7*24*time.Hour), second.ExpiresAt.UTC())
}

func TestRenewInsideGraceStartsFresh(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	_, err := svc.ActivateOrRenew(ctx, "fan-1", "intent-1")
	require.NoError(t, err)

	// two days after expiry, still inside the 3-day grace window
	renewAt := start.Add(9 * 24 * time.Hour)
	svc.now = func() time.Time { return renewAt }

	state, _, err := svc.Status(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, StateGrace, state)

	sub, err := svc.ActivateOrRenew(ctx, "fan-1", "intent-2")
	require.NoError(t, err)
	require.Equal(t, renewAt.Add(7*24*time.Hour), sub.ExpiresAt.UTC())
}

func TestRenewAfterGraceStartsFresh(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	_, err := svc.ActivateOrRenew(ctx, "fan-1", "intent-1")
	require.NoError(t, err)

	renewAt := start.Add(30 * 24 * time.Hour)
	svc.now = func() time.Time { return renewAt }

	state, _, err := svc.Status(ctx, "fan-1")
	require.NoError(t, err)
	require.Equal(t, StateExpired, state)

	sub, err := svc.ActivateOrRenew(ctx, "fan-1", "intent-2")
	require.NoError(t, err)
	require.Equal(t, renewAt.Add(7*24*time.Hour), sub.ExpiresAt.UTC())
}

func TestRenewSameIntentIsNoop(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }

	first, err := svc.ActivateOrRenew(ctx, "fan-1", "intent-1")
	require.NoError(t, err)

	replayed, err := svc.ActivateOrRenew(ctx, "fan-1", "intent-1")
	require.NoError(t, err)
	require.Equal(t, first.ExpiresAt.UTC(), replayed.ExpiresAt.UTC())
}

func TestHasAccessStates(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	// unknown fan: no access
	access, err := svc.HasAccess(ctx, "fan-1", middleware.RoleFan)
	require.NoError(t, err)
	require.False(t, access)

	// creators always have access
	access, err = svc.HasAccess(ctx, "creator-1", middleware.RoleCreator)
	require.NoError(t, err)
	require.True(t, access)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return start }
	_, err = svc.ActivateOrRenew(ctx, "fan-1", "intent-1")
	require.NoError(t, err)

	// active
	access, err = svc.HasAccess(ctx, "fan-1", middleware.RoleFan)
	require.NoError(t, err)
	require.True(t, access)

	// grace keeps access
	svc.now = func() time.Time { return start.Add(8 * 24 * time.Hour) }
	access, err = svc.HasAccess(ctx, "fan-1", middleware.RoleFan)
	require.NoError(t, err)
	require.True(t, access)

	// expired loses it
	svc.now = func() time.Time { return start.Add(20 * 24 * time.Hour) }
	access, err = svc.HasAccess(ctx, "fan-1", middleware.RoleFan)
	require.NoError(t, err)
	require.False(t, access)
}
