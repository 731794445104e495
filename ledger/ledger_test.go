package ledger_test

import (
	"context"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/interledgermesh/connector/ledger"
)

func TestPrepareCommitCredit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := ledger.New(ledger.DefaultConfig())

	res, err := l.Prepare(ctx, "alice", "USD", sdkmath.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, res))
	require.NoError(t, l.Credit(ctx, "bob", "USD", sdkmath.NewInt(98)))

	alice, ok := l.Snapshot("alice", "USD")
	require.True(t, ok)
	require.Equal(t, sdkmath.NewInt(100), alice.DebitBalance)
	require.Equal(t, sdkmath.NewInt(-100), alice.NetBalance)

	bob, ok := l.Snapshot("bob", "USD")
	require.True(t, ok)
	require.Equal(t, sdkmath.NewInt(98), bob.CreditBalance)
	require.Equal(t, sdkmath.NewInt(98), bob.NetBalance)
}

func TestRollbackLeavesBalancesUntouched(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := ledger.New(ledger.DefaultConfig())

	res, err := l.Prepare(ctx, "alice", "USD", sdkmath.NewInt(100))
	require.NoError(t, err)
	require.NoError(t, l.Rollback(ctx, res))

	acc, ok := l.Snapshot("alice", "USD")
	require.True(t, ok)
	require.True(t, acc.NetBalance.IsZero())
	require.True(t, acc.DebitBalance.IsZero())

	// finishing the same reservation twice is rejected
	require.ErrorIs(t, l.Commit(ctx, res), ledger.ErrReservationNotPending)
}

func TestCreditLimitCountsPendingReservations(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limit := sdkmath.NewInt(150)
	l := ledger.New(ledger.DefaultConfig(), ledger.WithAccountLimits(map[ledger.AccountKey]ledger.AccountLimits{
		{Peer: "alice", Asset: "USD"}: {CreditLimit: &limit},
	}))

	res1, err := l.Prepare(ctx, "alice", "USD", sdkmath.NewInt(100))
	require.NoError(t, err)

	// 100 pending + 100 requested > 150 limit
	_, err = l.Prepare(ctx, "alice", "USD", sdkmath.NewInt(100))
	require.ErrorIs(t, err, ledger.ErrCreditLimitExceeded)

	_, err = l.Prepare(ctx, "alice", "USD", sdkmath.NewInt(50))
	require.NoError(t, err)

	// rolling back frees headroom again
	require.NoError(t, l.Rollback(ctx, res1))
	_, err = l.Prepare(ctx, "alice", "USD", sdkmath.NewInt(100))
	require.NoError(t, err)
}

func TestSettlementLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := ledger.New(ledger.DefaultConfig())

	require.NoError(t, l.Credit(ctx, "bob", "XRP", sdkmath.NewInt(500)))

	require.True(t, l.SetSettlementState("bob", "XRP", ledger.SettlementStateIdle, ledger.SettlementStatePending))
	// the transition is not legal twice
	require.False(t, l.SetSettlementState("bob", "XRP", ledger.SettlementStateIdle, ledger.SettlementStatePending))
	require.True(t, l.SetSettlementState("bob", "XRP", ledger.SettlementStatePending, ledger.SettlementStateInProgress))

	require.NoError(t, l.RecordSettlement(ctx, "bob", "XRP", sdkmath.NewInt(500)))
	require.True(t, l.SetSettlementState("bob", "XRP", ledger.SettlementStateInProgress, ledger.SettlementStateIdle))

	acc, ok := l.Snapshot("bob", "XRP")
	require.True(t, ok)
	require.True(t, acc.NetBalance.IsZero())
	require.Equal(t, ledger.SettlementStateIdle, acc.SettlementState)
}

func TestBackendFailureFailsClosed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctrl := gomock.NewController(t)
	backend := ledger.NewMockBackend(ctrl)
	l := ledger.New(ledger.DefaultConfig(), ledger.WithBackend(backend))

	backend.EXPECT().
		CreatePendingTransfer(gomock.Any(), gomock.Any(), "alice", "USD", sdkmath.NewInt(100)).
		Return(errors.New("connection refused"))

	_, err := l.Prepare(ctx, "alice", "USD", sdkmath.NewInt(100))
	require.ErrorIs(t, err, ledger.ErrBackendUnavailable)

	// no reservation was taken, the account stays clean
	acc, ok := l.Snapshot("alice", "USD")
	require.True(t, ok)
	require.True(t, acc.NetBalance.IsZero())
}

func TestBackendMirrorsTwoPhaseTransfers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctrl := gomock.NewController(t)
	backend := ledger.NewMockBackend(ctrl)
	l := ledger.New(ledger.DefaultConfig(), ledger.WithBackend(backend))

	backend.EXPECT().
		CreatePendingTransfer(gomock.Any(), gomock.Any(), "alice", "USD", sdkmath.NewInt(70)).
		Return(nil)
	backend.EXPECT().PostPendingTransfer(gomock.Any(), gomock.Any()).Return(nil)

	res, err := l.Prepare(ctx, "alice", "USD", sdkmath.NewInt(70))
	require.NoError(t, err)
	require.NoError(t, l.Commit(ctx, res))
}

func TestHistoryRingIsBounded(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := ledger.New(ledger.Config{HistorySize: 3})

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Credit(ctx, "bob", "USD", sdkmath.NewInt(10)))
	}

	acc, ok := l.Snapshot("bob", "USD")
	require.True(t, ok)
	require.Len(t, acc.History, 3)
	require.Equal(t, sdkmath.NewInt(50), acc.History[2].Net)
}
