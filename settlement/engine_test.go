package settlement_test

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/ledger"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/settlement"
	"github.com/interledgermesh/connector/telemetry"
)

const (
	testPeer  ilp.PeerID  = "peer-b"
	testAsset ilp.AssetID = "ILP"
)

type engineFixture struct {
	ledger *ledger.Ledger
	broker *telemetry.Broker
	sub    *telemetry.Subscriber
	client *settlement.MockChannelClient
	engine *settlement.Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	ctrl := gomock.NewController(t)
	log := logger.NewAnyLogMock(ctrl)

	balances := ledger.New(ledger.DefaultConfig())
	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), log, nil)

	client := settlement.NewMockChannelClient(ctrl)
	client.EXPECT().Method().Return(settlement.MethodEVM).AnyTimes()

	cfg := settlement.EngineConfig{
		NodeID:     "node-a",
		Preference: settlement.PreferenceEVM,
		PeerAddresses: map[ilp.PeerID]settlement.PeerAddresses{
			testPeer: {EVM: "0x00000000000000000000000000000000000000bb"},
		},
		DefaultInitialDeposit: sdkmath.NewInt(1000),
		DepositHeadroomBps:    2000,
		OperationTimeout:      time.Second,
		Retry:                 testRetryConfig(),
		QueueSize:             4,
	}

	return &engineFixture{
		ledger: balances,
		broker: broker,
		sub:    broker.Subscribe(),
		client: client,
		engine: settlement.NewEngine(cfg, log, balances, broker, client),
	}
}

// owe puts the account into the pending settlement state with the given
// credit balance.
func (f *engineFixture) owe(t *testing.T, amount int64) {
	require.NoError(t, f.ledger.Credit(context.Background(), testPeer, testAsset, sdkmath.NewInt(amount)))
	require.True(t, f.ledger.SetSettlementState(testPeer, testAsset,
		ledger.SettlementStateIdle, ledger.SettlementStatePending))
}

func drainEventTypes(sub *telemetry.Subscriber) []telemetry.EventType {
	var types []telemetry.EventType
	for {
		select {
		case event := <-sub.Events():
			types = append(types, event.Type)
		default:
			return types
		}
	}
}

func TestSettleOpensChannelAndRecordsSettlement(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.owe(t, 500)

	f.client.EXPECT().LookupChannel(gomock.Any(), gomock.Any()).
		Return(settlement.Channel{}, false, nil)
	// initial deposit is the floor or twice the amount, whichever is larger
	f.client.EXPECT().OpenChannel(gomock.Any(), gomock.Any(), sdkmath.NewInt(1000)).
		Return(settlement.Channel{
			ChannelID:   "chan-1",
			Method:      settlement.MethodEVM,
			Deposit:     sdkmath.NewInt(1000),
			Transferred: sdkmath.ZeroInt(),
			Status:      settlement.ChannelStatusActive,
			OpenedAt:    time.Now(),
		}, nil)
	f.client.EXPECT().SignBalanceProof(gomock.Any(), gomock.Any(), sdkmath.NewInt(500)).
		Return(settlement.BalanceProof{
			ChannelID:   "chan-1",
			Nonce:       1,
			Transferred: sdkmath.NewInt(500),
			Signature:   []byte("sig"),
		}, nil)

	require.NoError(t, f.engine.Settle(context.Background(), settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(500),
	}))

	account, ok := f.ledger.Snapshot(testPeer, testAsset)
	require.True(t, ok)
	require.True(t, account.NetBalance.IsZero())
	require.Equal(t, ledger.SettlementStateIdle, account.SettlementState)

	require.Equal(t, []telemetry.EventType{
		telemetry.EventTypeSettlementPending,
		telemetry.EventTypeChannelOpened,
		telemetry.EventTypeChannelBalanceUpdate,
		telemetry.EventTypeSettlementCompleted,
		telemetry.EventTypeAccountBalance,
	}, drainEventTypes(f.sub))
}

func TestSettleReusesChannelAndTopsUpDeposit(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.owe(t, 200)

	f.client.EXPECT().LookupChannel(gomock.Any(), gomock.Any()).
		Return(settlement.Channel{
			ChannelID:   "chan-2",
			Method:      settlement.MethodEVM,
			Deposit:     sdkmath.NewInt(100),
			Nonce:       3,
			Transferred: sdkmath.NewInt(50),
			Status:      settlement.ChannelStatusActive,
		}, true, nil)
	// required 250 with 20% headroom targets 300, current deposit is 100
	f.client.EXPECT().Deposit(gomock.Any(), "chan-2", sdkmath.NewInt(200)).Return(nil)
	// post-deposit re-read confirms the new deposit
	f.client.EXPECT().LookupChannel(gomock.Any(), gomock.Any()).
		Return(settlement.Channel{
			ChannelID:   "chan-2",
			Method:      settlement.MethodEVM,
			Deposit:     sdkmath.NewInt(300),
			Transferred: sdkmath.NewInt(50),
			Status:      settlement.ChannelStatusActive,
		}, true, nil)
	f.client.EXPECT().SignBalanceProof(gomock.Any(), gomock.Any(), sdkmath.NewInt(200)).
		Return(settlement.BalanceProof{
			ChannelID:   "chan-2",
			Nonce:       4,
			Transferred: sdkmath.NewInt(250),
			Signature:   []byte("sig"),
		}, nil)

	require.NoError(t, f.engine.Settle(context.Background(), settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(200),
	}))

	types := drainEventTypes(f.sub)
	require.Contains(t, types, telemetry.EventTypeChannelDeposit)
	require.NotContains(t, types, telemetry.EventTypeChannelOpened)

	channels := f.engine.Channels()
	require.Len(t, channels, 1)
	require.Equal(t, "chan-2", channels[0].ChannelID)
	require.Equal(t, sdkmath.NewInt(300), channels[0].Deposit)
	require.EqualValues(t, 4, channels[0].Nonce)
	require.Equal(t, sdkmath.NewInt(250), channels[0].Transferred)
}

func TestSettleRereadsChannelOnRepeatedSettlement(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.owe(t, 500)

	f.client.EXPECT().LookupChannel(gomock.Any(), gomock.Any()).
		Return(settlement.Channel{}, false, nil)
	f.client.EXPECT().OpenChannel(gomock.Any(), gomock.Any(), sdkmath.NewInt(1000)).
		Return(settlement.Channel{
			ChannelID:   "chan-1",
			Method:      settlement.MethodEVM,
			Deposit:     sdkmath.NewInt(1000),
			Transferred: sdkmath.ZeroInt(),
			Status:      settlement.ChannelStatusActive,
			OpenedAt:    time.Now(),
		}, nil)
	f.client.EXPECT().SignBalanceProof(gomock.Any(), gomock.Any(), sdkmath.NewInt(500)).
		Return(settlement.BalanceProof{
			ChannelID:   "chan-1",
			Nonce:       1,
			Transferred: sdkmath.NewInt(500),
			Signature:   []byte("sig"),
		}, nil)
	require.NoError(t, f.engine.Settle(context.Background(), settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(500),
	}))

	// the second run consults the ledger again instead of trusting the stored
	// channel; the ledger has not seen the off-chain claim, so the local
	// counters carry over
	f.owe(t, 300)
	f.client.EXPECT().LookupChannel(gomock.Any(), gomock.Any()).
		Return(settlement.Channel{
			ChannelID:   "chan-1",
			Method:      settlement.MethodEVM,
			Deposit:     sdkmath.NewInt(1000),
			Nonce:       0,
			Transferred: sdkmath.ZeroInt(),
			Status:      settlement.ChannelStatusActive,
		}, true, nil)
	f.client.EXPECT().SignBalanceProof(gomock.Any(), gomock.Any(), sdkmath.NewInt(300)).
		DoAndReturn(func(_ context.Context, channel settlement.Channel, _ sdkmath.Int) (settlement.BalanceProof, error) {
			require.EqualValues(t, 1, channel.Nonce)
			require.Equal(t, sdkmath.NewInt(500), channel.Transferred)
			return settlement.BalanceProof{
				ChannelID:   "chan-1",
				Nonce:       2,
				Transferred: sdkmath.NewInt(800),
				Signature:   []byte("sig"),
			}, nil
		})
	require.NoError(t, f.engine.Settle(context.Background(), settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(300),
	}))

	channels := f.engine.Channels()
	require.Len(t, channels, 1)
	require.EqualValues(t, 2, channels[0].Nonce)
	require.Equal(t, sdkmath.NewInt(800), channels[0].Transferred)
}

func TestSettleReopensChannelClosedOnLedger(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.owe(t, 500)

	f.client.EXPECT().LookupChannel(gomock.Any(), gomock.Any()).
		Return(settlement.Channel{}, false, nil)
	f.client.EXPECT().OpenChannel(gomock.Any(), gomock.Any(), sdkmath.NewInt(1000)).
		Return(settlement.Channel{
			ChannelID:   "chan-1",
			Method:      settlement.MethodEVM,
			Deposit:     sdkmath.NewInt(1000),
			Transferred: sdkmath.ZeroInt(),
			Status:      settlement.ChannelStatusActive,
			OpenedAt:    time.Now(),
		}, nil)
	f.client.EXPECT().SignBalanceProof(gomock.Any(), gomock.Any(), sdkmath.NewInt(500)).
		Return(settlement.BalanceProof{
			ChannelID:   "chan-1",
			Nonce:       1,
			Transferred: sdkmath.NewInt(500),
			Signature:   []byte("sig"),
		}, nil)
	require.NoError(t, f.engine.Settle(context.Background(), settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(500),
	}))
	drainEventTypes(f.sub)

	// the peer closed the channel on-ledger in the meantime; the stored
	// channel must not be reused
	f.owe(t, 300)
	f.client.EXPECT().LookupChannel(gomock.Any(), gomock.Any()).
		Return(settlement.Channel{
			ChannelID: "chan-1",
			Method:    settlement.MethodEVM,
			Status:    settlement.ChannelStatusSettled,
		}, true, nil)
	f.client.EXPECT().OpenChannel(gomock.Any(), gomock.Any(), sdkmath.NewInt(1000)).
		Return(settlement.Channel{
			ChannelID:   "chan-2",
			Method:      settlement.MethodEVM,
			Deposit:     sdkmath.NewInt(1000),
			Transferred: sdkmath.ZeroInt(),
			Status:      settlement.ChannelStatusActive,
			OpenedAt:    time.Now(),
		}, nil)
	f.client.EXPECT().SignBalanceProof(gomock.Any(), gomock.Any(), sdkmath.NewInt(300)).
		Return(settlement.BalanceProof{
			ChannelID:   "chan-2",
			Nonce:       1,
			Transferred: sdkmath.NewInt(300),
			Signature:   []byte("sig"),
		}, nil)
	require.NoError(t, f.engine.Settle(context.Background(), settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(300),
	}))

	types := drainEventTypes(f.sub)
	require.Contains(t, types, telemetry.EventTypeChannelOpened)

	channels := f.engine.Channels()
	require.Len(t, channels, 1)
	require.Equal(t, "chan-2", channels[0].ChannelID)
	require.Equal(t, sdkmath.NewInt(300), channels[0].Transferred)
}

func TestSettleGivesUpAfterThreeAttempts(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	f.owe(t, 500)

	f.client.EXPECT().LookupChannel(gomock.Any(), gomock.Any()).
		Return(settlement.Channel{}, false, settlement.Retryable(errors.New("rpc unavailable"))).
		Times(3)

	require.Error(t, f.engine.Settle(context.Background(), settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(500),
	}))

	// ledger untouched, account back to idle so the monitor re-triggers
	account, ok := f.ledger.Snapshot(testPeer, testAsset)
	require.True(t, ok)
	require.Equal(t, sdkmath.NewInt(500), account.NetBalance)
	require.Equal(t, ledger.SettlementStateIdle, account.SettlementState)

	require.Equal(t, []telemetry.EventType{
		telemetry.EventTypeSettlementPending,
		telemetry.EventTypeSettlementFailed,
	}, drainEventTypes(f.sub))
}

func TestSettleSkipsAccountNotPending(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	require.NoError(t, f.ledger.Credit(context.Background(), testPeer, testAsset, sdkmath.NewInt(500)))

	require.NoError(t, f.engine.Settle(context.Background(), settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(500),
	}))
	require.Empty(t, drainEventTypes(f.sub))
}

func TestSettleFailsWithoutUsableMethod(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	peer := ilp.PeerID("peer-without-addresses")
	require.NoError(t, f.ledger.Credit(context.Background(), peer, testAsset, sdkmath.NewInt(500)))
	require.True(t, f.ledger.SetSettlementState(peer, testAsset,
		ledger.SettlementStateIdle, ledger.SettlementStatePending))

	err := f.engine.Settle(context.Background(), settlement.Trigger{
		Peer:   peer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(500),
	})
	require.ErrorContains(t, err, "no usable settlement method")
	require.Equal(t, []telemetry.EventType{
		telemetry.EventTypeSettlementFailed,
	}, drainEventTypes(f.sub))
}

func TestEnqueueSuppressesDuplicateTriggers(t *testing.T) {
	t.Parallel()

	f := newEngineFixture(t)
	trigger := settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(500),
	}
	require.True(t, f.engine.Enqueue(trigger))
	require.False(t, f.engine.Enqueue(trigger))
}

func TestSettleHonorsMethodPreference(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	log := logger.NewAnyLogMock(ctrl)
	balances := ledger.New(ledger.DefaultConfig())
	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), log, nil)

	evmClient := settlement.NewMockChannelClient(ctrl)
	evmClient.EXPECT().Method().Return(settlement.MethodEVM).AnyTimes()
	xrpClient := settlement.NewMockChannelClient(ctrl)
	xrpClient.EXPECT().Method().Return(settlement.MethodXRP).AnyTimes()

	cfg := settlement.EngineConfig{
		NodeID:     "node-a",
		Preference: settlement.PreferenceXRP,
		PeerAddresses: map[ilp.PeerID]settlement.PeerAddresses{
			testPeer: {
				EVM: "0x00000000000000000000000000000000000000bb",
				XRP: "rrrrrrrrrrrrrrrrrrrrrhoLvTp",
			},
		},
		DefaultInitialDeposit: sdkmath.NewInt(1000),
		DepositHeadroomBps:    2000,
		OperationTimeout:      time.Second,
		Retry:                 testRetryConfig(),
	}
	engine := settlement.NewEngine(cfg, log, balances, broker, evmClient, xrpClient)

	require.NoError(t, balances.Credit(context.Background(), testPeer, testAsset, sdkmath.NewInt(100)))
	require.True(t, balances.SetSettlementState(testPeer, testAsset,
		ledger.SettlementStateIdle, ledger.SettlementStatePending))

	xrpClient.EXPECT().LookupChannel(gomock.Any(), "rrrrrrrrrrrrrrrrrrrrrhoLvTp").
		Return(settlement.Channel{
			ChannelID:   "xrp-chan",
			Method:      settlement.MethodXRP,
			Deposit:     sdkmath.NewInt(10_000),
			Transferred: sdkmath.ZeroInt(),
			Status:      settlement.ChannelStatusActive,
		}, true, nil)
	xrpClient.EXPECT().SignBalanceProof(gomock.Any(), gomock.Any(), sdkmath.NewInt(100)).
		Return(settlement.BalanceProof{
			ChannelID:   "xrp-chan",
			Nonce:       1,
			Transferred: sdkmath.NewInt(100),
			Signature:   []byte("sig"),
		}, nil)

	require.NoError(t, engine.Settle(context.Background(), settlement.Trigger{
		Peer:   testPeer,
		Asset:  testAsset,
		Amount: sdkmath.NewInt(100),
	}))
}
