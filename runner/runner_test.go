package runner_test

import (
	"context"
	"path/filepath"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/runner"
	"github.com/interledgermesh/connector/settlement"
)

func TestNewComponentsWiresNodeFromConfig(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := logger.NewAnyLogMock(ctrl)

	cfg := validConfig()
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")

	components, err := runner.NewComponents(context.Background(), cfg, runner.Backends{}, log)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, components.EventStore.Close()) })

	// every configured peer gets a registered endpoint
	require.Len(t, components.Endpoints, 1)
	endpoint, ok := components.BTPRegistry.Get("peer-b")
	require.True(t, ok)
	require.Equal(t, ilp.PeerID("peer-b"), endpoint.PeerID())

	// static routes are loaded
	nextHop, ok := components.Routes.Lookup("g.node-b.alice")
	require.True(t, ok)
	require.Equal(t, ilp.PeerID("peer-b"), nextHop)

	// configured account limits are applied on first touch
	require.NoError(t, components.Ledger.Credit(context.Background(), "peer-b", "ILP", sdkmath.NewInt(1)))
	account, ok := components.Ledger.Snapshot("peer-b", "ILP")
	require.True(t, ok)
	require.NotNil(t, account.CreditLimit)
	require.Equal(t, sdkmath.NewInt(100000), *account.CreditLimit)
	require.NotNil(t, account.SettlementThreshold)
	require.Equal(t, sdkmath.NewInt(50000), *account.SettlementThreshold)

	require.NotNil(t, components.Pipeline)
	require.NotNil(t, components.Engine)
	require.NotNil(t, components.Monitor)
	require.NotNil(t, components.Detector)
	require.NotNil(t, components.TelemetryServer)
	require.NotNil(t, components.APIServer)
}

func TestNewComponentsDisablesSettlementMethodsWithoutBackends(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := logger.NewAnyLogMock(ctrl)

	cfg := validConfig()
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.Settlement.EVM.RPCURL = "https://base.example"

	// no backends injected, so no channel client is usable and the engine
	// must refuse to settle rather than panic
	components, err := runner.NewComponents(context.Background(), cfg, runner.Backends{}, log)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, components.EventStore.Close()) })

	require.Empty(t, components.Engine.Channels())
}

func TestNewComponentsBuildsEVMClientWithBackend(t *testing.T) {
	ctrl := gomock.NewController(t)
	log := logger.NewAnyLogMock(ctrl)

	cfg := validConfig()
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "events.db")
	cfg.Settlement.EVM.RPCURL = "https://base.example"
	cfg.Settlement.EVM.ChainID = 8453
	cfg.Settlement.EVM.TokenNetworkAddress = "0x00000000000000000000000000000000000000aa"

	backends := runner.Backends{EVM: settlement.NewMockEVMBackend(ctrl)}
	components, err := runner.NewComponents(context.Background(), cfg, backends, log)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, components.EventStore.Close()) })

	runnerInstance, err := runner.NewRunner(components, cfg)
	require.NoError(t, err)
	require.NotNil(t, runnerInstance)
}

func TestNewRunnerRejectsInvalidConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Node.ID = ""
	_, err := runner.NewRunner(runner.Components{}, cfg)
	require.Error(t, err)
}
