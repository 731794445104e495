package runner_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/interledgermesh/connector/keys"
	"github.com/interledgermesh/connector/runner"
)

func validConfig() runner.Config {
	cfg := runner.DefaultConfig()
	cfg.Node.ID = "node-a"
	cfg.Node.Address = "g.node-a"
	cfg.BTP.Peers = []runner.PeerConfig{{
		ID:                  "peer-b",
		URL:                 "ws://peer-b:8085",
		Secret:              "shared-secret",
		EVMAddress:          "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
		CreditLimit:         "100000",
		SettlementThreshold: "50000",
	}}
	cfg.Routes = []runner.RouteConfig{{
		Prefix: "g.node-b",
		PeerID: "peer-b",
	}}
	return cfg
}

func TestInitAndReadConfig(t *testing.T) {
	cfg := validConfig()

	tempDir := t.TempDir()
	// reading before init fails
	_, err := runner.ReadConfig(tempDir)
	require.Error(t, err)

	require.NoError(t, runner.InitConfig(tempDir, cfg))
	// the config must not be silently overwritten
	require.Error(t, runner.InitConfig(tempDir, cfg))

	readConfig, err := runner.ReadConfig(tempDir)
	require.NoError(t, err)
	require.Equal(t, cfg, readConfig)
}

func TestDefaultConfigYAMLRoundTrip(t *testing.T) {
	t.Parallel()

	cfg := runner.DefaultConfig()
	yamlBytes, err := yaml.Marshal(cfg)
	require.NoError(t, err)

	var readConfig runner.Config
	require.NoError(t, yaml.Unmarshal(yamlBytes, &readConfig))
	require.Equal(t, cfg, readConfig)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("NODE_ID", "node-env")
	t.Setenv("BTP_PORT", "9085")
	t.Setenv("SETTLEMENT_PREFERENCE", "xrp")
	t.Setenv("BASE_RPC_URL", "https://base.example")
	t.Setenv("XRPL_WSS_URL", "https://xrpl.example")
	t.Setenv("KEY_BACKEND", "aws-kms")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PROMETHEUS_ENABLED", "true")
	t.Setenv("HEALTH_CHECK_PORT", "9081")
	t.Setenv("TIGERBEETLE_CLUSTER_ID", "7")
	t.Setenv("TIGERBEETLE_REPLICAS", "127.0.0.1:3000,127.0.0.1:3001")
	t.Setenv("BTP_PEER_peer-b_SECRET", "env-secret")
	t.Setenv("XRP_ADDRESS", "rrrrrrrrrrrrrrrrrrrrrhoLvTp")

	cfg := runner.ApplyEnvOverrides(validConfig())

	require.Equal(t, "node-env", cfg.Node.ID)
	require.Equal(t, ":9085", cfg.BTP.ListenAddress)
	require.Equal(t, "xrp", cfg.Settlement.Preference)
	require.Equal(t, "https://base.example", cfg.Settlement.EVM.RPCURL)
	require.Equal(t, "https://xrpl.example", cfg.Settlement.XRP.URL)
	require.Equal(t, keys.BackendAWSKMS, cfg.Keys.Backend)
	require.Equal(t, "debug", cfg.LoggingConfig.Level)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, ":9081", cfg.API.ListenAddress)
	require.Equal(t, uint64(7), cfg.Ledger.TigerBeetle.ClusterID)
	require.Equal(t, []string{"127.0.0.1:3000", "127.0.0.1:3001"}, cfg.Ledger.TigerBeetle.Replicas)
	require.Equal(t, "env-secret", cfg.BTP.Peers[0].Secret)
	// the env XRP address fills the gap, the explicit EVM address stays
	require.Equal(t, "rrrrrrrrrrrrrrrrrrrrrhoLvTp", cfg.BTP.Peers[0].XRPAddress)
	require.Equal(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", cfg.BTP.Peers[0].EVMAddress)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(cfg *runner.Config)
	}{
		{
			name:   "missing_node_id",
			modify: func(cfg *runner.Config) { cfg.Node.ID = "" },
		},
		{
			name:   "missing_node_address",
			modify: func(cfg *runner.Config) { cfg.Node.Address = "" },
		},
		{
			name:   "invalid_settlement_preference",
			modify: func(cfg *runner.Config) { cfg.Settlement.Preference = "lightning" },
		},
		{
			name:   "invalid_initial_deposit",
			modify: func(cfg *runner.Config) { cfg.Settlement.DefaultInitialDeposit = "many" },
		},
		{
			name:   "missing_event_store_path",
			modify: func(cfg *runner.Config) { cfg.EventStore.Path = "" },
		},
		{
			name:   "missing_peer_secret",
			modify: func(cfg *runner.Config) { cfg.BTP.Peers[0].Secret = "" },
		},
		{
			name: "duplicate_peer",
			modify: func(cfg *runner.Config) {
				cfg.BTP.Peers = append(cfg.BTP.Peers, cfg.BTP.Peers[0])
			},
		},
		{
			name:   "invalid_credit_limit",
			modify: func(cfg *runner.Config) { cfg.BTP.Peers[0].CreditLimit = "lots" },
		},
		{
			name:   "route_to_unknown_peer",
			modify: func(cfg *runner.Config) { cfg.Routes[0].PeerID = "peer-z" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			require.NoError(t, cfg.Validate())
			tt.modify(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
