//nolint:tagliatelle // yaml naming
package runner

import (
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"
	rippledata "github.com/rubblelabs/ripple/data"
	"gopkg.in/yaml.v3"

	"github.com/interledgermesh/connector/btp"
	httpclient "github.com/interledgermesh/connector/client/http"
	"github.com/interledgermesh/connector/fraud"
	"github.com/interledgermesh/connector/httpapi"
	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/keys"
	"github.com/interledgermesh/connector/ledger"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/metrics"
	"github.com/interledgermesh/connector/pipeline"
	"github.com/interledgermesh/connector/settlement"
	"github.com/interledgermesh/connector/store"
	"github.com/interledgermesh/connector/telemetry"
	"github.com/interledgermesh/connector/xrpl"
)

const (
	configVersion = "v1"
	// ConfigFileName is file name used for the connector config.
	ConfigFileName = "connector.yaml"
)

// Environment variables overriding the config file.
const (
	EnvNodeID               = "NODE_ID"
	EnvBTPPort              = "BTP_PORT"
	EnvSettlementPreference = "SETTLEMENT_PREFERENCE"
	EnvEVMAddress           = "EVM_ADDRESS"
	EnvBaseRPCURL           = "BASE_RPC_URL"
	EnvXRPAddress           = "XRP_ADDRESS"
	EnvXRPLWSSURL           = "XRPL_WSS_URL"
	EnvKeyBackend           = "KEY_BACKEND"
	EnvLogLevel             = "LOG_LEVEL"
	EnvPrometheusEnabled    = "PROMETHEUS_ENABLED"
	EnvHealthCheckPort      = "HEALTH_CHECK_PORT"
	EnvTigerBeetleClusterID = "TIGERBEETLE_CLUSTER_ID"
	EnvTigerBeetleReplicas  = "TIGERBEETLE_REPLICAS"
)

// LoggingConfig is logging config.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NodeConfig is the node identity config.
type NodeConfig struct {
	ID string `yaml:"id"`
	// Address is this node's own ILP address.
	Address string `yaml:"address"`
	// Asset all bilateral accounts are denominated in.
	Asset string `yaml:"asset"`
}

// PeerConfig is one configured BTP peer.
type PeerConfig struct {
	ID string `yaml:"id"`
	// URL to dial for outbound connections; empty for accept-only peers.
	URL string `yaml:"url"`
	// Secret is the shared BTP secret; BTP_PEER_<id>_SECRET overrides it.
	Secret string `yaml:"secret"`
	// EVMAddress and XRPAddress are the peer's settlement addresses.
	EVMAddress string `yaml:"evm_address"`
	XRPAddress string `yaml:"xrp_address"`
	// CreditLimit and SettlementThreshold are decimal amounts; empty means
	// unlimited / never settle.
	CreditLimit         string `yaml:"credit_limit"`
	SettlementThreshold string `yaml:"settlement_threshold"`
}

// RouteConfig is one static routing table entry.
type RouteConfig struct {
	Prefix   string `yaml:"prefix"`
	PeerID   string `yaml:"peer_id"`
	Priority int    `yaml:"priority"`
}

// BTPConfig is the BTP transport config.
type BTPConfig struct {
	ListenAddress string        `yaml:"listen_address"`
	SendQueueSize int           `yaml:"send_queue_size"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	ResponseSlack time.Duration `yaml:"response_slack"`
	Peers         []PeerConfig  `yaml:"peers"`
}

// PipelineConfig is the forwarding pipeline config.
type PipelineConfig struct {
	RateLimit      float64       `yaml:"rate_limit"`
	RateBurst      int           `yaml:"rate_burst"`
	FeeBasisPoints int64         `yaml:"fee_basis_points"`
	FlatFee        string        `yaml:"flat_fee"`
	ExpiryMargin   time.Duration `yaml:"expiry_margin"`
}

// TigerBeetleConfig is the external double-entry ledger backend config.
type TigerBeetleConfig struct {
	ClusterID uint64   `yaml:"cluster_id"`
	Replicas  []string `yaml:"replicas"`
}

// LedgerConfig is the bilateral ledger config.
type LedgerConfig struct {
	HistorySize int               `yaml:"history_size"`
	TigerBeetle TigerBeetleConfig `yaml:"tigerbeetle"`
}

// EVMSettlementConfig is the EVM settlement target config.
type EVMSettlementConfig struct {
	RPCURL              string `yaml:"rpc_url"`
	ChainID             int64  `yaml:"chain_id"`
	TokenNetworkAddress string `yaml:"token_network_address"`
	KeyID               string `yaml:"key_id"`
}

// XRPSettlementConfig is the XRPL settlement target config.
type XRPSettlementConfig struct {
	URL         string                  `yaml:"url"`
	PageLimit   uint32                  `yaml:"page_limit"`
	Account     string                  `yaml:"account"`
	KeyID       string                  `yaml:"key_id"`
	SettleDelay uint32                  `yaml:"settle_delay"`
	HTTPClient  XRPHTTPClientConfig     `yaml:"http_client"`
}

// XRPHTTPClientConfig is the XRPL JSON-RPC http client config.
type XRPHTTPClientConfig struct {
	RequestTimeout time.Duration `yaml:"request_timeout"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

// SettlementRetryConfig is the on-ledger operation retry config.
type SettlementRetryConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// SettlementConfig is the settlement engine and monitor config.
type SettlementConfig struct {
	Preference            string                `yaml:"preference"`
	DefaultInitialDeposit string                `yaml:"default_initial_deposit"`
	DepositHeadroomBps    int64                 `yaml:"deposit_headroom_bps"`
	OperationTimeout      time.Duration         `yaml:"operation_timeout"`
	ScanInterval          time.Duration         `yaml:"scan_interval"`
	Retry                 SettlementRetryConfig `yaml:"retry"`
	EVM                   EVMSettlementConfig   `yaml:"evm"`
	XRP                   XRPSettlementConfig   `yaml:"xrp"`
}

// TelemetryConfig is the telemetry broker and observer server config.
type TelemetryConfig struct {
	ListenAddress       string        `yaml:"listen_address"`
	SubscriberQueueSize int           `yaml:"subscriber_queue_size"`
	WriteTimeout        time.Duration `yaml:"write_timeout"`
}

// EventStoreConfig is the telemetry archive config.
type EventStoreConfig struct {
	Path              string        `yaml:"path"`
	MaxEventCount     int           `yaml:"max_event_count"`
	MaxAge            time.Duration `yaml:"max_age"`
	RetentionInterval time.Duration `yaml:"retention_interval"`
}

// FraudConfig is the fraud detector config.
type FraudConfig struct {
	Enabled             bool          `yaml:"enabled"`
	InitialScore        int64         `yaml:"initial_score"`
	PauseThreshold      int64         `yaml:"pause_threshold"`
	MaxPacketAmount     string        `yaml:"max_packet_amount"`
	PacketRateWindow    time.Duration `yaml:"packet_rate_window"`
	MaxPacketsPerWindow int           `yaml:"max_packets_per_window"`
	RejectWindow        time.Duration `yaml:"reject_window"`
	MaxRejectsPerWindow int           `yaml:"max_rejects_per_window"`
}

// MetricsServerConfig is metric server config.
type MetricsServerConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// MetricsPeriodicCollectorConfig is the periodic metric collector config.
type MetricsPeriodicCollectorConfig struct {
	RepeatDelay time.Duration `yaml:"repeat_delay"`
}

// MetricsConfig is metric config.
type MetricsConfig struct {
	Enabled           bool                           `yaml:"enabled"`
	Server            MetricsServerConfig            `yaml:"server"`
	PeriodicCollector MetricsPeriodicCollectorConfig `yaml:"periodic_collector"`
}

// APIConfig is the HTTP control API config.
type APIConfig struct {
	ListenAddress  string        `yaml:"listen_address"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ProcessesConfig is processes config.
type ProcessesConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ExitOnError       bool          `yaml:"-"`
}

// Config is connector runner config.
type Config struct {
	Version       string           `yaml:"version"`
	Node          NodeConfig       `yaml:"node"`
	LoggingConfig LoggingConfig    `yaml:"logging"`
	BTP           BTPConfig        `yaml:"btp"`
	Routes        []RouteConfig    `yaml:"routes"`
	Pipeline      PipelineConfig   `yaml:"pipeline"`
	Ledger        LedgerConfig     `yaml:"ledger"`
	Settlement    SettlementConfig `yaml:"settlement"`
	Keys          keys.Config      `yaml:"keys"`
	Telemetry     TelemetryConfig  `yaml:"telemetry"`
	EventStore    EventStoreConfig `yaml:"event_store"`
	Fraud         FraudConfig      `yaml:"fraud"`
	API           APIConfig        `yaml:"api"`
	Metrics       MetricsConfig    `yaml:"metrics"`
	Processes     ProcessesConfig  `yaml:"processes"`
}

// DefaultConfig returns default connector config.
func DefaultConfig() Config {
	defaultPipelineCfg := pipeline.DefaultConfig()
	defaultEndpointCfg := btp.DefaultEndpointConfig()
	defaultLedgerCfg := ledger.DefaultConfig()
	defaultEngineCfg := settlement.DefaultEngineConfig("")
	defaultMonitorCfg := settlement.DefaultMonitorConfig("")
	defaultXRPCfg := settlement.DefaultXRPClientConfig(rippledata.Account{})
	defaultXRPLRPCCfg := xrpl.DefaultRPCClientConfig("")
	defaultHTTPClientCfg := httpclient.DefaultClientConfig()
	defaultBrokerCfg := telemetry.DefaultBrokerConfig()
	defaultTelemetryServerCfg := telemetry.DefaultServerConfig()
	defaultStoreCfg := store.DefaultConfig()
	defaultDetectorCfg := fraud.DefaultDetectorConfig("")
	defaultRulesCfg := fraud.DefaultRulesConfig()
	defaultAPICfg := httpapi.DefaultServerConfig()
	defaultMetricsServerCfg := metrics.DefaultServerConfig()
	defaultPeriodicCollectorCfg := metrics.DefaultPeriodicCollectorConfig()

	return Config{
		Version: configVersion,
		Node: NodeConfig{
			// empty by default
			ID:      "",
			Address: "",
			Asset:   string(defaultPipelineCfg.Asset),
		},
		LoggingConfig: LoggingConfig(logger.DefaultZapLoggerConfig()),
		BTP: BTPConfig{
			ListenAddress: ":8085",
			SendQueueSize: defaultEndpointCfg.SendQueueSize,
			PingInterval:  defaultEndpointCfg.PingInterval,
			ResponseSlack: defaultEndpointCfg.ResponseSlack,
			Peers:         []PeerConfig{},
		},
		Routes: []RouteConfig{},
		Pipeline: PipelineConfig{
			RateLimit:      float64(defaultPipelineCfg.RateLimit),
			RateBurst:      defaultPipelineCfg.RateBurst,
			FeeBasisPoints: defaultPipelineCfg.FeeBasisPoints,
			FlatFee:        defaultPipelineCfg.FlatFee.String(),
			ExpiryMargin:   defaultPipelineCfg.ExpiryMargin,
		},
		Ledger: LedgerConfig{
			HistorySize: defaultLedgerCfg.HistorySize,
			TigerBeetle: TigerBeetleConfig{
				// empty by default, in-process ledger only
				ClusterID: 0,
				Replicas:  []string{},
			},
		},
		Settlement: SettlementConfig{
			Preference:            string(defaultEngineCfg.Preference),
			DefaultInitialDeposit: defaultEngineCfg.DefaultInitialDeposit.String(),
			DepositHeadroomBps:    defaultEngineCfg.DepositHeadroomBps,
			OperationTimeout:      defaultEngineCfg.OperationTimeout,
			ScanInterval:          defaultMonitorCfg.ScanInterval,
			Retry: SettlementRetryConfig{
				BaseDelay:   defaultEngineCfg.Retry.BaseDelay,
				MaxDelay:    defaultEngineCfg.Retry.MaxDelay,
				MaxAttempts: defaultEngineCfg.Retry.MaxAttempts,
			},
			EVM: EVMSettlementConfig{
				// empty by default
				RPCURL:              "",
				ChainID:             0,
				TokenNetworkAddress: "",
				KeyID:               "settlement",
			},
			XRP: XRPSettlementConfig{
				// empty by default
				URL:         "",
				PageLimit:   defaultXRPLRPCCfg.PageLimit,
				Account:     "",
				KeyID:       "xrp-channel",
				SettleDelay: defaultXRPCfg.SettleDelay,
				HTTPClient: XRPHTTPClientConfig{
					RequestTimeout: defaultHTTPClientCfg.RequestTimeout,
					CallTimeout:    defaultHTTPClientCfg.CallTimeout,
					RetryDelay:     defaultHTTPClientCfg.RetryDelay,
				},
			},
		},
		Keys: keys.DefaultConfig(),
		Telemetry: TelemetryConfig{
			ListenAddress:       defaultTelemetryServerCfg.ListenAddress,
			SubscriberQueueSize: defaultBrokerCfg.SubscriberQueueSize,
			WriteTimeout:        defaultTelemetryServerCfg.WriteTimeout,
		},
		EventStore: EventStoreConfig{
			Path:              defaultStoreCfg.Path,
			MaxEventCount:     defaultStoreCfg.MaxEventCount,
			MaxAge:            defaultStoreCfg.MaxAge,
			RetentionInterval: defaultStoreCfg.RetentionInterval,
		},
		Fraud: FraudConfig{
			Enabled:             true,
			InitialScore:        defaultDetectorCfg.InitialScore,
			PauseThreshold:      defaultDetectorCfg.PauseThreshold,
			MaxPacketAmount:     defaultRulesCfg.MaxPacketAmount.String(),
			PacketRateWindow:    defaultRulesCfg.PacketRateWindow,
			MaxPacketsPerWindow: defaultRulesCfg.MaxPacketsPerWindow,
			RejectWindow:        defaultRulesCfg.RejectWindow,
			MaxRejectsPerWindow: defaultRulesCfg.MaxRejectsPerWindow,
		},
		API: APIConfig{
			ListenAddress:  defaultAPICfg.ListenAddress,
			RequestTimeout: defaultAPICfg.RequestTimeout,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Server: MetricsServerConfig{
				ListenAddress: defaultMetricsServerCfg.ListenAddress,
			},
			PeriodicCollector: MetricsPeriodicCollectorConfig{
				RepeatDelay: defaultPeriodicCollectorCfg.RepeatDelay,
			},
		},
		Processes: ProcessesConfig{
			HeartbeatInterval: 30 * time.Second,
		},
	}
}

// InitConfig creates config yaml file.
func InitConfig(homePath string, cfg Config) error {
	path := BuildFilePath(homePath)
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		return errors.Errorf("failed to init config, file already exists, path:%s", path)
	}

	if err := os.MkdirAll(homePath, 0o700); err != nil {
		return errors.Errorf("failed to create dirs by path:%s", path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "failed to create config file, path:%s", path)
	}
	defer file.Close()
	yamlStringConfig, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "failed convert default config to yaml")
	}
	if _, err := file.Write(yamlStringConfig); err != nil {
		return errors.Wrapf(err, "failed to write yaml config file, path:%s", path)
	}

	return nil
}

// ReadConfig reads config yaml file from the home directory, applies the
// environment overrides and validates the result.
func ReadConfig(homePath string) (Config, error) {
	path := BuildFilePath(homePath)
	file, err := os.OpenFile(path, os.O_RDONLY, 0o600)
	defer file.Close() //nolint:staticcheck //we accept the error ignoring
	if errors.Is(err, os.ErrNotExist) {
		return Config{}, errors.Errorf("config file does not exist, path:%s", path)
	}
	fileBytes, err := io.ReadAll(file)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config file, path:%s", path)
	}

	var config Config
	if err := yaml.Unmarshal(fileBytes, &config); err != nil {
		return Config{}, errors.Wrapf(err, "failed to unmarshal file to yaml, path:%s", path)
	}

	config = ApplyEnvOverrides(config)
	if err := config.Validate(); err != nil {
		return Config{}, err
	}

	return config, nil
}

// BuildFilePath returns the config file path inside the home directory.
func BuildFilePath(homePath string) string {
	return filepath.Join(homePath, ConfigFileName)
}

// ApplyEnvOverrides overlays the recognized environment variables on top of
// the file config. Unset variables leave the file values untouched.
func ApplyEnvOverrides(cfg Config) Config {
	if v, ok := os.LookupEnv(EnvNodeID); ok {
		cfg.Node.ID = v
	}
	if v, ok := os.LookupEnv(EnvBTPPort); ok {
		cfg.BTP.ListenAddress = ":" + v
	}
	if v, ok := os.LookupEnv(EnvSettlementPreference); ok {
		cfg.Settlement.Preference = v
	}
	if v, ok := os.LookupEnv(EnvBaseRPCURL); ok {
		cfg.Settlement.EVM.RPCURL = v
	}
	if v, ok := os.LookupEnv(EnvXRPLWSSURL); ok {
		cfg.Settlement.XRP.URL = v
	}
	if v, ok := os.LookupEnv(EnvKeyBackend); ok {
		cfg.Keys.Backend = keys.Backend(v)
	}
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		cfg.LoggingConfig.Level = v
	}
	if v, ok := os.LookupEnv(EnvPrometheusEnabled); ok {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Metrics.Enabled = enabled
		}
	}
	if v, ok := os.LookupEnv(EnvHealthCheckPort); ok {
		cfg.API.ListenAddress = ":" + v
	}
	if v, ok := os.LookupEnv(EnvTigerBeetleClusterID); ok {
		if clusterID, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Ledger.TigerBeetle.ClusterID = clusterID
		}
	}
	if v, ok := os.LookupEnv(EnvTigerBeetleReplicas); ok {
		cfg.Ledger.TigerBeetle.Replicas = strings.Split(v, ",")
	}

	for i := range cfg.BTP.Peers {
		peer := &cfg.BTP.Peers[i]
		if v, ok := os.LookupEnv(btp.PeerSecretEnvName(ilp.PeerID(peer.ID))); ok {
			peer.Secret = v
		}
		// single-peer deployments configure the counterparty address via env
		if v, ok := os.LookupEnv(EnvEVMAddress); ok && peer.EVMAddress == "" {
			peer.EVMAddress = v
		}
		if v, ok := os.LookupEnv(EnvXRPAddress); ok && peer.XRPAddress == "" {
			peer.XRPAddress = v
		}
	}

	return cfg
}

// Validate reports the first fatal configuration error.
func (cfg Config) Validate() error {
	if cfg.Node.ID == "" {
		return errors.New("node id is not configured")
	}
	if cfg.Node.Address == "" {
		return errors.New("node ILP address is not configured")
	}
	switch settlement.Preference(cfg.Settlement.Preference) {
	case settlement.PreferenceEVM, settlement.PreferenceXRP, settlement.PreferenceBoth:
	default:
		return errors.Errorf("invalid settlement preference:%s", cfg.Settlement.Preference)
	}
	if _, err := parseAmount(cfg.Settlement.DefaultInitialDeposit); err != nil {
		return errors.Wrap(err, "invalid settlement default initial deposit")
	}
	if cfg.Pipeline.FlatFee != "" {
		if _, err := parseAmount(cfg.Pipeline.FlatFee); err != nil {
			return errors.Wrap(err, "invalid pipeline flat fee")
		}
	}
	if cfg.EventStore.Path == "" {
		return errors.New("event store path is not configured")
	}

	seen := make(map[string]struct{}, len(cfg.BTP.Peers))
	for _, peer := range cfg.BTP.Peers {
		if peer.ID == "" {
			return errors.New("peer id is not configured")
		}
		if _, ok := seen[peer.ID]; ok {
			return errors.Errorf("duplicate peer id:%s", peer.ID)
		}
		seen[peer.ID] = struct{}{}
		if peer.Secret == "" {
			return errors.Errorf("secret is not configured for peer:%s, set it in the config or via %s",
				peer.ID, btp.PeerSecretEnvName(ilp.PeerID(peer.ID)))
		}
		if peer.CreditLimit != "" {
			if _, err := parseAmount(peer.CreditLimit); err != nil {
				return errors.Wrapf(err, "invalid credit limit for peer:%s", peer.ID)
			}
		}
		if peer.SettlementThreshold != "" {
			if _, err := parseAmount(peer.SettlementThreshold); err != nil {
				return errors.Wrapf(err, "invalid settlement threshold for peer:%s", peer.ID)
			}
		}
	}

	for _, route := range cfg.Routes {
		if route.Prefix == "" || route.PeerID == "" {
			return errors.Errorf("route must set both prefix and peer id, prefix:%s, peer:%s",
				route.Prefix, route.PeerID)
		}
		if _, ok := seen[route.PeerID]; !ok {
			return errors.Errorf("route next hop is not a configured peer:%s", route.PeerID)
		}
	}

	return nil
}

func parseAmount(s string) (sdkmath.Int, error) {
	amount, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, errors.Errorf("failed to parse amount:%s", s)
	}
	return amount, nil
}
