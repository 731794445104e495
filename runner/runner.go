package runner

import (
	"context"
	"runtime/debug"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	rippledata "github.com/rubblelabs/ripple/data"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/CoreumFoundation/coreum-tools/pkg/parallel"

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
	"github.com/interledgermesh/connector/routing"
	"github.com/interledgermesh/connector/settlement"
	"github.com/interledgermesh/connector/store"
	"github.com/interledgermesh/connector/telemetry"
	"github.com/interledgermesh/connector/tracing"
	"github.com/interledgermesh/connector/xrpl"
)

// Backends are the external on-ledger collaborators the node submits
// transactions through. Any of them may be nil: the matching settlement
// method is then disabled and, without a ledger backend, accounting stays
// in process.
type Backends struct {
	EVM    settlement.EVMBackend
	XRP    settlement.XRPBackend
	Ledger ledger.Backend
}

// Components groups components required by runner.
type Components struct {
	Log             logger.Logger
	RunnerConfig    Config
	MetricsRegistry *metrics.Registry
	KeyManager      keys.KeyManager
	EventStore      *store.EventStore
	Broker          *telemetry.Broker
	Ledger          *ledger.Ledger
	Routes          *routing.Table
	BTPRegistry     *btp.Registry
	BTPServer       *btp.Server
	Endpoints       []*btp.Endpoint
	Pipeline        *pipeline.Pipeline
	Detector        *fraud.Detector
	Engine          *settlement.Engine
	Monitor         *settlement.Monitor
	TelemetryServer *telemetry.Server
	APIServer       *httpapi.Server

	MetricsServer            *metrics.Server
	MetricsPeriodicCollector *metrics.PeriodicCollector
	MetricsEventCollector    *metrics.EventCollector
}

// NewComponents creates components required by runner and other CLI commands.
func NewComponents(ctx context.Context, cfg Config, backends Backends, log logger.Logger) (Components, error) {
	metricsRegistry := metrics.NewRegistry()
	log = logger.WithMetrics(log, metricsRegistry)

	keyManager, err := keys.New(ctx, cfg.Keys)
	if err != nil {
		return Components{}, err
	}

	eventStore, err := store.Open(ctx, store.Config{
		Path:              cfg.EventStore.Path,
		MaxEventCount:     cfg.EventStore.MaxEventCount,
		MaxAge:            cfg.EventStore.MaxAge,
		RetentionInterval: cfg.EventStore.RetentionInterval,
	}, log)
	if err != nil {
		return Components{}, err
	}

	broker := telemetry.NewBroker(telemetry.BrokerConfig{
		SubscriberQueueSize: cfg.Telemetry.SubscriberQueueSize,
	}, log, eventStore)

	balances := newLedger(cfg, backends.Ledger)
	routes := routing.NewTable()
	for _, route := range cfg.Routes {
		routes.Upsert(ilp.Address(route.Prefix), ilp.PeerID(route.PeerID), route.Priority)
	}

	var detector *fraud.Detector
	var pause pipeline.PauseController
	if cfg.Fraud.Enabled {
		detector = newDetector(cfg, log, broker)
		pause = detector
	}

	registry := btp.NewRegistry()
	pipe := pipeline.New(pipeline.Config{
		NodeID:         cfg.Node.ID,
		Address:        ilp.Address(cfg.Node.Address),
		Asset:          ilp.AssetID(cfg.Node.Asset),
		RateLimit:      rate.Limit(cfg.Pipeline.RateLimit),
		RateBurst:      cfg.Pipeline.RateBurst,
		FeeBasisPoints: cfg.Pipeline.FeeBasisPoints,
		FlatFee:        parseAmountOrZero(cfg.Pipeline.FlatFee),
		ExpiryMargin:   cfg.Pipeline.ExpiryMargin,
	}, log, balances, routes, registryEndpoints{registry: registry}, nil, pause, broker)

	endpoints := make([]*btp.Endpoint, 0, len(cfg.BTP.Peers))
	peerSecrets := make(map[ilp.PeerID]string, len(cfg.BTP.Peers))
	for _, peer := range cfg.BTP.Peers {
		endpointCfg := btp.DefaultEndpointConfig()
		endpointCfg.PeerID = ilp.PeerID(peer.ID)
		endpointCfg.NodeID = cfg.Node.ID
		endpointCfg.URL = peer.URL
		endpointCfg.Secret = peer.Secret
		endpointCfg.SendQueueSize = cfg.BTP.SendQueueSize
		endpointCfg.PingInterval = cfg.BTP.PingInterval
		endpointCfg.ResponseSlack = cfg.BTP.ResponseSlack

		endpoint := btp.NewEndpoint(endpointCfg, log, broker, pipe)
		registry.Register(endpoint)
		endpoints = append(endpoints, endpoint)
		peerSecrets[ilp.PeerID(peer.ID)] = peer.Secret
	}

	btpServer := btp.NewServer(btp.ServerConfig{
		ListenAddress: cfg.BTP.ListenAddress,
		PeerSecrets:   peerSecrets,
	}, log, registry)

	channelClients, err := newChannelClients(cfg, backends, log, keyManager)
	if err != nil {
		return Components{}, err
	}

	engineCfg := settlement.EngineConfig{
		NodeID:                cfg.Node.ID,
		Preference:            settlement.Preference(cfg.Settlement.Preference),
		PeerAddresses:         peerAddresses(cfg),
		DefaultInitialDeposit: parseAmountOrZero(cfg.Settlement.DefaultInitialDeposit),
		DepositHeadroomBps:    cfg.Settlement.DepositHeadroomBps,
		OperationTimeout:      cfg.Settlement.OperationTimeout,
		Retry: settlement.RetryConfig{
			BaseDelay:   cfg.Settlement.Retry.BaseDelay,
			MaxDelay:    cfg.Settlement.Retry.MaxDelay,
			MaxAttempts: cfg.Settlement.Retry.MaxAttempts,
		},
	}
	engine := settlement.NewEngine(engineCfg, log, balances, broker, channelClients...)

	monitor := settlement.NewMonitor(settlement.MonitorConfig{
		NodeID:       cfg.Node.ID,
		ScanInterval: cfg.Settlement.ScanInterval,
	}, log, balances, broker, engine)

	telemetryServer := telemetry.NewServer(telemetry.ServerConfig{
		ListenAddress: cfg.Telemetry.ListenAddress,
		WriteTimeout:  cfg.Telemetry.WriteTimeout,
	}, log, broker,
		channelSnapshotSource{nodeID: cfg.Node.ID, engine: engine},
		balanceSnapshotSource{nodeID: cfg.Node.ID, ledger: balances},
	)

	apiServer := httpapi.NewServer(httpapi.ServerConfig{
		ListenAddress:  cfg.API.ListenAddress,
		RequestTimeout: cfg.API.RequestTimeout,
	}, log, balances, routes, engine, eventStore)

	var pauses metrics.PauseRegistry
	if detector != nil {
		pauses = detector
	}
	periodicCollector := metrics.NewPeriodicCollector(metrics.PeriodicCollectorConfig{
		RepeatDelay: cfg.Metrics.PeriodicCollector.RepeatDelay,
	}, log, metricsRegistry, balances, engine, broker, eventStore, pauses)

	return Components{
		Log:             log,
		RunnerConfig:    cfg,
		MetricsRegistry: metricsRegistry,
		KeyManager:      keyManager,
		EventStore:      eventStore,
		Broker:          broker,
		Ledger:          balances,
		Routes:          routes,
		BTPRegistry:     registry,
		BTPServer:       btpServer,
		Endpoints:       endpoints,
		Pipeline:        pipe,
		Detector:        detector,
		Engine:          engine,
		Monitor:         monitor,
		TelemetryServer: telemetryServer,
		APIServer:       apiServer,

		MetricsServer:            metrics.NewServer(metrics.ServerConfig{ListenAddress: cfg.Metrics.Server.ListenAddress}, log, metricsRegistry),
		MetricsPeriodicCollector: periodicCollector,
		MetricsEventCollector:    metrics.NewEventCollector(log, metricsRegistry, broker),
	}, nil
}

func newLedger(cfg Config, backend ledger.Backend) *ledger.Ledger {
	limits := make(map[ledger.AccountKey]ledger.AccountLimits, len(cfg.BTP.Peers))
	for _, peer := range cfg.BTP.Peers {
		accountLimits := ledger.AccountLimits{}
		if peer.CreditLimit != "" {
			limit := parseAmountOrZero(peer.CreditLimit)
			accountLimits.CreditLimit = &limit
		}
		if peer.SettlementThreshold != "" {
			threshold := parseAmountOrZero(peer.SettlementThreshold)
			accountLimits.SettlementThreshold = &threshold
		}
		limits[ledger.AccountKey{Peer: ilp.PeerID(peer.ID), Asset: ilp.AssetID(cfg.Node.Asset)}] = accountLimits
	}

	opts := []ledger.Option{ledger.WithAccountLimits(limits)}
	if backend != nil {
		opts = append(opts, ledger.WithBackend(backend))
	}
	return ledger.New(ledger.Config{HistorySize: cfg.Ledger.HistorySize}, opts...)
}

func newDetector(cfg Config, log logger.Logger, broker *telemetry.Broker) *fraud.Detector {
	rulesCfg := fraud.DefaultRulesConfig()
	if cfg.Fraud.MaxPacketAmount != "" {
		rulesCfg.MaxPacketAmount = parseAmountOrZero(cfg.Fraud.MaxPacketAmount)
	}
	if cfg.Fraud.PacketRateWindow > 0 {
		rulesCfg.PacketRateWindow = cfg.Fraud.PacketRateWindow
	}
	if cfg.Fraud.MaxPacketsPerWindow > 0 {
		rulesCfg.MaxPacketsPerWindow = cfg.Fraud.MaxPacketsPerWindow
	}
	if cfg.Fraud.RejectWindow > 0 {
		rulesCfg.RejectWindow = cfg.Fraud.RejectWindow
	}
	if cfg.Fraud.MaxRejectsPerWindow > 0 {
		rulesCfg.MaxRejectsPerWindow = cfg.Fraud.MaxRejectsPerWindow
	}

	detectorCfg := fraud.DefaultDetectorConfig(cfg.Node.ID)
	if cfg.Fraud.InitialScore > 0 {
		detectorCfg.InitialScore = cfg.Fraud.InitialScore
	}
	if cfg.Fraud.PauseThreshold > 0 {
		detectorCfg.PauseThreshold = cfg.Fraud.PauseThreshold
	}

	return fraud.NewDetector(detectorCfg, log, broker, fraud.DefaultRules(rulesCfg)...)
}

func newChannelClients(
	cfg Config,
	backends Backends,
	log logger.Logger,
	keyManager keys.KeyManager,
) ([]settlement.ChannelClient, error) {
	var clients []settlement.ChannelClient
	preference := settlement.Preference(cfg.Settlement.Preference)

	for _, method := range preference.Methods() {
		switch method {
		case settlement.MethodEVM:
			if backends.EVM == nil || cfg.Settlement.EVM.RPCURL == "" {
				continue
			}
			signer := keys.NewEvmSigner(keyManager, cfg.Settlement.EVM.KeyID)
			clients = append(clients, settlement.NewEVMClient(settlement.EVMClientConfig{
				ChainID:             cfg.Settlement.EVM.ChainID,
				TokenNetworkAddress: common.HexToAddress(cfg.Settlement.EVM.TokenNetworkAddress),
			}, backends.EVM, signer))

		case settlement.MethodXRP:
			if backends.XRP == nil || cfg.Settlement.XRP.URL == "" {
				continue
			}
			account, err := rippledata.NewAccountFromAddress(cfg.Settlement.XRP.Account)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid XRPL account:%s", cfg.Settlement.XRP.Account)
			}
			rpcClient := xrpl.NewRPCClient(xrpl.RPCClientConfig{
				URL:       cfg.Settlement.XRP.URL,
				PageLimit: cfg.Settlement.XRP.PageLimit,
			}, log, httpclient.NewClient(httpclient.ClientConfig{
				RequestTimeout: cfg.Settlement.XRP.HTTPClient.RequestTimeout,
				CallTimeout:    cfg.Settlement.XRP.HTTPClient.CallTimeout,
				RetryDelay:     cfg.Settlement.XRP.HTTPClient.RetryDelay,
			}))
			clients = append(clients, settlement.NewXRPClient(settlement.XRPClientConfig{
				Account:     *account,
				KeyID:       cfg.Settlement.XRP.KeyID,
				SettleDelay: cfg.Settlement.XRP.SettleDelay,
			}, rpcClient, backends.XRP, keyManager))
		}
	}

	return clients, nil
}

func peerAddresses(cfg Config) map[ilp.PeerID]settlement.PeerAddresses {
	addresses := make(map[ilp.PeerID]settlement.PeerAddresses, len(cfg.BTP.Peers))
	for _, peer := range cfg.BTP.Peers {
		addresses[ilp.PeerID(peer.ID)] = settlement.PeerAddresses{
			EVM: peer.EVMAddress,
			XRP: peer.XRPAddress,
		}
	}
	return addresses
}

func parseAmountOrZero(s string) sdkmath.Int {
	amount, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.ZeroInt()
	}
	return amount
}

// registryEndpoints adapts the BTP registry to the pipeline's endpoint
// resolver.
type registryEndpoints struct {
	registry *btp.Registry
}

func (r registryEndpoints) Endpoint(peerID ilp.PeerID) (pipeline.Endpoint, bool) {
	endpoint, ok := r.registry.Get(peerID)
	if !ok {
		return nil, false
	}
	return endpoint, true
}

type channelSnapshotSource struct {
	nodeID string
	engine *settlement.Engine
}

func (s channelSnapshotSource) InitialStateEvents(ctx context.Context) []telemetry.Event {
	return []telemetry.Event{telemetry.NewEvent(telemetry.EventTypeInitialChannelState, s.nodeID, map[string]any{
		"channels": s.engine.Channels(),
	})}
}

type balanceSnapshotSource struct {
	nodeID string
	ledger *ledger.Ledger
}

func (s balanceSnapshotSource) InitialStateEvents(ctx context.Context) []telemetry.Event {
	return []telemetry.Event{telemetry.NewEvent(telemetry.EventTypeInitialBalanceState, s.nodeID, map[string]any{
		"balances": s.ledger.Snapshots(),
	})}
}

// Runner is the connector runner which aggregates all node components.
type Runner struct {
	cfg        Config
	log        logger.Logger
	components Components
	startedAt  time.Time
}

// NewRunner returns new runner from the components.
func NewRunner(components Components, cfg Config) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		cfg:        cfg,
		log:        components.Log,
		components: components,
	}, nil
}

// Start starts runner.
func (r *Runner) Start(ctx context.Context) error {
	r.startedAt = time.Now()

	runnerProcesses := map[string]func(context.Context) error{
		"btp-server":            r.components.BTPServer.Start,
		"settlement-engine":     r.withRestartOnError(r.components.Engine.Run),
		"settlement-monitor":    r.withRestartOnError(r.components.Monitor.Run),
		"telemetry-server":      r.components.TelemetryServer.Start,
		"http-api":              r.components.APIServer.Start,
		"event-store-retention": r.withRestartOnError(r.components.EventStore.RunRetention),
		"heartbeat":             r.heartbeat,
	}
	for _, endpoint := range r.components.Endpoints {
		runnerProcesses["btp-endpoint-"+string(endpoint.PeerID())] = r.withRestartOnError(endpoint.Run)
	}
	if r.components.Detector != nil {
		runnerProcesses["fraud-detector"] = r.withRestartOnError(r.components.Detector.Run)
	}
	if r.cfg.Metrics.Enabled {
		runnerProcesses["metrics-server"] = r.components.MetricsServer.Start
		runnerProcesses["metrics-periodic-collector"] = r.components.MetricsPeriodicCollector.Start
		runnerProcesses["metrics-event-collector"] = r.withRestartOnError(r.components.MetricsEventCollector.Run)
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		for name, start := range runnerProcesses {
			name := name
			start := start
			spawn(name, parallel.Continue, func(ctx context.Context) error {
				ctx = tracing.WithTracingProcess(ctx, name)
				return start(ctx)
			})
		}
		return nil
	})
}

func (r *Runner) withRestartOnError(task parallel.Task) parallel.Task {
	return func(ctx context.Context) error {
		for {
			// start process and handle the panic

			err := func() (err error) {
				defer func() {
					if p := recover(); p != nil {
						err = errors.Wrap(parallel.ErrPanic{Value: p, Stack: debug.Stack()}, "handled panic")
					}
				}()
				return task(ctx)
			}()

			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}

			// restart the process if it is restartable

			r.log.Error(ctx, "Received unexpected error from the process", zap.Error(err))
			if r.cfg.Processes.ExitOnError {
				r.log.Warn(ctx, "The process is not auto-restartable on error")
				return err
			}
			r.log.Info(ctx, "Restarting process after the error")
		}
	}
}

// heartbeat periodically emits the NODE_STATUS telemetry event with the
// node's uptime and peer connectivity.
func (r *Runner) heartbeat(ctx context.Context) error {
	interval := r.cfg.Processes.HeartbeatInterval
	if interval <= 0 {
		interval = DefaultConfig().Processes.HeartbeatInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			connected := 0
			for _, endpoint := range r.components.Endpoints {
				if endpoint.State() == btp.StateReady {
					connected++
				}
			}
			r.components.Broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeNodeStatus, r.cfg.Node.ID, map[string]any{
				"uptimeSeconds":  int64(time.Since(r.startedAt).Seconds()),
				"peers":          len(r.components.Endpoints),
				"connectedPeers": connected,
			}))
		}
	}
}
