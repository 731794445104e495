package settlement

import (
	"context"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/ledger"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
)

// Trigger asks the engine to settle the given magnitude of the bilateral
// net balance on-ledger.
type Trigger struct {
	Peer   ilp.PeerID
	Asset  ilp.AssetID
	Amount sdkmath.Int
}

// PeerAddresses holds the peer's settlement addresses per method. Empty
// address means the method is not available for that peer.
type PeerAddresses struct {
	EVM string
	XRP string
}

func (a PeerAddresses) address(method Method) string {
	switch method {
	case MethodEVM:
		return a.EVM
	case MethodXRP:
		return a.XRP
	default:
		return ""
	}
}

// EngineConfig is the settlement engine config.
type EngineConfig struct {
	NodeID     string
	Preference Preference
	// PeerAddresses maps peers to their on-ledger settlement addresses.
	PeerAddresses map[ilp.PeerID]PeerAddresses
	// DefaultInitialDeposit floors the deposit of a freshly opened channel.
	DefaultInitialDeposit sdkmath.Int
	// DepositHeadroomBps is added on top of the required deposit when topping
	// up, in basis points.
	DepositHeadroomBps int64
	// OperationTimeout bounds one on-ledger operation attempt.
	OperationTimeout time.Duration
	Retry            RetryConfig
	// QueueSize bounds the trigger queue.
	QueueSize int
}

// DefaultEngineConfig returns the default EngineConfig.
func DefaultEngineConfig(nodeID string) EngineConfig {
	return EngineConfig{
		NodeID:                nodeID,
		Preference:            PreferenceBoth,
		PeerAddresses:         make(map[ilp.PeerID]PeerAddresses),
		DefaultInitialDeposit: sdkmath.NewInt(1_000_000),
		DepositHeadroomBps:    2000,
		OperationTimeout:      30 * time.Second,
		Retry:                 DefaultRetryConfig(),
		QueueSize:             64,
	}
}

type channelKey struct {
	peer   ilp.PeerID
	asset  ilp.AssetID
	method Method
}

// Engine settles bilateral balances over payment channels. Settlement is
// at-least-once: a failed run leaves the ledger untouched and the account
// returns to idle so the threshold monitor re-triggers it, and the cumulative
// (nonce, transferred) balance-proof scheme makes a repeated run harmless.
type Engine struct {
	cfg     EngineConfig
	log     logger.Logger
	ledger  *ledger.Ledger
	broker  *telemetry.Broker
	clients map[Method]ChannelClient

	triggerCh chan Trigger

	mu       sync.Mutex
	inflight map[ledger.AccountKey]struct{}
	channels map[channelKey]Channel
}

// NewEngine returns a new settlement Engine.
func NewEngine(
	cfg EngineConfig,
	log logger.Logger,
	balances *ledger.Ledger,
	broker *telemetry.Broker,
	clients ...ChannelClient,
) *Engine {
	clientsByMethod := make(map[Method]ChannelClient, len(clients))
	for _, client := range clients {
		clientsByMethod[client.Method()] = client
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultEngineConfig(cfg.NodeID).QueueSize
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		ledger:    balances,
		broker:    broker,
		clients:   clientsByMethod,
		triggerCh: make(chan Trigger, cfg.QueueSize),
		inflight:  make(map[ledger.AccountKey]struct{}),
		channels:  make(map[channelKey]Channel),
	}
}

// Enqueue queues a settlement trigger. It reports false when the queue is
// full or a settlement for the account is already in flight.
func (e *Engine) Enqueue(trigger Trigger) bool {
	key := ledger.AccountKey{Peer: trigger.Peer, Asset: trigger.Asset}

	e.mu.Lock()
	if _, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		return false
	}
	e.inflight[key] = struct{}{}
	e.mu.Unlock()

	select {
	case e.triggerCh <- trigger:
		return true
	default:
		e.release(key)
		return false
	}
}

// Run consumes settlement triggers until the context is closed.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case trigger := <-e.triggerCh:
			if err := e.Settle(ctx, trigger); err != nil {
				e.log.Error(ctx, "Settlement failed",
					zap.String("peerID", string(trigger.Peer)),
					zap.String("asset", string(trigger.Asset)),
					zap.Error(err))
			}
		}
	}
}

// Channels returns a snapshot of the channels the engine has used.
func (e *Engine) Channels() []Channel {
	e.mu.Lock()
	defer e.mu.Unlock()
	channels := make([]Channel, 0, len(e.channels))
	for _, ch := range e.channels {
		channels = append(channels, ch)
	}
	return channels
}

// Settle performs one settlement run for the trigger. The account's
// settlement state must be pending.
func (e *Engine) Settle(ctx context.Context, trigger Trigger) error {
	key := ledger.AccountKey{Peer: trigger.Peer, Asset: trigger.Asset}
	defer e.release(key)

	if !e.ledger.SetSettlementState(trigger.Peer, trigger.Asset,
		ledger.SettlementStatePending, ledger.SettlementStateInProgress) {
		e.log.Debug(ctx, "Skipping settlement trigger, account is not pending",
			zap.String("peerID", string(trigger.Peer)))
		return nil
	}

	err := e.settle(ctx, trigger)
	if err != nil {
		e.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeSettlementFailed, e.cfg.NodeID, map[string]any{
			"peerId": string(trigger.Peer),
			"asset":  string(trigger.Asset),
			"amount": trigger.Amount.String(),
			"error":  err.Error(),
		}))
	}
	// back to idle either way; on failure the monitor re-triggers on its
	// next scan, which gives at-least-once delivery
	e.ledger.SetSettlementState(trigger.Peer, trigger.Asset,
		ledger.SettlementStateInProgress, ledger.SettlementStateIdle)
	return err
}

func (e *Engine) settle(ctx context.Context, trigger Trigger) error {
	method, client, peerAddress, err := e.pickMethod(trigger.Peer)
	if err != nil {
		return err
	}

	e.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeSettlementPending, e.cfg.NodeID, map[string]any{
		"peerId": string(trigger.Peer),
		"asset":  string(trigger.Asset),
		"amount": trigger.Amount.String(),
		"method": string(method),
	}))

	channel, err := e.ensureChannel(ctx, trigger, method, client, peerAddress)
	if err != nil {
		return errors.Wrapf(err, "failed to ensure channel, method:%s, peer:%s", method, trigger.Peer)
	}

	channel, err = e.ensureDeposit(ctx, client, channel, trigger.Amount)
	if err != nil {
		return errors.Wrapf(err, "failed to ensure channel deposit, channel:%s", channel.ChannelID)
	}

	var proof BalanceProof
	if err := e.withRetry(ctx, func(ctx context.Context) error {
		var signErr error
		proof, signErr = client.SignBalanceProof(ctx, channel, trigger.Amount)
		return signErr
	}); err != nil {
		return errors.Wrapf(err, "failed to sign balance proof, channel:%s", channel.ChannelID)
	}

	channel.Nonce = proof.Nonce
	channel.Transferred = proof.Transferred
	e.storeChannel(trigger, method, channel)

	e.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeChannelBalanceUpdate, e.cfg.NodeID, map[string]any{
		"channelId":   channel.ChannelID,
		"peerId":      string(trigger.Peer),
		"nonce":       proof.Nonce,
		"transferred": proof.Transferred.String(),
	}))

	if err := e.ledger.RecordSettlement(ctx, trigger.Peer, trigger.Asset, trigger.Amount); err != nil {
		return errors.Wrap(err, "failed to record settlement")
	}

	e.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeSettlementCompleted, e.cfg.NodeID, map[string]any{
		"peerId":    string(trigger.Peer),
		"asset":     string(trigger.Asset),
		"amount":    trigger.Amount.String(),
		"channelId": channel.ChannelID,
		"method":    string(method),
		"nonce":     proof.Nonce,
	}))

	if account, ok := e.ledger.Snapshot(trigger.Peer, trigger.Asset); ok {
		e.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeAccountBalance, e.cfg.NodeID, map[string]any{
			"peerId":     string(account.Peer),
			"asset":      string(account.Asset),
			"netBalance": account.NetBalance.String(),
		}))
	}

	e.log.Info(ctx, "Settlement completed",
		zap.String("peerID", string(trigger.Peer)),
		zap.String("asset", string(trigger.Asset)),
		zap.String("amount", trigger.Amount.String()),
		zap.String("channelID", channel.ChannelID))
	return nil
}

// pickMethod picks the most preferred method that has both a configured
// client and a settlement address for the peer.
func (e *Engine) pickMethod(peer ilp.PeerID) (Method, ChannelClient, string, error) {
	addresses := e.cfg.PeerAddresses[peer]
	for _, method := range e.cfg.Preference.Methods() {
		client, ok := e.clients[method]
		if !ok {
			continue
		}
		if address := addresses.address(method); address != "" {
			return method, client, address, nil
		}
	}
	return "", nil, "", errors.Errorf("no usable settlement method for peer:%s, preference:%s", peer, e.cfg.Preference)
}

func (e *Engine) ensureChannel(
	ctx context.Context,
	trigger Trigger,
	method Method,
	client ChannelClient,
	peerAddress string,
) (Channel, error) {
	key := channelKey{peer: trigger.Peer, asset: trigger.Asset, method: method}

	e.mu.Lock()
	known, wasKnown := e.channels[key]
	e.mu.Unlock()

	// the on-ledger state is re-read on every run: the peer can close or
	// drain the channel between settlements
	var channel Channel
	var found bool
	if err := e.withRetry(ctx, func(ctx context.Context) error {
		var lookupErr error
		channel, found, lookupErr = client.LookupChannel(ctx, peerAddress)
		return lookupErr
	}); err != nil {
		return Channel{}, errors.Wrap(err, "failed to look up channel")
	}
	if found && channel.Status != ChannelStatusActive {
		found = false
	}

	if !found {
		if wasKnown {
			e.log.Info(ctx, "Channel no longer usable on-ledger, opening a new one",
				zap.String("channelID", known.ChannelID),
				zap.String("peerID", string(trigger.Peer)))
			e.dropChannel(key)
		}
		deposit := sdkmath.MaxInt(e.cfg.DefaultInitialDeposit, trigger.Amount.MulRaw(2))
		if err := e.withRetry(ctx, func(ctx context.Context) error {
			var openErr error
			channel, openErr = client.OpenChannel(ctx, peerAddress, deposit)
			return openErr
		}); err != nil {
			return Channel{}, errors.Wrap(err, "failed to open channel")
		}
		e.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeChannelOpened, e.cfg.NodeID, map[string]any{
			"channelId":      channel.ChannelID,
			"peerId":         string(trigger.Peer),
			"method":         string(method),
			"initialDeposit": channel.Deposit.String(),
		}))
	} else if wasKnown && known.ChannelID == channel.ChannelID {
		// the ledger only sees redeemed claims, so the local proof counters
		// win when they are ahead of it
		if known.Nonce > channel.Nonce {
			channel.Nonce = known.Nonce
		}
		if known.Transferred.GT(channel.Transferred) {
			channel.Transferred = known.Transferred
		}
	}

	channel.Peer = trigger.Peer
	channel.Asset = trigger.Asset
	e.storeChannel(trigger, method, channel)
	return channel, nil
}

// ensureDeposit tops the channel deposit up to the required cumulative
// transfer plus headroom when the current deposit cannot cover it. After a
// top-up the on-ledger state is re-read so the recorded deposit is what the
// ledger confirmed, not what was asked for.
func (e *Engine) ensureDeposit(
	ctx context.Context,
	client ChannelClient,
	channel Channel,
	amount sdkmath.Int,
) (Channel, error) {
	required := channel.Transferred.Add(amount)
	if channel.Deposit.GTE(required) {
		return channel, nil
	}

	target := required.MulRaw(10_000 + e.cfg.DepositHeadroomBps).QuoRaw(10_000)
	topUp := target.Sub(channel.Deposit)
	if err := e.withRetry(ctx, func(ctx context.Context) error {
		return client.Deposit(ctx, channel.ChannelID, topUp)
	}); err != nil {
		return Channel{}, errors.Wrap(err, "failed to top up channel deposit")
	}

	var refreshed Channel
	var found bool
	if err := e.withRetry(ctx, func(ctx context.Context) error {
		var lookupErr error
		refreshed, found, lookupErr = client.LookupChannel(ctx, channel.PeerAddress)
		return lookupErr
	}); err != nil {
		return Channel{}, errors.Wrapf(err, "failed to re-read channel after deposit, channel:%s", channel.ChannelID)
	}
	if !found || refreshed.ChannelID != channel.ChannelID {
		return Channel{}, errors.Errorf("channel gone after deposit, channel:%s", channel.ChannelID)
	}
	channel.Deposit = refreshed.Deposit

	e.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeChannelDeposit, e.cfg.NodeID, map[string]any{
		"channelId": channel.ChannelID,
		"peerId":    string(channel.Peer),
		"amount":    topUp.String(),
		"deposit":   channel.Deposit.String(),
	}))
	return channel, nil
}

func (e *Engine) withRetry(ctx context.Context, op func(ctx context.Context) error) error {
	return RetryWithBackoff(ctx, e.cfg.Retry, func() error {
		return ExecuteWithTimeout(ctx, e.cfg.OperationTimeout, op)
	})
}

func (e *Engine) storeChannel(trigger Trigger, method Method, channel Channel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels[channelKey{peer: trigger.Peer, asset: trigger.Asset, method: method}] = channel
}

func (e *Engine) dropChannel(key channelKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.channels, key)
}

func (e *Engine) release(key ledger.AccountKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, key)
}
