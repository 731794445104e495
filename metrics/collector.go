package metrics

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/CoreumFoundation/coreum-tools/pkg/parallel"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/ledger"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/settlement"
	"github.com/interledgermesh/connector/store"
	"github.com/interledgermesh/connector/telemetry"
)

// Balances serves account snapshots.
type Balances interface {
	Snapshots() []ledger.PeerAccount
}

// Channels serves the payment channel set.
type Channels interface {
	Channels() []settlement.Channel
}

// SubscriberCounter reports connected telemetry subscribers.
type SubscriberCounter interface {
	SubscriberCount() int
}

// EventCounter counts archived telemetry events.
type EventCounter interface {
	CountEvents(ctx context.Context, filter store.Filter) (int, error)
}

// PauseRegistry reports peers paused by the fraud detector.
type PauseRegistry interface {
	PausedPeers() []ilp.PeerID
}

// PeriodicCollectorConfig is PeriodicCollector config.
type PeriodicCollectorConfig struct {
	RepeatDelay time.Duration
}

// DefaultPeriodicCollectorConfig returns default PeriodicCollectorConfig.
func DefaultPeriodicCollectorConfig() PeriodicCollectorConfig {
	return PeriodicCollectorConfig{
		RepeatDelay: 30 * time.Second,
	}
}

// PeriodicCollector periodically samples gauge metrics from the node's
// components. Any source may be nil; its metrics are then skipped.
type PeriodicCollector struct {
	cfg         PeriodicCollectorConfig
	log         logger.Logger
	registry    *Registry
	balances    Balances
	channels    Channels
	subscribers SubscriberCounter
	events      EventCounter
	pauses      PauseRegistry
}

// NewPeriodicCollector returns a new instance of the PeriodicCollector.
func NewPeriodicCollector(
	cfg PeriodicCollectorConfig,
	log logger.Logger,
	registry *Registry,
	balances Balances,
	channels Channels,
	subscribers SubscriberCounter,
	events EventCounter,
	pauses PauseRegistry,
) *PeriodicCollector {
	return &PeriodicCollector{
		cfg:         cfg,
		log:         log,
		registry:    registry,
		balances:    balances,
		channels:    channels,
		subscribers: subscribers,
		events:      events,
		pauses:      pauses,
	}
}

// Start starts the periodic collector.
func (c *PeriodicCollector) Start(ctx context.Context) error {
	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("collector", parallel.Continue, func(ctx context.Context) error {
			for {
				select {
				case <-ctx.Done():
					return errors.WithStack(ctx.Err())
				default:
					if err := c.CollectOnce(ctx); err != nil {
						c.log.Error(ctx, "Failed to collect metrics", zap.Error(err))
					}
					select {
					case <-ctx.Done():
						return errors.WithStack(ctx.Err())
					case <-time.After(c.cfg.RepeatDelay):
					}
				}
			}
		})
		return nil
	})
}

// CollectOnce samples every configured source once.
func (c *PeriodicCollector) CollectOnce(ctx context.Context) error {
	if c.balances != nil {
		for _, account := range c.balances.Snapshots() {
			net, err := strconv.ParseFloat(account.NetBalance.String(), 64)
			if err != nil {
				continue
			}
			c.registry.AccountNetBalanceGaugeVec.
				WithLabelValues(string(account.Peer), string(account.Asset)).
				Set(net)
		}
	}

	if c.channels != nil {
		for _, channel := range c.channels.Channels() {
			labels := []string{channel.ChannelID, string(channel.Method)}
			if deposit, err := strconv.ParseFloat(channel.Deposit.String(), 64); err == nil {
				c.registry.ChannelDepositGaugeVec.WithLabelValues(labels...).Set(deposit)
			}
			if transferred, err := strconv.ParseFloat(channel.Transferred.String(), 64); err == nil {
				c.registry.ChannelTransferredGaugeVec.WithLabelValues(labels...).Set(transferred)
			}
		}
	}

	if c.subscribers != nil {
		c.registry.TelemetrySubscribersGauge.Set(float64(c.subscribers.SubscriberCount()))
	}

	if c.events != nil {
		count, err := c.events.CountEvents(ctx, store.Filter{})
		if err != nil {
			return errors.Wrap(err, "failed to count archived events")
		}
		c.registry.EventStoreRowsGauge.Set(float64(count))
	}

	if c.pauses != nil {
		c.registry.PausedPeersGauge.Set(float64(len(c.pauses.PausedPeers())))
	}

	return nil
}

// EventCollector translates the telemetry stream into packet and settlement
// counters.
type EventCollector struct {
	log      logger.Logger
	registry *Registry
	broker   *telemetry.Broker
}

// NewEventCollector returns a new EventCollector.
func NewEventCollector(log logger.Logger, registry *Registry, broker *telemetry.Broker) *EventCollector {
	return &EventCollector{
		log:      log,
		registry: registry,
		broker:   broker,
	}
}

// Run consumes the telemetry stream until the context is closed.
func (c *EventCollector) Run(ctx context.Context) error {
	sub := c.broker.Subscribe()
	defer sub.Close()

	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case event, ok := <-sub.Events():
			if !ok {
				return errors.New("telemetry subscription closed")
			}
			c.Observe(event)
		}
	}
}

// Observe updates counters for one event.
func (c *EventCollector) Observe(event telemetry.Event) {
	indexed := telemetry.Extract(event)
	switch event.Type {
	case telemetry.EventTypePacketReceived:
		c.registry.PacketsReceivedCounterVec.WithLabelValues(string(indexed.PeerID)).Inc()
	case telemetry.EventTypePacketForwarded:
		c.registry.PacketsForwardedCounterVec.WithLabelValues(string(indexed.PeerID)).Inc()
	case telemetry.EventTypePacketRejected:
		code, _ := event.Fields["code"].(string)
		c.registry.PacketsRejectedCounterVec.WithLabelValues(string(indexed.PeerID), code).Inc()
	case telemetry.EventTypeSettlementCompleted:
		method, _ := event.Fields["method"].(string)
		c.registry.SettlementsCompletedVec.WithLabelValues(method).Inc()
	case telemetry.EventTypeSettlementFailed:
		c.registry.SettlementsFailedCounter.Inc()
	}
}
