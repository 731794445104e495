package settlement

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/interledgermesh/connector/ledger"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
)

// Settler receives settlement triggers from the monitor.
type Settler interface {
	Enqueue(trigger Trigger) bool
}

// MonitorConfig is the threshold monitor config.
type MonitorConfig struct {
	NodeID string
	// ScanInterval is the time between balance scans.
	ScanInterval time.Duration
}

// DefaultMonitorConfig returns the default MonitorConfig.
func DefaultMonitorConfig(nodeID string) MonitorConfig {
	return MonitorConfig{
		NodeID:       nodeID,
		ScanInterval: 30 * time.Second,
	}
}

// Monitor periodically scans bilateral balances and triggers settlement for
// accounts whose net balance magnitude exceeds the configured threshold.
type Monitor struct {
	cfg     MonitorConfig
	log     logger.Logger
	ledger  *ledger.Ledger
	broker  *telemetry.Broker
	settler Settler
}

// NewMonitor returns a new threshold Monitor.
func NewMonitor(
	cfg MonitorConfig,
	log logger.Logger,
	balances *ledger.Ledger,
	broker *telemetry.Broker,
	settler Settler,
) *Monitor {
	return &Monitor{
		cfg:     cfg,
		log:     log,
		ledger:  balances,
		broker:  broker,
		settler: settler,
	}
}

// Run scans on every tick until the context is closed.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

// Scan walks all accounts once and hands accounts over their threshold to
// the settler. Accounts already pending or in progress are skipped.
func (m *Monitor) Scan(ctx context.Context) {
	for _, account := range m.ledger.Snapshots() {
		if account.SettlementThreshold == nil {
			continue
		}
		if account.SettlementState != ledger.SettlementStateIdle {
			continue
		}

		// strictly above: a balance sitting exactly at the threshold does not
		// trigger
		magnitude := account.NetBalance.Abs()
		if !magnitude.GT(*account.SettlementThreshold) {
			continue
		}

		if !m.ledger.SetSettlementState(account.Peer, account.Asset,
			ledger.SettlementStateIdle, ledger.SettlementStatePending) {
			continue
		}

		m.broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeSettlementTriggered, m.cfg.NodeID, map[string]any{
			"peerId":         string(account.Peer),
			"asset":          string(account.Asset),
			"currentBalance": account.NetBalance.String(),
			"threshold":      account.SettlementThreshold.String(),
			"exceedsBy":      magnitude.Sub(*account.SettlementThreshold).String(),
		}))

		if !m.settler.Enqueue(Trigger{
			Peer:   account.Peer,
			Asset:  account.Asset,
			Amount: magnitude,
		}) {
			// put it back so the next scan retries
			m.ledger.SetSettlementState(account.Peer, account.Asset,
				ledger.SettlementStatePending, ledger.SettlementStateIdle)
			m.log.Warn(ctx, "Settlement trigger dropped, engine queue is busy",
				zap.String("peerID", string(account.Peer)),
				zap.String("asset", string(account.Asset)))
			continue
		}

		m.log.Info(ctx, "Settlement triggered",
			zap.String("peerID", string(account.Peer)),
			zap.String("asset", string(account.Asset)),
			zap.String("netBalance", account.NetBalance.String()),
			zap.String("threshold", account.SettlementThreshold.String()))
	}
}
