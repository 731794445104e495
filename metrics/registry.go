package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	connectorErrorsTotalMetricName      = "connector_errors_total"
	packetsReceivedTotalMetricName      = "packets_received_total"
	packetsForwardedTotalMetricName     = "packets_forwarded_total"
	packetsRejectedTotalMetricName      = "packets_rejected_total"
	accountNetBalanceMetricName         = "account_net_balance"
	settlementsCompletedTotalMetricName = "settlements_completed_total"
	settlementsFailedTotalMetricName    = "settlements_failed_total"
	paymentChannelDepositMetricName     = "payment_channel_deposit"
	paymentChannelTransferredMetricName = "payment_channel_transferred"
	telemetrySubscribersMetricName      = "telemetry_subscribers"
	eventStoreRowsMetricName            = "event_store_rows"
	pausedPeersMetricName               = "paused_peers"

	// PeerIDLabel is the peer ID label.
	PeerIDLabel = "peer_id"
	// AssetLabel is the asset ID label.
	AssetLabel = "asset"
	// RejectCodeLabel is the ILP reject code label.
	RejectCodeLabel = "code"
	// MethodLabel is the settlement method label.
	MethodLabel = "method"
	// ChannelIDLabel is the payment channel ID label.
	ChannelIDLabel = "channel_id"
)

// Registry contains metrics.
type Registry struct {
	ConnectorErrorCounter         prometheus.Counter
	PacketsReceivedCounterVec     *prometheus.CounterVec
	PacketsForwardedCounterVec    *prometheus.CounterVec
	PacketsRejectedCounterVec     *prometheus.CounterVec
	AccountNetBalanceGaugeVec     *prometheus.GaugeVec
	SettlementsCompletedVec       *prometheus.CounterVec
	SettlementsFailedCounter      prometheus.Counter
	ChannelDepositGaugeVec        *prometheus.GaugeVec
	ChannelTransferredGaugeVec    *prometheus.GaugeVec
	TelemetrySubscribersGauge     prometheus.Gauge
	EventStoreRowsGauge           prometheus.Gauge
	PausedPeersGauge              prometheus.Gauge
}

// NewRegistry returns new metric registry.
func NewRegistry() *Registry {
	return &Registry{
		ConnectorErrorCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: connectorErrorsTotalMetricName,
			Help: "Error counter",
		}),
		PacketsReceivedCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: packetsReceivedTotalMetricName,
			Help: "Prepare packets received from peers",
		},
			[]string{PeerIDLabel},
		),
		PacketsForwardedCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: packetsForwardedTotalMetricName,
			Help: "Prepare packets forwarded to peers",
		},
			[]string{PeerIDLabel},
		),
		PacketsRejectedCounterVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: packetsRejectedTotalMetricName,
			Help: "Reject packets returned to peers",
		},
			[]string{
				PeerIDLabel,
				RejectCodeLabel,
			},
		),
		AccountNetBalanceGaugeVec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: accountNetBalanceMetricName,
			Help: "Bilateral account net balance",
		},
			[]string{
				PeerIDLabel,
				AssetLabel,
			},
		),
		SettlementsCompletedVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: settlementsCompletedTotalMetricName,
			Help: "Completed settlements",
		},
			[]string{MethodLabel},
		),
		SettlementsFailedCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: settlementsFailedTotalMetricName,
			Help: "Failed settlement runs",
		}),
		ChannelDepositGaugeVec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: paymentChannelDepositMetricName,
			Help: "Payment channel deposit",
		},
			[]string{
				ChannelIDLabel,
				MethodLabel,
			},
		),
		ChannelTransferredGaugeVec: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: paymentChannelTransferredMetricName,
			Help: "Payment channel cumulative transferred amount",
		},
			[]string{
				ChannelIDLabel,
				MethodLabel,
			},
		),
		TelemetrySubscribersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: telemetrySubscribersMetricName,
			Help: "Connected telemetry subscribers",
		}),
		EventStoreRowsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: eventStoreRowsMetricName,
			Help: "Rows in the telemetry event store",
		}),
		PausedPeersGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: pausedPeersMetricName,
			Help: "Peers paused by the fraud detector",
		}),
	}
}

// Register registers all the metrics to prometheus.
func (m *Registry) Register(registry prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.ConnectorErrorCounter,
		m.PacketsReceivedCounterVec,
		m.PacketsForwardedCounterVec,
		m.PacketsRejectedCounterVec,
		m.AccountNetBalanceGaugeVec,
		m.SettlementsCompletedVec,
		m.SettlementsFailedCounter,
		m.ChannelDepositGaugeVec,
		m.ChannelTransferredGaugeVec,
		m.TelemetrySubscribersGauge,
		m.EventStoreRowsGauge,
		m.PausedPeersGauge,
	}

	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return errors.Wrapf(err, "failed to register metric collector")
		}
	}

	return nil
}

// IncrementConnectorErrorCounter increments ConnectorErrorCounter.
func (m *Registry) IncrementConnectorErrorCounter() {
	m.ConnectorErrorCounter.Inc()
}
