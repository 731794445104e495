package fraud_test

import (
	"context"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/interledgermesh/connector/fraud"
	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
)

const suspectPeer ilp.PeerID = "peer-mallory"

func packetReceivedEvent(peer ilp.PeerID, amount string) telemetry.Event {
	return telemetry.NewEvent(telemetry.EventTypePacketReceived, "node-a", map[string]any{
		"from":     string(peer),
		"packetId": "packet-1",
		"amount":   amount,
	})
}

func newDetectorFixture(t *testing.T, rules ...fraud.Rule) (*fraud.Detector, *telemetry.Subscriber) {
	ctrl := gomock.NewController(t)
	log := logger.NewAnyLogMock(ctrl)
	log.EXPECT().Error(gomock.Any(), gomock.Any(), gomock.Any()).AnyTimes()

	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), log, nil)
	detector := fraud.NewDetector(fraud.DefaultDetectorConfig("node-a"), log, broker, rules...)
	return detector, broker.Subscribe()
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

func TestOversizeAmountLowersScore(t *testing.T) {
	t.Parallel()

	detector, sub := newDetectorFixture(t, fraud.NewOversizeAmountRule(sdkmath.NewInt(1000)))

	detector.Inspect(context.Background(), packetReceivedEvent(suspectPeer, "1001"))

	require.Equal(t, int64(60), detector.Score(suspectPeer))
	require.False(t, detector.IsPaused(suspectPeer))
	require.Equal(t, []telemetry.EventType{telemetry.EventTypeFraudDetected}, drainEventTypes(sub))
}

func TestRepeatedViolationsPausePeer(t *testing.T) {
	t.Parallel()

	detector, sub := newDetectorFixture(t, fraud.NewOversizeAmountRule(sdkmath.NewInt(1000)))

	// two high-severity findings take the score from 100 to 20, below the
	// pause threshold of 50
	detector.Inspect(context.Background(), packetReceivedEvent(suspectPeer, "5000"))
	detector.Inspect(context.Background(), packetReceivedEvent(suspectPeer, "6000"))

	require.True(t, detector.IsPaused(suspectPeer))
	require.Equal(t, []ilp.PeerID{suspectPeer}, detector.PausedPeers())
	require.Equal(t, []telemetry.EventType{
		telemetry.EventTypeFraudDetected,
		telemetry.EventTypeFraudDetected,
		telemetry.EventTypePeerPaused,
	}, drainEventTypes(sub))

	// a paused peer's events are dropped without inspection
	detector.Inspect(context.Background(), packetReceivedEvent(suspectPeer, "7000"))
	require.Empty(t, drainEventTypes(sub))
	require.Equal(t, int64(20), detector.Score(suspectPeer))
}

func TestResumeRestoresPeer(t *testing.T) {
	t.Parallel()

	detector, sub := newDetectorFixture(t, fraud.NewOversizeAmountRule(sdkmath.NewInt(1000)))
	detector.Inspect(context.Background(), packetReceivedEvent(suspectPeer, "5000"))
	detector.Inspect(context.Background(), packetReceivedEvent(suspectPeer, "6000"))
	require.True(t, detector.IsPaused(suspectPeer))
	drainEventTypes(sub)

	detector.Resume(context.Background(), suspectPeer)
	require.False(t, detector.IsPaused(suspectPeer))
	require.Equal(t, detector.Score(suspectPeer), int64(100))
	require.Equal(t, []telemetry.EventType{telemetry.EventTypePeerResumed}, drainEventTypes(sub))

	// resuming an unpaused peer is a no-op
	detector.Resume(context.Background(), suspectPeer)
	require.Empty(t, drainEventTypes(sub))
}

func TestPacketRateRule(t *testing.T) {
	t.Parallel()

	rule := fraud.NewPacketRateRule(time.Minute, 3)
	for i := 0; i < 3; i++ {
		finding, err := rule.Check(packetReceivedEvent(suspectPeer, "1"))
		require.NoError(t, err)
		require.False(t, finding.Detected)
	}

	finding, err := rule.Check(packetReceivedEvent(suspectPeer, "1"))
	require.NoError(t, err)
	require.True(t, finding.Detected)
	require.Equal(t, suspectPeer, finding.Peer)
	require.Equal(t, fraud.SeverityMedium, finding.Severity)

	// other peers are counted independently
	finding, err = rule.Check(packetReceivedEvent("peer-honest", "1"))
	require.NoError(t, err)
	require.False(t, finding.Detected)
}

func TestRepeatedRejectRule(t *testing.T) {
	t.Parallel()

	rule := fraud.NewRepeatedRejectRule(time.Minute, 2)
	rejected := telemetry.NewEvent(telemetry.EventTypePacketRejected, "node-a", map[string]any{
		"from": string(suspectPeer),
		"code": "F02",
	})
	for i := 0; i < 2; i++ {
		finding, err := rule.Check(rejected)
		require.NoError(t, err)
		require.False(t, finding.Detected)
	}

	finding, err := rule.Check(rejected)
	require.NoError(t, err)
	require.True(t, finding.Detected)
	require.Equal(t, "repeated-rejects", finding.Rule)
}

func TestWalletMismatchRule(t *testing.T) {
	t.Parallel()

	rule := fraud.NewWalletMismatchRule()
	finding, err := rule.Check(telemetry.NewEvent(telemetry.EventTypeWalletMismatch, "node-a", map[string]any{
		"peerId":   string(suspectPeer),
		"expected": "1000",
		"actual":   "400",
	}))
	require.NoError(t, err)
	require.True(t, finding.Detected)
	require.Equal(t, fraud.SeverityHigh, finding.Severity)
	require.Equal(t, "1000", finding.Details["expected"])
	require.Equal(t, "400", finding.Details["actual"])
}

type panickyRule struct{}

func (panickyRule) Name() string { return "panicky" }

func (panickyRule) Check(telemetry.Event) (fraud.Finding, error) {
	panic("boom")
}

type failingRule struct{}

func (failingRule) Name() string { return "failing" }

func (failingRule) Check(telemetry.Event) (fraud.Finding, error) {
	return fraud.Finding{}, errors.New("rule error")
}

func TestRuleFailuresAreIsolated(t *testing.T) {
	t.Parallel()

	detector, sub := newDetectorFixture(t,
		panickyRule{},
		failingRule{},
		fraud.NewOversizeAmountRule(sdkmath.NewInt(1000)),
	)

	detector.Inspect(context.Background(), packetReceivedEvent(suspectPeer, "5000"))

	// the healthy rule still fired
	require.Equal(t, int64(60), detector.Score(suspectPeer))
	require.Equal(t, []telemetry.EventType{telemetry.EventTypeFraudDetected}, drainEventTypes(sub))
}

func TestDetectorIgnoresOwnEvents(t *testing.T) {
	t.Parallel()

	detector, sub := newDetectorFixture(t, panickyRule{})
	detector.Inspect(context.Background(), telemetry.NewEvent(telemetry.EventTypePeerPaused, "node-a", map[string]any{
		"peerId": string(suspectPeer),
	}))
	require.Empty(t, drainEventTypes(sub))
}
