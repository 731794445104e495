package telemetry_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
)

func TestBrokerFanOutPreservesEmissionOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), logger.NewAnyLogMock(gomock.NewController(t)), nil)

	sub1 := broker.Subscribe()
	sub2 := broker.Subscribe()
	require.Equal(t, 2, broker.SubscriberCount())

	for i := 0; i < 3; i++ {
		broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeNodeStatus, "node-1", map[string]any{"seq": i}))
	}

	for _, sub := range []*telemetry.Subscriber{sub1, sub2} {
		for i := 0; i < 3; i++ {
			event := <-sub.Events()
			require.Equal(t, i, event.Fields["seq"])
		}
	}
}

func TestBrokerDisconnectsSlowSubscriber(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	broker := telemetry.NewBroker(telemetry.BrokerConfig{SubscriberQueueSize: 1},
		logger.NewAnyLogMock(gomock.NewController(t)), nil)

	slow := broker.Subscribe()
	broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeNodeStatus, "node-1", nil))
	// queue of one is full now, the second emit drops the subscriber
	broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeNodeStatus, "node-1", nil))

	require.Equal(t, 0, broker.SubscriberCount())

	_, ok := <-slow.Events()
	require.True(t, ok)
	_, ok = <-slow.Events()
	require.False(t, ok, "channel must be closed after disconnect")
}

func TestBrokerPersistsBestEffort(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	ctrl := gomock.NewController(t)
	store := telemetry.NewMockStore(ctrl)
	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), logger.NewAnyLogMock(ctrl), store)

	sub := broker.Subscribe()

	// a store failure must not block delivery
	store.EXPECT().StoreEvent(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("disk full"))
	broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypeAccountBalance, "node-1", nil))

	event := <-sub.Events()
	require.Equal(t, telemetry.EventTypeAccountBalance, event.Type)
}

func TestSubscriberCloseUnsubscribes(t *testing.T) {
	t.Parallel()

	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), logger.NewAnyLogMock(gomock.NewController(t)), nil)
	sub := broker.Subscribe()
	sub.Close()
	require.Equal(t, 0, broker.SubscriberCount())

	_, ok := <-sub.Events()
	require.False(t, ok)
}
