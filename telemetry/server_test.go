package telemetry_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/telemetry"
)

type staticSnapshotSource struct {
	events []telemetry.Event
}

func (s staticSnapshotSource) InitialStateEvents(ctx context.Context) []telemetry.Event {
	return s.events
}

func TestObserverReceivesSnapshotsBeforeLiveEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := logger.NewAnyLogMock(gomock.NewController(t))
	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), log, nil)

	source := staticSnapshotSource{events: []telemetry.Event{
		telemetry.NewEvent(telemetry.EventTypeInitialChannelState, "node-1", map[string]any{
			"channels": []any{map[string]any{"channelId": "C1", "status": "active"}},
		}),
		telemetry.NewEvent(telemetry.EventTypeInitialBalanceState, "node-1", map[string]any{
			"balances": []any{},
		}),
	}}

	server := telemetry.NewServer(telemetry.DefaultServerConfig(), log, broker, source)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "CLIENT_CONNECT"}))

	var first telemetry.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.ReadJSON(&first))
	require.Equal(t, telemetry.EventTypeInitialChannelState, first.Type)
	channels, ok := first.Fields["channels"].([]any)
	require.True(t, ok)
	require.Len(t, channels, 1)

	var second telemetry.Event
	require.NoError(t, conn.ReadJSON(&second))
	require.Equal(t, telemetry.EventTypeInitialBalanceState, second.Type)

	// live events only arrive after the snapshots
	require.Eventually(t, func() bool {
		return broker.SubscriberCount() == 1
	}, 5*time.Second, 10*time.Millisecond)
	broker.Emit(ctx, telemetry.NewEvent(telemetry.EventTypePacketReceived, "node-1", map[string]any{
		"from": "alice", "packetId": "pkt-1",
	}))

	var live telemetry.Event
	require.NoError(t, conn.ReadJSON(&live))
	require.Equal(t, telemetry.EventTypePacketReceived, live.Type)
}

func TestObserverRejectedWithoutClientConnect(t *testing.T) {
	t.Parallel()

	log := logger.NewAnyLogMock(gomock.NewController(t))
	broker := telemetry.NewBroker(telemetry.DefaultBrokerConfig(), log, nil)
	server := telemetry.NewServer(telemetry.DefaultServerConfig(), log, broker)
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "SOMETHING_ELSE"}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame telemetry.Event
	require.Error(t, conn.ReadJSON(&frame), "server must close the connection")
	require.Equal(t, 0, broker.SubscriberCount())
}
