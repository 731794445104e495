package store_test

import (
	"context"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/interledgermesh/connector/logger"
	"github.com/interledgermesh/connector/store"
	"github.com/interledgermesh/connector/telemetry"
)

func openTestStore(t *testing.T, cfg store.Config) *store.EventStore {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "events.db")
	s, err := store.Open(context.Background(), cfg, logger.NewAnyLogMock(gomock.NewController(t)))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func packetEvent(ts int64, peer, packetID string) telemetry.Event {
	return telemetry.Event{
		Type:      telemetry.EventTypePacketReceived,
		NodeID:    "node-1",
		Timestamp: ts,
		Fields: map[string]any{
			"from":        peer,
			"packetId":    packetID,
			"amount":      "1000",
			"destination": "g.agent.bob",
		},
	}
}

func TestStoreAndQueryEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, store.DefaultConfig())

	base := time.Now().UnixMilli()
	ids, err := s.StoreEvents(ctx, []telemetry.Event{
		packetEvent(base, "alice", "pkt-1"),
		packetEvent(base+1, "alice", "pkt-2"),
		packetEvent(base+2, "carol", "pkt-3"),
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)

	// newest first
	events, err := s.QueryEvents(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "pkt-3", events[0].PacketID)
	require.Equal(t, "pkt-1", events[2].PacketID)
	require.Equal(t, telemetry.DirectionReceived, events[0].Direction)
	require.Equal(t, "1000", events[0].Amount)
	require.JSONEq(t, `{
		"type":"PACKET_RECEIVED","nodeId":"node-1","timestamp":`+strconv.FormatInt(base+2, 10)+`,
		"from":"carol","packetId":"pkt-3","amount":"1000","destination":"g.agent.bob"
	}`, string(events[0].Payload))

	byPeer, err := s.QueryEvents(ctx, store.Filter{PeerID: "alice"})
	require.NoError(t, err)
	require.Len(t, byPeer, 2)

	byPacket, err := s.QueryEvents(ctx, store.Filter{PacketID: "pkt-2"})
	require.NoError(t, err)
	require.Len(t, byPacket, 1)

	count, err := s.CountEvents(ctx, store.Filter{PeerID: "alice"})
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestQueryFilterByTypeAndTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, store.DefaultConfig())

	base := time.Now().UnixMilli()
	_, err := s.StoreEvents(ctx, []telemetry.Event{
		packetEvent(base, "alice", "pkt-1"),
		{Type: telemetry.EventTypeNodeStatus, NodeID: "node-1", Timestamp: base + 10},
	})
	require.NoError(t, err)

	events, err := s.QueryEvents(ctx, store.Filter{
		EventTypes: []telemetry.EventType{telemetry.EventTypeNodeStatus},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, telemetry.EventTypeNodeStatus, events[0].Type)

	events, err = s.QueryEvents(ctx, store.Filter{Since: base + 5})
	require.NoError(t, err)
	require.Len(t, events, 1)

	events, err = s.QueryEvents(ctx, store.Filter{Until: base + 5})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "pkt-1", events[0].PacketID)
}

func TestQueryDefaultLimitAndOffset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, store.DefaultConfig())

	base := time.Now().UnixMilli()
	batch := make([]telemetry.Event, 0, 60)
	for i := 0; i < 60; i++ {
		batch = append(batch, packetEvent(base+int64(i), "alice", "pkt"))
	}
	_, err := s.StoreEvents(ctx, batch)
	require.NoError(t, err)

	events, err := s.QueryEvents(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 50, "default limit is 50")

	events, err = s.QueryEvents(ctx, store.Filter{Limit: 10, Offset: 55})
	require.NoError(t, err)
	require.Len(t, events, 5)
}

func TestRetentionPolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, store.Config{
		MaxEventCount: 3,
		MaxAge:        time.Hour,
	})

	now := time.Now()
	old := packetEvent(now.Add(-2*time.Hour).UnixMilli(), "alice", "pkt-old")
	fresh := make([]telemetry.Event, 0, 5)
	for i := 0; i < 5; i++ {
		fresh = append(fresh, packetEvent(now.UnixMilli()+int64(i), "alice", "pkt-fresh"))
	}
	_, err := s.StoreEvents(ctx, append([]telemetry.Event{old}, fresh...))
	require.NoError(t, err)

	deleted, err := s.PruneByAge(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), deleted)

	deleted, err = s.PruneByCount(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), deleted)

	count, err := s.CountEvents(ctx, store.Filter{})
	require.NoError(t, err)
	require.Equal(t, 3, count)

	// the retained rows are the newest ones
	events, err := s.QueryEvents(ctx, store.Filter{})
	require.NoError(t, err)
	require.Equal(t, now.UnixMilli()+4, events[0].TimestampMs)
}
