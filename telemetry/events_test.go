package telemetry_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/interledgermesh/connector/ilp"
	"github.com/interledgermesh/connector/telemetry"
)

func TestEventJSONRoundTripFlattensFields(t *testing.T) {
	t.Parallel()

	event := telemetry.NewEvent(telemetry.EventTypePacketReceived, "node-1", map[string]any{
		"from":        "alice",
		"packetId":    "pkt-1",
		"amount":      "1000",
		"destination": "g.agent.bob",
	})

	data, err := json.Marshal(event)
	require.NoError(t, err)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(data, &flat))
	require.Equal(t, "PACKET_RECEIVED", flat["type"])
	require.Equal(t, "node-1", flat["nodeId"])
	require.Equal(t, "alice", flat["from"])

	var decoded telemetry.Event
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, event.Type, decoded.Type)
	require.Equal(t, event.Timestamp, decoded.Timestamp)
	require.Equal(t, "pkt-1", decoded.Fields["packetId"])
}

func TestNormalizeTimestamp(t *testing.T) {
	t.Parallel()

	ms, err := telemetry.NormalizeTimestamp(float64(1700000000000))
	require.NoError(t, err)
	require.Equal(t, int64(1700000000000), ms)

	ms, err = telemetry.NormalizeTimestamp("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	require.Equal(t, time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC).UnixMilli(), ms)

	_, err = telemetry.NormalizeTimestamp("yesterday")
	require.Error(t, err)

	_, err = telemetry.NormalizeTimestamp(true)
	require.Error(t, err)
}

func TestExtractIndexedFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event telemetry.Event
		want  telemetry.Indexed
	}{
		{
			event: telemetry.NewEvent(telemetry.EventTypePacketForwarded, "node-1", map[string]any{
				"to": "bob", "packetId": "pkt-7", "amount": "990", "destination": "g.agent.carol",
			}),
			want: telemetry.Indexed{
				Direction:   telemetry.DirectionSent,
				PeerID:      ilp.PeerID("bob"),
				PacketID:    "pkt-7",
				Amount:      "990",
				Destination: ilp.Address("g.agent.carol"),
			},
		},
		{
			event: telemetry.NewEvent(telemetry.EventTypeChannelOpened, "node-1", map[string]any{
				"peerId": "bob", "channelId": "0xabc", "initialDeposit": int64(10000),
			}),
			want: telemetry.Indexed{
				Direction: telemetry.DirectionSent,
				PeerID:    ilp.PeerID("bob"),
				PacketID:  "0xabc",
				Amount:    "10000",
			},
		},
		{
			event: telemetry.NewEvent("UNKNOWN_KIND", "node-1", nil),
			want:  telemetry.Indexed{Direction: telemetry.DirectionInternal},
		},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, telemetry.Extract(tt.event), "type:%s", tt.event.Type)
	}
}
