package telemetry

import (
	"encoding/json"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"

	"github.com/interledgermesh/connector/ilp"
)

// EventType tags a telemetry event and determines its payload shape.
type EventType string

// Event types.
const (
	EventTypeAccountBalance       EventType = "ACCOUNT_BALANCE"
	EventTypeSettlementTriggered  EventType = "SETTLEMENT_TRIGGERED"
	EventTypeSettlementPending    EventType = "SETTLEMENT_PENDING"
	EventTypeSettlementCompleted  EventType = "SETTLEMENT_COMPLETED"
	EventTypeSettlementFailed     EventType = "SETTLEMENT_FAILED"
	EventTypeChannelOpened        EventType = "PAYMENT_CHANNEL_OPENED"
	EventTypeChannelBalanceUpdate EventType = "PAYMENT_CHANNEL_BALANCE_UPDATE"
	EventTypeChannelSettled       EventType = "PAYMENT_CHANNEL_SETTLED"
	EventTypeChannelDeposit       EventType = "CHANNEL_DEPOSIT"
	EventTypeXRPChannelOpened     EventType = "XRP_CHANNEL_OPENED"
	EventTypeXRPChannelClaimed    EventType = "XRP_CHANNEL_CLAIMED"
	EventTypeXRPChannelClosed     EventType = "XRP_CHANNEL_CLOSED"
	EventTypePacketReceived       EventType = "PACKET_RECEIVED"
	EventTypePacketForwarded      EventType = "PACKET_FORWARDED"
	EventTypePacketRejected       EventType = "PACKET_REJECTED"
	EventTypeBTPConnectionFailed  EventType = "BTP_CONNECTION_FAILED"
	EventTypeNodeStatus           EventType = "NODE_STATUS"
	EventTypeSuspiciousActivity   EventType = "SUSPICIOUS_ACTIVITY_DETECTED"
	EventTypeRateLimitExceeded    EventType = "RATE_LIMIT_EXCEEDED"
	EventTypeWalletMismatch       EventType = "WALLET_BALANCE_MISMATCH"
	EventTypeFraudDetected        EventType = "FRAUD_DETECTED"
	EventTypePeerPaused           EventType = "PEER_PAUSED"
	EventTypePeerResumed          EventType = "PEER_RESUMED"
)

// Direction of the activity an event describes, relative to this node.
type Direction string

// Directions.
const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
	DirectionInternal Direction = "internal"
)

// Event is the envelope every telemetry record travels in. Timestamp is
// Unix milliseconds; inbound JSON may instead carry an ISO-8601 string and
// is normalized on decode. Fields holds the kind-specific payload and is
// flattened into the envelope on the wire.
type Event struct {
	Type      EventType
	NodeID    string
	Timestamp int64
	Fields    map[string]any
}

// NewEvent builds an event stamped with the current time.
func NewEvent(eventType EventType, nodeID string, fields map[string]any) Event {
	return Event{
		Type:      eventType,
		NodeID:    nodeID,
		Timestamp: time.Now().UnixMilli(),
		Fields:    fields,
	}
}

// MarshalJSON flattens Fields into the envelope object.
func (e Event) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(e.Fields)+3)
	for k, v := range e.Fields {
		flat[k] = v
	}
	flat["type"] = e.Type
	flat["nodeId"] = e.NodeID
	flat["timestamp"] = e.Timestamp
	return json.Marshal(flat)
}

// UnmarshalJSON splits the envelope keys back out and normalizes the
// timestamp to Unix milliseconds.
func (e *Event) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return errors.Wrap(err, "failed to decode telemetry event")
	}

	eventType, _ := flat["type"].(string)
	if eventType == "" {
		return errors.New("telemetry event carries no type")
	}
	nodeID, _ := flat["nodeId"].(string)

	ts, err := NormalizeTimestamp(flat["timestamp"])
	if err != nil {
		return err
	}

	delete(flat, "type")
	delete(flat, "nodeId")
	delete(flat, "timestamp")

	*e = Event{
		Type:      EventType(eventType),
		NodeID:    nodeID,
		Timestamp: ts,
		Fields:    flat,
	}
	return nil
}

// NormalizeTimestamp accepts a Unix-ms number or an ISO-8601 string and
// returns Unix milliseconds. A missing timestamp maps to now.
func NormalizeTimestamp(raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return time.Now().UnixMilli(), nil
	case float64:
		return int64(v), nil
	case int64:
		return v, nil
	case json.Number:
		ms, err := v.Int64()
		if err != nil {
			return 0, errors.Wrapf(err, "invalid numeric timestamp %q", v)
		}
		return ms, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			t, err = time.Parse("2006-01-02T15:04:05.999999999Z0700", v)
		}
		if err != nil {
			return 0, errors.Errorf("invalid ISO-8601 timestamp %q", v)
		}
		return t.UnixMilli(), nil
	default:
		return 0, errors.Errorf("unsupported timestamp type %T", raw)
	}
}

// Indexed is the set of event fields the store promotes into indexed
// columns. All fields are optional.
type Indexed struct {
	Direction   Direction
	PeerID      ilp.PeerID
	PacketID    string
	Amount      string
	Destination ilp.Address
}

type fieldSpec struct {
	direction   Direction
	peerID      string
	packetID    string
	amount      string
	destination string
}

// extractionTable drives the per-type promotion of payload fields into the
// store's indexed columns. Types absent from the table index nothing beyond
// the envelope.
var extractionTable = map[EventType]fieldSpec{
	EventTypeAccountBalance:       {direction: DirectionInternal, peerID: "peerId", amount: "netBalance"},
	EventTypeSettlementTriggered:  {direction: DirectionInternal, peerID: "peerId", amount: "currentBalance"},
	EventTypeSettlementPending:    {direction: DirectionInternal, peerID: "peerId", amount: "amount"},
	EventTypeSettlementCompleted:  {direction: DirectionSent, peerID: "peerId", amount: "amount", packetID: "channelId"},
	EventTypeSettlementFailed:     {direction: DirectionInternal, peerID: "peerId", amount: "amount"},
	EventTypeChannelOpened:        {direction: DirectionSent, peerID: "peerId", packetID: "channelId", amount: "initialDeposit"},
	EventTypeChannelBalanceUpdate: {direction: DirectionInternal, peerID: "peerId", packetID: "channelId", amount: "transferred"},
	EventTypeChannelSettled:       {direction: DirectionInternal, peerID: "peerId", packetID: "channelId", amount: "amount"},
	EventTypeChannelDeposit:       {direction: DirectionSent, peerID: "peerId", packetID: "channelId", amount: "amount"},
	EventTypeXRPChannelOpened:     {direction: DirectionSent, peerID: "peerId", packetID: "channelId", amount: "amount"},
	EventTypeXRPChannelClaimed:    {direction: DirectionSent, peerID: "peerId", packetID: "channelId", amount: "amount"},
	EventTypeXRPChannelClosed:     {direction: DirectionSent, peerID: "peerId", packetID: "channelId"},
	EventTypePacketReceived:       {direction: DirectionReceived, peerID: "from", packetID: "packetId", amount: "amount", destination: "destination"},
	EventTypePacketForwarded:      {direction: DirectionSent, peerID: "to", packetID: "packetId", amount: "amount", destination: "destination"},
	EventTypePacketRejected:       {direction: DirectionSent, peerID: "from", packetID: "packetId", amount: "amount", destination: "destination"},
	EventTypeBTPConnectionFailed:  {direction: DirectionInternal, peerID: "peerId"},
	EventTypeSuspiciousActivity:   {direction: DirectionInternal, peerID: "peerId"},
	EventTypeRateLimitExceeded:    {direction: DirectionReceived, peerID: "peerId"},
	EventTypeWalletMismatch:       {direction: DirectionInternal, peerID: "peerId", amount: "expected"},
	EventTypeFraudDetected:        {direction: DirectionInternal, peerID: "peerId"},
	EventTypePeerPaused:           {direction: DirectionInternal, peerID: "peerId"},
	EventTypePeerResumed:          {direction: DirectionInternal, peerID: "peerId"},
}

// Extract pulls the indexed columns out of the event per its type.
func Extract(e Event) Indexed {
	spec, ok := extractionTable[e.Type]
	if !ok {
		return Indexed{Direction: DirectionInternal}
	}

	indexed := Indexed{Direction: spec.direction}
	if spec.peerID != "" {
		indexed.PeerID = ilp.PeerID(stringField(e.Fields, spec.peerID))
	}
	if spec.packetID != "" {
		indexed.PacketID = stringField(e.Fields, spec.packetID)
	}
	if spec.amount != "" {
		indexed.Amount = amountField(e.Fields, spec.amount)
	}
	if spec.destination != "" {
		indexed.Destination = ilp.Address(stringField(e.Fields, spec.destination))
	}
	return indexed
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return v
	}
	return ""
}

func amountField(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case sdkmath.Int:
		return v.String()
	case float64:
		return sdkmath.NewInt(int64(v)).String()
	case int64:
		return sdkmath.NewInt(v).String()
	case int:
		return sdkmath.NewInt(int64(v)).String()
	default:
		return ""
	}
}
