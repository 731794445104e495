package btp

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"

	"github.com/interledgermesh/connector/ilp"
)

// FrameType tags a BTP frame.
type FrameType string

// Frame types.
const (
	FrameTypeAuth    FrameType = "AUTH"
	FrameTypePrepare FrameType = "PREPARE"
	FrameTypeFulfill FrameType = "FULFILL"
	FrameTypeReject  FrameType = "REJECT"
	FrameTypePing    FrameType = "PING"
	FrameTypePong    FrameType = "PONG"
)

// Frame is the JSON wire frame exchanged between peers. The populated
// fields depend on Type; byte fields travel base64-encoded per encoding/json
// defaults.
type Frame struct {
	Type FrameType `json:"type"`

	// AUTH
	PeerID string `json:"peerId,omitempty"`
	Secret string `json:"secret,omitempty"`

	// PREPARE / FULFILL / REJECT
	PacketID    string       `json:"packetId,omitempty"`
	Destination ilp.Address  `json:"destination,omitempty"`
	Amount      *sdkmath.Int `json:"amount,omitempty"`
	Condition   []byte       `json:"condition,omitempty"`
	ExpiresAt   *time.Time   `json:"expiresAt,omitempty"`
	Fulfillment []byte       `json:"fulfillment,omitempty"`
	Code        string       `json:"code,omitempty"`
	TriggeredBy ilp.Address  `json:"triggeredBy,omitempty"`
	Message     string       `json:"message,omitempty"`
	Data        []byte       `json:"data,omitempty"`
}

// NewAuthFrame builds the opening handshake frame.
func NewAuthFrame(peerID, secret string) Frame {
	return Frame{
		Type:   FrameTypeAuth,
		PeerID: peerID,
		Secret: secret,
	}
}

// NewPrepareFrame encodes a Prepare packet.
func NewPrepareFrame(p ilp.Prepare) Frame {
	amount := p.Amount
	expiresAt := p.ExpiresAt
	return Frame{
		Type:        FrameTypePrepare,
		PacketID:    p.PacketID,
		Destination: p.Destination,
		Amount:      &amount,
		Condition:   p.Condition,
		ExpiresAt:   &expiresAt,
		Data:        p.Data,
	}
}

// NewFulfillFrame encodes a Fulfill packet.
func NewFulfillFrame(f ilp.Fulfill) Frame {
	return Frame{
		Type:        FrameTypeFulfill,
		PacketID:    f.PacketID,
		Fulfillment: f.Fulfillment,
		Data:        f.Data,
	}
}

// NewRejectFrame encodes a Reject packet.
func NewRejectFrame(r ilp.Reject) Frame {
	return Frame{
		Type:        FrameTypeReject,
		PacketID:    r.PacketID,
		Code:        r.Code,
		TriggeredBy: r.TriggeredBy,
		Message:     r.Message,
		Data:        r.Data,
	}
}

// Prepare decodes the frame as a Prepare packet.
func (f Frame) Prepare() (ilp.Prepare, error) {
	if f.Type != FrameTypePrepare {
		return ilp.Prepare{}, errors.Errorf("frame is %s, not %s", f.Type, FrameTypePrepare)
	}
	if f.Amount == nil || f.ExpiresAt == nil {
		return ilp.Prepare{}, errors.New("prepare frame misses amount or expiresAt")
	}
	return ilp.Prepare{
		PacketID:    f.PacketID,
		Destination: f.Destination,
		Amount:      *f.Amount,
		Condition:   f.Condition,
		ExpiresAt:   *f.ExpiresAt,
		Data:        f.Data,
	}, nil
}

// Fulfill decodes the frame as a Fulfill packet.
func (f Frame) Fulfill() (ilp.Fulfill, error) {
	if f.Type != FrameTypeFulfill {
		return ilp.Fulfill{}, errors.Errorf("frame is %s, not %s", f.Type, FrameTypeFulfill)
	}
	return ilp.Fulfill{
		PacketID:    f.PacketID,
		Fulfillment: f.Fulfillment,
		Data:        f.Data,
	}, nil
}

// Reject decodes the frame as a Reject packet.
func (f Frame) Reject() (ilp.Reject, error) {
	if f.Type != FrameTypeReject {
		return ilp.Reject{}, errors.Errorf("frame is %s, not %s", f.Type, FrameTypeReject)
	}
	return ilp.Reject{
		PacketID:    f.PacketID,
		Code:        f.Code,
		TriggeredBy: f.TriggeredBy,
		Message:     f.Message,
		Data:        f.Data,
	}, nil
}
