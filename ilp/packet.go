package ilp

import (
	"crypto/sha256"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"
)

// PeerID is the opaque identity of a directly connected counterparty.
type PeerID string

// AssetID is the asset identifier, e.g. "ILP", "USDC", "XRP".
type AssetID string

// Amount is an arbitrary-precision unsigned integer in the smallest asset unit.
type Amount = sdkmath.Int

// ConditionSize is the byte length of an execution condition and a fulfillment.
const ConditionSize = 32

// ILP reject codes returned by the pipeline. Stable on the wire.
const (
	CodeBadRequest     = "F00 BadRequest"
	CodeUnreachable    = "F02 Unreachable"
	CodeWrongCondition = "F05 WrongCondition"
	CodeTimeout        = "R00 Timeout"
	CodeInsufficient   = "T04 Insufficient"
	CodeCongested      = "T04 Congested"
	CodeRateLimit      = "T05 RateLimit"
	CodeInternal       = "T00 Internal"
)

// Prepare is a value-bearing packet awaiting a Fulfill or a Reject.
type Prepare struct {
	PacketID    string    `json:"packetId"`
	Destination Address   `json:"destination"`
	Amount      Amount    `json:"amount"`
	Condition   []byte    `json:"condition"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Data        []byte    `json:"data,omitempty"`
}

// Validate checks the structural invariants of the Prepare at ingest time.
func (p Prepare) Validate(now time.Time) error {
	if p.PacketID == "" {
		return errors.New("prepare packet id is empty")
	}
	if err := p.Destination.Validate(); err != nil {
		return err
	}
	if p.Amount.IsNil() || p.Amount.IsNegative() {
		return errors.Errorf("prepare amount must be non-negative, packetID:%s", p.PacketID)
	}
	if len(p.Condition) != ConditionSize {
		return errors.Errorf("prepare condition must be %d bytes, got %d", ConditionSize, len(p.Condition))
	}
	if !p.ExpiresAt.After(now) {
		return errors.Errorf("prepare is already expired, packetID:%s, expiresAt:%s", p.PacketID, p.ExpiresAt)
	}
	return nil
}

// Fulfill resolves a Prepare with the condition pre-image.
type Fulfill struct {
	PacketID    string `json:"packetId"`
	Fulfillment []byte `json:"fulfillment"`
	Data        []byte `json:"data,omitempty"`
}

// Matches reports whether sha256(fulfillment) equals the given condition.
func (f Fulfill) Matches(condition []byte) bool {
	if len(condition) != ConditionSize || len(f.Fulfillment) != ConditionSize {
		return false
	}
	digest := sha256.Sum256(f.Fulfillment)
	for i := range digest {
		if digest[i] != condition[i] {
			return false
		}
	}
	return true
}

// Reject resolves a Prepare with a stable error code.
type Reject struct {
	PacketID    string  `json:"packetId"`
	Code        string  `json:"code"`
	TriggeredBy Address `json:"triggeredBy"`
	Message     string  `json:"message"`
	Data        []byte  `json:"data,omitempty"`
}

// NewReject builds a Reject for the given packet.
func NewReject(packetID, code string, triggeredBy Address, message string) Reject {
	return Reject{
		PacketID:    packetID,
		Code:        code,
		TriggeredBy: triggeredBy,
		Message:     message,
	}
}
