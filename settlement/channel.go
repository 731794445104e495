package settlement

import (
	"context"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/interledgermesh/connector/ilp"
)

//go:generate mockgen -destination=mock.go -package=settlement . ChannelClient

// Method is a settlement method.
type Method string

// Supported settlement methods.
const (
	MethodEVM Method = "evm"
	MethodXRP Method = "xrp"
)

// Preference selects which settlement methods the node is willing to use,
// in order.
type Preference string

// Settlement preferences.
const (
	PreferenceEVM  Preference = "evm"
	PreferenceXRP  Preference = "xrp"
	PreferenceBoth Preference = "both"
)

// Methods returns the methods the preference allows, most preferred first.
func (p Preference) Methods() []Method {
	switch p {
	case PreferenceEVM:
		return []Method{MethodEVM}
	case PreferenceXRP:
		return []Method{MethodXRP}
	default:
		return []Method{MethodEVM, MethodXRP}
	}
}

// ChannelStatus is the lifecycle status of a payment channel.
type ChannelStatus string

// Channel statuses.
const (
	ChannelStatusOpening  ChannelStatus = "OPENING"
	ChannelStatusActive   ChannelStatus = "ACTIVE"
	ChannelStatusSettling ChannelStatus = "SETTLING"
	ChannelStatusSettled  ChannelStatus = "SETTLED"
	ChannelStatusFailed   ChannelStatus = "FAILED"
)

// Channel is this node's view of one unidirectional payment channel it funds
// towards a peer.
type Channel struct {
	ChannelID   string        `json:"channelId"`
	Method      Method        `json:"method"`
	Peer        ilp.PeerID    `json:"peerId"`
	Asset       ilp.AssetID   `json:"assetId"`
	PeerAddress string        `json:"peerAddress"`
	Deposit     sdkmath.Int   `json:"deposit"`
	Nonce       uint64        `json:"nonce"`
	Transferred sdkmath.Int   `json:"transferred"`
	Status      ChannelStatus `json:"status"`
	OpenedAt    time.Time     `json:"openedAt"`
	ClosedAt    *time.Time    `json:"closedAt,omitempty"`
}

// BalanceProof is a signed off-chain claim the peer can redeem on the
// channel's ledger. Transferred is cumulative, so a proof with a higher nonce
// supersedes all earlier ones.
type BalanceProof struct {
	ChannelID   string      `json:"channelId"`
	Nonce       uint64      `json:"nonce"`
	Transferred sdkmath.Int `json:"transferred"`
	Signature   []byte      `json:"signature"`
}

// ChannelClient is one settlement method's on-ledger surface. Implementations
// wrap the method's chain client and signer; the engine drives them without
// knowing the chain.
type ChannelClient interface {
	// Method identifies the settlement method.
	Method() Method
	// LookupChannel returns the open channel funded by this node towards the
	// peer address, if one exists.
	LookupChannel(ctx context.Context, peerAddress string) (Channel, bool, error)
	// OpenChannel opens a channel towards the peer address with the given
	// initial deposit and returns it once usable.
	OpenChannel(ctx context.Context, peerAddress string, deposit sdkmath.Int) (Channel, error)
	// Deposit tops up the channel's deposit.
	Deposit(ctx context.Context, channelID string, amount sdkmath.Int) error
	// SignBalanceProof produces the next cumulative balance proof for the
	// channel, moving amount more to the peer.
	SignBalanceProof(ctx context.Context, channel Channel, amount sdkmath.Int) (BalanceProof, error)
}
