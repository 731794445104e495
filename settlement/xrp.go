package settlement

import (
	"context"
	"crypto/sha512"
	"encoding/binary"
	"encoding/hex"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/pkg/errors"
	rippledata "github.com/rubblelabs/ripple/data"

	"github.com/interledgermesh/connector/keys"
	"github.com/interledgermesh/connector/xrpl"
)

//go:generate mockgen -destination=xrp_mock.go -package=settlement . XRPBackend

// claimHashPrefix is rippled's payment channel claim serialization prefix.
var claimHashPrefix = []byte{'C', 'L', 'M', 0x00}

// XRPBackend submits payment channel transactions to the XRPL. Transaction
// building, signing and confirmation live behind it.
type XRPBackend interface {
	// OpenChannel submits a PaymentChannelCreate and returns the channel ID
	// once the transaction is validated.
	OpenChannel(ctx context.Context, destination rippledata.Account, amount sdkmath.Int, settleDelay uint32) (string, error)
	// FundChannel submits a PaymentChannelFund for the channel.
	FundChannel(ctx context.Context, channelID string, amount sdkmath.Int) error
}

// XRPClientConfig is the XRP channel client config.
type XRPClientConfig struct {
	// Account is this node's XRPL account, the channel source.
	Account rippledata.Account
	// KeyID selects the claim signing key in the key manager.
	KeyID string
	// SettleDelay is the channel's settle delay in seconds.
	SettleDelay uint32
}

// DefaultXRPClientConfig returns the default XRPClientConfig for the account.
func DefaultXRPClientConfig(account rippledata.Account) XRPClientConfig {
	return XRPClientConfig{
		Account:     account,
		SettleDelay: 86400,
	}
}

// XRPClient settles over XRPL payment channels. Claims are signatures over
// the CLM-prefixed (channelID, cumulative drops) serialization, so a later
// claim supersedes all earlier ones.
type XRPClient struct {
	cfg        XRPClientConfig
	rpcClient  *xrpl.RPCClient
	backend    XRPBackend
	keyManager keys.KeyManager
}

// NewXRPClient returns a new XRPClient.
func NewXRPClient(
	cfg XRPClientConfig,
	rpcClient *xrpl.RPCClient,
	backend XRPBackend,
	keyManager keys.KeyManager,
) *XRPClient {
	return &XRPClient{
		cfg:        cfg,
		rpcClient:  rpcClient,
		backend:    backend,
		keyManager: keyManager,
	}
}

// Method implements ChannelClient.
func (c *XRPClient) Method() Method {
	return MethodXRP
}

// LookupChannel implements ChannelClient.
func (c *XRPClient) LookupChannel(ctx context.Context, peerAddress string) (Channel, bool, error) {
	destination, err := rippledata.NewAccountFromAddress(peerAddress)
	if err != nil {
		return Channel{}, false, errors.Wrapf(err, "invalid XRPL peer address:%s", peerAddress)
	}

	channels, err := c.rpcClient.AccountChannels(ctx, c.cfg.Account, destination)
	if err != nil {
		return Channel{}, false, Retryable(errors.Wrap(err, "failed to query account channels"))
	}
	for _, result := range channels {
		if result.Expiration != nil {
			continue
		}
		channel, err := c.channelFromResult(result, peerAddress)
		if err != nil {
			return Channel{}, false, err
		}
		return channel, true, nil
	}
	return Channel{}, false, nil
}

// OpenChannel implements ChannelClient.
func (c *XRPClient) OpenChannel(ctx context.Context, peerAddress string, deposit sdkmath.Int) (Channel, error) {
	destination, err := rippledata.NewAccountFromAddress(peerAddress)
	if err != nil {
		return Channel{}, errors.Wrapf(err, "invalid XRPL peer address:%s", peerAddress)
	}

	channelID, err := c.backend.OpenChannel(ctx, *destination, deposit, c.cfg.SettleDelay)
	if err != nil {
		return Channel{}, Retryable(errors.Wrap(err, "failed to open payment channel"))
	}

	return Channel{
		ChannelID:   channelID,
		Method:      MethodXRP,
		PeerAddress: peerAddress,
		Deposit:     deposit,
		Transferred: sdkmath.ZeroInt(),
		Status:      ChannelStatusActive,
		OpenedAt:    time.Now(),
	}, nil
}

// Deposit implements ChannelClient.
func (c *XRPClient) Deposit(ctx context.Context, channelID string, amount sdkmath.Int) error {
	if err := c.backend.FundChannel(ctx, channelID, amount); err != nil {
		return Retryable(errors.Wrapf(err, "failed to fund channel:%s", channelID))
	}
	return nil
}

// SignBalanceProof implements ChannelClient. The claim authorizes the
// cumulative transferred drops, channel.Transferred plus amount.
func (c *XRPClient) SignBalanceProof(ctx context.Context, channel Channel, amount sdkmath.Int) (BalanceProof, error) {
	transferred := channel.Transferred.Add(amount)
	digest, err := ClaimDigest(channel.ChannelID, transferred)
	if err != nil {
		return BalanceProof{}, err
	}

	signature, err := c.keyManager.Sign(ctx, digest, c.cfg.KeyID)
	if err != nil {
		return BalanceProof{}, errors.Wrapf(err, "failed to sign claim, channel:%s", channel.ChannelID)
	}

	return BalanceProof{
		ChannelID:   channel.ChannelID,
		Nonce:       channel.Nonce + 1,
		Transferred: transferred,
		Signature:   signature,
	}, nil
}

// ClaimDigest computes the signing digest of a payment channel claim: the
// first half of SHA-512 over the CLM prefix, the channel ID and the
// big-endian cumulative drops.
func ClaimDigest(channelID string, drops sdkmath.Int) ([]byte, error) {
	channelIDBytes, err := hex.DecodeString(channelID)
	if err != nil || len(channelIDBytes) != 32 {
		return nil, errors.Errorf("channel ID must be a 32-byte hex string, got:%s", channelID)
	}
	if !drops.IsUint64() {
		return nil, errors.Errorf("claim amount out of drops range:%s", drops)
	}

	msg := make([]byte, 0, len(claimHashPrefix)+32+8)
	msg = append(msg, claimHashPrefix...)
	msg = append(msg, channelIDBytes...)
	msg = binary.BigEndian.AppendUint64(msg, drops.Uint64())

	digest := sha512.Sum512(msg)
	return digest[:32], nil
}

func (c *XRPClient) channelFromResult(result xrpl.ChannelResult, peerAddress string) (Channel, error) {
	deposit, ok := sdkmath.NewIntFromString(result.Amount)
	if !ok {
		return Channel{}, errors.Errorf("invalid channel amount:%s, channel:%s", result.Amount, result.ChannelID)
	}
	transferred, ok := sdkmath.NewIntFromString(result.Balance)
	if !ok {
		return Channel{}, errors.Errorf("invalid channel balance:%s, channel:%s", result.Balance, result.ChannelID)
	}
	return Channel{
		ChannelID:   result.ChannelID,
		Method:      MethodXRP,
		PeerAddress: peerAddress,
		Deposit:     deposit,
		Transferred: transferred,
		Status:      ChannelStatusActive,
	}, nil
}
