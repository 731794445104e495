package settlement

import (
	"context"
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"

	"github.com/interledgermesh/connector/keys"
)

//go:generate mockgen -destination=evm_mock.go -package=settlement . EVMBackend

// EVMChannelState is the token-network contract's view of one channel.
type EVMChannelState struct {
	ChannelID   common.Hash
	Deposit     *big.Int
	Nonce       uint64
	Transferred *big.Int
	OpenedAt    time.Time
}

// EVMBackend is the token-network contract surface the EVM channel client
// drives. Transaction building and submission live behind it.
type EVMBackend interface {
	// ChannelTo returns the open channel funded by this node towards the
	// participant, if one exists.
	ChannelTo(ctx context.Context, participant common.Address) (EVMChannelState, bool, error)
	// OpenChannel opens a channel towards the participant and returns its
	// state once the transaction is mined.
	OpenChannel(ctx context.Context, participant common.Address, deposit *big.Int) (EVMChannelState, error)
	// Deposit adds funds to the channel.
	Deposit(ctx context.Context, channelID common.Hash, amount *big.Int) error
}

// EVMClientConfig is the EVM channel client config.
type EVMClientConfig struct {
	// ChainID is the EVM chain the token network lives on.
	ChainID int64
	// TokenNetworkAddress is the channel contract address, also the EIP-712
	// verifying contract.
	TokenNetworkAddress common.Address
}

// EVMClient settles over EVM payment channels. Balance proofs are EIP-712
// typed-data signatures over the cumulative transferred amount.
type EVMClient struct {
	cfg     EVMClientConfig
	backend EVMBackend
	signer  *keys.EvmSigner
}

// NewEVMClient returns a new EVMClient.
func NewEVMClient(cfg EVMClientConfig, backend EVMBackend, signer *keys.EvmSigner) *EVMClient {
	return &EVMClient{
		cfg:     cfg,
		backend: backend,
		signer:  signer,
	}
}

// Method implements ChannelClient.
func (c *EVMClient) Method() Method {
	return MethodEVM
}

// LookupChannel implements ChannelClient.
func (c *EVMClient) LookupChannel(ctx context.Context, peerAddress string) (Channel, bool, error) {
	if !common.IsHexAddress(peerAddress) {
		return Channel{}, false, errors.Errorf("invalid EVM peer address:%s", peerAddress)
	}
	state, found, err := c.backend.ChannelTo(ctx, common.HexToAddress(peerAddress))
	if err != nil {
		return Channel{}, false, Retryable(errors.Wrap(err, "failed to query channel"))
	}
	if !found {
		return Channel{}, false, nil
	}
	return c.channelFromState(state, peerAddress), true, nil
}

// OpenChannel implements ChannelClient.
func (c *EVMClient) OpenChannel(ctx context.Context, peerAddress string, deposit sdkmath.Int) (Channel, error) {
	if !common.IsHexAddress(peerAddress) {
		return Channel{}, errors.Errorf("invalid EVM peer address:%s", peerAddress)
	}
	state, err := c.backend.OpenChannel(ctx, common.HexToAddress(peerAddress), deposit.BigInt())
	if err != nil {
		return Channel{}, Retryable(errors.Wrap(err, "failed to open channel"))
	}
	return c.channelFromState(state, peerAddress), nil
}

// Deposit implements ChannelClient.
func (c *EVMClient) Deposit(ctx context.Context, channelID string, amount sdkmath.Int) error {
	if err := c.backend.Deposit(ctx, common.HexToHash(channelID), amount.BigInt()); err != nil {
		return Retryable(errors.Wrapf(err, "failed to deposit into channel:%s", channelID))
	}
	return nil
}

// SignBalanceProof implements ChannelClient. The proof advances the channel's
// nonce by one and the cumulative transferred amount by amount.
func (c *EVMClient) SignBalanceProof(ctx context.Context, channel Channel, amount sdkmath.Int) (BalanceProof, error) {
	nonce := channel.Nonce + 1
	transferred := channel.Transferred.Add(amount)

	typedData := c.balanceProofTypedData(common.HexToHash(channel.ChannelID), nonce, transferred)
	signature, err := c.signer.SignTypedData(ctx, typedData)
	if err != nil {
		return BalanceProof{}, errors.Wrapf(err, "failed to sign balance proof, channel:%s", channel.ChannelID)
	}

	return BalanceProof{
		ChannelID:   channel.ChannelID,
		Nonce:       nonce,
		Transferred: transferred,
		Signature:   signature,
	}, nil
}

func (c *EVMClient) balanceProofTypedData(channelID common.Hash, nonce uint64, transferred sdkmath.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"BalanceProof": []apitypes.Type{
				{Name: "channelId", Type: "bytes32"},
				{Name: "nonce", Type: "uint256"},
				{Name: "transferredAmount", Type: "uint256"},
				{Name: "lockedAmount", Type: "uint256"},
				{Name: "locksRoot", Type: "bytes32"},
			},
		},
		PrimaryType: "BalanceProof",
		Domain: apitypes.TypedDataDomain{
			Name:              "TokenNetwork",
			Version:           "1",
			ChainId:           ethmath.NewHexOrDecimal256(c.cfg.ChainID),
			VerifyingContract: c.cfg.TokenNetworkAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"channelId":         channelID.Bytes(),
			"nonce":             (*ethmath.HexOrDecimal256)(new(big.Int).SetUint64(nonce)),
			"transferredAmount": (*ethmath.HexOrDecimal256)(transferred.BigInt()),
			"lockedAmount":      ethmath.NewHexOrDecimal256(0),
			"locksRoot":         make([]byte, common.HashLength),
		},
	}
}

func (c *EVMClient) channelFromState(state EVMChannelState, peerAddress string) Channel {
	return Channel{
		ChannelID:   state.ChannelID.Hex(),
		Method:      MethodEVM,
		PeerAddress: peerAddress,
		Deposit:     sdkmath.NewIntFromBigInt(state.Deposit),
		Nonce:       state.Nonce,
		Transferred: sdkmath.NewIntFromBigInt(state.Transferred),
		Status:      ChannelStatusActive,
		OpenedAt:    state.OpenedAt,
	}
}
