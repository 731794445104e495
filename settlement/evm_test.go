package settlement_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	ethmath "github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/interledgermesh/connector/keys"
	"github.com/interledgermesh/connector/settlement"
)

const (
	testSecpKeyHex      = "4646464646464646464646464646464646464646464646464646464646464646"
	testChainID         = int64(8453)
	testTokenNetworkHex = "0x00000000000000000000000000000000000000cc"
	testEVMChannelID    = "0x0101010101010101010101010101010101010101010101010101010101010101"
)

func newTestEVMClient(t *testing.T, backend settlement.EVMBackend) (*settlement.EVMClient, *keys.EvmSigner) {
	t.Setenv("KEY_SETTLEMENT", testSecpKeyHex)
	keyManager, err := keys.New(context.Background(), keys.Config{Backend: keys.BackendEnv})
	require.NoError(t, err)

	signer := keys.NewEvmSigner(keyManager, "settlement")
	cfg := settlement.EVMClientConfig{
		ChainID:             testChainID,
		TokenNetworkAddress: common.HexToAddress(testTokenNetworkHex),
	}
	return settlement.NewEVMClient(cfg, backend, signer), signer
}

func TestEVMSignBalanceProofRecoversToSignerAddress(t *testing.T) {
	ctx := context.Background()
	client, signer := newTestEVMClient(t, nil)

	channel := settlement.Channel{
		ChannelID:   testEVMChannelID,
		Method:      settlement.MethodEVM,
		Deposit:     sdkmath.NewInt(1000),
		Nonce:       2,
		Transferred: sdkmath.NewInt(100),
		Status:      settlement.ChannelStatusActive,
	}
	proof, err := client.SignBalanceProof(ctx, channel, sdkmath.NewInt(50))
	require.NoError(t, err)
	require.EqualValues(t, 3, proof.Nonce)
	require.Equal(t, sdkmath.NewInt(150), proof.Transferred)
	require.Len(t, proof.Signature, 65)

	// reproduce the typed-data digest the client must have signed
	typedData := apitypes.TypedData{
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
			ChainId:           ethmath.NewHexOrDecimal256(testChainID),
			VerifyingContract: common.HexToAddress(testTokenNetworkHex).Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"channelId":         common.HexToHash(testEVMChannelID).Bytes(),
			"nonce":             ethmath.NewHexOrDecimal256(3),
			"transferredAmount": ethmath.NewHexOrDecimal256(150),
			"lockedAmount":      ethmath.NewHexOrDecimal256(0),
			"locksRoot":         make([]byte, common.HashLength),
		},
	}
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	require.NoError(t, err)

	pub, err := crypto.SigToPub(digest, proof.Signature)
	require.NoError(t, err)

	signerAddress, err := signer.Address(context.Background())
	require.NoError(t, err)
	require.Equal(t, signerAddress, crypto.PubkeyToAddress(*pub))
}

func TestEVMLookupChannelMapsContractState(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := settlement.NewMockEVMBackend(ctrl)
	client, _ := newTestEVMClient(t, backend)

	peerAddress := "0x00000000000000000000000000000000000000bb"
	openedAt := time.Now()
	backend.EXPECT().ChannelTo(gomock.Any(), common.HexToAddress(peerAddress)).
		Return(settlement.EVMChannelState{
			ChannelID:   common.HexToHash(testEVMChannelID),
			Deposit:     big.NewInt(1000),
			Nonce:       7,
			Transferred: big.NewInt(400),
			OpenedAt:    openedAt,
		}, true, nil)

	channel, found, err := client.LookupChannel(context.Background(), peerAddress)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, common.HexToHash(testEVMChannelID).Hex(), channel.ChannelID)
	require.Equal(t, settlement.MethodEVM, channel.Method)
	require.Equal(t, sdkmath.NewInt(1000), channel.Deposit)
	require.EqualValues(t, 7, channel.Nonce)
	require.Equal(t, sdkmath.NewInt(400), channel.Transferred)
	require.Equal(t, settlement.ChannelStatusActive, channel.Status)
}

func TestEVMLookupChannelRejectsInvalidAddress(t *testing.T) {
	client, _ := newTestEVMClient(t, nil)

	_, _, err := client.LookupChannel(context.Background(), "not-an-address")
	require.Error(t, err)
	require.False(t, settlement.IsRetryable(err))
}

func TestEVMBackendErrorsAreRetryable(t *testing.T) {
	ctrl := gomock.NewController(t)
	backend := settlement.NewMockEVMBackend(ctrl)
	client, _ := newTestEVMClient(t, backend)

	peerAddress := "0x00000000000000000000000000000000000000bb"
	backend.EXPECT().ChannelTo(gomock.Any(), gomock.Any()).
		Return(settlement.EVMChannelState{}, false, errors.New("rpc unavailable"))
	_, _, err := client.LookupChannel(context.Background(), peerAddress)
	require.True(t, settlement.IsRetryable(err))

	backend.EXPECT().OpenChannel(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(settlement.EVMChannelState{}, errors.New("rpc unavailable"))
	_, err = client.OpenChannel(context.Background(), peerAddress, sdkmath.NewInt(1000))
	require.True(t, settlement.IsRetryable(err))

	backend.EXPECT().Deposit(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("rpc unavailable"))
	err = client.Deposit(context.Background(), testEVMChannelID, sdkmath.NewInt(100))
	require.True(t, settlement.IsRetryable(err))
}
