package keys

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/pkg/errors"
)

// EvmSigner adapts a KeyManager to the operations EVM tooling needs. It is
// stateless: every call hashes locally and delegates the digest to the
// manager, so private material never enters this type.
type EvmSigner struct {
	keyManager KeyManager
	keyID      string
}

// NewEvmSigner returns a signer bound to one key.
func NewEvmSigner(keyManager KeyManager, keyID string) *EvmSigner {
	return &EvmSigner{
		keyManager: keyManager,
		keyID:      keyID,
	}
}

// Address derives the EVM address from the key's uncompressed secp256k1
// public key.
func (s *EvmSigner) Address(ctx context.Context) (common.Address, error) {
	pub, err := s.keyManager.PublicKey(ctx, s.keyID)
	if err != nil {
		return common.Address{}, err
	}
	if len(pub) != 65 || pub[0] != 0x04 {
		return common.Address{}, errors.Errorf("expected 65-byte uncompressed secp256k1 public key, got %d bytes", len(pub))
	}
	return common.BytesToAddress(crypto.Keccak256(pub[1:])[12:]), nil
}

// SignHash signs a 32-byte hash, e.g. an RLP-encoded transaction hash.
func (s *EvmSigner) SignHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	return s.keyManager.Sign(ctx, hash.Bytes(), s.keyID)
}

// SignPersonalMessage signs msg under the EIP-191 personal-message prefix.
func (s *EvmSigner) SignPersonalMessage(ctx context.Context, msg []byte) ([]byte, error) {
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)
	return s.keyManager.Sign(ctx, crypto.Keccak256([]byte(prefixed)), s.keyID)
}

// SignTypedData signs EIP-712 typed data.
func (s *EvmSigner) SignTypedData(ctx context.Context, typedData apitypes.TypedData) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to hash typed data")
	}
	return s.keyManager.Sign(ctx, digest, s.keyID)
}
