package keys

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"

	bip39 "github.com/cosmos/go-bip39"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const envKeyPrefix = "KEY_"

// EnvKeyManager reads private keys from environment variables named
// KEY_<keyID>. The value is one of:
//   - "secp256k1:<hex>" or bare hex, a 32-byte secp256k1 private key,
//   - "ed25519:<hex>", a 32-byte ed25519 seed,
//   - a BIP-39 mnemonic (detected by whitespace), from which a secp256k1
//     key is derived.
//
// Keys are parsed lazily and cached for the process lifetime.
type EnvKeyManager struct {
	mu    sync.Mutex
	cache map[string]*envKey
}

type envKey struct {
	secp *struct {
		priv []byte
		pub  []byte
	}
	ed25519Priv ed25519.PrivateKey
}

// NewEnvKeyManager returns a new EnvKeyManager.
func NewEnvKeyManager() *EnvKeyManager {
	return &EnvKeyManager{
		cache: make(map[string]*envKey),
	}
}

// Sign signs the pre-hashed digest with the key material behind keyID.
// secp256k1 signatures are 65-byte [R || S || V] recoverable signatures.
func (m *EnvKeyManager) Sign(ctx context.Context, digest []byte, keyID string) ([]byte, error) {
	key, err := m.load(keyID)
	if err != nil {
		return nil, err
	}

	if key.secp != nil {
		priv, err := crypto.ToECDSA(key.secp.priv)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode secp256k1 key, keyID:%s", keyID)
		}
		sig, err := crypto.Sign(digest, priv)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to sign digest, keyID:%s", keyID)
		}
		return sig, nil
	}
	return ed25519.Sign(key.ed25519Priv, digest), nil
}

// PublicKey returns the uncompressed secp256k1 public key (65 bytes) or the
// ed25519 public key (32 bytes) for keyID.
func (m *EnvKeyManager) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	key, err := m.load(keyID)
	if err != nil {
		return nil, err
	}

	if key.secp != nil {
		return key.secp.pub, nil
	}
	pub := key.ed25519Priv.Public().(ed25519.PublicKey)
	return []byte(pub), nil
}

// Rotate is not supported for environment-variable keys.
func (m *EnvKeyManager) Rotate(ctx context.Context, keyID string) error {
	return errors.Wrapf(ErrRotateNotSupported, "backend:%s, keyID:%s", BackendEnv, keyID)
}

func (m *EnvKeyManager) load(keyID string) (*envKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.cache[keyID]; ok {
		return key, nil
	}

	raw, ok := os.LookupEnv(envKeyName(keyID))
	if !ok {
		return nil, errors.Wrapf(ErrKeyNotFound, "environment variable %s is not set", envKeyName(keyID))
	}

	key, err := parseEnvKey(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "keyID:%s", keyID)
	}
	m.cache[keyID] = key
	return key, nil
}

func envKeyName(keyID string) string {
	sanitized := strings.NewReplacer("-", "_", ".", "_").Replace(keyID)
	return fmt.Sprintf("%s%s", envKeyPrefix, strings.ToUpper(sanitized))
}

func parseEnvKey(raw string) (*envKey, error) {
	raw = strings.TrimSpace(raw)

	if strings.Contains(raw, " ") {
		if !bip39.IsMnemonicValid(raw) {
			return nil, errors.Wrap(ErrConfig, "value looks like a mnemonic but fails BIP-39 validation")
		}
		seed := bip39.NewSeed(raw, "")
		return newSecpEnvKey(seed[:32])
	}

	scheme, hexPart := "secp256k1", raw
	if idx := strings.IndexByte(raw, ':'); idx >= 0 {
		scheme, hexPart = raw[:idx], raw[idx+1:]
	}

	material, err := hex.DecodeString(hexPart)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, "key material is not valid hex")
	}
	if len(material) != 32 {
		return nil, errors.Wrapf(ErrConfig, "key material must be 32 bytes, got %d", len(material))
	}

	switch scheme {
	case "secp256k1":
		return newSecpEnvKey(material)
	case "ed25519":
		return &envKey{
			ed25519Priv: ed25519.NewKeyFromSeed(material),
		}, nil
	default:
		return nil, errors.Wrapf(ErrConfig, "unknown key scheme %q", scheme)
	}
}

func newSecpEnvKey(material []byte) (*envKey, error) {
	priv, err := crypto.ToECDSA(material)
	if err != nil {
		return nil, errors.Wrap(ErrConfig, "invalid secp256k1 key material")
	}
	return &envKey{
		secp: &struct {
			priv []byte
			pub  []byte
		}{
			priv: material,
			pub:  crypto.FromECDSAPub(&priv.PublicKey),
		},
	}, nil
}
