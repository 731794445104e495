package keys

import (
	"context"

	"github.com/pkg/errors"
)

// Backend enumerates the supported signing backends.
type Backend string

// Supported backends.
const (
	BackendEnv     Backend = "env"
	BackendAWSKMS  Backend = "aws-kms"
	BackendGCPKMS  Backend = "gcp-kms"
	BackendAzureKV Backend = "azure-kv"
	BackendHSM     Backend = "hsm"
)

// Errors returned by key manager backends.
var (
	ErrKeyNotFound        = errors.New("key not found")
	ErrBackendUnavailable = errors.New("key backend unavailable")
	ErrSigningRejected    = errors.New("signing rejected by backend policy")
	ErrConfig             = errors.New("invalid key backend configuration")
	ErrRotateNotSupported = errors.New("key rotation is not supported by this backend")
)

//go:generate mockgen -destination=keys_mock.go -package=keys . KeyManager

// KeyManager signs pre-hashed digests and serves public keys without ever
// exposing private material. Callers hash per the target scheme before
// calling Sign (keccak256 for secp256k1/EVM, SHA-512 half for XRPL).
type KeyManager interface {
	Sign(ctx context.Context, digest []byte, keyID string) ([]byte, error)
	PublicKey(ctx context.Context, keyID string) ([]byte, error)
	Rotate(ctx context.Context, keyID string) error
}

// AWSKMSConfig is the aws-kms backend config.
type AWSKMSConfig struct {
	Region string `yaml:"region"`
}

// GCPKMSConfig is the gcp-kms backend config. CredentialsFile is optional;
// application default credentials are used when it is empty.
type GCPKMSConfig struct {
	Project         string `yaml:"project"`
	Location        string `yaml:"location"`
	KeyRing         string `yaml:"keyRing"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// AzureKVConfig is the azure-kv backend config.
type AzureKVConfig struct {
	VaultURL string `yaml:"vaultURL"`
}

// HSMConfig is the hsm (PKCS#11) backend config.
type HSMConfig struct {
	LibraryPath string `yaml:"libraryPath"`
	Slot        uint   `yaml:"slot"`
	PIN         string `yaml:"pin"`
	TokenLabel  string `yaml:"tokenLabel"`
}

// Config is the key manager config. Exactly the block matching Backend is
// required; the rest are ignored.
type Config struct {
	Backend Backend       `yaml:"backend"`
	AWSKMS  AWSKMSConfig  `yaml:"awsKMS"`
	GCPKMS  GCPKMSConfig  `yaml:"gcpKMS"`
	AzureKV AzureKVConfig `yaml:"azureKV"`
	HSM     HSMConfig     `yaml:"hsm"`
}

// DefaultConfig returns the default key manager config.
func DefaultConfig() Config {
	return Config{
		Backend: BackendEnv,
	}
}

// New builds the key manager for the configured backend. The backend's
// config block is validated here; a missing or incomplete block is a fatal
// configuration error.
func New(ctx context.Context, cfg Config) (KeyManager, error) {
	switch cfg.Backend {
	case BackendEnv:
		return NewEnvKeyManager(), nil
	case BackendAWSKMS:
		return NewAWSKMSKeyManager(ctx, cfg.AWSKMS)
	case BackendGCPKMS:
		return NewGCPKMSKeyManager(ctx, cfg.GCPKMS)
	case BackendAzureKV:
		return NewAzureKVKeyManager(cfg.AzureKV)
	case BackendHSM:
		return NewHSMKeyManager(cfg.HSM)
	default:
		return nil, errors.Wrapf(ErrConfig, "unknown key backend %q", cfg.Backend)
	}
}
