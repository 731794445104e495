package keys

import (
	"context"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"
	"github.com/pkg/errors"
)

// AzureKVKeyManager signs via Azure Key Vault keys. The keyID is the vault
// key name; the latest key version is used.
type AzureKVKeyManager struct {
	client *azkeys.Client
}

// NewAzureKVKeyManager builds the azure-kv backend using the default Azure
// credential chain.
func NewAzureKVKeyManager(cfg AzureKVConfig) (*AzureKVKeyManager, error) {
	if cfg.VaultURL == "" {
		return nil, errors.Wrap(ErrConfig, "azure-kv backend requires vaultURL")
	}

	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "failed to build Azure credential: %s", err)
	}
	client, err := azkeys.NewClient(cfg.VaultURL, cred, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "failed to build Key Vault client: %s", err)
	}
	return &AzureKVKeyManager{
		client: client,
	}, nil
}

// Sign signs the pre-hashed digest with ES256K.
func (m *AzureKVKeyManager) Sign(ctx context.Context, digest []byte, keyID string) ([]byte, error) {
	resp, err := m.client.Sign(ctx, keyID, "", azkeys.SignParameters{
		Algorithm: to.Ptr(azkeys.SignatureAlgorithmES256K),
		Value:     digest,
	}, nil)
	if err != nil {
		return nil, wrapAzureKVError(err, keyID)
	}
	return resp.Result, nil
}

// PublicKey returns the uncompressed secp256k1 public key assembled from the
// vault key's JWK coordinates.
func (m *AzureKVKeyManager) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	resp, err := m.client.GetKey(ctx, keyID, "", nil)
	if err != nil {
		return nil, wrapAzureKVError(err, keyID)
	}
	jwk := resp.Key
	if jwk == nil || len(jwk.X) == 0 || len(jwk.Y) == 0 {
		return nil, errors.Wrapf(ErrBackendUnavailable, "vault key %s carries no EC coordinates", keyID)
	}

	pub := make([]byte, 0, 1+len(jwk.X)+len(jwk.Y))
	pub = append(pub, 0x04)
	pub = append(pub, jwk.X...)
	pub = append(pub, jwk.Y...)
	return pub, nil
}

// Rotate is not supported; Key Vault rotation policies are managed in Azure.
func (m *AzureKVKeyManager) Rotate(ctx context.Context, keyID string) error {
	return errors.Wrapf(ErrRotateNotSupported, "backend:%s, keyID:%s", BackendAzureKV, keyID)
}

func wrapAzureKVError(err error, keyID string) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case http.StatusNotFound:
			return errors.Wrapf(ErrKeyNotFound, "keyID:%s", keyID)
		case http.StatusForbidden:
			return errors.Wrapf(ErrSigningRejected, "keyID:%s: %s", keyID, err)
		}
	}
	return errors.Wrapf(ErrBackendUnavailable, "keyID:%s: %s", keyID, err)
}
