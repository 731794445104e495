package keys

import (
	"context"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// GCPKMSKeyManager signs via Google Cloud KMS asymmetric keys. The keyID is
// the crypto key name inside the configured key ring; the primary key
// version is used.
type GCPKMSKeyManager struct {
	cfg    GCPKMSConfig
	client *kms.KeyManagementClient
}

// NewGCPKMSKeyManager builds the gcp-kms backend using application default
// credentials.
func NewGCPKMSKeyManager(ctx context.Context, cfg GCPKMSConfig) (*GCPKMSKeyManager, error) {
	if cfg.Project == "" || cfg.Location == "" || cfg.KeyRing == "" {
		return nil, errors.Wrap(ErrConfig, "gcp-kms backend requires project, location and keyRing")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := kms.NewKeyManagementClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "failed to build Cloud KMS client: %s", err)
	}
	return &GCPKMSKeyManager{
		cfg:    cfg,
		client: client,
	}, nil
}

// Sign signs the pre-hashed SHA-256 digest.
func (m *GCPKMSKeyManager) Sign(ctx context.Context, digest []byte, keyID string) ([]byte, error) {
	resp, err := m.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: m.keyVersionName(keyID),
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{
				Sha256: digest,
			},
		},
	})
	if err != nil {
		return nil, wrapGCPKMSError(err, keyID)
	}
	return resp.Signature, nil
}

// PublicKey returns the PEM-encoded public key for keyID.
func (m *GCPKMSKeyManager) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	resp, err := m.client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{
		Name: m.keyVersionName(keyID),
	})
	if err != nil {
		return nil, wrapGCPKMSError(err, keyID)
	}
	return []byte(resp.Pem), nil
}

// Rotate is not supported; Cloud KMS key rotation is managed in GCP.
func (m *GCPKMSKeyManager) Rotate(ctx context.Context, keyID string) error {
	return errors.Wrapf(ErrRotateNotSupported, "backend:%s, keyID:%s", BackendGCPKMS, keyID)
}

// Close releases the underlying gRPC connection.
func (m *GCPKMSKeyManager) Close() error {
	return m.client.Close()
}

func (m *GCPKMSKeyManager) keyVersionName(keyID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/keyRings/%s/cryptoKeys/%s/cryptoKeyVersions/1",
		m.cfg.Project, m.cfg.Location, m.cfg.KeyRing, keyID)
}

func wrapGCPKMSError(err error, keyID string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return errors.Wrapf(ErrKeyNotFound, "keyID:%s", keyID)
	case codes.PermissionDenied, codes.FailedPrecondition:
		return errors.Wrapf(ErrSigningRejected, "keyID:%s: %s", keyID, err)
	default:
		return errors.Wrapf(ErrBackendUnavailable, "keyID:%s: %s", keyID, err)
	}
}
