package keys

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/pkg/errors"
)

// AWSKMSKeyManager signs via AWS KMS asymmetric keys. The keyID is the KMS
// key id, ARN or alias.
type AWSKMSKeyManager struct {
	client *kms.Client
}

// NewAWSKMSKeyManager builds the aws-kms backend using the default AWS
// credential chain.
func NewAWSKMSKeyManager(ctx context.Context, cfg AWSKMSConfig) (*AWSKMSKeyManager, error) {
	if cfg.Region == "" {
		return nil, errors.Wrap(ErrConfig, "aws-kms backend requires region")
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, errors.Wrapf(ErrConfig, "failed to load AWS config: %s", err)
	}
	return &AWSKMSKeyManager{
		client: kms.NewFromConfig(awsCfg),
	}, nil
}

// Sign signs the pre-hashed digest with ECDSA over secp256k1.
func (m *AWSKMSKeyManager) Sign(ctx context.Context, digest []byte, keyID string) ([]byte, error) {
	out, err := m.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(keyID),
		Message:          digest,
		MessageType:      kmstypes.MessageTypeDigest,
		SigningAlgorithm: kmstypes.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, wrapAWSKMSError(err, keyID)
	}
	return out.Signature, nil
}

// PublicKey returns the DER-encoded public key for keyID.
func (m *AWSKMSKeyManager) PublicKey(ctx context.Context, keyID string) ([]byte, error) {
	out, err := m.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{
		KeyId: aws.String(keyID),
	})
	if err != nil {
		return nil, wrapAWSKMSError(err, keyID)
	}
	return out.PublicKey, nil
}

// Rotate is not supported; KMS key rotation is managed in AWS.
func (m *AWSKMSKeyManager) Rotate(ctx context.Context, keyID string) error {
	return errors.Wrapf(ErrRotateNotSupported, "backend:%s, keyID:%s", BackendAWSKMS, keyID)
}

func wrapAWSKMSError(err error, keyID string) error {
	var (
		notFound *kmstypes.NotFoundException
		disabled *kmstypes.DisabledException
		invalid  *kmstypes.KMSInvalidStateException
	)
	switch {
	case errors.As(err, &notFound):
		return errors.Wrapf(ErrKeyNotFound, "keyID:%s", keyID)
	case errors.As(err, &disabled), errors.As(err, &invalid):
		return errors.Wrapf(ErrSigningRejected, "keyID:%s: %s", keyID, err)
	default:
		return errors.Wrapf(ErrBackendUnavailable, "keyID:%s: %s", keyID, err)
	}
}
