// Package kmsresolver provides WrappingTokenResolver/Unwrapper
// implementations backed by cloud KMS: instead of a host holding an
// RSA private key in-process, the wrapping key never leaves the KMS
// and Unwrap is a single Decrypt RPC.
package kmsresolver

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"xmlsecflow/pkg/enckey"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/token"
)

// AWSOpts configures an AWS KMS-backed wrapping token resolver.
type AWSOpts struct {
	// Region is the AWS region where the KMS keys are located.
	Region string

	// Profile is an optional AWS shared-config profile to authenticate with.
	Profile string

	// AccessKeyID/SecretAccessKey, when set, override the default
	// credential chain with static credentials. SessionToken is optional.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// KeyIDs maps a KeyInfoLocator.KeyName to the ARN or ID of the AWS
	// KMS key that unwraps it. The actual KeyInfo-to-key mapping
	// strategy is a host concern; this is the simplest one.
	KeyIDs map[string]string
}

// AWSResolver implements enckey.WrappingTokenResolver against AWS KMS.
type AWSResolver struct {
	client *kms.Client
	keyIDs map[string]string
}

// NewAWSResolver builds an AWSResolver, loading credentials through the
// region-scoped default chain, optionally narrowed to a shared-config
// profile or overridden with static credentials.
func NewAWSResolver(ctx context.Context, opts AWSOpts) (*AWSResolver, error) {
	if opts.Region == "" {
		return nil, errors.InvalidInputf("AWS region is required for a KMS wrapping-token resolver")
	}

	var configOpts []func(*awsconfig.LoadOptions) error
	configOpts = append(configOpts, awsconfig.WithRegion(opts.Region))
	if opts.Profile != "" {
		configOpts = append(configOpts, awsconfig.WithSharedConfigProfile(opts.Profile))
	}
	if opts.AccessKeyID != "" {
		configOpts = append(configOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken)))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS config for KMS resolver")
	}
	return &AWSResolver{client: kms.NewFromConfig(cfg), keyIDs: opts.KeyIDs}, nil
}

// ResolveWrapping maps a KeyInfoLocator's key name to the AWS KMS key
// that unwraps it.
func (r *AWSResolver) ResolveWrapping(ctx context.Context, locator enckey.KeyInfoLocator) (enckey.Unwrapper, error) {
	keyID, ok := r.keyIDs[locator.KeyName]
	if !ok {
		return nil, errors.NotFoundf("no AWS KMS key configured for key name %q", locator.KeyName)
	}
	return &awsUnwrapper{client: r.client, keyID: keyID}, nil
}

// awsUnwrapper adapts one AWS KMS key to enckey.Unwrapper.
type awsUnwrapper struct {
	client *kms.Client
	keyID  string
}

// IsAsymmetric is always false: an AWS KMS-managed wrapping key is
// addressed by key ID, never exposed as a public key this engine can
// inspect, so it propagates the symmetric-key-wrap usage.
func (u *awsUnwrapper) IsAsymmetric() bool { return false }

// Unwrap calls KMS Decrypt directly: the envelope's CipherValue is the
// KMS ciphertext blob itself, with no local RSA-OAEP step — the cloud
// key never leaves KMS.
func (u *awsUnwrapper) Unwrap(ctx context.Context, _ string, _ enckey.OAEPParams, cipherValue []byte, _ token.Usage, correlationID string) ([]byte, error) {
	out, err := u.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: cipherValue,
		KeyId:          aws.String(u.keyID),
	})
	if err != nil {
		return nil, errors.KeyResolutionFailedf("AWS KMS decrypt failed for %s: %v", correlationID, err)
	}
	return out.Plaintext, nil
}
