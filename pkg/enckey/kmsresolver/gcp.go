package kmsresolver

import (
	"context"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"google.golang.org/api/option"

	"xmlsecflow/pkg/enckey"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/token"
)

// GCPOpts configures a Google Cloud KMS-backed wrapping token
// resolver: project/location/key-ring identify the key, with an
// optional credentials file for non-ADC environments.
type GCPOpts struct {
	Project         string
	Location        string
	KeyRing         string
	CredentialsFile string
	// KeyNames maps a KeyInfoLocator.KeyName to the GCP KMS CryptoKey
	// name within Project/Location/KeyRing.
	KeyNames map[string]string
}

// GCPResolver implements enckey.WrappingTokenResolver against Google
// Cloud KMS.
type GCPResolver struct {
	client   *kms.KeyManagementClient
	project  string
	location string
	keyRing  string
	keyNames map[string]string
}

// NewGCPResolver builds a GCPResolver. Project, location, and key ring
// are all required.
func NewGCPResolver(ctx context.Context, opts GCPOpts) (*GCPResolver, error) {
	if opts.Project == "" {
		return nil, errors.InvalidInputf("GCP project is required for a KMS wrapping-token resolver")
	}
	if opts.Location == "" {
		return nil, errors.InvalidInputf("GCP location is required for a KMS wrapping-token resolver")
	}
	if opts.KeyRing == "" {
		return nil, errors.InvalidInputf("GCP KMS key ring is required for a KMS wrapping-token resolver")
	}

	var clientOpts []option.ClientOption
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	client, err := kms.NewKeyManagementClient(ctx, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GCP KMS client")
	}

	return &GCPResolver{
		client:   client,
		project:  opts.Project,
		location: opts.Location,
		keyRing:  opts.KeyRing,
		keyNames: opts.KeyNames,
	}, nil
}

// ResolveWrapping maps a KeyInfoLocator's key name to the fully
// qualified GCP KMS CryptoKey resource name (no key version segment)
// that unwraps it.
func (r *GCPResolver) ResolveWrapping(ctx context.Context, locator enckey.KeyInfoLocator) (enckey.Unwrapper, error) {
	key, ok := r.keyNames[locator.KeyName]
	if !ok {
		return nil, errors.NotFoundf("no GCP KMS key configured for key name %q", locator.KeyName)
	}
	name := fmt.Sprintf("projects/%s/locations/%s/keyRings/%s/cryptoKeys/%s", r.project, r.location, r.keyRing, key)
	return &gcpUnwrapper{client: r.client, keyName: name}, nil
}

type gcpUnwrapper struct {
	client  *kms.KeyManagementClient
	keyName string
}

func (u *gcpUnwrapper) IsAsymmetric() bool { return false }

func (u *gcpUnwrapper) Unwrap(ctx context.Context, _ string, _ enckey.OAEPParams, cipherValue []byte, _ token.Usage, correlationID string) ([]byte, error) {
	resp, err := u.client.Decrypt(ctx, &kmspb.DecryptRequest{
		Name:       u.keyName,
		Ciphertext: cipherValue,
	})
	if err != nil {
		return nil, errors.KeyResolutionFailedf("GCP KMS decrypt failed for %s: %v", correlationID, err)
	}
	return resp.Plaintext, nil
}
