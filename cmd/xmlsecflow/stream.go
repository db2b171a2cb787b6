package main

import (
	"context"
	"io"

	"xmlsecflow/pkg/config"
	"xmlsecflow/pkg/enckey"
	"xmlsecflow/pkg/enckey/kmsresolver"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/xmlevent"
)

// pump drains src into dst until DocumentEnd/EOF, the event-stream
// equivalent of io.Copy for the outbound subcommands.
func pump(src xmlevent.Reader, dst xmlevent.Writer) error {
	for {
		ev, err := src.Next()
		if err == io.EOF {
			return dst.Close()
		}
		if err != nil {
			return err
		}
		if err := dst.Write(ev); err != nil {
			return err
		}
	}
}

// matchByID returns an outbound target matcher: a specific Id when id is
// set, otherwise the first start-element carrying any Id attribute.
func matchByID(id string) func(xmlevent.Event) bool {
	return func(ev xmlevent.Event) bool {
		if ev.Kind != xmlevent.StartElement {
			return false
		}
		got, ok := ev.ID()
		if !ok {
			return false
		}
		return id == "" || got == id
	}
}

// buildKMSResolver constructs a cloud KMS-backed wrapping-token resolver
// per the --kms-provider flag, or nil when no provider is configured (in
// which case the caller falls back to local key material).
func buildKMSResolver(ctx context.Context, kmsCfg config.KMSConfig) (enckey.WrappingTokenResolver, error) {
	switch kmsCfg.Provider {
	case "":
		return nil, nil
	case "aws":
		return kmsresolver.NewAWSResolver(ctx, kmsresolver.AWSOpts{
			Region:  kmsCfg.AWSRegion,
			Profile: kmsCfg.AWSProfile,
			KeyIDs:  kmsCfg.AWSKeyIDs,
		})
	case "gcp":
		return kmsresolver.NewGCPResolver(ctx, kmsresolver.GCPOpts{
			Project:         kmsCfg.GCPProject,
			Location:        kmsCfg.GCPLocation,
			KeyRing:         kmsCfg.GCPKeyRing,
			CredentialsFile: kmsCfg.GCPCredentialsFile,
			KeyNames:        kmsCfg.GCPKeyNames,
		})
	default:
		return nil, errors.InvalidConfigurationf("unknown KMS provider %q (expected aws or gcp)", kmsCfg.Provider)
	}
}
