package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/enckey"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/pipeline"
	"xmlsecflow/pkg/xmlio"
)

func newDecryptCmd() *cobra.Command {
	var keyFile, keyName string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decrypt EncryptedData elements of an XML document read from stdin, writing plaintext XML to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			reg, err := algorithm.NewRegistry()
			if err != nil {
				return err
			}
			doc := pipeline.NewDocumentContext(reg, logger)
			doc.Metrics = metricsReg

			var resolver enckey.WrappingTokenResolver
			resolver, err = buildKMSResolver(ctx, cfg.KMS)
			if err != nil {
				return err
			}
			if resolver == nil {
				if keyFile == "" {
					return errors.InvalidInputf("--key is required unless --kms-provider is set")
				}
				resolver, err = newLocalUnwrapResolver(reg, doc.Bus, keyName, keyFile)
				if err != nil {
					return err
				}
			}

			reader := pipeline.BeginInbound(ctx, doc, os.Stdin, pipeline.VerifyOptions{
				Limits:             cfg.Limits.ToLimits(),
				DecryptionResolver: resolver,
			})

			out := xmlio.NewWriter(os.Stdout)
			for {
				ev, err := reader.Next()
				if err == io.EOF {
					return out.Close()
				}
				if err != nil {
					return err
				}
				if err := out.Write(ev); err != nil {
					return err
				}
			}
		},
	}

	cmd.Flags().StringVar(&keyFile, "key", "", "PEM RSA private key unwrapping the session key")
	cmd.Flags().StringVar(&keyName, "key-name", "transport", "KeyName the document's EncryptedKey KeyInfo uses to identify the wrapping key")

	return cmd
}
