package main

import (
	"os"

	"github.com/spf13/cobra"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/outbound"
	"xmlsecflow/pkg/pipeline"
	"xmlsecflow/pkg/xmlio"
)

func newEncryptCmd() *cobra.Command {
	var recipientCert, recipientKey, keyName, targetID string

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt an element of an XML document read from stdin, writing the result to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			if recipientCert == "" && recipientKey == "" {
				return errors.InvalidInputf("either --recipient-cert or --recipient-key is required")
			}

			reg, err := algorithm.NewRegistry()
			if err != nil {
				return err
			}
			doc := pipeline.NewDocumentContext(reg, logger)
			doc.Metrics = metricsReg

			transport, err := newTransportToken(reg, doc.Bus, keyName, recipientCert, recipientKey)
			if err != nil {
				return err
			}

			writer := pipeline.BeginOutbound(ctx, doc, os.Stdout, nil, &pipeline.EncryptOptions{
				Match: matchByID(targetID),
				Params: outbound.EncryptParams{
					KeyTransportURI: cfg.Encrypt.KeyTransportURI,
					SymmetricURI:    cfg.Encrypt.SymmetricURI,
				},
				Transport: transport,
			})

			return pump(xmlio.NewReader(os.Stdin), writer)
		},
	}

	cmd.Flags().StringVar(&recipientCert, "recipient-cert", "", "PEM certificate holding the recipient's RSA public key")
	cmd.Flags().StringVar(&recipientKey, "recipient-key", "", "PEM-encoded SPKI RSA public key (alternative to --recipient-cert)")
	cmd.Flags().StringVar(&keyName, "key-name", "transport", "KeyName written into the EncryptedKey's KeyInfo")
	cmd.Flags().StringVar(&targetID, "id", "", "Id of the element to encrypt (default: first element carrying an Id)")
	cfg.AddEncryptFlags(cmd)

	return cmd
}
