package main

import (
	"os"

	"github.com/spf13/cobra"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/helper/errors"
	"xmlsecflow/pkg/outbound"
	"xmlsecflow/pkg/pipeline"
	"xmlsecflow/pkg/token"
	"xmlsecflow/pkg/xmlio"
)

func newSignCmd() *cobra.Command {
	var keyFile, certFile, hmacSecret, targetID, signatureID string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an XML document read from stdin, writing the signed document to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			if keyFile == "" && hmacSecret == "" {
				return errors.InvalidInputf("either --key or --hmac-secret is required")
			}

			reg, err := algorithm.NewRegistry()
			if err != nil {
				return err
			}
			doc := pipeline.NewDocumentContext(reg, logger)
			doc.Metrics = metricsReg

			var signer *token.Token
			keyKind := "symmetric"
			if hmacSecret != "" {
				signer, err = newHMACToken(reg, doc.Bus, "signer", hmacSecret)
			} else {
				signer, keyKind, err = newSigningToken(reg, doc.Bus, keyFile, certFile)
			}
			if err != nil {
				return err
			}

			sigAlg := cfg.Sign.SignatureAlgorithmURI
			if sigAlg == "" {
				sigAlg, err = defaultSignatureAlgorithm(keyKind)
				if err != nil {
					return err
				}
			}

			writer := pipeline.BeginOutbound(ctx, doc, os.Stdout, &pipeline.SignOptions{
				Match: matchByID(targetID),
				Params: outbound.SignParams{
					SignatureAlgorithmURI:        sigAlg,
					DigestAlgorithmURI:           cfg.Sign.DigestAlgorithmURI,
					CanonicalizationAlgorithmURI: cfg.Sign.CanonicalizationAlgorithmURI,
					KeyIdentifierType:            cfg.Sign.KeyIdentifier(),
					SignatureID:                  signatureID,
				},
				Signer: signer,
			}, nil)

			return pump(xmlio.NewReader(os.Stdin), writer)
		},
	}

	cmd.Flags().StringVar(&keyFile, "key", "", "PEM private key file for asymmetric signing")
	cmd.Flags().StringVar(&certFile, "cert", "", "PEM certificate rendered into KeyInfo (optional)")
	cmd.Flags().StringVar(&hmacSecret, "hmac-secret", "", "Base64-encoded HMAC secret for symmetric signing")
	cmd.Flags().StringVar(&targetID, "id", "", "Id of the element to sign (default: first element carrying an Id)")
	cmd.Flags().StringVar(&signatureID, "signature-id", "", "Id attribute of the emitted Signature element")
	cfg.AddSignFlags(cmd)

	return cmd
}

// defaultSignatureAlgorithm derives the signature algorithm from the key
// kind per the SIGN parameter table, covering the EC case the table's
// historical trio predates.
func defaultSignatureAlgorithm(keyKind string) (string, error) {
	if keyKind == "ECDSA" {
		return algorithm.SignatureECDSASHA256, nil
	}
	return algorithm.DefaultSignatureAlgorithmFor(keyKind)
}
