package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"xmlsecflow/pkg/algorithm"
	"xmlsecflow/pkg/pipeline"
	"xmlsecflow/pkg/resolver"
	"xmlsecflow/pkg/secevent"
)

func newVerifyCmd() *cobra.Command {
	var certFile, pubKeyFile, hmacSecret string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a signed XML document read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, ctx, cancel := setupCommand(cmd.Context())
			defer cancel()

			reg, err := algorithm.NewRegistry()
			if err != nil {
				return err
			}
			doc := pipeline.NewDocumentContext(reg, logger)
			doc.Metrics = metricsReg

			verifyingToken, err := newVerifyingToken(reg, doc.Bus, certFile, pubKeyFile, hmacSecret)
			if err != nil {
				return err
			}

			var extResolver *resolver.ExternalRegistry
			if cfg.Limits.AllowExternalReferences {
				extResolver = resolver.NewExternalRegistry(true, resolver.NewRateThrottle(cfg.Resolver.Limiter(), cfg.Resolver.RateLimitBurst))
				if cfg.Resolver.AllowHTTP {
					extResolver.Register(resolver.NewHTTPResolver())
				}
				if cfg.Resolver.AllowFile {
					extResolver.Register(resolver.FileResolver{})
				}
			}

			reader := pipeline.BeginInbound(ctx, doc, os.Stdin, pipeline.VerifyOptions{
				Limits:           cfg.Limits.ToLimits(),
				VerifyingToken:   verifyingToken,
				ExternalResolver: extResolver,
			})

			for {
				_, err := reader.Next()
				if err == io.EOF {
					break
				}
				if err != nil {
					return err
				}
			}

			verified, statuses, ok := reader.LastOutcome()
			if !ok {
				fmt.Fprintln(os.Stdout, "no Signature element found")
				os.Exit(1)
			}
			printOutcome(verified, statuses)
			if !verified {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&certFile, "cert", "", "PEM certificate holding the verifying public key")
	cmd.Flags().StringVar(&pubKeyFile, "public-key", "", "PEM-encoded SPKI public key (alternative to --cert)")
	cmd.Flags().StringVar(&hmacSecret, "hmac-secret", "", "Base64-encoded HMAC secret (for symmetric signatures)")

	return cmd
}

func printOutcome(verified bool, statuses []secevent.ReferenceStatus) {
	fmt.Fprintf(os.Stdout, "signature verified: %t\n", verified)
	for _, st := range statuses {
		result := "ok"
		if !st.Verified {
			result = "FAILED"
		}
		fmt.Fprintf(os.Stdout, "  reference %s: %s\n", st.URI, result)
	}
}
