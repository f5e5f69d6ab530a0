package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evidenceledger/jwcert/internal/assertion"
)

func newAssertCommand() *cobra.Command {
	var (
		keyFile   string
		audience  string
		chainFile string
		validity  time.Duration
		outFile   string
	)

	cmd := &cobra.Command{
		Use:   "assert [CERT...]",
		Short: "Create a backed assertion for an audience",
		Long: "Sign an assertion for an audience with the leaf private key and append it\n" +
			"to the certificate chain, producing cert_1~...~cert_n~assertion.",
		RunE: func(cmd *cobra.Command, args []string) error {
			certs, err := readChain(cmd, args, chainFile)
			if err != nil {
				return err
			}
			if len(certs) == 0 {
				return fmt.Errorf("at least one certificate is required")
			}
			key, err := readPrivateKey(cmd, keyFile)
			if err != nil {
				return err
			}

			a, err := assertion.Sign(key, audience, time.Now().Add(validity))
			if err != nil {
				return err
			}
			return writeOutput(cmd, outFile, []byte(assertion.Bundle(certs, a)+"\n"), 0o644)
		},
	}

	cmd.Flags().StringVarP(&keyFile, "key", "k", "", "leaf private key (PEM)")
	cmd.Flags().StringVarP(&audience, "audience", "a", "", "audience the assertion is meant for")
	cmd.Flags().StringVarP(&chainFile, "chain", "c", "", "file with one certificate per line (- for stdin)")
	cmd.Flags().DurationVarP(&validity, "validity", "v", 2*time.Minute, "assertion lifetime")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default: stdout)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("audience")
	return cmd
}
