package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/evidenceledger/jwcert/internal/cert"
)

func newIssueCommand() *cobra.Command {
	var (
		keyFile     string
		subjectFile string
		issuer      string
		email       string
		host        string
		validity    time.Duration
		outFile     string
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Sign a certificate for a public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (email == "") == (host == "") {
				return fmt.Errorf("exactly one of --email and --host is required")
			}
			principal := cert.Email(email)
			if host != "" {
				principal = cert.Host(host)
			}
			if err := principal.Validate(); err != nil {
				return err
			}

			key, err := readPrivateKey(cmd, keyFile)
			if err != nil {
				return err
			}
			subject, err := readPublicKey(cmd, subjectFile)
			if err != nil {
				return err
			}

			now := time.Now()
			c, err := cert.New(issuer, now, now.Add(validity), subject, principal)
			if err != nil {
				return err
			}
			token, err := c.Sign(key)
			if err != nil {
				return err
			}
			return writeOutput(cmd, outFile, []byte(token+"\n"), 0o644)
		},
	}

	cmd.Flags().StringVarP(&keyFile, "key", "k", "", "issuer private key (PEM)")
	cmd.Flags().StringVarP(&subjectFile, "subject", "s", "", "subject public key (JSON or PEM private key)")
	cmd.Flags().StringVarP(&issuer, "issuer", "i", "", "issuer domain")
	cmd.Flags().StringVar(&email, "email", "", "leaf principal email")
	cmd.Flags().StringVar(&host, "host", "", "delegation principal host")
	cmd.Flags().DurationVarP(&validity, "validity", "v", 24*time.Hour, "certificate lifetime")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default: stdout)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("subject")
	_ = cmd.MarkFlagRequired("issuer")
	return cmd
}
