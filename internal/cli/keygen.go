package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/evidenceledger/jwcert/internal/pubkey"
)

func newKeygenCommand() *cobra.Command {
	var (
		alg     string
		outFile string
		pubFile string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a key pair",
		Long: "Generate an RSA or ECDSA key pair. The private key is written as PKCS#8 PEM,\n" +
			"the public key as the {alg, value} JSON object carried inside certificates.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := pubkey.Generate(strings.ToUpper(alg))
			if err != nil {
				return err
			}
			priv, err := key.MarshalPEM()
			if err != nil {
				return err
			}
			pub, err := json.MarshalIndent(key.Public(), "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode public key: %w", err)
			}
			pub = append(pub, '\n')

			if err := writeOutput(cmd, outFile, priv, 0o600); err != nil {
				return fmt.Errorf("failed to write private key: %w", err)
			}
			if err := writeOutput(cmd, pubFile, pub, 0o644); err != nil {
				return fmt.Errorf("failed to write public key: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&alg, "alg", "a", pubkey.AlgEC, "key family: ES or RS")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "private key output file (default: stdout)")
	cmd.Flags().StringVarP(&pubFile, "pub", "p", "", "public key output file (default: stdout)")
	return cmd
}
