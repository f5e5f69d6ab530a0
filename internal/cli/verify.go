package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/evidenceledger/jwcert/internal/assertion"
	"github.com/evidenceledger/jwcert/internal/chain"
	"github.com/evidenceledger/jwcert/internal/trust"
)

// trustFlags selects the roots a verification is anchored to.
type trustFlags struct {
	trustFile string
	roots     []string
}

func (f *trustFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.trustFile, "trust", "t", "", "YAML trust file")
	cmd.Flags().StringArrayVarP(&f.roots, "root", "r", nil, "trusted root as ISSUER=KEYFILE (repeatable)")
}

func (f *trustFlags) resolver(cmd *cobra.Command) (chain.RootResolver, error) {
	roots := trust.Static{}
	if f.trustFile != "" {
		loaded, err := trust.LoadFile(f.trustFile)
		if err != nil {
			return nil, err
		}
		roots = loaded
	}
	for _, r := range f.roots {
		issuer, file, ok := strings.Cut(r, "=")
		if !ok || issuer == "" || file == "" {
			return nil, fmt.Errorf("invalid --root %q, want ISSUER=KEYFILE", r)
		}
		k, err := readPublicKey(cmd, file)
		if err != nil {
			return nil, err
		}
		roots[issuer] = k
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("no trusted roots: use --trust or --root")
	}
	return roots, nil
}

func newVerifyCommand() *cobra.Command {
	var (
		tf        trustFlags
		chainFile string
		at        string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "verify [CERT...]",
		Short: "Verify a certificate chain, root first",
		RunE: func(cmd *cobra.Command, args []string) error {
			certs, err := readChain(cmd, args, chainFile)
			if err != nil {
				return err
			}
			resolver, err := tf.resolver(cmd)
			if err != nil {
				return err
			}
			when, err := parseAt(at)
			if err != nil {
				return err
			}

			var out chain.Outcome
			select {
			case out = <-chain.Go(cmd.Context(), certs, when, resolver):
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			}

			w := cmd.OutOrStdout()
			if out.Err != nil {
				color.New(color.FgRed).Fprintf(w, "✗ invalid chain: %v\n", out.Err)
				return out.Err
			}

			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{
					"root":       out.Result.RootIssuer,
					"principal":  out.Result.Principal,
					"public-key": out.Result.PublicKey,
				})
			}

			color.New(color.FgGreen).Fprintf(w, "✓ valid chain of %d certificates\n", len(certs))
			fmt.Fprintf(w, "  root:      %s\n", out.Result.RootIssuer)
			fmt.Fprintf(w, "  principal: %s\n", out.Result.Principal)
			fmt.Fprintf(w, "  key:       %s\n", out.Result.PublicKey.Alg())
			return nil
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVarP(&chainFile, "chain", "c", "", "file with one certificate per line (- for stdin)")
	cmd.Flags().StringVar(&at, "at", "", "reference time, RFC 3339 (default: now)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the result as JSON")
	return cmd
}

func newCheckCommand() *cobra.Command {
	var (
		tf       trustFlags
		audience string
		inFile   string
		at       string
	)

	cmd := &cobra.Command{
		Use:   "check [BACKED_ASSERTION]",
		Short: "Verify a backed assertion for an audience",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var backed string
			switch {
			case len(args) == 1:
				backed = args[0]
			case inFile != "":
				data, err := readInput(cmd, inFile)
				if err != nil {
					return err
				}
				backed = strings.TrimSpace(string(data))
			default:
				return fmt.Errorf("a backed assertion is required")
			}

			resolver, err := tf.resolver(cmd)
			if err != nil {
				return err
			}
			when, err := parseAt(at)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			id, err := assertion.Verify(cmd.Context(), backed, audience, when, resolver)
			if err != nil {
				color.New(color.FgRed).Fprintf(w, "✗ rejected: %v\n", err)
				return err
			}

			color.New(color.FgGreen).Fprintf(w, "✓ %s\n", id.Email)
			fmt.Fprintf(w, "  audience: %s\n", id.Audience)
			fmt.Fprintf(w, "  root:     %s\n", id.Issuer)
			fmt.Fprintf(w, "  expires:  %s\n", id.ExpiresAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}

	tf.register(cmd)
	cmd.Flags().StringVarP(&audience, "audience", "a", "", "expected audience")
	cmd.Flags().StringVarP(&inFile, "in", "f", "", "read the backed assertion from a file (- for stdin)")
	cmd.Flags().StringVar(&at, "at", "", "reference time, RFC 3339 (default: now)")
	_ = cmd.MarkFlagRequired("audience")
	return cmd
}
