// Package cli implements the jwcert command line tool.
package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/evidenceledger/jwcert/internal/pubkey"
)

// NewRootCommand builds the jwcert command tree.
func NewRootCommand(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "jwcert",
		Short:         "Issue and verify JSON web certificates",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newKeygenCommand(),
		newIssueCommand(),
		newVerifyCommand(),
		newAssertCommand(),
		newCheckCommand(),
	)
	return rootCmd
}

// Execute runs the root command with the process arguments.
func Execute(ctx context.Context, version string) error {
	rootCmd := NewRootCommand(version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.New(color.FgRed).Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
		return err
	}
	return nil
}

// readInput reads a file, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

// readPrivateKey loads a PEM private key written by keygen.
func readPrivateKey(cmd *cobra.Command, path string) (pubkey.PrivateKey, error) {
	if path == "" {
		return pubkey.PrivateKey{}, fmt.Errorf("a private key file is required")
	}
	data, err := readInput(cmd, path)
	if err != nil {
		return pubkey.PrivateKey{}, fmt.Errorf("failed to read key: %w", err)
	}
	return pubkey.ParsePrivateKeyPEM(data)
}

// readPublicKey loads a public key from either a {alg, value} JSON document
// or a PEM private key, in which case its public half is used.
func readPublicKey(cmd *cobra.Command, path string) (pubkey.PublicKey, error) {
	data, err := readInput(cmd, path)
	if err != nil {
		return pubkey.PublicKey{}, fmt.Errorf("failed to read key: %w", err)
	}
	if bytes.Contains(data, []byte("PRIVATE KEY-----")) && !bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		priv, err := pubkey.ParsePrivateKeyPEM(data)
		if err != nil {
			return pubkey.PublicKey{}, err
		}
		return priv.Public(), nil
	}
	var k pubkey.PublicKey
	if err := json.Unmarshal(data, &k); err != nil {
		return pubkey.PublicKey{}, fmt.Errorf("failed to decode public key %s: %w", path, err)
	}
	return k, nil
}

// readChain collects serialized certificates from args, or one per line
// from the file given with --chain.
func readChain(cmd *cobra.Command, args []string, chainFile string) ([]string, error) {
	certs := append([]string(nil), args...)
	if chainFile == "" {
		return certs, nil
	}
	data, err := readInput(cmd, chainFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain: %w", err)
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			certs = append(certs, line)
		}
	}
	return certs, sc.Err()
}

// parseAt parses an RFC 3339 reference time, defaulting to now.
func parseAt(at string) (time.Time, error) {
	if at == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, at)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at value: %w", err)
	}
	return t, nil
}

func writeOutput(cmd *cobra.Command, path string, data []byte, perm os.FileMode) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	return os.WriteFile(path, data, perm)
}
