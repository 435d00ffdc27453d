package cmd

import (
	"fmt"

	"github.com/mselser95/parimutuel/pkg/auth"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a signing key",
	Long: `Generates a secp256k1 private key for signing API requests and prints it
together with the identity the server will see. Store the key in .env as
PARIMUTUEL_PRIVATE_KEY.`,
	Args: cobra.NoArgs,
	RunE: runKeygen,
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	key, identity, err := auth.GenerateKey()
	if err != nil {
		return err
	}

	if wantJSON(cmd) {
		return printJSON(cmd, map[string]string{"private_key": key, "identity": identity.String()})
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Identity:    %s\n", identity)
	fmt.Fprintf(out, "Private key: %s\n", key)
	return nil
}
