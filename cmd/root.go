package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Cobra boilerplate
var rootCmd = &cobra.Command{
	Use:   "parimutuel",
	Short: "Pari-mutuel binary betting market",
	Long: `Pari-mutuel binary betting market.

Creators open YES/NO markets, participants stake into either pool until the
market expires, the creator resolves the outcome, and winners settle for a
proportional share of the whole pool.

Run "parimutuel serve" to start the API server. The other commands are
clients of a running server.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Cobra boilerplate
func init() {
	rootCmd.PersistentFlags().String("server", "", "API base URL (default $PARIMUTUEL_SERVER or http://localhost:8080)")
	rootCmd.PersistentFlags().String("key", "", "Hex private key used to sign requests (default $PARIMUTUEL_PRIVATE_KEY)")
	rootCmd.PersistentFlags().String("identity", "", "Unsigned identity, only accepted by servers in header auth mode")
	rootCmd.PersistentFlags().Bool("json", false, "Print raw JSON instead of a table")
}
