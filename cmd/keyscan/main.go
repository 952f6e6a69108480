// Command keyscan searches a secp256k1 key interval for keys whose P2PKH
// address shares a prefix with a target address.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/MJE43/keyscan/internal/config"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:           "keyscan",
	Short:         "Scan secp256k1 key ranges for address prefix matches",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to a YAML config file")
	rootCmd.AddCommand(serveCmd, scanCmd, deriveCmd, checkpointCmd, versionCmd)
}

// loadConfig reads the config named by --config, or the defaults plus the
// environment when none is given.
func loadConfig() (config.Config, error) {
	return config.Load(flagConfig)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
