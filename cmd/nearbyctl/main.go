// nearbyctl is a command-line harness over pkg/connections: it advertises
// a service and accepts incoming connections, or discovers one, connects to
// the first endpoint found and sends a --send text or --file payload;
// received BYTES payloads are printed to stdout.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/google/nearby-sub023/internal/config"
)

var (
	configPath  string
	metricsAddr string
	cfg         *config.GlobalConfig
)

var rootCmd = &cobra.Command{
	Use:   "nearbyctl",
	Short: "Offline connection engine command-line harness",
	Long: `nearbyctl drives the peer-to-peer connection engine (frame codec,
endpoint channels, PCP handshake, bandwidth upgrade) from the command line:
one process advertises a service and accepts every joiner, another
discovers it and sends a payload.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadGlobalConfig(configPath)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		cfg = loaded
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config YAML path (optional)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics", "", "prometheus metrics listen address, e.g. :9100 (overrides config)")
	rootCmd.AddCommand(advertiseCmd, discoverCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
