// Tuyalink talks to Tuya 3.3 devices on the local network.
//
// It listens for device broadcasts, keeps persistent encrypted sessions to
// configured devices, and can forward their state to NATS or a WebSocket
// feed. No cloud account is involved once the device keys are known.
//
// Usage:
//
//	tuyalink [command] [flags]
//
// See 'tuyalink --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/tuyalink/internal/logging"
	"github.com/muurk/tuyalink/internal/version"
)

// Global flags
var (
	logLevel   string
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tuyalink",
	Short: "Tuya LAN protocol client",
	Long: `A local-network client for Tuya 3.3 devices.

Discovers devices from their UDP broadcasts, keeps encrypted sessions
open with heartbeats and automatic reconnects, and sends data point
commands. Device local keys are read from the configuration file.

Logging is silent unless --log-level or TUYALINK_LOG_LEVEL is set.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Initialize(logLevel)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default is the OS config directory)")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tuyalink %s\n", version.Full())
	},
}
