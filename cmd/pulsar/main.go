// Pulsar - The Gravito Host Pulse
//
// A standalone daemon that samples CPU, memory, disk and temperature once a
// second, stores the series, raises edge-triggered alerts and answers chat
// commands over Telegram.
//
// Usage:
//
//	PULSAR_TELEGRAM_ENABLED=true PULSAR_TELEGRAM_TOKEN=... PULSAR_TELEGRAM_CHAT_ID=... pulsar run
//
// Or with a config file:
//
//	pulsar run --config /etc/pulsar/config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pulsar",
		Short: "Pulsar - host metrics daemon with Telegram alerts",
		Long: `Pulsar samples host metrics (CPU, memory, disk, temperature), keeps the
series in a store, alerts once per threshold crossing and answers /status,
/cpu, /memory and /temp commands in Telegram.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newRunCommand(),
		newProbeCommand(),
		newNodesCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printBanner() {
	fmt.Printf(`
  ██████  ██    ██ ██      ███████  █████  ██████  
  ██   ██ ██    ██ ██      ██      ██   ██ ██   ██ 
  ██████  ██    ██ ██      ███████ ███████ ██████  
  ██      ██    ██ ██           ██ ██   ██ ██   ██ 
  ██       ██████  ███████ ███████ ██   ██ ██   ██ 
                                                   
  💓 Pulsar %s (%s)
  A steady beat from every host.

`, version, commit[:min(7, len(commit))])
}
