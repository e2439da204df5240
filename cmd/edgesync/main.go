// Command edgesync runs the offline-first record sync daemon and its
// companion tooling.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	cloudURL   string
)

var rootCmd = &cobra.Command{
	Use:   "edgesync",
	Short: "Offline-first edge/cloud record synchronization",
	Long: `edgesync keeps a local record store reconciled with a remote authority
under intermittent connectivity.

Local writes are queued while offline and uploaded when the network comes
back; remote changes are downloaded, merged through a configurable
conflict policy, and written into the local store. The schedule adapts to
device power and thermal pressure.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./edgesync.yaml)")
	rootCmd.PersistentFlags().StringVar(&cloudURL, "cloud-url", "", "sync authority base URL (overrides config)")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(putCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
