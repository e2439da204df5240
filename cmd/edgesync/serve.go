package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftlab/edgesync/internal/cloud/cloudtest"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a development sync authority",
	Long: `Run an in-memory sync authority for local development.

The server speaks the same wire contract a production authority would:
versioned record upsert with stale-version rejection and since-watermark
change listing. State lives in memory and is lost on exit.

Example:
  edgesync serve --addr 127.0.0.1:9200
  edgesync daemon --cloud-url http://127.0.0.1:9200`,
	RunE: func(cmd *cobra.Command, args []string) error {
		server := cloudtest.NewServer(&cloudtest.Config{
			Addr:   serveAddr,
			Logger: log.New(os.Stderr, "[authority] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("Development authority listening at %s\n", server.URL())
		fmt.Println("Press Ctrl+C to stop...")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh

		return server.Stop()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:9200", "listen address")
}
