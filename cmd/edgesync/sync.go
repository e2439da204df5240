package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftlab/edgesync/internal/cloud"
	"github.com/driftlab/edgesync/internal/engine"
	"github.com/driftlab/edgesync/internal/resolve"
	"github.com/driftlab/edgesync/internal/store"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync cycle and exit",
	Long: `Run a single upload+download+merge cycle against the configured
authority and print the result.

This drains pending records from the store, uploads them, downloads remote
changes, and merges conflicts. Useful for cron-style syncing without a
resident daemon.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.StorePath == "" {
			return fmt.Errorf("store_path is required for one-shot sync (an in-memory store has nothing to drain)")
		}

		st, err := store.OpenSQLite(cfg.StorePath)
		if err != nil {
			return err
		}
		defer st.Close()

		client, err := cloud.NewHTTPClient(cloud.HTTPConfig{
			BaseURL: cfg.CloudURL,
			Timeout: cfg.CloudTimeout,
		})
		if err != nil {
			return err
		}

		eng, err := engine.New(&engine.Config{
			Store:        st,
			Client:       client,
			Policy:       resolve.ParsePolicy(cfg.Policy),
			BatchSize:    cfg.BatchSize,
			CycleTimeout: cfg.CycleTimeout,
			Logger:       log.New(os.Stderr, "[sync] ", log.LstdFlags),
		})
		if err != nil {
			return err
		}

		start := time.Now()
		result, _ := eng.SyncOnce()
		elapsed := time.Since(start).Round(time.Millisecond)

		fmt.Printf("Sync complete in %v: uploaded=%d downloaded=%d conflicts=%d\n",
			elapsed, result.Uploaded, result.Downloaded, result.Conflicts)

		pending, err := st.Pending()
		if err == nil && len(pending) > 0 {
			fmt.Printf("%d records still pending (will retry next cycle)\n", len(pending))
		}
		return nil
	},
}
