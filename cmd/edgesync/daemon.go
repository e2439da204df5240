package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/driftlab/edgesync/internal/config"
	"github.com/driftlab/edgesync/internal/daemon"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync daemon",
	Long: `Run the full sync daemon in the foreground.

The daemon:
  1. Opens the local record store (SQLite, or in-memory when unconfigured)
  2. Starts the periodic sync scheduler
  3. Probes reachability and syncs immediately when connectivity returns
  4. Adapts batch size and interval to power/thermal pressure
  5. Ingests record files dropped into the spool directory (if configured)
  6. Serves the dashboard (/status, /ws, /metrics)

Stop with Ctrl+C; an in-flight sync cycle always runs to completion.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		var out io.Writer = os.Stderr
		if cfg.LogFile != "" {
			out = &lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    20, // megabytes
				MaxBackups: 5,
				MaxAge:     28, // days
				Compress:   true,
			}
		}
		logger := log.New(out, "[daemon] ", log.LstdFlags)

		d, err := daemon.New(cfg, logger)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			fmt.Fprintln(os.Stderr, "\nShutting down...")
			cancel()
		}()

		return d.Start(ctx)
	},
}

// loadConfig reads the config file and applies root-level flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cloudURL != "" {
		cfg.CloudURL = cloudURL
	}
	return cfg, nil
}
