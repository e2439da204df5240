package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftlab/edgesync/internal/dashboard"
)

var statusPort int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show a running daemon's sync state",
	Long: `Query a running daemon's dashboard for its current state: whether a
cycle is in flight, the last sync time and result, the active schedule, and
the pending record count.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		port := statusPort
		if port == 0 {
			port = cfg.DashboardPort
		}
		if port <= 0 {
			return fmt.Errorf("dashboard is disabled (dashboard_port = 0)")
		}

		client := &http.Client{Timeout: 5 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://localhost:%d/status", port))
		if err != nil {
			return fmt.Errorf("is the daemon running? %w", err)
		}
		defer resp.Body.Close()

		var status dashboard.Status
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return fmt.Errorf("failed to decode status: %w", err)
		}

		if status.Syncing {
			fmt.Println("State:     syncing")
		} else {
			fmt.Println("State:     idle")
		}
		if status.LastSync != nil {
			fmt.Printf("Last sync: %s\n", status.LastSync.Format(time.RFC3339))
		} else {
			fmt.Println("Last sync: never")
		}
		if status.LastResult != nil {
			fmt.Printf("Last result: uploaded=%d downloaded=%d conflicts=%d\n",
				status.LastResult.Uploaded, status.LastResult.Downloaded, status.LastResult.Conflicts)
		}
		fmt.Printf("Pending:   %d\n", status.Pending)
		fmt.Printf("Schedule:  batch=%d interval=%s\n", status.BatchSize, status.Interval)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusPort, "port", 0, "dashboard port (default: from config)")
}
