package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/driftlab/edgesync/internal/record"
	"github.com/driftlab/edgesync/internal/store"
)

var (
	putID     string
	putValues []string
	putSpool  bool
)

var putCmd = &cobra.Command{
	Use:   "put",
	Short: "Enqueue a local record write",
	Long: `Write a record into the local store and mark it pending upload.

Payload entries are given as repeated --set key=value flags. Without --id a
UUID is generated. With --spool the record is written into the spool
directory instead, for a running daemon to ingest.

Example:
  edgesync put --set title="water the plants" --set room=kitchen
  edgesync put --id r1 --set k=v --spool`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		payload := make(map[string]string, len(putValues))
		for _, kv := range putValues {
			key, value, ok := strings.Cut(kv, "=")
			if !ok || key == "" {
				return fmt.Errorf("invalid --set %q (want key=value)", kv)
			}
			payload[key] = value
		}

		id := putID
		if id == "" {
			id = uuid.NewString()
		}

		rec := record.Record{
			ID:        id,
			Version:   1,
			UpdatedAt: time.Now(),
			Payload:   payload,
		}

		if putSpool {
			if cfg.SpoolDir == "" {
				return fmt.Errorf("spool_dir is not configured")
			}
			if err := record.WriteRecordFile(cfg.SpoolDir, &rec); err != nil {
				return err
			}
			fmt.Printf("Spooled record %s\n", rec.ID)
			return nil
		}

		if cfg.StorePath == "" {
			return fmt.Errorf("store_path is required (or use --spool with a running daemon)")
		}
		st, err := store.OpenSQLite(cfg.StorePath)
		if err != nil {
			return err
		}
		defer st.Close()

		existing, ok, err := st.Get(rec.ID)
		if err != nil {
			return err
		}
		if ok {
			rec.Version = existing.Version + 1
		}

		if err := st.Save(rec, true); err != nil {
			return err
		}
		fmt.Printf("Enqueued record %s (v%d)\n", rec.ID, rec.Version)
		return nil
	},
}

func init() {
	putCmd.Flags().StringVar(&putID, "id", "", "record id (default: generated UUID)")
	putCmd.Flags().StringArrayVar(&putValues, "set", nil, "payload entry as key=value (repeatable)")
	putCmd.Flags().BoolVar(&putSpool, "spool", false, "write to the spool directory instead of the store")
}
