package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftlab/edgesync/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter edgesync.yaml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "edgesync.yaml"
		if configPath != "" {
			path = configPath
		}
		if err := config.WriteStarter(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}
