package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gasops/gasd/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.DefaultFilePath()
		if err != nil {
			return err
		}
		if err := config.WriteStarterFile(path); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
		return nil
	},
}
