package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/gasops/gasd/internal/auth"
	"github.com/gasops/gasd/internal/lockfile"
	"github.com/gasops/gasd/internal/types"
)

var statusScriptID string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		locks := lockfile.NewManager(cfg.LockDir())
		store := auth.NewStore(cfg.TokenDir())

		principals, err := store.Principals()
		if err != nil {
			return err
		}
		authorized := false
		for _, p := range principals {
			tok, err := store.Load(p)
			if err == nil && tok.Valid() {
				authorized = true
				break
			}
		}

		out := map[string]interface{}{
			"version":    Version,
			"rootDir":    cfg.RootDir(),
			"endpoint":   cfg.RemoteEndpoint(),
			"authorized": authorized,
			"principals": principals,
		}
		if statusScriptID != "" {
			if err := types.ValidateScriptID(statusScriptID); err != nil {
				return err
			}
			out["lock"] = locks.StatusFor(statusScriptID)
			out["projectDir"] = cfg.ProjectDir(statusScriptID)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusScriptID, "script", "", "scope status to one script project")
}
