package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the framed JSON protocol on stdio",
	Long: `Serve reads Content-Length framed JSON requests on stdin and writes
framed responses on stdout. Diagnostics go to stderr only; stdout is
reserved for protocol frames. The process exits on EOF, SIGINT/SIGTERM,
or a shutdown operation.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		d := buildDaemon(cfg)
		// Locks held by this process must never outlive it.
		defer d.locks.ReleaseAll()

		if removed, err := d.locks.CleanupStale(); err == nil && removed > 0 {
			debug.Logf("removed %d stale lock(s) on startup", removed)
		}

		debug.Logf("gasd %s serving on stdio (root %s)", Version, cfg.RootDir())
		return d.server.Serve(rootCtx, rpc.NewFramer(os.Stdin, os.Stdout))
	},
}
