// gasd is the write/sync daemon mediating between an agent client and
// the Remote script-hosting API. It serves a framed JSON protocol on
// stdio; all state lives under the configured root directory.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gasops/gasd/internal/auth"
	"github.com/gasops/gasd/internal/config"
	"github.com/gasops/gasd/internal/debug"
	"github.com/gasops/gasd/internal/gas"
	"github.com/gasops/gasd/internal/gitops"
	"github.com/gasops/gasd/internal/lockfile"
	"github.com/gasops/gasd/internal/rpc"
	"github.com/gasops/gasd/internal/rsync"
	"github.com/gasops/gasd/internal/workspace"
	"github.com/gasops/gasd/internal/xattr"
)

// Version is stamped by the release build; "dev" otherwise.
var Version = "dev"

var (
	rootCtx    context.Context
	rootCancel context.CancelFunc

	verboseFlag bool
	quietFlag   bool
	rootDirFlag string
)

var rootCmd = &cobra.Command{
	Use:           "gasd",
	Short:         "Write/sync daemon for remote script projects",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verboseFlag {
			debug.SetVerbose(true)
		}
		if quietFlag {
			debug.SetQuiet(true)
		}
	},
}

func main() {
	rootCtx, rootCancel = context.WithCancel(context.Background())
	defer rootCancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		debug.Logf("signal received, shutting down")
		rootCancel()
	}()

	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "enable debug output on stderr")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&rootDirFlag, "root-dir", "", "override the state root directory")

	rootCmd.AddCommand(serveCmd, authCmd, statusCmd, initCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "gasd: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig honors --root-dir over file/env configuration.
func loadConfig() (*config.Config, error) {
	if rootDirFlag != "" {
		return config.NewForRoot(rootDirFlag), nil
	}
	return config.Load()
}

// daemon bundles the wired collaborators behind the protocol server.
type daemon struct {
	cfg    *config.Config
	locks  *lockfile.Manager
	store  *auth.Store
	server *rpc.Server
}

// buildDaemon wires every component the serve loop needs.
func buildDaemon(cfg *config.Config) *daemon {
	git := workspace.NewRunner()
	resolver := workspace.NewResolver(cfg, git)
	locks := lockfile.NewManager(cfg.LockDir())
	locks.SetStaleAfter(cfg.LockStaleAfter())
	cache := xattr.NewCache()

	store := auth.NewStore(cfg.TokenDir())
	refresher := auth.NewAcquirer(cfg, store)
	tokens := auth.NewCachedTokenSource(store, refresher, "default")
	remote := gas.NewHTTPClient(cfg.RemoteEndpoint(), tokens, cfg.RemoteTimeout())

	pipeline := gitops.NewManager(locks, resolver, git, cache, cfg.LockTimeout())
	engine := rsync.NewEngine(cfg, locks, git, resolver, cache)

	return &daemon{
		cfg:    cfg,
		locks:  locks,
		store:  store,
		server: rpc.NewServer(cfg, pipeline, engine, remote, store, Version),
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("gasd " + Version)
	},
}
