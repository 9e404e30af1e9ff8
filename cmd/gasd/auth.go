package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gasops/gasd/internal/auth"
)

var (
	authStatusFlag bool
	authLogoutFlag bool
	authPrincipal  string
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Authorize against the Remote (PKCE browser flow)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := auth.NewStore(cfg.TokenDir())

		switch {
		case authStatusFlag:
			principals, err := store.Principals()
			if err != nil {
				return err
			}
			out := make(map[string]bool, len(principals))
			for _, p := range principals {
				tok, err := store.Load(p)
				out[p] = err == nil && tok.Valid()
			}
			return json.NewEncoder(os.Stdout).Encode(out)

		case authLogoutFlag:
			if err := store.Delete(authPrincipal); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "logged out")
			return nil

		default:
			acq := auth.NewAcquirer(cfg, store)
			_, principal, err := acq.Authorize(rootCtx)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "authorized as %s\n", principal)
			return nil
		}
	},
}

func init() {
	authCmd.Flags().BoolVar(&authStatusFlag, "status", false, "show cached credentials and validity")
	authCmd.Flags().BoolVar(&authLogoutFlag, "logout", false, "remove cached credentials")
	authCmd.Flags().StringVar(&authPrincipal, "principal", "", "principal to act on (default: all/default)")
}
