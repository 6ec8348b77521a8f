package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexus-community/groups-cli/internal/config"
	"github.com/nexus-community/groups-cli/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "groups-cli",
	Short: "Group hierarchy maintenance and membership assignment",
	Long:  "Maintains the multi-root group hierarchy, auto-assigns users to hubs by proximity or location text, and recomputes the featured-group sets.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// tenantID is required by every data command; there is no implicit tenant.
var tenantID string

func init() {
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", "", "tenant identifier")
}

func requireTenant() error {
	if tenantID == "" {
		return eris.New("--tenant is required")
	}
	return nil
}

// openStore builds the configured GroupStore backend.
func openStore(ctx context.Context) (store.GroupStore, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
