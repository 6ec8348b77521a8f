package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexus-community/groups-cli/internal/api"
	"github.com/nexus-community/groups-cli/internal/ranking"
	"github.com/nexus-community/groups-cli/internal/tree"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only query API",
	Long:  "Starts an HTTP server exposing hierarchy queries and featured sets at /v1/tenants/{tenant}/....",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "HTTP server port")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	port, _ := cmd.Flags().GetInt("port")
	if !cmd.Flags().Changed("port") && cfg.Server.Port > 0 {
		port = cfg.Server.Port
	}

	st, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	tr := tree.NewEngine(st)
	rk := ranking.NewEngine(st, tr, ranking.Config{
		HubLimit:        cfg.Ranking.HubLimit,
		HubMaxPerParent: cfg.Ranking.HubMaxPerParent,
		CommunityLimit:  cfg.Ranking.CommunityLimit,
	})
	server := api.NewServer(st, tr, rk)

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	zap.L().Info("starting query API", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down query API")
		_ = srv.Close()
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "query api")
	}
	return nil
}
