package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrCodeEU/facegate/pkg/httpapi"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve access history and statistics over HTTP",
	Long: `Start the read-only HTTP API.

Endpoints:
  GET /healthz
  GET /v1/stats
  GET /v1/events?identity=&granted=&type=&since=&limit=
  GET /v1/people/{name}
  GET /v1/trainings?limit=`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("addr", "", "Address to listen on (defaults to api.addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	addr := mustGetString(cmd, "addr")
	if addr == "" {
		addr = cfg.API.Addr
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := newStatsService(cfg, st)
	if err != nil {
		return err
	}
	server := httpapi.NewServer(svc, addr)

	go func() {
		<-ctx.Done()
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}
	}()

	fmt.Printf("Serving facegate API on http://%s\n", addr)
	fmt.Println("Press Ctrl+C to stop")

	return server.Start()
}
