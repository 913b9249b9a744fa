// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trialmatch/internal/review"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the clinician review server",
	Long: `Serve exposes runs awaiting review over HTTP:

  GET  /reviews               list suspended runs
  GET  /reviews/{id}          show one run
  POST /reviews/{id}/decision approve, modify or reject

Requests need "Authorization: Bearer <token>" when a review secret is
configured; issue tokens with "trialmatch reviews token".`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from review.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	if addr == "" {
		addr = cfg.Review.Addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Review.JWTSecret == "" {
		logger.Warn("review server running without authentication")
	}
	srv := review.NewServer(a.orch.ReviewRuns(), cfg.Review.JWTSecret, logger.Named("review-server"))

	errc := make(chan error, 1)
	go func() { errc <- srv.Start(addr) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
