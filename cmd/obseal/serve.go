package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/TheMichaelB/obseal/internal/client"
	"github.com/TheMichaelB/obseal/internal/transport"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job daemon",
	Long: `Serve accepts jobs over HTTP and streams their events over a websocket.

  POST /jobs        {"direction":"seal","path":"...","secret":"...","bit":7}
  GET  /jobs        recent jobs (limit, status, direction)
  GET  /jobs/{id}   one job
  GET  /events      websocket event feed (?job=<id> to follow one job)`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "",
		"Listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	hub := transport.NewHub(cfg.Server.WriteTimeout, logger)
	defer hub.Close()

	c, err := newClient(ctx, client.Options{Sink: hub})
	if err != nil {
		return err
	}
	defer c.Close()

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	ln = netutil.LimitListener(ln, cfg.Server.MaxConns)

	api := transport.NewAPI(ctx, c, hub, c.Journal, cfg.Server.MaxBodyBytes, logger)
	srv := &http.Server{
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Shutdown did not complete")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"addr":      ln.Addr().String(),
		"max_conns": cfg.Server.MaxConns,
	}).Info("Serving")
	if !jsonOutput {
		printSuccess("Listening on http://%s", ln.Addr())
	}

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
