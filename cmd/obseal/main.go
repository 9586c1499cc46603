package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/obseal/internal/client"
	"github.com/TheMichaelB/obseal/internal/config"
	"github.com/TheMichaelB/obseal/internal/events"
)

var version = "dev"

var (
	cfg        *config.Config
	logger     *events.Logger
	configFile string
	jsonOutput bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "obseal",
	Short: "Seal and unseal files",
	Long: `obseal turns a file into a sealed artifact (digest, compress, encrypt,
obfuscate) and restores it again, verifying its integrity on the way back.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Config file (default searches ./obseal.yaml and ~/.config/obseal)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Write machine-readable JSON to stdout")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging and per-stage timings")
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.NewLoader(configFile).Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if verbose {
		cfg.Log.Level = "debug"
	}

	logger, err = events.NewLogger(&cfg.Log)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	events.SetDefault(logger)

	return nil
}

// newClient builds a client from the loaded config. Callers must Close it.
func newClient(ctx context.Context, opts client.Options) (*client.Client, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}
	return client.New(ctx, cfg, logger, opts)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
