package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/pipeline"
	"github.com/TheMichaelB/obseal/internal/transport"
)

var submitCmd = &cobra.Command{
	Use:   "submit <seal|unseal> <path>",
	Short: "Hand a job to a running daemon",
	Long: `Submit posts a job to "obseal serve". The path is resolved on the daemon's
host. With --follow the command waits for the job's terminal event.`,
	Example: `  obseal submit seal /srv/data/report.pdf --bit 7 --follow`,
	Args:    cobra.ExactArgs(2),
	RunE:    runSubmit,
}

var (
	submitServer string
	submitSecret string
	submitBit    uint8
	submitFollow bool
)

func init() {
	rootCmd.AddCommand(submitCmd)

	submitCmd.Flags().StringVar(&submitServer, "server", "",
		"Daemon URL (default http://<server.addr>)")
	submitCmd.Flags().StringVarP(&submitSecret, "secret", "s", "",
		"Secret (reads "+SecretEnv+" or prompts if not provided)")
	submitCmd.Flags().Uint8VarP(&submitBit, "bit", "b", 0,
		"Obfuscation byte (0-255)")
	submitCmd.Flags().BoolVarP(&submitFollow, "follow", "f", false,
		"Wait for the job to finish")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	direction, err := models.ParseDirection(args[0])
	if err != nil {
		return err
	}

	server := submitServer
	if server == "" {
		server = "http://" + cfg.Server.Addr
	}

	secret, err := readSecret(submitSecret, direction == models.DirectionSeal)
	if err != nil {
		return err
	}
	req := transport.SubmitRequest{
		Direction: string(direction),
		Path:      args[1],
		Secret:    string(secret),
		Bit:       int(submitBit),
	}
	clear(secret)

	// Subscribe before submitting so no event is missed.
	var follower *transport.EventClient
	if submitFollow {
		follower, err = transport.NewEventClient(server, "", logger)
		if err != nil {
			return err
		}
		if err := follower.Connect(ctx); err != nil {
			return err
		}
		defer follower.Close()
	}

	api := transport.NewAPIClient(server, 30*time.Second, 3, logger)
	id, err := api.Submit(ctx, req)
	if err != nil {
		return err
	}

	if !submitFollow {
		if jsonOutput {
			printJSON(transport.SubmitResponse{ID: id})
		} else {
			printSuccess("Submitted job %s", id)
		}
		return nil
	}

	progress := NewProgressDisplay()
	progress.Track(id, args[1])

	for {
		select {
		case ev, ok := <-follower.Events():
			if !ok {
				return fmt.Errorf("event feed closed before job %s finished", id)
			}
			if ev.JobID != id {
				continue
			}
			if !jsonOutput {
				progress.Emit(ev)
			}
			if ev.Type.IsTerminal() {
				return reportTerminal(ev)
			}
		case err := <-follower.Errors():
			if err != nil {
				return fmt.Errorf("event feed: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func reportTerminal(ev pipeline.Event) error {
	if jsonOutput {
		printJSON(ev)
	}

	if ev.Type == pipeline.EventError {
		if !jsonOutput {
			printError("✗ %s [%s %d]", ev.Message, ev.Kind, ev.Code)
		}
		return fmt.Errorf("job %s failed: %s", ev.JobID, ev.Message)
	}

	if !jsonOutput && ev.Result != nil {
		printSuccess("✓ %s → %s", ev.Result.Source, ev.Result.Path)
		printInfo("  %s → %s", formatBytes(ev.Result.Size.Before), formatBytes(ev.Result.Size.After))
	}
	return nil
}
