package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/obseal/internal/client"
	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/pipeline"
)

var sealCmd = &cobra.Command{
	Use:   "seal <file>...",
	Short: "Seal files into .enc artifacts",
	Long: `Seal digests, compresses, encrypts and obfuscates each file, then saves
<name>.enc to the output directory (or S3 bucket when configured).`,
	Example: `  obseal seal report.pdf --bit 7
  obseal seal *.csv --output ./sealed --confirm`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransform(cmd.Context(), models.DirectionSeal, args)
	},
}

var unsealCmd = &cobra.Command{
	Use:   "unseal <artifact>...",
	Short: "Restore sealed artifacts",
	Long: `Unseal reverses seal and verifies the embedded checksum. The restored
file gets its extension back when the content type can be recognised.`,
	Example: `  obseal unseal report.enc --bit 7`,
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runTransform(cmd.Context(), models.DirectionUnseal, args)
	},
}

const progressBuffer = 256

var (
	transformSecret   string
	transformBit      uint8
	transformOutput   string
	transformConflict string
	transformConfirm  bool
)

func init() {
	for _, cmd := range []*cobra.Command{sealCmd, unsealCmd} {
		rootCmd.AddCommand(cmd)

		cmd.Flags().StringVarP(&transformSecret, "secret", "s", "",
			"Secret (reads "+SecretEnv+" or prompts if not provided)")
		cmd.Flags().Uint8VarP(&transformBit, "bit", "b", 0,
			"Obfuscation byte (0-255), must match between seal and unseal")
		cmd.Flags().StringVarP(&transformOutput, "output", "o", "",
			"Output directory (overrides storage.output_dir)")
		cmd.Flags().StringVar(&transformConflict, "conflict", "",
			"What to do when the destination exists: overwrite, rename, error")
		cmd.Flags().BoolVar(&transformConfirm, "confirm", false,
			"Ask before saving each artifact")
	}
}

func runTransform(ctx context.Context, direction models.Direction, paths []string) error {
	if transformOutput != "" {
		cfg.Storage.OutputDir = transformOutput
	}
	if transformConflict != "" {
		cfg.Storage.Conflict = transformConflict
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	secret, err := readSecret(transformSecret, direction == models.DirectionSeal)
	if err != nil {
		return err
	}
	defer clear(secret)

	// Rendering runs off the pipeline goroutines; a slow terminal only costs
	// progress lines.
	progress := NewProgressDisplay()
	feed := pipeline.NewChannelSink(progressBuffer, logger)
	rendered := make(chan struct{})
	go func() {
		defer close(rendered)
		for ev := range feed.Events() {
			progress.Emit(ev)
		}
	}()
	stopFeed := func() {
		feed.Close()
		<-rendered
	}
	defer stopFeed()

	opts := client.Options{}
	if !jsonOutput {
		opts.Sink = feed
	}
	if transformConfirm {
		opts.Choose = confirmDestination()
	}

	c, err := newClient(ctx, opts)
	if err != nil {
		return err
	}
	defer c.Close()

	jobs := make([]*models.Job, 0, len(paths))
	for _, path := range paths {
		job := models.NewJob(direction, path, secret, transformBit)
		progress.Track(job.ID, path)
		jobs = append(jobs, job)
	}

	start := time.Now()
	var outcomes []pipeline.Outcome
	if len(jobs) == 1 {
		res, err := c.Run(ctx, jobs[0])
		outcomes = []pipeline.Outcome{{Job: jobs[0], Result: res, Err: err}}
	} else {
		outcomes, _ = c.RunBatch(ctx, jobs)
	}
	stopFeed()

	if jsonOutput {
		printJSON(outcomeReports(outcomes))
	} else {
		printOutcomes(outcomes, time.Since(start))
	}

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d jobs failed", failed, len(outcomes))
	}
	return nil
}

type outcomeReport struct {
	ID        string           `json:"id"`
	Direction models.Direction `json:"direction"`
	Source    string           `json:"source"`
	Success   bool             `json:"success"`
	Result    *pipeline.Result `json:"result,omitempty"`
	Error     *errorReport     `json:"error,omitempty"`
}

type errorReport struct {
	Kind    models.ErrorKind `json:"kind,omitempty"`
	Code    int              `json:"code,omitempty"`
	Message string           `json:"message"`
}

func outcomeReports(outcomes []pipeline.Outcome) []outcomeReport {
	reports := make([]outcomeReport, 0, len(outcomes))
	for _, o := range outcomes {
		r := outcomeReport{
			ID:        o.Job.ID,
			Direction: o.Job.Direction,
			Source:    o.Job.Path,
			Success:   o.Err == nil,
			Result:    o.Result,
		}
		if o.Err != nil {
			r.Error = newErrorReport(o.Err)
		}
		reports = append(reports, r)
	}
	return reports
}

func newErrorReport(err error) *errorReport {
	var pe *models.PipelineError
	if errors.As(err, &pe) {
		return &errorReport{Kind: pe.Kind, Code: pe.Kind.Code(), Message: pe.Message}
	}
	return &errorReport{Message: err.Error()}
}

func printOutcomes(outcomes []pipeline.Outcome, elapsed time.Duration) {
	for _, o := range outcomes {
		switch {
		case o.Err != nil:
			r := newErrorReport(o.Err)
			if r.Kind != "" {
				printError("✗ %s: %s [%s %d]", o.Job.Path, r.Message, r.Kind, r.Code)
			} else {
				printError("✗ %s: %s", o.Job.Path, r.Message)
			}
			if verbose {
				printError("  %v", o.Err)
			}

		case o.Result.Dismissed:
			printWarning("- %s: save dismissed", o.Job.Path)

		default:
			printSuccess("✓ %s → %s", o.Job.Path, o.Result.Path)
			printInfo("  %s → %s in %s",
				formatBytes(o.Result.Size.Before),
				formatBytes(o.Result.Size.After),
				formatDuration(o.Result.EndedAt.Sub(o.Result.StartedAt)))

			if verbose {
				for _, stage := range o.Result.Timings.Stages() {
					printInfo("    %-10s %s", stage, formatDuration(o.Result.Timings[stage].Duration()))
				}
			}
		}
	}

	if len(outcomes) > 1 {
		printInfo("%s jobs in %s", printer.Sprintf("%d", len(outcomes)), formatDuration(elapsed))
	}
}
