package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/obseal/internal/client"
	"github.com/TheMichaelB/obseal/internal/journal"
	"github.com/TheMichaelB/obseal/internal/models"
	"github.com/TheMichaelB/obseal/internal/transport"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent jobs",
	Long: `History shows recorded jobs, newest first. Secrets and stage timings
are never recorded.`,
	Example: `  obseal history --limit 20 --status failed
  obseal history --prune 720h
  obseal history --server http://127.0.0.1:7788`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

var (
	historyLimit     int
	historyStatus    string
	historyDirection string
	historyPrune     time.Duration
	historyServer    string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20,
		"Maximum number of jobs to show")
	historyCmd.Flags().StringVar(&historyStatus, "status", "",
		"Only show jobs with this status: completed, failed, dismissed")
	historyCmd.Flags().StringVar(&historyDirection, "direction", "",
		"Only show seal or unseal jobs")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0,
		"Delete jobs that finished longer ago than this, then list")
	historyCmd.Flags().StringVar(&historyServer, "server", "",
		"Query a running daemon instead of the local journal")
}

func runHistory(cmd *cobra.Command, args []string) error {
	opts := journal.ListOptions{
		Limit:  historyLimit,
		Status: models.JobStatus(historyStatus),
	}
	if historyDirection != "" {
		d, err := models.ParseDirection(historyDirection)
		if err != nil {
			return err
		}
		opts.Direction = d
	}

	var (
		recs []*models.JobRecord
		err  error
	)

	if historyServer != "" {
		api := transport.NewAPIClient(historyServer, 10*time.Second, 2, logger)
		recs, err = api.List(cmd.Context(), opts)
	} else {
		var c *client.Client
		c, err = newClient(cmd.Context(), client.Options{})
		if err != nil {
			return err
		}
		defer c.Close()

		if historyPrune > 0 && c.Journal != nil {
			n, err := c.Journal.Prune(time.Now().Add(-historyPrune))
			if err != nil {
				return err
			}
			if !jsonOutput {
				printInfo("Pruned %s jobs", printer.Sprintf("%d", n))
			}
		}

		recs, err = c.History(opts)
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		if recs == nil {
			recs = []*models.JobRecord{}
		}
		printJSON(recs)
		return nil
	}

	if len(recs) == 0 {
		printInfo("No jobs recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FINISHED\tDIRECTION\tSTATUS\tSOURCE\tOUTPUT\tSIZE\tDURATION")
	for _, r := range recs {
		outcome := r.Output
		if r.Status == models.StatusFailed {
			outcome = string(r.ErrorKind)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.FinishedAt.Local().Format("2006-01-02 15:04:05"),
			r.Direction,
			statusLabel(r.Status),
			r.Source,
			outcome,
			printer.Sprintf("%d → %d", r.SizeBefore, r.SizeAfter),
			formatDuration(r.Duration()),
		)
	}
	return w.Flush()
}

func statusLabel(s models.JobStatus) string {
	switch s {
	case models.StatusCompleted:
		return successColor.Sprint(s)
	case models.StatusFailed:
		return errorColor.Sprint(s)
	default:
		return warnColor.Sprint(s)
	}
}
