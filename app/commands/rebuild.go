package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/amirphl/company-segments/app/metrics"
	businessflow "github.com/amirphl/company-segments/business_flow"
	"github.com/amirphl/company-segments/utils"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// RebuildCmd returns the rebuild command
func RebuildCmd(factory AppFactory) *cobra.Command {
	var (
		segmentID uint
		batchSize int
		maxItems  int
		exclude   string
		timing    bool
	)

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild segment membership",
		Long: `Rebuild membership of one segment or of every published segment.

Examples:
  segments rebuild                          # all published segments
  segments rebuild --segment-id 12          # one segment
  segments rebuild --max-items 1000         # at most 1000 changes per segment
  segments rebuild --exclude 3,7 --timing   # skip segments 3 and 7, print durations`,
		RunE: func(cmd *cobra.Command, args []string) error {
			excludeIDs, err := utils.ParseIDList(exclude)
			if err != nil {
				return newUsageError(fmt.Errorf("--exclude: %w", err))
			}

			opts := businessflow.RebuildOptions{
				SegmentID: segmentID,
				BatchSize: batchSize,
				Timing:    timing,
			}
			if cmd.Flags().Changed("max-items") {
				opts.MaxItems = &maxItems
			}
			for _, id := range excludeIDs {
				opts.ExcludeIDs = append(opts.ExcludeIDs, uint(id))
			}
			// Bad options are usage errors even when no store is reachable
			if err := businessflow.ValidateRebuildOptions(opts); err != nil {
				return err
			}

			app, err := factory(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			if !cmd.Flags().Changed("batch-size") {
				opts.BatchSize = app.Config.Rebuild.BatchSize
			}

			report, runErr := app.RebuildFlow().Rebuild(cmd.Context(), opts)
			if report != nil {
				printReport(cmd.OutOrStdout(), report, timing)
			}

			if err := metrics.Push(cmd.Context(), app.Config.Metrics.PushgatewayURL, app.Config.Metrics.PushJob); err != nil {
				app.Log.Warn().Err(err).Msg("Metrics push failed")
			}
			return runErr
		},
	}

	cmd.Flags().UintVar(&segmentID, "segment-id", 0, "Rebuild only this segment")
	cmd.Flags().IntVar(&batchSize, "batch-size", 300, "Companies written per batch")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "Stop each segment after this many changes")
	cmd.Flags().StringVar(&exclude, "exclude", "", "Comma separated segment ids to skip")
	cmd.Flags().BoolVar(&timing, "timing", false, "Print per segment and total durations")

	return cmd
}

var (
	okMark      = color.New(color.FgGreen).Sprint("✓")
	partialMark = color.New(color.FgYellow).Sprint("~")
	skipMark    = color.New(color.FgBlue).Sprint("-")
	failMark    = color.New(color.FgRed).Sprint("✗")
)

func printReport(w io.Writer, report *businessflow.RebuildReport, timing bool) {
	for _, o := range report.Outcomes {
		name := fmt.Sprintf("segment %d", o.SegmentID)
		if o.Alias != "" {
			name = fmt.Sprintf("segment %d (%s)", o.SegmentID, o.Alias)
		}

		var line string
		switch o.Status {
		case businessflow.OutcomeRebuilt:
			line = fmt.Sprintf("%s %s: +%d -%d", okMark, name, o.Added, o.Removed)
		case businessflow.OutcomePartial:
			line = fmt.Sprintf("%s %s: +%d -%d (limit reached)", partialMark, name, o.Added, o.Removed)
		case businessflow.OutcomeSkipped:
			line = fmt.Sprintf("%s %s: skipped", skipMark, name)
			if o.Err != nil {
				line += fmt.Sprintf(" (%v)", o.Err)
			}
		case businessflow.OutcomeInterrupted:
			line = fmt.Sprintf("%s %s: interrupted after +%d -%d", partialMark, name, o.Added, o.Removed)
		default:
			line = fmt.Sprintf("%s %s: %s", failMark, name, color.New(color.FgRed).Sprintf("[%s] %v", o.ErrorKind, o.Err))
		}
		if timing {
			line += fmt.Sprintf(" in %s", o.Duration.Round(time.Millisecond))
		}
		fmt.Fprintln(w, line)
	}

	if timing {
		fmt.Fprintf(w, "total: %d segments, %d changes, %d failed in %s\n",
			len(report.Outcomes), report.Changed(), report.Failed(), report.Total.Round(time.Millisecond))
	}
	if report.Interrupted {
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("run interrupted"))
	}
}
