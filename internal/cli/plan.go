package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/unklstewy/skycapture/internal/capture"
	"github.com/unklstewy/skycapture/pkg/coordinates"
)

func newValidateCmd(root *Root) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <sequence_file>...",
		Short: "Check sequence files without running them",
		Long: `Parse each sequence file and report whether every job is valid. A file with
one bad job is rejected as a whole, exactly as the daemon would reject it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				seq, err := capture.LoadSequenceFile(path)
				if err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", path, err)
					continue
				}
				frames := 0
				for _, job := range seq.Jobs {
					frames += job.Count
				}
				fmt.Fprintf(out, "OK   %s: %d jobs, %s frames\n", path, len(seq.Jobs), humanize.Comma(int64(frames)))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d sequence files invalid", failed, len(args))
			}
			return nil
		},
	}
}

func newEstimateCmd(root *Root) *cobra.Command {
	var twilight bool

	cmd := &cobra.Command{
		Use:   "estimate <sequence_file>",
		Short: "Estimate how long a sequence will take",
		Long: `Load a sequence file and print the remaining capture time per job and for the
whole queue. With --twilight the next dawn or dusk sky-flat window at the
configured observing site is printed as well.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			seq, err := loadPlan(cfg, args[0])
			if err != nil {
				return err
			}
			snap := seq.Snapshot()
			out := cmd.OutOrStdout()

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "JOB\tFRAMES\tEXPOSURE\tDONE\tREMAINING")
			for _, j := range snap.Jobs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d/%d\t%s\n",
					j.ID, jobLabel(j), exposureLabel(j), j.Completed, j.Count, clock(j.Remaining))
			}
			tw.Flush()

			completed, count := totalFrames(snap.Jobs)
			fmt.Fprintf(out, "\nTarget:    %s\n", snap.Target)
			fmt.Fprintf(out, "Frames:    %s of %s captured\n", humanize.Comma(int64(completed)), humanize.Comma(int64(count)))
			fmt.Fprintf(out, "Remaining: %s (%s)\n", clock(snap.RemainingSeconds), humanDuration(snap.RemainingSeconds))

			if twilight {
				observer := coordinates.NewObserver(cfg.Observer.Latitude, cfg.Observer.Longitude, cfg.Observer.Elevation)
				fmt.Fprintln(out, skyFlatWindow(observer, time.Now()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&twilight, "twilight", false, "also print the next sky-flat window")
	return cmd
}

// skyFlatWindow describes the next dawn or dusk flat window.
func skyFlatWindow(observer coordinates.Observer, now time.Time) string {
	start, end, ok := coordinates.NextSkyFlatWindow(observer, now)
	if !ok {
		return "Sky flats: sun never reaches flat altitude in the next day"
	}
	if !start.After(now) {
		return fmt.Sprintf("Sky flats: now, until %s", end.Local().Format("15:04"))
	}
	return fmt.Sprintf("Sky flats: %s to %s (%s)",
		start.Local().Format("15:04"), end.Local().Format("15:04"), humanize.RelTime(start, now, "ago", "from now"))
}
